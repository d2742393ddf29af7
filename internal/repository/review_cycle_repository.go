package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
)

// ReviewCycleRepository manages review cycles and their participants.
type ReviewCycleRepository struct {
	db *database.DB
}

// NewReviewCycleRepository creates a new ReviewCycleRepository.
func NewReviewCycleRepository(db *database.DB) *ReviewCycleRepository {
	return &ReviewCycleRepository{db: db}
}

const cycleColumns = `
	id, name, review_period_start, review_period_end, start_date, end_date,
	phase, self_assessment_deadline, manager_review_deadline,
	calibration_deadline, feedback_deadline, department_ids, active,
	created_at, updated_at`

const pgExclusionViolation = "23P01"

// Create inserts the cycle, its roster, the umbrella workflow instance and
// the cycle-end deadline in one transaction. The no-overlap invariant is
// enforced by the schema, not the read:
//
//	ALTER TABLE review_cycles ADD CONSTRAINT review_cycles_active_no_overlap
//	EXCLUDE USING gist (daterange(start_date, end_date, '[]') WITH &&)
//	WHERE (active);
//
// so two concurrent overlapping creations cannot both commit. The SELECT
// below only serves the common path, naming the conflicting cycle without
// tripping the constraint; a racing insert is caught by the 23P01 mapping.
func (r *ReviewCycleRepository) Create(
	ctx context.Context,
	wf *WorkflowInstance,
	cycle *ReviewCycle,
	participants []*ReviewParticipant,
	deadline *WorkflowDeadline,
) error {
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		overlapQuery := `
			SELECT id
			FROM review_cycles
			WHERE active = TRUE
			  AND start_date <= $2
			  AND end_date >= $1
			LIMIT 1
		`

		var conflictingID string
		err := tx.QueryRow(ctx, overlapQuery, cycle.StartDate, cycle.EndDate).Scan(&conflictingID)
		if err == nil {
			return errors.OverlappingCycle(conflictingID)
		}
		if err != pgx.ErrNoRows {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to check cycle overlap")
		}

		insertQuery := `
			INSERT INTO review_cycles
			    (name, review_period_start, review_period_end, start_date, end_date,
			     phase, self_assessment_deadline, manager_review_deadline,
			     calibration_deadline, feedback_deadline, department_ids, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE)
			RETURNING id, created_at, updated_at
		`

		err = tx.QueryRow(ctx, insertQuery,
			cycle.Name,
			cycle.ReviewPeriodStart,
			cycle.ReviewPeriodEnd,
			cycle.StartDate,
			cycle.EndDate,
			cycle.Phase,
			cycle.SelfAssessmentDeadline,
			cycle.ManagerReviewDeadline,
			cycle.CalibrationDeadline,
			cycle.FeedbackDeadline,
			cycle.DepartmentIDs,
		).Scan(&cycle.ID, &cycle.CreatedAt, &cycle.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create review cycle")
		}
		cycle.Active = true

		// The umbrella instance is keyed by the cycle id, known only now.
		wf.EntityID = cycle.ID
		if err := insertInstanceTx(ctx, tx, wf); err != nil {
			return err
		}

		participantQuery := `
			INSERT INTO review_cycle_participants (cycle_id, employee_id, manager_id)
			VALUES ($1, $2, $3)
			RETURNING id, created_at, updated_at
		`

		for _, p := range participants {
			p.CycleID = cycle.ID
			err := tx.QueryRow(ctx, participantQuery, p.CycleID, p.EmployeeID, p.ManagerID).
				Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create cycle participant")
			}
		}

		if deadline != nil {
			deadline.WorkflowInstanceID = wf.ID
			if err := insertDeadlineTx(ctx, tx, deadline); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}

	if isExclusionViolation(err) {
		return r.overlapConflict(ctx, cycle)
	}
	return duplicateWorkflowError(ctx, r.db, err, wf)
}

// isExclusionViolation reports whether err carries the exclusion-constraint
// SQLSTATE, however deeply wrapped.
func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation
}

// overlapConflict re-reads the conflicting active cycle after the exclusion
// constraint fired, so the error still names it. The id is best-effort: the
// winning transaction may not be visible yet.
func (r *ReviewCycleRepository) overlapConflict(ctx context.Context, cycle *ReviewCycle) error {
	query := `
		SELECT id
		FROM review_cycles
		WHERE active = TRUE
		  AND start_date <= $2
		  AND end_date >= $1
		LIMIT 1
	`

	var conflictingID string
	if err := r.db.QueryRow(ctx, query, cycle.StartDate, cycle.EndDate).Scan(&conflictingID); err != nil {
		return errors.OverlappingCycle("")
	}
	return errors.OverlappingCycle(conflictingID)
}

// GetByID retrieves a cycle by primary key.
func (r *ReviewCycleRepository) GetByID(ctx context.Context, id string) (*ReviewCycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM review_cycles WHERE id = $1`

	cycle, err := r.scanCycle(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("review_cycle", id)
	}
	return cycle, err
}

// ListActive returns all active cycles ordered by start date.
func (r *ReviewCycleRepository) ListActive(ctx context.Context) ([]*ReviewCycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM review_cycles WHERE active = TRUE ORDER BY start_date ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list active cycles")
	}
	defer rows.Close()

	return r.scanCycles(rows)
}

// ListByPhase returns active cycles currently in the given phase.
func (r *ReviewCycleRepository) ListByPhase(ctx context.Context, phase ReviewPhase) ([]*ReviewCycle, error) {
	query := `
		SELECT ` + cycleColumns + `
		FROM review_cycles
		WHERE active = TRUE AND phase = $1
		ORDER BY start_date ASC
	`

	rows, err := r.db.Query(ctx, query, phase)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list cycles by phase")
	}
	defer rows.Close()

	return r.scanCycles(rows)
}

// AdvancePhase moves a cycle from one phase to the next. The conditional
// predicate makes concurrent phase starts race-safe: only one wins.
func (r *ReviewCycleRepository) AdvancePhase(ctx context.Context, id string, from, to ReviewPhase) error {
	query := `
		UPDATE review_cycles
		SET phase      = $3,
		    updated_at = NOW()
		WHERE id = $1 AND phase = $2
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, from, to).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.InvalidTransition(id, string(from), string(to))
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to advance cycle phase")
	}
	return nil
}

// OverridePhase sets the phase unconditionally. Administrative path only;
// the service layer audits its use.
func (r *ReviewCycleRepository) OverridePhase(ctx context.Context, id string, to ReviewPhase) error {
	query := `
		UPDATE review_cycles
		SET phase      = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, to).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("review_cycle", id)
	}
	return err
}

// Deactivate closes a cycle (archived cycles stop participating in overlap
// checks).
func (r *ReviewCycleRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE review_cycles
		SET active     = FALSE,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("review_cycle", id)
	}
	return err
}

// ── participants ─────────────────────────────────────────────────────────────

const participantColumns = `
	id, cycle_id, employee_id, manager_id, self_assessment_at,
	manager_review_at, feedback_delivered_at, created_at, updated_at`

// GetParticipant returns one employee's record in a cycle.
func (r *ReviewCycleRepository) GetParticipant(ctx context.Context, cycleID, employeeID string) (*ReviewParticipant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM review_cycle_participants
		WHERE cycle_id = $1 AND employee_id = $2
	`

	p, err := r.scanParticipant(r.db.QueryRow(ctx, query, cycleID, employeeID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("cycle_participant", employeeID)
	}
	return p, err
}

// ListParticipants returns all participant records for a cycle.
func (r *ReviewCycleRepository) ListParticipants(ctx context.Context, cycleID string) ([]*ReviewParticipant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM review_cycle_participants
		WHERE cycle_id = $1
		ORDER BY employee_id ASC
	`

	rows, err := r.db.Query(ctx, query, cycleID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list cycle participants")
	}
	defer rows.Close()

	var participants []*ReviewParticipant
	for rows.Next() {
		p, err := r.scanParticipant(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan cycle participant")
		}
		participants = append(participants, p)
	}
	return participants, nil
}

// MarkSelfAssessment stamps the participant's self-assessment submission.
// Idempotent: a second submission keeps the original timestamp.
func (r *ReviewCycleRepository) MarkSelfAssessment(ctx context.Context, cycleID, employeeID string) error {
	return r.markParticipant(ctx, cycleID, employeeID, "self_assessment_at")
}

// MarkManagerReview stamps the participant's manager-review submission.
func (r *ReviewCycleRepository) MarkManagerReview(ctx context.Context, cycleID, employeeID string) error {
	return r.markParticipant(ctx, cycleID, employeeID, "manager_review_at")
}

// MarkFeedbackDelivered stamps the participant's feedback meeting.
func (r *ReviewCycleRepository) MarkFeedbackDelivered(ctx context.Context, cycleID, employeeID string) error {
	return r.markParticipant(ctx, cycleID, employeeID, "feedback_delivered_at")
}

func (r *ReviewCycleRepository) markParticipant(ctx context.Context, cycleID, employeeID, column string) error {
	// column is one of three fixed names above, never caller input.
	query := `
		UPDATE review_cycle_participants
		SET ` + column + ` = COALESCE(` + column + `, NOW()),
		    updated_at = NOW()
		WHERE cycle_id = $1 AND employee_id = $2
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, cycleID, employeeID).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("cycle_participant", employeeID)
	}
	return err
}

// GetProgress computes the derived progress aggregate for a cycle.
func (r *ReviewCycleRepository) GetProgress(ctx context.Context, cycleID string) (*CycleProgress, error) {
	query := `
		SELECT c.phase,
		       COUNT(p.id),
		       COUNT(p.self_assessment_at),
		       COUNT(p.manager_review_at),
		       COUNT(p.feedback_delivered_at)
		FROM review_cycles c
		LEFT JOIN review_cycle_participants p ON p.cycle_id = c.id
		WHERE c.id = $1
		GROUP BY c.phase
	`

	progress := &CycleProgress{CycleID: cycleID}
	err := r.db.QueryRow(ctx, query, cycleID).Scan(
		&progress.Phase,
		&progress.TotalEmployees,
		&progress.CompletedSelfAssessments,
		&progress.CompletedManagerReviews,
		&progress.DeliveredFeedbacks,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("review_cycle", cycleID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to compute cycle progress")
	}
	return progress, nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type cycleScanner interface {
	Scan(dest ...any) error
}

func (r *ReviewCycleRepository) scanCycle(row cycleScanner) (*ReviewCycle, error) {
	cycle := &ReviewCycle{}
	err := row.Scan(
		&cycle.ID,
		&cycle.Name,
		&cycle.ReviewPeriodStart,
		&cycle.ReviewPeriodEnd,
		&cycle.StartDate,
		&cycle.EndDate,
		&cycle.Phase,
		&cycle.SelfAssessmentDeadline,
		&cycle.ManagerReviewDeadline,
		&cycle.CalibrationDeadline,
		&cycle.FeedbackDeadline,
		&cycle.DepartmentIDs,
		&cycle.Active,
		&cycle.CreatedAt,
		&cycle.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return cycle, nil
}

func (r *ReviewCycleRepository) scanCycles(rows pgx.Rows) ([]*ReviewCycle, error) {
	var cycles []*ReviewCycle
	for rows.Next() {
		cycle, err := r.scanCycle(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan review cycle")
		}
		cycles = append(cycles, cycle)
	}
	return cycles, nil
}

func (r *ReviewCycleRepository) scanParticipant(row cycleScanner) (*ReviewParticipant, error) {
	p := &ReviewParticipant{}
	err := row.Scan(
		&p.ID,
		&p.CycleID,
		&p.EmployeeID,
		&p.ManagerID,
		&p.SelfAssessmentAt,
		&p.ManagerReviewAt,
		&p.FeedbackDeliveredAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
