package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
)

// WorkflowInstanceRepository manages workflow instances and their append-only
// transition log. Every state mutation and its audit record are written in
// one transaction.
//
// Instances are never created on their own: the aggregate repositories
// (approval request, employee process, review cycle) insert the umbrella
// instance together with their domain rows via insertInstanceTx, so a failed
// creation leaves no orphan instance behind.
//
// The schema enforces the single-active-workflow invariant with a partial
// unique index:
//
//	CREATE UNIQUE INDEX workflow_instances_active_uniq
//	ON workflow_instances (entity_id, workflow_type)
//	WHERE status NOT IN ('rejected', 'completed', 'cancelled', 'failed');
type WorkflowInstanceRepository struct {
	db *database.DB
}

// NewWorkflowInstanceRepository creates a new WorkflowInstanceRepository.
func NewWorkflowInstanceRepository(db *database.DB) *WorkflowInstanceRepository {
	return &WorkflowInstanceRepository{db: db}
}

const instanceColumns = `
	id, workflow_type, entity_id, entity_type, status, current_state,
	current_assignee, initiator, started_at, completed_at, due_date,
	created_at, updated_at`

const pgUniqueViolation = "23505"

// insertInstanceTx inserts a workflow instance inside an open transaction.
// The unique-index conflict is left unmapped here: the transaction is aborted
// by then, so callers translate it with duplicateWorkflowError after rollback.
func insertInstanceTx(ctx context.Context, tx pgx.Tx, wf *WorkflowInstance) error {
	query := `
		INSERT INTO workflow_instances
		    (workflow_type, entity_id, entity_type, status, current_state,
		     current_assignee, initiator, started_at, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		wf.WorkflowType,
		wf.EntityID,
		wf.EntityType,
		wf.Status,
		wf.CurrentState,
		wf.CurrentAssignee,
		wf.Initiator,
		wf.StartedAt,
		wf.DueDate,
	).Scan(&wf.ID, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create workflow instance")
	}
	return nil
}

// duplicateWorkflowError translates a workflow_instances unique violation into
// ErrCodeDuplicateWorkflow carrying the surviving instance id. The lookup runs
// on a fresh connection because the failed transaction already rolled back.
// Any other error passes through unchanged.
func duplicateWorkflowError(ctx context.Context, db *database.DB, err error, wf *WorkflowInstance) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation || pgErr.TableName != "workflow_instances" {
		return err
	}
	existingID := ""
	if existing, lookupErr := activeInstanceByEntity(ctx, db, wf.EntityID, wf.WorkflowType); lookupErr == nil && existing != nil {
		existingID = existing.ID
	}
	return errors.DuplicateActiveWorkflow(wf.EntityID, string(wf.WorkflowType), existingID)
}

// GetByID retrieves a workflow instance by primary key.
func (r *WorkflowInstanceRepository) GetByID(ctx context.Context, id string) (*WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = $1`

	wf, err := scanInstance(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("workflow_instance", id)
	}
	return wf, err
}

// GetActiveByEntity returns the non-terminal instance for an entity and
// workflow type, or nil when none exists.
func (r *WorkflowInstanceRepository) GetActiveByEntity(ctx context.Context, entityID string, wfType WorkflowType) (*WorkflowInstance, error) {
	return activeInstanceByEntity(ctx, r.db, entityID, wfType)
}

func activeInstanceByEntity(ctx context.Context, db *database.DB, entityID string, wfType WorkflowType) (*WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE entity_id = $1
		  AND workflow_type = $2
		  AND status NOT IN ('rejected', 'completed', 'cancelled', 'failed')
	`

	wf, err := scanInstance(db.QueryRow(ctx, query, entityID, wfType))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return wf, err
}

// ListActive returns all non-terminal instances, oldest first.
func (r *WorkflowInstanceRepository) ListActive(ctx context.Context) ([]*WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE status NOT IN ('rejected', 'completed', 'cancelled', 'failed')
		ORDER BY started_at ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list active workflow instances")
	}
	defer rows.Close()

	return scanInstances(rows)
}

// Transition moves an instance from one status to another and appends the
// audit record, atomically. The UPDATE is conditional on the expected current
// status; when another caller already moved the instance the update affects
// no rows and the whole transaction is abandoned with ErrCodeInvalidTransition.
func (r *WorkflowInstanceRepository) Transition(
	ctx context.Context,
	id string,
	from, to WorkflowStatus,
	currentState string,
	assignee *string,
	transitionedBy string,
	reason *string,
) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var completedAt *time.Time
		if to.Terminal() || to == WorkflowStatusApproved {
			now := time.Now()
			completedAt = &now
		}

		updateQuery := `
			UPDATE workflow_instances
			SET status           = $3,
			    current_state    = $4,
			    current_assignee = $5,
			    completed_at     = COALESCE($6, completed_at),
			    updated_at       = NOW()
			WHERE id = $1 AND status = $2
			RETURNING id
		`

		var returnedID string
		err := tx.QueryRow(ctx, updateQuery, id, from, to, currentState, assignee, completedAt).Scan(&returnedID)
		if err == pgx.ErrNoRows {
			return errors.InvalidTransition(id, string(from), string(to))
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to transition workflow instance")
		}

		insertQuery := `
			INSERT INTO workflow_state_transitions
			    (workflow_instance_id, from_state, to_state, reason, transitioned_by)
			VALUES ($1, $2, $3, $4, $5)
		`

		if _, err := tx.Exec(ctx, insertQuery, id, from, to, reason, transitionedBy); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to append state transition")
		}
		return nil
	})
}

// UpdateAssignment moves the sub-state label and assignee of a live
// approval-backed instance without a status transition (level advances are
// audited in the approval request history, not the transition log).
func (r *WorkflowInstanceRepository) UpdateAssignment(ctx context.Context, id, currentState string, assignee *string) error {
	query := `
		UPDATE workflow_instances
		SET current_state    = $2,
		    current_assignee = $3,
		    updated_at       = NOW()
		WHERE id = $1
		  AND status IN ('pending_approval', 'escalated', 'in_progress')
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, currentState, assignee).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("workflow_instance", id)
	}
	return err
}

// GetTransitions returns the full transition history for an instance,
// oldest first. Ordering by transitioned_at reconstructs the lifecycle.
func (r *WorkflowInstanceRepository) GetTransitions(ctx context.Context, instanceID string) ([]*WorkflowStateTransition, error) {
	query := `
		SELECT id, workflow_instance_id, from_state, to_state, reason,
		       transitioned_by, transitioned_at
		FROM workflow_state_transitions
		WHERE workflow_instance_id = $1
		ORDER BY transitioned_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, instanceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get state transitions")
	}
	defer rows.Close()

	var transitions []*WorkflowStateTransition
	for rows.Next() {
		t := &WorkflowStateTransition{}
		err := rows.Scan(
			&t.ID,
			&t.WorkflowInstanceID,
			&t.FromState,
			&t.ToState,
			&t.Reason,
			&t.TransitionedBy,
			&t.TransitionedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan state transition")
		}
		transitions = append(transitions, t)
	}
	return transitions, nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type instanceScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row instanceScanner) (*WorkflowInstance, error) {
	wf := &WorkflowInstance{}
	err := row.Scan(
		&wf.ID,
		&wf.WorkflowType,
		&wf.EntityID,
		&wf.EntityType,
		&wf.Status,
		&wf.CurrentState,
		&wf.CurrentAssignee,
		&wf.Initiator,
		&wf.StartedAt,
		&wf.CompletedAt,
		&wf.DueDate,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func scanInstances(rows pgx.Rows) ([]*WorkflowInstance, error) {
	var instances []*WorkflowInstance
	for rows.Next() {
		wf, err := scanInstance(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow instance")
		}
		instances = append(instances, wf)
	}
	return instances, nil
}
