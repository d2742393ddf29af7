package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
)

// DeadlineRepository manages workflow deadlines for the monitor sweeps.
type DeadlineRepository struct {
	db *database.DB
}

// NewDeadlineRepository creates a new DeadlineRepository.
func NewDeadlineRepository(db *database.DB) *DeadlineRepository {
	return &DeadlineRepository{db: db}
}

const deadlineColumns = `
	id, workflow_instance_id, deadline_at, warning_at, assignee_id,
	deadline_type, completed, warning_sent, created_at, updated_at`

// insertDeadlineTx inserts a deadline inside an open transaction. Deadlines
// are only ever created together with the workflow they govern, so there is
// no standalone create.
func insertDeadlineTx(ctx context.Context, tx pgx.Tx, d *WorkflowDeadline) error {
	query := `
		INSERT INTO workflow_deadlines
		    (workflow_instance_id, deadline_at, warning_at, assignee_id, deadline_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		d.WorkflowInstanceID,
		d.DeadlineAt,
		d.WarningAt,
		d.AssigneeID,
		d.DeadlineType,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create workflow deadline")
	}
	return nil
}

// ListOverdue returns incomplete deadlines whose deadline_at has passed.
func (r *DeadlineRepository) ListOverdue(ctx context.Context, now time.Time) ([]*WorkflowDeadline, error) {
	query := `
		SELECT ` + deadlineColumns + `
		FROM workflow_deadlines
		WHERE deadline_at < $1 AND completed = FALSE
		ORDER BY deadline_at ASC
	`

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list overdue deadlines")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ClaimApproachingWarnings atomically selects incomplete deadlines whose
// warning point has passed with no warning sent yet, and marks them sent.
// The conditional update guarantees each warning is reported exactly once
// across repeated sweeps.
func (r *DeadlineRepository) ClaimApproachingWarnings(ctx context.Context, now time.Time) ([]*WorkflowDeadline, error) {
	query := `
		UPDATE workflow_deadlines
		SET warning_sent = TRUE,
		    updated_at   = NOW()
		WHERE warning_at < $1
		  AND completed = FALSE
		  AND warning_sent = FALSE
		RETURNING ` + deadlineColumns

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to claim deadline warnings")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// CompleteForInstance marks all open deadlines of an instance as completed.
// Called when the governed workflow step finishes.
func (r *DeadlineRepository) CompleteForInstance(ctx context.Context, instanceID string) error {
	query := `
		UPDATE workflow_deadlines
		SET completed  = TRUE,
		    updated_at = NOW()
		WHERE workflow_instance_id = $1 AND completed = FALSE
	`

	if _, err := r.db.Exec(ctx, query, instanceID); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to complete deadlines")
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func (r *DeadlineRepository) scanRows(rows pgx.Rows) ([]*WorkflowDeadline, error) {
	var deadlines []*WorkflowDeadline
	for rows.Next() {
		d := &WorkflowDeadline{}
		err := rows.Scan(
			&d.ID,
			&d.WorkflowInstanceID,
			&d.DeadlineAt,
			&d.WarningAt,
			&d.AssigneeID,
			&d.DeadlineType,
			&d.Completed,
			&d.WarningSent,
			&d.CreatedAt,
			&d.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow deadline")
		}
		deadlines = append(deadlines, d)
	}
	return deadlines, nil
}
