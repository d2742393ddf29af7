package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
)

// ApprovalRequestRepository manages approval requests, their chain snapshot
// and their append-only decision history.
//
// Every decision method is a compare-and-swap on (id, current_level): the
// UPDATE carries `current_level = $expected AND status = 'pending_approval'`
// in its predicate, so of two concurrent decisions exactly one wins and the
// loser observes zero affected rows, surfaced as ErrCodeStaleApproval. The
// history append rides in the same transaction as the update.
type ApprovalRequestRepository struct {
	db *database.DB
}

// NewApprovalRequestRepository creates a new ApprovalRequestRepository.
func NewApprovalRequestRepository(db *database.DB) *ApprovalRequestRepository {
	return &ApprovalRequestRepository{db: db}
}

const requestColumns = `
	id, workflow_instance_id, entity_id, entity_type, approval_type, status,
	requestor_id, current_approver_id, current_level, total_levels,
	amount, days_count, priority, submitted_at, due_date, decided_at,
	approver_comments, created_at, updated_at`

// Create inserts the umbrella workflow instance, the request, its chain
// snapshot and the optional decision deadline in one transaction, so a failed
// submission leaves nothing behind. A live instance already holding the
// entity surfaces as ErrCodeDuplicateWorkflow with the surviving id.
func (r *ApprovalRequestRepository) Create(
	ctx context.Context,
	wf *WorkflowInstance,
	req *ApprovalRequest,
	levels []*ApprovalLevel,
	deadline *WorkflowDeadline,
) error {
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := insertInstanceTx(ctx, tx, wf); err != nil {
			return err
		}
		req.WorkflowInstanceID = wf.ID

		reqQuery := `
			INSERT INTO approval_requests
			    (workflow_instance_id, entity_id, entity_type, approval_type, status,
			     requestor_id, current_approver_id, current_level, total_levels,
			     amount, days_count, priority, submitted_at, due_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, reqQuery,
			req.WorkflowInstanceID,
			req.EntityID,
			req.EntityType,
			req.ApprovalType,
			req.Status,
			req.RequestorID,
			req.CurrentApproverID,
			req.CurrentLevel,
			req.TotalLevels,
			req.Amount,
			req.DaysCount,
			req.Priority,
			req.SubmittedAt,
			req.DueDate,
		).Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval request")
		}

		levelQuery := `
			INSERT INTO approval_request_levels
			    (request_id, level, approver_role, approver_id)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`

		for _, lvl := range levels {
			lvl.RequestID = req.ID
			err := tx.QueryRow(ctx, levelQuery,
				lvl.RequestID,
				lvl.Level,
				lvl.ApproverRole,
				lvl.ApproverID,
			).Scan(&lvl.ID, &lvl.CreatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval level")
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
	if err != nil {
		return duplicateWorkflowError(ctx, r.db, err, wf)
	}
	return nil
}

// GetByID retrieves a request by primary key.
func (r *ApprovalRequestRepository) GetByID(ctx context.Context, id string) (*ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = $1`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_request", id)
	}
	return req, err
}

// GetLevel returns the chain snapshot entry at one level of a request.
func (r *ApprovalRequestRepository) GetLevel(ctx context.Context, requestID string, level int) (*ApprovalLevel, error) {
	query := `
		SELECT id, request_id, level, approver_role, approver_id, created_at
		FROM approval_request_levels
		WHERE request_id = $1 AND level = $2
	`

	lvl := &ApprovalLevel{}
	err := r.db.QueryRow(ctx, query, requestID, level).Scan(
		&lvl.ID, &lvl.RequestID, &lvl.Level, &lvl.ApproverRole, &lvl.ApproverID, &lvl.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_level", requestID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval level")
	}
	return lvl, nil
}

// ApproveAndAdvance records an approval at the expected level and advances
// current_level by one, reassigning to nextApproverID.
func (r *ApprovalRequestRepository) ApproveAndAdvance(
	ctx context.Context,
	id string,
	level int,
	nextApproverID *string,
	entry *ApprovalHistoryEntry,
) error {
	query := `
		UPDATE approval_requests
		SET current_level       = current_level + 1,
		    current_approver_id = $3,
		    updated_at          = NOW()
		WHERE id = $1 AND current_level = $2 AND status = 'pending_approval'
		RETURNING id
	`
	return r.decide(ctx, id, level, query, []any{id, level, nextApproverID}, entry)
}

// ApproveFinal records the final approval and moves the request to approved.
func (r *ApprovalRequestRepository) ApproveFinal(
	ctx context.Context,
	id string,
	level int,
	comments *string,
	entry *ApprovalHistoryEntry,
) error {
	query := `
		UPDATE approval_requests
		SET status            = 'approved',
		    decided_at        = NOW(),
		    approver_comments = $3,
		    updated_at        = NOW()
		WHERE id = $1 AND current_level = $2 AND status = 'pending_approval'
		RETURNING id
	`
	return r.decide(ctx, id, level, query, []any{id, level, comments}, entry)
}

// Reject terminates the request as rejected regardless of remaining levels.
func (r *ApprovalRequestRepository) Reject(
	ctx context.Context,
	id string,
	level int,
	comments *string,
	entry *ApprovalHistoryEntry,
) error {
	query := `
		UPDATE approval_requests
		SET status            = 'rejected',
		    decided_at        = NOW(),
		    approver_comments = $3,
		    updated_at        = NOW()
		WHERE id = $1 AND current_level = $2 AND status = 'pending_approval'
		RETURNING id
	`
	return r.decide(ctx, id, level, query, []any{id, level, comments}, entry)
}

// Reassign keeps the current level but changes the assigned approver. Used
// for delegate, request_more_info and escalation; nil keeps the current
// assignee (a pure annotation).
func (r *ApprovalRequestRepository) Reassign(
	ctx context.Context,
	id string,
	level int,
	newApproverID *string,
	entry *ApprovalHistoryEntry,
) error {
	query := `
		UPDATE approval_requests
		SET current_approver_id = COALESCE($3, current_approver_id),
		    updated_at          = NOW()
		WHERE id = $1 AND current_level = $2 AND status = 'pending_approval'
		RETURNING id
	`
	return r.decide(ctx, id, level, query, []any{id, level, newApproverID}, entry)
}

// decide executes a conditional decision update plus its history append in
// one transaction, translating a zero-row update into not-found or stale.
func (r *ApprovalRequestRepository) decide(
	ctx context.Context,
	id string,
	level int,
	updateQuery string,
	args []any,
	entry *ApprovalHistoryEntry,
) error {
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var returnedID string
		if err := tx.QueryRow(ctx, updateQuery, args...).Scan(&returnedID); err != nil {
			if err == pgx.ErrNoRows {
				return errors.StaleApproval(id, level)
			}
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval request")
		}
		return r.appendHistoryTx(ctx, tx, entry)
	})
	if err == nil {
		return nil
	}

	// Distinguish a missing request from a lost race before surfacing stale.
	if errors.HasCode(err, errors.ErrCodeStaleApproval) {
		if _, lookupErr := r.GetByID(ctx, id); errors.HasCode(lookupErr, errors.ErrCodeNotFound) {
			return lookupErr
		}
	}
	return err
}

// Withdraw cancels a request from any non-terminal state. Withdrawing an
// already-terminal request is a no-op: the current request is returned with
// changed=false and no history is appended.
func (r *ApprovalRequestRepository) Withdraw(ctx context.Context, id string, entry *ApprovalHistoryEntry) (*ApprovalRequest, bool, error) {
	var changed bool
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE approval_requests
			SET status     = 'cancelled',
			    decided_at = NOW(),
			    updated_at = NOW()
			WHERE id = $1 AND status = 'pending_approval'
			RETURNING id
		`

		var returnedID string
		err := tx.QueryRow(ctx, query, id).Scan(&returnedID)
		if err == pgx.ErrNoRows {
			changed = false
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to withdraw approval request")
		}
		changed = true
		return r.appendHistoryTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, false, err
	}

	req, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return req, changed, nil
}

func (r *ApprovalRequestRepository) appendHistoryTx(ctx context.Context, tx pgx.Tx, entry *ApprovalHistoryEntry) error {
	query := `
		INSERT INTO approval_request_history
		    (request_id, level, approver_id, decision, comments)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, decided_at
	`

	err := tx.QueryRow(ctx, query,
		entry.RequestID,
		entry.Level,
		entry.ApproverID,
		entry.Decision,
		entry.Comments,
	).Scan(&entry.ID, &entry.DecidedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append approval history")
	}
	return nil
}

// GetHistory returns the decision history for a request, oldest first.
func (r *ApprovalRequestRepository) GetHistory(ctx context.Context, requestID string) ([]*ApprovalHistoryEntry, error) {
	query := `
		SELECT id, request_id, level, approver_id, decision, comments, decided_at
		FROM approval_request_history
		WHERE request_id = $1
		ORDER BY decided_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval history")
	}
	defer rows.Close()

	var entries []*ApprovalHistoryEntry
	for rows.Next() {
		e := &ApprovalHistoryEntry{}
		err := rows.Scan(&e.ID, &e.RequestID, &e.Level, &e.ApproverID, &e.Decision, &e.Comments, &e.DecidedAt)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan history entry")
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetPendingForApprover returns pending requests assigned to an approver.
// limit <= 0 returns the full unpaged set.
func (r *ApprovalRequestRepository) GetPendingForApprover(ctx context.Context, approverID string, limit, offset int) ([]*ApprovalRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE current_approver_id = $1 AND status = 'pending_approval'
		ORDER BY due_date ASC NULLS LAST, submitted_at ASC
	`

	args := []any{approverID}
	if limit > 0 {
		query += ` LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pending approvals")
	}
	defer rows.Close()

	return r.scanRequests(rows)
}

// CountPendingForApprover counts pending requests assigned to an approver.
func (r *ApprovalRequestRepository) CountPendingForApprover(ctx context.Context, approverID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM approval_requests
		WHERE current_approver_id = $1 AND status = 'pending_approval'
	`

	var count int
	if err := r.db.QueryRow(ctx, query, approverID).Scan(&count); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count pending approvals")
	}
	return count, nil
}

// GetByRequestor returns all requests submitted by a user, newest first.
func (r *ApprovalRequestRepository) GetByRequestor(ctx context.Context, requestorID string) ([]*ApprovalRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE requestor_id = $1
		ORDER BY submitted_at DESC
	`

	rows, err := r.db.Query(ctx, query, requestorID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approvals by requestor")
	}
	defer rows.Close()

	return r.scanRequests(rows)
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type requestScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRequestRepository) scanRequest(row requestScanner) (*ApprovalRequest, error) {
	req := &ApprovalRequest{}
	err := row.Scan(
		&req.ID,
		&req.WorkflowInstanceID,
		&req.EntityID,
		&req.EntityType,
		&req.ApprovalType,
		&req.Status,
		&req.RequestorID,
		&req.CurrentApproverID,
		&req.CurrentLevel,
		&req.TotalLevels,
		&req.Amount,
		&req.DaysCount,
		&req.Priority,
		&req.SubmittedAt,
		&req.DueDate,
		&req.DecidedAt,
		&req.ApproverComments,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (r *ApprovalRequestRepository) scanRequests(rows pgx.Rows) ([]*ApprovalRequest, error) {
	var requests []*ApprovalRequest
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval request")
		}
		requests = append(requests, req)
	}
	return requests, nil
}
