package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
)

// ChainConfigRepository handles CRUD for approval_chain_configs.
type ChainConfigRepository struct {
	db *database.DB
}

// NewChainConfigRepository creates a new ChainConfigRepository.
func NewChainConfigRepository(db *database.DB) *ChainConfigRepository {
	return &ChainConfigRepository{db: db}
}

const chainRungColumns = `
	id, approval_type, sequence_order, approver_role,
	department_id, min_threshold, max_threshold, active,
	created_at, updated_at`

// Create inserts a new chain rung.
func (r *ChainConfigRepository) Create(ctx context.Context, rung *ApprovalChainRung) error {
	query := `
		INSERT INTO approval_chain_configs
		    (approval_type, sequence_order, approver_role,
		     department_id, min_threshold, max_threshold, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		rung.ApprovalType,
		rung.SequenceOrder,
		rung.ApproverRole,
		rung.DepartmentID,
		rung.MinThreshold,
		rung.MaxThreshold,
		rung.Active,
	).Scan(&rung.ID, &rung.CreatedAt, &rung.UpdatedAt)
}

// GetByID retrieves a rung by primary key.
func (r *ChainConfigRepository) GetByID(ctx context.Context, id string) (*ApprovalChainRung, error) {
	query := `SELECT ` + chainRungColumns + ` FROM approval_chain_configs WHERE id = $1`

	rung, err := r.scanRung(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_chain_config", id)
	}
	return rung, err
}

// ListActiveByType returns the active rungs for an approval type ordered by
// sequence, department-scoped rungs before global ones at equal positions so
// the resolver can apply precedence with a single pass.
func (r *ChainConfigRepository) ListActiveByType(ctx context.Context, approvalType ApprovalType) ([]*ApprovalChainRung, error) {
	query := `
		SELECT ` + chainRungColumns + `
		FROM approval_chain_configs
		WHERE approval_type = $1 AND active = TRUE
		ORDER BY sequence_order ASC, department_id ASC NULLS LAST
	`

	rows, err := r.db.Query(ctx, query, approvalType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list chain configs")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// List returns all rungs for an approval type, optionally including inactive.
func (r *ChainConfigRepository) List(ctx context.Context, approvalType ApprovalType, activeOnly bool) ([]*ApprovalChainRung, error) {
	query := `SELECT ` + chainRungColumns + ` FROM approval_chain_configs WHERE approval_type = $1`
	if activeOnly {
		query += ` AND active = TRUE`
	}
	query += ` ORDER BY sequence_order ASC, department_id ASC NULLS LAST`

	rows, err := r.db.Query(ctx, query, approvalType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list chain configs")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// Update persists changes to an existing rung. In-flight requests are not
// affected: they act on their own chain snapshot.
func (r *ChainConfigRepository) Update(ctx context.Context, rung *ApprovalChainRung) error {
	query := `
		UPDATE approval_chain_configs
		SET sequence_order = $2,
		    approver_role  = $3,
		    department_id  = $4,
		    min_threshold  = $5,
		    max_threshold  = $6,
		    active         = $7,
		    updated_at     = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		rung.ID,
		rung.SequenceOrder,
		rung.ApproverRole,
		rung.DepartmentID,
		rung.MinThreshold,
		rung.MaxThreshold,
		rung.Active,
	).Scan(&rung.UpdatedAt)

	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_chain_config", rung.ID)
	}
	return err
}

// Deactivate flips a rung inactive. Rungs are never deleted once referenced.
func (r *ChainConfigRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE approval_chain_configs
		SET active = FALSE, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_chain_config", id)
	}
	return err
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type rungScanner interface {
	Scan(dest ...any) error
}

func (r *ChainConfigRepository) scanRung(row rungScanner) (*ApprovalChainRung, error) {
	rung := &ApprovalChainRung{}
	err := row.Scan(
		&rung.ID,
		&rung.ApprovalType,
		&rung.SequenceOrder,
		&rung.ApproverRole,
		&rung.DepartmentID,
		&rung.MinThreshold,
		&rung.MaxThreshold,
		&rung.Active,
		&rung.CreatedAt,
		&rung.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rung, nil
}

func (r *ChainConfigRepository) scanRows(rows pgx.Rows) ([]*ApprovalChainRung, error) {
	var rungs []*ApprovalChainRung
	for rows.Next() {
		rung, err := r.scanRung(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan chain config")
		}
		rungs = append(rungs, rung)
	}
	return rungs, nil
}
