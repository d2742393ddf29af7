package repository

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
)

func TestExclusionViolationDetectedThroughWraps(t *testing.T) {
	cause := &pgconn.PgError{Code: pgExclusionViolation, ConstraintName: "review_cycles_active_no_overlap"}
	wrapped := errors.Wrap(cause, errors.ErrCodeInternal, "failed to create review cycle")

	assert.True(t, isExclusionViolation(wrapped))
	assert.True(t, isExclusionViolation(cause))
	assert.False(t, isExclusionViolation(errors.New(errors.ErrCodeInternal, "connection reset")))
	assert.False(t, isExclusionViolation(nil))
}

func TestDuplicateWorkflowErrorOnlyMapsInstanceConflicts(t *testing.T) {
	wf := &WorkflowInstance{EntityID: "emp-1", WorkflowType: WorkflowTypeOnboarding}

	// Unique violations on other tables pass through untouched, as do
	// ordinary errors.
	otherTable := errors.Wrap(
		&pgconn.PgError{Code: pgUniqueViolation, TableName: "employee_processes"},
		errors.ErrCodeInternal, "failed to create employee process",
	)
	assert.Equal(t, error(otherTable), duplicateWorkflowError(context.Background(), nil, otherTable, wf))

	plain := errors.New(errors.ErrCodeInternal, "connection reset")
	assert.Equal(t, error(plain), duplicateWorkflowError(context.Background(), nil, plain, wf))
}
