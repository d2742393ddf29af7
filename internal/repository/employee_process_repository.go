package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
)

// EmployeeProcessRepository manages onboarding/offboarding processes and
// their task checklists. A partial unique index on (employee_id,
// process_type) over non-terminal statuses enforces the single-active-process
// invariant.
type EmployeeProcessRepository struct {
	db *database.DB
}

// NewEmployeeProcessRepository creates a new EmployeeProcessRepository.
func NewEmployeeProcessRepository(db *database.DB) *EmployeeProcessRepository {
	return &EmployeeProcessRepository{db: db}
}

const processColumns = `
	id, employee_id, process_type, status, start_date, target_end_date,
	completed_at, created_at, updated_at`

const taskColumns = `
	id, process_id, sequence_order, title, due_date, completed,
	completion_date, assigned_to, completion_notes, created_at, updated_at`

// Create inserts the umbrella workflow instance, the process, its task
// checklist and the optional target deadline in one transaction, so a failed
// start leaves nothing behind. A live instance already holding the employee
// surfaces as ErrCodeDuplicateWorkflow; the process-level unique index is the
// backstop, mapped to ErrCodeConflict.
func (r *EmployeeProcessRepository) Create(
	ctx context.Context,
	wf *WorkflowInstance,
	proc *EmployeeProcess,
	tasks []*EmployeeProcessTask,
	deadline *WorkflowDeadline,
) error {
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := insertInstanceTx(ctx, tx, wf); err != nil {
			return err
		}

		procQuery := `
			INSERT INTO employee_processes
			    (employee_id, process_type, status, start_date, target_end_date)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, procQuery,
			proc.EmployeeID,
			proc.ProcessType,
			proc.Status,
			proc.StartDate,
			proc.TargetEndDate,
		).Scan(&proc.ID, &proc.CreatedAt, &proc.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create employee process")
		}

		taskQuery := `
			INSERT INTO employee_process_tasks
			    (process_id, sequence_order, title, due_date, assigned_to, completed)
			VALUES ($1, $2, $3, $4, $5, FALSE)
			RETURNING id, created_at, updated_at
		`

		for _, task := range tasks {
			task.ProcessID = proc.ID
			err := tx.QueryRow(ctx, taskQuery,
				task.ProcessID,
				task.SequenceOrder,
				task.Title,
				task.DueDate,
				task.AssignedTo,
			).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create process task")
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

	err = duplicateWorkflowError(ctx, r.db, err, wf)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return errors.Newf(errors.ErrCodeConflict,
			"an active %s process already exists for employee %s", proc.ProcessType, proc.EmployeeID)
	}
	return err
}

// GetByID retrieves a process by primary key.
func (r *EmployeeProcessRepository) GetByID(ctx context.Context, id string) (*EmployeeProcess, error) {
	query := `SELECT ` + processColumns + ` FROM employee_processes WHERE id = $1`

	proc, err := r.scanProcess(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("employee_process", id)
	}
	return proc, err
}

// GetActiveByEmployee returns the active process of a type for an employee,
// or nil when none exists.
func (r *EmployeeProcessRepository) GetActiveByEmployee(ctx context.Context, employeeID string, processType ProcessType) (*EmployeeProcess, error) {
	query := `
		SELECT ` + processColumns + `
		FROM employee_processes
		WHERE employee_id = $1
		  AND process_type = $2
		  AND status IN ('planned', 'in_progress', 'delayed')
	`

	proc, err := r.scanProcess(r.db.QueryRow(ctx, query, employeeID, processType))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return proc, err
}

// ListActive returns all non-terminal processes, oldest target date first.
func (r *EmployeeProcessRepository) ListActive(ctx context.Context) ([]*EmployeeProcess, error) {
	query := `
		SELECT ` + processColumns + `
		FROM employee_processes
		WHERE status IN ('planned', 'in_progress', 'delayed')
		ORDER BY target_end_date ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list active processes")
	}
	defer rows.Close()

	var procs []*EmployeeProcess
	for rows.Next() {
		proc, err := r.scanProcess(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan employee process")
		}
		procs = append(procs, proc)
	}
	return procs, nil
}

// UpdateStatus sets the process status, stamping completed_at on completion.
func (r *EmployeeProcessRepository) UpdateStatus(ctx context.Context, id string, status ProcessStatus) error {
	var completedAt *time.Time
	if status == ProcessStatusCompleted {
		now := time.Now()
		completedAt = &now
	}

	query := `
		UPDATE employee_processes
		SET status       = $2,
		    completed_at = COALESCE($3, completed_at),
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status, completedAt).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("employee_process", id)
	}
	return err
}

// GetTasks returns the checklist for a process in sequence order.
func (r *EmployeeProcessRepository) GetTasks(ctx context.Context, processID string) ([]*EmployeeProcessTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM employee_process_tasks
		WHERE process_id = $1
		ORDER BY sequence_order ASC
	`

	rows, err := r.db.Query(ctx, query, processID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get process tasks")
	}
	defer rows.Close()

	var tasks []*EmployeeProcessTask
	for rows.Next() {
		task, err := r.scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan process task")
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// GetTask retrieves a single task by primary key.
func (r *EmployeeProcessRepository) GetTask(ctx context.Context, taskID string) (*EmployeeProcessTask, error) {
	query := `SELECT ` + taskColumns + ` FROM employee_process_tasks WHERE id = $1`

	task, err := r.scanTask(r.db.QueryRow(ctx, query, taskID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("process_task", taskID)
	}
	return task, err
}

// CompleteTask flips a task to completed. The predicate `completed = FALSE`
// makes re-completion a no-op: changed=false reports that nothing moved.
func (r *EmployeeProcessRepository) CompleteTask(ctx context.Context, taskID, completedBy string, notes *string) (changed bool, err error) {
	query := `
		UPDATE employee_process_tasks
		SET completed        = TRUE,
		    completion_date  = NOW(),
		    completion_notes = $3,
		    assigned_to      = COALESCE(assigned_to, $2),
		    updated_at       = NOW()
		WHERE id = $1 AND completed = FALSE
		RETURNING id
	`

	var returnedID string
	err = r.db.QueryRow(ctx, query, taskID, completedBy, notes).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		// Either already completed or missing; let the caller's GetTask decide.
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to complete process task")
	}
	return true, nil
}

// CountTasks returns (total, completed) for a process.
func (r *EmployeeProcessRepository) CountTasks(ctx context.Context, processID string) (total, completed int, err error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE completed)
		FROM employee_process_tasks
		WHERE process_id = $1
	`

	if err := r.db.QueryRow(ctx, query, processID).Scan(&total, &completed); err != nil {
		return 0, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count process tasks")
	}
	return total, completed, nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type processScanner interface {
	Scan(dest ...any) error
}

func (r *EmployeeProcessRepository) scanProcess(row processScanner) (*EmployeeProcess, error) {
	proc := &EmployeeProcess{}
	err := row.Scan(
		&proc.ID,
		&proc.EmployeeID,
		&proc.ProcessType,
		&proc.Status,
		&proc.StartDate,
		&proc.TargetEndDate,
		&proc.CompletedAt,
		&proc.CreatedAt,
		&proc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

func (r *EmployeeProcessRepository) scanTask(row processScanner) (*EmployeeProcessTask, error) {
	task := &EmployeeProcessTask{}
	err := row.Scan(
		&task.ID,
		&task.ProcessID,
		&task.SequenceOrder,
		&task.Title,
		&task.DueDate,
		&task.Completed,
		&task.CompletionDate,
		&task.AssignedTo,
		&task.CompletionNotes,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return task, nil
}
