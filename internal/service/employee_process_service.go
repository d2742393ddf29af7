package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

// TaskSpec describes one checklist item at process start.
type TaskSpec struct {
	Title        string
	AssignedTo   *string
	DueInDays    int // offset from the process start date; 0 = due on start
}

// defaultChecklists seed a process when the caller supplies no tasks.
var defaultChecklists = map[repository.ProcessType][]TaskSpec{
	repository.ProcessTypeOnboarding: {
		{Title: "Sign employment contract", DueInDays: 0},
		{Title: "Provision accounts and equipment", DueInDays: 1},
		{Title: "Complete compliance training", DueInDays: 7},
		{Title: "Meet the team", DueInDays: 7},
		{Title: "First 30-day check-in", DueInDays: 30},
	},
	repository.ProcessTypeOffboarding: {
		{Title: "Handover documentation", DueInDays: 5},
		{Title: "Return equipment", DueInDays: 10},
		{Title: "Revoke system access", DueInDays: 10},
		{Title: "Exit interview", DueInDays: 12},
		{Title: "Final payroll settlement", DueInDays: 14},
	},
}

// ProcessProgress is the derived completion view of a process.
type ProcessProgress struct {
	ProcessID            string
	Status               repository.ProcessStatus
	TotalTasks           int
	CompletedTasks       int
	CompletionPercentage int
}

// EmployeeProcessService orchestrates onboarding and offboarding checklists
// under an umbrella workflow instance.
type EmployeeProcessService struct {
	processes EmployeeProcessStore
	instances WorkflowInstanceStore
	engine    *WorkflowEngine
	notifier  Notifier
	log       *logger.Logger
}

// NewEmployeeProcessService creates a new EmployeeProcessService.
func NewEmployeeProcessService(
	processes EmployeeProcessStore,
	instances WorkflowInstanceStore,
	engine *WorkflowEngine,
	notifier Notifier,
	log *logger.Logger,
) *EmployeeProcessService {
	return &EmployeeProcessService{
		processes: processes,
		instances: instances,
		engine:    engine,
		notifier:  notifier,
		log:       log,
	}
}

// StartProcess creates a process with its checklist (the type's default when
// tasks is empty), the umbrella workflow instance, and the target-date
// deadline, all in one store transaction. A process whose start date lies in
// the future begins as planned and moves to in_progress on its first task
// completion. A second active process for the same employee and type is
// rejected by the instance unique index.
func (s *EmployeeProcessService) StartProcess(
	ctx context.Context,
	employeeID string,
	processType repository.ProcessType,
	initiatedBy string,
	startDate, targetEndDate time.Time,
	tasks []TaskSpec,
) (*repository.EmployeeProcess, error) {
	if !targetEndDate.After(startDate) {
		return nil, errors.InvalidInput("target_end_date", "must be after the start date")
	}

	wfType := repository.WorkflowTypeOnboarding
	if processType == repository.ProcessTypeOffboarding {
		wfType = repository.WorkflowTypeOffboarding
	}

	wf := &repository.WorkflowInstance{
		WorkflowType: wfType,
		EntityID:     employeeID,
		EntityType:   "employee",
		Status:       repository.WorkflowStatusInProgress,
		CurrentState: "checklist",
		Initiator:    initiatedBy,
		StartedAt:    time.Now(),
		DueDate:      &targetEndDate,
	}

	if len(tasks) == 0 {
		tasks = defaultChecklists[processType]
	}

	status := repository.ProcessStatusInProgress
	if startDate.After(time.Now()) {
		status = repository.ProcessStatusPlanned
	}

	proc := &repository.EmployeeProcess{
		EmployeeID:    employeeID,
		ProcessType:   processType,
		Status:        status,
		StartDate:     startDate,
		TargetEndDate: targetEndDate,
	}

	records := make([]*repository.EmployeeProcessTask, 0, len(tasks))
	for i, spec := range tasks {
		due := startDate.AddDate(0, 0, spec.DueInDays)
		records = append(records, &repository.EmployeeProcessTask{
			SequenceOrder: i + 1,
			Title:         spec.Title,
			DueDate:       &due,
			AssignedTo:    spec.AssignedTo,
		})
	}

	deadline := &repository.WorkflowDeadline{
		DeadlineAt:   targetEndDate,
		WarningAt:    targetEndDate.Add(-deadlineWarningLead),
		DeadlineType: repository.DeadlineTypeProcessTarget,
	}

	if err := s.processes.Create(ctx, wf, proc, records, deadline); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, []string{employeeID}, EventProcessStarted, "employee_process", proc.ID, map[string]any{
		"process_type": string(processType),
		"target_end":   targetEndDate,
		"task_count":   len(records),
	})

	s.log.Info().
		Str("process_id", proc.ID).
		Str("employee_id", employeeID).
		Str("process_type", string(processType)).
		Int("tasks", len(records)).
		Msg("Employee process started")

	return proc, nil
}

// CompleteTask marks one checklist item done. Re-completing a finished task
// is a no-op. The first completion on a planned process moves it to
// in_progress; when the last task completes, the process and its umbrella
// instance transition to completed.
func (s *EmployeeProcessService) CompleteTask(ctx context.Context, taskID, completedBy string, notes *string) (*ProcessProgress, error) {
	task, err := s.processes.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	changed, err := s.processes.CompleteTask(ctx, taskID, completedBy, notes)
	if err != nil {
		return nil, err
	}

	progress, err := s.Progress(ctx, task.ProcessID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return progress, nil
	}

	if progress.Status == repository.ProcessStatusPlanned {
		if err := s.processes.UpdateStatus(ctx, task.ProcessID, repository.ProcessStatusInProgress); err != nil {
			return nil, err
		}
		progress.Status = repository.ProcessStatusInProgress
	}

	if progress.TotalTasks > 0 && progress.CompletedTasks == progress.TotalTasks {
		if err := s.completeProcess(ctx, task.ProcessID, completedBy); err != nil {
			return nil, err
		}
		progress.Status = repository.ProcessStatusCompleted
		progress.CompletionPercentage = 100
	}
	return progress, nil
}

func (s *EmployeeProcessService) completeProcess(ctx context.Context, processID, completedBy string) error {
	proc, err := s.processes.GetByID(ctx, processID)
	if err != nil {
		return err
	}

	if err := s.processes.UpdateStatus(ctx, processID, repository.ProcessStatusCompleted); err != nil {
		return err
	}

	wfType := repository.WorkflowTypeOnboarding
	if proc.ProcessType == repository.ProcessTypeOffboarding {
		wfType = repository.WorkflowTypeOffboarding
	}
	wf, err := s.instances.GetActiveByEntity(ctx, proc.EmployeeID, wfType)
	if err == nil && wf != nil {
		if _, err := s.engine.Transition(ctx, wf.ID, repository.WorkflowStatusCompleted, "completed", nil, completedBy, nil); err != nil {
			s.log.Warn().Err(err).Str("process_id", processID).Msg("Failed to complete process workflow")
		}
	}

	s.notifier.Notify(ctx, []string{proc.EmployeeID}, EventProcessCompleted, "employee_process", processID, map[string]any{
		"process_type": string(proc.ProcessType),
	})
	return nil
}

// Progress computes the completion view for a process. An empty checklist
// counts as fully complete: nothing is outstanding. The percentage is the
// integer floor of completed/total.
func (s *EmployeeProcessService) Progress(ctx context.Context, processID string) (*ProcessProgress, error) {
	proc, err := s.processes.GetByID(ctx, processID)
	if err != nil {
		return nil, err
	}

	total, completed, err := s.processes.CountTasks(ctx, processID)
	if err != nil {
		return nil, err
	}

	percentage := 100
	if total > 0 {
		percentage = completed * 100 / total
	}

	return &ProcessProgress{
		ProcessID:            processID,
		Status:               proc.Status,
		TotalTasks:           total,
		CompletedTasks:       completed,
		CompletionPercentage: percentage,
	}, nil
}

// GetProcess returns a process with its checklist.
func (s *EmployeeProcessService) GetProcess(ctx context.Context, processID string) (*repository.EmployeeProcess, []*repository.EmployeeProcessTask, error) {
	proc, err := s.processes.GetByID(ctx, processID)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := s.processes.GetTasks(ctx, processID)
	if err != nil {
		return nil, nil, err
	}
	return proc, tasks, nil
}

// CancelProcess abandons a process and its umbrella instance.
func (s *EmployeeProcessService) CancelProcess(ctx context.Context, processID, cancelledBy string, reason *string) error {
	proc, err := s.processes.GetByID(ctx, processID)
	if err != nil {
		return err
	}
	if proc.Status == repository.ProcessStatusCompleted || proc.Status == repository.ProcessStatusCancelled {
		return errors.Newf(errors.ErrCodeConflict, "process %s is already %s", processID, proc.Status)
	}

	if err := s.processes.UpdateStatus(ctx, processID, repository.ProcessStatusCancelled); err != nil {
		return err
	}

	wfType := repository.WorkflowTypeOnboarding
	if proc.ProcessType == repository.ProcessTypeOffboarding {
		wfType = repository.WorkflowTypeOffboarding
	}
	wf, err := s.instances.GetActiveByEntity(ctx, proc.EmployeeID, wfType)
	if err == nil && wf != nil {
		if _, err := s.engine.Transition(ctx, wf.ID, repository.WorkflowStatusCancelled, "cancelled", nil, cancelledBy, reason); err != nil {
			s.log.Warn().Err(err).Str("process_id", processID).Msg("Failed to cancel process workflow")
		}
	}
	return nil
}

// MarkDelayed flags a process whose target date passed with open tasks.
// Invoked by the deadline monitor, never by task completion itself.
func (s *EmployeeProcessService) MarkDelayed(ctx context.Context, processID string) error {
	proc, err := s.processes.GetByID(ctx, processID)
	if err != nil {
		return err
	}
	if proc.Status != repository.ProcessStatusPlanned && proc.Status != repository.ProcessStatusInProgress {
		return nil
	}

	if err := s.processes.UpdateStatus(ctx, processID, repository.ProcessStatusDelayed); err != nil {
		return err
	}

	s.notifier.Notify(ctx, []string{proc.EmployeeID}, EventProcessDelayed, "employee_process", processID, map[string]any{
		"process_type":    string(proc.ProcessType),
		"target_end_date": proc.TargetEndDate,
	})
	return nil
}
