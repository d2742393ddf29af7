package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

type processFixture struct {
	svc       *EmployeeProcessService
	processes *fakeProcesses
	instances *fakeInstances
	notifier  *fakeNotifier
}

func newProcessFixture(t *testing.T) *processFixture {
	t.Helper()
	f := &processFixture{
		instances: newFakeInstances(),
		notifier:  &fakeNotifier{},
	}
	deadlines := newFakeDeadlines()
	f.processes = newFakeProcesses(f.instances, deadlines)
	engine := NewWorkflowEngine(f.instances, deadlines, logger.Nop())
	f.svc = NewEmployeeProcessService(f.processes, f.instances, engine, f.notifier, logger.Nop())
	return f
}

func (f *processFixture) startOnboarding(t *testing.T, employeeID string, tasks []TaskSpec) *repository.EmployeeProcess {
	t.Helper()
	start := time.Now()
	proc, err := f.svc.StartProcess(context.Background(), employeeID, repository.ProcessTypeOnboarding,
		"hr-1", start, start.AddDate(0, 0, 30), tasks)
	require.NoError(t, err)
	return proc
}

func TestStartProcessDefaultChecklist(t *testing.T) {
	f := newProcessFixture(t)
	proc := f.startOnboarding(t, "emp-1", nil)

	tasks, err := f.processes.GetTasks(context.Background(), proc.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, len(defaultChecklists[repository.ProcessTypeOnboarding]))

	wf, err := f.instances.GetActiveByEntity(context.Background(), "emp-1", repository.WorkflowTypeOnboarding)
	require.NoError(t, err)
	require.NotNil(t, wf)
	assert.Equal(t, repository.WorkflowStatusInProgress, wf.Status)

	started := f.notifier.eventsOfType(EventProcessStarted)
	require.Len(t, started, 1)
}

func TestStartProcessDuplicateRejected(t *testing.T) {
	f := newProcessFixture(t)
	f.startOnboarding(t, "emp-1", nil)

	start := time.Now()
	_, err := f.svc.StartProcess(context.Background(), "emp-1", repository.ProcessTypeOnboarding,
		"hr-1", start, start.AddDate(0, 0, 30), nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDuplicateWorkflow))
}

func TestStartProcessInvalidDates(t *testing.T) {
	f := newProcessFixture(t)
	start := time.Now()
	_, err := f.svc.StartProcess(context.Background(), "emp-1", repository.ProcessTypeOnboarding,
		"hr-1", start, start.AddDate(0, 0, -1), nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}

func TestProgressPartialCompletionFloors(t *testing.T) {
	f := newProcessFixture(t)
	proc := f.startOnboarding(t, "emp-1", []TaskSpec{
		{Title: "a"}, {Title: "b"}, {Title: "c"},
	})

	tasks, err := f.processes.GetTasks(context.Background(), proc.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	for _, task := range tasks[:2] {
		_, err := f.svc.CompleteTask(context.Background(), task.ID, "hr-1", nil)
		require.NoError(t, err)
	}

	progress, err := f.svc.Progress(context.Background(), proc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, progress.TotalTasks)
	assert.Equal(t, 2, progress.CompletedTasks)
	assert.Equal(t, 66, progress.CompletionPercentage)
}

func TestEmptyChecklistIsFullyComplete(t *testing.T) {
	f := newProcessFixture(t)
	wf := &repository.WorkflowInstance{
		WorkflowType: repository.WorkflowTypeOnboarding,
		EntityID:     "emp-9",
		EntityType:   "employee",
		Status:       repository.WorkflowStatusInProgress,
		CurrentState: "checklist",
		Initiator:    "hr-1",
		StartedAt:    time.Now(),
	}
	proc := &repository.EmployeeProcess{
		EmployeeID:    "emp-9",
		ProcessType:   repository.ProcessTypeOnboarding,
		Status:        repository.ProcessStatusInProgress,
		StartDate:     time.Now(),
		TargetEndDate: time.Now().AddDate(0, 0, 30),
	}
	require.NoError(t, f.processes.Create(context.Background(), wf, proc, nil, nil))

	progress, err := f.svc.Progress(context.Background(), proc.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, progress.TotalTasks)
	assert.Equal(t, 100, progress.CompletionPercentage)
}

func TestCompleteLastTaskCompletesProcessAndWorkflow(t *testing.T) {
	f := newProcessFixture(t)
	proc := f.startOnboarding(t, "emp-1", []TaskSpec{{Title: "only"}})

	tasks, err := f.processes.GetTasks(context.Background(), proc.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	progress, err := f.svc.CompleteTask(context.Background(), tasks[0].ID, "hr-1", nil)
	require.NoError(t, err)
	assert.Equal(t, repository.ProcessStatusCompleted, progress.Status)
	assert.Equal(t, 100, progress.CompletionPercentage)

	stored, err := f.processes.GetByID(context.Background(), proc.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.ProcessStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	wf, err := f.instances.GetActiveByEntity(context.Background(), "emp-1", repository.WorkflowTypeOnboarding)
	require.NoError(t, err)
	assert.Nil(t, wf)

	completed := f.notifier.eventsOfType(EventProcessCompleted)
	require.Len(t, completed, 1)
}

func TestRecompleteTaskIsNoOp(t *testing.T) {
	f := newProcessFixture(t)
	proc := f.startOnboarding(t, "emp-1", []TaskSpec{{Title: "a"}, {Title: "b"}})

	tasks, err := f.processes.GetTasks(context.Background(), proc.ID)
	require.NoError(t, err)

	_, err = f.svc.CompleteTask(context.Background(), tasks[0].ID, "hr-1", nil)
	require.NoError(t, err)

	progress, err := f.svc.CompleteTask(context.Background(), tasks[0].ID, "hr-2", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.CompletedTasks)

	stored, err := f.processes.GetTask(context.Background(), tasks[0].ID)
	require.NoError(t, err)
	assert.True(t, stored.Completed)
	assert.Nil(t, stored.CompletionNotes)
}

func TestCancelProcessCancelsWorkflow(t *testing.T) {
	f := newProcessFixture(t)
	proc := f.startOnboarding(t, "emp-1", nil)

	require.NoError(t, f.svc.CancelProcess(context.Background(), proc.ID, "hr-1", strptr("offer rescinded")))

	stored, err := f.processes.GetByID(context.Background(), proc.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.ProcessStatusCancelled, stored.Status)

	wf, err := f.instances.GetActiveByEntity(context.Background(), "emp-1", repository.WorkflowTypeOnboarding)
	require.NoError(t, err)
	assert.Nil(t, wf)
}

func TestCancelCompletedProcessConflicts(t *testing.T) {
	f := newProcessFixture(t)
	proc := f.startOnboarding(t, "emp-1", []TaskSpec{{Title: "only"}})

	tasks, err := f.processes.GetTasks(context.Background(), proc.ID)
	require.NoError(t, err)
	_, err = f.svc.CompleteTask(context.Background(), tasks[0].ID, "hr-1", nil)
	require.NoError(t, err)

	err = f.svc.CancelProcess(context.Background(), proc.ID, "hr-1", nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))
}

func TestFutureStartDateCreatesPlannedProcess(t *testing.T) {
	f := newProcessFixture(t)
	start := time.Now().AddDate(0, 0, 7)
	proc, err := f.svc.StartProcess(context.Background(), "emp-1", repository.ProcessTypeOnboarding,
		"hr-1", start, start.AddDate(0, 0, 30), []TaskSpec{{Title: "a"}, {Title: "b"}})
	require.NoError(t, err)
	assert.Equal(t, repository.ProcessStatusPlanned, proc.Status)

	// The first task completion moves the process into in_progress.
	tasks, err := f.processes.GetTasks(context.Background(), proc.ID)
	require.NoError(t, err)
	progress, err := f.svc.CompleteTask(context.Background(), tasks[0].ID, "hr-1", nil)
	require.NoError(t, err)
	assert.Equal(t, repository.ProcessStatusInProgress, progress.Status)

	stored, err := f.processes.GetByID(context.Background(), proc.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.ProcessStatusInProgress, stored.Status)
}

func TestFailedProcessStartLeavesNoWorkflowBehind(t *testing.T) {
	f := newProcessFixture(t)
	f.processes.createErr = errors.New(errors.ErrCodeInternal, "storage unavailable")

	start := time.Now()
	_, err := f.svc.StartProcess(context.Background(), "emp-1", repository.ProcessTypeOnboarding,
		"hr-1", start, start.AddDate(0, 0, 30), nil)
	require.Error(t, err)

	wf, err := f.instances.GetActiveByEntity(context.Background(), "emp-1", repository.WorkflowTypeOnboarding)
	require.NoError(t, err)
	assert.Nil(t, wf)

	f.processes.createErr = nil
	f.startOnboarding(t, "emp-1", nil)
}

func TestMarkDelayedNotifiesOnce(t *testing.T) {
	f := newProcessFixture(t)
	proc := f.startOnboarding(t, "emp-1", nil)

	require.NoError(t, f.svc.MarkDelayed(context.Background(), proc.ID))
	// Already delayed, second call is a no-op.
	require.NoError(t, f.svc.MarkDelayed(context.Background(), proc.ID))

	stored, err := f.processes.GetByID(context.Background(), proc.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.ProcessStatusDelayed, stored.Status)

	delayed := f.notifier.eventsOfType(EventProcessDelayed)
	assert.Len(t, delayed, 1)
}
