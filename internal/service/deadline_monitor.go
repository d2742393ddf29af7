package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

// DeadlineMonitor sweeps monitored deadlines on a schedule. The warning sweep
// claims each deadline's warning flag atomically, so overlapping sweeps (or
// multiple instances of the service) never notify twice for the same
// deadline. The overdue sweep is a pure report plus the delayed-process flag;
// it performs no automatic escalation or rejection.
type DeadlineMonitor struct {
	deadlines DeadlineStore
	instances WorkflowInstanceStore
	processes EmployeeProcessStore
	procs     *EmployeeProcessService
	notifier  Notifier
	log       *logger.Logger
}

// NewDeadlineMonitor creates a new DeadlineMonitor.
func NewDeadlineMonitor(
	deadlines DeadlineStore,
	instances WorkflowInstanceStore,
	processes EmployeeProcessStore,
	procs *EmployeeProcessService,
	notifier Notifier,
	log *logger.Logger,
) *DeadlineMonitor {
	return &DeadlineMonitor{
		deadlines: deadlines,
		instances: instances,
		processes: processes,
		procs:     procs,
		notifier:  notifier,
		log:       log,
	}
}

// OverdueItem is one overdue deadline joined with its workflow instance.
type OverdueItem struct {
	Deadline *repository.WorkflowDeadline
	Instance *repository.WorkflowInstance
}

// ScanApproachingWarnings claims all deadlines whose warning point has passed
// and notifies their assignees. Each deadline is claimed at most once across
// all sweeps. Returns the number of warnings sent.
func (m *DeadlineMonitor) ScanApproachingWarnings(ctx context.Context, now time.Time) (int, error) {
	claimed, err := m.deadlines.ClaimApproachingWarnings(ctx, now)
	if err != nil {
		return 0, err
	}

	for _, d := range claimed {
		recipients := m.warningRecipients(ctx, d)
		if len(recipients) == 0 {
			continue
		}
		m.notifier.Notify(ctx, recipients, EventDeadlineWarning, "workflow_instance", d.WorkflowInstanceID, map[string]any{
			"deadline_type": string(d.DeadlineType),
			"deadline_at":   d.DeadlineAt,
		})
	}

	if len(claimed) > 0 {
		m.log.Info().Int("warnings", len(claimed)).Msg("Deadline warnings sent")
	}
	return len(claimed), nil
}

func (m *DeadlineMonitor) warningRecipients(ctx context.Context, d *repository.WorkflowDeadline) []string {
	if d.AssigneeID != nil {
		return []string{*d.AssigneeID}
	}
	wf, err := m.instances.GetByID(ctx, d.WorkflowInstanceID)
	if err != nil {
		m.log.Warn().Err(err).Str("workflow_instance_id", d.WorkflowInstanceID).
			Msg("Failed to load instance for deadline warning")
		return nil
	}
	if wf.CurrentAssignee != nil {
		return []string{*wf.CurrentAssignee}
	}
	return []string{wf.Initiator}
}

// ScanOverdue reports all passed, uncompleted deadlines and flags
// onboarding/offboarding processes past their target date as delayed.
func (m *DeadlineMonitor) ScanOverdue(ctx context.Context, now time.Time) ([]*OverdueItem, error) {
	overdue, err := m.deadlines.ListOverdue(ctx, now)
	if err != nil {
		return nil, err
	}

	items := make([]*OverdueItem, 0, len(overdue))
	for _, d := range overdue {
		wf, err := m.instances.GetByID(ctx, d.WorkflowInstanceID)
		if err != nil {
			m.log.Warn().Err(err).Str("workflow_instance_id", d.WorkflowInstanceID).
				Msg("Failed to load instance for overdue deadline")
			continue
		}
		items = append(items, &OverdueItem{Deadline: d, Instance: wf})

		recipients := m.warningRecipients(ctx, d)
		if len(recipients) > 0 {
			m.notifier.Notify(ctx, recipients, EventDeadlineOverdue, "workflow_instance", d.WorkflowInstanceID, map[string]any{
				"deadline_type": string(d.DeadlineType),
				"deadline_at":   d.DeadlineAt,
				"status":        string(wf.Status),
			})
		}
	}

	if err := m.flagDelayedProcesses(ctx, now); err != nil {
		m.log.Warn().Err(err).Msg("Failed to flag delayed processes")
	}

	if len(items) > 0 {
		m.log.Info().Int("overdue", len(items)).Msg("Overdue deadlines reported")
	}
	return items, nil
}

func (m *DeadlineMonitor) flagDelayedProcesses(ctx context.Context, now time.Time) error {
	active, err := m.processes.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, proc := range active {
		if proc.Status == repository.ProcessStatusDelayed || !now.After(proc.TargetEndDate) {
			continue
		}
		if err := m.procs.MarkDelayed(ctx, proc.ID); err != nil {
			m.log.Warn().Err(err).Str("process_id", proc.ID).Msg("Failed to mark process delayed")
		}
	}
	return nil
}
