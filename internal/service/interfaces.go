package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

// The services depend on the narrow persistence and collaborator surfaces
// declared here. The pgx repositories in internal/repository satisfy the
// store interfaces; tests substitute in-memory fakes.

// ChainConfigStore provides approval chain configuration reads.
type ChainConfigStore interface {
	ListActiveByType(ctx context.Context, approvalType repository.ApprovalType) ([]*repository.ApprovalChainRung, error)
}

// WorkflowInstanceStore persists workflow instances and their transition log.
// Instances are created through the aggregate store Create methods below, in
// the same transaction as their domain rows.
type WorkflowInstanceStore interface {
	GetByID(ctx context.Context, id string) (*repository.WorkflowInstance, error)
	GetActiveByEntity(ctx context.Context, entityID string, wfType repository.WorkflowType) (*repository.WorkflowInstance, error)
	ListActive(ctx context.Context) ([]*repository.WorkflowInstance, error)
	Transition(ctx context.Context, id string, from, to repository.WorkflowStatus, currentState string, assignee *string, transitionedBy string, reason *string) error
	UpdateAssignment(ctx context.Context, id, currentState string, assignee *string) error
	GetTransitions(ctx context.Context, instanceID string) ([]*repository.WorkflowStateTransition, error)
}

// ApprovalRequestStore persists approval requests, their chain snapshot and
// decision history. All decision methods are conditional on (id, level).
// Create writes the umbrella instance, the request, its levels and the
// optional decision deadline atomically; a failure persists nothing.
type ApprovalRequestStore interface {
	Create(ctx context.Context, wf *repository.WorkflowInstance, req *repository.ApprovalRequest, levels []*repository.ApprovalLevel, deadline *repository.WorkflowDeadline) error
	GetByID(ctx context.Context, id string) (*repository.ApprovalRequest, error)
	GetLevel(ctx context.Context, requestID string, level int) (*repository.ApprovalLevel, error)
	ApproveAndAdvance(ctx context.Context, id string, level int, nextApproverID *string, entry *repository.ApprovalHistoryEntry) error
	ApproveFinal(ctx context.Context, id string, level int, comments *string, entry *repository.ApprovalHistoryEntry) error
	Reject(ctx context.Context, id string, level int, comments *string, entry *repository.ApprovalHistoryEntry) error
	Reassign(ctx context.Context, id string, level int, newApproverID *string, entry *repository.ApprovalHistoryEntry) error
	Withdraw(ctx context.Context, id string, entry *repository.ApprovalHistoryEntry) (*repository.ApprovalRequest, bool, error)
	GetHistory(ctx context.Context, requestID string) ([]*repository.ApprovalHistoryEntry, error)
	GetPendingForApprover(ctx context.Context, approverID string, limit, offset int) ([]*repository.ApprovalRequest, error)
	CountPendingForApprover(ctx context.Context, approverID string) (int, error)
	GetByRequestor(ctx context.Context, requestorID string) ([]*repository.ApprovalRequest, error)
}

// EmployeeProcessStore persists onboarding/offboarding processes and tasks.
// Create writes the umbrella instance, the process, its checklist and the
// optional target deadline atomically.
type EmployeeProcessStore interface {
	Create(ctx context.Context, wf *repository.WorkflowInstance, proc *repository.EmployeeProcess, tasks []*repository.EmployeeProcessTask, deadline *repository.WorkflowDeadline) error
	GetByID(ctx context.Context, id string) (*repository.EmployeeProcess, error)
	GetActiveByEmployee(ctx context.Context, employeeID string, processType repository.ProcessType) (*repository.EmployeeProcess, error)
	ListActive(ctx context.Context) ([]*repository.EmployeeProcess, error)
	UpdateStatus(ctx context.Context, id string, status repository.ProcessStatus) error
	GetTasks(ctx context.Context, processID string) ([]*repository.EmployeeProcessTask, error)
	GetTask(ctx context.Context, taskID string) (*repository.EmployeeProcessTask, error)
	CompleteTask(ctx context.Context, taskID, completedBy string, notes *string) (bool, error)
	CountTasks(ctx context.Context, processID string) (total, completed int, err error)
}

// ReviewCycleStore persists review cycles and participant records. Create
// writes the cycle, its roster, the umbrella instance (keyed by the new cycle
// id) and the cycle-end deadline atomically.
type ReviewCycleStore interface {
	Create(ctx context.Context, wf *repository.WorkflowInstance, cycle *repository.ReviewCycle, participants []*repository.ReviewParticipant, deadline *repository.WorkflowDeadline) error
	GetByID(ctx context.Context, id string) (*repository.ReviewCycle, error)
	ListActive(ctx context.Context) ([]*repository.ReviewCycle, error)
	ListByPhase(ctx context.Context, phase repository.ReviewPhase) ([]*repository.ReviewCycle, error)
	AdvancePhase(ctx context.Context, id string, from, to repository.ReviewPhase) error
	OverridePhase(ctx context.Context, id string, to repository.ReviewPhase) error
	Deactivate(ctx context.Context, id string) error
	GetParticipant(ctx context.Context, cycleID, employeeID string) (*repository.ReviewParticipant, error)
	ListParticipants(ctx context.Context, cycleID string) ([]*repository.ReviewParticipant, error)
	MarkSelfAssessment(ctx context.Context, cycleID, employeeID string) error
	MarkManagerReview(ctx context.Context, cycleID, employeeID string) error
	MarkFeedbackDelivered(ctx context.Context, cycleID, employeeID string) error
	GetProgress(ctx context.Context, cycleID string) (*repository.CycleProgress, error)
}

// DeadlineStore serves the monitor sweeps. Deadlines are created by the
// aggregate store Create methods, never on their own.
type DeadlineStore interface {
	ListOverdue(ctx context.Context, now time.Time) ([]*repository.WorkflowDeadline, error)
	ClaimApproachingWarnings(ctx context.Context, now time.Time) ([]*repository.WorkflowDeadline, error)
	CompleteForInstance(ctx context.Context, instanceID string) error
}

// IdentityClient resolves approvers and escalation targets from the platform
// identity service.
type IdentityClient interface {
	// GetUsersWithRole returns user ids holding a role, optionally scoped to
	// a department. An empty slice leaves the level unassigned.
	GetUsersWithRole(ctx context.Context, role string, departmentID *string) ([]string, error)
	// GetSupervisor returns the escalation target for a user.
	GetSupervisor(ctx context.Context, userID string) (string, error)
}

// Notifier delivers workflow events. Fire-and-forget: implementations must
// never propagate delivery failures into the calling operation.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, eventType, resourceType, resourceID string, payload map[string]any)
}

// PendingCountCache caches per-approver pending counts. All methods are safe
// on a disabled (nil-backed) cache.
type PendingCountCache interface {
	GetPendingCount(ctx context.Context, approverID string) (int, bool)
	SetPendingCount(ctx context.Context, approverID string, count int)
	Invalidate(ctx context.Context, approverIDs ...string)
}

// Notification event types published by the services.
const (
	EventApprovalSubmitted  = "approval_submitted"
	EventApprovalRequired   = "approval_required"
	EventApprovalApproved   = "approval_approved"
	EventApprovalRejected   = "approval_rejected"
	EventApprovalEscalated  = "approval_escalated"
	EventApprovalWithdrawn  = "approval_withdrawn"
	EventApprovalDelegated  = "approval_delegated"
	EventMoreInfoRequested  = "more_info_requested"
	EventDeadlineWarning    = "deadline_warning"
	EventDeadlineOverdue    = "deadline_overdue"
	EventProcessStarted     = "process_started"
	EventProcessDelayed     = "process_delayed"
	EventProcessCompleted   = "process_completed"
	EventCyclePhaseStarted  = "cycle_phase_started"
	EventCycleReminder      = "cycle_reminder"
)
