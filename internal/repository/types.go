package repository

import "time"

// ── Workflow instances ───────────────────────────────────────────────────────

// WorkflowType discriminates the fixed catalog of workflow kinds.
type WorkflowType string

const (
	WorkflowTypeOnboarding         WorkflowType = "onboarding"
	WorkflowTypeOffboarding        WorkflowType = "offboarding"
	WorkflowTypeLeaveApproval      WorkflowType = "leave_approval"
	WorkflowTypeExpenseApproval    WorkflowType = "expense_approval"
	WorkflowTypeOvertimeApproval   WorkflowType = "overtime_approval"
	WorkflowTypeTrainingEnrollment WorkflowType = "training_enrollment"
	WorkflowTypeReviewCycle        WorkflowType = "performance_review_cycle"
	WorkflowTypeTransfer           WorkflowType = "transfer"
	WorkflowTypeTimesheetApproval  WorkflowType = "timesheet_approval"
)

// WorkflowStatus is the status of a workflow instance.
type WorkflowStatus string

const (
	WorkflowStatusDraft           WorkflowStatus = "draft"
	WorkflowStatusInProgress      WorkflowStatus = "in_progress"
	WorkflowStatusPendingApproval WorkflowStatus = "pending_approval"
	WorkflowStatusApproved        WorkflowStatus = "approved"
	WorkflowStatusRejected        WorkflowStatus = "rejected"
	WorkflowStatusCompleted       WorkflowStatus = "completed"
	WorkflowStatusCancelled       WorkflowStatus = "cancelled"
	WorkflowStatusFailed          WorkflowStatus = "failed"
	WorkflowStatusOnHold          WorkflowStatus = "on_hold"
	WorkflowStatusEscalated       WorkflowStatus = "escalated"
)

// Terminal reports whether no further transitions are possible. Approved is
// not terminal: an approved workflow stays active until post-approval side
// effects finish and it moves to completed.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowStatusRejected, WorkflowStatusCompleted, WorkflowStatusCancelled, WorkflowStatusFailed:
		return true
	}
	return false
}

// TerminalWorkflowStatuses lists the terminal statuses, for SQL predicates.
var TerminalWorkflowStatuses = []WorkflowStatus{
	WorkflowStatusRejected,
	WorkflowStatusCompleted,
	WorkflowStatusCancelled,
	WorkflowStatusFailed,
}

// WorkflowInstance is the generic envelope tracking one business process
// attached to one entity. At most one non-terminal instance may exist per
// (entity_id, workflow_type); instances are never deleted.
type WorkflowInstance struct {
	ID              string
	WorkflowType    WorkflowType
	EntityID        string
	EntityType      string
	Status          WorkflowStatus
	CurrentState    string // free-form sub-state label, e.g. a phase or task name
	CurrentAssignee *string
	Initiator       string
	StartedAt       time.Time
	CompletedAt     *time.Time
	DueDate         *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WorkflowStateTransition is one immutable audit record. Appending it is
// transactionally coupled to the state mutation it describes.
type WorkflowStateTransition struct {
	ID                 string
	WorkflowInstanceID string
	FromState          string
	ToState            string
	Reason             *string
	TransitionedBy     string
	TransitionedAt     time.Time
}

// ── Approval chains ──────────────────────────────────────────────────────────

// ApprovalType discriminates request-type workflows routed through a chain.
type ApprovalType string

const (
	ApprovalTypeLeaveRequest    ApprovalType = "leave_request"
	ApprovalTypeExpenseClaim    ApprovalType = "expense_claim"
	ApprovalTypeOvertimeRequest ApprovalType = "overtime_request"
	ApprovalTypeTrainingRequest ApprovalType = "training_request"
	ApprovalTypeTransferRequest ApprovalType = "transfer_request"
	ApprovalTypeSalaryChange    ApprovalType = "salary_change"
	ApprovalTypeTimesheet       ApprovalType = "timesheet"
)

// ApprovalChainRung is one configured step of an approval chain. Threshold
// bounds are inclusive and nil means unbounded; a department-scoped rung
// overrides a global rung at the same sequence position. Rungs are never
// edited under an in-flight request: requests snapshot their resolved chain
// at submission time.
type ApprovalChainRung struct {
	ID            string
	ApprovalType  ApprovalType
	SequenceOrder int
	ApproverRole  string
	DepartmentID  *string
	MinThreshold  *int64 // cents for amounts, whole days for leave; nil = no lower bound
	MaxThreshold  *int64
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ── Approval requests ────────────────────────────────────────────────────────

// ApprovalStatus is the status of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending   ApprovalStatus = "pending_approval"
	ApprovalStatusApproved  ApprovalStatus = "approved"
	ApprovalStatusRejected  ApprovalStatus = "rejected"
	ApprovalStatusCancelled ApprovalStatus = "cancelled"
)

// Terminal reports whether the request can no longer change.
func (s ApprovalStatus) Terminal() bool {
	return s != ApprovalStatusPending
}

// Decision is an approver's action on a pending request.
type Decision string

const (
	DecisionApprove         Decision = "approve"
	DecisionReject          Decision = "reject"
	DecisionRequestMoreInfo Decision = "request_more_info"
	DecisionDelegate        Decision = "delegate"
	DecisionEscalate        Decision = "escalate"
	DecisionWithdraw        Decision = "withdraw"
)

// ApprovalRequest tracks a leveled approval chain's progress for one
// submitted entity. current_level is monotonically non-decreasing and always
// within [1, total_levels].
type ApprovalRequest struct {
	ID                 string
	WorkflowInstanceID string
	EntityID           string
	EntityType         string
	ApprovalType       ApprovalType
	Status             ApprovalStatus
	RequestorID        string
	CurrentApproverID  *string
	CurrentLevel       int
	TotalLevels        int
	Amount             *int64
	DaysCount          *int
	Priority           string
	SubmittedAt        time.Time
	DueDate            *time.Time
	DecidedAt          *time.Time
	ApproverComments   *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ApprovalLevel is the chain snapshot taken at submission: one row per level
// with the role required and the approver resolved for it. The snapshot
// keeps in-flight requests immune to later chain-config edits.
type ApprovalLevel struct {
	ID           string
	RequestID    string
	Level        int
	ApproverRole string
	ApproverID   *string
	CreatedAt    time.Time
}

// ApprovalHistoryEntry is one append-only record of a decision taken on a
// request.
type ApprovalHistoryEntry struct {
	ID         string
	RequestID  string
	Level      int
	ApproverID string
	Decision   Decision
	Comments   *string
	DecidedAt  time.Time
}

// ── Employee processes ───────────────────────────────────────────────────────

// ProcessType distinguishes onboarding from offboarding checklists.
type ProcessType string

const (
	ProcessTypeOnboarding  ProcessType = "onboarding"
	ProcessTypeOffboarding ProcessType = "offboarding"
)

// ProcessStatus is the status of an employee process.
type ProcessStatus string

const (
	ProcessStatusPlanned    ProcessStatus = "planned"
	ProcessStatusInProgress ProcessStatus = "in_progress"
	ProcessStatusCompleted  ProcessStatus = "completed"
	ProcessStatusCancelled  ProcessStatus = "cancelled"
	ProcessStatusDelayed    ProcessStatus = "delayed"
)

// EmployeeProcess is a checklist-style onboarding or offboarding run. At most
// one active process exists per (employee_id, process_type).
type EmployeeProcess struct {
	ID            string
	EmployeeID    string
	ProcessType   ProcessType
	Status        ProcessStatus
	StartDate     time.Time
	TargetEndDate time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EmployeeProcessTask is one checklist item. Completion is one-way: a
// completed task never reverts, and completing it again is a no-op.
type EmployeeProcessTask struct {
	ID              string
	ProcessID       string
	SequenceOrder   int
	Title           string
	DueDate         *time.Time
	Completed       bool
	CompletionDate  *time.Time
	AssignedTo      *string
	CompletionNotes *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ── Review cycles ────────────────────────────────────────────────────────────

// ReviewPhase is the shared stage of a review cycle.
type ReviewPhase string

const (
	PhaseDraft            ReviewPhase = "draft"
	PhaseSelfAssessment   ReviewPhase = "self_assessment"
	PhaseManagerReview    ReviewPhase = "manager_review"
	PhaseCalibration      ReviewPhase = "calibration"
	PhaseFeedbackDelivery ReviewPhase = "feedback_delivery"
	PhaseCompleted        ReviewPhase = "completed"
	PhaseArchived         ReviewPhase = "archived"
)

// phaseOrder gives each phase its position in the forward-only sequence.
var phaseOrder = map[ReviewPhase]int{
	PhaseDraft:            0,
	PhaseSelfAssessment:   1,
	PhaseManagerReview:    2,
	PhaseCalibration:      3,
	PhaseFeedbackDelivery: 4,
	PhaseCompleted:        5,
	PhaseArchived:         6,
}

// Ordinal returns the phase's position, or -1 for an unknown phase.
func (p ReviewPhase) Ordinal() int {
	if n, ok := phaseOrder[p]; ok {
		return n
	}
	return -1
}

// ReviewCycle moves a cohort of employees through shared review phases.
// Active cycles must not have overlapping [start_date, end_date] ranges.
type ReviewCycle struct {
	ID                     string
	Name                   string
	ReviewPeriodStart      time.Time
	ReviewPeriodEnd        time.Time
	StartDate              time.Time
	EndDate                time.Time
	Phase                  ReviewPhase
	SelfAssessmentDeadline *time.Time
	ManagerReviewDeadline  *time.Time
	CalibrationDeadline    *time.Time
	FeedbackDeadline       *time.Time
	DepartmentIDs          []string
	Active                 bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// ReviewParticipant is one employee's progress record inside a cycle.
type ReviewParticipant struct {
	ID                    string
	CycleID               string
	EmployeeID            string
	ManagerID             string
	SelfAssessmentAt      *time.Time
	ManagerReviewAt       *time.Time
	FeedbackDeliveredAt   *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// CycleProgress is the derived read-only aggregate for one cycle. It is
// computed by counting participant records, never stored.
type CycleProgress struct {
	CycleID                  string
	Phase                    ReviewPhase
	TotalEmployees           int
	CompletedSelfAssessments int
	CompletedManagerReviews  int
	DeliveredFeedbacks       int
}

// ── Deadlines ────────────────────────────────────────────────────────────────

// DeadlineType classifies what a deadline governs.
type DeadlineType string

const (
	DeadlineTypeApprovalDecision DeadlineType = "approval_decision"
	DeadlineTypeProcessTarget    DeadlineType = "process_target"
	DeadlineTypePhaseEnd         DeadlineType = "phase_end"
)

// WorkflowDeadline is one monitored deadline with an advance warning point.
// warning_sent flips to true exactly once.
type WorkflowDeadline struct {
	ID                 string
	WorkflowInstanceID string
	DeadlineAt         time.Time
	WarningAt          time.Time
	AssigneeID         *string
	DeadlineType       DeadlineType
	Completed          bool
	WarningSent        bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
