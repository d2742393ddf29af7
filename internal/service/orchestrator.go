package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

// approvalWorkflowTypes maps each approval type to the workflow type of its
// umbrella instance and the entity type it governs.
var approvalWorkflowTypes = map[repository.ApprovalType]struct {
	workflowType repository.WorkflowType
	entityType   string
}{
	repository.ApprovalTypeLeaveRequest:    {repository.WorkflowTypeLeaveApproval, "leave_request"},
	repository.ApprovalTypeExpenseClaim:    {repository.WorkflowTypeExpenseApproval, "expense_claim"},
	repository.ApprovalTypeOvertimeRequest: {repository.WorkflowTypeOvertimeApproval, "overtime_request"},
	repository.ApprovalTypeTrainingRequest: {repository.WorkflowTypeTrainingEnrollment, "training_request"},
	repository.ApprovalTypeTransferRequest: {repository.WorkflowTypeTransfer, "transfer_request"},
	repository.ApprovalTypeSalaryChange:    {repository.WorkflowTypeTransfer, "salary_change"},
	repository.ApprovalTypeTimesheet:       {repository.WorkflowTypeTimesheetApproval, "timesheet"},
}

// deadlineWarningLead is how far before a due date the one-time warning fires.
const deadlineWarningLead = 24 * time.Hour

// WorkflowOrchestrator is the single entry point for request-type workflows:
// submission, decisions, escalation, withdrawal and the approver/requestor
// queries consumed by the HTTP layer.
type WorkflowOrchestrator struct {
	resolver  *ChainResolver
	engine    *WorkflowEngine
	instances WorkflowInstanceStore
	requests  ApprovalRequestStore
	identity  IdentityClient
	notifier  Notifier
	cache     PendingCountCache
	log       *logger.Logger
}

// NewWorkflowOrchestrator creates a new WorkflowOrchestrator.
func NewWorkflowOrchestrator(
	resolver *ChainResolver,
	engine *WorkflowEngine,
	instances WorkflowInstanceStore,
	requests ApprovalRequestStore,
	identity IdentityClient,
	notifier Notifier,
	cache PendingCountCache,
	log *logger.Logger,
) *WorkflowOrchestrator {
	return &WorkflowOrchestrator{
		resolver:  resolver,
		engine:    engine,
		instances: instances,
		requests:  requests,
		identity:  identity,
		notifier:  notifier,
		cache:     cache,
		log:       log,
	}
}

// ── Submission ───────────────────────────────────────────────────────────────

// SubmitApprovalInput carries one submission.
type SubmitApprovalInput struct {
	EntityID     string
	ApprovalType repository.ApprovalType
	RequestorID  string
	Amount       *int64 // threshold quantity in the type's natural unit
	DaysCount    *int
	DepartmentID *string
	Priority     string
	DueDate      *time.Time
}

// SubmitForApproval resolves the chain and creates the workflow instance, the
// approval request at level 1, the chain snapshot and the decision deadline in
// one store transaction: a failed submission persists nothing. The requestor
// and the first approver are then notified. A second concurrent submission for
// the same entity loses the race on the instance unique index and receives
// ErrCodeDuplicateWorkflow with the surviving instance id.
func (o *WorkflowOrchestrator) SubmitForApproval(ctx context.Context, in SubmitApprovalInput) (*repository.ApprovalRequest, error) {
	mapping, ok := approvalWorkflowTypes[in.ApprovalType]
	if !ok {
		return nil, errors.InvalidInput("approval_type", fmt.Sprintf("unknown approval type %q", in.ApprovalType))
	}

	quantity := in.Amount
	if quantity == nil && in.DaysCount != nil {
		q := int64(*in.DaysCount)
		quantity = &q
	}

	chain, err := o.resolver.Resolve(ctx, in.ApprovalType, quantity, in.DepartmentID)
	if err != nil {
		return nil, err
	}

	handler, err := o.engine.Handler(mapping.workflowType)
	if err != nil {
		return nil, err
	}

	wf := &repository.WorkflowInstance{
		WorkflowType:    mapping.workflowType,
		EntityID:        in.EntityID,
		EntityType:      mapping.entityType,
		Status:          handler.InitialStatus(),
		CurrentState:    levelLabel(1),
		CurrentAssignee: chain[0].ApproverID,
		Initiator:       in.RequestorID,
		StartedAt:       time.Now(),
		DueDate:         in.DueDate,
	}
	priority := in.Priority
	if priority == "" {
		priority = "normal"
	}

	req := &repository.ApprovalRequest{
		EntityID:          in.EntityID,
		EntityType:        mapping.entityType,
		ApprovalType:      in.ApprovalType,
		Status:            repository.ApprovalStatusPending,
		RequestorID:       in.RequestorID,
		CurrentApproverID: chain[0].ApproverID,
		CurrentLevel:      1,
		TotalLevels:       len(chain),
		Amount:            in.Amount,
		DaysCount:         in.DaysCount,
		Priority:          priority,
		SubmittedAt:       time.Now(),
		DueDate:           in.DueDate,
	}

	levels := make([]*repository.ApprovalLevel, 0, len(chain))
	for _, rung := range chain {
		levels = append(levels, &repository.ApprovalLevel{
			Level:        rung.Level,
			ApproverRole: rung.ApproverRole,
			ApproverID:   rung.ApproverID,
		})
	}

	var deadline *repository.WorkflowDeadline
	if in.DueDate != nil {
		deadline = &repository.WorkflowDeadline{
			DeadlineAt:   *in.DueDate,
			WarningAt:    in.DueDate.Add(-deadlineWarningLead),
			AssigneeID:   chain[0].ApproverID,
			DeadlineType: repository.DeadlineTypeApprovalDecision,
		}
	}

	if err := o.requests.Create(ctx, wf, req, levels, deadline); err != nil {
		return nil, err
	}

	o.notify(ctx, []string{in.RequestorID}, EventApprovalSubmitted, req, nil)
	o.notifyApprover(ctx, req, chain[0].ApproverID, EventApprovalRequired)
	o.invalidatePending(ctx, chain[0].ApproverID)

	o.log.Info().
		Str("request_id", req.ID).
		Str("workflow_instance_id", wf.ID).
		Str("approval_type", string(in.ApprovalType)).
		Int("total_levels", req.TotalLevels).
		Msg("Approval request submitted")

	return req, nil
}

// SubmitLeaveRequest submits a leave request routed by day count.
func (o *WorkflowOrchestrator) SubmitLeaveRequest(ctx context.Context, entityID, requestorID string, daysCount int, departmentID *string, dueDate *time.Time) (*repository.ApprovalRequest, error) {
	return o.SubmitForApproval(ctx, SubmitApprovalInput{
		EntityID:     entityID,
		ApprovalType: repository.ApprovalTypeLeaveRequest,
		RequestorID:  requestorID,
		DaysCount:    &daysCount,
		DepartmentID: departmentID,
		DueDate:      dueDate,
	})
}

// SubmitExpenseClaim submits an expense claim routed by amount in cents.
func (o *WorkflowOrchestrator) SubmitExpenseClaim(ctx context.Context, entityID, requestorID string, amount int64, departmentID *string, dueDate *time.Time) (*repository.ApprovalRequest, error) {
	return o.SubmitForApproval(ctx, SubmitApprovalInput{
		EntityID:     entityID,
		ApprovalType: repository.ApprovalTypeExpenseClaim,
		RequestorID:  requestorID,
		Amount:       &amount,
		DepartmentID: departmentID,
		DueDate:      dueDate,
	})
}

// SubmitOvertimeRequest submits an overtime request routed by hours.
func (o *WorkflowOrchestrator) SubmitOvertimeRequest(ctx context.Context, entityID, requestorID string, hours int64, departmentID *string, dueDate *time.Time) (*repository.ApprovalRequest, error) {
	return o.SubmitForApproval(ctx, SubmitApprovalInput{
		EntityID:     entityID,
		ApprovalType: repository.ApprovalTypeOvertimeRequest,
		RequestorID:  requestorID,
		Amount:       &hours,
		DepartmentID: departmentID,
		DueDate:      dueDate,
	})
}

// ── Decisions ────────────────────────────────────────────────────────────────

// DecisionInput carries one approver action.
type DecisionInput struct {
	RequestID   string
	Level       int
	Decision    repository.Decision
	ActorID     string
	Comments    *string
	DelegateTo  *string // required for delegate
}

// ProcessDecision applies one decision to a pending request. The level must
// equal the request's current level; a mismatch, or losing the storage-level
// compare-and-swap to a concurrent decision, yields ErrCodeStaleApproval.
func (o *WorkflowOrchestrator) ProcessDecision(ctx context.Context, in DecisionInput) (*repository.ApprovalRequest, error) {
	req, err := o.requests.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if req.Status != repository.ApprovalStatusPending || in.Level != req.CurrentLevel {
		return nil, errors.StaleApproval(in.RequestID, in.Level)
	}
	if err := o.assertCanAct(req, in.ActorID); err != nil {
		return nil, err
	}

	entry := &repository.ApprovalHistoryEntry{
		RequestID:  req.ID,
		Level:      in.Level,
		ApproverID: in.ActorID,
		Decision:   in.Decision,
		Comments:   in.Comments,
	}

	switch in.Decision {
	case repository.DecisionApprove:
		err = o.approve(ctx, req, in, entry)
	case repository.DecisionReject:
		err = o.reject(ctx, req, in, entry)
	case repository.DecisionRequestMoreInfo:
		// Annotation only: level and assignee unchanged, deadline untouched.
		err = o.requests.Reassign(ctx, req.ID, in.Level, nil, entry)
		if err == nil {
			o.notify(ctx, []string{req.RequestorID}, EventMoreInfoRequested, req, nil)
		}
	case repository.DecisionDelegate:
		if in.DelegateTo == nil || *in.DelegateTo == "" {
			return nil, errors.InvalidInput("delegate_to", "delegation target is required")
		}
		err = o.requests.Reassign(ctx, req.ID, in.Level, in.DelegateTo, entry)
		if err == nil {
			o.notifyApprover(ctx, req, in.DelegateTo, EventApprovalDelegated)
			o.invalidatePending(ctx, req.CurrentApproverID, in.DelegateTo)
		}
	default:
		return nil, errors.InvalidInput("decision", fmt.Sprintf("unsupported decision %q", in.Decision))
	}
	if err != nil {
		return nil, err
	}

	return o.requests.GetByID(ctx, req.ID)
}

func (o *WorkflowOrchestrator) approve(ctx context.Context, req *repository.ApprovalRequest, in DecisionInput, entry *repository.ApprovalHistoryEntry) error {
	if req.CurrentLevel == req.TotalLevels {
		if err := o.requests.ApproveFinal(ctx, req.ID, in.Level, in.Comments, entry); err != nil {
			return err
		}

		// Entity-side activation is the caller's concern; once the approved
		// notification is out the umbrella instance can finish.
		if _, err := o.engine.Transition(ctx, req.WorkflowInstanceID, repository.WorkflowStatusApproved, "approved", nil, in.ActorID, in.Comments); err != nil {
			o.log.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to mark workflow approved")
		} else if _, err := o.engine.Transition(ctx, req.WorkflowInstanceID, repository.WorkflowStatusCompleted, "completed", nil, in.ActorID, nil); err != nil {
			o.log.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to complete approved workflow")
		}

		o.notify(ctx, []string{req.RequestorID}, EventApprovalApproved, req, nil)
		o.invalidatePending(ctx, req.CurrentApproverID)
		return nil
	}

	// Advance to the next level of the chain snapshot, re-resolving the
	// approver when the snapshot was left unassigned.
	nextLevel, err := o.requests.GetLevel(ctx, req.ID, req.CurrentLevel+1)
	if err != nil {
		return err
	}
	nextApprover := nextLevel.ApproverID
	if nextApprover == nil {
		nextApprover = o.resolver.ResolveApprover(ctx, nextLevel.ApproverRole, nil)
	}

	if err := o.requests.ApproveAndAdvance(ctx, req.ID, in.Level, nextApprover, entry); err != nil {
		return err
	}

	if err := o.instances.UpdateAssignment(ctx, req.WorkflowInstanceID, levelLabel(req.CurrentLevel+1), nextApprover); err != nil {
		o.log.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to update workflow assignment")
	}
	o.restoreFromEscalated(ctx, req.WorkflowInstanceID, in.ActorID)

	// req still holds the pre-advance snapshot; the next approver must see
	// the level they are asked to decide at.
	if nextApprover != nil {
		o.notify(ctx, []string{*nextApprover}, EventApprovalRequired, req,
			map[string]any{"level": req.CurrentLevel + 1})
	}
	o.invalidatePending(ctx, req.CurrentApproverID, nextApprover)
	return nil
}

func (o *WorkflowOrchestrator) reject(ctx context.Context, req *repository.ApprovalRequest, in DecisionInput, entry *repository.ApprovalHistoryEntry) error {
	if err := o.requests.Reject(ctx, req.ID, in.Level, in.Comments, entry); err != nil {
		return err
	}

	if _, err := o.engine.Transition(ctx, req.WorkflowInstanceID, repository.WorkflowStatusRejected, "rejected", nil, in.ActorID, in.Comments); err != nil {
		o.log.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to mark workflow rejected")
	}

	o.notify(ctx, []string{req.RequestorID}, EventApprovalRejected, req, nil)
	o.invalidatePending(ctx, req.CurrentApproverID)
	return nil
}

// restoreFromEscalated returns an escalated instance to pending_approval
// after its level advanced.
func (o *WorkflowOrchestrator) restoreFromEscalated(ctx context.Context, instanceID, actorID string) {
	wf, err := o.instances.GetByID(ctx, instanceID)
	if err != nil || wf.Status != repository.WorkflowStatusEscalated {
		return
	}
	if _, err := o.engine.Transition(ctx, instanceID, repository.WorkflowStatusPendingApproval, wf.CurrentState, wf.CurrentAssignee, actorID, nil); err != nil {
		o.log.Warn().Err(err).Str("workflow_instance_id", instanceID).Msg("Failed to restore escalated workflow")
	}
}

// ── Escalation ───────────────────────────────────────────────────────────────

// EscalateToNextApprover reassigns a pending request to the supervisor of its
// current approver without changing the chain level. The escalation is
// recorded in the request history and mirrored on the umbrella instance.
func (o *WorkflowOrchestrator) EscalateToNextApprover(ctx context.Context, requestID, actorID string, reason *string) (*repository.ApprovalRequest, error) {
	req, err := o.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != repository.ApprovalStatusPending {
		return nil, errors.StaleApproval(requestID, req.CurrentLevel)
	}
	if req.CurrentApproverID == nil {
		return nil, errors.Newf(errors.ErrCodeConflict, "request %s has no assigned approver to escalate from", requestID)
	}

	supervisor, err := o.identity.GetSupervisor(ctx, *req.CurrentApproverID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve escalation target")
	}

	entry := &repository.ApprovalHistoryEntry{
		RequestID:  req.ID,
		Level:      req.CurrentLevel,
		ApproverID: actorID,
		Decision:   repository.DecisionEscalate,
		Comments:   reason,
	}
	if err := o.requests.Reassign(ctx, req.ID, req.CurrentLevel, &supervisor, entry); err != nil {
		return nil, err
	}

	wf, err := o.instances.GetByID(ctx, req.WorkflowInstanceID)
	if err == nil && wf.Status == repository.WorkflowStatusPendingApproval {
		if _, err := o.engine.Transition(ctx, wf.ID, repository.WorkflowStatusEscalated, wf.CurrentState, &supervisor, actorID, reason); err != nil {
			o.log.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to mark workflow escalated")
		}
	}

	o.notifyApprover(ctx, req, &supervisor, EventApprovalEscalated)
	o.invalidatePending(ctx, req.CurrentApproverID, &supervisor)

	o.log.Info().
		Str("request_id", req.ID).
		Str("escalated_to", supervisor).
		Int("level", req.CurrentLevel).
		Msg("Approval request escalated")

	return o.requests.GetByID(ctx, requestID)
}

// ── Withdrawal ───────────────────────────────────────────────────────────────

// WithdrawApprovalRequest cancels a pending request. Withdrawing a request
// that already reached a terminal state is a no-op returning the current
// state, not an error. Requestor/administrator authorization is enforced by
// the calling layer.
func (o *WorkflowOrchestrator) WithdrawApprovalRequest(ctx context.Context, requestID, actorID string, reason *string) (*repository.ApprovalRequest, error) {
	current, err := o.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	entry := &repository.ApprovalHistoryEntry{
		RequestID:  requestID,
		Level:      current.CurrentLevel,
		ApproverID: actorID,
		Decision:   repository.DecisionWithdraw,
		Comments:   reason,
	}

	req, changed, err := o.requests.Withdraw(ctx, requestID, entry)
	if err != nil {
		return nil, err
	}
	if !changed {
		return req, nil
	}

	wf, err := o.instances.GetByID(ctx, req.WorkflowInstanceID)
	if err == nil && !wf.Status.Terminal() {
		if _, err := o.engine.Transition(ctx, wf.ID, repository.WorkflowStatusCancelled, "withdrawn", nil, actorID, reason); err != nil {
			o.log.Warn().Err(err).Str("request_id", requestID).Msg("Failed to cancel workflow on withdrawal")
		}
	}

	o.notify(ctx, []string{req.RequestorID}, EventApprovalWithdrawn, req, nil)
	o.invalidatePending(ctx, current.CurrentApproverID)
	return req, nil
}

// ── Bulk approval ────────────────────────────────────────────────────────────

// BulkApproveResult reports the outcome for one id in a bulk operation.
type BulkApproveResult struct {
	RequestID string
	Request   *repository.ApprovalRequest
	Err       error
}

// BulkApprove approves each request at its current level, independently.
// One failure never blocks the rest; results are reported per id.
func (o *WorkflowOrchestrator) BulkApprove(ctx context.Context, requestIDs []string, actorID string, comments *string) []BulkApproveResult {
	results := make([]BulkApproveResult, 0, len(requestIDs))
	for _, id := range requestIDs {
		result := BulkApproveResult{RequestID: id}

		req, err := o.requests.GetByID(ctx, id)
		if err != nil {
			result.Err = err
			results = append(results, result)
			continue
		}

		result.Request, result.Err = o.ProcessDecision(ctx, DecisionInput{
			RequestID: id,
			Level:     req.CurrentLevel,
			Decision:  repository.DecisionApprove,
			ActorID:   actorID,
			Comments:  comments,
		})
		results = append(results, result)
	}
	return results
}

// ── Queries ──────────────────────────────────────────────────────────────────

// ApprovalStatusView combines a request with its decision history and the
// umbrella instance's audit trail.
type ApprovalStatusView struct {
	Request     *repository.ApprovalRequest
	History     []*repository.ApprovalHistoryEntry
	Transitions []*repository.WorkflowStateTransition
}

// GetApprovalStatus returns the full status view for one request.
func (o *WorkflowOrchestrator) GetApprovalStatus(ctx context.Context, requestID string) (*ApprovalStatusView, error) {
	req, err := o.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	history, err := o.requests.GetHistory(ctx, requestID)
	if err != nil {
		return nil, err
	}
	transitions, err := o.instances.GetTransitions(ctx, req.WorkflowInstanceID)
	if err != nil {
		return nil, err
	}
	return &ApprovalStatusView{Request: req, History: history, Transitions: transitions}, nil
}

// GetPendingApprovalsForApprover returns pending requests for an approver.
// limit <= 0 returns the full set.
func (o *WorkflowOrchestrator) GetPendingApprovalsForApprover(ctx context.Context, approverID string, limit, offset int) ([]*repository.ApprovalRequest, error) {
	return o.requests.GetPendingForApprover(ctx, approverID, limit, offset)
}

// CountPendingApprovals counts pending requests for an approver, serving
// from the cache when warm.
func (o *WorkflowOrchestrator) CountPendingApprovals(ctx context.Context, approverID string) (int, error) {
	if count, ok := o.cache.GetPendingCount(ctx, approverID); ok {
		return count, nil
	}

	count, err := o.requests.CountPendingForApprover(ctx, approverID)
	if err != nil {
		return 0, err
	}
	o.cache.SetPendingCount(ctx, approverID, count)
	return count, nil
}

// GetApprovalsByRequestor returns all requests a user has submitted.
func (o *WorkflowOrchestrator) GetApprovalsByRequestor(ctx context.Context, requestorID string) ([]*repository.ApprovalRequest, error) {
	return o.requests.GetByRequestor(ctx, requestorID)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// assertCanAct checks that the actor is the assigned approver. Unassigned
// levels can be acted on by any holder of the level's role; role membership
// itself is the calling layer's authorization concern.
func (o *WorkflowOrchestrator) assertCanAct(req *repository.ApprovalRequest, actorID string) error {
	if req.CurrentApproverID == nil || *req.CurrentApproverID == actorID {
		return nil
	}
	return errors.New(errors.ErrCodeUnauthorized, "user is not the assigned approver for this request").
		WithDetail("request_id", req.ID).
		WithDetail("current_level", req.CurrentLevel)
}

func (o *WorkflowOrchestrator) notifyApprover(ctx context.Context, req *repository.ApprovalRequest, approverID *string, eventType string) {
	if approverID == nil {
		return
	}
	o.notify(ctx, []string{*approverID}, eventType, req, nil)
}

func (o *WorkflowOrchestrator) notify(ctx context.Context, recipients []string, eventType string, req *repository.ApprovalRequest, extra map[string]any) {
	payload := map[string]any{
		"approval_type": string(req.ApprovalType),
		"entity_id":     req.EntityID,
		"entity_type":   req.EntityType,
		"level":         req.CurrentLevel,
		"total_levels":  req.TotalLevels,
	}
	for k, v := range extra {
		payload[k] = v
	}
	o.notifier.Notify(ctx, recipients, eventType, "approval_request", req.ID, payload)
}

func (o *WorkflowOrchestrator) invalidatePending(ctx context.Context, approverIDs ...*string) {
	ids := make([]string, 0, len(approverIDs))
	for _, id := range approverIDs {
		if id != nil {
			ids = append(ids, *id)
		}
	}
	if len(ids) > 0 {
		o.cache.Invalidate(ctx, ids...)
	}
}

func levelLabel(level int) string {
	return fmt.Sprintf("level_%d", level)
}
