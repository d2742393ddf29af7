package service

import (
	"context"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

// WorkflowTypeHandler supplies the type-specific behavior of a workflow kind:
// its initial status and its legal transition table. Handlers are selected by
// the workflow type discriminator so type-specific rules live here instead of
// switch statements scattered through the orchestrator.
type WorkflowTypeHandler interface {
	Type() repository.WorkflowType
	InitialStatus() repository.WorkflowStatus
	// Allowed reports whether from -> to is a legal transition.
	Allowed(from, to repository.WorkflowStatus) bool
}

// transitionTable is the common handler implementation: a static map from
// status to its legal successors.
type transitionTable struct {
	workflowType repository.WorkflowType
	initial      repository.WorkflowStatus
	transitions  map[repository.WorkflowStatus][]repository.WorkflowStatus
}

func (t *transitionTable) Type() repository.WorkflowType { return t.workflowType }

func (t *transitionTable) InitialStatus() repository.WorkflowStatus { return t.initial }

func (t *transitionTable) Allowed(from, to repository.WorkflowStatus) bool {
	for _, next := range t.transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// approvalTransitions is shared by every request-type workflow: the instance
// mirrors its approval request, with escalation and hold as side paths.
var approvalTransitions = map[repository.WorkflowStatus][]repository.WorkflowStatus{
	repository.WorkflowStatusDraft: {
		repository.WorkflowStatusPendingApproval,
		repository.WorkflowStatusCancelled,
	},
	repository.WorkflowStatusPendingApproval: {
		repository.WorkflowStatusApproved,
		repository.WorkflowStatusRejected,
		repository.WorkflowStatusCancelled,
		repository.WorkflowStatusEscalated,
		repository.WorkflowStatusOnHold,
	},
	repository.WorkflowStatusEscalated: {
		repository.WorkflowStatusPendingApproval,
		repository.WorkflowStatusApproved,
		repository.WorkflowStatusRejected,
		repository.WorkflowStatusCancelled,
	},
	repository.WorkflowStatusOnHold: {
		repository.WorkflowStatusPendingApproval,
		repository.WorkflowStatusCancelled,
	},
	repository.WorkflowStatusApproved: {
		repository.WorkflowStatusCompleted,
	},
}

// checklistTransitions drives onboarding and offboarding instances.
var checklistTransitions = map[repository.WorkflowStatus][]repository.WorkflowStatus{
	repository.WorkflowStatusDraft: {
		repository.WorkflowStatusInProgress,
		repository.WorkflowStatusCancelled,
	},
	repository.WorkflowStatusInProgress: {
		repository.WorkflowStatusCompleted,
		repository.WorkflowStatusCancelled,
		repository.WorkflowStatusOnHold,
		repository.WorkflowStatusFailed,
	},
	repository.WorkflowStatusOnHold: {
		repository.WorkflowStatusInProgress,
		repository.WorkflowStatusCancelled,
	},
}

// cycleTransitions drives the umbrella instance of a review cycle; the phase
// detail lives on the cycle itself as current_state.
var cycleTransitions = map[repository.WorkflowStatus][]repository.WorkflowStatus{
	repository.WorkflowStatusDraft: {
		repository.WorkflowStatusInProgress,
		repository.WorkflowStatusCancelled,
	},
	repository.WorkflowStatusInProgress: {
		repository.WorkflowStatusCompleted,
		repository.WorkflowStatusCancelled,
	},
}

func defaultHandlers() map[repository.WorkflowType]WorkflowTypeHandler {
	handlers := make(map[repository.WorkflowType]WorkflowTypeHandler)

	for _, wfType := range []repository.WorkflowType{
		repository.WorkflowTypeLeaveApproval,
		repository.WorkflowTypeExpenseApproval,
		repository.WorkflowTypeOvertimeApproval,
		repository.WorkflowTypeTrainingEnrollment,
		repository.WorkflowTypeTransfer,
		repository.WorkflowTypeTimesheetApproval,
	} {
		handlers[wfType] = &transitionTable{
			workflowType: wfType,
			initial:      repository.WorkflowStatusPendingApproval,
			transitions:  approvalTransitions,
		}
	}

	for _, wfType := range []repository.WorkflowType{
		repository.WorkflowTypeOnboarding,
		repository.WorkflowTypeOffboarding,
	} {
		handlers[wfType] = &transitionTable{
			workflowType: wfType,
			initial:      repository.WorkflowStatusInProgress,
			transitions:  checklistTransitions,
		}
	}

	handlers[repository.WorkflowTypeReviewCycle] = &transitionTable{
		workflowType: repository.WorkflowTypeReviewCycle,
		initial:      repository.WorkflowStatusInProgress,
		transitions:  cycleTransitions,
	}

	return handlers
}

// WorkflowEngine owns instance state transitions. Every successful transition
// appends exactly one audit record, in the same transaction as the mutation;
// an illegal transition fails with ErrCodeInvalidTransition and mutates
// nothing.
type WorkflowEngine struct {
	instances WorkflowInstanceStore
	deadlines DeadlineStore
	handlers  map[repository.WorkflowType]WorkflowTypeHandler
	log       *logger.Logger
}

// NewWorkflowEngine creates an engine with the default handler registry.
func NewWorkflowEngine(instances WorkflowInstanceStore, deadlines DeadlineStore, log *logger.Logger) *WorkflowEngine {
	return &WorkflowEngine{
		instances: instances,
		deadlines: deadlines,
		handlers:  defaultHandlers(),
		log:       log,
	}
}

// Handler returns the type handler for a workflow type.
func (e *WorkflowEngine) Handler(wfType repository.WorkflowType) (WorkflowTypeHandler, error) {
	h, ok := e.handlers[wfType]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "unknown workflow type %q", wfType)
	}
	return h, nil
}

// Transition moves an instance to a new status after checking the type's
// transition table. currentState is the new sub-state label; assignee may be
// nil to clear the assignment.
func (e *WorkflowEngine) Transition(
	ctx context.Context,
	instanceID string,
	to repository.WorkflowStatus,
	currentState string,
	assignee *string,
	transitionedBy string,
	reason *string,
) (*repository.WorkflowInstance, error) {
	wf, err := e.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	handler, err := e.Handler(wf.WorkflowType)
	if err != nil {
		return nil, err
	}
	if !handler.Allowed(wf.Status, to) {
		return nil, errors.InvalidTransition(instanceID, string(wf.Status), string(to))
	}

	if err := e.instances.Transition(ctx, instanceID, wf.Status, to, currentState, assignee, transitionedBy, reason); err != nil {
		return nil, err
	}

	if to.Terminal() {
		if err := e.deadlines.CompleteForInstance(ctx, instanceID); err != nil {
			e.log.Warn().Err(err).Str("workflow_instance_id", instanceID).
				Msg("Failed to complete deadlines for terminal workflow")
		}
	}

	e.log.Info().
		Str("workflow_instance_id", instanceID).
		Str("workflow_type", string(wf.WorkflowType)).
		Str("from", string(wf.Status)).
		Str("to", string(to)).
		Msg("Workflow transitioned")

	return e.instances.GetByID(ctx, instanceID)
}

// History returns the transition audit trail for an instance.
func (e *WorkflowEngine) History(ctx context.Context, instanceID string) ([]*repository.WorkflowStateTransition, error) {
	return e.instances.GetTransitions(ctx, instanceID)
}
