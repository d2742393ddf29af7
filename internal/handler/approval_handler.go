package handler

import (
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
	"github.com/pesio-ai/be-hr-workflows/internal/service"
)

// ApprovalHandler serves the approval request endpoints.
type ApprovalHandler struct {
	orchestrator *service.WorkflowOrchestrator
	log          *logger.Logger
}

// NewApprovalHandler creates a new ApprovalHandler.
func NewApprovalHandler(orchestrator *service.WorkflowOrchestrator, log *logger.Logger) *ApprovalHandler {
	return &ApprovalHandler{orchestrator: orchestrator, log: log}
}

type submitApprovalRequest struct {
	EntityID     string     `json:"entity_id" validate:"required"`
	ApprovalType string     `json:"approval_type" validate:"required"`
	Amount       *int64     `json:"amount,omitempty"`
	DaysCount    *int       `json:"days_count,omitempty"`
	DepartmentID *string    `json:"department_id,omitempty"`
	Priority     string     `json:"priority,omitempty" validate:"omitempty,oneof=low normal high urgent"`
	DueDate      *time.Time `json:"due_date,omitempty"`
}

// Submit handles POST /v1/approvals.
func (h *ApprovalHandler) Submit(w http.ResponseWriter, r *http.Request) {
	requestor, err := actorID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req submitApprovalRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.orchestrator.SubmitForApproval(r.Context(), service.SubmitApprovalInput{
		EntityID:     req.EntityID,
		ApprovalType: repository.ApprovalType(req.ApprovalType),
		RequestorID:  requestor,
		Amount:       req.Amount,
		DaysCount:    req.DaysCount,
		DepartmentID: req.DepartmentID,
		Priority:     req.Priority,
		DueDate:      req.DueDate,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type decisionRequest struct {
	Level      int     `json:"level" validate:"required,min=1"`
	Decision   string  `json:"decision" validate:"required,oneof=approve reject request_more_info delegate"`
	Comments   *string `json:"comments,omitempty"`
	DelegateTo *string `json:"delegate_to,omitempty"`
}

// Decide handles POST /v1/approvals/{id}/decision.
func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req decisionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.orchestrator.ProcessDecision(r.Context(), service.DecisionInput{
		RequestID:  r.PathValue("id"),
		Level:      req.Level,
		Decision:   repository.Decision(req.Decision),
		ActorID:    actor,
		Comments:   req.Comments,
		DelegateTo: req.DelegateTo,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type reasonRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// Escalate handles POST /v1/approvals/{id}/escalate.
func (h *ApprovalHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.orchestrator.EscalateToNextApprover(r.Context(), r.PathValue("id"), actor, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Withdraw handles POST /v1/approvals/{id}/withdraw.
func (h *ApprovalHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.orchestrator.WithdrawApprovalRequest(r.Context(), r.PathValue("id"), actor, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type bulkApproveRequest struct {
	RequestIDs []string `json:"request_ids" validate:"required,min=1,dive,required"`
	Comments   *string  `json:"comments,omitempty"`
}

type bulkApproveItem struct {
	RequestID string                      `json:"request_id"`
	Request   *repository.ApprovalRequest `json:"request,omitempty"`
	Error     *errorResponse              `json:"error,omitempty"`
}

// BulkApprove handles POST /v1/approvals/bulk-approve.
func (h *ApprovalHandler) BulkApprove(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req bulkApproveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	results := h.orchestrator.BulkApprove(r.Context(), req.RequestIDs, actor, req.Comments)

	items := make([]bulkApproveItem, 0, len(results))
	for _, res := range results {
		item := bulkApproveItem{RequestID: res.RequestID, Request: res.Request}
		if res.Err != nil {
			item.Error = &errorResponse{
				Code:    string(apperrors.CodeOf(res.Err)),
				Message: res.Err.Error(),
			}
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

// GetStatus handles GET /v1/approvals/{id}.
func (h *ApprovalHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.orchestrator.GetApprovalStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListPending handles GET /v1/approvals/pending.
func (h *ApprovalHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	requests, err := h.orchestrator.GetPendingApprovalsForApprover(r.Context(), actor, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"limit":    limit,
		"offset":   offset,
	})
}

// CountPending handles GET /v1/approvals/pending/count.
func (h *ApprovalHandler) CountPending(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	count, err := h.orchestrator.CountPendingApprovals(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// ListMine handles GET /v1/approvals/mine.
func (h *ApprovalHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	requests, err := h.orchestrator.GetApprovalsByRequestor(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}
