package handler

import (
	"net/http"

	apperrors "github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

// ChainConfigHandler serves the approval chain configuration endpoints.
// Edits never touch in-flight requests: those act on their submission-time
// snapshot.
type ChainConfigHandler struct {
	configs *repository.ChainConfigRepository
	log     *logger.Logger
}

// NewChainConfigHandler creates a new ChainConfigHandler.
func NewChainConfigHandler(configs *repository.ChainConfigRepository, log *logger.Logger) *ChainConfigHandler {
	return &ChainConfigHandler{configs: configs, log: log}
}

type chainRungRequest struct {
	ApprovalType  string  `json:"approval_type" validate:"required"`
	SequenceOrder int     `json:"sequence_order" validate:"required,min=1"`
	ApproverRole  string  `json:"approver_role" validate:"required"`
	DepartmentID  *string `json:"department_id,omitempty"`
	MinThreshold  *int64  `json:"min_threshold,omitempty"`
	MaxThreshold  *int64  `json:"max_threshold,omitempty"`
	Active        bool    `json:"active"`
}

func (req *chainRungRequest) validateThresholds() error {
	if req.MinThreshold != nil && req.MaxThreshold != nil && *req.MinThreshold > *req.MaxThreshold {
		return apperrors.InvalidInput("min_threshold", "must not exceed max_threshold")
	}
	return nil
}

// Create handles POST /v1/chain-configs.
func (h *ChainConfigHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req chainRungRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validateThresholds(); err != nil {
		writeError(w, err)
		return
	}

	rung := &repository.ApprovalChainRung{
		ApprovalType:  repository.ApprovalType(req.ApprovalType),
		SequenceOrder: req.SequenceOrder,
		ApproverRole:  req.ApproverRole,
		DepartmentID:  req.DepartmentID,
		MinThreshold:  req.MinThreshold,
		MaxThreshold:  req.MaxThreshold,
		Active:        req.Active,
	}
	if err := h.configs.Create(r.Context(), rung); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rung)
}

// List handles GET /v1/chain-configs?approval_type=...&include_inactive=true.
func (h *ChainConfigHandler) List(w http.ResponseWriter, r *http.Request) {
	approvalType := r.URL.Query().Get("approval_type")
	if approvalType == "" {
		writeError(w, apperrors.InvalidInput("approval_type", "query parameter is required"))
		return
	}

	activeOnly := r.URL.Query().Get("include_inactive") != "true"
	rungs, err := h.configs.List(r.Context(), repository.ApprovalType(approvalType), activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rungs": rungs})
}

// Get handles GET /v1/chain-configs/{id}.
func (h *ChainConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	rung, err := h.configs.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rung)
}

// Update handles PUT /v1/chain-configs/{id}.
func (h *ChainConfigHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req chainRungRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validateThresholds(); err != nil {
		writeError(w, err)
		return
	}

	rung, err := h.configs.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	rung.SequenceOrder = req.SequenceOrder
	rung.ApproverRole = req.ApproverRole
	rung.DepartmentID = req.DepartmentID
	rung.MinThreshold = req.MinThreshold
	rung.MaxThreshold = req.MaxThreshold
	rung.Active = req.Active

	if err := h.configs.Update(r.Context(), rung); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rung)
}

// Deactivate handles DELETE /v1/chain-configs/{id}. Rungs are deactivated,
// never deleted.
func (h *ChainConfigHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.configs.Deactivate(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
