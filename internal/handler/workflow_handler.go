package handler

import (
	"net/http"

	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/service"
)

// WorkflowHandler serves read access to workflow instances and their audit
// trail.
type WorkflowHandler struct {
	engine    *service.WorkflowEngine
	instances service.WorkflowInstanceStore
	log       *logger.Logger
}

// NewWorkflowHandler creates a new WorkflowHandler.
func NewWorkflowHandler(engine *service.WorkflowEngine, instances service.WorkflowInstanceStore, log *logger.Logger) *WorkflowHandler {
	return &WorkflowHandler{engine: engine, instances: instances, log: log}
}

// Get handles GET /v1/workflows/{id}.
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	wf, err := h.instances.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// GetTransitions handles GET /v1/workflows/{id}/transitions.
func (h *WorkflowHandler) GetTransitions(w http.ResponseWriter, r *http.Request) {
	transitions, err := h.engine.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": transitions})
}

// ListActive handles GET /v1/workflows.
func (h *WorkflowHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	instances, err := h.instances.ListActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": instances})
}

// Health handles GET /health.
func (h *WorkflowHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
