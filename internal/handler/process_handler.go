package handler

import (
	"net/http"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
	"github.com/pesio-ai/be-hr-workflows/internal/service"
)

// ProcessHandler serves the onboarding/offboarding endpoints.
type ProcessHandler struct {
	processes *service.EmployeeProcessService
	log       *logger.Logger
}

// NewProcessHandler creates a new ProcessHandler.
func NewProcessHandler(processes *service.EmployeeProcessService, log *logger.Logger) *ProcessHandler {
	return &ProcessHandler{processes: processes, log: log}
}

type startProcessRequest struct {
	EmployeeID    string    `json:"employee_id" validate:"required"`
	ProcessType   string    `json:"process_type" validate:"required,oneof=onboarding offboarding"`
	StartDate     time.Time `json:"start_date" validate:"required"`
	TargetEndDate time.Time `json:"target_end_date" validate:"required"`
	Tasks         []struct {
		Title      string  `json:"title" validate:"required"`
		AssignedTo *string `json:"assigned_to,omitempty"`
		DueInDays  int     `json:"due_in_days" validate:"min=0"`
	} `json:"tasks,omitempty" validate:"omitempty,dive"`
}

// Start handles POST /v1/processes.
func (h *ProcessHandler) Start(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req startProcessRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	tasks := make([]service.TaskSpec, 0, len(req.Tasks))
	for _, t := range req.Tasks {
		tasks = append(tasks, service.TaskSpec{
			Title:      t.Title,
			AssignedTo: t.AssignedTo,
			DueInDays:  t.DueInDays,
		})
	}

	proc, err := h.processes.StartProcess(r.Context(), req.EmployeeID,
		repository.ProcessType(req.ProcessType), actor, req.StartDate, req.TargetEndDate, tasks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, proc)
}

// Get handles GET /v1/processes/{id}.
func (h *ProcessHandler) Get(w http.ResponseWriter, r *http.Request) {
	proc, tasks, err := h.processes.GetProcess(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"process": proc,
		"tasks":   tasks,
	})
}

// GetProgress handles GET /v1/processes/{id}/progress.
func (h *ProcessHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.processes.Progress(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

type completeTaskRequest struct {
	Notes *string `json:"notes,omitempty"`
}

// CompleteTask handles POST /v1/processes/tasks/{taskId}/complete.
func (h *ProcessHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req completeTaskRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	progress, err := h.processes.CompleteTask(r.Context(), r.PathValue("taskId"), actor, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// Cancel handles POST /v1/processes/{id}/cancel.
func (h *ProcessHandler) Cancel(w http.ResponseWriter, r *http.Request) {
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

	if err := h.processes.CancelProcess(r.Context(), r.PathValue("id"), actor, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
