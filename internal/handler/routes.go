package handler

import "net/http"

// Handlers groups the HTTP handlers for route registration.
type Handlers struct {
	Approvals   *ApprovalHandler
	Processes   *ProcessHandler
	Cycles      *CycleHandler
	ChainConfig *ChainConfigHandler
	Workflows   *WorkflowHandler
}

// Register wires all routes onto the mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Workflows.Health)

	// Approval requests. Static segments before the {id} wildcard.
	mux.HandleFunc("POST /v1/approvals", h.Approvals.Submit)
	mux.HandleFunc("POST /v1/approvals/bulk-approve", h.Approvals.BulkApprove)
	mux.HandleFunc("GET /v1/approvals/pending", h.Approvals.ListPending)
	mux.HandleFunc("GET /v1/approvals/pending/count", h.Approvals.CountPending)
	mux.HandleFunc("GET /v1/approvals/mine", h.Approvals.ListMine)
	mux.HandleFunc("GET /v1/approvals/{id}", h.Approvals.GetStatus)
	mux.HandleFunc("POST /v1/approvals/{id}/decision", h.Approvals.Decide)
	mux.HandleFunc("POST /v1/approvals/{id}/escalate", h.Approvals.Escalate)
	mux.HandleFunc("POST /v1/approvals/{id}/withdraw", h.Approvals.Withdraw)

	// Employee processes.
	mux.HandleFunc("POST /v1/processes", h.Processes.Start)
	mux.HandleFunc("GET /v1/processes/{id}", h.Processes.Get)
	mux.HandleFunc("GET /v1/processes/{id}/progress", h.Processes.GetProgress)
	mux.HandleFunc("POST /v1/processes/{id}/cancel", h.Processes.Cancel)
	mux.HandleFunc("POST /v1/processes/tasks/{taskId}/complete", h.Processes.CompleteTask)

	// Review cycles.
	mux.HandleFunc("POST /v1/review-cycles", h.Cycles.Initiate)
	mux.HandleFunc("GET /v1/review-cycles", h.Cycles.List)
	mux.HandleFunc("GET /v1/review-cycles/{id}", h.Cycles.Get)
	mux.HandleFunc("GET /v1/review-cycles/{id}/progress", h.Cycles.GetProgress)
	mux.HandleFunc("POST /v1/review-cycles/{id}/advance", h.Cycles.AdvancePhase)
	mux.HandleFunc("POST /v1/review-cycles/{id}/override-phase", h.Cycles.OverridePhase)
	mux.HandleFunc("POST /v1/review-cycles/{id}/self-assessment", h.Cycles.SubmitSelfAssessment)
	mux.HandleFunc("POST /v1/review-cycles/{id}/manager-review", h.Cycles.SubmitManagerReview)
	mux.HandleFunc("POST /v1/review-cycles/{id}/feedback", h.Cycles.RecordFeedback)
	mux.HandleFunc("POST /v1/review-cycles/{id}/reminders", h.Cycles.SendReminders)

	// Chain configuration.
	mux.HandleFunc("POST /v1/chain-configs", h.ChainConfig.Create)
	mux.HandleFunc("GET /v1/chain-configs", h.ChainConfig.List)
	mux.HandleFunc("GET /v1/chain-configs/{id}", h.ChainConfig.Get)
	mux.HandleFunc("PUT /v1/chain-configs/{id}", h.ChainConfig.Update)
	mux.HandleFunc("DELETE /v1/chain-configs/{id}", h.ChainConfig.Deactivate)

	// Workflow instances.
	mux.HandleFunc("GET /v1/workflows", h.Workflows.ListActive)
	mux.HandleFunc("GET /v1/workflows/{id}", h.Workflows.Get)
	mux.HandleFunc("GET /v1/workflows/{id}/transitions", h.Workflows.GetTransitions)
}
