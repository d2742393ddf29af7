package handler

import (
	"net/http"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
	"github.com/pesio-ai/be-hr-workflows/internal/service"
)

// CycleHandler serves the performance review cycle endpoints.
type CycleHandler struct {
	cycles *service.ReviewCycleService
	log    *logger.Logger
}

// NewCycleHandler creates a new CycleHandler.
func NewCycleHandler(cycles *service.ReviewCycleService, log *logger.Logger) *CycleHandler {
	return &CycleHandler{cycles: cycles, log: log}
}

type initiateCycleRequest struct {
	Name                   string     `json:"name" validate:"required"`
	ReviewPeriodStart      time.Time  `json:"review_period_start" validate:"required"`
	ReviewPeriodEnd        time.Time  `json:"review_period_end" validate:"required"`
	StartDate              time.Time  `json:"start_date" validate:"required"`
	EndDate                time.Time  `json:"end_date" validate:"required"`
	SelfAssessmentDeadline *time.Time `json:"self_assessment_deadline,omitempty"`
	ManagerReviewDeadline  *time.Time `json:"manager_review_deadline,omitempty"`
	CalibrationDeadline    *time.Time `json:"calibration_deadline,omitempty"`
	FeedbackDeadline       *time.Time `json:"feedback_deadline,omitempty"`
	DepartmentIDs          []string   `json:"department_ids,omitempty"`
	Participants           []struct {
		EmployeeID string `json:"employee_id" validate:"required"`
		ManagerID  string `json:"manager_id" validate:"required"`
	} `json:"participants" validate:"required,min=1,dive"`
}

// Initiate handles POST /v1/review-cycles.
func (h *CycleHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req initiateCycleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	participants := make([]service.ParticipantSpec, 0, len(req.Participants))
	for _, p := range req.Participants {
		participants = append(participants, service.ParticipantSpec{
			EmployeeID: p.EmployeeID,
			ManagerID:  p.ManagerID,
		})
	}

	cycle, err := h.cycles.InitiateCycle(r.Context(), service.InitiateCycleInput{
		Name:                   req.Name,
		ReviewPeriodStart:      req.ReviewPeriodStart,
		ReviewPeriodEnd:        req.ReviewPeriodEnd,
		StartDate:              req.StartDate,
		EndDate:                req.EndDate,
		SelfAssessmentDeadline: req.SelfAssessmentDeadline,
		ManagerReviewDeadline:  req.ManagerReviewDeadline,
		CalibrationDeadline:    req.CalibrationDeadline,
		FeedbackDeadline:       req.FeedbackDeadline,
		DepartmentIDs:          req.DepartmentIDs,
		Participants:           participants,
		InitiatedBy:            actor,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cycle)
}

// AdvancePhase handles POST /v1/review-cycles/{id}/advance. The target phase
// in the body selects which gated phase start runs.
func (h *CycleHandler) AdvancePhase(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Phase string `json:"phase" validate:"required,oneof=self_assessment manager_review calibration feedback_delivery completed archived"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	cycleID := r.PathValue("id")
	switch repository.ReviewPhase(req.Phase) {
	case repository.PhaseSelfAssessment:
		err = h.cycles.StartSelfAssessmentPhase(r.Context(), cycleID, actor)
	case repository.PhaseManagerReview:
		err = h.cycles.StartManagerReviewPhase(r.Context(), cycleID, actor)
	case repository.PhaseCalibration:
		err = h.cycles.StartCalibrationPhase(r.Context(), cycleID, actor)
	case repository.PhaseFeedbackDelivery:
		err = h.cycles.StartFeedbackPhase(r.Context(), cycleID, actor)
	case repository.PhaseCompleted:
		err = h.cycles.CompleteCycle(r.Context(), cycleID, actor)
	case repository.PhaseArchived:
		err = h.cycles.ArchiveCycle(r.Context(), cycleID, actor)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"phase": req.Phase})
}

// OverridePhase handles POST /v1/review-cycles/{id}/override-phase.
func (h *CycleHandler) OverridePhase(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Phase  string `json:"phase" validate:"required"`
		Reason string `json:"reason" validate:"required"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.cycles.OverridePhase(r.Context(), r.PathValue("id"), repository.ReviewPhase(req.Phase), actor, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"phase": req.Phase})
}

type participantActionRequest struct {
	EmployeeID string `json:"employee_id" validate:"required"`
}

// SubmitSelfAssessment handles POST /v1/review-cycles/{id}/self-assessment.
func (h *CycleHandler) SubmitSelfAssessment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.cycles.SubmitSelfAssessment(r.Context(), r.PathValue("id"), actor); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "submitted"})
}

// SubmitManagerReview handles POST /v1/review-cycles/{id}/manager-review.
func (h *CycleHandler) SubmitManagerReview(w http.ResponseWriter, r *http.Request) {
	var req participantActionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.cycles.SubmitManagerReview(r.Context(), r.PathValue("id"), req.EmployeeID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "submitted"})
}

// RecordFeedback handles POST /v1/review-cycles/{id}/feedback.
func (h *CycleHandler) RecordFeedback(w http.ResponseWriter, r *http.Request) {
	var req participantActionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.cycles.RecordFeedbackMeeting(r.Context(), r.PathValue("id"), req.EmployeeID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// Get handles GET /v1/review-cycles/{id}.
func (h *CycleHandler) Get(w http.ResponseWriter, r *http.Request) {
	cycle, participants, err := h.cycles.GetCycle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cycle":        cycle,
		"participants": participants,
	})
}

// GetProgress handles GET /v1/review-cycles/{id}/progress.
func (h *CycleHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.cycles.GetCycleProgress(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// List handles GET /v1/review-cycles, optionally filtered by phase.
func (h *CycleHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		cycles []*repository.ReviewCycle
		err    error
	)
	if phase := r.URL.Query().Get("phase"); phase != "" {
		cycles, err = h.cycles.GetCyclesByPhase(r.Context(), repository.ReviewPhase(phase))
	} else {
		cycles, err = h.cycles.GetActiveCycles(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": cycles})
}

// SendReminders handles POST /v1/review-cycles/{id}/reminders.
func (h *CycleHandler) SendReminders(w http.ResponseWriter, r *http.Request) {
	sent, err := h.cycles.SendPhaseReminders(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}
