package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

// ParticipantSpec enrolls one employee when a cycle is initiated.
type ParticipantSpec struct {
	EmployeeID string
	ManagerID  string
}

// InitiateCycleInput carries everything needed to create a review cycle.
type InitiateCycleInput struct {
	Name                   string
	ReviewPeriodStart      time.Time
	ReviewPeriodEnd        time.Time
	StartDate              time.Time
	EndDate                time.Time
	SelfAssessmentDeadline *time.Time
	ManagerReviewDeadline  *time.Time
	CalibrationDeadline    *time.Time
	FeedbackDeadline       *time.Time
	DepartmentIDs          []string
	Participants           []ParticipantSpec
	InitiatedBy            string
}

// ReviewCycleService runs performance review cycles: a cohort of participants
// moving together through a fixed forward-only phase sequence, each phase
// start gated on the previous phase being complete for every participant.
type ReviewCycleService struct {
	cycles    ReviewCycleStore
	instances WorkflowInstanceStore
	engine    *WorkflowEngine
	notifier  Notifier
	log       *logger.Logger
}

// NewReviewCycleService creates a new ReviewCycleService.
func NewReviewCycleService(
	cycles ReviewCycleStore,
	instances WorkflowInstanceStore,
	engine *WorkflowEngine,
	notifier Notifier,
	log *logger.Logger,
) *ReviewCycleService {
	return &ReviewCycleService{
		cycles:    cycles,
		instances: instances,
		engine:    engine,
		notifier:  notifier,
		log:       log,
	}
}

// InitiateCycle creates a cycle in the draft phase with its participant
// roster, umbrella workflow instance and cycle-end deadline, all in one store
// transaction. Creation fails with ErrCodeOverlappingCycle when the
// [start_date, end_date] range intersects another active cycle.
func (s *ReviewCycleService) InitiateCycle(ctx context.Context, input InitiateCycleInput) (*repository.ReviewCycle, error) {
	if input.Name == "" {
		return nil, errors.InvalidInput("name", "must not be empty")
	}
	if !input.EndDate.After(input.StartDate) {
		return nil, errors.InvalidInput("end_date", "must be after the start date")
	}
	if len(input.Participants) == 0 {
		return nil, errors.InvalidInput("participants", "at least one participant is required")
	}

	cycle := &repository.ReviewCycle{
		Name:                   input.Name,
		ReviewPeriodStart:      input.ReviewPeriodStart,
		ReviewPeriodEnd:        input.ReviewPeriodEnd,
		StartDate:              input.StartDate,
		EndDate:                input.EndDate,
		Phase:                  repository.PhaseDraft,
		SelfAssessmentDeadline: input.SelfAssessmentDeadline,
		ManagerReviewDeadline:  input.ManagerReviewDeadline,
		CalibrationDeadline:    input.CalibrationDeadline,
		FeedbackDeadline:       input.FeedbackDeadline,
		DepartmentIDs:          input.DepartmentIDs,
		Active:                 true,
	}

	participants := make([]*repository.ReviewParticipant, 0, len(input.Participants))
	for _, p := range input.Participants {
		participants = append(participants, &repository.ReviewParticipant{
			EmployeeID: p.EmployeeID,
			ManagerID:  p.ManagerID,
		})
	}

	// The store keys the umbrella instance by the cycle id it assigns.
	wf := &repository.WorkflowInstance{
		WorkflowType: repository.WorkflowTypeReviewCycle,
		EntityType:   "review_cycle",
		Status:       repository.WorkflowStatusInProgress,
		CurrentState: string(repository.PhaseDraft),
		Initiator:    input.InitiatedBy,
		StartedAt:    time.Now(),
		DueDate:      &cycle.EndDate,
	}

	deadline := &repository.WorkflowDeadline{
		DeadlineAt:   cycle.EndDate,
		WarningAt:    cycle.EndDate.Add(-deadlineWarningLead),
		DeadlineType: repository.DeadlineTypePhaseEnd,
	}

	if err := s.cycles.Create(ctx, wf, cycle, participants, deadline); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("cycle_id", cycle.ID).
		Str("name", cycle.Name).
		Int("participants", len(participants)).
		Msg("Review cycle initiated")

	return cycle, nil
}

// StartSelfAssessmentPhase opens the cycle: draft becomes self_assessment and
// every participant is asked to submit.
func (s *ReviewCycleService) StartSelfAssessmentPhase(ctx context.Context, cycleID, startedBy string) error {
	return s.advance(ctx, cycleID, repository.PhaseDraft, repository.PhaseSelfAssessment, startedBy, nil)
}

// StartManagerReviewPhase advances to manager_review. Every participant must
// have submitted their self-assessment first.
func (s *ReviewCycleService) StartManagerReviewPhase(ctx context.Context, cycleID, startedBy string) error {
	check := func(p *repository.CycleProgress) *errors.AppError {
		if p.CompletedSelfAssessments < p.TotalEmployees {
			return errors.PhasePrecondition(cycleID, string(repository.PhaseManagerReview),
				"not all participants have submitted a self-assessment")
		}
		return nil
	}
	return s.advance(ctx, cycleID, repository.PhaseSelfAssessment, repository.PhaseManagerReview, startedBy, check)
}

// StartCalibrationPhase advances to calibration. Every manager review must be
// complete first.
func (s *ReviewCycleService) StartCalibrationPhase(ctx context.Context, cycleID, startedBy string) error {
	check := func(p *repository.CycleProgress) *errors.AppError {
		if p.CompletedManagerReviews < p.TotalEmployees {
			return errors.PhasePrecondition(cycleID, string(repository.PhaseCalibration),
				"not all manager reviews are complete")
		}
		return nil
	}
	return s.advance(ctx, cycleID, repository.PhaseManagerReview, repository.PhaseCalibration, startedBy, check)
}

// StartFeedbackPhase advances to feedback_delivery. Calibration carries no
// per-participant record, so the only gate is being in the calibration phase.
func (s *ReviewCycleService) StartFeedbackPhase(ctx context.Context, cycleID, startedBy string) error {
	return s.advance(ctx, cycleID, repository.PhaseCalibration, repository.PhaseFeedbackDelivery, startedBy, nil)
}

// CompleteCycle closes the cycle after every feedback meeting is recorded,
// deactivates it and completes the umbrella instance.
func (s *ReviewCycleService) CompleteCycle(ctx context.Context, cycleID, completedBy string) error {
	check := func(p *repository.CycleProgress) *errors.AppError {
		if p.DeliveredFeedbacks < p.TotalEmployees {
			return errors.PhasePrecondition(cycleID, string(repository.PhaseCompleted),
				"not all feedback meetings have been recorded")
		}
		return nil
	}
	if err := s.advance(ctx, cycleID, repository.PhaseFeedbackDelivery, repository.PhaseCompleted, completedBy, check); err != nil {
		return err
	}

	if err := s.cycles.Deactivate(ctx, cycleID); err != nil {
		return err
	}

	wf, err := s.instances.GetActiveByEntity(ctx, cycleID, repository.WorkflowTypeReviewCycle)
	if err == nil && wf != nil {
		if _, err := s.engine.Transition(ctx, wf.ID, repository.WorkflowStatusCompleted, string(repository.PhaseCompleted), nil, completedBy, nil); err != nil {
			s.log.Warn().Err(err).Str("cycle_id", cycleID).Msg("Failed to complete cycle workflow")
		}
	}
	return nil
}

// ArchiveCycle moves a completed cycle to archived.
func (s *ReviewCycleService) ArchiveCycle(ctx context.Context, cycleID, archivedBy string) error {
	return s.advance(ctx, cycleID, repository.PhaseCompleted, repository.PhaseArchived, archivedBy, nil)
}

// OverridePhase is the administrative escape hatch: it moves a cycle to any
// phase without precondition checks. Audited through the umbrella instance's
// sub-state only.
func (s *ReviewCycleService) OverridePhase(ctx context.Context, cycleID string, to repository.ReviewPhase, overriddenBy string, reason string) error {
	if to.Ordinal() < 0 {
		return errors.InvalidInput("phase", "unknown review phase")
	}
	if err := s.cycles.OverridePhase(ctx, cycleID, to); err != nil {
		return err
	}

	s.log.Warn().
		Str("cycle_id", cycleID).
		Str("phase", string(to)).
		Str("overridden_by", overriddenBy).
		Str("reason", reason).
		Msg("Review cycle phase overridden")

	s.updateInstancePhase(ctx, cycleID, to)
	return nil
}

// advance is the shared gated phase step: verify the cycle is exactly in the
// expected phase, run the optional progress precondition, then move the phase
// with a compare-and-swap so a concurrent advance loses cleanly.
func (s *ReviewCycleService) advance(
	ctx context.Context,
	cycleID string,
	from, to repository.ReviewPhase,
	actorID string,
	check func(*repository.CycleProgress) *errors.AppError,
) error {
	cycle, err := s.cycles.GetByID(ctx, cycleID)
	if err != nil {
		return err
	}
	if cycle.Phase != from {
		return errors.InvalidTransition(cycleID, string(cycle.Phase), string(to))
	}

	if check != nil {
		progress, err := s.cycles.GetProgress(ctx, cycleID)
		if err != nil {
			return err
		}
		if appErr := check(progress); appErr != nil {
			return appErr
		}
	}

	if err := s.cycles.AdvancePhase(ctx, cycleID, from, to); err != nil {
		return err
	}

	s.updateInstancePhase(ctx, cycleID, to)
	s.notifyPhaseStart(ctx, cycleID, to)

	s.log.Info().
		Str("cycle_id", cycleID).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor", actorID).
		Msg("Review cycle phase advanced")
	return nil
}

func (s *ReviewCycleService) updateInstancePhase(ctx context.Context, cycleID string, phase repository.ReviewPhase) {
	wf, err := s.instances.GetActiveByEntity(ctx, cycleID, repository.WorkflowTypeReviewCycle)
	if err != nil || wf == nil {
		return
	}
	if err := s.instances.UpdateAssignment(ctx, wf.ID, string(phase), nil); err != nil {
		s.log.Warn().Err(err).Str("cycle_id", cycleID).Msg("Failed to update cycle instance phase")
	}
}

func (s *ReviewCycleService) notifyPhaseStart(ctx context.Context, cycleID string, phase repository.ReviewPhase) {
	participants, err := s.cycles.ListParticipants(ctx, cycleID)
	if err != nil {
		s.log.Warn().Err(err).Str("cycle_id", cycleID).Msg("Failed to list participants for notification")
		return
	}

	recipients := phaseRecipients(participants, phase)
	if len(recipients) == 0 {
		return
	}
	s.notifier.Notify(ctx, recipients, EventCyclePhaseStarted, "review_cycle", cycleID, map[string]any{
		"phase": string(phase),
	})
}

// phaseRecipients picks who a phase concerns: employees for self-assessment
// and feedback, managers for manager review and calibration.
func phaseRecipients(participants []*repository.ReviewParticipant, phase repository.ReviewPhase) []string {
	seen := make(map[string]bool)
	var recipients []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			recipients = append(recipients, id)
		}
	}

	for _, p := range participants {
		switch phase {
		case repository.PhaseSelfAssessment:
			add(p.EmployeeID)
		case repository.PhaseManagerReview, repository.PhaseCalibration:
			add(p.ManagerID)
		case repository.PhaseFeedbackDelivery:
			add(p.EmployeeID)
			add(p.ManagerID)
		default:
			add(p.EmployeeID)
		}
	}
	return recipients
}

// SubmitSelfAssessment records a participant's self-assessment. Only legal
// while the cycle is in the self_assessment phase; repeating it keeps the
// first timestamp.
func (s *ReviewCycleService) SubmitSelfAssessment(ctx context.Context, cycleID, employeeID string) error {
	if err := s.requirePhase(ctx, cycleID, repository.PhaseSelfAssessment); err != nil {
		return err
	}
	return s.cycles.MarkSelfAssessment(ctx, cycleID, employeeID)
}

// SubmitManagerReview records a manager's review of a participant during the
// manager_review phase.
func (s *ReviewCycleService) SubmitManagerReview(ctx context.Context, cycleID, employeeID string) error {
	if err := s.requirePhase(ctx, cycleID, repository.PhaseManagerReview); err != nil {
		return err
	}
	return s.cycles.MarkManagerReview(ctx, cycleID, employeeID)
}

// RecordFeedbackMeeting records that a participant's feedback meeting took
// place, during the feedback_delivery phase.
func (s *ReviewCycleService) RecordFeedbackMeeting(ctx context.Context, cycleID, employeeID string) error {
	if err := s.requirePhase(ctx, cycleID, repository.PhaseFeedbackDelivery); err != nil {
		return err
	}
	return s.cycles.MarkFeedbackDelivered(ctx, cycleID, employeeID)
}

func (s *ReviewCycleService) requirePhase(ctx context.Context, cycleID string, phase repository.ReviewPhase) error {
	cycle, err := s.cycles.GetByID(ctx, cycleID)
	if err != nil {
		return err
	}
	if cycle.Phase != phase {
		return errors.Newf(errors.ErrCodeConflict, "cycle %s is in phase %s, not %s", cycleID, cycle.Phase, phase).
			WithDetail("cycle_id", cycleID).
			WithDetail("current_phase", string(cycle.Phase))
	}
	return nil
}

// GetCycleProgress returns the counted completion aggregate for a cycle.
func (s *ReviewCycleService) GetCycleProgress(ctx context.Context, cycleID string) (*repository.CycleProgress, error) {
	return s.cycles.GetProgress(ctx, cycleID)
}

// GetCycle returns a cycle with its participant roster.
func (s *ReviewCycleService) GetCycle(ctx context.Context, cycleID string) (*repository.ReviewCycle, []*repository.ReviewParticipant, error) {
	cycle, err := s.cycles.GetByID(ctx, cycleID)
	if err != nil {
		return nil, nil, err
	}
	participants, err := s.cycles.ListParticipants(ctx, cycleID)
	if err != nil {
		return nil, nil, err
	}
	return cycle, participants, nil
}

// GetActiveCycles lists cycles that are still active.
func (s *ReviewCycleService) GetActiveCycles(ctx context.Context) ([]*repository.ReviewCycle, error) {
	return s.cycles.ListActive(ctx)
}

// GetCyclesByPhase lists active cycles currently in the given phase.
func (s *ReviewCycleService) GetCyclesByPhase(ctx context.Context, phase repository.ReviewPhase) ([]*repository.ReviewCycle, error) {
	if phase.Ordinal() < 0 {
		return nil, errors.InvalidInput("phase", "unknown review phase")
	}
	return s.cycles.ListByPhase(ctx, phase)
}

// SendPhaseReminders notifies everyone still outstanding in the cycle's
// current phase. Returns how many reminders went out.
func (s *ReviewCycleService) SendPhaseReminders(ctx context.Context, cycleID string) (int, error) {
	cycle, err := s.cycles.GetByID(ctx, cycleID)
	if err != nil {
		return 0, err
	}

	participants, err := s.cycles.ListParticipants(ctx, cycleID)
	if err != nil {
		return 0, err
	}

	var recipients []string
	for _, p := range participants {
		switch cycle.Phase {
		case repository.PhaseSelfAssessment:
			if p.SelfAssessmentAt == nil {
				recipients = append(recipients, p.EmployeeID)
			}
		case repository.PhaseManagerReview:
			if p.ManagerReviewAt == nil {
				recipients = append(recipients, p.ManagerID)
			}
		case repository.PhaseFeedbackDelivery:
			if p.FeedbackDeliveredAt == nil {
				recipients = append(recipients, p.ManagerID)
			}
		}
	}
	if len(recipients) == 0 {
		return 0, nil
	}

	s.notifier.Notify(ctx, recipients, EventCycleReminder, "review_cycle", cycleID, map[string]any{
		"phase": string(cycle.Phase),
	})
	return len(recipients), nil
}
