package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

type cycleFixture struct {
	svc       *ReviewCycleService
	cycles    *fakeCycles
	instances *fakeInstances
	notifier  *fakeNotifier
}

func newCycleFixture(t *testing.T) *cycleFixture {
	t.Helper()
	f := &cycleFixture{
		instances: newFakeInstances(),
		notifier:  &fakeNotifier{},
	}
	deadlines := newFakeDeadlines()
	f.cycles = newFakeCycles(f.instances, deadlines)
	engine := NewWorkflowEngine(f.instances, deadlines, logger.Nop())
	f.svc = NewReviewCycleService(f.cycles, f.instances, engine, f.notifier, logger.Nop())
	return f
}

func (f *cycleFixture) initiate(t *testing.T, name string, start, end time.Time) *repository.ReviewCycle {
	t.Helper()
	cycle, err := f.svc.InitiateCycle(context.Background(), InitiateCycleInput{
		Name:              name,
		ReviewPeriodStart: start.AddDate(0, -6, 0),
		ReviewPeriodEnd:   start,
		StartDate:         start,
		EndDate:           end,
		Participants: []ParticipantSpec{
			{EmployeeID: "emp-1", ManagerID: "mgr-1"},
			{EmployeeID: "emp-2", ManagerID: "mgr-1"},
		},
		InitiatedBy: "hr-1",
	})
	require.NoError(t, err)
	return cycle
}

func (f *cycleFixture) toSelfAssessment(t *testing.T, cycleID string) {
	t.Helper()
	require.NoError(t, f.svc.StartSelfAssessmentPhase(context.Background(), cycleID, "hr-1"))
}

func TestInitiateCycleStartsInDraft(t *testing.T) {
	f := newCycleFixture(t)
	start := time.Now()
	cycle := f.initiate(t, "H1 2026", start, start.AddDate(0, 2, 0))

	assert.Equal(t, repository.PhaseDraft, cycle.Phase)
	assert.True(t, cycle.Active)

	wf, err := f.instances.GetActiveByEntity(context.Background(), cycle.ID, repository.WorkflowTypeReviewCycle)
	require.NoError(t, err)
	require.NotNil(t, wf)
	assert.Equal(t, string(repository.PhaseDraft), wf.CurrentState)
}

func TestInitiateOverlappingCycleRejected(t *testing.T) {
	f := newCycleFixture(t)
	start := time.Now()
	f.initiate(t, "H1 2026", start, start.AddDate(0, 2, 0))

	_, err := f.svc.InitiateCycle(context.Background(), InitiateCycleInput{
		Name:      "overlap",
		StartDate: start.AddDate(0, 1, 0),
		EndDate:   start.AddDate(0, 3, 0),
		Participants: []ParticipantSpec{
			{EmployeeID: "emp-3", ManagerID: "mgr-2"},
		},
		InitiatedBy: "hr-1",
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeOverlappingCycle))
}

func TestFailedCycleCreationLeavesNoWorkflowBehind(t *testing.T) {
	f := newCycleFixture(t)
	f.cycles.createErr = errors.New(errors.ErrCodeInternal, "storage unavailable")

	start := time.Now()
	_, err := f.svc.InitiateCycle(context.Background(), InitiateCycleInput{
		Name:         "H1 2026",
		StartDate:    start,
		EndDate:      start.AddDate(0, 2, 0),
		Participants: []ParticipantSpec{{EmployeeID: "emp-1", ManagerID: "mgr-1"}},
		InitiatedBy:  "hr-1",
	})
	require.Error(t, err)

	active, err := f.instances.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)

	f.cycles.createErr = nil
	f.initiate(t, "H1 2026", start, start.AddDate(0, 2, 0))
}

func TestManagerReviewGatedOnAllSelfAssessments(t *testing.T) {
	f := newCycleFixture(t)
	start := time.Now()
	cycle := f.initiate(t, "H1 2026", start, start.AddDate(0, 2, 0))
	f.toSelfAssessment(t, cycle.ID)

	require.NoError(t, f.svc.SubmitSelfAssessment(context.Background(), cycle.ID, "emp-1"))

	err := f.svc.StartManagerReviewPhase(context.Background(), cycle.ID, "hr-1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePhasePrecondition))

	require.NoError(t, f.svc.SubmitSelfAssessment(context.Background(), cycle.ID, "emp-2"))
	require.NoError(t, f.svc.StartManagerReviewPhase(context.Background(), cycle.ID, "hr-1"))

	current, err := f.cycles.GetByID(context.Background(), cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.PhaseManagerReview, current.Phase)
}

func TestPhaseNeverRegresses(t *testing.T) {
	f := newCycleFixture(t)
	start := time.Now()
	cycle := f.initiate(t, "H1 2026", start, start.AddDate(0, 2, 0))
	f.toSelfAssessment(t, cycle.ID)

	// Starting self-assessment again from self_assessment is illegal.
	err := f.svc.StartSelfAssessmentPhase(context.Background(), cycle.ID, "hr-1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidTransition))
}

func TestSubmissionGatedByPhase(t *testing.T) {
	f := newCycleFixture(t)
	start := time.Now()
	cycle := f.initiate(t, "H1 2026", start, start.AddDate(0, 2, 0))

	// Cycle is still in draft: no submissions accepted.
	err := f.svc.SubmitSelfAssessment(context.Background(), cycle.ID, "emp-1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))

	err = f.svc.SubmitManagerReview(context.Background(), cycle.ID, "emp-1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))
}

func TestResubmitSelfAssessmentKeepsFirstTimestamp(t *testing.T) {
	f := newCycleFixture(t)
	start := time.Now()
	cycle := f.initiate(t, "H1 2026", start, start.AddDate(0, 2, 0))
	f.toSelfAssessment(t, cycle.ID)

	require.NoError(t, f.svc.SubmitSelfAssessment(context.Background(), cycle.ID, "emp-1"))
	first, err := f.cycles.GetParticipant(context.Background(), cycle.ID, "emp-1")
	require.NoError(t, err)
	require.NotNil(t, first.SelfAssessmentAt)

	require.NoError(t, f.svc.SubmitSelfAssessment(context.Background(), cycle.ID, "emp-1"))
	second, err := f.cycles.GetParticipant(context.Background(), cycle.ID, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, *first.SelfAssessmentAt, *second.SelfAssessmentAt)

	progress, err := f.svc.GetCycleProgress(context.Background(), cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.CompletedSelfAssessments)
}

func runCycleToFeedback(t *testing.T, f *cycleFixture, cycleID string) {
	t.Helper()
	ctx := context.Background()
	f.toSelfAssessment(t, cycleID)
	require.NoError(t, f.svc.SubmitSelfAssessment(ctx, cycleID, "emp-1"))
	require.NoError(t, f.svc.SubmitSelfAssessment(ctx, cycleID, "emp-2"))
	require.NoError(t, f.svc.StartManagerReviewPhase(ctx, cycleID, "hr-1"))
	require.NoError(t, f.svc.SubmitManagerReview(ctx, cycleID, "emp-1"))
	require.NoError(t, f.svc.SubmitManagerReview(ctx, cycleID, "emp-2"))
	require.NoError(t, f.svc.StartCalibrationPhase(ctx, cycleID, "hr-1"))
	require.NoError(t, f.svc.StartFeedbackPhase(ctx, cycleID, "hr-1"))
}

func TestCompleteCycleGatedOnFeedback(t *testing.T) {
	f := newCycleFixture(t)
	start := time.Now()
	cycle := f.initiate(t, "H1 2026", start, start.AddDate(0, 2, 0))
	runCycleToFeedback(t, f, cycle.ID)
	ctx := context.Background()

	require.NoError(t, f.svc.RecordFeedbackMeeting(ctx, cycle.ID, "emp-1"))

	err := f.svc.CompleteCycle(ctx, cycle.ID, "hr-1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePhasePrecondition))

	require.NoError(t, f.svc.RecordFeedbackMeeting(ctx, cycle.ID, "emp-2"))
	require.NoError(t, f.svc.CompleteCycle(ctx, cycle.ID, "hr-1"))

	current, err := f.cycles.GetByID(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.PhaseCompleted, current.Phase)
	assert.False(t, current.Active)

	wf, err := f.instances.GetActiveByEntity(ctx, cycle.ID, repository.WorkflowTypeReviewCycle)
	require.NoError(t, err)
	assert.Nil(t, wf)
}

func TestCompletedCycleNoLongerBlocksNewCycles(t *testing.T) {
	f := newCycleFixture(t)
	start := time.Now()
	cycle := f.initiate(t, "H1 2026", start, start.AddDate(0, 2, 0))
	runCycleToFeedback(t, f, cycle.ID)
	ctx := context.Background()
	require.NoError(t, f.svc.RecordFeedbackMeeting(ctx, cycle.ID, "emp-1"))
	require.NoError(t, f.svc.RecordFeedbackMeeting(ctx, cycle.ID, "emp-2"))
	require.NoError(t, f.svc.CompleteCycle(ctx, cycle.ID, "hr-1"))

	next := f.initiate(t, "H2 2026", start.AddDate(0, 1, 0), start.AddDate(0, 3, 0))
	assert.NotEqual(t, cycle.ID, next.ID)
}

func TestOverridePhaseSkipsPreconditions(t *testing.T) {
	f := newCycleFixture(t)
	start := time.Now()
	cycle := f.initiate(t, "H1 2026", start, start.AddDate(0, 2, 0))

	require.NoError(t, f.svc.OverridePhase(context.Background(), cycle.ID, repository.PhaseCalibration, "admin-1", "data migration"))

	current, err := f.cycles.GetByID(context.Background(), cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.PhaseCalibration, current.Phase)
}

func TestSendPhaseRemindersTargetsOutstandingOnly(t *testing.T) {
	f := newCycleFixture(t)
	start := time.Now()
	cycle := f.initiate(t, "H1 2026", start, start.AddDate(0, 2, 0))
	f.toSelfAssessment(t, cycle.ID)

	require.NoError(t, f.svc.SubmitSelfAssessment(context.Background(), cycle.ID, "emp-1"))

	sent, err := f.svc.SendPhaseReminders(context.Background(), cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	reminders := f.notifier.eventsOfType(EventCycleReminder)
	require.Len(t, reminders, 1)
	assert.Equal(t, []string{"emp-2"}, reminders[0].Recipients)
}

func TestPhaseStartNotifiesCohort(t *testing.T) {
	f := newCycleFixture(t)
	start := time.Now()
	cycle := f.initiate(t, "H1 2026", start, start.AddDate(0, 2, 0))
	f.toSelfAssessment(t, cycle.ID)

	started := f.notifier.eventsOfType(EventCyclePhaseStarted)
	require.Len(t, started, 1)
	assert.ElementsMatch(t, []string{"emp-1", "emp-2"}, started[0].Recipients)
}
