package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

// In-memory fakes mirroring the repositories' conditional-update semantics,
// so the services can be tested without a database.

func strptr(s string) *string { return &s }
func i64ptr(n int64) *int64   { return &n }

// ── chain configs ────────────────────────────────────────────────────────────

type fakeChainConfigs struct {
	rungs []*repository.ApprovalChainRung
}

func (f *fakeChainConfigs) ListActiveByType(_ context.Context, approvalType repository.ApprovalType) ([]*repository.ApprovalChainRung, error) {
	var out []*repository.ApprovalChainRung
	for _, r := range f.rungs {
		if r.ApprovalType == approvalType && r.Active {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SequenceOrder != out[j].SequenceOrder {
			return out[i].SequenceOrder < out[j].SequenceOrder
		}
		// department-scoped before global, like the SQL NULLS LAST ordering
		return out[i].DepartmentID != nil && out[j].DepartmentID == nil
	})
	return out, nil
}

// ── identity ─────────────────────────────────────────────────────────────────

type fakeIdentity struct {
	usersByRole map[string][]string
	supervisors map[string]string
	err         error
}

func (f *fakeIdentity) GetUsersWithRole(_ context.Context, role string, _ *string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.usersByRole[role], nil
}

func (f *fakeIdentity) GetSupervisor(_ context.Context, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	sup, ok := f.supervisors[userID]
	if !ok {
		return "", errors.NotFound("supervisor", userID)
	}
	return sup, nil
}

// ── notifier ─────────────────────────────────────────────────────────────────

type notifiedEvent struct {
	Recipients []string
	EventType  string
	ResourceID string
	Payload    map[string]any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notifiedEvent
}

func (f *fakeNotifier) Notify(_ context.Context, recipients []string, eventType, _, resourceID string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, notifiedEvent{Recipients: recipients, EventType: eventType, ResourceID: resourceID, Payload: payload})
}

func (f *fakeNotifier) eventsOfType(eventType string) []notifiedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notifiedEvent
	for _, e := range f.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// ── cache ────────────────────────────────────────────────────────────────────

type fakeCache struct {
	counts      map[string]int
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{counts: make(map[string]int)}
}

func (f *fakeCache) GetPendingCount(_ context.Context, approverID string) (int, bool) {
	n, ok := f.counts[approverID]
	return n, ok
}

func (f *fakeCache) SetPendingCount(_ context.Context, approverID string, count int) {
	f.counts[approverID] = count
}

func (f *fakeCache) Invalidate(_ context.Context, approverIDs ...string) {
	for _, id := range approverIDs {
		delete(f.counts, id)
		f.invalidated = append(f.invalidated, id)
	}
}

// ── workflow instances ───────────────────────────────────────────────────────

type fakeInstances struct {
	mu          sync.Mutex
	seq         int
	instances   map[string]*repository.WorkflowInstance
	transitions map[string][]*repository.WorkflowStateTransition
}

func newFakeInstances() *fakeInstances {
	return &fakeInstances{
		instances:   make(map[string]*repository.WorkflowInstance),
		transitions: make(map[string][]*repository.WorkflowStateTransition),
	}
}

func (f *fakeInstances) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

// CreateIfAbsent mirrors the partial unique index: at most one non-terminal
// instance per (entity, type). The aggregate fakes call it as their
// transactional instance insert; tests also use it to seed instances.
func (f *fakeInstances) CreateIfAbsent(_ context.Context, wf *repository.WorkflowInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.instances {
		if existing.EntityID == wf.EntityID && existing.WorkflowType == wf.WorkflowType && !existing.Status.Terminal() {
			return errors.DuplicateActiveWorkflow(wf.EntityID, string(wf.WorkflowType), existing.ID)
		}
	}
	wf.ID = f.nextID("wf")
	wf.CreatedAt = time.Now()
	wf.UpdatedAt = wf.CreatedAt
	cp := *wf
	f.instances[wf.ID] = &cp
	return nil
}

func (f *fakeInstances) GetByID(_ context.Context, id string) (*repository.WorkflowInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.instances[id]
	if !ok {
		return nil, errors.NotFound("workflow_instance", id)
	}
	cp := *wf
	return &cp, nil
}

func (f *fakeInstances) GetActiveByEntity(_ context.Context, entityID string, wfType repository.WorkflowType) (*repository.WorkflowInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, wf := range f.instances {
		if wf.EntityID == entityID && wf.WorkflowType == wfType && !wf.Status.Terminal() {
			cp := *wf
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeInstances) ListActive(_ context.Context) ([]*repository.WorkflowInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.WorkflowInstance
	for _, wf := range f.instances {
		if !wf.Status.Terminal() {
			cp := *wf
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeInstances) Transition(_ context.Context, id string, from, to repository.WorkflowStatus, currentState string, assignee *string, transitionedBy string, reason *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.instances[id]
	if !ok || wf.Status != from {
		return errors.InvalidTransition(id, string(from), string(to))
	}
	wf.Status = to
	wf.CurrentState = currentState
	wf.CurrentAssignee = assignee
	if to.Terminal() || to == repository.WorkflowStatusApproved {
		now := time.Now()
		wf.CompletedAt = &now
	}
	f.transitions[id] = append(f.transitions[id], &repository.WorkflowStateTransition{
		ID:                 f.nextID("tr"),
		WorkflowInstanceID: id,
		FromState:          string(from),
		ToState:            string(to),
		Reason:             reason,
		TransitionedBy:     transitionedBy,
		TransitionedAt:     time.Now(),
	})
	return nil
}

func (f *fakeInstances) UpdateAssignment(_ context.Context, id, currentState string, assignee *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.instances[id]
	if !ok {
		return errors.NotFound("workflow_instance", id)
	}
	switch wf.Status {
	case repository.WorkflowStatusPendingApproval, repository.WorkflowStatusEscalated, repository.WorkflowStatusInProgress:
		wf.CurrentState = currentState
		wf.CurrentAssignee = assignee
		return nil
	}
	return errors.NotFound("workflow_instance", id)
}

func (f *fakeInstances) GetTransitions(_ context.Context, instanceID string) ([]*repository.WorkflowStateTransition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*repository.WorkflowStateTransition(nil), f.transitions[instanceID]...), nil
}

// ── approval requests ────────────────────────────────────────────────────────

type fakeRequests struct {
	mu        sync.Mutex
	seq       int
	requests  map[string]*repository.ApprovalRequest
	levels    map[string][]*repository.ApprovalLevel
	history   map[string][]*repository.ApprovalHistoryEntry
	instances *fakeInstances
	deadlines *fakeDeadlines
	createErr error // injected failure: Create fails atomically, writing nothing
}

func newFakeRequests(instances *fakeInstances, deadlines *fakeDeadlines) *fakeRequests {
	return &fakeRequests{
		requests:  make(map[string]*repository.ApprovalRequest),
		levels:    make(map[string][]*repository.ApprovalLevel),
		history:   make(map[string][]*repository.ApprovalHistoryEntry),
		instances: instances,
		deadlines: deadlines,
	}
}

func (f *fakeRequests) Create(ctx context.Context, wf *repository.WorkflowInstance, req *repository.ApprovalRequest, levels []*repository.ApprovalLevel, deadline *repository.WorkflowDeadline) error {
	if f.createErr != nil {
		return f.createErr
	}
	if err := f.instances.CreateIfAbsent(ctx, wf); err != nil {
		return err
	}

	f.mu.Lock()
	f.seq++
	req.ID = fmt.Sprintf("req-%d", f.seq)
	req.WorkflowInstanceID = wf.ID
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	cp := *req
	f.requests[req.ID] = &cp
	for _, lvl := range levels {
		lvl.RequestID = req.ID
		lcp := *lvl
		f.levels[req.ID] = append(f.levels[req.ID], &lcp)
	}
	f.mu.Unlock()

	if deadline != nil {
		deadline.WorkflowInstanceID = wf.ID
		return f.deadlines.Create(ctx, deadline)
	}
	return nil
}

func (f *fakeRequests) GetByID(_ context.Context, id string) (*repository.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, errors.NotFound("approval_request", id)
	}
	cp := *req
	return &cp, nil
}

func (f *fakeRequests) GetLevel(_ context.Context, requestID string, level int) (*repository.ApprovalLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, lvl := range f.levels[requestID] {
		if lvl.Level == level {
			cp := *lvl
			return &cp, nil
		}
	}
	return nil, errors.NotFound("approval_level", requestID)
}

// decide replicates the repository's compare-and-swap: mutate only holds when
// the request is pending at the expected level.
func (f *fakeRequests) decide(id string, level int, mutate func(*repository.ApprovalRequest), entry *repository.ApprovalHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return errors.NotFound("approval_request", id)
	}
	if req.Status != repository.ApprovalStatusPending || req.CurrentLevel != level {
		return errors.StaleApproval(id, level)
	}
	mutate(req)
	entry.DecidedAt = time.Now()
	f.history[id] = append(f.history[id], entry)
	return nil
}

func (f *fakeRequests) ApproveAndAdvance(_ context.Context, id string, level int, nextApproverID *string, entry *repository.ApprovalHistoryEntry) error {
	return f.decide(id, level, func(req *repository.ApprovalRequest) {
		req.CurrentLevel++
		req.CurrentApproverID = nextApproverID
	}, entry)
}

func (f *fakeRequests) ApproveFinal(_ context.Context, id string, level int, comments *string, entry *repository.ApprovalHistoryEntry) error {
	return f.decide(id, level, func(req *repository.ApprovalRequest) {
		req.Status = repository.ApprovalStatusApproved
		now := time.Now()
		req.DecidedAt = &now
		req.ApproverComments = comments
	}, entry)
}

func (f *fakeRequests) Reject(_ context.Context, id string, level int, comments *string, entry *repository.ApprovalHistoryEntry) error {
	return f.decide(id, level, func(req *repository.ApprovalRequest) {
		req.Status = repository.ApprovalStatusRejected
		now := time.Now()
		req.DecidedAt = &now
		req.ApproverComments = comments
	}, entry)
}

func (f *fakeRequests) Reassign(_ context.Context, id string, level int, newApproverID *string, entry *repository.ApprovalHistoryEntry) error {
	return f.decide(id, level, func(req *repository.ApprovalRequest) {
		if newApproverID != nil {
			req.CurrentApproverID = newApproverID
		}
	}, entry)
}

func (f *fakeRequests) Withdraw(_ context.Context, id string, entry *repository.ApprovalHistoryEntry) (*repository.ApprovalRequest, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, false, errors.NotFound("approval_request", id)
	}
	if req.Status != repository.ApprovalStatusPending {
		cp := *req
		return &cp, false, nil
	}
	req.Status = repository.ApprovalStatusCancelled
	now := time.Now()
	req.DecidedAt = &now
	entry.DecidedAt = now
	f.history[id] = append(f.history[id], entry)
	cp := *req
	return &cp, true, nil
}

func (f *fakeRequests) GetHistory(_ context.Context, requestID string) ([]*repository.ApprovalHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*repository.ApprovalHistoryEntry(nil), f.history[requestID]...), nil
}

func (f *fakeRequests) GetPendingForApprover(_ context.Context, approverID string, limit, offset int) ([]*repository.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.ApprovalRequest
	for _, req := range f.requests {
		if req.Status == repository.ApprovalStatusPending && req.CurrentApproverID != nil && *req.CurrentApproverID == approverID {
			cp := *req
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	if limit > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		end := offset + limit
		if end > len(out) {
			end = len(out)
		}
		out = out[offset:end]
	}
	return out, nil
}

func (f *fakeRequests) CountPendingForApprover(ctx context.Context, approverID string) (int, error) {
	reqs, err := f.GetPendingForApprover(ctx, approverID, 0, 0)
	return len(reqs), err
}

func (f *fakeRequests) GetByRequestor(_ context.Context, requestorID string) ([]*repository.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.ApprovalRequest
	for _, req := range f.requests {
		if req.RequestorID == requestorID {
			cp := *req
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ── employee processes ───────────────────────────────────────────────────────

type fakeProcesses struct {
	mu        sync.Mutex
	seq       int
	procs     map[string]*repository.EmployeeProcess
	tasks     map[string][]*repository.EmployeeProcessTask
	instances *fakeInstances
	deadlines *fakeDeadlines
	createErr error // injected failure: Create fails atomically, writing nothing
}

func newFakeProcesses(instances *fakeInstances, deadlines *fakeDeadlines) *fakeProcesses {
	return &fakeProcesses{
		procs:     make(map[string]*repository.EmployeeProcess),
		tasks:     make(map[string][]*repository.EmployeeProcessTask),
		instances: instances,
		deadlines: deadlines,
	}
}

func (f *fakeProcesses) Create(ctx context.Context, wf *repository.WorkflowInstance, proc *repository.EmployeeProcess, tasks []*repository.EmployeeProcessTask, deadline *repository.WorkflowDeadline) error {
	if f.createErr != nil {
		return f.createErr
	}
	if err := f.instances.CreateIfAbsent(ctx, wf); err != nil {
		return err
	}

	f.mu.Lock()
	f.seq++
	proc.ID = fmt.Sprintf("proc-%d", f.seq)
	cp := *proc
	f.procs[proc.ID] = &cp
	for _, task := range tasks {
		f.seq++
		task.ID = fmt.Sprintf("task-%d", f.seq)
		task.ProcessID = proc.ID
		tcp := *task
		f.tasks[proc.ID] = append(f.tasks[proc.ID], &tcp)
	}
	f.mu.Unlock()

	if deadline != nil {
		deadline.WorkflowInstanceID = wf.ID
		return f.deadlines.Create(ctx, deadline)
	}
	return nil
}

func (f *fakeProcesses) GetByID(_ context.Context, id string) (*repository.EmployeeProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	proc, ok := f.procs[id]
	if !ok {
		return nil, errors.NotFound("employee_process", id)
	}
	cp := *proc
	return &cp, nil
}

func (f *fakeProcesses) GetActiveByEmployee(_ context.Context, employeeID string, processType repository.ProcessType) (*repository.EmployeeProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, proc := range f.procs {
		if proc.EmployeeID == employeeID && proc.ProcessType == processType {
			switch proc.Status {
			case repository.ProcessStatusPlanned, repository.ProcessStatusInProgress, repository.ProcessStatusDelayed:
				cp := *proc
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeProcesses) ListActive(_ context.Context) ([]*repository.EmployeeProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.EmployeeProcess
	for _, proc := range f.procs {
		switch proc.Status {
		case repository.ProcessStatusPlanned, repository.ProcessStatusInProgress, repository.ProcessStatusDelayed:
			cp := *proc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeProcesses) UpdateStatus(_ context.Context, id string, status repository.ProcessStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	proc, ok := f.procs[id]
	if !ok {
		return errors.NotFound("employee_process", id)
	}
	proc.Status = status
	if status == repository.ProcessStatusCompleted {
		now := time.Now()
		proc.CompletedAt = &now
	}
	return nil
}

func (f *fakeProcesses) GetTasks(_ context.Context, processID string) ([]*repository.EmployeeProcessTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.EmployeeProcessTask
	for _, task := range f.tasks[processID] {
		cp := *task
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeProcesses) GetTask(_ context.Context, taskID string) (*repository.EmployeeProcessTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tasks := range f.tasks {
		for _, task := range tasks {
			if task.ID == taskID {
				cp := *task
				return &cp, nil
			}
		}
	}
	return nil, errors.NotFound("employee_process_task", taskID)
}

func (f *fakeProcesses) CompleteTask(_ context.Context, taskID, _ string, notes *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tasks := range f.tasks {
		for _, task := range tasks {
			if task.ID != taskID {
				continue
			}
			if task.Completed {
				return false, nil
			}
			task.Completed = true
			now := time.Now()
			task.CompletionDate = &now
			task.CompletionNotes = notes
			return true, nil
		}
	}
	return false, errors.NotFound("employee_process_task", taskID)
}

func (f *fakeProcesses) CountTasks(_ context.Context, processID string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total, completed := 0, 0
	for _, task := range f.tasks[processID] {
		total++
		if task.Completed {
			completed++
		}
	}
	return total, completed, nil
}

// ── review cycles ────────────────────────────────────────────────────────────

type fakeCycles struct {
	mu           sync.Mutex
	seq          int
	cycles       map[string]*repository.ReviewCycle
	participants map[string][]*repository.ReviewParticipant
	instances    *fakeInstances
	deadlines    *fakeDeadlines
	createErr    error // injected failure: Create fails atomically, writing nothing
}

func newFakeCycles(instances *fakeInstances, deadlines *fakeDeadlines) *fakeCycles {
	return &fakeCycles{
		cycles:       make(map[string]*repository.ReviewCycle),
		participants: make(map[string][]*repository.ReviewParticipant),
		instances:    instances,
		deadlines:    deadlines,
	}
}

func (f *fakeCycles) Create(ctx context.Context, wf *repository.WorkflowInstance, cycle *repository.ReviewCycle, participants []*repository.ReviewParticipant, deadline *repository.WorkflowDeadline) error {
	if f.createErr != nil {
		return f.createErr
	}

	f.mu.Lock()
	for _, existing := range f.cycles {
		if existing.Active && !cycle.StartDate.After(existing.EndDate) && !cycle.EndDate.Before(existing.StartDate) {
			f.mu.Unlock()
			return errors.OverlappingCycle(existing.ID)
		}
	}
	f.seq++
	cycle.ID = fmt.Sprintf("cycle-%d", f.seq)
	cp := *cycle
	f.cycles[cycle.ID] = &cp
	for _, p := range participants {
		f.seq++
		p.ID = fmt.Sprintf("part-%d", f.seq)
		p.CycleID = cycle.ID
		pcp := *p
		f.participants[cycle.ID] = append(f.participants[cycle.ID], &pcp)
	}
	f.mu.Unlock()

	wf.EntityID = cycle.ID
	if err := f.instances.CreateIfAbsent(ctx, wf); err != nil {
		f.mu.Lock()
		delete(f.cycles, cycle.ID)
		delete(f.participants, cycle.ID)
		f.mu.Unlock()
		return err
	}

	if deadline != nil {
		deadline.WorkflowInstanceID = wf.ID
		return f.deadlines.Create(ctx, deadline)
	}
	return nil
}

func (f *fakeCycles) GetByID(_ context.Context, id string) (*repository.ReviewCycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cycle, ok := f.cycles[id]
	if !ok {
		return nil, errors.NotFound("review_cycle", id)
	}
	cp := *cycle
	return &cp, nil
}

func (f *fakeCycles) ListActive(_ context.Context) ([]*repository.ReviewCycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.ReviewCycle
	for _, cycle := range f.cycles {
		if cycle.Active {
			cp := *cycle
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeCycles) ListByPhase(_ context.Context, phase repository.ReviewPhase) ([]*repository.ReviewCycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.ReviewCycle
	for _, cycle := range f.cycles {
		if cycle.Active && cycle.Phase == phase {
			cp := *cycle
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeCycles) AdvancePhase(_ context.Context, id string, from, to repository.ReviewPhase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cycle, ok := f.cycles[id]
	if !ok || cycle.Phase != from {
		return errors.InvalidTransition(id, string(from), string(to))
	}
	cycle.Phase = to
	return nil
}

func (f *fakeCycles) OverridePhase(_ context.Context, id string, to repository.ReviewPhase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cycle, ok := f.cycles[id]
	if !ok {
		return errors.NotFound("review_cycle", id)
	}
	cycle.Phase = to
	return nil
}

func (f *fakeCycles) Deactivate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cycle, ok := f.cycles[id]
	if !ok {
		return errors.NotFound("review_cycle", id)
	}
	cycle.Active = false
	return nil
}

func (f *fakeCycles) GetParticipant(_ context.Context, cycleID, employeeID string) (*repository.ReviewParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participants[cycleID] {
		if p.EmployeeID == employeeID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errors.NotFound("review_participant", employeeID)
}

func (f *fakeCycles) ListParticipants(_ context.Context, cycleID string) ([]*repository.ReviewParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.ReviewParticipant
	for _, p := range f.participants[cycleID] {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeCycles) mark(cycleID, employeeID string, field func(*repository.ReviewParticipant) **time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participants[cycleID] {
		if p.EmployeeID == employeeID {
			slot := field(p)
			if *slot == nil {
				now := time.Now()
				*slot = &now
			}
			return nil
		}
	}
	return errors.NotFound("review_participant", employeeID)
}

func (f *fakeCycles) MarkSelfAssessment(_ context.Context, cycleID, employeeID string) error {
	return f.mark(cycleID, employeeID, func(p *repository.ReviewParticipant) **time.Time { return &p.SelfAssessmentAt })
}

func (f *fakeCycles) MarkManagerReview(_ context.Context, cycleID, employeeID string) error {
	return f.mark(cycleID, employeeID, func(p *repository.ReviewParticipant) **time.Time { return &p.ManagerReviewAt })
}

func (f *fakeCycles) MarkFeedbackDelivered(_ context.Context, cycleID, employeeID string) error {
	return f.mark(cycleID, employeeID, func(p *repository.ReviewParticipant) **time.Time { return &p.FeedbackDeliveredAt })
}

func (f *fakeCycles) GetProgress(_ context.Context, cycleID string) (*repository.CycleProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cycle, ok := f.cycles[cycleID]
	if !ok {
		return nil, errors.NotFound("review_cycle", cycleID)
	}
	progress := &repository.CycleProgress{CycleID: cycleID, Phase: cycle.Phase}
	for _, p := range f.participants[cycleID] {
		progress.TotalEmployees++
		if p.SelfAssessmentAt != nil {
			progress.CompletedSelfAssessments++
		}
		if p.ManagerReviewAt != nil {
			progress.CompletedManagerReviews++
		}
		if p.FeedbackDeliveredAt != nil {
			progress.DeliveredFeedbacks++
		}
	}
	return progress, nil
}

// ── deadlines ────────────────────────────────────────────────────────────────

type fakeDeadlines struct {
	mu        sync.Mutex
	seq       int
	deadlines []*repository.WorkflowDeadline
}

func newFakeDeadlines() *fakeDeadlines { return &fakeDeadlines{} }

func (f *fakeDeadlines) Create(_ context.Context, d *repository.WorkflowDeadline) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	d.ID = fmt.Sprintf("dl-%d", f.seq)
	cp := *d
	f.deadlines = append(f.deadlines, &cp)
	return nil
}

func (f *fakeDeadlines) ListOverdue(_ context.Context, now time.Time) ([]*repository.WorkflowDeadline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.WorkflowDeadline
	for _, d := range f.deadlines {
		if !d.Completed && d.DeadlineAt.Before(now) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeDeadlines) ClaimApproachingWarnings(_ context.Context, now time.Time) ([]*repository.WorkflowDeadline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.WorkflowDeadline
	for _, d := range f.deadlines {
		if !d.Completed && !d.WarningSent && !d.WarningAt.After(now) {
			d.WarningSent = true
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeDeadlines) CompleteForInstance(_ context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deadlines {
		if d.WorkflowInstanceID == instanceID {
			d.Completed = true
		}
	}
	return nil
}
