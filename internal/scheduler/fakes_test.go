package scheduler

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/watchdogai/report-engine/internal/alert"
	"github.com/watchdogai/report-engine/internal/domain"
	"github.com/watchdogai/report-engine/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memScheduleStore struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*domain.Schedule
}

var _ store.ScheduleStore = (*memScheduleStore)(nil)

func newMemScheduleStore() *memScheduleStore {
	return &memScheduleStore{schedules: make(map[uuid.UUID]*domain.Schedule)}
}

func copySchedule(s *domain.Schedule) *domain.Schedule {
	cp := *s
	if s.NextRunAt != nil {
		at := *s.NextRunAt
		cp.NextRunAt = &at
	}
	if s.LastRunAt != nil {
		at := *s.LastRunAt
		cp.LastRunAt = &at
	}
	if s.WorkflowID != nil {
		id := *s.WorkflowID
		cp.WorkflowID = &id
	}
	return &cp
}

func (m *memScheduleStore) Create(_ context.Context, s *domain.Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = copySchedule(s)
	return nil
}

func (m *memScheduleStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, store.ErrScheduleNotFound
	}
	return copySchedule(s), nil
}

func (m *memScheduleStore) ListDue(_ context.Context, now time.Time) ([]*domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*domain.Schedule
	for _, s := range m.schedules {
		if s.IsDue(now) {
			due = append(due, copySchedule(s))
		}
	}
	return due, nil
}

func (m *memScheduleStore) Update(_ context.Context, s *domain.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[s.ID]; !ok {
		return store.ErrScheduleNotFound
	}
	m.schedules[s.ID] = copySchedule(s)
	return nil
}

func (m *memScheduleStore) WithTx(_ *sql.Tx) store.ScheduleStore { return m }

// memWorkflowStore is the minimal in-memory WorkflowStore the scheduler
// needs: create, read, and lock-state inspection.
type memWorkflowStore struct {
	mu        sync.Mutex
	workflows map[uuid.UUID]*domain.Workflow
}

var _ store.WorkflowStore = (*memWorkflowStore)(nil)

func newMemWorkflowStore() *memWorkflowStore {
	return &memWorkflowStore{workflows: make(map[uuid.UUID]*domain.Workflow)}
}

func (m *memWorkflowStore) Create(_ context.Context, wf *domain.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *wf
	m.workflows[wf.ID] = &cp
	return nil
}

func (m *memWorkflowStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, store.ErrWorkflowNotFound
	}
	cp := *wf
	return &cp, nil
}

func (m *memWorkflowStore) AcquireLock(_ context.Context, id uuid.UUID, now time.Time, lease time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return false, store.ErrWorkflowNotFound
	}
	if wf.Locked && wf.LockedAt != nil && now.Sub(*wf.LockedAt) <= lease {
		return false, nil
	}
	wf.Locked = true
	wf.LockedAt = &now
	return true, nil
}

func (m *memWorkflowStore) ReleaseLock(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return store.ErrWorkflowNotFound
	}
	wf.Locked = false
	wf.LockedAt = nil
	return nil
}

func (m *memWorkflowStore) SaveProgress(_ context.Context, wf *domain.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[wf.ID]; !ok {
		return store.ErrWorkflowNotFound
	}
	cp := *wf
	m.workflows[wf.ID] = &cp
	return nil
}

func (m *memWorkflowStore) WithTx(_ *sql.Tx) store.WorkflowStore { return m }

// collectJobStore records enqueued jobs; the scheduler only creates them.
type collectJobStore struct {
	mu        sync.Mutex
	created   []*domain.Job
	createErr error
}

var _ store.JobStore = (*collectJobStore)(nil)

func (s *collectJobStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, job)
	return nil
}

func (s *collectJobStore) jobs() []*domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Job(nil), s.created...)
}

func (s *collectJobStore) GetByID(_ context.Context, _ uuid.UUID) (*domain.Job, error) {
	return nil, store.ErrJobNotFound
}

func (s *collectJobStore) ClaimDue(_ context.Context, _ time.Time) (*domain.Job, error) {
	return nil, store.ErrNoDueJobs
}

func (s *collectJobStore) MarkCompleted(_ context.Context, _ uuid.UUID) error { return nil }

func (s *collectJobStore) RescheduleFailure(_ context.Context, _ uuid.UUID, _ int, _ string, _ time.Time) error {
	return nil
}

func (s *collectJobStore) MarkFailed(_ context.Context, _ uuid.UUID, _ int, _ string) error {
	return nil
}

func (s *collectJobStore) ResetForRetry(_ context.Context, _ uuid.UUID) error { return nil }

func (s *collectJobStore) ResetStuck(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}

func (s *collectJobStore) CountPending(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created), nil
}

func (s *collectJobStore) WithTx(_ *sql.Tx) store.JobStore { return s }

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

var _ alert.Alerter = (*fakeAlerter)(nil)

func (a *fakeAlerter) SendAdminAlert(_ context.Context, al alert.Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, al)
}

func (a *fakeAlerter) sent() []alert.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]alert.Alert(nil), a.alerts...)
}

// failingFactory simulates a factory that cannot build steps.
type failingFactory struct{ err error }

func (f failingFactory) BuildSteps(_, _ string) ([]domain.WorkflowStep, error) {
	return nil, f.err
}
