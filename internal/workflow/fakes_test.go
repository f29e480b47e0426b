package workflow

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/watchdogai/report-engine/internal/domain"
	"github.com/watchdogai/report-engine/internal/generation"
	"github.com/watchdogai/report-engine/internal/parsing"
	"github.com/watchdogai/report-engine/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memWorkflowStore is an in-memory WorkflowStore with the same lock
// semantics as the database implementation: a conditional acquire that
// honors the lease, and an unconditional release.
type memWorkflowStore struct {
	mu        sync.Mutex
	workflows map[uuid.UUID]*domain.Workflow
	releases  int
}

var _ store.WorkflowStore = (*memWorkflowStore)(nil)

func newMemWorkflowStore() *memWorkflowStore {
	return &memWorkflowStore{workflows: make(map[uuid.UUID]*domain.Workflow)}
}

func copyWorkflow(wf *domain.Workflow) *domain.Workflow {
	cp := *wf
	cp.Steps = append([]domain.WorkflowStep(nil), wf.Steps...)
	cp.Context = make(map[string]any, len(wf.Context))
	for k, v := range wf.Context {
		cp.Context[k] = v
	}
	if wf.LockedAt != nil {
		at := *wf.LockedAt
		cp.LockedAt = &at
	}
	return &cp
}

func (s *memWorkflowStore) Create(_ context.Context, wf *domain.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = copyWorkflow(wf)
	return nil
}

func (s *memWorkflowStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, store.ErrWorkflowNotFound
	}
	return copyWorkflow(wf), nil
}

func (s *memWorkflowStore) AcquireLock(_ context.Context, id uuid.UUID, now time.Time, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
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

func (s *memWorkflowStore) ReleaseLock(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return store.ErrWorkflowNotFound
	}
	wf.Locked = false
	wf.LockedAt = nil
	s.releases++
	return nil
}

func (s *memWorkflowStore) SaveProgress(_ context.Context, wf *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; !ok {
		return store.ErrWorkflowNotFound
	}
	s.workflows[wf.ID] = copyWorkflow(wf)
	return nil
}

func (s *memWorkflowStore) WithTx(_ *sql.Tx) store.WorkflowStore { return s }

type fakeParser struct {
	mu      sync.Mutex
	records []map[string]any
	err     error
	paths   []string
}

var _ parsing.Parser = (*fakeParser)(nil)

func (p *fakeParser) Parse(_ context.Context, filePath string, _ parsing.Options) (*parsing.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.paths = append(p.paths, filePath)
	return &parsing.Result{
		ID:          uuid.New(),
		Records:     p.records,
		RecordCount: len(p.records),
	}, nil
}

type fakeGenerator struct {
	insight *generation.Insight
	err     error

	records  []map[string]any
	platform string
	opts     generation.Options
}

var _ generation.Generator = (*fakeGenerator)(nil)

func (g *fakeGenerator) GenerateInsights(_ context.Context, records []map[string]any, platform string, opts generation.Options) (*generation.Insight, error) {
	g.records = records
	g.platform = platform
	g.opts = opts
	if g.err != nil {
		return nil, g.err
	}
	return g.insight, nil
}
