package task

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/watchdogai/report-engine/internal/domain"
	"github.com/watchdogai/report-engine/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memJobStore is an in-memory JobStore with the same claim semantics as the
// database implementation: one claim per due job, ordered by priority then
// due time.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job
}

var _ store.JobStore = (*memJobStore)(nil)

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[uuid.UUID]*domain.Job)}
}

func (s *memJobStore) Create(_ context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memJobStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *memJobStore) ClaimDue(_ context.Context, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *domain.Job
	for _, job := range s.jobs {
		if job.Status != domain.JobStatusPending || job.NextRunAt.After(now) {
			continue
		}
		if best == nil || job.Priority < best.Priority ||
			(job.Priority == best.Priority && job.NextRunAt.Before(best.NextRunAt)) {
			best = job
		}
	}
	if best == nil {
		return nil, store.ErrNoDueJobs
	}

	best.Status = domain.JobStatusProcessing
	claimedAt := now
	best.LastRunAt = &claimedAt
	cp := *best
	return &cp, nil
}

func (s *memJobStore) MarkCompleted(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	job.Status = domain.JobStatusCompleted
	return nil
}

func (s *memJobStore) RescheduleFailure(_ context.Context, id uuid.UUID, attempts int, lastError string, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	job.Status = domain.JobStatusPending
	job.Attempts = attempts
	job.LastError = lastError
	job.NextRunAt = nextRunAt
	return nil
}

func (s *memJobStore) MarkFailed(_ context.Context, id uuid.UUID, attempts int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	job.Status = domain.JobStatusFailed
	job.Attempts = attempts
	job.LastError = lastError
	return nil
}

func (s *memJobStore) ResetForRetry(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != domain.JobStatusFailed {
		return store.ErrJobNotFound
	}
	job.Status = domain.JobStatusPending
	job.Attempts = 0
	job.LastError = ""
	job.NextRunAt = time.Now().UTC()
	return nil
}

func (s *memJobStore) ResetStuck(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	reset := 0
	for _, job := range s.jobs {
		if job.Status != domain.JobStatusProcessing {
			continue
		}
		if job.LastRunAt == nil || !job.LastRunAt.After(cutoff) {
			job.Status = domain.JobStatusPending
			reset++
		}
	}
	return reset, nil
}

func (s *memJobStore) CountPending(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusPending {
			count++
		}
	}
	return count, nil
}

func (s *memJobStore) WithTx(_ *sql.Tx) store.JobStore { return s }
