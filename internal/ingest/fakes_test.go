package ingest

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
	"github.com/watchdogai/report-engine/internal/platform/imap"
	"github.com/watchdogai/report-engine/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func logKey(vendor, messageID string) string {
	return vendor + "|" + messageID
}

type fakeFilterStore struct {
	filter   *domain.IngestionFilter
	getErr   error
	touchErr error
	touched  []uuid.UUID
}

var _ store.FilterStore = (*fakeFilterStore)(nil)

func (s *fakeFilterStore) GetActiveFilter(_ context.Context, _ string) (*domain.IngestionFilter, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.filter == nil {
		return nil, store.ErrFilterNotFound
	}
	return s.filter, nil
}

func (s *fakeFilterStore) ListActiveFilters(_ context.Context) ([]*domain.IngestionFilter, error) {
	if s.filter == nil {
		return nil, nil
	}
	return []*domain.IngestionFilter{s.filter}, nil
}

func (s *fakeFilterStore) TouchLastUsed(_ context.Context, id uuid.UUID, _ time.Time) error {
	if s.touchErr != nil {
		return s.touchErr
	}
	s.touched = append(s.touched, id)
	return nil
}

func (s *fakeFilterStore) WithTx(_ *sql.Tx) store.FilterStore { return s }

type fakeEmailLogStore struct {
	processed map[string]bool
	created   []*domain.EmailLog
	createErr error
	existsErr error
}

var _ store.EmailLogStore = (*fakeEmailLogStore)(nil)

func (s *fakeEmailLogStore) Create(_ context.Context, el *domain.EmailLog) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, el)
	return nil
}

func (s *fakeEmailLogStore) ExistsByMessageID(_ context.Context, vendor, messageID string) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	return s.processed[logKey(vendor, messageID)], nil
}

func (s *fakeEmailLogStore) WithTx(_ *sql.Tx) store.EmailLogStore { return s }

type fakeFailedEmailStore struct {
	created   []*domain.FailedEmail
	updated   []*domain.FailedEmail
	deleted   []uuid.UUID
	due       []*domain.FailedEmail
	createErr error
	updateErr error
}

var _ store.FailedEmailStore = (*fakeFailedEmailStore)(nil)

func (s *fakeFailedEmailStore) Create(_ context.Context, fe *domain.FailedEmail) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, fe)
	return nil
}

func (s *fakeFailedEmailStore) Update(_ context.Context, fe *domain.FailedEmail) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updated = append(s.updated, fe)
	return nil
}

func (s *fakeFailedEmailStore) GetByID(_ context.Context, id uuid.UUID) (*domain.FailedEmail, error) {
	for _, fe := range s.created {
		if fe.ID == id {
			return fe, nil
		}
	}
	return nil, store.ErrFailedEmailNotFound
}

func (s *fakeFailedEmailStore) ListDueForRetry(_ context.Context, _ time.Time, _ int) ([]*domain.FailedEmail, error) {
	return s.due, nil
}

func (s *fakeFailedEmailStore) Delete(_ context.Context, id uuid.UUID) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeFailedEmailStore) WithTx(_ *sql.Tx) store.FailedEmailStore { return s }

type fakeJobStore struct {
	pending  int
	countErr error
}

var _ store.JobStore = (*fakeJobStore)(nil)

func (s *fakeJobStore) Create(_ context.Context, _ *domain.Job) error { return nil }

func (s *fakeJobStore) GetByID(_ context.Context, _ uuid.UUID) (*domain.Job, error) {
	return nil, store.ErrJobNotFound
}

func (s *fakeJobStore) ClaimDue(_ context.Context, _ time.Time) (*domain.Job, error) {
	return nil, store.ErrNoDueJobs
}

func (s *fakeJobStore) MarkCompleted(_ context.Context, _ uuid.UUID) error { return nil }

func (s *fakeJobStore) RescheduleFailure(_ context.Context, _ uuid.UUID, _ int, _ string, _ time.Time) error {
	return nil
}

func (s *fakeJobStore) MarkFailed(_ context.Context, _ uuid.UUID, _ int, _ string) error { return nil }

func (s *fakeJobStore) ResetForRetry(_ context.Context, _ uuid.UUID) error { return nil }

func (s *fakeJobStore) ResetStuck(_ context.Context, _ time.Duration) (int, error) { return 0, nil }

func (s *fakeJobStore) CountPending(_ context.Context) (int, error) {
	return s.pending, s.countErr
}

func (s *fakeJobStore) WithTx(_ *sql.Tx) store.JobStore { return s }

type fakeHealthStore struct {
	last    *domain.HealthCheck
	upserts int
}

var _ store.HealthCheckStore = (*fakeHealthStore)(nil)

func (s *fakeHealthStore) Upsert(_ context.Context, hc *domain.HealthCheck) error {
	s.last = hc
	s.upserts++
	return nil
}

func (s *fakeHealthStore) Get(_ context.Context, id string) (*domain.HealthCheck, error) {
	if s.last == nil || s.last.ID != id {
		return nil, store.ErrHealthCheckNotFound
	}
	return s.last, nil
}

func (s *fakeHealthStore) List(_ context.Context) ([]*domain.HealthCheck, error) {
	if s.last == nil {
		return nil, nil
	}
	return []*domain.HealthCheck{s.last}, nil
}

func (s *fakeHealthStore) WithTx(_ *sql.Tx) store.HealthCheckStore { return s }

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

type fakeSession struct {
	searchResult []uint32
	searchErr    error
	lastCriteria imap.SearchCriteria
	messages     map[uint32]*imap.RawMessage
	fetchErr     error
	fetchCalls   int
	seen         []uint32
	markSeenErr  error
	closed       bool
}

var _ imap.Session = (*fakeSession)(nil)

func (s *fakeSession) Search(criteria imap.SearchCriteria) ([]uint32, error) {
	s.lastCriteria = criteria
	return s.searchResult, s.searchErr
}

func (s *fakeSession) Fetch(seqNums []uint32) ([]*imap.RawMessage, error) {
	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []*imap.RawMessage
	for _, n := range seqNums {
		if msg, ok := s.messages[n]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *fakeSession) MarkSeen(seqNum uint32) error {
	if s.markSeenErr != nil {
		return s.markSeenErr
	}
	s.seen = append(s.seen, seqNum)
	return nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeDialer struct {
	session *fakeSession
	err     error
	dials   int
}

var _ imap.Dialer = (*fakeDialer)(nil)

func (d *fakeDialer) Dial(_ context.Context) (imap.Session, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}
