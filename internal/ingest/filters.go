package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/watchdogai/report-engine/internal/domain"
	"github.com/watchdogai/report-engine/internal/platform/imap"
	"github.com/watchdogai/report-engine/internal/platform/logger"
	"github.com/watchdogai/report-engine/internal/store"
)

// regexMetaChars are the characters that make a subject pattern unusable
// as a server-side literal SUBJECT search term.
const regexMetaChars = `\.+*?()|[]{}^$`

// minLiteralSubjectLen is the shortest subject literal worth pushing to the
// server; anything shorter matches too much to narrow the search.
const minLiteralSubjectLen = 3

// FilterRegistry resolves the per-vendor ingestion filters backed by the
// imap_filters table, falling back to the permissive default when a vendor
// has no configured row.
type FilterRegistry struct {
	filters store.FilterStore
	logger  *slog.Logger
}

// NewFilterRegistry creates a FilterRegistry. If logger is nil, a default
// logger will be used.
func NewFilterRegistry(filters store.FilterStore, logger *slog.Logger) *FilterRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilterRegistry{
		filters: filters,
		logger:  logger.With(slog.String("component", "filter_registry")),
	}
}

// LoadFilters returns all active filters.
func (r *FilterRegistry) LoadFilters(ctx context.Context) ([]*domain.IngestionFilter, error) {
	return r.filters.ListActiveFilters(ctx)
}

// GetFilter returns the active filter for a vendor, stamping its last_used
// column as a side effect. It never errors: a missing row or a store
// failure yields the hard-coded permissive default.
func (r *FilterRegistry) GetFilter(ctx context.Context, vendor string) *domain.IngestionFilter {
	log := logger.FromContextOrDefault(ctx, r.logger)

	filter, err := r.filters.GetActiveFilter(ctx, vendor)
	if err != nil {
		if !store.IsNotFoundError(err) {
			log.Warn("failed to load ingestion filter, using default",
				slog.String("vendor", vendor),
				slog.String("error", err.Error()))
		}
		return domain.DefaultFilter(vendor)
	}

	if err := r.filters.TouchLastUsed(ctx, filter.ID, time.Now().UTC()); err != nil {
		log.Warn("failed to stamp filter last_used",
			slog.String("vendor", vendor),
			slog.String("error", err.Error()))
	}
	return filter
}

// BuildSearchCriteria derives the protocol search terms from a filter:
// always unseen; a sender match when from_address is set; a since-date of
// now minus days_back; and the subject pattern only when it is a plain
// literal longer than three characters. True regex subject matching is
// applied client-side after fetch, never pushed to the server.
func BuildSearchCriteria(filter *domain.IngestionFilter, now time.Time) imap.SearchCriteria {
	criteria := imap.SearchCriteria{
		Unseen: true,
		From:   filter.FromAddress,
		Since:  now.AddDate(0, 0, -filter.DaysBack),
	}
	if isLiteralSubject(filter.SubjectRegex) {
		criteria.Subject = filter.SubjectRegex
	}
	return criteria
}

// isLiteralSubject reports whether the pattern can be used verbatim as a
// server-side SUBJECT substring search.
func isLiteralSubject(pattern string) bool {
	return pattern != "" &&
		!strings.ContainsAny(pattern, regexMetaChars) &&
		len(pattern) > minLiteralSubjectLen
}
