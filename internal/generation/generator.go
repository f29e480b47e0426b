package generation

import (
	"context"

	"github.com/google/uuid"
)

// Options tunes one insight-generation call.
type Options struct {
	// Intent describes what the caller wants surfaced (e.g. "weekly
	// sales summary"). Passed through to the collaborator verbatim.
	Intent string `json:"intent,omitempty"`

	// MaxInsights bounds the number of findings returned.
	MaxInsights int `json:"max_insights,omitempty"`
}

// Insight is the collaborator's output for one generation call.
type Insight struct {
	InsightID uuid.UUID      `json:"insight_id"`
	Insight   string         `json:"insight"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Generator produces analytical insights from parsed report records.
type Generator interface {
	// GenerateInsights analyzes the records for the given CRM platform
	// and returns a generated insight, or an error if generation fails
	// (see errors.go for specific kinds).
	GenerateInsights(ctx context.Context, records []map[string]any, platform string, opts Options) (*Insight, error)
}
