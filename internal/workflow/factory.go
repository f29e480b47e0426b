package workflow

import (
	"fmt"

	"github.com/watchdogai/report-engine/internal/domain"
)

// Per-step defaults for factory-built pipelines.
const (
	defaultStepMaxRetries    = 2
	defaultStepBackoffFactor = 2.0
)

// ReportPipeline builds the standard scheduled pipeline for a platform:
// ingest report emails, parse the downloaded files, then generate insights
// from the parsed records.
type ReportPipeline struct{}

// BuildSteps implements the scheduler's workflow factory.
func (ReportPipeline) BuildSteps(intent, platform string) ([]domain.WorkflowStep, error) {
	if platform == "" {
		return nil, fmt.Errorf("%w: pipeline platform cannot be empty", domain.ErrValidation)
	}

	return []domain.WorkflowStep{
		{
			ID:   "ingest",
			Type: domain.StepTypeEmailIngestion,
			Name: fmt.Sprintf("Fetch %s report emails", platform),
			Config: map[string]any{
				"vendor": platform,
			},
			MaxRetries:    defaultStepMaxRetries,
			BackoffFactor: defaultStepBackoffFactor,
		},
		{
			ID:   "parse",
			Type: domain.StepTypeDataProcessing,
			Name: fmt.Sprintf("Parse %s reports", platform),
			Config: map[string]any{
				"vendor": platform,
			},
			MaxRetries:    defaultStepMaxRetries,
			BackoffFactor: defaultStepBackoffFactor,
		},
		{
			ID:   "insights",
			Type: domain.StepTypeInsightGeneration,
			Name: fmt.Sprintf("Generate %s insights", platform),
			Config: map[string]any{
				"platform": platform,
				"intent":   intent,
			},
			MaxRetries:    defaultStepMaxRetries,
			BackoffFactor: defaultStepBackoffFactor,
		},
	}, nil
}
