package workflow

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchdogai/report-engine/internal/domain"
	"github.com/watchdogai/report-engine/internal/generation"
)

func TestEmailIngestionConfigRequiresVendor(t *testing.T) {
	t.Parallel()

	handler := NewEmailIngestionHandler(nil)
	_, err := handler.Run(context.Background(), &domain.Workflow{}, domain.WorkflowStep{
		ID:     "ingest",
		Type:   domain.StepTypeEmailIngestion,
		Config: map[string]any{},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDataProcessingParsesConfiguredFiles(t *testing.T) {
	t.Parallel()

	parser := &fakeParser{records: []map[string]any{{"id": "1"}, {"id": "2"}}}
	handler := NewDataProcessingHandler(parser)

	output, err := handler.Run(context.Background(), &domain.Workflow{}, domain.WorkflowStep{
		ID:   "parse",
		Type: domain.StepTypeDataProcessing,
		Config: map[string]any{
			"vendor":     "vinsolutions",
			"file_paths": []string{"a.csv", "b.csv"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.csv", "b.csv"}, parser.paths)
	assert.Equal(t, 4, output["record_count"])
	assert.Len(t, output["report_ids"], 2)
}

func TestDataProcessingFallsBackToLastStepFiles(t *testing.T) {
	t.Parallel()

	parser := &fakeParser{records: []map[string]any{{"id": "1"}}}
	handler := NewDataProcessingHandler(parser)

	wf := &domain.Workflow{
		Context: map[string]any{
			// Simulates context round-tripped through the JSONB column,
			// where slices come back as []any.
			domain.LastStepResultKey: map[string]any{
				"file_paths": []any{"downloads/vinsolutions/x.csv"},
			},
		},
	}
	output, err := handler.Run(context.Background(), wf, domain.WorkflowStep{
		ID:     "parse",
		Type:   domain.StepTypeDataProcessing,
		Config: map[string]any{"vendor": "vinsolutions"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"downloads/vinsolutions/x.csv"}, parser.paths)
	assert.Equal(t, 1, output["record_count"])
}

func TestDataProcessingRequiresFiles(t *testing.T) {
	t.Parallel()

	handler := NewDataProcessingHandler(&fakeParser{})

	_, err := handler.Run(context.Background(), &domain.Workflow{Context: map[string]any{}},
		domain.WorkflowStep{
			ID:     "parse",
			Type:   domain.StepTypeDataProcessing,
			Config: map[string]any{"vendor": "vinsolutions"},
		})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestInsightGenerationUsesLastStepRecords(t *testing.T) {
	t.Parallel()

	insight := &generation.Insight{
		InsightID: uuid.New(),
		Insight:   "lead volume doubled week over week",
	}
	generator := &fakeGenerator{insight: insight}
	handler := NewInsightGenerationHandler(generator)

	wf := &domain.Workflow{
		Context: map[string]any{
			domain.LastStepResultKey: map[string]any{
				"records": []map[string]any{{"lead": "Jordan"}, {"lead": "Casey"}},
			},
		},
	}
	output, err := handler.Run(context.Background(), wf, domain.WorkflowStep{
		ID:   "insights",
		Type: domain.StepTypeInsightGeneration,
		Config: map[string]any{
			"platform":     "vinsolutions",
			"intent":       "weekly sales summary",
			"max_insights": 3,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, insight.Insight, output["insight"])
	assert.Equal(t, insight.InsightID.String(), output["insight_id"])
	assert.Len(t, generator.records, 2)
	assert.Equal(t, "vinsolutions", generator.platform)
	assert.Equal(t, "weekly sales summary", generator.opts.Intent)
	assert.Equal(t, 3, generator.opts.MaxInsights)
}

func TestInsightGenerationRequiresRecords(t *testing.T) {
	t.Parallel()

	handler := NewInsightGenerationHandler(&fakeGenerator{})

	_, err := handler.Run(context.Background(), &domain.Workflow{Context: map[string]any{}},
		domain.WorkflowStep{
			ID:     "insights",
			Type:   domain.StepTypeInsightGeneration,
			Config: map[string]any{"platform": "vinsolutions"},
		})
	assert.ErrorIs(t, err, generation.ErrEmptyRecords)
}

func TestInsightGenerationConfigRequiresPlatform(t *testing.T) {
	t.Parallel()

	handler := NewInsightGenerationHandler(&fakeGenerator{})

	_, err := handler.Run(context.Background(), &domain.Workflow{}, domain.WorkflowStep{
		ID:     "insights",
		Type:   domain.StepTypeInsightGeneration,
		Config: map[string]any{"intent": "weekly sales summary"},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
