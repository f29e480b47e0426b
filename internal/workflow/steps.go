package workflow

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/watchdogai/report-engine/internal/domain"
	"github.com/watchdogai/report-engine/internal/generation"
	"github.com/watchdogai/report-engine/internal/ingest"
	"github.com/watchdogai/report-engine/internal/parsing"
)

// configValidator validates decoded step configs.
var configValidator = validator.New()

// StepHandler executes steps of one type. The returned output map is merged
// into the workflow context under the step's ID and the last-result key.
type StepHandler interface {
	// Type returns the step type this handler executes.
	Type() domain.StepType

	// Run executes one step against the current workflow context.
	Run(ctx context.Context, wf *domain.Workflow, step domain.WorkflowStep) (map[string]any, error)
}

// StepFunc adapts a function to the StepHandler interface, used to register
// the outward-facing step types (crm, api, browserAction, custom) whose
// implementations live outside this module.
type StepFunc struct {
	StepType domain.StepType
	Fn       func(ctx context.Context, wf *domain.Workflow, step domain.WorkflowStep) (map[string]any, error)
}

// Type implements StepHandler.
func (s StepFunc) Type() domain.StepType { return s.StepType }

// Run implements StepHandler.
func (s StepFunc) Run(ctx context.Context, wf *domain.Workflow, step domain.WorkflowStep) (map[string]any, error) {
	return s.Fn(ctx, wf, step)
}

// decodeStepConfig decodes a step's loosely-typed config map into a typed
// struct and validates it.
func decodeStepConfig(config map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "json",
	})
	if err != nil {
		return fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(config); err != nil {
		return fmt.Errorf("%w: invalid step config: %v", domain.ErrValidation, err)
	}
	if err := configValidator.Struct(out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

// emailIngestionConfig is the config shape for emailIngestion steps.
type emailIngestionConfig struct {
	Vendor string `json:"vendor" validate:"required"`
}

// EmailIngestionHandler runs emailIngestion steps through the ingestion
// engine.
type EmailIngestionHandler struct {
	engine *ingest.Engine
}

// NewEmailIngestionHandler creates the handler for emailIngestion steps.
func NewEmailIngestionHandler(engine *ingest.Engine) *EmailIngestionHandler {
	return &EmailIngestionHandler{engine: engine}
}

// Type implements StepHandler.
func (h *EmailIngestionHandler) Type() domain.StepType { return domain.StepTypeEmailIngestion }

// Run implements StepHandler.
func (h *EmailIngestionHandler) Run(ctx context.Context, _ *domain.Workflow, step domain.WorkflowStep) (map[string]any, error) {
	var cfg emailIngestionConfig
	if err := decodeStepConfig(step.Config, &cfg); err != nil {
		return nil, err
	}

	results, err := h.engine.FetchEmailsWithAttachments(ctx, cfg.Vendor)
	if err != nil {
		return nil, err
	}

	var filePaths []string
	for _, r := range results {
		filePaths = append(filePaths, r.FilePaths...)
	}
	return map[string]any{
		"vendor":     cfg.Vendor,
		"emails":     len(results),
		"file_paths": filePaths,
	}, nil
}

// dataProcessingConfig is the config shape for dataProcessing steps.
// FilePaths may be empty, in which case the paths produced by the previous
// step are used.
type dataProcessingConfig struct {
	Vendor     string   `json:"vendor" validate:"required"`
	ReportType string   `json:"report_type"`
	FilePaths  []string `json:"file_paths"`
}

// DataProcessingHandler runs dataProcessing steps through the report parser.
type DataProcessingHandler struct {
	parser parsing.Parser
}

// NewDataProcessingHandler creates the handler for dataProcessing steps.
func NewDataProcessingHandler(parser parsing.Parser) *DataProcessingHandler {
	return &DataProcessingHandler{parser: parser}
}

// Type implements StepHandler.
func (h *DataProcessingHandler) Type() domain.StepType { return domain.StepTypeDataProcessing }

// Run implements StepHandler.
func (h *DataProcessingHandler) Run(ctx context.Context, wf *domain.Workflow, step domain.WorkflowStep) (map[string]any, error) {
	var cfg dataProcessingConfig
	if err := decodeStepConfig(step.Config, &cfg); err != nil {
		return nil, err
	}

	filePaths := cfg.FilePaths
	if len(filePaths) == 0 {
		filePaths = lastStepFilePaths(wf.Context)
	}
	if len(filePaths) == 0 {
		return nil, fmt.Errorf("%w: no files to process", domain.ErrValidation)
	}

	var (
		records []map[string]any
		ids     []string
	)
	for _, path := range filePaths {
		result, err := h.parser.Parse(ctx, path, parsing.Options{
			Vendor:     cfg.Vendor,
			ReportType: cfg.ReportType,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		records = append(records, result.Records...)
		ids = append(ids, result.ID.String())
	}

	return map[string]any{
		"report_ids":   ids,
		"records":      records,
		"record_count": len(records),
	}, nil
}

// insightGenerationConfig is the config shape for insightGeneration steps.
type insightGenerationConfig struct {
	Platform    string `json:"platform" validate:"required"`
	Intent      string `json:"intent"`
	MaxInsights int    `json:"max_insights" validate:"gte=0"`
}

// InsightGenerationHandler runs insightGeneration steps through the insight
// generator.
type InsightGenerationHandler struct {
	generator generation.Generator
}

// NewInsightGenerationHandler creates the handler for insightGeneration steps.
func NewInsightGenerationHandler(generator generation.Generator) *InsightGenerationHandler {
	return &InsightGenerationHandler{generator: generator}
}

// Type implements StepHandler.
func (h *InsightGenerationHandler) Type() domain.StepType { return domain.StepTypeInsightGeneration }

// Run implements StepHandler.
func (h *InsightGenerationHandler) Run(ctx context.Context, wf *domain.Workflow, step domain.WorkflowStep) (map[string]any, error) {
	var cfg insightGenerationConfig
	if err := decodeStepConfig(step.Config, &cfg); err != nil {
		return nil, err
	}

	records := lastStepRecords(wf.Context)
	if len(records) == 0 {
		return nil, generation.ErrEmptyRecords
	}

	insight, err := h.generator.GenerateInsights(ctx, records, cfg.Platform, generation.Options{
		Intent:      cfg.Intent,
		MaxInsights: cfg.MaxInsights,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"platform":   cfg.Platform,
		"insight":    insight.Insight,
		"insight_id": insight.InsightID.String(),
		"metadata":   insight.Metadata,
	}, nil
}

// lastStepFilePaths pulls the file_paths slice from the previous step's
// output in the workflow context.
func lastStepFilePaths(wfContext map[string]any) []string {
	last, ok := wfContext[domain.LastStepResultKey].(map[string]any)
	if !ok {
		return nil
	}
	switch paths := last["file_paths"].(type) {
	case []string:
		return paths
	case []any:
		var out []string
		for _, p := range paths {
			if s, ok := p.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// lastStepRecords pulls the parsed records from the previous step's output
// in the workflow context.
func lastStepRecords(wfContext map[string]any) []map[string]any {
	last, ok := wfContext[domain.LastStepResultKey].(map[string]any)
	if !ok {
		return nil
	}
	switch records := last["records"].(type) {
	case []map[string]any:
		return records
	case []any:
		var out []map[string]any
		for _, r := range records {
			if m, ok := r.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}
