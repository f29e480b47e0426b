// Package parsing defines the report parsing boundary. The per-format
// parsers (CSV/XLSX/PDF) are external collaborators consumed through the
// Parser interface; this engine only hands them downloaded file paths.
package parsing

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrUnsupportedFormat is returned when no parser exists for a file's format.
var ErrUnsupportedFormat = errors.New("unsupported report format")

// Options identifies the report being parsed.
type Options struct {
	Vendor     string `json:"vendor"     validate:"required"`
	ReportType string `json:"report_type,omitempty"`
}

// Result is the normalized output of a parse run.
type Result struct {
	ID          uuid.UUID        `json:"id"`
	Records     []map[string]any `json:"records"`
	RecordCount int              `json:"record_count"`
}

// Parser turns a downloaded report file into normalized records.
type Parser interface {
	// Parse reads the file at filePath and returns its records.
	Parse(ctx context.Context, filePath string, opts Options) (*Result, error)
}
