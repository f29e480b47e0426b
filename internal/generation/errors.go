package generation

import "errors"

// Errors returned by Generator implementations.
var (
	// ErrEmptyRecords is returned when there is nothing to analyze.
	ErrEmptyRecords = errors.New("no records to generate insights from")

	// ErrGenerationFailed is returned when the collaborator could not
	// produce an insight. The wrapped error carries the cause.
	ErrGenerationFailed = errors.New("insight generation failed")
)
