package models

import (
	"time"
)

// BatchOptions is the resolved configuration of one conversion batch
type BatchOptions struct {
	ID        string
	Roots     []string
	OutputDir string
	// Tool is the path of the converter executable
	Tool string
	// Timeout bounds a single converter run; 0 disables it
	Timeout time.Duration
	// RunValidation runs the validator alongside conversion
	RunValidation   bool
	ValidationDepth ValidationDepth
	MaxWorkers      int
	ExcludePatterns []string
	IncludeHidden   bool
	// ExtractBandwidth limits archive extraction in bytes per second, 0 = unlimited
	ExtractBandwidth int64
	// ArchiveProgressShare is the part of an archive's progress slice used by extraction
	ArchiveProgressShare float64
	CreatedAt            time.Time
}

// Validate checks if the batch options are valid
func (o *BatchOptions) Validate() error {
	if len(o.Roots) == 0 {
		return &ValidationError{Field: "Roots", Message: "at least one input path is required"}
	}
	if o.OutputDir == "" {
		return &ValidationError{Field: "OutputDir", Message: "output directory is required"}
	}
	if o.Tool == "" {
		return &ValidationError{Field: "Tool", Message: "converter path is required"}
	}
	if o.Timeout < 0 {
		return &ValidationError{Field: "Timeout", Message: "timeout cannot be negative"}
	}
	if o.MaxWorkers < 0 {
		return &ValidationError{Field: "MaxWorkers", Message: "max workers cannot be negative"}
	}
	if o.ExtractBandwidth < 0 {
		return &ValidationError{Field: "ExtractBandwidth", Message: "bandwidth cannot be negative"}
	}
	if o.ArchiveProgressShare < 0 || o.ArchiveProgressShare >= 1 {
		return &ValidationError{Field: "ArchiveProgressShare", Message: "must be in [0, 1)"}
	}
	if _, err := ParseDepth(string(o.ValidationDepth)); err != nil {
		return &ValidationError{Field: "ValidationDepth", Message: err.Error()}
	}
	return nil
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
