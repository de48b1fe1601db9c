package models

import (
	"time"
)

// BatchReport represents the results of a conversion batch
type BatchReport struct {
	// Batch details
	BatchID   string
	Roots     []string
	OutputDir string

	// Timing
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Statistics
	Stats ConversionStats

	// Errors that are not tied to a single job
	Errors []BatchError

	// Validation verdicts known when the batch ended
	Verdicts []ValidationVerdict

	// Overall status
	Status BatchStatus
}

// Outcome is one named entry of an outcome list
type Outcome struct {
	Name           string `json:"name"`
	Path           string `json:"path"`
	Reason         string `json:"reason,omitempty"`
	OriginalSize   int64  `json:"original_size,omitempty"`
	CompressedSize int64  `json:"compressed_size,omitempty"`
}

// ConversionStats holds batch counters and outcome lists
type ConversionStats struct {
	// Jobs known to the batch (archive members are added as they are listed)
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	// Jobs that never started because the batch was cancelled
	Cancelled int

	OriginalBytes   int64
	CompressedBytes int64

	SucceededOutcomes []Outcome
	FailedOutcomes    []Outcome
	SkippedOutcomes   []Outcome
}

// Processed returns the number of jobs that reached a terminal state
func (s ConversionStats) Processed() int {
	return s.Succeeded + s.Failed + s.Skipped
}

// SuccessRate returns succeeded/processed; ok is false when nothing was processed
func (s ConversionStats) SuccessRate() (rate float64, ok bool) {
	processed := s.Processed()
	if processed == 0 {
		return 0, false
	}
	return float64(s.Succeeded) / float64(processed), true
}

// CompressionRatio returns 1 - compressed/original over succeeded jobs;
// ok is false when no original bytes were recorded
func (s ConversionStats) CompressionRatio() (ratio float64, ok bool) {
	if s.OriginalBytes <= 0 {
		return 0, false
	}
	return 1 - float64(s.CompressedBytes)/float64(s.OriginalBytes), true
}

// SpaceSaved returns original minus compressed bytes
func (s ConversionStats) SpaceSaved() int64 {
	return s.OriginalBytes - s.CompressedBytes
}

// BatchStatus represents the overall result
type BatchStatus string

const (
	// StatusSuccess indicates every job succeeded or was skipped
	StatusSuccess BatchStatus = "success"
	// StatusPartial indicates some jobs failed
	StatusPartial BatchStatus = "partial"
	// StatusFailed indicates every processed job failed
	StatusFailed BatchStatus = "failed"
	// StatusCancelled indicates the batch was cancelled by the user
	StatusCancelled BatchStatus = "cancelled"
)

// ErrorKind classifies batch-level errors
type ErrorKind string

const (
	ErrorScan       ErrorKind = "scan"
	ErrorExtraction ErrorKind = "extraction"
	ErrorResource   ErrorKind = "resource"
)

// BatchError represents an error outside the job outcome lists
type BatchError struct {
	Path      string    `json:"path"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ExitCode returns the appropriate exit code for the batch status
func (s BatchStatus) ExitCode() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusPartial:
		return 1
	case StatusFailed:
		return 2
	case StatusCancelled:
		return 3
	default:
		return 2
	}
}
