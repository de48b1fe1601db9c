// Package output renders batch progress and summaries.
package output

import (
	"io"
	"sync"
	"time"

	"github.com/sdejongh/xtochd/pkg/models"
)

// EventType names a progress notification
type EventType string

const (
	EventBatchStart    EventType = "batch_start"
	EventJobStart      EventType = "job_start"
	EventJobProgress   EventType = "job_progress"
	EventJobComplete   EventType = "job_complete"
	EventJobSkipped    EventType = "job_skipped"
	EventJobError      EventType = "job_error"
	EventVerdict       EventType = "verdict"
	EventBatchComplete EventType = "batch_complete"
)

// ProgressUpdate represents a progress notification during a batch
type ProgressUpdate struct {
	Type EventType
	// Job is the ID of the job the event belongs to, 0 for batch events
	Job  int
	Name string
	Path string
	// Percent is the overall batch progress, 0-100
	Percent float64
	// Current is the number of processed jobs, Total the number known
	Current int
	Total   int
	// Bytes is the input size on job_start and the artifact size on job_complete
	Bytes   int64
	Reason  string
	Error   error
	Verdict *models.ValidationVerdict
	Time    time.Time
}

// Formatter defines the interface for output formatting
// Implementations include human-readable, JSON, progress bar and channel formatters
type Formatter interface {
	// Start initializes the formatter for a new batch
	Start(writer io.Writer, totalJobs int, totalBytes int64) error

	// Progress reports progress during the batch
	Progress(update ProgressUpdate) error

	// Complete finalizes output and displays summary
	Complete(report *models.BatchReport) error

	// Error reports an error that is not tied to a job
	Error(err error) error

	// Name returns the formatter name
	Name() string
}

// Multi fans every call out to several formatters and returns the first error
type Multi []Formatter

func (m Multi) Start(writer io.Writer, totalJobs int, totalBytes int64) error {
	var first error
	for _, f := range m {
		if err := f.Start(writer, totalJobs, totalBytes); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Progress(update ProgressUpdate) error {
	var first error
	for _, f := range m {
		if err := f.Progress(update); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Complete(report *models.BatchReport) error {
	var first error
	for _, f := range m {
		if err := f.Complete(report); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Error(err error) error {
	var first error
	for _, f := range m {
		if e := f.Error(err); e != nil && first == nil {
			first = e
		}
	}
	return first
}

func (m Multi) Name() string {
	return "multi"
}

// Nop discards everything
type Nop struct{}

func (Nop) Start(io.Writer, int, int64) error  { return nil }
func (Nop) Progress(ProgressUpdate) error      { return nil }
func (Nop) Complete(*models.BatchReport) error { return nil }
func (Nop) Error(error) error                  { return nil }
func (Nop) Name() string                       { return "nop" }

// Locked serializes calls to a formatter that is fed from several goroutines
type Locked struct {
	mu sync.Mutex
	f  Formatter
}

// NewLocked wraps f
func NewLocked(f Formatter) *Locked {
	return &Locked{f: f}
}

func (l *Locked) Start(writer io.Writer, totalJobs int, totalBytes int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Start(writer, totalJobs, totalBytes)
}

func (l *Locked) Progress(update ProgressUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Progress(update)
}

func (l *Locked) Complete(report *models.BatchReport) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Complete(report)
}

func (l *Locked) Error(err error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Error(err)
}

func (l *Locked) Name() string {
	return l.f.Name()
}
