// Package stats accumulates job outcomes into batch statistics.
package stats

import (
	"fmt"
	"sync"
	"time"

	"github.com/sdejongh/xtochd/pkg/models"
)

// Aggregator accumulates ConversionStats. Safe for concurrent use.
type Aggregator struct {
	mu    sync.Mutex
	stats models.ConversionStats
}

// New creates an empty aggregator
func New() *Aggregator {
	return &Aggregator{}
}

// Add grows Total as jobs become known
func (a *Aggregator) Add(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	a.stats.Total += n
	a.mu.Unlock()
}

// Replace swaps one known job (an archive) for the n entries it expanded to
func (a *Aggregator) Replace(n int) {
	a.mu.Lock()
	a.stats.Total += n - 1
	if a.stats.Total < 0 {
		a.stats.Total = 0
	}
	a.mu.Unlock()
}

// Skip counts a skipped entry that never became a job, such as an archive
// member whose output already exists
func (a *Aggregator) Skip(outcome models.Outcome) {
	a.mu.Lock()
	a.stats.Skipped++
	a.stats.SkippedOutcomes = append(a.stats.SkippedOutcomes, outcome)
	a.mu.Unlock()
}

// Record counts a job that reached succeeded, failed or skipped
func (a *Aggregator) Record(job *models.ConversionJob) error {
	if !job.IsTerminal() {
		return fmt.Errorf("job %d is %s, not terminal", job.ID, job.Status)
	}

	outcome := models.Outcome{
		Name:           job.Name(),
		Path:           job.Source.Path,
		Reason:         job.Reason,
		OriginalSize:   job.OriginalSize,
		CompressedSize: job.CompressedSize,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch job.Status {
	case models.JobSucceeded:
		a.stats.Succeeded++
		a.stats.OriginalBytes += job.OriginalSize
		a.stats.CompressedBytes += job.CompressedSize
		a.stats.SucceededOutcomes = append(a.stats.SucceededOutcomes, outcome)
	case models.JobFailed:
		a.stats.Failed++
		a.stats.FailedOutcomes = append(a.stats.FailedOutcomes, outcome)
	case models.JobSkipped:
		a.stats.Skipped++
		a.stats.SkippedOutcomes = append(a.stats.SkippedOutcomes, outcome)
	}
	return nil
}

// Cancel counts a job that never started
func (a *Aggregator) Cancel(job *models.ConversionJob) {
	a.mu.Lock()
	a.stats.Cancelled++
	a.mu.Unlock()
}

// Counts returns processed and total without copying outcome lists
func (a *Aggregator) Counts() (processed, total int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats.Processed(), a.stats.Total
}

// Snapshot returns a copy of the current statistics
func (a *Aggregator) Snapshot() models.ConversionStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.stats
	s.SucceededOutcomes = append([]models.Outcome(nil), a.stats.SucceededOutcomes...)
	s.FailedOutcomes = append([]models.Outcome(nil), a.stats.FailedOutcomes...)
	s.SkippedOutcomes = append([]models.Outcome(nil), a.stats.SkippedOutcomes...)
	return s
}

// ReportMeta carries the batch details that are not statistics
type ReportMeta struct {
	BatchID   string
	Roots     []string
	OutputDir string
	StartTime time.Time
	EndTime   time.Time
	Cancelled bool
	Errors    []models.BatchError
	Verdicts  []models.ValidationVerdict
}

// Report builds the final BatchReport
func (a *Aggregator) Report(meta ReportMeta) *models.BatchReport {
	s := a.Snapshot()
	if meta.EndTime.IsZero() {
		meta.EndTime = time.Now()
	}
	return &models.BatchReport{
		BatchID:   meta.BatchID,
		Roots:     meta.Roots,
		OutputDir: meta.OutputDir,
		StartTime: meta.StartTime,
		EndTime:   meta.EndTime,
		Duration:  meta.EndTime.Sub(meta.StartTime),
		Stats:     s,
		Errors:    meta.Errors,
		Verdicts:  meta.Verdicts,
		Status:    Status(s, meta.Cancelled),
	}
}

// Status derives the batch status: cancelled wins when the token left at
// least one job unstarted, then failed when every processed job failed,
// then partial when any failed. A token fired after the last job finished
// does not make the batch cancelled.
func Status(s models.ConversionStats, cancelled bool) models.BatchStatus {
	switch {
	case cancelled && s.Cancelled > 0:
		return models.StatusCancelled
	case s.Failed > 0 && s.Failed == s.Processed():
		return models.StatusFailed
	case s.Failed > 0:
		return models.StatusPartial
	default:
		return models.StatusSuccess
	}
}
