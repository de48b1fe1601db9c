package models

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus represents the state of a conversion job
type JobStatus string

const (
	// JobPending indicates the job is waiting in the queue
	JobPending JobStatus = "pending"
	// JobRunning indicates the converter (or extraction) is working on it
	JobRunning JobStatus = "running"
	// JobSucceeded indicates an artifact was produced
	JobSucceeded JobStatus = "succeeded"
	// JobFailed indicates the job could not be completed
	JobFailed JobStatus = "failed"
	// JobSkipped indicates no work was needed
	JobSkipped JobStatus = "skipped"
	// JobCancelled indicates the batch was cancelled before the job started
	JobCancelled JobStatus = "cancelled"
)

// JobKind distinguishes plain images from archives that must be expanded
type JobKind string

const (
	KindImage   JobKind = "image"
	KindArchive JobKind = "archive"
)

// ErrInvalidTransition is returned when a job is moved to a state its
// current state does not allow
var ErrInvalidTransition = errors.New("invalid job state transition")

// ConversionJob maps one source input to one target artifact
type ConversionJob struct {
	// ID is the position of the job in the batch (1-based)
	ID int
	// Source is the primary input file
	Source CandidateFile
	// Sidecars accompany the source and are not converted on their own
	Sidecars []CandidateFile
	// Target is the absolute path of the artifact
	Target string
	// Kind is image or archive
	Kind JobKind
	// Archive is set when the source was extracted from an archive
	Archive string

	Status JobStatus
	// Reason explains a skip or failure
	Reason string
	// Stderr holds converter diagnostics of a failed run
	Stderr string

	OriginalSize   int64
	CompressedSize int64
	Duration       time.Duration
}

// NewConversionJob creates a pending job for a group
func NewConversionJob(id int, group *FileGroup, target string) *ConversionJob {
	kind := KindImage
	if group.Primary.IsArchive() {
		kind = KindArchive
	}
	return &ConversionJob{
		ID:           id,
		Source:       group.Primary,
		Sidecars:     append([]CandidateFile(nil), group.Sidecars...),
		Target:       target,
		Kind:         kind,
		Status:       JobPending,
		OriginalSize: group.TotalSize(),
	}
}

// Name is the display name used in outcome lists
func (j *ConversionJob) Name() string {
	return j.Source.Name()
}

// IsTerminal reports whether the job reached succeeded, failed or skipped
func (j *ConversionJob) IsTerminal() bool {
	switch j.Status {
	case JobSucceeded, JobFailed, JobSkipped:
		return true
	}
	return false
}

// Start moves a pending job to running
func (j *ConversionJob) Start() error {
	if j.Status != JobPending {
		return j.transitionError(JobRunning)
	}
	j.Status = JobRunning
	return nil
}

// Succeed records a produced artifact
func (j *ConversionJob) Succeed(compressedSize int64, duration time.Duration) error {
	if j.Status != JobRunning {
		return j.transitionError(JobSucceeded)
	}
	j.Status = JobSucceeded
	j.CompressedSize = compressedSize
	j.Duration = duration
	return nil
}

// Fail records a failure. Pending jobs may fail directly (e.g. resource errors)
func (j *ConversionJob) Fail(reason string, duration time.Duration) error {
	if j.Status != JobRunning && j.Status != JobPending {
		return j.transitionError(JobFailed)
	}
	j.Status = JobFailed
	j.Reason = reason
	j.Duration = duration
	return nil
}

// Skip marks the job as not needing work
func (j *ConversionJob) Skip(reason string) error {
	if j.Status != JobPending && j.Status != JobRunning {
		return j.transitionError(JobSkipped)
	}
	j.Status = JobSkipped
	j.Reason = reason
	return nil
}

// Cancel marks a job that never started
func (j *ConversionJob) Cancel() error {
	if j.Status != JobPending {
		return j.transitionError(JobCancelled)
	}
	j.Status = JobCancelled
	return nil
}

func (j *ConversionJob) transitionError(to JobStatus) error {
	return fmt.Errorf("%w: job %d %s -> %s", ErrInvalidTransition, j.ID, j.Status, to)
}
