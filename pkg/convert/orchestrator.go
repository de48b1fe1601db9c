package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/sdejongh/xtochd/pkg/archive"
	"github.com/sdejongh/xtochd/pkg/cancel"
	"github.com/sdejongh/xtochd/pkg/logging"
	"github.com/sdejongh/xtochd/pkg/models"
	"github.com/sdejongh/xtochd/pkg/output"
	"github.com/sdejongh/xtochd/pkg/scratch"
	"github.com/sdejongh/xtochd/pkg/stats"
	"github.com/sdejongh/xtochd/pkg/storage"
)

// StagingSuffix is appended to the target name while the converter writes
const StagingSuffix = ".partial"

// Skip and failure reasons
const (
	ReasonOutputExists = "output already exists"
	ReasonNoImages     = "no convertible images in archive"
	ReasonSidecarOnly  = "no convertible image (sidecar without container)"
	ReasonNoOutput     = "converter produced no output"
	ReasonNoArchives   = "archive support is not configured"
)

// Options configures an Orchestrator
type Options struct {
	// OutputExt defaults to models.OutputExt
	OutputExt string
	// Expander handles archive jobs; nil fails them
	Expander *archive.Expander
	// Aggregator defaults to a fresh one
	Aggregator *stats.Aggregator
	// Formatter defaults to output.Nop
	Formatter output.Formatter
	// Writer is handed to Formatter.Start
	Writer  io.Writer
	Logger  logging.Logger
	Token   *cancel.Token
	BatchID string
	// Now defaults to time.Now
	Now func() time.Time
}

// Orchestrator runs conversion jobs one at a time
type Orchestrator struct {
	conv      Converter
	out       *storage.Local
	outputExt string
	expander  *archive.Expander
	agg       *stats.Aggregator
	formatter output.Formatter
	writer    io.Writer
	logger    logging.Logger
	token     *cancel.Token
	batchID   string
	now       func() time.Time

	mu     sync.Mutex
	errors []models.BatchError
	nextID int
}

// New creates an Orchestrator writing artifacts into out
func New(conv Converter, out *storage.Local, opts Options) *Orchestrator {
	o := &Orchestrator{
		conv:      conv,
		out:       out,
		outputExt: opts.OutputExt,
		expander:  opts.Expander,
		agg:       opts.Aggregator,
		formatter: opts.Formatter,
		writer:    opts.Writer,
		logger:    logging.OrNull(opts.Logger).WithFields(logging.Fields{"component": "convert"}),
		token:     opts.Token,
		batchID:   opts.BatchID,
		now:       opts.Now,
	}
	if o.outputExt == "" {
		o.outputExt = models.OutputExt
	}
	if o.agg == nil {
		o.agg = stats.New()
	}
	if o.formatter == nil {
		o.formatter = output.Nop{}
	}
	if o.token == nil {
		o.token = cancel.New()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// TargetName is the artifact file name for a source file
func TargetName(f models.CandidateFile, ext string) string {
	return f.BaseName() + ext
}

// BuildJobs creates one pending job per group, numbered from 1
func BuildJobs(groups []*models.FileGroup, outDir, ext string) []*models.ConversionJob {
	jobs := make([]*models.ConversionJob, 0, len(groups))
	for i, g := range groups {
		jobs = append(jobs, models.NewConversionJob(i+1, g, filepath.Join(outDir, TargetName(g.Primary, ext))))
	}
	return jobs
}

// Errors returns batch-level errors recorded during Run
func (o *Orchestrator) Errors() []models.BatchError {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.BatchError(nil), o.errors...)
}

// Aggregator returns the statistics accumulator
func (o *Orchestrator) Aggregator() *stats.Aggregator {
	return o.agg
}

// progressSlice is the part of the overall batch, in [0, 1], owned by a job
type progressSlice struct {
	start, width float64
}

func (s progressSlice) at(fraction float64) float64 {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return (s.start + s.width*fraction) * 100
}

func (s progressSlice) sub(start, width float64) progressSlice {
	return progressSlice{start: s.start + s.width*start, width: s.width * width}
}

// Run converts jobs strictly in order. Cancellation is checked before each
// job, before each archive member and after each conversion; the job in
// flight always runs to completion.
func (o *Orchestrator) Run(ctx context.Context, jobs []*models.ConversionJob) *stats.Aggregator {
	var totalBytes int64
	for _, j := range jobs {
		totalBytes += j.OriginalSize
		if j.ID >= o.nextID {
			o.nextID = j.ID + 1
		}
	}
	o.agg.Add(len(jobs))

	if err := o.formatter.Start(o.writer, len(jobs), totalBytes); err != nil {
		o.logger.Warn(ctx, "Formatter start failed", logging.Fields{"error": err.Error()})
	}
	o.logger.Info(ctx, "Conversion started", logging.Fields{"batch": o.batchID, "jobs": len(jobs), "bytes": totalBytes})

	n := float64(len(jobs))
	for i, job := range jobs {
		if o.token.Cancelled() {
			o.cancelRemaining(ctx, jobs[i:])
			break
		}
		slice := progressSlice{start: float64(i) / n, width: 1 / n}
		if job.Kind == models.KindArchive {
			o.runArchive(ctx, job, slice)
		} else {
			o.runImage(ctx, job, slice)
		}
	}

	processed, total := o.agg.Counts()
	o.logger.Info(ctx, "Conversion finished", logging.Fields{
		"processed": processed,
		"total":     total,
		"cancelled": o.token.Cancelled(),
	})
	return o.agg
}

func (o *Orchestrator) cancelRemaining(ctx context.Context, jobs []*models.ConversionJob) {
	for _, job := range jobs {
		if job.Cancel() == nil {
			o.agg.Cancel(job)
		}
	}
	o.logger.Info(ctx, "Batch cancelled", logging.Fields{"not_started": len(jobs)})
}

func (o *Orchestrator) runImage(ctx context.Context, job *models.ConversionJob, slice progressSlice) {
	log := o.logger.WithFields(logging.Fields{"job": job.ID, "source": job.Source.Path})

	target, err := o.targetName(job)
	if err != nil {
		o.fail(ctx, job, err.Error(), 0, slice)
		return
	}

	exists, err := o.out.Exists(ctx, target)
	if err != nil {
		o.fail(ctx, job, err.Error(), 0, slice)
		return
	}
	if exists {
		log.Debug(ctx, "Output exists, skipping", logging.Fields{"target": job.Target})
		o.skip(ctx, job, ReasonOutputExists, slice)
		return
	}
	if models.IsSidecarOnlyExt(job.Source.Ext) {
		o.skip(ctx, job, ReasonSidecarOnly, slice)
		return
	}

	if err := job.Start(); err != nil {
		log.Error(ctx, "Cannot start job", err, nil)
		return
	}
	o.emit(output.ProgressUpdate{Type: output.EventJobStart, Bytes: job.OriginalSize}, job, slice.at(0))

	staging := target + StagingSuffix
	if err := o.out.Delete(ctx, staging); err != nil {
		log.Warn(ctx, "Failed to remove stale staging file", logging.Fields{"error": err.Error()})
	}
	stagingPath, err := o.out.Path(staging)
	if err != nil {
		o.fail(ctx, job, err.Error(), 0, slice)
		return
	}

	start := o.now()
	result := o.conv.Convert(ctx, job.Source.Path, stagingPath)
	duration := o.now().Sub(start)

	if !result.OK() {
		o.out.Delete(ctx, staging)
		job.Stderr = result.Stderr
		cerr := &ConversionError{Input: job.Source.Path, ExitCode: result.ExitCode, Stderr: result.Stderr, Err: result.Err}
		log.Error(ctx, "Conversion failed", cerr, logging.Fields{"exit_code": result.ExitCode})
		o.fail(ctx, job, cerr.Error(), duration, slice)
		return
	}

	info, err := o.out.Stat(ctx, staging)
	if err != nil || info.Size == 0 {
		o.out.Delete(ctx, staging)
		job.Stderr = result.Stderr
		o.fail(ctx, job, ReasonNoOutput, duration, slice)
		return
	}
	if err := o.out.Rename(ctx, staging, target); err != nil {
		o.out.Delete(ctx, staging)
		o.fail(ctx, job, err.Error(), duration, slice)
		return
	}

	if err := job.Succeed(info.Size, duration); err != nil {
		log.Error(ctx, "Cannot complete job", err, nil)
		return
	}
	o.record(ctx, job)
	log.Info(ctx, "Converted", logging.Fields{
		"target":     job.Target,
		"original":   job.OriginalSize,
		"compressed": job.CompressedSize,
		"duration":   duration.String(),
	})
	o.emit(output.ProgressUpdate{Type: output.EventJobComplete, Bytes: job.CompressedSize}, job, slice.at(1))
}

func (o *Orchestrator) runArchive(ctx context.Context, job *models.ConversionJob, slice progressSlice) {
	log := o.logger.WithFields(logging.Fields{"job": job.ID, "archive": job.Source.Path})

	if o.expander == nil {
		o.fail(ctx, job, ReasonNoArchives, 0, slice)
		return
	}

	o.emit(output.ProgressUpdate{Type: output.EventJobStart, Bytes: job.OriginalSize}, job, slice.at(0))
	owner := fmt.Sprintf("%s/%d", o.batchID, job.ID)
	result, err := o.expander.Expand(ctx, job.Source, owner, o.token, func(f float64) {
		o.emit(output.ProgressUpdate{Type: output.EventJobProgress}, job, slice.at(f))
	})
	if err != nil {
		kind := models.ErrorExtraction
		var re *scratch.ResourceError
		if errors.As(err, &re) {
			kind = models.ErrorResource
		}
		o.addError(job.Source.Path, kind, err)
		log.Error(ctx, "Archive expansion failed", err, nil)
		o.fail(ctx, job, err.Error(), 0, slice)
		return
	}
	defer o.expander.Release(result)

	if result.Cancelled {
		if job.Cancel() == nil {
			o.agg.Cancel(job)
		}
		return
	}
	for _, serr := range result.Errors {
		o.addError(job.Source.Path, models.ErrorScan, serr)
	}

	members := make([]*models.ConversionJob, 0, len(result.Groups))
	for _, g := range result.Groups {
		m := models.NewConversionJob(o.allocID(), g, filepath.Join(o.out.Root(), TargetName(g.Primary, o.outputExt)))
		m.Archive = job.Source.Path
		members = append(members, m)
	}

	entries := len(result.Skipped) + len(members)
	if entries == 0 {
		o.skip(ctx, job, ReasonNoImages, slice)
		return
	}

	// The archive job is superseded by its members and stays pending.
	o.agg.Replace(entries)
	share := o.expander.ProgressShare()
	for _, outcome := range result.Skipped {
		o.agg.Skip(outcome)
		o.emitUpdate(output.ProgressUpdate{
			Type:    output.EventJobSkipped,
			Job:     job.ID,
			Name:    outcome.Name,
			Path:    outcome.Path,
			Reason:  outcome.Reason,
			Percent: slice.at(share),
		})
	}

	width := (1 - share) / float64(len(members))
	for k, m := range members {
		if o.token.Cancelled() {
			o.cancelRemaining(ctx, members[k:])
			return
		}
		o.runImage(ctx, m, slice.sub(share+width*float64(k), width))
	}
}

func (o *Orchestrator) targetName(job *models.ConversionJob) (string, error) {
	rel, err := filepath.Rel(o.out.Root(), job.Target)
	if err != nil {
		return "", fmt.Errorf("target %s is outside the output directory: %w", job.Target, err)
	}
	return rel, nil
}

func (o *Orchestrator) skip(ctx context.Context, job *models.ConversionJob, reason string, slice progressSlice) {
	if err := job.Skip(reason); err != nil {
		o.logger.Error(ctx, "Cannot skip job", err, logging.Fields{"job": job.ID})
		return
	}
	o.record(ctx, job)
	o.emit(output.ProgressUpdate{Type: output.EventJobSkipped, Reason: reason}, job, slice.at(1))
}

func (o *Orchestrator) fail(ctx context.Context, job *models.ConversionJob, reason string, duration time.Duration, slice progressSlice) {
	if err := job.Fail(reason, duration); err != nil {
		o.logger.Error(ctx, "Cannot fail job", err, logging.Fields{"job": job.ID})
		return
	}
	o.record(ctx, job)
	o.emit(output.ProgressUpdate{Type: output.EventJobError, Reason: reason}, job, slice.at(1))
}

func (o *Orchestrator) record(ctx context.Context, job *models.ConversionJob) {
	if err := o.agg.Record(job); err != nil {
		o.logger.Error(ctx, "Failed to record job", err, logging.Fields{"job": job.ID})
	}
}

func (o *Orchestrator) emit(update output.ProgressUpdate, job *models.ConversionJob, percent float64) {
	update.Job = job.ID
	update.Name = job.Name()
	update.Path = job.Source.Path
	update.Percent = percent
	o.emitUpdate(update)
}

func (o *Orchestrator) emitUpdate(update output.ProgressUpdate) {
	update.Current, update.Total = o.agg.Counts()
	update.Time = o.now()
	if err := o.formatter.Progress(update); err != nil {
		o.logger.Debug(context.Background(), "Formatter progress failed", logging.Fields{"error": err.Error()})
	}
}

func (o *Orchestrator) addError(path string, kind models.ErrorKind, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors = append(o.errors, models.BatchError{Path: path, Kind: kind, Message: err.Error(), Timestamp: o.now()})
}

func (o *Orchestrator) allocID() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	return id
}
