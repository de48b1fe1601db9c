// Package batch drives one conversion session: discovery, deduplication,
// validation and conversion over a growing set of roots.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sdejongh/xtochd/internal/platform"
	"github.com/sdejongh/xtochd/pkg/archive"
	"github.com/sdejongh/xtochd/pkg/cancel"
	"github.com/sdejongh/xtochd/pkg/convert"
	"github.com/sdejongh/xtochd/pkg/dedup"
	"github.com/sdejongh/xtochd/pkg/logging"
	"github.com/sdejongh/xtochd/pkg/models"
	"github.com/sdejongh/xtochd/pkg/output"
	"github.com/sdejongh/xtochd/pkg/ratelimit"
	"github.com/sdejongh/xtochd/pkg/scan"
	"github.com/sdejongh/xtochd/pkg/scratch"
	"github.com/sdejongh/xtochd/pkg/stats"
	"github.com/sdejongh/xtochd/pkg/storage"
	"github.com/sdejongh/xtochd/pkg/validate"
)

// ErrOutputDir is returned when the output directory cannot be used
var ErrOutputDir = errors.New("output directory unavailable")

// SessionConfig holds the collaborators of a Session
type SessionConfig struct {
	Options *models.BatchOptions
	// Scratch is owned by the caller, who closes it
	Scratch *scratch.Manager
	// Converter defaults to an ExecConverter for Options.Tool
	Converter convert.Converter
	// Command is the converter sub-command for the default converter
	Command string
	// OutputExt defaults to models.OutputExt
	OutputExt string
	// RequireOutput fails NewSession when the output directory is unusable
	RequireOutput bool
	// CreateOutput creates a missing output directory
	CreateOutput bool
	Formatter    output.Formatter
	Writer       io.Writer
	Logger       logging.Logger
	Now          func() time.Time
	// Checkers replaces validation checkers by extension
	Checkers map[string]validate.Checker
}

// Session accumulates roots into one deduplicated index and converts it
type Session struct {
	opts      *models.BatchOptions
	scanner   *scan.Scanner
	index     *dedup.Index
	validator *validate.Validator
	scratch   *scratch.Manager
	out       *storage.Local
	expander  *archive.Expander
	conv      convert.Converter
	formatter output.Formatter
	writer    io.Writer
	logger    logging.Logger
	outputExt string
	now       func() time.Time

	mu     sync.Mutex
	roots  []string
	seen   map[string]bool
	errors []models.BatchError
}

// NewSession validates the options and opens the output directory
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Options == nil {
		return nil, fmt.Errorf("batch options are required")
	}
	if cfg.Scratch == nil {
		return nil, fmt.Errorf("scratch manager is required")
	}
	opts := cfg.Options
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := logging.OrNull(cfg.Logger).WithFields(logging.Fields{"batch": opts.ID})
	s := &Session{
		opts:      opts,
		index:     dedup.New(),
		scratch:   cfg.Scratch,
		conv:      cfg.Converter,
		formatter: cfg.Formatter,
		writer:    cfg.Writer,
		logger:    logger,
		outputExt: cfg.OutputExt,
		now:       cfg.Now,
		seen:      make(map[string]bool),
	}
	if s.outputExt == "" {
		s.outputExt = models.OutputExt
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.formatter == nil {
		s.formatter = output.Nop{}
	}
	s.formatter = output.NewLocked(s.formatter)
	if s.conv == nil {
		s.conv = &convert.ExecConverter{Tool: opts.Tool, Command: cfg.Command, Timeout: opts.Timeout}
	}

	s.scanner = scan.New(scan.Options{
		Exclude:       opts.ExcludePatterns,
		IncludeHidden: opts.IncludeHidden,
		Logger:        logger,
	})
	s.validator = validate.New(validate.Options{
		Depth:      opts.ValidationDepth,
		MaxWorkers: opts.MaxWorkers,
		Logger:     logger,
		Checkers:   cfg.Checkers,
	})

	out, err := openOutput(opts.OutputDir, cfg.CreateOutput)
	if err != nil {
		if cfg.RequireOutput {
			return nil, err
		}
		logger.Debug(context.Background(), "Output directory not available", logging.Fields{"error": err.Error()})
	}
	s.out = out
	if out != nil {
		s.expander = archive.New(cfg.Scratch, out, archive.Options{
			OutputExt:     s.outputExt,
			ProgressShare: opts.ArchiveProgressShare,
			Limiter:       ratelimit.NewLimiter(opts.ExtractBandwidth),
			Logger:        logger,
		})
	}
	return s, nil
}

func openOutput(dir string, create bool) (*storage.Local, error) {
	abs, err := platform.Absolute(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutputDir, err)
	}
	info, err := os.Stat(abs)
	switch {
	case os.IsNotExist(err) && create:
		if err := os.MkdirAll(abs, 0755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOutputDir, err)
		}
	case os.IsNotExist(err):
		return nil, fmt.Errorf("%w: %s does not exist", ErrOutputDir, abs)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrOutputDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("%w: %s is not a directory", ErrOutputDir, abs)
	}
	out, err := storage.NewLocal(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutputDir, err)
	}
	return out, nil
}

// Options returns the batch options
func (s *Session) Options() *models.BatchOptions {
	return s.opts
}

// Roots returns the merged roots in the order they were added
func (s *Session) Roots() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.roots...)
}

// Index returns the deduplication index
func (s *Session) Index() *dedup.Index {
	return s.index
}

// Validator returns the session validator
func (s *Session) Validator() *validate.Validator {
	return s.validator
}

// AddRoots scans roots that were not merged before and merges their files
// into the index. It may run while validation of earlier files is in flight.
func (s *Session) AddRoots(ctx context.Context, roots ...string) (added int, errs []error) {
	var fresh []string
	s.mu.Lock()
	for _, root := range roots {
		abs, err := platform.Absolute(root)
		if err != nil {
			errs = append(errs, &scan.ScanError{Path: root, Err: err})
			continue
		}
		if s.seen[abs] {
			continue
		}
		s.seen[abs] = true
		s.roots = append(s.roots, abs)
		fresh = append(fresh, abs)
	}
	s.mu.Unlock()

	if len(fresh) == 0 {
		return 0, errs
	}

	added, scanErrs := s.index.AddAll(s.withoutScratch(s.scanner.Scan(ctx, fresh...)))
	errs = append(errs, scanErrs...)
	for _, err := range errs {
		path := ""
		var se *scan.ScanError
		if errors.As(err, &se) {
			path = se.Path
		}
		s.addError(path, models.ErrorScan, err)
	}

	s.logger.Info(ctx, "Roots merged", logging.Fields{
		"roots":  len(fresh),
		"added":  added,
		"groups": s.index.Len(),
		"errors": len(errs),
	})
	return added, errs
}

// withoutScratch drops files under the scratch base so a root that contains
// it never picks up extraction leftovers
func (s *Session) withoutScratch(seq iter.Seq2[models.CandidateFile, error]) iter.Seq2[models.CandidateFile, error] {
	base := s.scratch.Base()
	return func(yield func(models.CandidateFile, error) bool) {
		for f, err := range seq {
			if err == nil && platform.IsWithin(base, f.Path) {
				continue
			}
			if !yield(f, err) {
				return
			}
		}
	}
}

// Validate validates the current active files that lack a verdict
func (s *Session) Validate(ctx context.Context) *validate.Pass {
	return s.validator.Run(ctx, s.index.Active())
}

// SetDepth switches the validation depth, dropping every cached verdict,
// and re-validates the active files
func (s *Session) SetDepth(ctx context.Context, depth models.ValidationDepth) *validate.Pass {
	if s.validator.SetDepth(depth) {
		s.logger.Info(ctx, "Validation depth changed", logging.Fields{"depth": string(depth)})
	}
	s.opts.ValidationDepth = depth
	return s.Validate(ctx)
}

// Jobs builds the job list in discovery order
func (s *Session) Jobs() []*models.ConversionJob {
	dir := s.opts.OutputDir
	if s.out != nil {
		dir = s.out.Root()
	}
	return convert.BuildJobs(s.index.Groups(), dir, s.outputExt)
}

// Convert runs validation (when enabled) alongside the conversion of every
// job and returns the final report. Validation still running when the last
// job ends is cancelled; the report carries the verdicts produced so far.
func (s *Session) Convert(ctx context.Context, token *cancel.Token) *models.BatchReport {
	if token == nil {
		token = cancel.New()
	}
	if ctx.Err() != nil {
		token.Cancel()
	}
	stop := token.Bind(ctx)
	defer stop()

	start := s.now()
	agg := stats.New()
	jobs := s.Jobs()

	if s.out == nil {
		err := fmt.Errorf("%w: %s", ErrOutputDir, s.opts.OutputDir)
		s.addError(s.opts.OutputDir, models.ErrorResource, err)
		s.formatter.Error(err)
		agg.Add(len(jobs))
		for _, j := range jobs {
			j.Fail(err.Error(), 0)
			agg.Record(j)
		}
		return s.finish(agg, start, token)
	}

	var wg sync.WaitGroup
	stopValidation := func() {}
	if s.opts.RunValidation {
		vctx, cancelValidation := token.Context(ctx)
		stopValidation = cancelValidation
		pass := s.Validate(vctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.forwardVerdicts(pass)
		}()
	}

	orch := convert.New(s.conv, s.out, convert.Options{
		OutputExt:  s.outputExt,
		Expander:   s.expander,
		Aggregator: agg,
		Formatter:  s.formatter,
		Writer:     s.writer,
		Logger:     s.logger,
		Token:      token,
		BatchID:    s.opts.ID,
		Now:        s.now,
	})
	orch.Run(ctx, jobs)
	stopValidation()
	wg.Wait()

	s.mu.Lock()
	s.errors = append(s.errors, orch.Errors()...)
	s.mu.Unlock()

	return s.finish(agg, start, token)
}

func (s *Session) forwardVerdicts(pass *validate.Pass) {
	for v := range pass.Results() {
		verdict := v
		s.formatter.Progress(output.ProgressUpdate{
			Type:    output.EventVerdict,
			Name:    filepath.Base(v.Path),
			Path:    v.Path,
			Reason:  v.Reason,
			Verdict: &verdict,
			Time:    v.CheckedAt,
		})
	}
}

func (s *Session) finish(agg *stats.Aggregator, start time.Time, token *cancel.Token) *models.BatchReport {
	report := agg.Report(stats.ReportMeta{
		BatchID:   s.opts.ID,
		Roots:     s.Roots(),
		OutputDir: s.opts.OutputDir,
		StartTime: start,
		EndTime:   s.now(),
		Cancelled: token.Cancelled(),
		Errors:    s.Errors(),
		Verdicts:  s.validator.Verdicts(),
	})
	if err := s.formatter.Complete(report); err != nil {
		s.logger.Warn(context.Background(), "Formatter complete failed", logging.Fields{"error": err.Error()})
	}
	s.logger.Info(context.Background(), "Batch finished", logging.Fields{
		"status":    string(report.Status),
		"succeeded": report.Stats.Succeeded,
		"failed":    report.Stats.Failed,
		"skipped":   report.Stats.Skipped,
		"duration":  report.Duration.String(),
	})
	return report
}

// Errors returns batch-level errors recorded so far
func (s *Session) Errors() []models.BatchError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.BatchError(nil), s.errors...)
}

func (s *Session) addError(path string, kind models.ErrorKind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, models.BatchError{Path: path, Kind: kind, Message: err.Error(), Timestamp: s.now()})
}
