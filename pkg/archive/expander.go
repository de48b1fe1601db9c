package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sdejongh/xtochd/pkg/cancel"
	"github.com/sdejongh/xtochd/pkg/dedup"
	"github.com/sdejongh/xtochd/pkg/logging"
	"github.com/sdejongh/xtochd/pkg/models"
	"github.com/sdejongh/xtochd/pkg/ratelimit"
	"github.com/sdejongh/xtochd/pkg/scan"
	"github.com/sdejongh/xtochd/pkg/scratch"
	"github.com/sdejongh/xtochd/pkg/storage"
)

// DefaultProgressShare is the part of an archive's progress slice spent on extraction
const DefaultProgressShare = 0.2

// ReasonAlreadyConverted marks members whose output exists
const ReasonAlreadyConverted = "already converted"

// Options configures an Expander
type Options struct {
	// OutputExt defaults to models.OutputExt
	OutputExt string
	// ProgressShare defaults to DefaultProgressShare
	ProgressShare float64
	// Limiter throttles extraction; nil means unlimited
	Limiter *ratelimit.Limiter
	Logger  logging.Logger
}

// Expander lists archives and extracts their pending members into scratch
// directories
type Expander struct {
	scratch   *scratch.Manager
	out       *storage.Local
	outputExt string
	share     float64
	limiter   *ratelimit.Limiter
	logger    logging.Logger
}

// Result is the outcome of expanding one archive
type Result struct {
	Plan *Plan
	// Skipped holds one outcome per member that is already converted
	Skipped []models.Outcome
	// Groups are the deduplicated extracted images, in discovery order
	Groups []*models.FileGroup
	// Scratch is the extraction directory, nil when nothing was extracted
	Scratch *models.ScratchDirectory
	// Cancelled is true when the token fired during extraction
	Cancelled bool
	// Errors are scan errors from the extraction directory
	Errors []error
}

// New creates an Expander writing into directories owned by sm and checking
// existing outputs in out
func New(sm *scratch.Manager, out *storage.Local, opts Options) *Expander {
	ext := opts.OutputExt
	if ext == "" {
		ext = models.OutputExt
	}
	share := opts.ProgressShare
	if share <= 0 || share >= 1 {
		share = DefaultProgressShare
	}
	return &Expander{
		scratch:   sm,
		out:       out,
		outputExt: ext,
		share:     share,
		limiter:   opts.Limiter,
		logger:    logging.OrNull(opts.Logger),
	}
}

// ProgressShare returns the fraction of an archive's slice used by extraction
func (e *Expander) ProgressShare() float64 {
	return e.share
}

// Expand extracts the pending members of archive and returns the jobs they
// form. When every member is already converted nothing is extracted. The
// caller releases Result.Scratch with Release once the jobs are done.
func (e *Expander) Expand(ctx context.Context, archive models.CandidateFile, owner string, token *cancel.Token, progress func(float64)) (*Result, error) {
	if progress == nil {
		progress = func(float64) {}
	}
	log := e.logger.WithFields(logging.Fields{"archive": archive.Path})

	r, err := zip.OpenReader(archive.Path)
	if err != nil {
		return nil, &ExtractionError{Archive: archive.Path, Err: err}
	}
	defer r.Close()

	plan, err := e.plan(archive.Path, r.File)
	if err != nil {
		return nil, err
	}
	for _, name := range plan.Unsafe {
		log.Warn(ctx, "Skipping unsafe archive entry", logging.Fields{"member": name})
	}

	result := &Result{Plan: plan}
	for _, m := range plan.Done() {
		result.Skipped = append(result.Skipped, models.Outcome{
			Name:   filepath.Base(filepath.FromSlash(m.Name)),
			Path:   archive.Path,
			Reason: ReasonAlreadyConverted,
		})
	}

	pending := plan.Pending()
	if len(pending) == 0 {
		log.Debug(ctx, "Nothing to extract", logging.Fields{"members": len(plan.Members)})
		progress(e.share)
		return result, nil
	}

	dir, err := e.scratch.CreateScratchDir("zip", owner)
	if err != nil {
		return nil, err
	}
	result.Scratch = &dir

	if err := e.extract(ctx, r, dir.Path, pending, plan.PendingBytes(), token, progress, result); err != nil {
		e.scratch.Release(dir.Path)
		result.Scratch = nil
		return nil, err
	}
	if result.Cancelled {
		log.Info(ctx, "Extraction cancelled", nil)
		return result, nil
	}

	scanner := scan.New(scan.Options{
		Extensions:    models.DiskImageExts(),
		IncludeHidden: true,
		Logger:        e.logger,
	})
	index := dedup.New()
	_, result.Errors = index.AddAll(scanner.Scan(ctx, dir.Path))
	result.Groups = index.Groups()

	log.Info(ctx, "Archive expanded", logging.Fields{
		"extracted": len(pending),
		"skipped":   len(result.Skipped),
		"groups":    len(result.Groups),
	})
	return result, nil
}

// Release removes the scratch directory of a result
func (e *Expander) Release(result *Result) bool {
	if result == nil || result.Scratch == nil {
		return false
	}
	released := e.scratch.Release(result.Scratch.Path)
	result.Scratch = nil
	return released
}

func (e *Expander) extract(ctx context.Context, r *zip.ReadCloser, dir string, pending []Member, totalBytes int64, token *cancel.Token, progress func(float64), result *Result) error {
	store, err := storage.NewLocal(dir)
	if err != nil {
		return &ExtractionError{Archive: result.Plan.Archive, Err: err}
	}
	defer store.Close()

	byName := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		byName[f.Name] = f
	}

	var done int64
	for i, m := range pending {
		if token.Cancelled() {
			result.Cancelled = true
			return nil
		}

		f := byName[m.Name]
		if err := e.extractMember(ctx, store, f); err != nil {
			if errors.Is(err, context.Canceled) {
				result.Cancelled = true
				return nil
			}
			return &ExtractionError{Archive: result.Plan.Archive, Member: m.Name, Err: err}
		}

		done += m.Size
		if totalBytes > 0 {
			progress(e.share * float64(done) / float64(totalBytes))
		} else {
			progress(e.share * float64(i+1) / float64(len(pending)))
		}
	}
	return nil
}

func (e *Expander) extractMember(ctx context.Context, store *storage.Local, f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open member: %w", err)
	}
	defer rc.Close()

	reader := ratelimit.NewReader(ctx, rc, e.limiter)
	return store.Write(ctx, filepath.FromSlash(f.Name), reader, int64(f.UncompressedSize64), &storage.FileInfo{ModTime: f.Modified})
}
