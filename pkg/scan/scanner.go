// Package scan discovers candidate disk-image and archive files under a set
// of roots.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sdejongh/xtochd/internal/platform"
	"github.com/sdejongh/xtochd/pkg/logging"
	"github.com/sdejongh/xtochd/pkg/models"
)

// ScanError reports a root or subdirectory that could not be read. The
// pass continues past it.
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Path, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Options configures a Scanner
type Options struct {
	// Extensions restricts the pass to these extensions. Empty means every
	// recognized extension.
	Extensions []string
	// Exclude holds glob patterns matched against root-relative paths
	Exclude []string
	// IncludeHidden descends into directories whose name starts with a dot
	IncludeHidden bool
	Logger        logging.Logger
	// Now stamps DiscoveredAt; defaults to time.Now
	Now func() time.Time
}

// Scanner walks roots and yields candidate files. It holds no state
// between passes.
type Scanner struct {
	exts          map[string]bool
	exclude       []string
	includeHidden bool
	logger        logging.Logger
	now           func() time.Time
}

// New creates a Scanner
func New(opts Options) *Scanner {
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = models.RecognizedExts()
	}
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		set[strings.ToLower(ext)] = true
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scanner{
		exts:          set,
		exclude:       opts.Exclude,
		includeHidden: opts.IncludeHidden,
		logger:        logging.OrNull(opts.Logger),
		now:           now,
	}
}

// Scan returns a lazy pass over roots. Each file is yielded with a nil
// error; unreadable paths are yielded as a *ScanError with a zero file.
// Entries within a directory come in lexical order. The sequence ends early
// when ctx is done or the consumer stops.
func (s *Scanner) Scan(ctx context.Context, roots ...string) iter.Seq2[models.CandidateFile, error] {
	return func(yield func(models.CandidateFile, error) bool) {
		for _, root := range roots {
			if ctx.Err() != nil {
				return
			}
			if !s.walk(ctx, root, yield) {
				return
			}
		}
	}
}

// walk reports false when the consumer asked to stop
func (s *Scanner) walk(ctx context.Context, root string, yield func(models.CandidateFile, error) bool) bool {
	abs, err := platform.Absolute(root)
	if err != nil {
		return yield(models.CandidateFile{}, &ScanError{Path: root, Err: err})
	}

	stopped := false
	walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			stopped = true
			return filepath.SkipAll
		}
		if err != nil {
			s.logger.Warn(ctx, "Path not readable", logging.Fields{"path": path, "error": err.Error()})
			if !yield(models.CandidateFile{}, &ScanError{Path: path, Err: err}) {
				stopped = true
				return filepath.SkipAll
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(abs, path)
		if relErr != nil {
			rel = path
		}

		if d.IsDir() {
			if path == abs {
				return nil
			}
			if !s.includeHidden && platform.IsHidden(d.Name()) {
				return filepath.SkipDir
			}
			if excluded(rel, s.exclude) {
				s.logger.Debug(ctx, "Directory excluded", logging.Fields{"path": path})
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !s.exts[ext] || excluded(rel, s.exclude) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if !yield(models.CandidateFile{}, &ScanError{Path: path, Err: err}) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			// follow the link so symlinked images report their real size
			target, statErr := os.Stat(path)
			if statErr != nil || !target.Mode().IsRegular() {
				return nil
			}
			info = target
		}

		if !yield(models.NewCandidateFile(path, info.Size(), s.now()), nil) {
			stopped = true
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil && !stopped {
		return yield(models.CandidateFile{}, &ScanError{Path: abs, Err: walkErr})
	}
	return !stopped
}

// Collect drains a pass over roots into a slice of files and a slice of
// scan errors.
func (s *Scanner) Collect(ctx context.Context, roots ...string) ([]models.CandidateFile, []error) {
	var files []models.CandidateFile
	var errs []error
	for f, err := range s.Scan(ctx, roots...) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		files = append(files, f)
	}
	return files, errs
}
