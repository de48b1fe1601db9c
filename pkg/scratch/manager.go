// Package scratch manages temporary extraction directories and reclaims
// the ones left behind by interrupted runs.
package scratch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sdejongh/xtochd/internal/platform"
	"github.com/sdejongh/xtochd/pkg/logging"
	"github.com/sdejongh/xtochd/pkg/models"
	"github.com/sdejongh/xtochd/pkg/storage"
)

// DefaultRetention is how old an untracked scratch directory must be before
// a sweep removes it.
const DefaultRetention = time.Hour

// DirName is the scratch base created beside the executable
const DirName = "xtochd_temp"

const markerName = ".owner"

// ResourceError reports a scratch operation that failed
type ResourceError struct {
	Op   string
	Path string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("scratch %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// Options configures a Manager
type Options struct {
	// Retention defaults to DefaultRetention
	Retention time.Duration
	Logger    logging.Logger
	// Now defaults to time.Now
	Now func() time.Time
}

// Manager owns the scratch base directory. All methods are safe for
// concurrent use.
type Manager struct {
	mu        sync.Mutex
	store     *storage.Local
	retention time.Duration
	logger    logging.Logger
	now       func() time.Time
	tracked   map[string]models.ScratchDirectory
}

// DefaultBase returns <directory of the running executable>/xtochd_temp
func DefaultBase() (string, error) {
	dir, err := platform.ExecutableDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	return filepath.Join(dir, DirName), nil
}

// NewManager creates the base directory if needed and sweeps directories
// older than the retention period. A failed sweep is logged, not returned.
func NewManager(base string, opts Options) (*Manager, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, &ResourceError{Op: "init", Path: base, Err: err}
	}
	store, err := storage.NewLocal(base)
	if err != nil {
		return nil, &ResourceError{Op: "init", Path: base, Err: err}
	}

	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Manager{
		store:     store,
		retention: opts.Retention,
		logger:    logging.OrNull(opts.Logger).WithFields(logging.Fields{"component": "scratch"}),
		now:       opts.Now,
		tracked:   make(map[string]models.ScratchDirectory),
	}

	removed, err := m.Sweep()
	if err != nil {
		m.logger.Warn(context.Background(), "Orphan sweep incomplete", logging.Fields{"error": err.Error()})
	}
	if len(removed) > 0 {
		m.logger.Info(context.Background(), "Removed orphaned scratch directories", logging.Fields{"count": len(removed)})
	}
	return m, nil
}

// Base returns the absolute scratch base directory
func (m *Manager) Base() string {
	return m.store.Root()
}

// CreateScratchDir allocates <base>/<prefix>-<uuid>, records its owner in a
// marker file and tracks it until released.
func (m *Manager) CreateScratchDir(prefix, owner string) (models.ScratchDirectory, error) {
	ctx := context.Background()
	name := sanitize(prefix) + "-" + uuid.NewString()

	if err := m.store.MkdirAll(ctx, name); err != nil {
		return models.ScratchDirectory{}, &ResourceError{Op: "create", Path: name, Err: err}
	}
	path, _ := m.store.Path(name)
	dir := models.ScratchDirectory{Path: path, CreatedAt: m.now(), Owner: owner}

	marker, err := json.Marshal(dir)
	if err != nil {
		m.store.Delete(ctx, name)
		return models.ScratchDirectory{}, &ResourceError{Op: "create", Path: path, Err: err}
	}
	if err := m.store.Write(ctx, filepath.Join(name, markerName), strings.NewReader(string(marker)), int64(len(marker)), nil); err != nil {
		m.store.Delete(ctx, name)
		return models.ScratchDirectory{}, &ResourceError{Op: "create", Path: path, Err: err}
	}

	m.mu.Lock()
	m.tracked[path] = dir
	m.mu.Unlock()

	m.logger.Debug(ctx, "Scratch directory created", logging.Fields{"path": path, "owner": owner})
	return dir, nil
}

// Release removes a tracked directory. It returns false when path is not
// tracked (including paths already released) or could not be removed.
func (m *Manager) Release(path string) bool {
	m.mu.Lock()
	_, ok := m.tracked[path]
	delete(m.tracked, path)
	m.mu.Unlock()

	if !ok {
		return false
	}
	return m.remove(path)
}

// ReleaseAll removes every tracked directory and returns how many were
// removed
func (m *Manager) ReleaseAll() int {
	m.mu.Lock()
	paths := make([]string, 0, len(m.tracked))
	for p := range m.tracked {
		paths = append(paths, p)
	}
	m.tracked = make(map[string]models.ScratchDirectory)
	m.mu.Unlock()

	removed := 0
	for _, p := range paths {
		if m.remove(p) {
			removed++
		}
	}
	return removed
}

func (m *Manager) remove(path string) bool {
	rel, err := filepath.Rel(m.store.Root(), path)
	if err == nil {
		err = m.store.Delete(context.Background(), rel)
	}
	if err != nil {
		m.logger.Warn(context.Background(), "Failed to remove scratch directory", logging.Fields{"path": path, "error": err.Error()})
		return false
	}
	return true
}

// Tracked returns the live directories, oldest first
func (m *Manager) Tracked() []models.ScratchDirectory {
	m.mu.Lock()
	out := make([]models.ScratchDirectory, 0, len(m.tracked))
	for _, d := range m.tracked {
		out = append(out, d)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Path < out[j].Path
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// TotalBytesUsed sums the file sizes inside tracked directories
func (m *Manager) TotalBytesUsed() int64 {
	var total int64
	for _, d := range m.Tracked() {
		rel, err := filepath.Rel(m.store.Root(), d.Path)
		if err != nil {
			continue
		}
		files, err := m.store.List(context.Background(), rel)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !f.IsDir {
				total += f.Size
			}
		}
	}
	return total
}

// Sweep removes untracked scratch directories older than the retention
// period. Directories not named <prefix>-<uuid> were not created by a
// Manager and are never touched.
func (m *Manager) Sweep() ([]string, error) {
	return m.sweep(func(age time.Duration) bool { return age > m.retention })
}

// Purge removes every untracked scratch directory regardless of age
func (m *Manager) Purge() ([]string, error) {
	return m.sweep(func(time.Duration) bool { return true })
}

func (m *Manager) sweep(expired func(age time.Duration) bool) ([]string, error) {
	entries, err := os.ReadDir(m.store.Root())
	if err != nil {
		return nil, &ResourceError{Op: "sweep", Path: m.store.Root(), Err: err}
	}

	ctx := context.Background()
	now := m.now()
	var removed []string
	var errs []error

	for _, e := range entries {
		if !e.IsDir() || !ownedName(e.Name()) {
			continue
		}
		path := filepath.Join(m.store.Root(), e.Name())

		m.mu.Lock()
		_, live := m.tracked[path]
		m.mu.Unlock()
		if live {
			continue
		}

		created, ok := m.createdAt(e)
		if !ok || !expired(now.Sub(created)) {
			continue
		}

		if err := m.store.Delete(ctx, e.Name()); err != nil {
			errs = append(errs, &ResourceError{Op: "sweep", Path: path, Err: err})
			continue
		}
		m.logger.Debug(ctx, "Swept scratch directory", logging.Fields{"path": path, "created": created.Format(time.RFC3339)})
		removed = append(removed, path)
	}

	return removed, errors.Join(errs...)
}

// ownedName reports whether name has the <prefix>-<uuid> shape given by
// CreateScratchDir
func ownedName(name string) bool {
	const idLen = 36
	if len(name) < idLen+2 || name[len(name)-idLen-1] != '-' {
		return false
	}
	_, err := uuid.Parse(name[len(name)-idLen:])
	return err == nil
}

// createdAt reads the marker, falling back to the directory mtime for a
// directory whose marker was never written
func (m *Manager) createdAt(e os.DirEntry) (time.Time, bool) {
	rc, err := m.store.Read(context.Background(), filepath.Join(e.Name(), markerName))
	if err == nil {
		var dir models.ScratchDirectory
		decodeErr := json.NewDecoder(rc).Decode(&dir)
		rc.Close()
		if decodeErr == nil && !dir.CreatedAt.IsZero() {
			return dir.CreatedAt, true
		}
	}

	info, err := e.Info()
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// Close releases every tracked directory. It may be called repeatedly.
func (m *Manager) Close() error {
	if n := m.ReleaseAll(); n > 0 {
		m.logger.Debug(context.Background(), "Released scratch directories", logging.Fields{"count": n})
	}
	return nil
}

func sanitize(prefix string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, prefix)
	if clean == "" {
		return "scratch"
	}
	if len(clean) > 48 {
		clean = clean[:48]
	}
	return clean
}
