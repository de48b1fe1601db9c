// Package validate runs advisory structural checks on candidate files on a
// bounded worker pool. Verdicts never gate conversion.
package validate

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sdejongh/xtochd/pkg/logging"
	"github.com/sdejongh/xtochd/pkg/models"
)

// Options configures a Validator
type Options struct {
	// Depth defaults to fast
	Depth models.ValidationDepth
	// MaxWorkers caps the pool; 0 means no cap beyond the CPU count
	MaxWorkers int
	Logger     logging.Logger
	// Now stamps CheckedAt; defaults to time.Now
	Now func() time.Time
	// Checkers replaces the built-in checker for each extension it names
	Checkers map[string]Checker
}

// Validator caches one verdict per path for the current depth. Changing the
// depth invalidates the cache and every pass still running.
type Validator struct {
	mu         sync.Mutex
	depth      models.ValidationDepth
	generation uint64
	cache      map[string]models.ValidationVerdict

	maxWorkers int
	checkers   map[string]Checker
	fallback   Checker
	logger     logging.Logger
	now        func() time.Time
}

// New creates a Validator
func New(opts Options) *Validator {
	if opts.Depth == "" {
		opts.Depth = models.DepthFast
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	checkers := defaultCheckers()
	for ext, c := range opts.Checkers {
		checkers[ext] = c
	}
	return &Validator{
		depth:      opts.Depth,
		cache:      make(map[string]models.ValidationVerdict),
		maxWorkers: opts.MaxWorkers,
		checkers:   checkers,
		fallback:   &readableChecker{},
		logger:     logging.OrNull(opts.Logger).WithFields(logging.Fields{"component": "validate"}),
		now:        opts.Now,
	}
}

// WorkerCount sizes the pool for n files: 2 up to 10 files, 4 up to 50,
// 6 beyond, capped by the CPU count and MaxWorkers, never below 1.
func (v *Validator) WorkerCount(n int) int {
	workers := 6
	switch {
	case n <= 10:
		workers = 2
	case n <= 50:
		workers = 4
	}
	if cpus := runtime.NumCPU(); workers > cpus {
		workers = cpus
	}
	if v.maxWorkers > 0 && workers > v.maxWorkers {
		workers = v.maxWorkers
	}
	if n > 0 && workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// Depth returns the current depth
func (v *Validator) Depth() models.ValidationDepth {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.depth
}

// SetDepth switches depth. It reports whether the depth changed; when it
// did the cache is cleared and results of running passes are discarded.
func (v *Validator) SetDepth(d models.ValidationDepth) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if d == v.depth {
		return false
	}
	v.depth = d
	v.generation++
	v.cache = make(map[string]models.ValidationVerdict)
	return true
}

// Verdict returns the cached verdict for path
func (v *Validator) Verdict(path string) (models.ValidationVerdict, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	verdict, ok := v.cache[path]
	return verdict, ok
}

// Verdicts returns every cached verdict ordered by path
func (v *Validator) Verdicts() []models.ValidationVerdict {
	v.mu.Lock()
	out := make([]models.ValidationVerdict, 0, len(v.cache))
	for _, verdict := range v.cache {
		out = append(out, verdict)
	}
	v.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Check validates a single file at the current depth without touching the
// cache. An interrupted check is reported invalid with the context error.
func (v *Validator) Check(ctx context.Context, f models.CandidateFile) models.ValidationVerdict {
	verdict, ok := v.check(ctx, f, v.Depth())
	if !ok {
		verdict.Valid = false
		verdict.Reason = ctx.Err().Error()
		verdict.CheckedAt = v.now()
	}
	return verdict
}

// check runs the checker for f. It reports false when the check was
// interrupted by ctx and no verdict should be kept.
func (v *Validator) check(ctx context.Context, f models.CandidateFile, depth models.ValidationDepth) (models.ValidationVerdict, bool) {
	checker, ok := v.checkers[f.Ext]
	if !ok {
		checker = v.fallback
	}

	verdict := models.ValidationVerdict{Path: f.Path, Valid: true, Depth: depth}
	if err := checker.Check(ctx, f.Path, depth); err != nil {
		if ctx.Err() != nil {
			return verdict, false
		}
		verdict.Valid = false
		verdict.Reason = err.Error()
	}
	verdict.CheckedAt = v.now()
	return verdict, true
}

// store caches a verdict produced under generation gen. It reports false
// when the depth changed since, in which case the verdict is dropped.
func (v *Validator) store(gen uint64, verdict models.ValidationVerdict) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.generation {
		return false
	}
	v.cache[verdict.Path] = verdict
	return true
}

// Run validates every file lacking a cached verdict. It returns at once;
// verdicts arrive on the pass as workers finish.
func (v *Validator) Run(ctx context.Context, files []models.CandidateFile) *Pass {
	v.mu.Lock()
	gen, depth := v.generation, v.depth
	pending := make([]models.CandidateFile, 0, len(files))
	queued := make(map[string]bool, len(files))
	for _, f := range files {
		if _, cached := v.cache[f.Path]; cached || queued[f.Path] {
			continue
		}
		queued[f.Path] = true
		pending = append(pending, f)
	}
	v.mu.Unlock()

	pass := &Pass{
		Depth:   depth,
		Files:   len(pending),
		results: make(chan models.ValidationVerdict, len(pending)),
		done:    make(chan struct{}),
	}
	if len(pending) == 0 {
		close(pass.results)
		close(pass.done)
		return pass
	}

	workers := v.WorkerCount(len(pending))
	v.logger.Debug(ctx, "Validation pass started", logging.Fields{
		"files":   len(pending),
		"workers": workers,
		"depth":   string(depth),
	})

	tasks := make(chan models.CandidateFile)
	go func() {
		defer close(tasks)
		for _, f := range pending {
			select {
			case tasks <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range tasks {
				if ctx.Err() != nil {
					continue
				}
				verdict, ok := v.check(ctx, f, depth)
				if !ok {
					continue
				}
				if !v.store(gen, verdict) {
					pass.stale.Store(true)
					continue
				}
				if !verdict.Valid {
					v.logger.Info(ctx, "Validation failed", logging.Fields{"path": f.Path, "reason": verdict.Reason})
				}
				pass.add(verdict)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(pass.results)
		close(pass.done)
	}()
	return pass
}
