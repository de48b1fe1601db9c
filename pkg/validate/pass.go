package validate

import (
	"sync"
	"sync/atomic"

	"github.com/sdejongh/xtochd/pkg/models"
)

// Pass is one validation run over a set of files
type Pass struct {
	// Depth the pass validates at
	Depth models.ValidationDepth
	// Files is the number of files queued (cache misses only)
	Files int

	results chan models.ValidationVerdict
	done    chan struct{}
	stale   atomic.Bool

	mu       sync.Mutex
	verdicts []models.ValidationVerdict
}

func (p *Pass) add(verdict models.ValidationVerdict) {
	p.mu.Lock()
	p.verdicts = append(p.verdicts, verdict)
	p.mu.Unlock()
	p.results <- verdict
}

// Results delivers verdicts in completion order and is closed when the pass
// ends. Verdicts discarded by a depth change are never delivered.
func (p *Pass) Results() <-chan models.ValidationVerdict {
	return p.results
}

// Done is closed when every worker has finished
func (p *Pass) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the pass ends and returns its delivered verdicts
func (p *Pass) Wait() []models.ValidationVerdict {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ValidationVerdict(nil), p.verdicts...)
}

// Stale reports whether a depth change discarded results of this pass
func (p *Pass) Stale() bool {
	return p.stale.Load()
}
