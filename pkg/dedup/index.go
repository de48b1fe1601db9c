// Package dedup collapses scanned files that share a title into one group
// per output artifact.
package dedup

import (
	"iter"
	"sync"

	"github.com/sdejongh/xtochd/pkg/models"
)

// Decision describes what Add did with a file
type Decision int

const (
	// DecisionNewGroup started a group with the file as primary
	DecisionNewGroup Decision = iota
	// DecisionAlreadyKnown ignored a path that was added before
	DecisionAlreadyKnown
	// DecisionSidecar attached the file to the primary that requires it
	DecisionSidecar
	// DecisionPromotedContainer made the file primary over a sidecar it requires
	DecisionPromotedContainer
	// DecisionReplaced made the file primary over a lower-priority title
	DecisionReplaced
	// DecisionDuplicate moved the file to the reserve pool
	DecisionDuplicate
)

func (d Decision) String() string {
	switch d {
	case DecisionNewGroup:
		return "new-group"
	case DecisionAlreadyKnown:
		return "already-known"
	case DecisionSidecar:
		return "sidecar"
	case DecisionPromotedContainer:
		return "promoted-container"
	case DecisionReplaced:
		return "replaced"
	case DecisionDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Index holds the active groups of a session keyed by case-insensitive base
// name. Files pushed out of a group wait in a reserve pool so a container
// discovered later can still claim them. Safe for concurrent use.
type Index struct {
	mu      sync.Mutex
	groups  map[string]*models.FileGroup
	order   []string
	seen    map[string]bool
	reserve map[string][]models.CandidateFile
}

// New creates an empty Index
func New() *Index {
	return &Index{
		groups:  make(map[string]*models.FileGroup),
		seen:    make(map[string]bool),
		reserve: make(map[string][]models.CandidateFile),
	}
}

// Add merges one file into the index
func (x *Index) Add(f models.CandidateFile) Decision {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.seen[f.Path] {
		return DecisionAlreadyKnown
	}
	x.seen[f.Path] = true

	key := f.Key()
	g, ok := x.groups[key]
	if !ok {
		g = &models.FileGroup{Key: key, Primary: f}
		x.groups[key] = g
		x.order = append(x.order, key)
		x.reclaim(g)
		return DecisionNewGroup
	}

	if models.RequiresSidecar(g.Primary.Ext, f.Ext) && !g.HasSidecarExt(f.Ext) {
		g.Sidecars = append(g.Sidecars, f)
		return DecisionSidecar
	}

	if models.RequiresSidecar(f.Ext, g.Primary.Ext) {
		kept := []models.CandidateFile{g.Primary}
		for _, s := range g.Sidecars {
			if models.RequiresSidecar(f.Ext, s.Ext) && !hasExt(kept, s.Ext) {
				kept = append(kept, s)
			} else {
				x.reserve[key] = append(x.reserve[key], s)
			}
		}
		g.Primary = f
		g.Sidecars = kept
		x.reclaim(g)
		return DecisionPromotedContainer
	}

	if models.Priority(f.Ext) > models.Priority(g.Primary.Ext) {
		x.reserve[key] = append(x.reserve[key], g.Files()...)
		g.Primary = f
		g.Sidecars = nil
		x.reclaim(g)
		return DecisionReplaced
	}

	x.reserve[key] = append(x.reserve[key], f)
	return DecisionDuplicate
}

// reclaim moves reserve files the primary requires into the group, earliest
// discovered first. Caller holds mu.
func (x *Index) reclaim(g *models.FileGroup) {
	pool := x.reserve[g.Key]
	if len(pool) == 0 {
		return
	}
	for _, ext := range models.RequiredSidecars(g.Primary.Ext) {
		if g.HasSidecarExt(ext) {
			continue
		}
		for i, f := range pool {
			if f.Ext == ext {
				g.Sidecars = append(g.Sidecars, f)
				pool = append(pool[:i:i], pool[i+1:]...)
				break
			}
		}
	}
	if len(pool) == 0 {
		delete(x.reserve, g.Key)
	} else {
		x.reserve[g.Key] = pool
	}
}

func hasExt(files []models.CandidateFile, ext string) bool {
	for _, f := range files {
		if f.Ext == ext {
			return true
		}
	}
	return false
}

// AddAll merges a scan pass. It returns how many files were new to the index
// and the errors the pass yielded.
func (x *Index) AddAll(seq iter.Seq2[models.CandidateFile, error]) (added int, errs []error) {
	for f, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if x.Add(f) != DecisionAlreadyKnown {
			added++
		}
	}
	return added, errs
}

// Groups returns copies of the groups in first-discovery order of their key
func (x *Index) Groups() []*models.FileGroup {
	x.mu.Lock()
	defer x.mu.Unlock()

	out := make([]*models.FileGroup, 0, len(x.order))
	for _, key := range x.order {
		g := x.groups[key]
		out = append(out, &models.FileGroup{
			Key:      g.Key,
			Primary:  g.Primary,
			Sidecars: append([]models.CandidateFile(nil), g.Sidecars...),
		})
	}
	return out
}

// Active returns every primary and sidecar currently held
func (x *Index) Active() []models.CandidateFile {
	x.mu.Lock()
	defer x.mu.Unlock()

	var out []models.CandidateFile
	for _, key := range x.order {
		out = append(out, x.groups[key].Files()...)
	}
	return out
}

// Dropped returns the reserve pool: files superseded by a preferred format
func (x *Index) Dropped() []models.CandidateFile {
	x.mu.Lock()
	defer x.mu.Unlock()

	var out []models.CandidateFile
	for _, key := range x.order {
		out = append(out, x.reserve[key]...)
	}
	return out
}

// Len returns the number of groups
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.order)
}
