// Package archive expands zip containers into per-image conversion jobs.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/sdejongh/xtochd/pkg/models"
)

// ExtractionError reports an archive that could not be listed or extracted
type ExtractionError struct {
	Archive string
	// Member is empty when the archive itself failed
	Member string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("extract %s from %s: %v", e.Member, e.Archive, e.Err)
	}
	return fmt.Sprintf("extract %s: %v", e.Archive, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Member is a qualifying entry of an archive
type Member struct {
	// Name is the slash-separated path inside the archive
	Name string
	Ext  string
	Size int64
	// Target is the output artifact the member maps to
	Target string
	// Done is true when Target already exists
	Done bool
}

// BaseName is the member file name without directories or extension
func (m Member) BaseName() string {
	base := path.Base(m.Name)
	return strings.TrimSuffix(base, path.Ext(base))
}

// Plan lists the qualifying members of an archive without extracting them
type Plan struct {
	Archive string
	Members []Member
	// Unsafe holds entries whose names would escape the extraction directory
	Unsafe []string
}

// Pending returns the members whose output does not exist yet
func (p *Plan) Pending() []Member {
	var out []Member
	for _, m := range p.Members {
		if !m.Done {
			out = append(out, m)
		}
	}
	return out
}

// Done returns the members whose output already exists
func (p *Plan) Done() []Member {
	var out []Member
	for _, m := range p.Members {
		if m.Done {
			out = append(out, m)
		}
	}
	return out
}

// Complete reports whether there is at least one member and all are done
func (p *Plan) Complete() bool {
	return len(p.Members) > 0 && len(p.Pending()) == 0
}

// PendingBytes is the uncompressed size of the pending members
func (p *Plan) PendingBytes() int64 {
	var total int64
	for _, m := range p.Pending() {
		total += m.Size
	}
	return total
}

// Inspect lists the qualifying members of a zip archive and classifies each
// against the output directory
func (e *Expander) Inspect(archivePath string) (*Plan, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, &ExtractionError{Archive: archivePath, Err: err}
	}
	defer r.Close()
	return e.plan(archivePath, r.File)
}

func (e *Expander) plan(archivePath string, files []*zip.File) (*Plan, error) {
	p := &Plan{Archive: archivePath}
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		ext := strings.ToLower(path.Ext(f.Name))
		if !models.IsDiskImageExt(ext) {
			continue
		}
		if !safeName(f.Name) {
			p.Unsafe = append(p.Unsafe, f.Name)
			continue
		}

		m := Member{Name: f.Name, Ext: ext, Size: int64(f.UncompressedSize64)}
		m.Target = m.BaseName() + e.outputExt
		done, err := e.out.Exists(context.Background(), m.Target)
		if err != nil {
			return nil, &ExtractionError{Archive: archivePath, Member: f.Name, Err: err}
		}
		m.Done = done
		p.Members = append(p.Members, m)
	}
	sort.SliceStable(p.Members, func(i, j int) bool {
		return p.Members[i].Name < p.Members[j].Name
	})
	return p, nil
}

// safeName rejects absolute names, drive letters and parent references
func safeName(name string) bool {
	name = strings.ReplaceAll(name, `\`, "/")
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, ":") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
