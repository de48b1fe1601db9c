package models

import (
	"path/filepath"
	"strings"
	"time"
)

// CandidateFile is a file discovered by a scan. It is a value type: when
// deduplication prefers another file the old value is replaced, never edited
type CandidateFile struct {
	// Path is the absolute path on the filesystem
	Path string
	// Ext is the lower-cased extension including the leading dot
	Ext string
	// Size in bytes
	Size int64
	// DiscoveredAt is when the scanner emitted the file
	DiscoveredAt time.Time
}

// NewCandidateFile builds a CandidateFile, normalizing the extension
func NewCandidateFile(path string, size int64, discoveredAt time.Time) CandidateFile {
	return CandidateFile{
		Path:         path,
		Ext:          strings.ToLower(filepath.Ext(path)),
		Size:         size,
		DiscoveredAt: discoveredAt,
	}
}

// Name returns the file name without directories
func (f CandidateFile) Name() string {
	return filepath.Base(f.Path)
}

// BaseName returns the file name with its extension removed
func (f CandidateFile) BaseName() string {
	name := filepath.Base(f.Path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Key returns the deduplication key: the case-insensitive base name
func (f CandidateFile) Key() string {
	return strings.ToLower(f.BaseName())
}

// IsArchive reports whether the file is an archive container
func (f CandidateFile) IsArchive() bool {
	return IsArchiveExt(f.Ext)
}

// FileGroup holds the files sharing one base name. Primary is the file that
// gets converted; Sidecars are the companions its format requires
type FileGroup struct {
	Key      string
	Primary  CandidateFile
	Sidecars []CandidateFile
}

// Files returns the primary followed by its sidecars
func (g *FileGroup) Files() []CandidateFile {
	files := make([]CandidateFile, 0, 1+len(g.Sidecars))
	files = append(files, g.Primary)
	return append(files, g.Sidecars...)
}

// HasSidecarExt reports whether a sidecar with the given extension is held
func (g *FileGroup) HasSidecarExt(ext string) bool {
	for _, s := range g.Sidecars {
		if s.Ext == ext {
			return true
		}
	}
	return false
}

// Convertible reports whether the primary can be handed to the converter
func (g *FileGroup) Convertible() bool {
	return !IsSidecarOnlyExt(g.Primary.Ext)
}

// TotalSize is the combined size of the primary and sidecars
func (g *FileGroup) TotalSize() int64 {
	total := g.Primary.Size
	for _, s := range g.Sidecars {
		total += s.Size
	}
	return total
}

// ScratchDirectory is a temporary extraction workspace
type ScratchDirectory struct {
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	Owner     string    `json:"owner"`
}
