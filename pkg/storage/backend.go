// Package storage provides rooted filesystem access for the output
// directory and scratch workspaces.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrOutsideRoot is returned for names that resolve outside the backend root
var ErrOutsideRoot = errors.New("path escapes storage root")

// FileInfo represents metadata about a file
type FileInfo struct {
	Path         string
	Size         int64
	ModTime      time.Time
	IsDir        bool
	Permissions  uint32
	RelativePath string
}

// Backend defines the storage operations used by the pipeline. Every name
// is relative to the backend root.
type Backend interface {
	// Root returns the absolute root directory
	Root() string

	// List returns all entries below name recursively
	List(ctx context.Context, name string) ([]FileInfo, error)

	// Read opens a file for reading
	Read(ctx context.Context, name string) (io.ReadCloser, error)

	// Write creates or overwrites a file with the given content
	// If metadata is provided, attempts to preserve timestamps and permissions
	Write(ctx context.Context, name string, reader io.Reader, size int64, metadata *FileInfo) error

	// Delete removes a file or directory
	Delete(ctx context.Context, name string) error

	// Rename moves a file within the root, replacing the destination
	Rename(ctx context.Context, from, to string) error

	// Exists checks if a file or directory exists
	Exists(ctx context.Context, name string) (bool, error)

	// Stat returns file metadata
	Stat(ctx context.Context, name string) (*FileInfo, error)

	// MkdirAll creates a directory and all necessary parents
	MkdirAll(ctx context.Context, name string) error

	// Close releases any resources held by the backend
	Close() error
}
