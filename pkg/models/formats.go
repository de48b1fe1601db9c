package models

import "strings"

// OutputExt is the extension of produced artifacts
const OutputExt = ".chd"

// Disk-image extensions the converter understands (plus sidecar formats)
var diskImageExts = map[string]bool{
	".cue": true,
	".toc": true,
	".ccd": true,
	".iso": true,
	".img": true,
	".bin": true,
	".sub": true,
}

var archiveExts = map[string]bool{
	".zip": true,
}

// Sidecar-only formats are never inputs to the converter on their own
var sidecarOnlyExts = map[string]bool{
	".sub": true,
}

// multiPart maps a container format to the sidecar formats it requires
var multiPart = map[string][]string{
	".cue": {".bin"},
	".toc": {".bin"},
	".ccd": {".img", ".sub"},
}

// priorityOrder is the canonical same-title preference, highest first.
// Containers come before bare images so that a cue sheet wins over an iso
// of the same title; archives rank below every loose image because they
// need extraction first
var priorityOrder = []string{".cue", ".toc", ".ccd", ".iso", ".img", ".bin", ".zip", ".sub"}

var priorityRank = func() map[string]int {
	m := make(map[string]int, len(priorityOrder))
	for i, ext := range priorityOrder {
		m[ext] = len(priorityOrder) - i
	}
	return m
}()

// IsDiskImageExt reports whether ext is a recognized disk-image format
func IsDiskImageExt(ext string) bool {
	return diskImageExts[strings.ToLower(ext)]
}

// IsArchiveExt reports whether ext is a recognized archive format
func IsArchiveExt(ext string) bool {
	return archiveExts[strings.ToLower(ext)]
}

// IsRecognizedExt reports whether ext is picked up by scans
func IsRecognizedExt(ext string) bool {
	return IsDiskImageExt(ext) || IsArchiveExt(ext)
}

// IsSidecarOnlyExt reports whether ext can only accompany a container
func IsSidecarOnlyExt(ext string) bool {
	return sidecarOnlyExts[strings.ToLower(ext)]
}

// RequiredSidecars returns the sidecar extensions a container needs, or nil
func RequiredSidecars(ext string) []string {
	return multiPart[strings.ToLower(ext)]
}

// RequiresSidecar reports whether container ext declares sidecar as required
func RequiresSidecar(container, sidecar string) bool {
	for _, s := range RequiredSidecars(container) {
		if s == strings.ToLower(sidecar) {
			return true
		}
	}
	return false
}

// Priority returns the rank of ext in the canonical order; higher wins.
// Unknown extensions rank 0
func Priority(ext string) int {
	return priorityRank[strings.ToLower(ext)]
}

// PriorityOrder returns a copy of the canonical order, highest first
func PriorityOrder() []string {
	return append([]string(nil), priorityOrder...)
}

// RecognizedExts returns every recognized extension
func RecognizedExts() []string {
	exts := make([]string, 0, len(diskImageExts)+len(archiveExts))
	for _, ext := range priorityOrder {
		if IsRecognizedExt(ext) {
			exts = append(exts, ext)
		}
	}
	return exts
}

// DiskImageExts returns the disk-image extensions
func DiskImageExts() []string {
	exts := make([]string, 0, len(diskImageExts))
	for _, ext := range priorityOrder {
		if diskImageExts[ext] {
			exts = append(exts, ext)
		}
	}
	return exts
}
