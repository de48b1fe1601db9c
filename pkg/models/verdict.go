package models

import (
	"fmt"
	"strings"
	"time"
)

// ValidationDepth selects how much of a file the validator reads
type ValidationDepth string

const (
	// DepthFast checks sizes, magic bytes and short text prefixes
	DepthFast ValidationDepth = "fast"
	// DepthThorough also scans headers and archive contents
	DepthThorough ValidationDepth = "thorough"
)

// ParseDepth parses a depth name
func ParseDepth(s string) (ValidationDepth, error) {
	switch ValidationDepth(strings.ToLower(strings.TrimSpace(s))) {
	case DepthFast, "":
		return DepthFast, nil
	case DepthThorough:
		return DepthThorough, nil
	}
	return "", fmt.Errorf("invalid validation depth: %s (valid: fast, thorough)", s)
}

// ValidationVerdict is the validator's judgement of a single file.
// A missing verdict means "not yet validated"
type ValidationVerdict struct {
	Path      string          `json:"path"`
	Valid     bool            `json:"valid"`
	Reason    string          `json:"reason"`
	Depth     ValidationDepth `json:"depth"`
	CheckedAt time.Time       `json:"checked_at"`
}
