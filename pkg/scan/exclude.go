package scan

import (
	"path/filepath"
	"strings"
)

// excluded reports whether a root-relative path matches any of the patterns.
// Patterns support:
//   - Simple glob patterns: *.tmp, *.part
//   - Directory patterns: backup/, @eaDir/
//   - Path patterns: psx/*, **/unused
func excluded(relativePath string, patterns []string) bool {
	if len(patterns) == 0 || relativePath == "." {
		return false
	}

	path := filepath.ToSlash(relativePath)
	base := filepath.Base(relativePath)

	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		pattern = filepath.ToSlash(pattern)

		switch {
		case strings.HasSuffix(pattern, "/"):
			dir := strings.TrimSuffix(pattern, "/")
			if path == dir || strings.HasPrefix(path, dir+"/") || strings.Contains("/"+path+"/", "/"+dir+"/") {
				return true
			}

		case strings.HasPrefix(pattern, "**/"):
			suffix := strings.TrimPrefix(pattern, "**/")
			if matchGlob(base, suffix) || path == suffix || strings.HasSuffix(path, "/"+suffix) {
				return true
			}
			if anyComponentMatches(path, suffix) {
				return true
			}

		case strings.Contains(pattern, "/"):
			if matchGlob(path, pattern) || strings.HasSuffix(path, "/"+pattern) {
				return true
			}

		default:
			if matchGlob(base, pattern) {
				return true
			}
		}
	}

	return false
}

func matchGlob(name, pattern string) bool {
	matched, _ := filepath.Match(pattern, name)
	return matched
}

func anyComponentMatches(path, pattern string) bool {
	for _, part := range strings.Split(path, "/") {
		if matchGlob(part, pattern) {
			return true
		}
	}
	return false
}
