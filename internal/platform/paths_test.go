package platform

import (
	"path/filepath"
	"testing"
)

func TestIsHidden(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{".git", true},
		{".cache", true},
		{"games", false},
		{".", false},
		{"..", false},
		{"a.cue", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHidden(tt.name); got != tt.want {
				t.Errorf("IsHidden(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestIsWithin(t *testing.T) {
	root := filepath.Join("data", "roms")
	if !IsWithin(root, root) {
		t.Error("a path is within itself")
	}
	if !IsWithin(root, filepath.Join(root, "psx", "out")) {
		t.Error("nested path should be within root")
	}
	if IsWithin(root, filepath.Join("data", "roms2")) {
		t.Error("sibling with shared prefix is not within root")
	}
	if IsWithin(root, "data") {
		t.Error("parent is not within child")
	}
}

func TestExecutableDir(t *testing.T) {
	dir, err := ExecutableDir()
	if err != nil {
		t.Fatalf("ExecutableDir() error = %v", err)
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("ExecutableDir() = %s, want absolute path", dir)
	}
}

func TestValidatePath(t *testing.T) {
	if err := ValidatePath(""); err == nil {
		t.Error("ValidatePath(\"\") should fail")
	}
	if err := ValidatePath(filepath.Join("out", "chd")); err != nil {
		t.Errorf("ValidatePath() error = %v", err)
	}
}
