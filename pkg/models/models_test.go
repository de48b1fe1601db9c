package models

import (
	"errors"
	"testing"
	"time"
)

// ============== CandidateFile Tests ==============

func TestCandidateFile(t *testing.T) {
	t.Run("NormalizesExtension", func(t *testing.T) {
		f := NewCandidateFile("/media/Game Disc.CUE", 120, time.Now())
		if f.Ext != ".cue" {
			t.Errorf("Ext = %s, want .cue", f.Ext)
		}
		if f.BaseName() != "Game Disc" {
			t.Errorf("BaseName() = %s, want 'Game Disc'", f.BaseName())
		}
		if f.Key() != "game disc" {
			t.Errorf("Key() = %s, want 'game disc'", f.Key())
		}
	})

	t.Run("ArchiveDetection", func(t *testing.T) {
		if !NewCandidateFile("/media/pack.ZIP", 1, time.Now()).IsArchive() {
			t.Error("pack.ZIP should be an archive")
		}
		if NewCandidateFile("/media/a.iso", 1, time.Now()).IsArchive() {
			t.Error("a.iso should not be an archive")
		}
	})
}

func TestFileGroup(t *testing.T) {
	now := time.Now()
	g := &FileGroup{
		Key:      "a",
		Primary:  NewCandidateFile("/m/a.cue", 100, now),
		Sidecars: []CandidateFile{NewCandidateFile("/m/a.bin", 900, now)},
	}

	if len(g.Files()) != 2 {
		t.Fatalf("Files() = %d entries, want 2", len(g.Files()))
	}
	if g.Files()[0].Ext != ".cue" {
		t.Error("Files() should start with the primary")
	}
	if !g.HasSidecarExt(".bin") {
		t.Error("HasSidecarExt(.bin) = false, want true")
	}
	if g.TotalSize() != 1000 {
		t.Errorf("TotalSize() = %d, want 1000", g.TotalSize())
	}
	if !g.Convertible() {
		t.Error("cue group should be convertible")
	}

	orphan := &FileGroup{Key: "b", Primary: NewCandidateFile("/m/b.sub", 10, now)}
	if orphan.Convertible() {
		t.Error("sub-only group should not be convertible")
	}
}

// ============== Formats Tests ==============

func TestPriorityIsTotalOrder(t *testing.T) {
	order := PriorityOrder()
	for i := 1; i < len(order); i++ {
		if Priority(order[i-1]) <= Priority(order[i]) {
			t.Errorf("Priority(%s) should be above Priority(%s)", order[i-1], order[i])
		}
	}
	if Priority(".txt") != 0 {
		t.Errorf("unknown extension priority = %d, want 0", Priority(".txt"))
	}
	if Priority(".CUE") != Priority(".cue") {
		t.Error("priority should be case-insensitive")
	}
}

func TestMultiPartTable(t *testing.T) {
	tests := []struct {
		container string
		sidecar   string
		want      bool
	}{
		{".cue", ".bin", true},
		{".toc", ".bin", true},
		{".ccd", ".img", true},
		{".ccd", ".sub", true},
		{".cue", ".iso", false},
		{".iso", ".bin", false},
		{".bin", ".cue", false},
	}

	for _, tt := range tests {
		t.Run(tt.container+tt.sidecar, func(t *testing.T) {
			if got := RequiresSidecar(tt.container, tt.sidecar); got != tt.want {
				t.Errorf("RequiresSidecar(%s, %s) = %v, want %v", tt.container, tt.sidecar, got, tt.want)
			}
		})
	}
}

func TestRecognizedExts(t *testing.T) {
	for _, ext := range []string{".cue", ".bin", ".iso", ".img", ".zip"} {
		if !IsRecognizedExt(ext) {
			t.Errorf("%s should be recognized", ext)
		}
	}
	if IsRecognizedExt(".chd") {
		t.Error(".chd outputs must not be picked up by scans")
	}
	if IsDiskImageExt(".zip") {
		t.Error(".zip is an archive, not a disk image")
	}
}

// ============== ConversionJob Tests ==============

func newTestJob() *ConversionJob {
	g := &FileGroup{Key: "c", Primary: NewCandidateFile("/m/c.iso", 5000, time.Now())}
	return NewConversionJob(1, g, "/out/c.chd")
}

func TestConversionJobLifecycle(t *testing.T) {
	t.Run("Succeeded", func(t *testing.T) {
		job := newTestJob()
		if job.Status != JobPending {
			t.Fatalf("Status = %s, want pending", job.Status)
		}
		if err := job.Start(); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if err := job.Succeed(2000, time.Second); err != nil {
			t.Fatalf("Succeed() error = %v", err)
		}
		if !job.IsTerminal() {
			t.Error("succeeded job should be terminal")
		}
		if job.CompressedSize != 2000 {
			t.Errorf("CompressedSize = %d, want 2000", job.CompressedSize)
		}
	})

	t.Run("CancelledIsNotTerminal", func(t *testing.T) {
		job := newTestJob()
		if err := job.Cancel(); err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		if job.IsTerminal() {
			t.Error("cancelled job should not count as terminal")
		}
	})

	t.Run("InvalidTransition", func(t *testing.T) {
		job := newTestJob()
		job.Start()
		if err := job.Cancel(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Cancel() on running job error = %v, want ErrInvalidTransition", err)
		}
		job.Skip("output already exists")
		if err := job.Start(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Start() on skipped job error = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("ArchiveKind", func(t *testing.T) {
		g := &FileGroup{Key: "pack", Primary: NewCandidateFile("/m/pack.zip", 10, time.Now())}
		job := NewConversionJob(2, g, "/out/pack.chd")
		if job.Kind != KindArchive {
			t.Errorf("Kind = %s, want archive", job.Kind)
		}
	})
}

// ============== Stats Tests ==============

func TestConversionStatsGuards(t *testing.T) {
	var empty ConversionStats
	if _, ok := empty.SuccessRate(); ok {
		t.Error("SuccessRate() should be undefined with zero processed jobs")
	}
	if _, ok := empty.CompressionRatio(); ok {
		t.Error("CompressionRatio() should be undefined with zero original bytes")
	}

	s := ConversionStats{Succeeded: 3, Failed: 1, OriginalBytes: 1000, CompressedBytes: 400}
	rate, ok := s.SuccessRate()
	if !ok || rate != 0.75 {
		t.Errorf("SuccessRate() = %v, %v; want 0.75, true", rate, ok)
	}
	ratio, ok := s.CompressionRatio()
	if !ok || ratio < 0.5999 || ratio > 0.6001 {
		t.Errorf("CompressionRatio() = %v, %v; want 0.6, true", ratio, ok)
	}
	if s.SpaceSaved() != 600 {
		t.Errorf("SpaceSaved() = %d, want 600", s.SpaceSaved())
	}
}

func TestBatchStatusExitCode(t *testing.T) {
	tests := []struct {
		status BatchStatus
		want   int
	}{
		{StatusSuccess, 0},
		{StatusPartial, 1},
		{StatusFailed, 2},
		{StatusCancelled, 3},
		{BatchStatus("bogus"), 2},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.ExitCode(); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

// ============== BatchOptions Tests ==============

func TestBatchOptionsValidate(t *testing.T) {
	valid := func() *BatchOptions {
		return &BatchOptions{
			Roots:                []string{"/in"},
			OutputDir:            "/out",
			Tool:                 "chdman",
			ValidationDepth:      DepthFast,
			ArchiveProgressShare: 0.2,
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}

	tests := []struct {
		name   string
		mutate func(*BatchOptions)
		field  string
	}{
		{"NoRoots", func(o *BatchOptions) { o.Roots = nil }, "Roots"},
		{"NoOutput", func(o *BatchOptions) { o.OutputDir = "" }, "OutputDir"},
		{"NoTool", func(o *BatchOptions) { o.Tool = "" }, "Tool"},
		{"NegativeTimeout", func(o *BatchOptions) { o.Timeout = -time.Second }, "Timeout"},
		{"ShareTooLarge", func(o *BatchOptions) { o.ArchiveProgressShare = 1 }, "ArchiveProgressShare"},
		{"BadDepth", func(o *BatchOptions) { o.ValidationDepth = "deep" }, "ValidationDepth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid()
			tt.mutate(opts)
			err := opts.Validate()
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %s, want %s", ve.Field, tt.field)
			}
		})
	}
}

func TestParseDepth(t *testing.T) {
	if d, err := ParseDepth("THOROUGH"); err != nil || d != DepthThorough {
		t.Errorf("ParseDepth(THOROUGH) = %v, %v", d, err)
	}
	if d, err := ParseDepth(""); err != nil || d != DepthFast {
		t.Errorf("ParseDepth(\"\") = %v, %v; want fast", d, err)
	}
	if _, err := ParseDepth("deep"); err == nil {
		t.Error("ParseDepth(deep) should fail")
	}
}
