package validate

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdejongh/xtochd/pkg/models"
)

func candidate(t *testing.T, path string) models.CandidateFile {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return models.NewCandidateFile(path, info.Size(), time.Now())
}

func writeFile(t *testing.T, path string, data []byte) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

// isoImage builds an image of size bytes with "CD001" at offset, or none when offset < 0
func isoImage(size, offset int) []byte {
	data := make([]byte, size)
	if offset >= 0 {
		copy(data[offset:], "CD001")
	}
	return data
}

func zipArchive(t *testing.T, members map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range members {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func checkOne(t *testing.T, path string, depth models.ValidationDepth) models.ValidationVerdict {
	t.Helper()
	v := New(Options{Depth: depth})
	return v.Check(context.Background(), candidate(t, path))
}

func TestOpticalChecks(t *testing.T) {
	dir := t.TempDir()
	tiny := writeFile(t, filepath.Join(dir, "tiny.iso"), make([]byte, 100))
	cooked := writeFile(t, filepath.Join(dir, "cooked.iso"), isoImage(64*1024, 32769))
	mode1 := writeFile(t, filepath.Join(dir, "mode1.bin"), isoImage(64*1024, 37649))
	mode2 := writeFile(t, filepath.Join(dir, "mode2.img"), isoImage(64*1024, 37657))
	blank := writeFile(t, filepath.Join(dir, "blank.iso"), isoImage(64*1024, -1))

	tests := []struct {
		name  string
		path  string
		depth models.ValidationDepth
		valid bool
	}{
		{"TinyFast", tiny, models.DepthFast, false},
		{"BlankFast", blank, models.DepthFast, true},
		{"BlankThorough", blank, models.DepthThorough, false},
		{"CookedThorough", cooked, models.DepthThorough, true},
		{"Mode1Thorough", mode1, models.DepthThorough, true},
		{"Mode2Thorough", mode2, models.DepthThorough, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := checkOne(t, tt.path, tt.depth)
			assert.Equal(t, tt.valid, verdict.Valid, verdict.Reason)
			assert.Equal(t, tt.depth, verdict.Depth)
			if !tt.valid {
				assert.NotEmpty(t, verdict.Reason)
			}
		})
	}
}

func TestCueChecks(t *testing.T) {
	dir := t.TempDir()
	sheet := []byte("FILE \"Game (Track 1).bin\" BINARY\n  TRACK 01 MODE1/2352\n    INDEX 01 00:00:00\n")
	cue := writeFile(t, filepath.Join(dir, "game.cue"), sheet)
	bad := writeFile(t, filepath.Join(dir, "bad.cue"), []byte("REM nothing here\n"))

	assert.True(t, checkOne(t, cue, models.DepthFast).Valid)
	assert.False(t, checkOne(t, bad, models.DepthFast).Valid)

	verdict := checkOne(t, cue, models.DepthThorough)
	assert.False(t, verdict.Valid)
	assert.Contains(t, verdict.Reason, "Game (Track 1).bin")

	writeFile(t, filepath.Join(dir, "Game (Track 1).bin"), []byte("x"))
	assert.True(t, checkOne(t, cue, models.DepthThorough).Valid)
}

func TestDescriptorChecks(t *testing.T) {
	dir := t.TempDir()
	toc := writeFile(t, filepath.Join(dir, "a.toc"), []byte("CD_ROM\nTRACK MODE1_RAW\nDATAFILE \"a.bin\"\n"))
	tocBad := writeFile(t, filepath.Join(dir, "b.toc"), []byte("TRACK AUDIO\n"))
	ccd := writeFile(t, filepath.Join(dir, "a.ccd"), []byte("[CloneCD]\nVersion=3\n[Disc]\nTocEntries=4\n"))
	ccdBad := writeFile(t, filepath.Join(dir, "b.ccd"), []byte("[CloneCD]\nVersion=3\n"))

	assert.True(t, checkOne(t, toc, models.DepthFast).Valid)
	assert.False(t, checkOne(t, tocBad, models.DepthFast).Valid)
	assert.True(t, checkOne(t, ccd, models.DepthFast).Valid)
	assert.False(t, checkOne(t, ccdBad, models.DepthFast).Valid)
}

func TestZipChecks(t *testing.T) {
	dir := t.TempDir()
	payload := bytes.Repeat([]byte("sector"), 100)
	good := writeFile(t, filepath.Join(dir, "good.zip"), zipArchive(t, map[string][]byte{"a.iso": payload}))

	corruptData := zipArchive(t, map[string][]byte{"a.iso": payload})
	i := bytes.Index(corruptData, payload)
	require.GreaterOrEqual(t, i, 0)
	corruptData[i+10] ^= 0xFF
	corrupt := writeFile(t, filepath.Join(dir, "corrupt.zip"), corruptData)
	notZip := writeFile(t, filepath.Join(dir, "fake.zip"), []byte("not an archive"))

	assert.True(t, checkOne(t, good, models.DepthFast).Valid)
	assert.True(t, checkOne(t, good, models.DepthThorough).Valid)
	assert.False(t, checkOne(t, notZip, models.DepthFast).Valid)

	// the header is intact, only the CRC reveals the damage
	assert.True(t, checkOne(t, corrupt, models.DepthFast).Valid)
	verdict := checkOne(t, corrupt, models.DepthThorough)
	assert.False(t, verdict.Valid)
	assert.Contains(t, verdict.Reason, "a.iso")
}

func TestUnreadableFileIsInvalid(t *testing.T) {
	v := New(Options{})
	verdict := v.Check(context.Background(), models.NewCandidateFile(filepath.Join(t.TempDir(), "gone.sub"), 0, time.Now()))
	assert.False(t, verdict.Valid)
}

func TestWorkerCount(t *testing.T) {
	capped := func(n int) int {
		if c := runtime.NumCPU(); n > c {
			return c
		}
		return n
	}

	v := New(Options{})
	assert.Equal(t, 1, v.WorkerCount(1))
	assert.Equal(t, capped(2), v.WorkerCount(10))
	assert.Equal(t, capped(4), v.WorkerCount(11))
	assert.Equal(t, capped(4), v.WorkerCount(50))
	assert.Equal(t, capped(6), v.WorkerCount(51))
	assert.Equal(t, capped(2), v.WorkerCount(0))

	limited := New(Options{MaxWorkers: 1})
	assert.Equal(t, 1, limited.WorkerCount(500))
}

func TestRunCachesVerdicts(t *testing.T) {
	dir := t.TempDir()
	var files []models.CandidateFile
	for _, name := range []string{"a.iso", "b.iso", "c.iso"} {
		files = append(files, candidate(t, writeFile(t, filepath.Join(dir, name), isoImage(40*1024, -1))))
	}
	files = append(files, files[0])

	v := New(Options{})
	pass := v.Run(context.Background(), files)
	assert.Equal(t, 3, pass.Files)

	var streamed int
	for range pass.Results() {
		streamed++
	}
	assert.Equal(t, 3, streamed)
	assert.Len(t, pass.Wait(), 3)
	assert.Len(t, v.Verdicts(), 3)

	again := v.Run(context.Background(), files)
	assert.Equal(t, 0, again.Files)
	assert.Empty(t, again.Wait())

	verdict, ok := v.Verdict(files[1].Path)
	require.True(t, ok)
	assert.True(t, verdict.Valid)
}

type blockingChecker struct {
	release chan struct{}
}

func (c *blockingChecker) Name() string { return "blocking" }

func (c *blockingChecker) Check(ctx context.Context, path string, depth models.ValidationDepth) error {
	<-c.release
	return nil
}

func TestSetDepthDiscardsRunningPass(t *testing.T) {
	dir := t.TempDir()
	f := candidate(t, writeFile(t, filepath.Join(dir, "a.iso"), isoImage(40*1024, -1)))

	v := New(Options{})
	block := &blockingChecker{release: make(chan struct{})}
	v.checkers[".iso"] = block

	pass := v.Run(context.Background(), []models.CandidateFile{f})
	assert.True(t, v.SetDepth(models.DepthThorough))
	assert.False(t, v.SetDepth(models.DepthThorough))
	close(block.release)

	assert.Empty(t, pass.Wait())
	assert.True(t, pass.Stale())
	_, ok := v.Verdict(f.Path)
	assert.False(t, ok, "a verdict from the old depth must not be cached")

	fresh := v.Run(context.Background(), []models.CandidateFile{f})
	verdicts := fresh.Wait()
	require.Len(t, verdicts, 1)
	assert.Equal(t, models.DepthThorough, verdicts[0].Depth)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	dir := t.TempDir()
	f := candidate(t, writeFile(t, filepath.Join(dir, "a.iso"), isoImage(40*1024, -1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pass := New(Options{}).Run(ctx, []models.CandidateFile{f})

	select {
	case <-pass.Done():
	case <-time.After(time.Second):
		t.Fatal("pass should end when the context is cancelled")
	}
	assert.Empty(t, pass.Wait())
}

// waitChecker holds every check until its context ends
type waitChecker struct {
	started chan struct{}
}

func (c *waitChecker) Name() string { return "wait" }

func (c *waitChecker) Check(ctx context.Context, path string, depth models.ValidationDepth) error {
	c.started <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func TestInterruptedCheckIsNotCached(t *testing.T) {
	dir := t.TempDir()
	f := candidate(t, writeFile(t, filepath.Join(dir, "a.iso"), isoImage(40*1024, -1)))

	wait := &waitChecker{started: make(chan struct{}, 1)}
	v := New(Options{Checkers: map[string]Checker{".iso": wait}})

	ctx, cancel := context.WithCancel(context.Background())
	pass := v.Run(ctx, []models.CandidateFile{f})
	<-wait.started
	cancel()

	assert.Empty(t, pass.Wait())
	_, ok := v.Verdict(f.Path)
	assert.False(t, ok, "a cancelled check must not leave a verdict behind")
	assert.Empty(t, v.Verdicts())
}

func TestErrInvalidWrapped(t *testing.T) {
	dir := t.TempDir()
	err := (&opticalChecker{}).Check(context.Background(), writeFile(t, filepath.Join(dir, "x.iso"), []byte("x")), models.DepthFast)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestCueReferences(t *testing.T) {
	refs := cueReferences([]byte("FILE \"disc 1.bin\" BINARY\r\nfile track2.bin BINARY\nREM FILE x\nFILE \"unterminated\n"))
	assert.Equal(t, []string{"disc 1.bin", "track2.bin"}, refs)
}
