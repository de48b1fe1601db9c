package convert

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdejongh/xtochd/pkg/archive"
	"github.com/sdejongh/xtochd/pkg/cancel"
	"github.com/sdejongh/xtochd/pkg/models"
	"github.com/sdejongh/xtochd/pkg/output"
	"github.com/sdejongh/xtochd/pkg/scratch"
	"github.com/sdejongh/xtochd/pkg/stats"
	"github.com/sdejongh/xtochd/pkg/storage"
)

// stubConverter writes a fixed artifact, or fails, without running a process
type stubConverter struct {
	mu     sync.Mutex
	calls  []string
	fail   map[string]bool
	empty  bool
	before func(input, output string)
}

func (c *stubConverter) Convert(ctx context.Context, input, out string) Result {
	c.mu.Lock()
	c.calls = append(c.calls, filepath.Base(input))
	c.mu.Unlock()

	if c.before != nil {
		c.before(input, out)
	}
	if c.fail[filepath.Base(input)] {
		os.WriteFile(out, []byte("half"), 0644)
		return Result{ExitCode: 1, Stderr: "Error: bad track", Err: assert.AnError}
	}
	if c.empty {
		return Result{}
	}
	if err := os.WriteFile(out, []byte("MComprHD-artifact"), 0644); err != nil {
		return Result{ExitCode: -1, Err: err}
	}
	return Result{}
}

func (c *stubConverter) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type recorder struct {
	output.Nop
	mu      sync.Mutex
	updates []output.ProgressUpdate
}

func (r *recorder) Progress(u output.ProgressUpdate) error {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
	return nil
}

func (r *recorder) types() []output.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []output.EventType
	for _, u := range r.updates {
		out = append(out, u.Type)
	}
	return out
}

type env struct {
	in  string
	out *storage.Local
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	in := filepath.Join(root, "in")
	require.NoError(t, os.MkdirAll(in, 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "out"), 0755))
	out, err := storage.NewLocal(filepath.Join(root, "out"))
	require.NoError(t, err)
	return &env{in: in, out: out}
}

func (e *env) jobs(names ...string) []*models.ConversionJob {
	var groups []*models.FileGroup
	for _, name := range names {
		f := models.NewCandidateFile(filepath.Join(e.in, name), 1000, time.Now())
		groups = append(groups, &models.FileGroup{Key: f.Key(), Primary: f})
	}
	return BuildJobs(groups, e.out.Root(), models.OutputExt)
}

func (e *env) exists(t *testing.T, name string) bool {
	t.Helper()
	ok, err := e.out.Exists(context.Background(), name)
	require.NoError(t, err)
	return ok
}

func TestRunConvertsAndRenamesStaging(t *testing.T) {
	e := newEnv(t)
	conv := &stubConverter{before: func(_, out string) {
		assert.Equal(t, StagingSuffix, filepath.Ext(out), "converter must write to the staging path")
	}}
	rec := &recorder{}

	agg := New(conv, e.out, Options{Formatter: rec}).Run(context.Background(), e.jobs("a.cue", "b.iso"))
	s := agg.Snapshot()

	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 2, s.Total)
	assert.EqualValues(t, 2000, s.OriginalBytes)
	assert.EqualValues(t, 2*len("MComprHD-artifact"), s.CompressedBytes)
	assert.True(t, e.exists(t, "a.chd"))
	assert.True(t, e.exists(t, "b.chd"))
	assert.False(t, e.exists(t, "a.chd"+StagingSuffix))

	assert.Equal(t, []output.EventType{
		output.EventJobStart, output.EventJobComplete,
		output.EventJobStart, output.EventJobComplete,
	}, rec.types())
	last := rec.updates[len(rec.updates)-1]
	assert.InDelta(t, 100, last.Percent, 1e-9)
	assert.Equal(t, 2, last.Current)
}

func TestRunIsIdempotent(t *testing.T) {
	e := newEnv(t)
	conv := &stubConverter{}
	New(conv, e.out, Options{}).Run(context.Background(), e.jobs("a.cue", "b.iso"))
	require.Len(t, conv.Calls(), 2)

	again := &stubConverter{}
	s := New(again, e.out, Options{}).Run(context.Background(), e.jobs("a.cue", "b.iso")).Snapshot()

	assert.Empty(t, again.Calls(), "converter must not run for existing outputs")
	assert.Equal(t, 2, s.Skipped)
	for _, o := range s.SkippedOutcomes {
		assert.Equal(t, ReasonOutputExists, o.Reason)
	}
	assert.Equal(t, models.StatusSuccess, stats.Status(s, false))
}

func TestRunFailureRemovesStaging(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(e.out.Root(), "a.chd"+StagingSuffix), []byte("stale"), 0644))

	conv := &stubConverter{
		fail: map[string]bool{"a.cue": true},
		before: func(input, out string) {
			_, err := os.Stat(out)
			assert.True(t, os.IsNotExist(err), "stale staging file must be removed before converting %s", input)
		},
	}
	jobs := e.jobs("a.cue", "b.iso")
	s := New(conv, e.out, Options{}).Run(context.Background(), jobs).Snapshot()

	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Succeeded)
	assert.False(t, e.exists(t, "a.chd"))
	assert.False(t, e.exists(t, "a.chd"+StagingSuffix))
	assert.Equal(t, models.JobFailed, jobs[0].Status)
	assert.Equal(t, "Error: bad track", jobs[0].Stderr)
	assert.Contains(t, jobs[0].Reason, "Error: bad track")
	assert.Equal(t, models.StatusPartial, stats.Status(s, false))
}

func TestRunMissingArtifactFails(t *testing.T) {
	e := newEnv(t)
	jobs := e.jobs("a.iso")
	s := New(&stubConverter{empty: true}, e.out, Options{}).Run(context.Background(), jobs).Snapshot()

	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, ReasonNoOutput, jobs[0].Reason)
	assert.Equal(t, models.StatusFailed, stats.Status(s, false))
}

func TestRunSkipsSidecarOnlyGroups(t *testing.T) {
	e := newEnv(t)
	jobs := e.jobs("orphan.sub")
	conv := &stubConverter{}
	s := New(conv, e.out, Options{}).Run(context.Background(), jobs).Snapshot()

	assert.Empty(t, conv.Calls())
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, ReasonSidecarOnly, jobs[0].Reason)
}

func TestRunCancellationStopsBetweenJobs(t *testing.T) {
	e := newEnv(t)
	tok := cancel.New()
	const k = 2
	conv := &stubConverter{}
	conv.before = func(_, _ string) {
		if len(conv.Calls()) == k {
			tok.Cancel()
		}
	}

	jobs := e.jobs("a.iso", "b.iso", "c.iso", "d.iso", "e.iso")
	agg := New(conv, e.out, Options{Token: tok}).Run(context.Background(), jobs)
	s := agg.Snapshot()

	assert.Len(t, conv.Calls(), k, "the job in flight finishes, nothing new starts")
	assert.Equal(t, k, s.Succeeded)
	assert.Equal(t, 3, s.Cancelled)
	assert.Equal(t, k, s.Processed())
	assert.Less(t, s.Processed(), s.Total)
	for _, j := range jobs[k:] {
		assert.Equal(t, models.JobCancelled, j.Status)
		assert.False(t, j.IsTerminal())
	}
	assert.Equal(t, models.StatusCancelled, stats.Status(s, tok.Cancelled()))
}

func TestRunCancelDuringLastJobIsNotCancelled(t *testing.T) {
	e := newEnv(t)
	tok := cancel.New()
	conv := &stubConverter{}
	conv.before = func(_, _ string) {
		if len(conv.Calls()) == 2 {
			tok.Cancel()
		}
	}

	jobs := e.jobs("a.iso", "b.iso")
	s := New(conv, e.out, Options{Token: tok}).Run(context.Background(), jobs).Snapshot()

	require.True(t, tok.Cancelled())
	assert.Equal(t, 2, s.Succeeded)
	assert.Zero(t, s.Cancelled)
	assert.Equal(t, s.Total, s.Processed())
	assert.Equal(t, models.StatusSuccess, stats.Status(s, tok.Cancelled()))
}

func writeZip(t *testing.T, path string, members ...string) models.CandidateFile {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for _, m := range members {
		mw, err := w.Create(m)
		require.NoError(t, err)
		_, err = mw.Write([]byte("image data for " + m))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	info, err := os.Stat(path)
	require.NoError(t, err)
	return models.NewCandidateFile(path, info.Size(), time.Now())
}

func newExpander(t *testing.T, out *storage.Local) (*archive.Expander, *scratch.Manager) {
	t.Helper()
	sm, err := scratch.NewManager(filepath.Join(t.TempDir(), "scratch"), scratch.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { sm.Close() })
	return archive.New(sm, out, archive.Options{}), sm
}

func TestRunArchiveJob(t *testing.T) {
	e := newEnv(t)
	zipFile := writeZip(t, filepath.Join(e.in, "pack.zip"), "disc1.iso", "disc2.iso")
	require.NoError(t, os.WriteFile(filepath.Join(e.out.Root(), "disc1.chd"), []byte("done"), 0644))

	expander, sm := newExpander(t, e.out)
	conv := &stubConverter{}
	rec := &recorder{}
	jobs := BuildJobs([]*models.FileGroup{{Key: zipFile.Key(), Primary: zipFile}}, e.out.Root(), models.OutputExt)

	s := New(conv, e.out, Options{Expander: expander, Formatter: rec}).Run(context.Background(), jobs).Snapshot()

	assert.Equal(t, []string{"disc2.iso"}, conv.Calls())
	assert.Equal(t, 2, s.Total, "the archive is replaced by its two members")
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, archive.ReasonAlreadyConverted, s.SkippedOutcomes[0].Reason)
	assert.True(t, e.exists(t, "disc2.chd"))
	assert.Empty(t, sm.Tracked(), "scratch must be released after the members ran")

	for _, u := range rec.updates {
		assert.GreaterOrEqual(t, u.Percent, 0.0)
		assert.LessOrEqual(t, u.Percent, 100.0+1e-9)
	}
}

func TestRunArchiveFullyConverted(t *testing.T) {
	e := newEnv(t)
	zipFile := writeZip(t, filepath.Join(e.in, "pack.zip"), "disc1.iso")
	require.NoError(t, os.WriteFile(filepath.Join(e.out.Root(), "disc1.chd"), []byte("done"), 0644))

	expander, _ := newExpander(t, e.out)
	conv := &stubConverter{}
	jobs := BuildJobs([]*models.FileGroup{{Key: zipFile.Key(), Primary: zipFile}}, e.out.Root(), models.OutputExt)
	s := New(conv, e.out, Options{Expander: expander}).Run(context.Background(), jobs).Snapshot()

	assert.Empty(t, conv.Calls())
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, 1, s.Skipped)
}

func TestRunCorruptArchiveFails(t *testing.T) {
	e := newEnv(t)
	path := filepath.Join(e.in, "broken.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0644))
	f := models.NewCandidateFile(path, 9, time.Now())

	expander, _ := newExpander(t, e.out)
	jobs := BuildJobs([]*models.FileGroup{{Key: f.Key(), Primary: f}}, e.out.Root(), models.OutputExt)
	o := New(&stubConverter{}, e.out, Options{Expander: expander})
	s := o.Run(context.Background(), jobs).Snapshot()

	assert.Equal(t, 1, s.Failed)
	require.Len(t, o.Errors(), 1)
	assert.Equal(t, models.ErrorExtraction, o.Errors()[0].Kind)
}

func TestRunArchiveWithoutImages(t *testing.T) {
	e := newEnv(t)
	zipFile := writeZip(t, filepath.Join(e.in, "docs.zip"), "manual.pdf")

	expander, _ := newExpander(t, e.out)
	jobs := BuildJobs([]*models.FileGroup{{Key: zipFile.Key(), Primary: zipFile}}, e.out.Root(), models.OutputExt)
	s := New(&stubConverter{}, e.out, Options{Expander: expander}).Run(context.Background(), jobs).Snapshot()

	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, ReasonNoImages, s.SkippedOutcomes[0].Reason)
}

func TestProgressSlice(t *testing.T) {
	s := progressSlice{start: 0.5, width: 0.25}
	assert.InDelta(t, 50, s.at(0), 1e-9)
	assert.InDelta(t, 75, s.at(1), 1e-9)
	assert.InDelta(t, 75, s.at(2), 1e-9)

	sub := s.sub(0.2, 0.4)
	assert.InDelta(t, 55, sub.at(0), 1e-9)
	assert.InDelta(t, 65, sub.at(1), 1e-9)
}
