package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdejongh/xtochd/pkg/models"
)

func job(t *testing.T, id int, name string, size int64) *models.ConversionJob {
	t.Helper()
	g := &models.FileGroup{Key: name, Primary: models.NewCandidateFile("/in/"+name+".iso", size, time.Now())}
	return models.NewConversionJob(id, g, "/out/"+name+".chd")
}

func succeeded(t *testing.T, id int, name string, size, compressed int64) *models.ConversionJob {
	j := job(t, id, name, size)
	require.NoError(t, j.Start())
	require.NoError(t, j.Succeed(compressed, time.Second))
	return j
}

func failed(t *testing.T, id int, name string) *models.ConversionJob {
	j := job(t, id, name, 10)
	require.NoError(t, j.Start())
	require.NoError(t, j.Fail("exit status 1", time.Second))
	return j
}

func skipped(t *testing.T, id int, name string) *models.ConversionJob {
	j := job(t, id, name, 10)
	require.NoError(t, j.Skip("output already exists"))
	return j
}

func TestRecordUpdatesCountersAndOutcomes(t *testing.T) {
	a := New()
	a.Add(4)

	require.NoError(t, a.Record(succeeded(t, 1, "a", 1000, 400)))
	require.NoError(t, a.Record(failed(t, 2, "b")))
	require.NoError(t, a.Record(skipped(t, 3, "c")))
	pending := job(t, 4, "d", 10)
	require.NoError(t, pending.Cancel())
	a.Cancel(pending)

	s := a.Snapshot()
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.Cancelled)
	assert.Equal(t, int64(1000), s.OriginalBytes)
	assert.Equal(t, int64(400), s.CompressedBytes)
	assert.Equal(t, 3, s.Processed())
	assert.Less(t, s.Processed(), s.Total)

	require.Len(t, s.FailedOutcomes, 1)
	assert.Equal(t, "b.iso", s.FailedOutcomes[0].Name)
	assert.Equal(t, "exit status 1", s.FailedOutcomes[0].Reason)
	require.Len(t, s.SkippedOutcomes, 1)
	assert.Equal(t, "output already exists", s.SkippedOutcomes[0].Reason)
}

func TestRecordRejectsNonTerminal(t *testing.T) {
	a := New()
	assert.Error(t, a.Record(job(t, 1, "a", 10)))

	c := job(t, 2, "b", 10)
	require.NoError(t, c.Cancel())
	assert.Error(t, a.Record(c), "cancelled jobs are counted through Cancel")
	assert.Equal(t, 0, a.Snapshot().Processed())
}

func TestSnapshotIsACopy(t *testing.T) {
	a := New()
	a.Record(failed(t, 1, "a"))
	s := a.Snapshot()
	s.FailedOutcomes[0].Name = "changed"
	assert.Equal(t, "a.iso", a.Snapshot().FailedOutcomes[0].Name)
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name      string
		stats     models.ConversionStats
		cancelled bool
		want      models.BatchStatus
	}{
		{"Empty", models.ConversionStats{}, false, models.StatusSuccess},
		{"AllSucceeded", models.ConversionStats{Succeeded: 3}, false, models.StatusSuccess},
		{"OnlySkipped", models.ConversionStats{Skipped: 2}, false, models.StatusSuccess},
		{"SomeFailed", models.ConversionStats{Succeeded: 2, Failed: 1}, false, models.StatusPartial},
		{"FailedAndSkipped", models.ConversionStats{Skipped: 1, Failed: 1}, false, models.StatusPartial},
		{"AllFailed", models.ConversionStats{Failed: 2}, false, models.StatusFailed},
		{"Cancelled", models.ConversionStats{Failed: 2, Cancelled: 1}, true, models.StatusCancelled},
		{"CancelledAfterLastJob", models.ConversionStats{Succeeded: 3}, true, models.StatusSuccess},
		{"CancelledAfterLastJobFailed", models.ConversionStats{Succeeded: 1, Failed: 1}, true, models.StatusPartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Status(tt.stats, tt.cancelled))
		})
	}
}

func TestReport(t *testing.T) {
	a := New()
	a.Add(2)
	a.Record(succeeded(t, 1, "a", 100, 50))
	a.Record(succeeded(t, 2, "b", 100, 50))

	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	report := a.Report(ReportMeta{
		BatchID:   "batch-1",
		Roots:     []string{"/in"},
		OutputDir: "/out",
		StartTime: start,
		EndTime:   start.Add(90 * time.Second),
		Errors:    []models.BatchError{{Path: "/in/x", Kind: models.ErrorScan, Message: "permission denied"}},
	})

	assert.Equal(t, models.StatusSuccess, report.Status)
	assert.Equal(t, 0, report.Status.ExitCode())
	assert.Equal(t, 90*time.Second, report.Duration)
	assert.Equal(t, report.Stats.Total, report.Stats.Processed())
	ratio, ok := report.Stats.CompressionRatio()
	require.True(t, ok)
	assert.InDelta(t, 0.5, ratio, 1e-9)
	assert.Len(t, report.Errors, 1)
}

func TestConcurrentRecord(t *testing.T) {
	a := New()
	jobs := make([]*models.ConversionJob, 50)
	for i := range jobs {
		jobs[i] = skipped(t, i, "x")
	}

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j *models.ConversionJob) {
			defer wg.Done()
			a.Add(1)
			a.Record(j)
		}(j)
	}
	wg.Wait()
	s := a.Snapshot()
	assert.Equal(t, 50, s.Total)
	assert.Equal(t, 50, s.Skipped)
}

func TestReplaceAndSkipArchiveMembers(t *testing.T) {
	a := New()
	a.Add(2)

	// the archive expands to one skipped member and two member jobs
	a.Replace(3)
	a.Skip(models.Outcome{Name: "disc1.cue", Path: "/in/pack.zip", Reason: "already converted"})
	require.NoError(t, a.Record(succeeded(t, 2, "disc2", 100, 40)))

	s := a.Snapshot()
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, "disc1.cue", s.SkippedOutcomes[0].Name)
	assert.LessOrEqual(t, s.Processed(), s.Total)

	a.Replace(0)
	a.Replace(-10)
	assert.GreaterOrEqual(t, a.Snapshot().Total, 0)
}
