package output

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/sdejongh/xtochd/pkg/models"
)

// JSONFormatter writes one JSON object per line for automation and scripting
type JSONFormatter struct {
	writer  io.Writer
	encoder *json.Encoder
	now     func() time.Time
}

// JSONEvent represents a single event in the JSON output stream
type JSONEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Data      any       `json:"data,omitempty"`
}

// JSONStartData represents the data for a batch_start event
type JSONStartData struct {
	TotalJobs  int   `json:"total_jobs"`
	TotalBytes int64 `json:"total_bytes"`
}

// JSONJobData represents job-related event data
type JSONJobData struct {
	Job     int                       `json:"job,omitempty"`
	Name    string                    `json:"name,omitempty"`
	Path    string                    `json:"path,omitempty"`
	Percent float64                   `json:"percent"`
	Current int                       `json:"current"`
	Total   int                       `json:"total"`
	Bytes   int64                     `json:"bytes,omitempty"`
	Reason  string                    `json:"reason,omitempty"`
	Error   string                    `json:"error,omitempty"`
	Verdict *models.ValidationVerdict `json:"verdict,omitempty"`
}

// JSONReportData represents the final report data
type JSONReportData struct {
	BatchID    string                     `json:"batch_id,omitempty"`
	Roots      []string                   `json:"roots,omitempty"`
	OutputDir  string                     `json:"output_dir,omitempty"`
	Status     models.BatchStatus         `json:"status"`
	Duration   string                     `json:"duration"`
	DurationMs int64                      `json:"duration_ms"`
	Stats      JSONStatsData              `json:"stats"`
	Succeeded  []models.Outcome           `json:"succeeded,omitempty"`
	Failed     []models.Outcome           `json:"failed,omitempty"`
	Skipped    []models.Outcome           `json:"skipped,omitempty"`
	Invalid    []models.ValidationVerdict `json:"invalid,omitempty"`
	Errors     []models.BatchError        `json:"errors,omitempty"`
}

// JSONStatsData represents statistics in JSON format
type JSONStatsData struct {
	Total           int      `json:"total"`
	Processed       int      `json:"processed"`
	Succeeded       int      `json:"succeeded"`
	Failed          int      `json:"failed"`
	Skipped         int      `json:"skipped"`
	Cancelled       int      `json:"cancelled"`
	OriginalBytes   int64    `json:"original_bytes"`
	CompressedBytes int64    `json:"compressed_bytes"`
	SpaceSaved      int64    `json:"space_saved"`
	SuccessRate     *float64 `json:"success_rate"`
	CompressionRate *float64 `json:"compression_ratio"`
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{now: time.Now}
}

// Start initializes the formatter
func (f *JSONFormatter) Start(writer io.Writer, totalJobs int, totalBytes int64) error {
	if writer == nil {
		writer = os.Stdout
	}
	f.writer = writer
	f.encoder = json.NewEncoder(writer)
	return f.emit(EventBatchStart, JSONStartData{TotalJobs: totalJobs, TotalBytes: totalBytes})
}

// Progress reports progress during the batch
func (f *JSONFormatter) Progress(update ProgressUpdate) error {
	data := JSONJobData{
		Job:     update.Job,
		Name:    update.Name,
		Path:    update.Path,
		Percent: update.Percent,
		Current: update.Current,
		Total:   update.Total,
		Bytes:   update.Bytes,
		Reason:  update.Reason,
		Verdict: update.Verdict,
	}
	if update.Error != nil {
		data.Error = update.Error.Error()
	}
	return f.emit(update.Type, data)
}

// Complete writes the batch_complete event carrying the full report
func (f *JSONFormatter) Complete(report *models.BatchReport) error {
	return f.emit(EventBatchComplete, newJSONReport(report))
}

// Error reports an error
func (f *JSONFormatter) Error(err error) error {
	return f.emit("error", map[string]string{"error": err.Error()})
}

// Name returns the formatter name
func (f *JSONFormatter) Name() string {
	return "json"
}

func (f *JSONFormatter) emit(t EventType, data any) error {
	if f.encoder == nil {
		f.writer = os.Stdout
		f.encoder = json.NewEncoder(f.writer)
	}
	return f.encoder.Encode(JSONEvent{Timestamp: f.now(), Type: t, Data: data})
}

func newJSONReport(report *models.BatchReport) JSONReportData {
	s := report.Stats
	data := JSONReportData{
		BatchID:    report.BatchID,
		Roots:      report.Roots,
		OutputDir:  report.OutputDir,
		Status:     report.Status,
		Duration:   report.Duration.String(),
		DurationMs: report.Duration.Milliseconds(),
		Stats: JSONStatsData{
			Total:           s.Total,
			Processed:       s.Processed(),
			Succeeded:       s.Succeeded,
			Failed:          s.Failed,
			Skipped:         s.Skipped,
			Cancelled:       s.Cancelled,
			OriginalBytes:   s.OriginalBytes,
			CompressedBytes: s.CompressedBytes,
			SpaceSaved:      s.SpaceSaved(),
		},
		Succeeded: s.SucceededOutcomes,
		Failed:    s.FailedOutcomes,
		Skipped:   s.SkippedOutcomes,
		Errors:    report.Errors,
	}
	if rate, ok := s.SuccessRate(); ok {
		data.Stats.SuccessRate = &rate
	}
	if ratio, ok := s.CompressionRatio(); ok {
		data.Stats.CompressionRate = &ratio
	}
	for _, v := range report.Verdicts {
		if !v.Valid {
			data.Invalid = append(data.Invalid, v)
		}
	}
	return data
}
