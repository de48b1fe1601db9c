package output

import (
	"fmt"
	"io"
	"time"

	"github.com/sdejongh/xtochd/pkg/models"
)

// HumanFormatter writes one line per job event
type HumanFormatter struct {
	writer     io.Writer
	totalJobs  int
	totalBytes int64
	startTime  time.Time
}

// NewHumanFormatter creates a new human-readable formatter
func NewHumanFormatter() *HumanFormatter {
	return &HumanFormatter{}
}

// Start initializes the formatter
func (f *HumanFormatter) Start(writer io.Writer, totalJobs int, totalBytes int64) error {
	f.writer = writer
	f.totalJobs = totalJobs
	f.totalBytes = totalBytes
	f.startTime = time.Now()

	if writer != nil {
		fmt.Fprintf(writer, "Starting conversion: %d jobs, %s total\n",
			totalJobs, FormatBytes(totalBytes))
	}

	return nil
}

// Progress reports progress during the batch
func (f *HumanFormatter) Progress(update ProgressUpdate) error {
	if f.writer == nil {
		return nil
	}

	total := update.Total
	if total == 0 {
		total = f.totalJobs
	}

	switch update.Type {
	case EventJobStart:
		fmt.Fprintf(f.writer, "[%d/%d] Converting %s (%s)...\n",
			update.Current+1, total, update.Name, FormatBytes(update.Bytes))

	case EventJobComplete:
		fmt.Fprintf(f.writer, "[%d/%d] ✓ %s → %s\n",
			update.Current, total, update.Name, FormatBytes(update.Bytes))

	case EventJobSkipped:
		fmt.Fprintf(f.writer, "[%d/%d] - %s: %s\n",
			update.Current, total, update.Name, update.Reason)

	case EventJobError:
		fmt.Fprintf(f.writer, "[%d/%d] ✗ %s: %s\n",
			update.Current, total, update.Name, errorText(update))

	case EventVerdict:
		if update.Verdict != nil && !update.Verdict.Valid {
			fmt.Fprintf(f.writer, "  ! %s failed validation: %s\n",
				update.Name, update.Verdict.Reason)
		}
	}

	return nil
}

// Complete finalizes output and displays summary
func (f *HumanFormatter) Complete(report *models.BatchReport) error {
	if f.writer == nil {
		f.writer = io.Discard
	}
	fmt.Fprintf(f.writer, "\n")
	writeHumanSummary(f.writer, report)
	return nil
}

// Error reports an error
func (f *HumanFormatter) Error(err error) error {
	if f.writer != nil {
		fmt.Fprintf(f.writer, "Error: %v\n", err)
	}
	return nil
}

// Name returns the formatter name
func (f *HumanFormatter) Name() string {
	return "human"
}

func errorText(update ProgressUpdate) string {
	if update.Reason != "" {
		return update.Reason
	}
	if update.Error != nil {
		return update.Error.Error()
	}
	return "unknown error"
}

// writeHumanSummary prints the final statistics and every outcome that did
// not produce an artifact.
func writeHumanSummary(w io.Writer, report *models.BatchReport) {
	s := report.Stats
	rate, rateOK := s.SuccessRate()

	fmt.Fprintf(w, "Conversion completed in %s\n", formatDuration(report.Duration))
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Summary:\n")
	fmt.Fprintf(w, "  Jobs:\n")
	fmt.Fprintf(w, "    Total:          %d\n", s.Total)
	fmt.Fprintf(w, "    Processed:      %d\n", s.Processed())
	fmt.Fprintf(w, "    Succeeded:      %d\n", s.Succeeded)
	fmt.Fprintf(w, "    Skipped:        %d\n", s.Skipped)
	fmt.Fprintf(w, "    Failed:         %d\n", s.Failed)
	if s.Cancelled > 0 {
		fmt.Fprintf(w, "    Not started:    %d\n", s.Cancelled)
	}
	fmt.Fprintf(w, "    Success rate:   %s\n", formatRatio(rate, rateOK))
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Space:\n")
	fmt.Fprintf(w, "    Original:       %s\n", FormatBytes(s.OriginalBytes))
	fmt.Fprintf(w, "    Compressed:     %s\n", FormatBytes(s.CompressedBytes))
	ratio, ratioOK := s.CompressionRatio()
	fmt.Fprintf(w, "    Saved:          %s (%s)\n", FormatBytes(s.SpaceSaved()), formatRatio(ratio, ratioOK))
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Status: %s\n", report.Status)

	if len(s.FailedOutcomes) > 0 {
		fmt.Fprintf(w, "\nFailed:\n")
		for _, o := range s.FailedOutcomes {
			fmt.Fprintf(w, "  %s: %s\n", o.Name, o.Reason)
		}
	}
	if len(s.SkippedOutcomes) > 0 {
		fmt.Fprintf(w, "\nSkipped:\n")
		for _, o := range s.SkippedOutcomes {
			fmt.Fprintf(w, "  %s: %s\n", o.Name, o.Reason)
		}
	}

	invalid := 0
	for _, v := range report.Verdicts {
		if !v.Valid {
			if invalid == 0 {
				fmt.Fprintf(w, "\nValidation warnings:\n")
			}
			invalid++
			fmt.Fprintf(w, "  %s: %s\n", v.Path, v.Reason)
		}
	}

	if len(report.Errors) > 0 {
		fmt.Fprintf(w, "\nErrors:\n")
		for _, e := range report.Errors {
			fmt.Fprintf(w, "  [%s] %s: %s\n", e.Kind, e.Path, e.Message)
		}
	}
}
