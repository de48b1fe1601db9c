package output

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/term"

	"github.com/sdejongh/xtochd/pkg/models"
)

// barScale is the resolution of the overall bar (0.1% steps)
const barScale = 1000

const barTemplate = `{{string . "counter"}} {{bar . "[" "=" ">" " " "]"}} {{percent . "%.1f%%"}} {{etime .}} {{string . "job"}}`

// getUpdateInterval returns the progress refresh interval based on OS
// Windows terminals have higher latency with ANSI sequences
func getUpdateInterval() time.Duration {
	if runtime.GOOS == "windows" {
		return 300 * time.Millisecond
	}
	return 100 * time.Millisecond
}

// ProgressFormatter draws a single overall progress bar and prints failures
// once the bar is finished
type ProgressFormatter struct {
	mu        sync.Mutex
	writer    io.Writer
	bar       *pb.ProgressBar
	termWidth int
	totalJobs int
	failures  []string
}

// NewProgressFormatter creates a new progress bar formatter
func NewProgressFormatter() *ProgressFormatter {
	return &ProgressFormatter{}
}

// Start initializes the formatter
func (f *ProgressFormatter) Start(writer io.Writer, totalJobs int, totalBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if writer == nil {
		writer = os.Stdout
	}
	f.writer = writer
	f.totalJobs = totalJobs
	f.failures = nil

	// Detect terminal width to prevent line wrapping
	if file, ok := writer.(*os.File); ok {
		if width, _, err := term.GetSize(int(file.Fd())); err == nil && width > 0 {
			f.termWidth = width
		}
	}
	// Default to 120 if we couldn't detect (pipe, redirect, etc.)
	if f.termWidth == 0 {
		f.termWidth = 120
	}

	fmt.Fprintf(writer, "Converting %d jobs (%s)\n", totalJobs, FormatBytes(totalBytes))

	f.bar = pb.New64(barScale)
	f.bar.SetTemplateString(barTemplate)
	f.bar.SetWriter(writer)
	f.bar.SetWidth(f.termWidth)
	f.bar.SetRefreshRate(getUpdateInterval())
	f.bar.Set("counter", fmt.Sprintf("[0/%d]", totalJobs))
	f.bar.Start()
	return nil
}

// Progress reports progress during the batch
func (f *ProgressFormatter) Progress(update ProgressUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.bar == nil {
		return nil
	}

	total := update.Total
	if total == 0 {
		total = f.totalJobs
	}

	switch update.Type {
	case EventJobStart:
		f.bar.Set("job", f.truncate(update.Name))
	case EventJobError:
		f.failures = append(f.failures, fmt.Sprintf("✗ %s: %s", update.Name, errorText(update)))
	case EventVerdict:
		if update.Verdict != nil && !update.Verdict.Valid {
			f.failures = append(f.failures, fmt.Sprintf("! %s failed validation: %s", update.Name, update.Verdict.Reason))
		}
		return nil
	}

	f.bar.Set("counter", fmt.Sprintf("[%d/%d]", update.Current, total))
	f.bar.SetCurrent(int64(update.Percent / 100 * barScale))
	return nil
}

// Complete finishes the bar and displays the summary
func (f *ProgressFormatter) Complete(report *models.BatchReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writer == nil {
		f.writer = os.Stdout
	}
	if f.bar != nil {
		if report.Status != models.StatusCancelled {
			f.bar.SetCurrent(barScale)
		}
		f.bar.Set("job", "")
		f.bar.Finish()
		f.bar = nil
	}

	for _, line := range f.failures {
		fmt.Fprintln(f.writer, line)
	}
	fmt.Fprintf(f.writer, "\n")
	writeHumanSummary(f.writer, report)
	return nil
}

// Error reports an error
func (f *ProgressFormatter) Error(err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, "Error: "+err.Error())
	return nil
}

// Name returns the formatter name
func (f *ProgressFormatter) Name() string {
	return "progress"
}

// truncate keeps a job name inside the space left next to the bar
func (f *ProgressFormatter) truncate(name string) string {
	max := f.termWidth / 3
	if max < 10 {
		max = 10
	}
	runes := []rune(name)
	if len(runes) > max {
		return "..." + string(runes[len(runes)-max+3:])
	}
	return name
}
