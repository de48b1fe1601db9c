package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sdejongh/xtochd/pkg/models"
)

// WriteSummaryReport writes the final batch summary to a file, or to stdout
// when path is empty. format is "human" or "json".
func WriteSummaryReport(report *models.BatchReport, path, format string) error {
	var w io.Writer = os.Stdout
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create report directory: %w", err)
			}
		}
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer file.Close()
		w = file
	}

	switch format {
	case "json":
		return writeJSONSummary(w, report)
	case "human", "":
		return writeHumanSummaryReport(w, report)
	default:
		return fmt.Errorf("unsupported summary format: %s (valid: human, json)", format)
	}
}

func writeHumanSummaryReport(w io.Writer, report *models.BatchReport) error {
	fmt.Fprintf(w, "xtochd conversion report\n")
	fmt.Fprintf(w, "========================\n\n")
	if report.BatchID != "" {
		fmt.Fprintf(w, "Batch:   %s\n", report.BatchID)
	}
	for _, root := range report.Roots {
		fmt.Fprintf(w, "Input:   %s\n", root)
	}
	fmt.Fprintf(w, "Output:  %s\n", report.OutputDir)
	if !report.StartTime.IsZero() {
		fmt.Fprintf(w, "Started: %s\n", report.StartTime.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "\n")
	writeHumanSummary(w, report)
	return nil
}

func writeJSONSummary(w io.Writer, report *models.BatchReport) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(newJSONReport(report)); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
