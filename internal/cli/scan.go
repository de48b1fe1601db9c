package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sdejongh/xtochd/pkg/batch"
	"github.com/sdejongh/xtochd/pkg/output"
)

// ScanFlags holds scan command flags
type ScanFlags struct {
	OutputDir     string
	Exclude       []string
	IncludeHidden bool
	Format        string
	ScratchDir    string
}

var scanFlags ScanFlags

// NewScanCommand creates the scan command
func NewScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <paths...>",
		Short: "Show what a conversion would do",
		Long: `Discover and deduplicate disc images like convert does, then print the
plan without converting or extracting anything. With --output-dir, groups
whose output already exists are marked as skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runScan,
	}

	cmd.Flags().StringVarP(&scanFlags.OutputDir, "output-dir", "o", "", "directory that would receive the .chd files")
	cmd.Flags().StringVar(&scanFlags.Format, "format", "", "output format: human, json")
	cmd.Flags().StringVar(&scanFlags.ScratchDir, "scratch-dir", "", "base directory for archive extraction")
	addInputFlags(cmd, &scanFlags.Exclude, &scanFlags.IncludeHidden)

	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := validateInputArgs(args, scanFlags.Format); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyFlagsToConfig(cmd, cfg); err != nil {
		return err
	}
	if cfg.Output.Dir == "" {
		// Nothing is converted; a missing directory only disables the
		// already-converted check
		cfg.Output.Dir = filepath.Join(os.TempDir(), "xtochd-scan-no-output")
	}

	opts, err := createBatchOptions(cfg, args)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	opts.RunValidation = false

	logger, err := createLogger(cfg.Logging, cfg.Output.Quiet)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	sm, err := createScratch(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to prepare scratch space: %w", err)
	}
	defer sm.Close()

	session, err := batch.NewSession(batch.SessionConfig{
		Options:   opts,
		Scratch:   sm,
		OutputExt: cfg.Converter.Extension,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	_, errs := session.AddRoots(ctx, args...)
	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	entries := session.Plan()
	if cfg.Output.Format == "json" {
		return writePlanJSON(os.Stdout, entries)
	}
	writePlanHuman(os.Stdout, entries)
	return nil
}

// PlanMemberJSON is one qualifying archive member in the JSON plan
type PlanMemberJSON struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Target string `json:"target"`
	Done   bool   `json:"done"`
}

// PlanEntryJSON is one group in the JSON plan
type PlanEntryJSON struct {
	Primary  string           `json:"primary"`
	Sidecars []string         `json:"sidecars,omitempty"`
	Size     int64            `json:"size"`
	Target   string           `json:"target"`
	Action   batch.Action     `json:"action"`
	Reason   string           `json:"reason,omitempty"`
	Members  []PlanMemberJSON `json:"members,omitempty"`
}

func writePlanJSON(w io.Writer, entries []batch.PlanEntry) error {
	out := make([]PlanEntryJSON, 0, len(entries))
	for _, e := range entries {
		entry := PlanEntryJSON{
			Primary: e.Group.Primary.Path,
			Size:    e.Group.TotalSize(),
			Target:  e.Target,
			Action:  e.Action,
			Reason:  e.Reason,
		}
		for _, s := range e.Group.Sidecars {
			entry.Sidecars = append(entry.Sidecars, s.Path)
		}
		for _, m := range e.Members {
			entry.Members = append(entry.Members, PlanMemberJSON{Name: m.Name, Size: m.Size, Target: m.Target, Done: m.Done})
		}
		out = append(out, entry)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func writePlanHuman(w io.Writer, entries []batch.PlanEntry) {
	var total int64
	counts := make(map[batch.Action]int)
	for _, e := range entries {
		total += e.Group.TotalSize()
		counts[e.Action]++
	}
	fmt.Fprintf(w, "Found %d groups, %s total\n\n", len(entries), output.FormatBytes(total))

	for _, e := range entries {
		name := filepath.Base(e.Group.Primary.Path)
		switch e.Action {
		case batch.ActionConvert:
			fmt.Fprintf(w, "  convert  %s", name)
			if n := len(e.Group.Sidecars); n > 0 {
				fmt.Fprintf(w, " (+%d files)", n)
			}
			fmt.Fprintf(w, " → %s\n", filepath.Base(e.Target))
		case batch.ActionExpand:
			done := 0
			for _, m := range e.Members {
				if m.Done {
					done++
				}
			}
			fmt.Fprintf(w, "  expand   %s: %d images, %d already converted\n", name, len(e.Members), done)
			for _, m := range e.Members {
				mark := " "
				if m.Done {
					mark = "✓"
				}
				fmt.Fprintf(w, "           %s %s (%s)\n", mark, m.Name, output.FormatBytes(m.Size))
			}
		default:
			fmt.Fprintf(w, "  skip     %s: %s\n", name, e.Reason)
		}
	}

	fmt.Fprintf(w, "\nTo convert: %d, archives: %d, skipped: %d\n",
		counts[batch.ActionConvert], counts[batch.ActionExpand], counts[batch.ActionSkip])
}
