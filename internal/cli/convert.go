package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sdejongh/xtochd/internal/platform"
	"github.com/sdejongh/xtochd/pkg/batch"
	"github.com/sdejongh/xtochd/pkg/cancel"
	"github.com/sdejongh/xtochd/pkg/logging"
	"github.com/sdejongh/xtochd/pkg/output"
)

// ConvertFlags holds convert command flags
type ConvertFlags struct {
	OutputDir        string
	CreateOutput     bool
	Chdman           string
	Depth            string
	NoValidate       bool
	Timeout          time.Duration
	Parallel         int
	Exclude          []string
	IncludeHidden    bool
	Format           string
	SummaryReport    string
	SummaryFormat    string
	ExtractBandwidth string
	ScratchDir       string
	// Logging flags
	LogFile   string
	LogFormat string
	LogLevel  string
}

var convertFlags ConvertFlags

// NewConvertCommand creates the convert command
func NewConvertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <paths...>",
		Short: "Convert disc images to CHD",
		Long: `Scan the given files and directories for disc images, merge them into one
deduplicated batch and convert each group to CHD with chdman.

Zip archives are expanded into a scratch directory first; only members
without an existing output are extracted. Existing outputs are skipped, so
rerunning a batch only converts what is missing.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runConvert,
	}

	cmd.Flags().StringVarP(&convertFlags.OutputDir, "output-dir", "o", "", "directory receiving the .chd files")
	cmd.Flags().BoolVar(&convertFlags.CreateOutput, "create-output", false, "create the output directory if it doesn't exist")
	cmd.Flags().StringVar(&convertFlags.Chdman, "chdman", "", "path of the chdman executable")
	cmd.Flags().StringVar(&convertFlags.Depth, "depth", "", "validation depth: fast, thorough")
	cmd.Flags().BoolVar(&convertFlags.NoValidate, "no-validate", false, "skip input validation")
	cmd.Flags().DurationVar(&convertFlags.Timeout, "timeout", 0, "abort a single conversion after this duration (0 = none)")
	cmd.Flags().IntVarP(&convertFlags.Parallel, "parallel", "p", 0, "number of validation workers (default: CPU heuristic)")
	cmd.Flags().StringVar(&convertFlags.Format, "format", "", "output format: human, json")
	cmd.Flags().StringVar(&convertFlags.SummaryReport, "summary-report", "", "write the batch summary to file")
	cmd.Flags().StringVar(&convertFlags.SummaryFormat, "summary-format", "human", "summary report format: human, json")
	cmd.Flags().StringVar(&convertFlags.ExtractBandwidth, "extract-bandwidth", "", "archive extraction limit (e.g., \"10M\")")
	cmd.Flags().StringVar(&convertFlags.ScratchDir, "scratch-dir", "", "base directory for archive extraction")
	addInputFlags(cmd, &convertFlags.Exclude, &convertFlags.IncludeHidden)
	addLogFlags(cmd, &convertFlags.LogFile, &convertFlags.LogFormat, &convertFlags.LogLevel)

	return cmd
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Validate flags
	if err := validateConvertFlags(args); err != nil {
		return err
	}

	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with command-line flags
	if err := applyFlagsToConfig(cmd, cfg); err != nil {
		return err
	}
	if cfg.Output.Dir == "" {
		return fmt.Errorf("output directory is required (use --output-dir or output.dir)")
	}
	if err := platform.ValidatePath(cfg.Output.Dir); err != nil {
		return err
	}
	if err := resolveConverter(cfg); err != nil {
		return err
	}

	opts, err := createBatchOptions(cfg, args)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}

	// Create logger
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
		Options:       opts,
		Scratch:       sm,
		Command:       cfg.Converter.Command,
		OutputExt:     cfg.Converter.Extension,
		RequireOutput: true,
		CreateOutput:  convertFlags.CreateOutput,
		Formatter:     createFormatter(cfg),
		Writer:        os.Stdout,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	token := cancel.New()
	stopSignals := watchSignals(ctx, token, logger)
	defer stopSignals()

	session.AddRoots(ctx, args...)
	report := session.Convert(ctx, token)

	// Write the summary report when a file or a format is asked for
	if convertFlags.SummaryReport != "" || cmd.Flags().Changed("summary-format") {
		if err := output.WriteSummaryReport(report, convertFlags.SummaryReport, convertFlags.SummaryFormat); err != nil {
			logger.Error(ctx, "Failed to write summary report", err, logging.Fields{"path": convertFlags.SummaryReport})
			fmt.Fprintf(os.Stderr, "Error: failed to write summary report: %v\n", err)
		}
	}

	return exitCode(report.Status.ExitCode())
}
