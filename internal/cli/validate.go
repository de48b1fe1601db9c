package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sdejongh/xtochd/internal/platform"
	"github.com/sdejongh/xtochd/pkg/config"
	"github.com/sdejongh/xtochd/pkg/convert"
	"github.com/sdejongh/xtochd/pkg/logging"
	"github.com/sdejongh/xtochd/pkg/models"
	"github.com/sdejongh/xtochd/pkg/output"
	"github.com/sdejongh/xtochd/pkg/scratch"
)

// validateInputArgs checks the positional paths and the output format flags
func validateInputArgs(args []string, format string) error {
	if len(args) == 0 {
		return fmt.Errorf("at least one input path is required")
	}
	for _, arg := range args {
		if err := platform.ValidatePath(arg); err != nil {
			return err
		}
	}

	validFormats := map[string]bool{
		"":      true,
		"human": true,
		"json":  true,
	}
	if !validFormats[format] {
		return fmt.Errorf("invalid output format: %s (valid: human, json)", format)
	}
	return nil
}

// validateConvertFlags validates the convert command flags
func validateConvertFlags(args []string) error {
	if err := validateInputArgs(args, convertFlags.Format); err != nil {
		return err
	}

	validSummaryFormats := map[string]bool{
		"human": true,
		"json":  true,
	}
	if !validSummaryFormats[convertFlags.SummaryFormat] {
		return fmt.Errorf("invalid summary format: %s (valid: human, json)", convertFlags.SummaryFormat)
	}

	if convertFlags.Depth != "" {
		if _, err := models.ParseDepth(convertFlags.Depth); err != nil {
			return err
		}
	}

	if convertFlags.Parallel < 0 {
		return fmt.Errorf("parallel workers cannot be negative: %d", convertFlags.Parallel)
	}
	return nil
}

// loadConfig loads configuration from file or returns default
func loadConfig() (*config.Config, error) {
	if globalFlags.ConfigFile != "" {
		return config.LoadFromFile(globalFlags.ConfigFile)
	}
	return config.LoadDefault()
}

// applyFlagsToConfig overrides config values with the command-line flags
// the user actually set and validates the result
func applyFlagsToConfig(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	// Converter
	if flags.Changed("chdman") {
		cfg.Converter.Path, _ = flags.GetString("chdman")
	}
	if flags.Changed("timeout") {
		cfg.Converter.Timeout, _ = flags.GetDuration("timeout")
	}

	// Output
	if flags.Changed("output-dir") {
		cfg.Output.Dir, _ = flags.GetString("output-dir")
	}
	if flags.Changed("format") {
		cfg.Output.Format, _ = flags.GetString("format")
	}

	// Scan
	if flags.Changed("exclude") {
		cfg.Scan.Exclude, _ = flags.GetStringSlice("exclude")
	}
	if flags.Changed("include-hidden") {
		cfg.Scan.IncludeHidden, _ = flags.GetBool("include-hidden")
	}

	// Validation
	if noValidate, _ := flags.GetBool("no-validate"); noValidate {
		cfg.Validation.Enabled = false
	}
	if flags.Changed("depth") {
		cfg.Validation.Depth, _ = flags.GetString("depth")
	}
	if flags.Changed("parallel") {
		cfg.Validation.MaxWorkers, _ = flags.GetInt("parallel")
	}

	// Scratch and archives
	if flags.Changed("scratch-dir") {
		cfg.Scratch.Dir, _ = flags.GetString("scratch-dir")
	}
	if flags.Changed("extract-bandwidth") {
		cfg.Archive.ExtractBandwidth, _ = flags.GetString("extract-bandwidth")
	}

	// Logging
	if flags.Changed("log-file") {
		cfg.Logging.File, _ = flags.GetString("log-file")
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format, _ = flags.GetString("log-format")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}

	// Disable progress in quiet mode
	if globalFlags.Quiet {
		cfg.Output.Progress = false
		cfg.Output.Quiet = true
	}

	// Debug logging in verbose mode
	if globalFlags.Verbose {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// createBatchOptions creates the options of one batch from configuration
func createBatchOptions(cfg *config.Config, roots []string) (*models.BatchOptions, error) {
	depth, err := models.ParseDepth(cfg.Validation.Depth)
	if err != nil {
		return nil, err
	}

	opts := &models.BatchOptions{
		ID:                   uuid.New().String(),
		Roots:                roots,
		OutputDir:            cfg.Output.Dir,
		Tool:                 cfg.Converter.Path,
		Timeout:              cfg.Converter.Timeout,
		RunValidation:        cfg.Validation.Enabled,
		ValidationDepth:      depth,
		MaxWorkers:           cfg.Validation.MaxWorkers,
		ExcludePatterns:      cfg.Scan.Exclude,
		IncludeHidden:        cfg.Scan.IncludeHidden,
		ExtractBandwidth:     cfg.ExtractBandwidth(),
		ArchiveProgressShare: cfg.Archive.ProgressShare,
		CreatedAt:            time.Now(),
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// resolveConverter locates the converter executable named by the config
func resolveConverter(cfg *config.Config) error {
	path, err := convert.LookTool(cfg.Converter.Path)
	if err != nil {
		return err
	}
	cfg.Converter.Path = path
	return nil
}

// createScratch opens the scratch manager at the configured base or beside
// the executable
func createScratch(cfg *config.Config, logger logging.Logger) (*scratch.Manager, error) {
	base := cfg.Scratch.Dir
	if base == "" {
		var err error
		base, err = scratch.DefaultBase()
		if err != nil {
			return nil, err
		}
	}
	return scratch.NewManager(base, scratch.Options{
		Retention: cfg.Scratch.Retention,
		Logger:    logger,
	})
}

// createLogger creates a logger based on configuration. Without a log file,
// warnings and errors go to stderr unless quiet is set.
func createLogger(cfg config.LoggingConfig, quiet bool) (logging.Logger, error) {
	level := logging.ParseLevel(cfg.Level)
	format := logging.ParseFormat(cfg.Format)

	if cfg.File != "" {
		return logging.NewFileLogger(logging.FileLoggerConfig{
			Path:       cfg.File,
			Format:     format,
			Level:      level,
			MaxSize:    10 * 1024 * 1024, // 10 MB
			MaxBackups: 5,
		})
	}

	if quiet {
		return logging.NewNullLogger(), nil
	}
	if level < logging.WarnLevel && !globalFlags.Verbose {
		level = logging.WarnLevel
	}
	return logging.NewWriterLogger(os.Stderr, format, level), nil
}

// createFormatter picks the output formatter for the configured format
func createFormatter(cfg *config.Config) output.Formatter {
	switch {
	case cfg.Output.Format == "json":
		return output.NewJSONFormatter()
	case cfg.Output.Quiet:
		return output.Nop{}
	case cfg.Output.Progress && term.IsTerminal(int(os.Stdout.Fd())):
		return output.NewProgressFormatter()
	default:
		return output.NewHumanFormatter()
	}
}
