package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sdejongh/xtochd/pkg/batch"
	"github.com/sdejongh/xtochd/pkg/cancel"
	"github.com/sdejongh/xtochd/pkg/models"
)

// VerifyFlags holds verify command flags
type VerifyFlags struct {
	Depth         string
	Parallel      int
	Exclude       []string
	IncludeHidden bool
	Format        string
	ScratchDir    string
}

var verifyFlags VerifyFlags

// NewVerifyCommand creates the verify command
func NewVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <paths...>",
		Short: "Validate disc images without converting",
		Long: `Discover disc images like convert does and run the validator on every
file of the deduplicated set. Exits with status 1 when a file is invalid.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runVerify,
	}

	cmd.Flags().StringVar(&verifyFlags.Depth, "depth", "", "validation depth: fast, thorough")
	cmd.Flags().IntVarP(&verifyFlags.Parallel, "parallel", "p", 0, "number of validation workers (default: CPU heuristic)")
	cmd.Flags().StringVar(&verifyFlags.Format, "format", "", "output format: human, json")
	cmd.Flags().StringVar(&verifyFlags.ScratchDir, "scratch-dir", "", "base directory for archive extraction")
	addInputFlags(cmd, &verifyFlags.Exclude, &verifyFlags.IncludeHidden)

	return cmd
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := validateInputArgs(args, verifyFlags.Format); err != nil {
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
		cfg.Output.Dir = filepath.Join(os.TempDir(), "xtochd-verify-no-output")
	}

	opts, err := createBatchOptions(cfg, args)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}

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
		Options: opts,
		Scratch: sm,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	token := cancel.New()
	stopSignals := watchSignals(ctx, token, logger)
	defer stopSignals()
	vctx, cancelValidation := token.Context(ctx)
	defer cancelValidation()

	_, errs := session.AddRoots(vctx, args...)
	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	pass := session.Validate(vctx)
	encoder := json.NewEncoder(os.Stdout)
	invalid, total := 0, 0
	for v := range pass.Results() {
		total++
		if !v.Valid {
			invalid++
		}
		switch {
		case cfg.Output.Format == "json":
			if err := encoder.Encode(v); err != nil {
				return fmt.Errorf("failed to write verdict: %w", err)
			}
		case cfg.Output.Quiet && v.Valid:
		case v.Valid:
			fmt.Printf("✓ %s\n", v.Path)
		default:
			fmt.Printf("✗ %s: %s\n", v.Path, v.Reason)
		}
	}

	if token.Cancelled() {
		return exitCode(models.StatusCancelled.ExitCode())
	}
	if cfg.Output.Format != "json" && !cfg.Output.Quiet {
		fmt.Printf("\nChecked %d files (%s): %d valid, %d invalid\n", total, opts.ValidationDepth, total-invalid, invalid)
	}
	if invalid > 0 {
		return exitCode(models.StatusPartial.ExitCode())
	}
	return nil
}
