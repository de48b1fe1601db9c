package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCleanCommand creates the clean command
func NewCleanCommand() *cobra.Command {
	var all bool
	var scratchDir string

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove leftover scratch directories",
		Long: `Remove extraction directories left behind by interrupted runs. By default
only directories older than the configured retention are removed; --all
removes every directory under the scratch base.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cmd.Flags().Changed("scratch-dir") {
				cfg.Scratch.Dir = scratchDir
			}

			logger, err := createLogger(cfg.Logging, globalFlags.Quiet)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logger.Close()

			// Opening the manager already sweeps expired directories
			sm, err := createScratch(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to open scratch space: %w", err)
			}
			defer sm.Close()

			var removed []string
			if all {
				removed, err = sm.Purge()
			} else {
				removed, err = sm.Sweep()
			}

			if !globalFlags.Quiet {
				for _, path := range removed {
					fmt.Printf("removed %s\n", path)
				}
				fmt.Printf("Scratch base: %s (%d removed)\n", sm.Base(), len(removed))
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "remove every scratch directory regardless of age")
	cmd.Flags().StringVar(&scratchDir, "scratch-dir", "", "scratch base directory")

	return cmd
}
