package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sdejongh/xtochd/pkg/config"
)

// NewConfigCommand creates the config command
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `View or create the xtochd configuration file.`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigInitCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Printf("Converter: %s %s\n", cfg.Converter.Path, cfg.Converter.Command)
			fmt.Printf("Converter Timeout: %s\n", cfg.Converter.Timeout)
			fmt.Printf("Output Extension: %s\n", cfg.Converter.Extension)
			fmt.Printf("Output Directory: %s\n", valueOrNone(cfg.Output.Dir))
			fmt.Printf("Output Format: %s\n", cfg.Output.Format)
			fmt.Printf("Exclude: %v\n", cfg.Scan.Exclude)
			fmt.Printf("Include Hidden: %t\n", cfg.Scan.IncludeHidden)
			fmt.Printf("Validation: %t (%s)\n", cfg.Validation.Enabled, cfg.Validation.Depth)
			fmt.Printf("Validation Workers: %d\n", cfg.Validation.MaxWorkers)
			fmt.Printf("Scratch Directory: %s\n", valueOrNone(cfg.Scratch.Dir))
			fmt.Printf("Scratch Retention: %s\n", cfg.Scratch.Retention)
			fmt.Printf("Extract Bandwidth: %s\n", valueOrNone(cfg.Archive.ExtractBandwidth))
			fmt.Printf("Log Format: %s\n", cfg.Logging.Format)
			fmt.Printf("Log Level: %s\n", cfg.Logging.Level)

			return nil
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigFile
			if path == "" {
				var err error
				path, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
			}

			cfg := config.Default()
			if err := config.SaveToFile(cfg, path); err != nil {
				return err
			}

			fmt.Printf("Configuration file created at: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file")

	return cmd
}

func valueOrNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
