package cli

import (
	"github.com/spf13/cobra"
)

// GlobalFlags holds global flag values
type GlobalFlags struct {
	ConfigFile string
	Verbose    bool
	Quiet      bool
}

var globalFlags GlobalFlags

// AddGlobalFlags adds global flags to the root command
func AddGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(
		&globalFlags.ConfigFile,
		"config",
		"",
		"config file (default is $HOME/.config/xtochd/config.yaml)",
	)
	cmd.PersistentFlags().BoolVarP(
		&globalFlags.Verbose,
		"verbose",
		"v",
		false,
		"verbose output and debug logging",
	)
	cmd.PersistentFlags().BoolVarP(
		&globalFlags.Quiet,
		"quiet",
		"q",
		false,
		"suppress non-error output",
	)
}

// GetGlobalFlags returns the global flags
func GetGlobalFlags() *GlobalFlags {
	return &globalFlags
}

// addInputFlags registers the discovery flags shared by convert, scan and verify
func addInputFlags(cmd *cobra.Command, exclude *[]string, includeHidden *bool) {
	cmd.Flags().StringSliceVar(exclude, "exclude", []string{}, "glob patterns to exclude (replaces config excludes)")
	cmd.Flags().BoolVar(includeHidden, "include-hidden", false, "descend into hidden directories")
}

// addLogFlags registers the logging flags
func addLogFlags(cmd *cobra.Command, file, format, level *string) {
	cmd.Flags().StringVar(file, "log-file", "", "write logs to file")
	cmd.Flags().StringVar(format, "log-format", "", "log format: text, json")
	cmd.Flags().StringVar(level, "log-level", "", "log level: debug, info, warn, error")
}
