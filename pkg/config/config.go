// Package config holds the YAML configuration of xtochd.
package config

import (
	"time"

	"github.com/sdejongh/xtochd/pkg/models"
	"github.com/sdejongh/xtochd/pkg/ratelimit"
)

// Config represents the application configuration
type Config struct {
	Converter  ConverterConfig  `yaml:"converter"`
	Output     OutputConfig     `yaml:"output"`
	Scan       ScanConfig       `yaml:"scan"`
	Validation ValidationConfig `yaml:"validation"`
	Scratch    ScratchConfig    `yaml:"scratch"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ConverterConfig holds settings of the external converter
type ConverterConfig struct {
	Path      string        `yaml:"path"`      // Executable path or name on PATH
	Command   string        `yaml:"command"`   // Sub-command, "createcd"
	Timeout   time.Duration `yaml:"timeout"`   // 0 = no timeout
	Extension string        `yaml:"extension"` // Artifact extension
}

// OutputConfig holds output-related settings
type OutputConfig struct {
	Dir      string `yaml:"dir"`      // Default output directory
	Format   string `yaml:"format"`   // "human" or "json"
	Progress bool   `yaml:"progress"` // Show a progress bar
	Quiet    bool   `yaml:"quiet"`    // Suppress non-error output
}

// ScanConfig holds discovery settings
type ScanConfig struct {
	Exclude       []string `yaml:"exclude"`
	IncludeHidden bool     `yaml:"include_hidden"`
}

// ValidationConfig holds validator settings
type ValidationConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Depth      string `yaml:"depth"`       // "fast" or "thorough"
	MaxWorkers int    `yaml:"max_workers"` // 0 = heuristic
}

// ScratchConfig holds temporary extraction settings
type ScratchConfig struct {
	Dir       string        `yaml:"dir"`       // Empty = beside the executable
	Retention time.Duration `yaml:"retention"` // Age before orphans are swept
}

// ArchiveConfig holds archive expansion settings
type ArchiveConfig struct {
	ExtractBandwidth string  `yaml:"extract_bandwidth"` // e.g. "10M", empty = unlimited
	ProgressShare    float64 `yaml:"progress_share"`    // Part of an archive's progress spent extracting
}

// LoggingConfig holds logging-related settings
type LoggingConfig struct {
	Format string `yaml:"format"` // "json" or "text"
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	File   string `yaml:"file"`   // Log file path (empty = stderr)
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Converter: ConverterConfig{
			Path:      "chdman",
			Command:   "createcd",
			Timeout:   0,
			Extension: models.OutputExt,
		},
		Output: OutputConfig{
			Format:   "human",
			Progress: true,
			Quiet:    false,
		},
		Scan: ScanConfig{
			Exclude: []string{
				"*.tmp",
				".git/",
			},
		},
		Validation: ValidationConfig{
			Enabled: true,
			Depth:   string(models.DepthFast),
		},
		Scratch: ScratchConfig{
			Retention: time.Hour,
		},
		Archive: ArchiveConfig{
			ProgressShare: 0.2,
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
			File:   "",
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Converter.Path == "" {
		return &models.ValidationError{
			Field:   "converter.path",
			Message: "must not be empty",
		}
	}

	if c.Converter.Timeout < 0 {
		return &models.ValidationError{
			Field:   "converter.timeout",
			Message: "cannot be negative",
		}
	}

	if c.Converter.Extension == "" || c.Converter.Extension[0] != '.' {
		return &models.ValidationError{
			Field:   "converter.extension",
			Message: "must start with a dot",
		}
	}

	validFormats := map[string]bool{"human": true, "json": true}
	if !validFormats[c.Output.Format] {
		return &models.ValidationError{
			Field:   "output.format",
			Message: "must be 'human' or 'json'",
		}
	}

	if _, err := models.ParseDepth(c.Validation.Depth); err != nil {
		return &models.ValidationError{
			Field:   "validation.depth",
			Message: "must be 'fast' or 'thorough'",
		}
	}

	if c.Validation.MaxWorkers < 0 {
		return &models.ValidationError{
			Field:   "validation.max_workers",
			Message: "cannot be negative",
		}
	}

	if c.Scratch.Retention < 0 {
		return &models.ValidationError{
			Field:   "scratch.retention",
			Message: "cannot be negative",
		}
	}

	if _, err := ratelimit.ParseBandwidth(c.Archive.ExtractBandwidth); err != nil {
		return &models.ValidationError{
			Field:   "archive.extract_bandwidth",
			Message: err.Error(),
		}
	}

	if c.Archive.ProgressShare < 0 || c.Archive.ProgressShare >= 1 {
		return &models.ValidationError{
			Field:   "archive.progress_share",
			Message: "must be in [0, 1)",
		}
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return &models.ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'text'",
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return &models.ValidationError{
			Field:   "logging.level",
			Message: "must be 'debug', 'info', 'warn', or 'error'",
		}
	}

	return nil
}

// ExtractBandwidth returns the parsed extraction limit in bytes per second
func (c *Config) ExtractBandwidth() int64 {
	bps, _ := ratelimit.ParseBandwidth(c.Archive.ExtractBandwidth)
	return bps
}
