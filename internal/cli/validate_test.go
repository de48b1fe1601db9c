package cli

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdejongh/xtochd/pkg/config"
	"github.com/sdejongh/xtochd/pkg/models"
	"github.com/sdejongh/xtochd/pkg/output"
)

func TestApplyFlagsToConfig(t *testing.T) {
	cmd := NewConvertCommand()
	require.NoError(t, cmd.Flags().Parse([]string{
		"-o", "/out",
		"--chdman", "/opt/chdman",
		"--timeout", "90s",
		"--depth", "thorough",
		"--no-validate",
		"--exclude", "*.bak",
		"--extract-bandwidth", "10M",
		"--log-level", "error",
	}))

	cfg := config.Default()
	require.NoError(t, applyFlagsToConfig(cmd, cfg))

	assert.Equal(t, "/out", cfg.Output.Dir)
	assert.Equal(t, "/opt/chdman", cfg.Converter.Path)
	assert.Equal(t, 90*time.Second, cfg.Converter.Timeout)
	assert.Equal(t, "thorough", cfg.Validation.Depth)
	assert.False(t, cfg.Validation.Enabled)
	assert.Equal(t, []string{"*.bak"}, cfg.Scan.Exclude)
	assert.Equal(t, int64(10*1024*1024), cfg.ExtractBandwidth())
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, "createcd", cfg.Converter.Command, "unset flags keep config values")
}

func TestApplyFlagsToConfigRejectsInvalid(t *testing.T) {
	cmd := NewConvertCommand()
	require.NoError(t, cmd.Flags().Parse([]string{"--extract-bandwidth", "fast"}))

	err := applyFlagsToConfig(cmd, config.Default())
	var ve *models.ValidationError
	require.True(t, errors.As(err, &ve), "error = %v", err)
	assert.Equal(t, "archive.extract_bandwidth", ve.Field)
}

func TestCreateBatchOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Dir = "/out"

	first, err := createBatchOptions(cfg, []string{"/in"})
	require.NoError(t, err)
	second, err := createBatchOptions(cfg, []string{"/in"})
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID, "every batch gets its own id")
	assert.Equal(t, models.DepthFast, first.ValidationDepth)
	assert.True(t, first.RunValidation)
	assert.Equal(t, 0.2, first.ArchiveProgressShare)

	cfg.Output.Dir = ""
	_, err = createBatchOptions(cfg, []string{"/in"})
	assert.Error(t, err)
}

func TestValidateInputArgs(t *testing.T) {
	assert.Error(t, validateInputArgs(nil, ""))
	assert.Error(t, validateInputArgs([]string{"/in"}, "xml"))
	assert.NoError(t, validateInputArgs([]string{"/in"}, "json"))
}

func TestExitCode(t *testing.T) {
	assert.NoError(t, exitCode(0))

	var exit *ExitError
	require.True(t, errors.As(exitCode(3), &exit))
	assert.Equal(t, 3, exit.Code)
}

func TestCreateFormatter(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Format = "json"
	assert.Equal(t, "json", createFormatter(cfg).Name())

	cfg.Output.Format = "human"
	cfg.Output.Quiet = true
	assert.IsType(t, output.Nop{}, createFormatter(cfg))

	// Test binaries never run on a terminal
	cfg.Output.Quiet = false
	assert.IsType(t, &output.HumanFormatter{}, createFormatter(cfg))
}
