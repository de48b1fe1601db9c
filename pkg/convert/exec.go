// Package convert drives the external CHD converter over a job list.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// DefaultTool is the converter looked up on PATH when none is configured
const DefaultTool = "chdman"

// DefaultCommand is the converter sub-command for optical images
const DefaultCommand = "createcd"

// stderrTailLines bounds the diagnostic kept from a failed run
const stderrTailLines = 20

// Result holds the outcome of a single converter invocation
type Result struct {
	ExitCode int
	Stderr   string
	Err      error
}

// OK reports a clean exit
func (r Result) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Converter turns one input image into one output artifact
type Converter interface {
	Convert(ctx context.Context, input, output string) Result
}

// ConversionError describes a failed converter run
type ConversionError struct {
	Input    string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("conversion of %s failed", e.Input)
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if tail := LastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// ExecConverter runs <Tool> <Command> -i <input> -o <output>
type ExecConverter struct {
	Tool    string
	Command string
	// Timeout bounds a run; 0 disables it
	Timeout time.Duration
	// Stderr, when set, receives the converter's stderr in real time
	Stderr io.Writer
}

// NewExecConverter creates a converter for the given tool path
func NewExecConverter(tool string, timeout time.Duration) *ExecConverter {
	return &ExecConverter{Tool: tool, Command: DefaultCommand, Timeout: timeout}
}

// Convert runs the tool to completion. The run is detached from ctx
// cancellation so a user cancel never kills an in-flight conversion; only
// Timeout can stop it.
func (c *ExecConverter) Convert(ctx context.Context, input, output string) Result {
	runCtx := context.WithoutCancel(ctx)
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, c.Timeout)
		defer cancel()
	}

	command := c.Command
	if command == "" {
		command = DefaultCommand
	}
	cmd := exec.CommandContext(runCtx, c.Tool, command, "-i", input, "-o", output)

	var stderrBuf bytes.Buffer
	if c.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderrBuf, c.Stderr)
	} else {
		cmd.Stderr = &stderrBuf
	}

	err := cmd.Run()
	result := Result{Stderr: Tail(stderrBuf.String(), stderrTailLines)}
	if err == nil {
		return result
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	} else {
		result.ExitCode = -1
	}
	if runCtx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("converter timed out after %s: %w", c.Timeout, runCtx.Err())
	}
	result.Err = err
	return result
}

// LookTool resolves the converter binary: an explicit path, or a name
// searched on PATH
func LookTool(tool string) (string, error) {
	if tool == "" {
		tool = DefaultTool
	}
	path, err := exec.LookPath(tool)
	if err != nil {
		return "", fmt.Errorf("converter %q not found: %w", tool, err)
	}
	return path, nil
}

// Tail keeps the last n non-empty lines of s. Carriage returns count as
// line breaks since the converter rewrites its progress line in place.
func Tail(s string, n int) string {
	s = strings.ReplaceAll(s, "\r", "\n")
	var kept []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, l)
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return strings.Join(kept, "\n")
}

// LastLine returns the last non-empty line of s
func LastLine(s string) string {
	return Tail(s, 1)
}
