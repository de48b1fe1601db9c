package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sdejongh/xtochd/pkg/cancel"
	"github.com/sdejongh/xtochd/pkg/logging"
)

// ExitError carries the process exit code of a command that ran to
// completion. main returns it after every deferred cleanup has run.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// exitCode returns nil for 0 and an *ExitError otherwise
func exitCode(code int) error {
	if code == 0 {
		return nil
	}
	return &ExitError{Code: code}
}

// watchSignals fires token on the first SIGINT or SIGTERM and restores the
// default handlers, so a second signal terminates the process.
func watchSignals(ctx context.Context, token *cancel.Token, logger logging.Logger) (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-sigs:
			signal.Stop(sigs)
			if token.Cancel() {
				logger.Warn(ctx, "Cancellation requested, finishing the running conversion", logging.Fields{"signal": sig.String()})
				if !globalFlags.Quiet {
					fmt.Fprintln(os.Stderr, "\nCancelling: the running conversion will finish, press Ctrl+C again to abort")
				}
			}
		case <-quit:
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(quit)
		<-done
	}
}
