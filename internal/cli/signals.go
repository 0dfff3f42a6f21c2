package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mendErrors "github.com/randalmurphal/mend/internal/errors"
)

// SetupSignalHandler returns a context that is cancelled on SIGINT/SIGTERM.
// A second signal exits immediately.
func SetupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			fmt.Fprintf(os.Stderr, "\nReceived %s, stopping after cleanup...\n", sig)
			cancel()
		case <-ctx.Done():
			signal.Stop(sigChan)
			return
		}

		// Second signal forces immediate exit
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\nReceived %s again, forcing exit\n", sig)
		os.Exit(mendErrors.ExitStep)
	}()

	return ctx, cancel
}
