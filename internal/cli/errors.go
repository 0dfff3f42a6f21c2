package cli

import (
	stderrors "errors"
	"fmt"
	"os"

	mendErrors "github.com/randalmurphal/mend/internal/errors"
)

// exitError ends the process with code without printing anything. Commands
// use it for outcomes that are not failures worth a message, such as a run
// that merged nothing.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

var errNothingMerged = &exitError{code: mendErrors.ExitStep}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	var ee *exitError
	if stderrors.As(err, &ee) {
		return ee.code
	}
	return mendErrors.ExitCodeFor(err)
}

// PrintError prints an error to stderr with appropriate formatting.
// If the error is a MendError, it uses the user-friendly format.
// Otherwise, it prints a simple error message.
func PrintError(err error) {
	var ee *exitError
	if stderrors.As(err, &ee) {
		return
	}
	if mendErr := mendErrors.AsMendError(err); mendErr != nil {
		if mendErr.Category() == mendErrors.CategoryComplete {
			if !quiet {
				fmt.Fprintln(os.Stderr, "Workflow complete. Run 'mend reset' to start a new pass.")
			}
			return
		}
		fmt.Fprintln(os.Stderr, mendErr.UserMessage())
		if verbose {
			// In verbose mode, also print the error code and cause
			fmt.Fprintf(os.Stderr, "\nCode: %s\n", mendErr.Code)
			if mendErr.Cause != nil {
				fmt.Fprintf(os.Stderr, "Cause: %v\n", mendErr.Cause)
			}
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
