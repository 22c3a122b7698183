package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/spo/internal/config"
	"github.com/tonimelisma/spo/internal/graph"
	"github.com/tonimelisma/spo/internal/tokenlease"
)

// Exit codes.
const (
	exitFailure = 1
	exitUsage   = 2
)

// usageError marks errors caused by how the command was invoked.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }

func (e usageError) Unwrap() error { return e.err }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	reportError(os.Stderr, err, flagVerbose)
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	var ue usageError
	if errors.As(err, &ue) {
		return exitUsage
	}

	return exitFailure
}

// reportError writes "Error: <msg>", a hint when the user has to act, and
// under verbose the chain of wrapped causes, one per line.
func reportError(w io.Writer, err error, verbose bool) {
	fmt.Fprintf(w, "Error: %v\n", err)

	if hint := errorHint(err); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}

	if !verbose {
		return
	}

	for cause := nextCause(err); cause != nil; cause = nextCause(cause) {
		fmt.Fprintf(w, "  caused by: %v\n", cause)
	}
}

func errorHint(err error) string {
	switch {
	case errors.Is(err, tokenlease.ErrLockTimeout),
		errors.Is(err, tokenlease.ErrRefreshFailed),
		errors.Is(err, tokenlease.ErrNotAuthorized):
		return "run 'spo configure' to authorize again"
	case errors.Is(err, config.ErrConfigurationMissing):
		return "run 'spo configure' to store credentials"
	case errors.Is(err, graph.ErrAccessDenied):
		return "the app registration needs consent for " + strings.Join(tokenlease.DefaultScopes[1:], ", ")
	}

	return ""
}

// nextCause follows single unwrapping, and for joined errors the last one,
// which carries the underlying failure.
func nextCause(err error) error {
	if next := errors.Unwrap(err); next != nil {
		return next
	}

	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		errs := multi.Unwrap()
		for i := len(errs) - 1; i >= 0; i-- {
			if errs[i] != nil {
				return errs[i]
			}
		}
	}

	return nil
}

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return wrapArgs(cobra.ExactArgs(n))
}

// maxArgs is cobra.MaximumNArgs reporting a usage error.
func maxArgs(n int) cobra.PositionalArgs {
	return wrapArgs(cobra.MaximumNArgs(n))
}

// unknownSubcommand rejects leftover root arguments the way cobra does, as a
// usage error.
func unknownSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return nil
	}

	msg := fmt.Sprintf("unknown command %q for %q", args[0], cmd.CommandPath())
	if suggestions := cmd.SuggestionsFor(args[0]); len(suggestions) > 0 {
		msg += "\n\nDid you mean this?\n\t" + strings.Join(suggestions, "\n\t")
	}

	return usageError{errors.New(msg)}
}

func wrapArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError{err}
		}

		return nil
	}
}
