package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/px-dev/px/internal/config"
	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/pxerr"
)

// Exit codes, stable across releases since scripts key off them: 0 ok, 1
// user error (bad input, disallowed transition, validation failure), 2
// subprocess/build failure, 3 reserved for partial success (some
// workspace members succeeded, at least one failed).
const (
	exitOK           = 0
	exitUserError    = 1
	exitFailure      = 2
	exitPartial      = 3
)

// jsonEnvelope is the --json rendering of one command's outcome.
type jsonEnvelope struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// render writes outcome (and any error) to stdout/stderr according to
// cmdctx.JSON, and returns the process exit code to use.
func render(cmdctx config.CommandContext, outcome dispatch.ExecutionOutcome, err error) int {
	if cmdctx.JSON {
		env := jsonEnvelope{Status: string(outcome.Status), Message: outcome.Message, Details: outcome.Details}
		b, encErr := json.MarshalIndent(env, "", "  ")
		if encErr != nil {
			fmt.Fprintln(os.Stderr, encErr)
			return exitFailure
		}
		fmt.Println(string(b))
	} else {
		if outcome.Message != "" && !cmdctx.Quiet {
			fmt.Println(outcome.Message)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, formatError(err, cmdctx.Debug))
		}
	}
	return exitCodeFor(outcome, err)
}

// cmdExit carries a pre-rendered command outcome's exit code through
// cobra's error-returning RunE convention without causing cobra (or
// funcmain) to print anything a second time; render already wrote
// whatever needed to be written.
type cmdExit struct{ code int }

func (e cmdExit) Error() string { return "" }
func (e cmdExit) ExitCode() int { return e.code }

// finish renders outcome/err per cmdctx and returns the cmdExit cobra's
// RunE should return (nil for a clean exit, so cobra doesn't also print
// its own "Error:" line).
func finish(cmdctx config.CommandContext, outcome dispatch.ExecutionOutcome, err error) error {
	code := render(cmdctx, outcome, err)
	if code == exitOK {
		return nil
	}
	return cmdExit{code: code}
}

func exitCodeFor(outcome dispatch.ExecutionOutcome, err error) int {
	switch outcome.Status {
	case dispatch.StatusOK:
		return exitOK
	case dispatch.StatusUserError:
		return exitUserError
	case dispatch.StatusFailure:
		return exitFailure
	default:
		if err != nil {
			return exitFailure
		}
		return exitOK
	}
}

// formatError renders err the way distri's funcmain does: %+v (full
// wrapped chain) under --debug, %v (top frame only) otherwise. A
// *pxerr.Error additionally gets its Why/Fix bullets under --debug.
func formatError(err error, debug bool) string {
	if pe, ok := err.(*pxerr.Error); ok && debug {
		return pe.Report()
	}
	if debug {
		return fmt.Sprintf("%+v", err)
	}
	return fmt.Sprintf("%v", err)
}
