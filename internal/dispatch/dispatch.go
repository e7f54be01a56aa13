// Package dispatch maps a typed command request and a CommandContext onto
// the M/L/E transition table in internal/statemachine, enforcing frozen-mode
// write restrictions before any transition body runs. It is the single
// choke point every CLI verb goes through, the way distri's build.Ctx is
// the single choke point every package build goes through rather than
// each caller reimplementing its own sequencing.
package dispatch

import (
	"context"

	"github.com/px-dev/px/internal/pxerr"
	"github.com/px-dev/px/internal/statemachine"
)

// Status is the outcome classification returned to the CLI layer for exit
// code mapping (0 ok, 1 user-error, 2 failure).
type Status string

const (
	StatusOK        Status = "ok"
	StatusUserError Status = "user-error"
	StatusFailure   Status = "failure"
)

// ExecutionOutcome is the uniform result every dispatched command produces,
// rendered as-is in --json mode or formatted for a terminal otherwise.
type ExecutionOutcome struct {
	Status  Status
	Message string
	Details map[string]interface{}
}

// Request is one typed command invocation: the verb plus whatever inputs
// that verb needs, already parsed out of CLI flags/args by the caller.
type Request struct {
	Command string
	Args    []string
}

// Transition is the function signature a command's implementation must
// satisfy: given the current project status, perform the command's work
// and return the resulting outcome. Transitions never read CommandContext
// fields directly from the environment; everything they need arrives via
// ctx or the closure that registered them.
type Transition func(ctx context.Context, status statemachine.ProjectStatus) (ExecutionOutcome, error)

// Registry maps command names to their Transition implementations. The
// CLI layer builds one Registry at startup and calls Dispatch for every
// parsed request.
type Registry map[string]Transition

// Dispatch enforces the allowed-start-state check and the frozen-mode
// policy before invoking the registered Transition for req.Command.
func Dispatch(ctx context.Context, reg Registry, req Request, status statemachine.ProjectStatus, frozen bool) (ExecutionOutcome, error) {
	fn, ok := reg[req.Command]
	if !ok {
		return ExecutionOutcome{Status: StatusUserError, Message: "unknown command: " + req.Command},
			xerrorsUnknownCommand(req.Command)
	}

	if !statemachine.AllowedFrom(req.Command, status.State, frozen) {
		err := pxerr.FrozenWriteRefused(req.Command)
		if !frozen {
			err = disallowedTransition(req.Command, status.State)
		}
		return ExecutionOutcome{Status: StatusUserError, Message: err.Error(), Details: map[string]interface{}{
			"state": string(status.State),
		}}, err
	}

	outcome, err := fn(ctx, status)
	if err != nil {
		if outcome.Status == "" {
			outcome.Status = StatusFailure
		}
		return outcome, err
	}
	if outcome.Status == "" {
		outcome.Status = StatusOK
	}
	return outcome, nil
}

func xerrorsUnknownCommand(cmd string) error {
	return pxerr.New("PX010", "unknown command: "+cmd, nil, []string{"run `px --help` for the list of commands"})
}

func disallowedTransition(cmd, state string) error {
	return pxerr.New("PX011", cmd+" is not allowed from state "+state,
		[]string{"the command's allowed start states do not include the project's current state"},
		[]string{"run `px status` to see what state would unblock it", "run `px sync` to reach a consistent state first"})
}
