package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/statemachine"
)

// newWhyCmd is status's verbose sibling: it surfaces the specific
// DriftReasons statemachine.Evaluate recorded, rather than just the
// resulting state name.
func newWhyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "why",
		Short: "explain why the project is (or isn't) consistent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdctx := buildCommandContext()
			dir, err := currentProjectDir()
			if err != nil {
				return err
			}
			a, err := newApp(cmdctx, dir)
			if err != nil {
				return err
			}
			defer a.close()

			outcome, err := runProjectCommand(cmd.Context(), cmdctx, dir, statemachine.CmdWhy, whyTransition())
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}

func whyTransition() dispatch.Transition {
	return func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
		msg := "consistent: manifest and env both match px.lock"
		if len(status.DriftReasons) > 0 {
			msg = status.DriftReasons[0]
			for _, r := range status.DriftReasons[1:] {
				msg += "; " + r
			}
		}
		return dispatch.ExecutionOutcome{
			Message: msg,
			Details: map[string]interface{}{"state": string(status.State), "reasons": status.DriftReasons},
		}, nil
	}
}
