package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/statemachine"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "show the project's current M/L/E state",
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

			outcome, err := runProjectCommand(cmd.Context(), cmdctx, dir, statemachine.CmdStatus, statusTransition())
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}

func statusTransition() dispatch.Transition {
	return func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
		return dispatch.ExecutionOutcome{
			Message: string(status.State),
			Details: map[string]interface{}{
				"state":           string(status.State),
				"manifest_exists": status.ManifestExists,
				"lock_exists":     status.LockExists,
				"env_exists":      status.EnvExists,
				"manifest_clean":  status.ManifestClean,
				"env_clean":       status.EnvClean,
			},
		}, nil
	}
}
