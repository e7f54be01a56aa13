package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/statemachine"
)

func newRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <package-name>...",
		Short: "remove one or more dependencies from pyproject.toml and re-lock",
		Args:  cobra.MinimumNArgs(1),
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

			outcome, err := runProjectCommand(cmd.Context(), cmdctx, dir, statemachine.CmdRemove, removeTransition(a, dir, args))
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}

func removeTransition(a *app, dir string, names []string) dispatch.Transition {
	return func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
		m, err := loadOrEmptyManifest(dir)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		for _, name := range names {
			m.RemoveDependency(strings.TrimSpace(name))
		}

		res, err := relockAndMaterialize(ctx, a, dir, m)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}

		return dispatch.ExecutionOutcome{
			Message: "removed " + strings.Join(names, ", "),
			Details: map[string]interface{}{
				"profile_oid": res.ProfileOID,
				"env_path":    res.EnvPath,
				"l_id":        res.Lock.Metadata.LID,
			},
		}, nil
	}
}
