package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/manifest"
	"github.com/px-dev/px/internal/statemachine"
)

func newInitCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "create pyproject.toml, px.lock, and an empty env in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdctx := buildCommandContext()
			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			a, err := newApp(cmdctx, dir)
			if err != nil {
				return err
			}
			defer a.close()

			if name == "" {
				name = filepath.Base(dir)
			}
			outcome, err := runProjectCommand(cmd.Context(), cmdctx, dir, statemachine.CmdInit, initTransition(a, dir, name))
			return finish(cmdctx, outcome, err)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name (defaults to the current directory's basename)")
	return cmd
}

func initTransition(a *app, dir, name string) dispatch.Transition {
	return func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
		m := manifest.NewEmpty(name)

		res, err := relockAndMaterialize(ctx, a, dir, m)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}

		return dispatch.ExecutionOutcome{
			Message: "initialized " + name + " in " + dir,
			Details: map[string]interface{}{
				"profile_oid": res.ProfileOID,
				"env_path":    res.EnvPath,
				"l_id":        res.Lock.Metadata.LID,
			},
		}, nil
	}
}
