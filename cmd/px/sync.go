package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/statemachine"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "re-lock (if the manifest drifted) and refresh the env to match px.lock",
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

			outcome, err := runProjectCommand(cmd.Context(), cmdctx, dir, statemachine.CmdSync, syncTransition(a, dir))
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}

func syncTransition(a *app, dir string) dispatch.Transition {
	return func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
		m, err := loadOrEmptyManifest(dir)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}

		var profileOID, envPath, lid string
		if status.ManifestClean && status.LockExists {
			// px.lock already matches the manifest: keep it, and rebuild
			// the env from it only when the env is stale.
			_, _, l, st, err := projectInputs(a.cmdctx, dir)
			if err != nil {
				return dispatch.ExecutionOutcome{}, err
			}
			profileOID, envPath, lid = st.ProfileOID, st.EnvPath, l.Metadata.LID
			if !status.EnvClean {
				if profileOID, envPath, err = materializeFromLock(ctx, a, dir, l, hostRuntimeABI(a.cmdctx, m), hostPlatform()); err != nil {
					return dispatch.ExecutionOutcome{}, err
				}
			}
		} else {
			res, err := relockAndMaterialize(ctx, a, dir, m)
			if err != nil {
				return dispatch.ExecutionOutcome{}, err
			}
			profileOID, envPath, lid = res.ProfileOID, res.EnvPath, res.Lock.Metadata.LID
		}

		return dispatch.ExecutionOutcome{
			Message: "synced " + m.Project.Name,
			Details: map[string]interface{}{
				"profile_oid": profileOID,
				"env_path":    envPath,
				"l_id":        lid,
			},
		}, nil
	}
}
