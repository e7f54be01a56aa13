package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/statemachine"
)

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "re-resolve every dependency against the index and re-lock, ignoring the current px.lock's pins",
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

			outcome, err := runProjectCommand(cmd.Context(), cmdctx, dir, statemachine.CmdUpdate, updateTransition(a, dir))
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}

// updateTransition re-resolves the full dependency set the same way sync
// does. With the PinnedResolver in internal/resolve (exact "==" pins only,
// see its doc comment), "latest satisfying version" and "the pinned
// version" are the same answer, so update and sync converge to the same
// lock; a resolver doing real PEP 440 range solving would make update's
// re-resolution produce different pins than a no-op sync.
func updateTransition(a *app, dir string) dispatch.Transition {
	return func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
		m, err := loadOrEmptyManifest(dir)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}

		res, err := relockAndMaterialize(ctx, a, dir, m)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}

		return dispatch.ExecutionOutcome{
			Message: "updated " + m.Project.Name,
			Details: map[string]interface{}{
				"profile_oid": res.ProfileOID,
				"env_path":    res.EnvPath,
				"l_id":        res.Lock.Metadata.LID,
			},
		}, nil
	}
}
