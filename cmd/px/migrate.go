package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/migrate"
	"github.com/px-dev/px/internal/statemachine"
)

// newMigrateCmd imports dependency specifiers from a legacy format
// (requirements.txt, Pipfile.lock, poetry.lock) into the manifest and
// re-locks. Parsing any specific legacy format is an external
// collaborator (internal/migrate.Importer); this binary ships only the
// honest NullImporter default, which fails closed naming the gap.
func newMigrateCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "import dependency specifiers from a legacy requirements format and re-lock",
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

			if from == "" {
				from = "requirements.txt"
			}
			outcome, err := runProjectCommand(cmd.Context(), cmdctx, dir, statemachine.CmdMigrate, migrateTransition(a, dir, from))
			return finish(cmdctx, outcome, err)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "legacy dependency file to import (default: requirements.txt)")
	return cmd
}

func migrateTransition(a *app, dir, from string) dispatch.Transition {
	var importer migrate.Importer = migrate.NullImporter{}
	return func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
		imported, err := importer.Import(ctx, from)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}

		m, err := loadOrEmptyManifest(dir)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		for _, im := range imported {
			m.AddDependency(im.Specifier)
		}

		res, err := relockAndMaterialize(ctx, a, dir, m)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		return dispatch.ExecutionOutcome{
			Message: "imported " + from,
			Details: map[string]interface{}{"profile_oid": res.ProfileOID, "l_id": res.Lock.Metadata.LID},
		}, nil
	}
}
