package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/manifest"
	"github.com/px-dev/px/internal/statemachine"
)

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <specifier>...",
		Short: "add one or more dependency specifiers to pyproject.toml and re-lock",
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

			outcome, err := runProjectCommand(cmd.Context(), cmdctx, dir, statemachine.CmdAdd, addTransition(a, dir, args))
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}

func addTransition(a *app, dir string, specs []string) dispatch.Transition {
	return func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
		m, err := loadOrEmptyManifest(dir)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		for _, spec := range specs {
			m.AddDependency(strings.TrimSpace(spec))
		}

		res, err := relockAndMaterialize(ctx, a, dir, m)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}

		return dispatch.ExecutionOutcome{
			Message: "added " + strings.Join(specs, ", "),
			Details: map[string]interface{}{
				"profile_oid": res.ProfileOID,
				"env_path":    res.EnvPath,
				"l_id":        res.Lock.Metadata.LID,
			},
		}, nil
	}
}

// currentProjectDir locates the project root from the working directory,
// the way every command but init and tool/python needs to.
func currentProjectDir() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return findProjectRootOrHere(wd)
}

// findProjectRootOrHere walks up for pyproject.toml; a missing manifest is
// not an error here, since InitializedEmpty/Uninitialized commands (init,
// or add/sync run in a bare directory) need to operate on wd itself.
func findProjectRootOrHere(wd string) (string, error) {
	root, err := findProjectRootQuiet(wd)
	if err != nil {
		return wd, nil
	}
	return root, nil
}

func loadOrEmptyManifest(dir string) (*manifest.Manifest, error) {
	paths := pathsFor(dir)
	if _, err := os.Stat(paths.ManifestPath); err == nil {
		return manifest.Load(paths.ManifestPath)
	}
	return manifest.NewEmpty(defaultProjectName(dir)), nil
}
