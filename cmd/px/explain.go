package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/pxerr"
	"github.com/px-dev/px/internal/statemachine"
)

// newExplainCmd prints px.lock's resolved dependency set: every package
// px would pin into the env, alongside the artifact it was resolved to.
func newExplainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "print the resolved dependency graph px.lock pins",
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

			outcome, err := runProjectCommand(cmd.Context(), cmdctx, dir, statemachine.CmdExplain, explainTransition(a, dir))
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}

func explainTransition(a *app, dir string) dispatch.Transition {
	return func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
		_, _, l, _, err := projectInputs(a.cmdctx, dir)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		if l == nil {
			return dispatch.ExecutionOutcome{}, pxerr.MissingLock()
		}

		pkgs := make([]map[string]interface{}, len(l.Dependencies))
		for i, d := range l.Dependencies {
			pkgs[i] = map[string]interface{}{
				"name":      d.Name,
				"specifier": d.Specifier,
				"filename":  d.Artifact.Filename,
				"sha256":    d.Artifact.SHA256,
			}
		}
		msg := "0 packages resolved"
		if n := len(pkgs); n > 0 {
			msg = pluralPackages(n) + " resolved"
		}
		return dispatch.ExecutionOutcome{
			Message: msg,
			Details: map[string]interface{}{"l_id": l.Metadata.LID, "packages": pkgs},
		}, nil
	}
}

func pluralPackages(n int) string {
	if n == 1 {
		return "1 package"
	}
	return strconv.Itoa(n) + " packages"
}
