package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/cas"
	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/execute"
	"github.com/px-dev/px/internal/pxerr"
	"github.com/px-dev/px/internal/statemachine"
)

// newFmtCmd dispatches to a formatter console script inside the project's
// env, the same CAS-native/materialized path run uses. It is read-only
// with respect to px's own state (M/L/E never change), even though the
// formatter itself rewrites source files in place.
func newFmtCmd() *cobra.Command {
	var formatter string
	cmd := &cobra.Command{
		Use:                "fmt [args...]",
		Short:              "run the project's configured formatter inside its env",
		DisableFlagParsing: true,
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

			// Flag parsing is disabled so every other argument reaches the
			// formatter untouched; a leading --formatter is taken here.
			if len(args) > 0 && strings.HasPrefix(args[0], "--formatter=") {
				formatter, args = strings.TrimPrefix(args[0], "--formatter="), args[1:]
			} else if len(args) > 1 && args[0] == "--formatter" {
				formatter, args = args[1], args[2:]
			}
			if formatter == "" {
				formatter = "black"
			}
			outcome, err := runProjectCommand(cmd.Context(), cmdctx, dir, statemachine.CmdFmt, fmtTransition(a, dir, formatter, args))
			return finish(cmdctx, outcome, err)
		},
	}
	cmd.Flags().StringVar(&formatter, "formatter", "", "console script to invoke (default: black)")
	return cmd
}

func fmtTransition(a *app, dir, formatter string, args []string) dispatch.Transition {
	return func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
		_, _, _, st, err := projectInputs(a.cmdctx, dir)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		if st.ProfileOID == "" {
			return dispatch.ExecutionOutcome{}, pxerr.EnvStale("no env materialized for this project yet")
		}

		if _, err := a.engineFor(ctx); err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		profile, err := cas.ReadProfile(a.store, st.ProfileOID)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		runtimeTree := a.store.RuntimeDir(profile.RuntimeOID)
		target := execute.Target{ConsoleScript: formatter, Args: args}

		result, err := execute.Launch(ctx, a.store, profile, filepath.Join(runtimeTree, "bin", "python3"),
			filepath.Join(runtimeTree, "lib"), a.roots.PycCache, st.ProfileOID, target, os.Stdout, os.Stderr, os.Stdin)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		if result.Fallback != "" {
			a.logger.Printf("CAS_NATIVE_FALLBACK=%s", result.Fallback)
			code, err := runMaterialized(ctx, st.EnvPath, target)
			if err != nil {
				return dispatch.ExecutionOutcome{}, err
			}
			result = execute.Result{Mode: "materialized", ExitCode: code}
		}

		if result.ExitCode != 0 {
			e := pxerr.SubprocessFailed(result.ExitCode)
			return dispatch.ExecutionOutcome{
				Status:  dispatch.StatusFailure,
				Message: e.Error(),
				Details: map[string]interface{}{"exit_code": result.ExitCode},
			}, e
		}
		return dispatch.ExecutionOutcome{Message: formatter + " completed"}, nil
	}
}
