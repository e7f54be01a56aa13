package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/cas"
	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/execute"
	"github.com/px-dev/px/internal/pxerr"
	"github.com/px-dev/px/internal/statemachine"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "run <target> [args...]",
		Short:              "run a console script, project script file, or interpreter inside the project's env",
		Args:               cobra.MinimumNArgs(1),
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

			target := targetFromArgs(dir, args)
			outcome, err := runProjectCommand(cmd.Context(), cmdctx, dir, statemachine.CmdRun, launchTransition(a, dir, target))
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "test [args...]",
		Short:              "run pytest inside the project's env",
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

			target := execute.Target{ConsoleScript: "pytest", Args: args}
			outcome, err := runProjectCommand(cmd.Context(), cmdctx, dir, statemachine.CmdTest, launchTransition(a, dir, target))
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}

// targetFromArgs classifies args[0] as a script path (ends in .py, or
// names a file that exists relative to dir) versus a console_scripts
// name, the same heuristic `python <file>` vs `<command>` dispatch uses.
func targetFromArgs(dir string, args []string) execute.Target {
	head := args[0]
	rest := args[1:]
	if strings.HasSuffix(head, ".py") {
		return execute.Target{ScriptPath: resolveScriptPath(dir, head), Args: rest}
	}
	if _, err := os.Stat(filepath.Join(dir, head)); err == nil {
		return execute.Target{ScriptPath: resolveScriptPath(dir, head), Args: rest}
	}
	return execute.Target{ConsoleScript: head, Args: rest}
}

func resolveScriptPath(dir, head string) string {
	if filepath.IsAbs(head) {
		return head
	}
	return filepath.Join(dir, head)
}

// launchTransition repairs a stale env from px.lock (never re-resolving),
// then launches target CAS-natively, falling back to the materialized
// env's own launcher when internal/execute reports a non-empty
// FallbackCode.
func launchTransition(a *app, dir string, target execute.Target) dispatch.Transition {
	return func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
		_, m, l, st, err := projectInputs(a.cmdctx, dir)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		if l == nil {
			return dispatch.ExecutionOutcome{}, pxerr.MissingLock()
		}
		runtimeABI := hostRuntimeABI(a.cmdctx, m)
		platform := hostPlatform()

		profileOID, envPath := st.ProfileOID, st.EnvPath
		if !status.EnvClean {
			profileOID, envPath, err = materializeFromLock(ctx, a, dir, l, runtimeABI, platform)
			if err != nil {
				return dispatch.ExecutionOutcome{}, err
			}
		}

		engine, err := a.engineFor(ctx)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		profile, err := cas.ReadProfile(a.store, profileOID)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		runtimeTree := a.store.RuntimeDir(profile.RuntimeOID)
		runtimeBin := filepath.Join(runtimeTree, "bin", "python3")
		runtimeLib := filepath.Join(runtimeTree, "lib")

		result, err := execute.Launch(ctx, a.store, profile, runtimeBin, runtimeLib,
			a.roots.PycCache, profileOID, target, os.Stdout, os.Stderr, os.Stdin)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}

		if result.Fallback != "" {
			a.logger.Printf("CAS_NATIVE_FALLBACK=%s", result.Fallback)
			code, err := runMaterialized(ctx, envPath, target)
			if err != nil {
				return dispatch.ExecutionOutcome{}, err
			}
			result = execute.Result{Mode: "materialized", ExitCode: code}
		}

		_ = engine // engine is reused for its idempotent Ensure* above; not needed past this point
		if result.ExitCode != 0 {
			err := pxerr.SubprocessFailed(result.ExitCode)
			return dispatch.ExecutionOutcome{
				Status:  dispatch.StatusFailure,
				Message: err.Error(),
				Details: map[string]interface{}{"exit_code": result.ExitCode, "mode": result.Mode},
			}, err
		}
		return dispatch.ExecutionOutcome{Details: map[string]interface{}{"exit_code": 0, "mode": result.Mode}}, nil
	}
}

// runMaterialized execs target against envPath/bin/ the way a shell would
// after sourcing the env onto PATH, used only when CAS-native dispatch
// itself reports a fallback.
func runMaterialized(ctx context.Context, envPath string, target execute.Target) (int, error) {
	var bin string
	var args []string
	switch {
	case target.ConsoleScript != "":
		bin = filepath.Join(envPath, "bin", target.ConsoleScript)
		args = target.Args
	case target.ScriptPath != "":
		bin = filepath.Join(envPath, "bin", "python")
		args = append([]string{target.ScriptPath}, target.Args...)
	default:
		bin = filepath.Join(envPath, "bin", "python")
		args = target.Args
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout, cmd.Stderr, cmd.Stdin = os.Stdout, os.Stderr, os.Stdin
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return 0, err
	}
	return 0, nil
}
