package main

import (
	"context"
	"sort"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/builder"
	"github.com/px-dev/px/internal/canon"
	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/index"
	"github.com/px-dev/px/internal/statemachine"
)

// newPythonCmd groups subcommands over the runtime registry: which
// interpreters px knows about, and which one a project is pinned to.
func newPythonCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "python",
		Short: "discover, install, and pin Python interpreters",
	}
	root.AddCommand(newPythonListCmd(), newPythonInstallCmd(), newPythonUseCmd(), newPythonInfoCmd())
	return root
}

func newPythonListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list runtime objects already materialized into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdctx := buildCommandContext()
			a, err := newApp(cmdctx, "")
			if err != nil {
				return err
			}
			defer a.close()

			outcome, err := dispatchToolCommand(cmd.Context(), cmdctx.Frozen, statemachine.CmdPython, func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
				_, idx, err := a.openStore(ctx)
				if err != nil {
					return dispatch.ExecutionOutcome{}, err
				}
				objs, err := idx.Objects(ctx)
				if err != nil {
					return dispatch.ExecutionOutcome{}, err
				}
				oids := runtimeOIDs(objs)
				msg := "no runtimes materialized yet"
				if len(oids) > 0 {
					msg = "runtimes: " + joinComma(oids)
				}
				return dispatch.ExecutionOutcome{Message: msg, Details: map[string]interface{}{"runtime_oids": oids}}, nil
			})
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}

func runtimeOIDs(objs []index.ObjectRow) []string {
	var out []string
	for _, o := range objs {
		if o.Kind == string(canon.KindRuntime) {
			out = append(out, o.OID)
		}
	}
	sort.Strings(out)
	return out
}

func newPythonInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <abi-spec>",
		Short: "materialize a runtime object for the given ABI spec (e.g. cpython-3.12) from the host's discovered interpreters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdctx := buildCommandContext()
			a, err := newApp(cmdctx, "")
			if err != nil {
				return err
			}
			defer a.close()

			abi := args[0]
			outcome, err := dispatchToolCommand(cmd.Context(), cmdctx.Frozen, statemachine.CmdPython, func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
				engine, err := a.engineFor(ctx)
				if err != nil {
					return dispatch.ExecutionOutcome{}, err
				}
				oid, err := engine.EnsureRuntime(ctx, builder.RuntimeRequest{Version: abi, ABI: abi, Platform: hostPlatform()})
				if err != nil {
					return dispatch.ExecutionOutcome{}, err
				}
				return dispatch.ExecutionOutcome{
					Message: "runtime " + abi + " available as " + oid,
					Details: map[string]interface{}{"runtime_oid": oid, "tree": a.store.RuntimeDir(oid)},
				}, nil
			})
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}

func newPythonUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <abi-spec>",
		Short: "pin the current project's [tool.px].python and re-lock against it",
		Args:  cobra.ExactArgs(1),
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

			abi := args[0]
			outcome, err := runProjectCommand(cmd.Context(), cmdctx, dir, statemachine.CmdSync, pythonUseTransition(a, dir, abi))
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}

// pythonUseTransition is registered under CmdSync rather than a dedicated
// table entry: pinning an interpreter and re-locking against it is exactly
// sync's transition with one manifest field changed first, and the
// transition table already allows CmdSync from every non-Uninitialized
// state that permits a manifest rewrite.
func pythonUseTransition(a *app, dir, abi string) dispatch.Transition {
	return func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
		m, err := loadOrEmptyManifest(dir)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		m.Tool.Px.Python = abi

		res, err := relockAndMaterialize(ctx, a, dir, m)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		return dispatch.ExecutionOutcome{
			Message: "pinned " + m.Project.Name + " to " + abi,
			Details: map[string]interface{}{"profile_oid": res.ProfileOID, "l_id": res.Lock.Metadata.LID},
		}, nil
	}
}

func newPythonInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "show the host platform and the current project's configured interpreter",
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

			_, m, _, st, err := projectInputs(cmdctx, dir)
			if err != nil {
				return err
			}
			abi := hostRuntimeABI(cmdctx, m)
			details := map[string]interface{}{
				"platform":    hostPlatform(),
				"runtime_abi": abi,
			}
			if st.ProfileOID != "" {
				details["profile_oid"] = st.ProfileOID
				details["env_path"] = st.EnvPath
			}
			outcome, err := dispatchToolCommand(cmd.Context(), cmdctx.Frozen, statemachine.CmdPython, func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
				return dispatch.ExecutionOutcome{Message: abi + " on " + hostPlatform(), Details: details}, nil
			})
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}
