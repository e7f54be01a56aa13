package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/cas"
	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/execute"
	"github.com/px-dev/px/internal/manifest"
	"github.com/px-dev/px/internal/projectstate"
	"github.com/px-dev/px/internal/pxerr"
	"github.com/px-dev/px/internal/statemachine"
)

// newToolCmd groups the subcommands that manage tools/<name>/: isolated,
// single-package envs installed outside any project, the way `pipx`
// installs a console script without polluting a project's own env.
func newToolCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tool",
		Short: "install and run console scripts in isolated per-tool envs",
	}
	root.AddCommand(newToolInstallCmd(), newToolRunCmd(), newToolListCmd(), newToolRemoveCmd(), newToolUpgradeCmd())
	return root
}

// toolDir returns the isolated project-shaped directory a tool's manifest,
// lock, and state live under: roots.Tools/<name>/, structurally identical
// to a one-dependency project directory.
func toolDir(a *app, name string) string {
	return filepath.Join(a.roots.Tools, name)
}

// toolNameOf strips any version specifier the way
// manifest.(*Manifest).RemoveDependency's unexported packageNameOf does,
// duplicated here since that helper isn't exported across package
// boundaries for a single one-line use.
func toolNameOf(spec string) string {
	for i, r := range spec {
		switch r {
		case '=', '<', '>', '!', '~', '[', ' ':
			return spec[:i]
		}
	}
	return spec
}

// dispatchToolCommand runs fn through the same Dispatch choke point every
// project command uses, but against a synthetic zero-value ProjectStatus:
// tool/python commands are allowed unconditionally by
// statemachine.AllowedFrom, since a tool's own directory doesn't carry the
// project M/L/E states a project directory does.
func dispatchToolCommand(ctx context.Context, frozen bool, command string, fn dispatch.Transition) (dispatch.ExecutionOutcome, error) {
	reg := dispatch.Registry{command: fn}
	return dispatch.Dispatch(ctx, reg, dispatch.Request{Command: command}, statemachine.ProjectStatus{}, frozen)
}

func newToolInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <specifier>",
		Short: "install a package's console scripts into their own isolated env",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdctx := buildCommandContext()
			a, err := newApp(cmdctx, "")
			if err != nil {
				return err
			}
			defer a.close()

			spec := args[0]
			name := toolNameOf(spec)
			dir := toolDir(a, name)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}

			m := manifest.NewEmpty(name)
			m.AddDependency(spec)

			outcome, err := dispatchToolCommand(cmd.Context(), cmdctx.Frozen, statemachine.CmdTool, func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
				res, err := relockAndMaterialize(ctx, a, dir, m)
				if err != nil {
					return dispatch.ExecutionOutcome{}, err
				}
				return dispatch.ExecutionOutcome{
					Message: "installed " + name,
					Details: map[string]interface{}{
						"name":        name,
						"profile_oid": res.ProfileOID,
						"env_path":    res.EnvPath,
					},
				}, nil
			})
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}

func newToolRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "run <name> [args...]",
		Short:              "run a previously installed tool's console script",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdctx := buildCommandContext()
			a, err := newApp(cmdctx, "")
			if err != nil {
				return err
			}
			defer a.close()

			name := args[0]
			dir := toolDir(a, name)
			outcome, err := dispatchToolCommand(cmd.Context(), cmdctx.Frozen, statemachine.CmdTool, toolRunTransition(a, dir, name, args[1:]))
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}

func toolRunTransition(a *app, dir, name string, args []string) dispatch.Transition {
	return func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
		st, err := projectstate.Load(dir)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		if st.ProfileOID == "" {
			return dispatch.ExecutionOutcome{}, pxerr.ToolNotInstalled(name)
		}

		if _, err := a.engineFor(ctx); err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		profile, err := cas.ReadProfile(a.store, st.ProfileOID)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		runtimeTree := a.store.RuntimeDir(profile.RuntimeOID)
		target := execute.Target{ConsoleScript: name, Args: args}

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
		return dispatch.ExecutionOutcome{Details: map[string]interface{}{"exit_code": 0}}, nil
	}
}

func newToolListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list installed tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdctx := buildCommandContext()
			a, err := newApp(cmdctx, "")
			if err != nil {
				return err
			}
			defer a.close()

			outcome, err := dispatchToolCommand(cmd.Context(), cmdctx.Frozen, statemachine.CmdTool, func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
				names, err := listInstalledTools(a.roots.Tools)
				if err != nil {
					return dispatch.ExecutionOutcome{}, err
				}
				msg := "no tools installed"
				if len(names) > 0 {
					msg = "installed: " + joinComma(names)
				}
				return dispatch.ExecutionOutcome{Message: msg, Details: map[string]interface{}{"tools": names}}, nil
			})
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}

func listInstalledTools(toolsRoot string) ([]string, error) {
	entries, err := os.ReadDir(toolsRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(projectstate.Path(filepath.Join(toolsRoot, e.Name()))); err == nil {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

func newToolRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "uninstall a tool, dropping its index refs before removing its directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdctx := buildCommandContext()
			a, err := newApp(cmdctx, "")
			if err != nil {
				return err
			}
			defer a.close()

			name := args[0]
			dir := toolDir(a, name)

			outcome, err := dispatchToolCommand(cmd.Context(), cmdctx.Frozen, statemachine.CmdTool, func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
				if _, _, err := a.openStore(ctx); err != nil {
					return dispatch.ExecutionOutcome{}, err
				}
				st, err := projectstate.Load(dir)
				if err != nil {
					return dispatch.ExecutionOutcome{}, err
				}
				if st.ProfileOID == "" {
					return dispatch.ExecutionOutcome{}, pxerr.ToolNotInstalled(name)
				}

				// Drop this tool's refs before removing its directory, so
				// the profile/runtime/pkg-build/source objects it pinned
				// stop being "live" and become eligible for the next gc.
				owner := ownerIDFor(dir, st.LockID, st.Runtime)
				ownerType, ownerID := splitOwner(owner)
				if err := a.idx.DropOwnerRefs(ctx, ownerType, ownerID); err != nil {
					return dispatch.ExecutionOutcome{}, err
				}
				if err := a.idx.DropOwnerRefs(ctx, "profile", st.ProfileOID); err != nil {
					return dispatch.ExecutionOutcome{}, err
				}

				if err := os.RemoveAll(dir); err != nil {
					return dispatch.ExecutionOutcome{}, err
				}
				if st.EnvPath != "" {
					if err := os.RemoveAll(st.EnvPath); err != nil {
						return dispatch.ExecutionOutcome{}, err
					}
				}

				return dispatch.ExecutionOutcome{Message: "removed " + name}, nil
			})
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}

// splitOwner mirrors refFor's split of a flattened "type:id" owner key.
func splitOwner(owner string) (ownerType, ownerID string) {
	r := refFor(owner, "")
	return r.OwnerType, r.OwnerID
}

func newToolUpgradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upgrade <name>",
		Short: "re-resolve and re-lock an installed tool against its current specifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdctx := buildCommandContext()
			a, err := newApp(cmdctx, "")
			if err != nil {
				return err
			}
			defer a.close()

			name := args[0]
			dir := toolDir(a, name)

			outcome, err := dispatchToolCommand(cmd.Context(), cmdctx.Frozen, statemachine.CmdTool, func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
				m, err := loadOrEmptyManifest(dir)
				if err != nil {
					return dispatch.ExecutionOutcome{}, err
				}
				if len(m.Project.Dependencies) == 0 {
					return dispatch.ExecutionOutcome{}, pxerr.ToolNotInstalled(name)
				}
				// Re-resolving the tool's own recorded specifier is the
				// same body install uses; with PinnedResolver's exact-pin
				// limitation (see internal/resolve), this converges to the
				// same lock unless the manifest's specifier itself changed.
				res, err := relockAndMaterialize(ctx, a, dir, m)
				if err != nil {
					return dispatch.ExecutionOutcome{}, err
				}
				return dispatch.ExecutionOutcome{
					Message: "upgraded " + name,
					Details: map[string]interface{}{"profile_oid": res.ProfileOID, "env_path": res.EnvPath},
				}, nil
			})
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}

