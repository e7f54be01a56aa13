package main

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/px-dev/px/internal/builder"
	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/pxerr"
	"github.com/px-dev/px/internal/statemachine"
)

// newBuildCmd packages the project itself into a wheel under dist/. Unlike
// add/remove/sync, build never calls EnsurePkgBuild's CAS digest/publish
// path: that pipeline is for locked third-party dependencies keyed by
// source_oid, whereas the project's own sources have no source_oid (they
// aren't fetched from an index). build invokes the same Builder
// collaborator directly against the project directory instead.
func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "build the project into a wheel under dist/",
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

			outcome, err := runProjectCommand(cmd.Context(), cmdctx, dir, statemachine.CmdBuild, buildTransition(a, dir))
			return finish(cmdctx, outcome, err)
		},
	}
	return cmd
}

func buildTransition(a *app, dir string) dispatch.Transition {
	return func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
		_, m, l, _, err := projectInputs(a.cmdctx, dir)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		if l == nil {
			return dispatch.ExecutionOutcome{}, pxerr.MissingLock()
		}
		runtimeABI := hostRuntimeABI(a.cmdctx, m)
		platform := hostPlatform()

		if !status.EnvClean {
			if _, _, err := materializeFromLock(ctx, a, dir, l, runtimeABI, platform); err != nil {
				return dispatch.ExecutionOutcome{}, err
			}
		}

		engine, err := a.engineFor(ctx)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}

		scratch, err := os.MkdirTemp(a.store.TmpDir(), "build-")
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		defer os.RemoveAll(scratch)

		req := builder.BuildRequest{
			BuilderID:  builder.BuilderFor(pxVersion, runtimeABI, platform),
			SourcePath: dir,
			RuntimeABI: runtimeABI,
			Platform:   platform,
			ScratchDir: scratch,
		}
		if _, err := engine.Builder.Build(ctx, req); err != nil {
			return dispatch.ExecutionOutcome{}, xerrors.Errorf("build: %w", err)
		}

		// DefaultPythonSteps writes wheels into scratch/wheelhouse, not
		// into the treeRoot it returns (that directory stays empty for a
		// project build, since nothing here normalizes it into a
		// pkg-build tree the way EnsurePkgBuild does for dependencies).
		wheelhouse := filepath.Join(scratch, "wheelhouse")
		distDir := filepath.Join(dir, "dist")
		wheels, err := copyWheels(wheelhouse, distDir)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}

		msg := "built 0 wheels"
		if len(wheels) > 0 {
			msg = "built " + joinComma(wheels)
		}
		return dispatch.ExecutionOutcome{Message: msg, Details: map[string]interface{}{"dist": distDir, "wheels": wheels}}, nil
	}
}

func copyWheels(srcDir, destDir string) ([]string, error) {
	entries, err := os.ReadDir(srcDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(srcDir, e.Name()), filepath.Join(destDir, e.Name())); err != nil {
			return nil, err
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
