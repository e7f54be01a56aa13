package builder

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"
)

// SubprocessBuilder runs a PEP 517 build backend in a scratch directory by
// shelling out, mirroring how distri's internal/build runs each
// build.textproto step via exec.CommandContext with output tee'd into a
// build log. px generalizes distri's per-ecosystem build step lists
// (buildpython.go's literal `setup.py install` argv) into a single
// `BuildSteps` hook so non-Python "sdist has no wheel" fallbacks and
// Python-native PEP 517 hooks share one executor.
type SubprocessBuilder struct {
	// BuildSteps returns the argv sequence to run for req, in order. The
	// default (nil) uses DefaultPythonSteps.
	BuildSteps func(req BuildRequest) [][]string
}

// DefaultPythonSteps is a single step: `python3 -m pip wheel --no-deps
// --no-build-isolation` on the source archive, writing the wheel into
// <scratch>/wheelhouse. pip drives the sdist's PEP 517 backend rather than
// distutils' `setup.py install`, since modern sdists may have no setup.py
// at all.
func DefaultPythonSteps(req BuildRequest) [][]string {
	return [][]string{
		{"python3", "-m", "pip", "wheel", "--no-deps", "--no-build-isolation",
			"--wheel-dir", filepath.Join(req.ScratchDir, "wheelhouse"), req.SourcePath},
	}
}

func (b *SubprocessBuilder) Build(ctx context.Context, req BuildRequest) (string, error) {
	if err := os.MkdirAll(req.ScratchDir, 0o755); err != nil {
		return "", xerrors.Errorf("build(%s): %w", req.SourceOID, err)
	}

	steps := b.BuildSteps
	if steps == nil {
		steps = DefaultPythonSteps
	}

	var buildLog bytes.Buffer
	for i, step := range steps(req) {
		if len(step) == 0 {
			continue
		}
		start := time.Now()
		cmd := exec.CommandContext(ctx, step[0], step[1:]...)
		cmd.Dir = req.ScratchDir
		cmd.Env = append(os.Environ(),
			"DISTRI_BUILD_PROCESS=", // unset; px does not set distri's flag
			"PX_BUILD_PROCESS=1",
		)
		cmd.Stdout = io.MultiWriter(os.Stdout, &buildLog)
		cmd.Stderr = io.MultiWriter(os.Stderr, &buildLog)
		if err := cmd.Run(); err != nil {
			return "", xerrors.Errorf("build(%s): step %d of %d (%v) failed after %v: %w",
				req.SourceOID, i+1, len(steps(req)), cmd.Args, time.Since(start), err)
		}
	}

	treeRoot := filepath.Join(req.ScratchDir, "image")
	if err := os.MkdirAll(treeRoot, 0o755); err != nil {
		return "", err
	}
	return treeRoot, nil
}
