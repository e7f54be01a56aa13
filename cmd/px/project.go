package main

import (
	"context"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"

	"github.com/px-dev/px/internal/config"
	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/index"
	"github.com/px-dev/px/internal/lock"
	"github.com/px-dev/px/internal/manifest"
	"github.com/px-dev/px/internal/projectstate"
	"github.com/px-dev/px/internal/statemachine"
)

// findProjectRootQuiet is config.FindProjectRoot under the name the rest
// of cmd/px calls it by.
func findProjectRootQuiet(startDir string) (string, error) {
	return config.FindProjectRoot(startDir)
}

// defaultProjectName derives a project name from its directory's basename,
// the same default newInitCmd applies when --name is omitted.
func defaultProjectName(dir string) string {
	return filepath.Base(dir)
}

// projectPaths bundles the project directory and the two on-disk files a
// project command reads and may rewrite: pyproject.toml and px.lock
// (.px/state.json is located by internal/projectstate.Path).
type projectPaths struct {
	Dir           string
	ManifestPath  string
	LockPath      string
}

func pathsFor(dir string) projectPaths {
	return projectPaths{
		Dir:          dir,
		ManifestPath: filepath.Join(dir, "pyproject.toml"),
		LockPath:     filepath.Join(dir, "px.lock"),
	}
}

// hostPlatform returns the platform tag px.lock and pkg-build keys use
// for the current host, e.g. "linux-amd64".
func hostPlatform() string {
	return goruntime.GOOS + "-" + goruntime.GOARCH
}

// hostRuntimeABI returns the runtime ABI spec to target: an explicit
// PX_RUNTIME_PYTHON override, else the manifest's [tool.px].python pin,
// else the fixed default "cpython-3.11". px itself does not embed a Python
// interpreter; the default only applies when neither source names one.
func hostRuntimeABI(cmdctx config.CommandContext, m *manifest.Manifest) string {
	if cmdctx.RuntimePython != "" {
		return cmdctx.RuntimePython
	}
	if m != nil && m.Tool.Px.Python != "" {
		return m.Tool.Px.Python
	}
	return "cpython-3.11"
}

// projectInputs loads the manifest, lock, and project state from dir and
// computes statemachine.Inputs, without performing any writes.
func projectInputs(cmdctx config.CommandContext, dir string) (statemachine.Inputs, *manifest.Manifest, *lock.Lock, projectstate.State, error) {
	paths := pathsFor(dir)

	var m *manifest.Manifest
	if _, err := os.Stat(paths.ManifestPath); err == nil {
		loaded, err := manifest.Load(paths.ManifestPath)
		if err != nil {
			return statemachine.Inputs{}, nil, nil, projectstate.State{}, err
		}
		m = loaded
	}

	var l *lock.Lock
	if _, err := os.Stat(paths.LockPath); err == nil {
		loaded, err := lock.Load(paths.LockPath)
		if err != nil {
			return statemachine.Inputs{}, nil, nil, projectstate.State{}, err
		}
		l = loaded
	}

	st, err := projectstate.Load(dir)
	if err != nil {
		return statemachine.Inputs{}, nil, nil, projectstate.State{}, err
	}

	mode := "dev"
	if cmdctx.Frozen {
		mode = "ci"
	}
	in := statemachine.Inputs{
		Manifest:       m,
		Lock:           l,
		EnvManifestLID: st.LockID,
		WantRuntimeABI: hostRuntimeABI(cmdctx, m),
		WantPlatform:   hostPlatform(),
		EnvRuntimeABI:  st.Runtime,
		EnvPlatform:    st.Platform,
		PxVersion:      pxVersion,
		Mode:           mode,
	}
	return in, m, l, st, nil
}

// runProjectCommand evaluates dir's current ProjectStatus, registers
// transition as the sole handler for command, and dispatches it. It is
// the common path every project-scoped verb (everything except
// tool/python) goes through.
func runProjectCommand(ctx context.Context, cmdctx config.CommandContext, dir, command string, transition dispatch.Transition) (dispatch.ExecutionOutcome, error) {
	in, _, _, _, err := projectInputs(cmdctx, dir)
	if err != nil {
		return dispatch.ExecutionOutcome{Status: dispatch.StatusFailure}, err
	}
	status, err := statemachine.Evaluate(in)
	if err != nil {
		return dispatch.ExecutionOutcome{Status: dispatch.StatusFailure}, err
	}
	reg := dispatch.Registry{command: transition}
	return dispatch.Dispatch(ctx, reg, dispatch.Request{Command: command}, status, cmdctx.Frozen)
}

// ownerIDFor builds the project-env owner id
// "project-env:<root_hash>:<l_id>:<runtime>" the index's refs table keys
// on, rooted at a short digest of dir so two projects with the same l_id
// (identical dependency sets) never alias each other's refs.
func ownerIDFor(dir, lid, runtimeABI string) string {
	return "project-env:" + rootHash(dir) + ":" + lid + ":" + runtimeABI
}

// refFor builds the index.Ref recording that owner (an ownerIDFor key)
// holds oid, splitting owner on its first ":" the same way the index's
// own rebuild path reconstructs OwnerType/OwnerID from a flattened key.
func refFor(owner, oid string) index.Ref {
	ownerType, ownerID := owner, ""
	if i := strings.IndexByte(owner, ':'); i >= 0 {
		ownerType, ownerID = owner[:i], owner[i+1:]
	}
	return index.Ref{OwnerType: ownerType, OwnerID: ownerID, OID: oid}
}

func rootHash(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	h := fnv32a(abs)
	return strings.ToLower(h)
}

// fnv32a is a short, dependency-free hash for rootHash: collision
// resistance across a user's own project directories, not a security
// property, so FNV is adequate and avoids pulling in crypto/sha256 for a
// non-content-addressed identifier.
func fnv32a(s string) string {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return hex8(h)
}

func hex8(v uint32) string {
	const digits = "0123456789abcdef"
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = digits[v&0xf]
		v >>= 4
	}
	return string(b)
}
