package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/px-dev/px/internal/builder"
	"github.com/px-dev/px/internal/cas"
	"github.com/px-dev/px/internal/config"
	"github.com/px-dev/px/internal/envmat"
	"github.com/px-dev/px/internal/lock"
	"github.com/px-dev/px/internal/manifest"
	"github.com/px-dev/px/internal/projectstate"
	"github.com/px-dev/px/internal/pxerr"
	"github.com/px-dev/px/internal/resolve"
)

// modeFor names the lock.Metadata.Mode a command should stamp: "ci" under
// --frozen (matching CI=1 in config.FromEnvironment), "dev" otherwise.
func modeFor(cmdctx config.CommandContext) string {
	if cmdctx.Frozen {
		return "ci"
	}
	return "dev"
}

// syncResult is what relockAndMaterialize hands back to the command that
// invoked it, for rendering in the CLI outcome.
type syncResult struct {
	Lock       *lock.Lock
	ProfileOID string
	RuntimeOID string
	EnvPath    string
}

// relockAndMaterialize re-resolves m's dependencies against its configured
// index, publishes a profile object for the resolved set, materializes its
// env, and atomically rewrites px.lock, pyproject.toml, and
// .px/state.json. It is the one body every mutating project command
// (init/add/remove/sync/update) funnels through after deciding what the
// manifest's Dependencies should be, mirroring how distri's internal/build
// always re-derives a package's tree from build.textproto rather than
// patching a prior tree in place.
func relockAndMaterialize(ctx context.Context, a *app, dir string, m *manifest.Manifest) (syncResult, error) {
	paths := pathsFor(dir)

	mfp, err := m.Fingerprint()
	if err != nil {
		return syncResult{}, err
	}

	engine, err := a.engineFor(ctx)
	if err != nil {
		return syncResult{}, err
	}
	runtimeABI := hostRuntimeABI(a.cmdctx, m)
	platform := hostPlatform()

	resolved, err := a.resolverFor().Resolve(ctx, resolve.Request{
		Dependencies:      m.Project.Dependencies,
		PythonRequirement: m.Project.RequiresPython,
		IndexURL:          defaultIndexURL(),
	})
	if err != nil {
		return syncResult{}, err
	}

	pkgs := make([]cas.LockedPackage, len(resolved.Packages))
	deps := make([]lock.Dependency, len(resolved.Packages))
	for i, p := range resolved.Packages {
		pkgs[i] = cas.LockedPackage{
			Name: p.Name, Version: p.Version, Filename: p.Filename, IndexURL: p.IndexURL, SHA256: p.SHA256,
		}
		deps[i] = lock.Dependency{
			Name:      p.Name,
			Specifier: p.Name + "==" + p.Version,
			Artifact:  lock.Artifact{Filename: p.Filename, URL: p.IndexURL, SHA256: p.SHA256},
		}
	}

	profileOID, err := engine.EnsureProfile(ctx, runtimeABI, platform, pkgs, nil)
	if err != nil {
		return syncResult{}, err
	}
	runtimeOID, err := engine.EnsureRuntime(ctx, builder.RuntimeRequest{Version: runtimeABI, ABI: runtimeABI, Platform: platform})
	if err != nil {
		return syncResult{}, err
	}

	l := lock.NewEmpty(m.Project.Name, m.Project.RequiresPython, mfp, pxVersion, time.Now())
	l.Metadata.Mode = modeFor(a.cmdctx)
	l.Dependencies = deps

	runtimeTree := a.store.RuntimeDir(runtimeOID)
	envPath, err := envmat.Materialize(ctx, a.store, a.roots.Envs, filepath.Join(runtimeTree, "bin", "python3"), profileOID)
	if err != nil {
		return syncResult{}, err
	}

	if err := l.Write(paths.LockPath); err != nil {
		return syncResult{}, pxerr.StoreWriteFailure(paths.LockPath, err)
	}
	if err := m.Write(paths.ManifestPath); err != nil {
		return syncResult{}, pxerr.StoreWriteFailure(paths.ManifestPath, err)
	}

	owner := ownerIDFor(dir, l.Metadata.LID, runtimeABI)
	if err := a.idx.AddRef(ctx, refFor(owner, profileOID)); err != nil {
		return syncResult{}, err
	}
	if err := a.idx.AddRef(ctx, refFor("profile:"+profileOID, runtimeOID)); err != nil {
		return syncResult{}, err
	}

	if err := projectstate.Write(dir, projectstate.State{
		LockID: l.Metadata.LID, Runtime: runtimeABI, Platform: platform,
		ProfileOID: profileOID, EnvPath: envPath,
	}); err != nil {
		return syncResult{}, err
	}

	return syncResult{Lock: l, ProfileOID: profileOID, RuntimeOID: runtimeOID, EnvPath: envPath}, nil
}
