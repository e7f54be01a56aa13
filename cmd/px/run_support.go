package main

import (
	"context"
	"path/filepath"

	"github.com/px-dev/px/internal/builder"
	"github.com/px-dev/px/internal/cas"
	"github.com/px-dev/px/internal/envmat"
	"github.com/px-dev/px/internal/lock"
	"github.com/px-dev/px/internal/projectstate"
)

// materializeFromLock rebuilds E (profile, runtime, and the materialized
// env) straight from an already-written px.lock, without touching the
// resolver or rewriting M/L: the body run/test use when EnvClean is false
// but ManifestClean is true, matching the transition table's "writes E
// only, iff stale" rule for those two commands.
func materializeFromLock(ctx context.Context, a *app, dir string, l *lock.Lock, runtimeABI, platform string) (profileOID, envPath string, err error) {
	engine, err := a.engineFor(ctx)
	if err != nil {
		return "", "", err
	}

	pkgs := make([]cas.LockedPackage, len(l.Dependencies))
	for i, d := range l.Dependencies {
		pkgs[i] = cas.LockedPackage{
			Name: d.Name, Version: versionOf(d), Filename: d.Artifact.Filename,
			IndexURL: d.Artifact.URL, SHA256: d.Artifact.SHA256,
		}
	}

	profileOID, err = engine.EnsureProfile(ctx, runtimeABI, platform, pkgs, nil)
	if err != nil {
		return "", "", err
	}
	runtimeOID, err := engine.EnsureRuntime(ctx, builder.RuntimeRequest{Version: runtimeABI, ABI: runtimeABI, Platform: platform})
	if err != nil {
		return "", "", err
	}

	runtimeTree := a.store.RuntimeDir(runtimeOID)
	envPath, err = envmat.Materialize(ctx, a.store, a.roots.Envs, filepath.Join(runtimeTree, "bin", "python3"), profileOID)
	if err != nil {
		return "", "", err
	}

	owner := ownerIDFor(dir, l.Metadata.LID, runtimeABI)
	if err := a.idx.AddRef(ctx, refFor(owner, profileOID)); err != nil {
		return "", "", err
	}
	if err := a.idx.AddRef(ctx, refFor("profile:"+profileOID, runtimeOID)); err != nil {
		return "", "", err
	}

	if err := projectstate.Write(dir, projectstate.State{
		LockID: l.Metadata.LID, Runtime: runtimeABI, Platform: platform,
		ProfileOID: profileOID, EnvPath: envPath,
	}); err != nil {
		return "", "", err
	}
	return profileOID, envPath, nil
}

// versionOf pulls the pinned version back out of a lock dependency's
// specifier, since lock.Dependency itself only stores the original
// specifier string (e.g. "requests==2.31.0") rather than a parsed version.
func versionOf(d lock.Dependency) string {
	const marker = "=="
	for i := 0; i+len(marker) <= len(d.Specifier); i++ {
		if d.Specifier[i:i+len(marker)] == marker {
			return d.Specifier[i+len(marker):]
		}
	}
	return d.Specifier
}
