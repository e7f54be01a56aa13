package cas

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/px-dev/px/internal/builder"
	"github.com/px-dev/px/internal/canon"
	"github.com/px-dev/px/internal/index"
)

// EnsureProfile resolves every locked package to a pkg_build_oid (in
// parallel, bounded by errgroup), builds the sorted ProfilePayload, digests
// it, and publishes it alongside one refs row per child oid so GC's mark
// phase can reach them all from a single profile_oid root.
func (e *Engine) EnsureProfile(ctx context.Context, runtimeABI, platform string, pkgs []LockedPackage, envVars map[string]string) (oid string, err error) {
	resolved := make([]ProfilePackage, len(pkgs))
	g, gctx := errgroup.WithContext(ctx)
	for i, pkg := range pkgs {
		i, pkg := i, pkg
		g.Go(func() error {
			sourceOID, err := e.EnsureSource(gctx, pkg)
			if err != nil {
				return err
			}
			pkgBuildOID, err := e.EnsurePkgBuild(gctx, sourceOID, runtimeABI, platform, nil)
			if err != nil {
				return err
			}
			resolved[i] = ProfilePackage{Name: pkg.Name, Version: pkg.Version, PkgBuildOID: pkgBuildOID}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", xerrors.Errorf("ensure_profile: %w", err)
	}

	runtimeOID, err := e.EnsureRuntime(ctx, runtimeRequestFor(runtimeABI, platform))
	if err != nil {
		return "", xerrors.Errorf("ensure_profile: %w", err)
	}

	sortedPkgs := append([]ProfilePackage(nil), resolved...)
	sort.Slice(sortedPkgs, func(i, j int) bool { return sortedPkgs[i].Name < sortedPkgs[j].Name })

	sysPathOrder := make([]string, len(sortedPkgs))
	for i, p := range sortedPkgs {
		sysPathOrder[i] = p.PkgBuildOID
	}

	payload := ProfilePayload{
		RuntimeOID:   runtimeOID,
		Packages:     sortedPkgs,
		SysPathOrder: canon.SortedStrings(sysPathOrder),
		EnvVars:      envVars,
	}
	oid, err = canon.DigestOf(canon.KindProfile, payload)
	if err != nil {
		return "", xerrors.Errorf("ensure_profile: %w", err)
	}

	if e.Store.Exists(oid) {
		return oid, nil
	}

	guard, err := e.Store.Lock(oid)
	if err != nil {
		return "", xerrors.Errorf("ensure_profile: %w", err)
	}
	defer guard.Release()

	if e.Store.Exists(oid) {
		return oid, nil
	}

	pending, err := e.Store.Stage(oid)
	if err != nil {
		return "", xerrors.Errorf("ensure_profile: %w", err)
	}
	enc, err := canon.Encode(canon.KindProfile, payload)
	if err != nil {
		pending.Cleanup()
		return "", xerrors.Errorf("ensure_profile: %w", err)
	}
	if _, err := pending.Write(enc); err != nil {
		pending.Cleanup()
		return "", xerrors.Errorf("ensure_profile: %w", err)
	}
	if _, err := e.Store.PublishAtomic(pending, oid); err != nil {
		return "", xerrors.Errorf("ensure_profile: %w", err)
	}

	now := time.Now()
	if err := e.Index.RecordObject(ctx, index.ObjectRow{OID: oid, Kind: string(canon.KindProfile), CreatedAt: now, LastAccessed: now}, index.Ref{OwnerType: "profile", OwnerID: oid, OID: oid}); err != nil {
		return "", xerrors.Errorf("ensure_profile: %w", err)
	}

	refs := make([]index.Ref, 0, len(sortedPkgs)+1)
	refs = append(refs, index.Ref{OwnerType: "profile", OwnerID: oid, OID: runtimeOID})
	for _, p := range sortedPkgs {
		refs = append(refs, index.Ref{OwnerType: "profile", OwnerID: oid, OID: p.PkgBuildOID})
	}
	if err := e.Index.AddRefs(ctx, refs); err != nil {
		return "", xerrors.Errorf("ensure_profile: %w", err)
	}

	return oid, nil
}

// runtimeRequestFor builds the interpreter request implied by a profile's
// (runtime_abi, platform) pair. px resolves the concrete interpreter
// version and config hash from the project's pinned Python requirement
// before calling EnsureProfile; here runtimeABI already encodes the
// resolved version (e.g. "cpython-3.11-manylinux_2_28_x86_64").
func runtimeRequestFor(runtimeABI, platform string) builder.RuntimeRequest {
	return builder.RuntimeRequest{
		Version:  runtimeABI,
		ABI:      runtimeABI,
		Platform: platform,
	}
}
