package cas

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/px-dev/px/internal/builder"
	"github.com/px-dev/px/internal/canon"
)

// EnsurePkgBuild builds (or reuses) the normalized package tree for
// (source_oid, runtime_abi, builder_id, options_hash).
// Guarantee: for fixed inputs, repeated calls from any machine return the
// same pkg_build_oid; a losing race discards its scratch build.
func (e *Engine) EnsurePkgBuild(ctx context.Context, sourceOID, runtimeABI, platform string, buildOptions map[string]string) (oid string, err error) {
	if err := e.objectMissingIfAbsent(sourceOID); err != nil {
		return "", err
	}

	builderID := builder.BuilderFor(e.PxVersion, runtimeABI, platform)
	optionsHash, err := canon.DigestOf(canon.KindMeta, buildOptions)
	if err != nil {
		return "", xerrors.Errorf("ensure_pkg_build(%s): %w", sourceOID, err)
	}

	key := PkgBuildKey{
		SourceOID:   sourceOID,
		RuntimeABI:  runtimeABI,
		BuilderID:   builderID,
		OptionsHash: optionsHash,
	}

	scratch, err := os.MkdirTemp(e.Store.TmpDir(), "pkgbuild-")
	if err != nil {
		return "", xerrors.Errorf("ensure_pkg_build(%s): %w", sourceOID, err)
	}
	defer os.RemoveAll(scratch)

	req := builder.BuildRequest{
		BuilderID:    builderID,
		SourceOID:    sourceOID,
		SourcePath:   e.Store.ObjectPath(sourceOID),
		RuntimeABI:   runtimeABI,
		Platform:     platform,
		BuildOptions: buildOptions,
		ScratchDir:   scratch,
	}

	treeRoot, err := e.Builder.Build(ctx, req)
	if err != nil {
		return "", xerrors.Errorf("ensure_pkg_build(%s): build: %w", sourceOID, err)
	}

	tree, err := canon.NormalizeTree(treeRoot)
	if err != nil {
		return "", xerrors.Errorf("ensure_pkg_build(%s): normalize: %w", sourceOID, err)
	}

	payload := PkgBuildPayload{BuildKey: key, TreeNormalized: tree}
	oid, err = canon.DigestOf(canon.KindPkgBuild, payload)
	if err != nil {
		return "", xerrors.Errorf("ensure_pkg_build(%s): %w", sourceOID, err)
	}

	if e.Store.Exists(oid) {
		return oid, nil // another process already published the identical build
	}

	guard, err := e.Store.Lock(oid)
	if err != nil {
		return "", xerrors.Errorf("ensure_pkg_build(%s): %w", sourceOID, err)
	}
	defer guard.Release()

	if e.Store.Exists(oid) {
		return oid, nil
	}

	if err := e.publishTree(oid, e.Store.PkgBuildDir(oid), treeRoot); err != nil {
		return "", xerrors.Errorf("ensure_pkg_build(%s): %w", sourceOID, err)
	}

	if err := e.recordObject(ctx, oid, string(canon.KindPkgBuild), "pkg-build"); err != nil {
		return "", err
	}
	return oid, nil
}

// publishTree renames treeRoot into dest (the materialized pkg-build /
// runtime directory) and records a tiny canonical marker blob at oid's
// object path so Store.Exists(oid) is consistent for tree-shaped objects,
// mirroring how renameio.CloseAtomicallyReplace publishes single-file
// objects elsewhere in this package.
func (e *Engine) publishTree(oid, dest, treeRoot string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(dest); err == nil {
		os.RemoveAll(treeRoot)
		return nil
	}
	if err := os.Rename(treeRoot, dest); err != nil {
		return err
	}
	if err := hardenTree(dest); err != nil {
		return err
	}

	pending, err := e.Store.Stage(oid)
	if err != nil {
		return err
	}
	marker := map[string]interface{}{"kind": "pkg-build", "materialized_at": dest}
	enc, err := canon.Encode(canon.KindMeta, marker)
	if err != nil {
		pending.Cleanup()
		return err
	}
	if _, err := pending.Write(enc); err != nil {
		pending.Cleanup()
		return err
	}
	_, err = e.Store.PublishAtomic(pending, oid)
	return err
}

// hardenTree strips write bits from every regular file in a freshly
// published materialization tree, mirroring distri's post-publish permission hardening.
func hardenTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&os.ModeSymlink != 0 || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return os.Chmod(path, info.Mode()&^0o222)
	})
}
