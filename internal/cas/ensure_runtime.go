package cas

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/px-dev/px/internal/builder"
	"github.com/px-dev/px/internal/canon"
)

// EnsureRuntime materializes (or reuses) an interpreter tree for
// (version, abi, platform, config_hash), returning its oid. This mirrors
// EnsurePkgBuild's digest-build-publish shape but delegates materialization
// to a RuntimeProvider instead of a Builder, since interpreters come from a
// distribution registry rather than a source build.
func (e *Engine) EnsureRuntime(ctx context.Context, req builder.RuntimeRequest) (oid string, err error) {
	payload := RuntimePayload{
		Version:    req.Version,
		ABI:        req.ABI,
		Platform:   req.Platform,
		ConfigHash: req.ConfigHash,
	}
	key, err := canon.DigestOf(canon.KindMeta, payload)
	if err != nil {
		return "", xerrors.Errorf("ensure_runtime(%s): %w", req.Version, err)
	}
	_ = key // the eventual oid folds in tree_normalized too; this is just a log-friendly handle

	scratch, err := os.MkdirTemp(e.Store.TmpDir(), "runtime-")
	if err != nil {
		return "", xerrors.Errorf("ensure_runtime(%s): %w", req.Version, err)
	}
	defer os.RemoveAll(scratch)
	req.ScratchDir = scratch

	treeRoot, err := e.Runtime.Provide(ctx, req)
	if err != nil {
		return "", xerrors.Errorf("ensure_runtime(%s): provide: %w", req.Version, err)
	}

	tree, err := canon.NormalizeTree(treeRoot)
	if err != nil {
		return "", xerrors.Errorf("ensure_runtime(%s): normalize: %w", req.Version, err)
	}
	payload.TreeNormalized = tree

	oid, err = canon.DigestOf(canon.KindRuntime, payload)
	if err != nil {
		return "", xerrors.Errorf("ensure_runtime(%s): %w", req.Version, err)
	}

	if e.Store.Exists(oid) {
		os.RemoveAll(treeRoot)
		return oid, nil
	}

	guard, err := e.Store.Lock(oid)
	if err != nil {
		return "", xerrors.Errorf("ensure_runtime(%s): %w", req.Version, err)
	}
	defer guard.Release()

	if e.Store.Exists(oid) {
		os.RemoveAll(treeRoot)
		return oid, nil
	}

	if err := e.publishTree(oid, e.Store.RuntimeDir(oid), treeRoot); err != nil {
		return "", xerrors.Errorf("ensure_runtime(%s): %w", req.Version, err)
	}
	if err := writeRuntimeManifest(e.Store.RuntimeDir(oid), oid); err != nil {
		return "", xerrors.Errorf("ensure_runtime(%s): %w", req.Version, err)
	}

	if err := e.recordObject(ctx, oid, string(canon.KindRuntime), "runtime"); err != nil {
		return "", err
	}
	return oid, nil
}

// writeRuntimeManifest drops a small manifest.json next to the runtime
// tree's materialized files so index rebuild can recover the runtime ref
// without re-deriving the oid from the tree contents. It runs after
// publishTree has already hardened the tree's files; hardenTree leaves
// directories writable, so the file can still be added to the published
// directory, and it is then made read-only like everything else in the tree.
func writeRuntimeManifest(runtimeDir, oid string) error {
	b, err := json.Marshal(struct {
		RuntimeOID string `json:"runtime_oid"`
	}{RuntimeOID: oid})
	if err != nil {
		return err
	}
	path := filepath.Join(runtimeDir, "manifest.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return err
	}
	return os.Chmod(path, 0o444)
}
