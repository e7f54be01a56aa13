package cas

import (
	"context"
	"time"

	"golang.org/x/xerrors"

	"github.com/px-dev/px/internal/canon"
	"github.com/px-dev/px/internal/index"
)

// EnsureSource downloads, verifies, digests, and publishes one source
// artifact (a wheel or sdist), returning its oid.
// Concurrent callers racing on the same oid are reconciled by the per-OID
// store lock: the loser discards its temp file and observes the winner's
// published blob.
func (e *Engine) EnsureSource(ctx context.Context, pkg LockedPackage) (oid string, err error) {
	header := SourceHeader{
		Name:           pkg.Name,
		Version:        pkg.Version,
		Filename:       pkg.Filename,
		IndexURL:       pkg.IndexURL,
		SHA256Declared: pkg.SHA256,
	}
	payload := map[string]interface{}{"header": header}
	oid, err = canon.DigestOf(canon.KindSource, payload)
	if err != nil {
		return "", xerrors.Errorf("ensure_source(%s): %w", pkg.Name, err)
	}

	if e.Store.Exists(oid) {
		return oid, nil
	}

	guard, err := e.Store.Lock(oid)
	if err != nil {
		return "", xerrors.Errorf("ensure_source(%s): %w", pkg.Name, err)
	}
	defer guard.Release()

	// Re-check under the lock: another process may have published while we
	// waited to acquire it.
	if e.Store.Exists(oid) {
		return oid, nil
	}

	pending, err := e.Store.Stage(oid)
	if err != nil {
		return "", xerrors.Errorf("ensure_source(%s): %w", pkg.Name, err)
	}

	if err := e.fetchVerified(ctx, pkg, pending, oid, header); err != nil {
		pending.Cleanup()
		return "", err
	}

	published, err := e.Store.PublishAtomic(pending, oid)
	if err != nil {
		return "", xerrors.Errorf("ensure_source(%s): %w", pkg.Name, err)
	}
	_ = published // false only if a concurrent writer won under this same lock, which cannot happen while we hold it

	if err := e.recordObject(ctx, oid, string(canon.KindSource), "source"); err != nil {
		return "", err
	}
	return oid, nil
}

func (e *Engine) recordObject(ctx context.Context, oid, kind, ownerType string) error {
	now := time.Now()
	return e.Index.RecordObject(ctx, index.ObjectRow{
		OID: oid, Kind: kind, CreatedAt: now, LastAccessed: now,
	}, index.Ref{OwnerType: ownerType, OwnerID: oid, OID: oid})
}
