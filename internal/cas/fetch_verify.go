package cas

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/px-dev/px/internal/pxerr"
)

// fetchVerified downloads pkg's artifact into pending, failing with
// source_hash_mismatch if the bytes don't match the index-declared sha256.
// header supplies both the download URL and that declared sha256; the bytes
// are hashed here as they are written, whatever the Fetcher checks itself.
func (e *Engine) fetchVerified(ctx context.Context, pkg LockedPackage, pending *renameio.PendingFile, oid string, header SourceHeader) error {
	url := header.IndexURL + "/" + header.Filename
	h := sha256.New()
	if err := e.Fetcher.Get(ctx, url, header.SHA256Declared, io.MultiWriter(pending, h)); err != nil {
		return xerrors.Errorf("ensure_source(%s): %w", pkg.Name, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != header.SHA256Declared {
		return xerrors.Errorf("ensure_source(%s): source_hash_mismatch: %s: got sha256 %s, want %s", pkg.Name, url, got, header.SHA256Declared)
	}
	return nil
}

// objectMissingIfAbsent is a small helper used by ensure_pkg_build: verify
// a prerequisite oid exists before doing expensive work on top of it.
func (e *Engine) objectMissingIfAbsent(oid string) error {
	if !e.Store.Exists(oid) {
		return pxerr.ObjectMissing(oid)
	}
	return nil
}
