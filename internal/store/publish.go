package store

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/px-dev/px/internal/pxerr"
)

// Stage opens a fresh temp file for writing object oid's bytes, the way
// distri's internal/build uses renameio.TempFile("", dest) to build up a
// finished artifact before an atomic rename. Callers write to the returned
// file; PublishAtomic then renames it into its final objects/ location.
func (s *Store) Stage(oid string) (*renameio.PendingFile, error) {
	if err := os.MkdirAll(s.TmpDir(), 0o755); err != nil {
		return nil, err
	}
	dest := s.ObjectPath(oid)
	return renameio.TempFile(s.TmpDir(), dest)
}

// PublishAtomic commits a staged temp file as oid's final object: create
// the destination's parent directory, fsync the temp file and rename it
// into place, fsync the parent directory, then strip write bits so the
// published blob is read-only. If the
// destination already exists (a concurrent writer won), the staged file is
// discarded and PublishAtomic returns (false, nil).
func (s *Store) PublishAtomic(pending *renameio.PendingFile, oid string) (published bool, err error) {
	dest := s.ObjectPath(oid)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		pending.Cleanup()
		return false, xerrors.Errorf("publish(%s): %w", oid, err)
	}
	if s.Exists(oid) {
		pending.Cleanup()
		return false, nil
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return false, pxerr.StoreWriteFailure(dest, err)
	}
	dir, err := os.Open(filepath.Dir(dest))
	if err != nil {
		return false, pxerr.StoreWriteFailure(dest, err)
	}
	err = dir.Sync()
	dir.Close()
	if err != nil {
		return false, pxerr.StoreWriteFailure(dest, err)
	}
	if err := os.Chmod(dest, 0o444); err != nil {
		return false, xerrors.Errorf("publish(%s): harden permissions: %w", oid, err)
	}
	return true, nil
}

// CopyInto copies src's bytes into a fresh temp file staged for oid. It is a
// convenience for callers (e.g. ensure_source) that already have bytes on
// disk rather than streaming writes.
func (s *Store) CopyInto(oid string, src io.Reader) (*renameio.PendingFile, error) {
	pending, err := s.Stage(oid)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(pending, src); err != nil {
		pending.Cleanup()
		return nil, err
	}
	return pending, nil
}
