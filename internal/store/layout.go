// Package store implements the on-disk CAS directory scheme and per-object
// advisory locks. It knows nothing about object kinds or
// digesting (that is internal/canon) or index bookkeeping (internal/index);
// it only knows paths, locks, and atomic publish.
package store

import (
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

// Store is a handle on one CAS root directory.
type Store struct {
	Root string
}

func Open(root string) *Store {
	return &Store{Root: root}
}

// EnsureLayout creates objects/, tmp/, locks/, runtimes/, pkg-builds/ with
// mode 0755. Idempotent.
func (s *Store) EnsureLayout() error {
	dirs := []string{
		s.ObjectsDir(),
		s.TmpDir(),
		s.LocksDir(),
		s.RuntimesDir(),
		s.PkgBuildsDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return xerrors.Errorf("ensure_layout: %w", err)
		}
	}
	return nil
}

func (s *Store) ObjectsDir() string    { return filepath.Join(s.Root, "objects") }
func (s *Store) TmpDir() string        { return filepath.Join(s.Root, "tmp") }
func (s *Store) LocksDir() string      { return filepath.Join(s.Root, "locks") }
func (s *Store) RuntimesDir() string   { return filepath.Join(s.Root, "runtimes") }
func (s *Store) PkgBuildsDir() string  { return filepath.Join(s.Root, "pkg-builds") }
func (s *Store) IndexPath() string     { return filepath.Join(s.Root, "index.sqlite") }

// ObjectPath returns objects/<first2hex>/<oid>.
func (s *Store) ObjectPath(oid string) string {
	prefix := oid
	if len(oid) >= 2 {
		prefix = oid[:2]
	}
	return filepath.Join(s.ObjectsDir(), prefix, oid)
}

// RuntimeDir returns runtimes/<oid>/, the materialized filesystem tree for
// an interpreter object.
func (s *Store) RuntimeDir(oid string) string {
	return filepath.Join(s.RuntimesDir(), oid)
}

// PkgBuildDir returns pkg-builds/<oid>/, the materialized filesystem tree
// for a built-package object.
func (s *Store) PkgBuildDir(oid string) string {
	return filepath.Join(s.PkgBuildsDir(), oid)
}

// TmpPath returns a fresh tmp/<oid>.partial path for staging a publish.
func (s *Store) TmpPath(oid string) string {
	return filepath.Join(s.TmpDir(), oid+".partial")
}

// Exists reports whether a finished object is present at oid's final path.
func (s *Store) Exists(oid string) bool {
	_, err := os.Stat(s.ObjectPath(oid))
	return err == nil
}
