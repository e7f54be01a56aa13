package store

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// LockGuard holds an OS-level exclusive advisory lock on one oid's lock
// file. The acquiring process is the sole allowed writer of that oid's
// tmp/<oid>.partial and the sole allowed publisher of its final path.
// Release is safe to call multiple times; a crash of the holding process is
// reclaimed by the OS.
type LockGuard struct {
	f *os.File
}

// Lock acquires an exclusive lock on locks/<oid>.lock, blocking until any
// existing holder releases it. This mirrors distri's reliance on
// golang.org/x/sys/unix for low-level file operations rather than a
// higher-level flock library.
func (s *Store) Lock(oid string) (*LockGuard, error) {
	if err := os.MkdirAll(s.LocksDir(), 0o755); err != nil {
		return nil, xerrors.Errorf("lock(%s): %w", oid, err)
	}
	path := filepath.Join(s.LocksDir(), oid+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, xerrors.Errorf("lock(%s): %w", oid, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, xerrors.Errorf("lock(%s): flock: %w", oid, err)
	}
	return &LockGuard{f: f}, nil
}

// TryLock is the non-blocking variant of Lock, returning ok=false instead
// of blocking when another process already holds the lock.
func (s *Store) TryLock(oid string) (guard *LockGuard, ok bool, err error) {
	if err := os.MkdirAll(s.LocksDir(), 0o755); err != nil {
		return nil, false, xerrors.Errorf("lock(%s): %w", oid, err)
	}
	path := filepath.Join(s.LocksDir(), oid+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, xerrors.Errorf("lock(%s): %w", oid, err)
	}
	if ferr := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); ferr != nil {
		f.Close()
		if ferr == unix.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, xerrors.Errorf("lock(%s): flock: %w", oid, ferr)
	}
	return &LockGuard{f: f}, true, nil
}

// Release drops the lock. Any exit path (success, failure, or process
// crash via OS reclamation) releases the advisory lock.
func (g *LockGuard) Release() error {
	if g == nil || g.f == nil {
		return nil
	}
	if err := unix.Flock(int(g.f.Fd()), unix.LOCK_UN); err != nil {
		g.f.Close()
		return err
	}
	return g.f.Close()
}
