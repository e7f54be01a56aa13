// Package index implements the transactional key-value index over
// (objects, refs, meta): a single-writer-friendly relational store backing
// the CAS. It is a cache, never authoritative — the store's own blobs and
// on-disk manifests are authoritative, and this package's Rebuild
// reconstructs the index from exactly those.
//
// Grounded on the pack's Aureuma-si/apps/ReleaseParty/backend/internal/store
// package: sql.Open("sqlite", path) via modernc.org/sqlite (pure Go, no
// cgo), a single max-open-conns=1 connection, WAL journaling, and a migrate
// step run at Open.
package index

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
	"golang.org/x/xerrors"

	"github.com/px-dev/px/internal/pxerr"
)

const (
	CASFormatVersion   = "1"
	SchemaVersion      = "1"
	CreatedByVersion   = "px/0.1.0"
)

// Index is a handle on one index.sqlite file.
type Index struct {
	db *sql.DB
}

// Open opens (creating if necessary) the index at path and establishes the
// required schema. If its stored format metadata disagrees with this
// binary, Open returns a format-mismatch error and the caller should call
// Rebuild; beyond that, Open does not judge "healthy" (HealthCheck does).
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, xerrors.Errorf("index open: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, xerrors.Errorf("index open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	idx := &Index{db: db}
	if err := idx.migrate(context.Background()); err != nil {
		db.Close()
		return nil, xerrors.Errorf("index open: migrate: %w", err)
	}
	return idx, nil
}

func (idx *Index) Close() error {
	if idx == nil || idx.db == nil {
		return nil
	}
	return idx.db.Close()
}

func (idx *Index) DB() *sql.DB { return idx.db }

func (idx *Index) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS objects (
			oid TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			size INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			last_accessed TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS refs (
			owner_type TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			oid TEXT NOT NULL,
			UNIQUE(owner_type, owner_id, oid)
		);`,
		`CREATE INDEX IF NOT EXISTS refs_oid ON refs(oid);`,
	}
	for _, stmt := range stmts {
		if _, err := idx.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	var cfv string
	err := idx.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'cas_format_version'`).Scan(&cfv)
	switch {
	case err == sql.ErrNoRows:
		return idx.seedMeta(ctx)
	case err != nil:
		return err
	case cfv != CASFormatVersion:
		return pxerr.FormatMismatch(cfv, CASFormatVersion)
	}
	return nil
}

func (idx *Index) seedMeta(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)
	rows := map[string]string{
		"cas_format_version": CASFormatVersion,
		"schema_version":     SchemaVersion,
		"created_by_version": CreatedByVersion,
		"last_used_version":  CreatedByVersion,
		"created_at":         now,
	}
	for k, v := range rows {
		if _, err := idx.db.ExecContext(ctx,
			`INSERT INTO meta(key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return err
		}
	}
	return nil
}

// HealthCheck runs sqlite's built-in integrity check plus a meta-row sanity
// check. A non-nil error means the caller (internal/cas, cmd/px's doctor
// verb) must rebuild the index before trusting it.
func (idx *Index) HealthCheck(ctx context.Context) error {
	var result string
	if err := idx.db.QueryRowContext(ctx, `PRAGMA integrity_check;`).Scan(&result); err != nil {
		return pxerr.IndexCorruption(err)
	}
	if result != "ok" {
		return pxerr.IndexCorruption(xerrors.Errorf("integrity_check returned %q", result))
	}
	var cfv string
	if err := idx.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'cas_format_version'`).Scan(&cfv); err != nil {
		return pxerr.IndexCorruption(err)
	}
	if cfv != CASFormatVersion {
		return pxerr.FormatMismatch(cfv, CASFormatVersion)
	}
	return nil
}
