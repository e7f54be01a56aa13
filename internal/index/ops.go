package index

import (
	"context"
	"database/sql"
	"time"

	"golang.org/x/xerrors"
)

// ObjectRow mirrors the objects table.
type ObjectRow struct {
	OID          string
	Kind         string
	Size         int64
	CreatedAt    time.Time
	LastAccessed time.Time
}

// Ref mirrors one row of the refs table.
type Ref struct {
	OwnerType string
	OwnerID   string
	OID       string
}

// withImmediate runs fn inside a BEGIN IMMEDIATE/COMMIT pair issued as raw
// statements against idx.db. The index's single connection (MaxOpenConns=1,
// set in Open) makes this safe: the underlying sqlite connection carries its
// transaction state across the pool even though each Exec/Query call
// formally checks the connection out and back in. On any error the
// transaction is rolled back before the error is returned.
func (idx *Index) withImmediate(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, err := idx.db.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			idx.db.ExecContext(ctx, `ROLLBACK`)
			return
		}
		_, err = idx.db.ExecContext(ctx, `COMMIT`)
	}()
	return fn(ctx)
}

// RecordObject runs a BEGIN IMMEDIATE transaction that does both halves:
// upsert the objects row, insert-or-ignore the ref row, all inside one
// immediate transaction so concurrent writers serialize rather than
// interleave.
func (idx *Index) RecordObject(ctx context.Context, obj ObjectRow, ref Ref) error {
	return idx.withImmediate(ctx, func(ctx context.Context) error {
		if _, err := idx.db.ExecContext(ctx, `
			INSERT INTO objects(oid, kind, size, created_at, last_accessed)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(oid) DO UPDATE SET last_accessed = excluded.last_accessed
		`, obj.OID, obj.Kind, obj.Size, obj.CreatedAt.UTC().Format(time.RFC3339Nano), obj.LastAccessed.UTC().Format(time.RFC3339Nano)); err != nil {
			return xerrors.Errorf("record_object: upsert objects: %w", err)
		}

		if _, err := idx.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO refs(owner_type, owner_id, oid) VALUES (?, ?, ?)
		`, ref.OwnerType, ref.OwnerID, ref.OID); err != nil {
			return xerrors.Errorf("record_object: insert ref: %w", err)
		}
		return nil
	})
}

// AddRef inserts one refs row inside its own immediate transaction, used by
// ensure_profile to record child oid references without also
// touching the objects table.
func (idx *Index) AddRef(ctx context.Context, ref Ref) error {
	return idx.withImmediate(ctx, func(ctx context.Context) error {
		_, err := idx.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO refs(owner_type, owner_id, oid) VALUES (?, ?, ?)
		`, ref.OwnerType, ref.OwnerID, ref.OID)
		if err != nil {
			return xerrors.Errorf("add_ref: %w", err)
		}
		return nil
	})
}

// AddRefs inserts many refs rows in one transaction.
func (idx *Index) AddRefs(ctx context.Context, refs []Ref) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Errorf("add_refs: begin: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO refs(owner_type, owner_id, oid) VALUES (?, ?, ?)`)
	if err != nil {
		return xerrors.Errorf("add_refs: prepare: %w", err)
	}
	defer stmt.Close()
	for _, r := range refs {
		if _, err := stmt.ExecContext(ctx, r.OwnerType, r.OwnerID, r.OID); err != nil {
			return xerrors.Errorf("add_refs: %w", err)
		}
	}
	return tx.Commit()
}

// DropOwnerRefs deletes every refs row for one owner (e.g. when an env is
// torn down and its package references should no longer keep them alive).
func (idx *Index) DropOwnerRefs(ctx context.Context, ownerType, ownerID string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM refs WHERE owner_type = ? AND owner_id = ?`, ownerType, ownerID)
	if err != nil {
		return xerrors.Errorf("drop_owner_refs: %w", err)
	}
	return nil
}

// LiveOIDs returns the union of the oid column across refs: the mark phase
// of garbage collection.
func (idx *Index) LiveOIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT DISTINCT oid FROM refs`)
	if err != nil {
		return nil, xerrors.Errorf("live_oids: %w", err)
	}
	defer rows.Close()
	live := make(map[string]bool)
	for rows.Next() {
		var oid string
		if err := rows.Scan(&oid); err != nil {
			return nil, err
		}
		live[oid] = true
	}
	return live, rows.Err()
}

// Objects returns every row of the objects table. Read operations run in
// the default isolation and never hold a write lock.
func (idx *Index) Objects(ctx context.Context) ([]ObjectRow, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT oid, kind, size, created_at, last_accessed FROM objects`)
	if err != nil {
		return nil, xerrors.Errorf("objects: %w", err)
	}
	defer rows.Close()
	var out []ObjectRow
	for rows.Next() {
		var o ObjectRow
		var created, accessed string
		if err := rows.Scan(&o.OID, &o.Kind, &o.Size, &created, &accessed); err != nil {
			return nil, err
		}
		o.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		o.LastAccessed, _ = time.Parse(time.RFC3339Nano, accessed)
		out = append(out, o)
	}
	return out, rows.Err()
}

// TouchLastAccessed updates last_accessed for oid. Read-only commands are
// permitted to perform exactly this index write.
func (idx *Index) TouchLastAccessed(ctx context.Context, oid string, when time.Time) error {
	_, err := idx.db.ExecContext(ctx, `UPDATE objects SET last_accessed = ? WHERE oid = ?`, when.UTC().Format(time.RFC3339Nano), oid)
	if err != nil {
		return xerrors.Errorf("touch_last_accessed: %w", err)
	}
	return nil
}

// DeleteObject removes oid's objects row. Callers (internal/gc) are
// responsible for having already unlinked the blob and having verified oid
// is not live.
func (idx *Index) DeleteObject(ctx context.Context, oid string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM objects WHERE oid = ?`, oid)
	if err != nil {
		return xerrors.Errorf("delete_object: %w", err)
	}
	return nil
}

// Reset drops and recreates the objects and refs tables, used by Rebuild.
func (idx *Index) Reset(ctx context.Context) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		`DELETE FROM objects`,
		`DELETE FROM refs`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}
