// Package gc implements mark-and-sweep garbage collection over the CAS
// index's refs table, plus a doctor pass that repairs common on-disk
// corruption. Grounded on distri's own store philosophy (published
// packages are addressed by content and never mutated in place) taken one
// step further: px additionally needs to reclaim unreferenced objects,
// which distri's package store never had to do.
package gc

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/xerrors"

	"github.com/px-dev/px/internal/canon"
	"github.com/px-dev/px/internal/index"
	"github.com/px-dev/px/internal/store"
)

// Report summarizes one GC run.
type Report struct {
	Scanned int
	Removed int
	Kept    int
	Bytes   int64 // bytes reclaimed by Removed
}

// Options configures one Collect call.
type Options struct {
	GracePeriod time.Duration
	// SizeBudget, when non-zero, limits the sweep: unreferenced objects past
	// GracePeriod are evicted oldest (by last_accessed) first, and only
	// while the store's total size (live plus remaining candidates) is above
	// SizeBudget; the remaining candidates are kept.
	SizeBudget int64
}

// Collect runs one mark-and-sweep pass: live = union of refs.oid; for
// every objects row older than GracePeriod and not live, unlink the blob
// and delete its row. Each row is deleted by its own index statement; the
// sweep as a whole does not run in one index transaction. Refuses to run against
// an unhealthy index, since a corrupt refs table would make "live" wrong
// in a way that could delete referenced objects.
func Collect(ctx context.Context, s *store.Store, idx *index.Index, opt Options, logger *log.Logger) (Report, error) {
	if err := idx.HealthCheck(ctx); err != nil {
		return Report{}, xerrors.Errorf("gc: refusing to run against an unhealthy index: %w", err)
	}

	live, err := idx.LiveOIDs(ctx)
	if err != nil {
		return Report{}, xerrors.Errorf("gc: %w", err)
	}

	objects, err := idx.Objects(ctx)
	if err != nil {
		return Report{}, xerrors.Errorf("gc: %w", err)
	}

	cutoff := time.Now().Add(-opt.GracePeriod)
	var candidates []index.ObjectRow
	var liveBytes int64
	for _, o := range objects {
		if live[o.OID] {
			liveBytes += o.Size
			continue
		}
		if o.CreatedAt.After(cutoff) {
			continue // too young to collect, even if unreferenced
		}
		candidates = append(candidates, o)
	}

	if opt.SizeBudget > 0 {
		// Oldest-accessed first, so size-bounded mode evicts LRU before
		// younger-but-still-unreferenced objects.
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].LastAccessed.Before(candidates[j].LastAccessed)
		})
	}

	var candidateBytes int64
	for _, o := range candidates {
		candidateBytes += o.Size
	}

	report := Report{Scanned: len(objects)}
	runningTotal := liveBytes + candidateBytes
	for _, o := range candidates {
		if opt.SizeBudget > 0 && runningTotal <= opt.SizeBudget {
			// Already within budget; every remaining candidate, however
			// old, is kept rather than evicted.
			report.Kept++
			continue
		}
		if err := removeObject(ctx, s, idx, o); err != nil {
			if logger != nil {
				logger.Printf("gc: failed to remove %s: %v", o.OID, err)
			}
			report.Kept++
			continue
		}
		report.Removed++
		report.Bytes += o.Size
		runningTotal -= o.Size
	}
	report.Kept += len(objects) - len(candidates)
	return report, nil
}

func removeObject(ctx context.Context, s *store.Store, idx *index.Index, o index.ObjectRow) error {
	path := s.ObjectPath(o.OID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("gc: unlink %s: %w", path, err)
	}
	if treeDir := treeDirFor(s, o); treeDir != "" {
		if err := os.RemoveAll(treeDir); err != nil {
			return xerrors.Errorf("gc: remove tree %s: %w", treeDir, err)
		}
	}
	if err := idx.DeleteObject(ctx, o.OID); err != nil {
		return xerrors.Errorf("gc: %w", err)
	}
	return nil
}

func treeDirFor(s *store.Store, o index.ObjectRow) string {
	switch o.Kind {
	case string(canon.KindPkgBuild):
		return s.PkgBuildDir(o.OID)
	case string(canon.KindRuntime):
		return s.RuntimeDir(o.OID)
	default:
		return ""
	}
}

// DoctorReport summarizes one doctor() pass.
type DoctorReport struct {
	StrayPartialsRemoved int
	Sampled              int
	DigestMismatches     int
	PermissionsRepaired  int
	IndexRebuilt         bool
}

// Doctor sweeps stray tmp/*.partial files left by a cancelled publish,
// samples a fraction of objects to verify their digest still matches their
// path, re-hardens permissions on each sampled object whose digest matches
// and that is writable, and rebuilds the index if its health check fails.
func Doctor(ctx context.Context, s *store.Store, idx *index.Index, rebuild func(ctx context.Context) error, sampleFraction float64, logger *log.Logger) (DoctorReport, error) {
	var report DoctorReport

	removed, err := sweepStrayPartials(s)
	if err != nil {
		return report, xerrors.Errorf("doctor: %w", err)
	}
	report.StrayPartialsRemoved = removed

	if err := idx.HealthCheck(ctx); err != nil {
		if logger != nil {
			logger.Printf("doctor: index unhealthy, rebuilding: %v", err)
		}
		if rebuild != nil {
			if err := rebuild(ctx); err != nil {
				return report, xerrors.Errorf("doctor: rebuild: %w", err)
			}
		}
		report.IndexRebuilt = true
	}

	objects, err := idx.Objects(ctx)
	if err != nil {
		return report, xerrors.Errorf("doctor: %w", err)
	}
	sample := sampleObjects(objects, sampleFraction)
	for _, o := range sample {
		report.Sampled++
		path := s.ObjectPath(o.OID)
		digest, err := canon.DigestFile(path)
		if err != nil || digest != o.OID {
			report.DigestMismatches++
			if logger != nil {
				logger.Printf("doctor: digest mismatch for %s", o.OID)
			}
			continue
		}
		repaired, err := hardenIfWritable(path)
		if err != nil {
			return report, xerrors.Errorf("doctor: %w", err)
		}
		if repaired {
			report.PermissionsRepaired++
		}
	}
	return report, nil
}

func sweepStrayPartials(s *store.Store) (int, error) {
	entries, err := os.ReadDir(s.TmpDir())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".partial" {
			continue
		}
		if err := os.Remove(filepath.Join(s.TmpDir(), e.Name())); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// sampleObjects deterministically samples roughly fraction of objects (at
// least one): the lowest oids in sorted order, so repeated doctor runs over
// the same set hash the same objects.
func sampleObjects(objects []index.ObjectRow, fraction float64) []index.ObjectRow {
	if fraction <= 0 {
		return nil
	}
	if fraction >= 1 {
		return objects
	}
	sorted := append([]index.ObjectRow(nil), objects...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OID < sorted[j].OID })
	n := int(float64(len(sorted)) * fraction)
	if n == 0 && len(sorted) > 0 {
		n = 1
	}
	return sorted[:n]
}

func hardenIfWritable(path string) (repaired bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if info.Mode()&0o222 == 0 {
		return false, nil
	}
	if err := os.Chmod(path, info.Mode()&^0o222); err != nil {
		return false, err
	}
	return true, nil
}
