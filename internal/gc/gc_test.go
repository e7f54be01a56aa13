package gc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/px-dev/px/internal/canon"
	"github.com/px-dev/px/internal/index"
	"github.com/px-dev/px/internal/store"
)

func newTestStore(t *testing.T) (*store.Store, *index.Index) {
	t.Helper()
	root := t.TempDir()
	s := store.Open(root)
	require.NoError(t, s.EnsureLayout())
	idx, err := index.Open(s.IndexPath())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return s, idx
}

// seedObject writes a blob at its object path, records an objects row with
// the given age, and optionally a ref that keeps it live.
func seedObject(t *testing.T, s *store.Store, idx *index.Index, oid string, age time.Duration, live bool) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(s.ObjectPath(oid)), 0o755))
	require.NoError(t, os.WriteFile(s.ObjectPath(oid), []byte("blob-"+oid), 0o644))
	created := time.Now().Add(-age)
	require.NoError(t, idx.RecordObject(context.Background(), index.ObjectRow{
		OID: oid, Kind: string(canon.KindSource), Size: int64(len("blob-" + oid)),
		CreatedAt: created, LastAccessed: created,
	}, index.Ref{OwnerType: "test", OwnerID: "owner-" + oid, OID: oid}))
	if !live {
		require.NoError(t, idx.DropOwnerRefs(context.Background(), "test", "owner-"+oid))
	}
}

func TestCollectRemovesUnreferencedObjectsPastGracePeriod(t *testing.T) {
	s, idx := newTestStore(t)
	seedObject(t, s, idx, "aaaa", 2*time.Hour, false)
	seedObject(t, s, idx, "bbbb", 2*time.Hour, true)

	report, err := Collect(context.Background(), s, idx, Options{GracePeriod: time.Hour}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Removed)
	require.Equal(t, 1, report.Kept)

	require.NoFileExists(t, s.ObjectPath("aaaa"))
	require.FileExists(t, s.ObjectPath("bbbb"))

	objects, err := idx.Objects(context.Background())
	require.NoError(t, err)
	require.Len(t, objects, 1)
	require.Equal(t, "bbbb", objects[0].OID)
}

func TestCollectRespectsGracePeriodForYoungUnreferencedObjects(t *testing.T) {
	s, idx := newTestStore(t)
	seedObject(t, s, idx, "cccc", time.Minute, false)

	report, err := Collect(context.Background(), s, idx, Options{GracePeriod: time.Hour}, nil)
	require.NoError(t, err)
	require.Equal(t, 0, report.Removed)
	require.Equal(t, 1, report.Kept)
	require.FileExists(t, s.ObjectPath("cccc"))
}

func TestCollectRefusesWhenIndexUnhealthy(t *testing.T) {
	s, idx := newTestStore(t)
	_, err := idx.DB().Exec(`DELETE FROM meta WHERE key = 'cas_format_version'`)
	require.NoError(t, err)

	_, err = Collect(context.Background(), s, idx, Options{GracePeriod: time.Hour}, nil)
	require.Error(t, err)
}

func TestCollectSizeBudgetEvictsOldestUnreferencedFirst(t *testing.T) {
	s, idx := newTestStore(t)
	seedObject(t, s, idx, "old1", 3*time.Hour, false)
	seedObject(t, s, idx, "old2", 2*time.Hour, false)
	seedObject(t, s, idx, "new1", time.Hour, false)

	report, err := Collect(context.Background(), s, idx, Options{
		GracePeriod: 0,
		SizeBudget:  int64(len("blob-new1")), // room for exactly one object
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, report.Removed)
	require.Equal(t, 1, report.Kept)

	require.NoFileExists(t, s.ObjectPath("old1"))
	require.NoFileExists(t, s.ObjectPath("old2"))
	require.FileExists(t, s.ObjectPath("new1"))
}

func TestDoctorSweepsStrayPartials(t *testing.T) {
	s, idx := newTestStore(t)
	stray := filepath.Join(s.TmpDir(), "upload-123.partial")
	require.NoError(t, os.WriteFile(stray, []byte("incomplete"), 0o644))
	kept := filepath.Join(s.TmpDir(), "upload-456.partial.keep-me-not")

	report, err := Doctor(context.Background(), s, idx, nil, 1.0, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.StrayPartialsRemoved)
	require.NoFileExists(t, stray)
	_ = kept // different extension, left alone by sweepStrayPartials's exact ".partial" match
}

func TestDoctorDetectsDigestMismatch(t *testing.T) {
	s, idx := newTestStore(t)
	oid := "deadbeef"
	require.NoError(t, os.MkdirAll(filepath.Dir(s.ObjectPath(oid)), 0o755))
	require.NoError(t, os.WriteFile(s.ObjectPath(oid), []byte("tampered content"), 0o644))
	require.NoError(t, idx.RecordObject(context.Background(), index.ObjectRow{
		OID: oid, Kind: string(canon.KindSource), Size: int64(len("tampered content")),
		CreatedAt: time.Now(), LastAccessed: time.Now(),
	}, index.Ref{OwnerType: "test", OwnerID: "owner", OID: oid}))

	report, err := Doctor(context.Background(), s, idx, nil, 1.0, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Sampled)
	require.Equal(t, 1, report.DigestMismatches)
}

func TestDoctorRebuildsUnhealthyIndex(t *testing.T) {
	s, idx := newTestStore(t)
	_, err := idx.DB().Exec(`DELETE FROM meta WHERE key = 'cas_format_version'`)
	require.NoError(t, err)

	rebuilt := false
	report, err := Doctor(context.Background(), s, idx, func(ctx context.Context) error {
		rebuilt = true
		return nil
	}, 0, nil)
	require.NoError(t, err)
	require.True(t, rebuilt)
	require.True(t, report.IndexRebuilt)
}

func TestSampleObjectsIsDeterministicAndBounded(t *testing.T) {
	objects := []index.ObjectRow{{OID: "c"}, {OID: "a"}, {OID: "b"}}
	sample := sampleObjects(objects, 0.5)
	require.Len(t, sample, 1)
	require.Equal(t, "a", sample[0].OID)

	require.Empty(t, sampleObjects(objects, 0))
	require.Len(t, sampleObjects(objects, 1), 3)
}
