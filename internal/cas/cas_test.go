package cas

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/px-dev/px/internal/builder"
	"github.com/px-dev/px/internal/canon"
	"github.com/px-dev/px/internal/index"
	"github.com/px-dev/px/internal/store"
)

type fakeFetcher struct {
	calls   int
	content map[string][]byte // url -> bytes
}

func (f *fakeFetcher) Get(ctx context.Context, url string, expectedSHA256 string, dest io.Writer) error {
	f.calls++
	b, ok := f.content[url]
	if !ok {
		b = []byte("content for " + url)
	}
	_, err := dest.Write(b)
	return err
}

type fakeBuilder struct {
	calls int
}

func (b *fakeBuilder) Build(ctx context.Context, req builder.BuildRequest) (string, error) {
	b.calls++
	dir := filepath.Join(req.ScratchDir, "out")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "module.py"), []byte("# built from "+req.SourceOID), 0o644); err != nil {
		return "", err
	}
	return dir, nil
}

type fakeRuntimeProvider struct {
	calls int
}

func (r *fakeRuntimeProvider) Provide(ctx context.Context, req builder.RuntimeRequest) (string, error) {
	r.calls++
	dir := filepath.Join(req.ScratchDir, "out")
	if err := os.MkdirAll(filepath.Join(dir, "bin"), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "bin", "python3"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeFetcher, *fakeBuilder, *fakeRuntimeProvider) {
	t.Helper()
	root := t.TempDir()
	s := store.Open(root)
	require.NoError(t, s.EnsureLayout())

	idx, err := index.Open(s.IndexPath())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	f := &fakeFetcher{}
	b := &fakeBuilder{}
	rp := &fakeRuntimeProvider{}

	return &Engine{
		Store:     s,
		Index:     idx,
		Fetcher:   f,
		Builder:   b,
		Runtime:   rp,
		Log:       log.New(io.Discard, "", 0),
		PxVersion: "0.1.0-test",
	}, f, b, rp
}

func testPackage(name string) LockedPackage {
	return LockedPackage{
		Name:     name,
		Version:  "1.0.0",
		Filename: name + "-1.0.0-py3-none-any.whl",
		IndexURL: "https://pypi.example/" + name,
		SHA256:   "", // filled in below once the fake fetcher's bytes are known
	}
}

func TestEnsureSourceIsIdempotent(t *testing.T) {
	e, fetch, _, _ := newTestEngine(t)
	pkg := testPackage("requests")
	pkg.SHA256 = sha256OfFakeContent(pkg)

	oid1, err := e.EnsureSource(context.Background(), pkg)
	require.NoError(t, err)
	require.True(t, e.Store.Exists(oid1))
	require.Equal(t, 1, fetch.calls)

	oid2, err := e.EnsureSource(context.Background(), pkg)
	require.NoError(t, err)
	require.Equal(t, oid1, oid2)
	require.Equal(t, 1, fetch.calls, "second call must not refetch once published")
}

func TestEnsureSourceRejectsHashMismatch(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	pkg := testPackage("numpy")
	pkg.SHA256 = "0000000000000000000000000000000000000000000000000000000000000000" // wrong value

	_, err := e.EnsureSource(context.Background(), pkg)
	require.Error(t, err)
}

func TestEnsurePkgBuildReusesIdenticalBuild(t *testing.T) {
	e, _, build, _ := newTestEngine(t)
	pkg := testPackage("flask")
	pkg.SHA256 = sha256OfFakeContent(pkg)

	sourceOID, err := e.EnsureSource(context.Background(), pkg)
	require.NoError(t, err)

	oid1, err := e.EnsurePkgBuild(context.Background(), sourceOID, "cpython-3.11-manylinux_2_28_x86_64", "linux/amd64", nil)
	require.NoError(t, err)
	require.Equal(t, 1, build.calls)
	require.DirExists(t, e.Store.PkgBuildDir(oid1))

	oid2, err := e.EnsurePkgBuild(context.Background(), sourceOID, "cpython-3.11-manylinux_2_28_x86_64", "linux/amd64", nil)
	require.NoError(t, err)
	require.Equal(t, oid1, oid2)
	require.Equal(t, 2, build.calls, "the builder runs on every call; the identical tree is published once and reused")
}

func TestEnsurePkgBuildFailsOnMissingSource(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	_, err := e.EnsurePkgBuild(context.Background(), "deadbeef", "cpython-3.11", "linux/amd64", nil)
	require.Error(t, err)
}

func TestEnsureRuntimeMaterializesOnce(t *testing.T) {
	e, _, _, rp := newTestEngine(t)
	req := runtimeRequestFor("cpython-3.11-manylinux_2_28_x86_64", "linux/amd64")

	oid1, err := e.EnsureRuntime(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, rp.calls)
	require.FileExists(t, filepath.Join(e.Store.RuntimeDir(oid1), "bin", "python3"))

	oid2, err := e.EnsureRuntime(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, oid1, oid2)
	require.Equal(t, 2, rp.calls, "the provider runs on every call; the identical tree is published once and reused")
}

func TestEnsureProfileRecordsRefsForEveryChild(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	pkgA := testPackage("click")
	pkgA.SHA256 = sha256OfFakeContent(pkgA)
	pkgB := testPackage("jinja2")
	pkgB.SHA256 = sha256OfFakeContent(pkgB)

	oid, err := e.EnsureProfile(context.Background(), "cpython-3.11-manylinux_2_28_x86_64", "linux/amd64",
		[]LockedPackage{pkgA, pkgB}, map[string]string{"PYTHONDONTWRITEBYTECODE": "1"})
	require.NoError(t, err)
	require.True(t, e.Store.Exists(oid))

	live, err := e.Index.LiveOIDs(context.Background())
	require.NoError(t, err)
	require.True(t, live[oid], "profile itself must be referenced by its own refs row")
	require.GreaterOrEqual(t, len(live), 3, "runtime + 2 packages + profile should all be live")
}

// sha256OfFakeContent computes what the fake fetcher will actually write for
// pkg ("content for <index_url>/<filename>"), so tests can supply a
// SHA256 that HTTPFetcher-equivalent verification accepts.
func sha256OfFakeContent(pkg LockedPackage) string {
	url := pkg.IndexURL + "/" + pkg.Filename
	return canon.Digest([]byte("content for " + url))
}
