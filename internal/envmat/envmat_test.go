package envmat

import (
	"context"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/px-dev/px/internal/builder"
	"github.com/px-dev/px/internal/canon"
	"github.com/px-dev/px/internal/cas"
	"github.com/px-dev/px/internal/index"
	"github.com/px-dev/px/internal/store"
)

type fakeFetcher struct{}

func (fakeFetcher) Get(ctx context.Context, url string, expectedSHA256 string, dest io.Writer) error {
	_, err := dest.Write([]byte("content for " + url))
	return err
}

// fakeBuilder writes a bin/<pkg-name> console script alongside a Python
// module, mirroring what a real build backend installs for a
// console_scripts entry point.
type fakeBuilder struct{}

func (fakeBuilder) Build(ctx context.Context, req builder.BuildRequest) (string, error) {
	dir := filepath.Join(req.ScratchDir, "out")
	if err := os.MkdirAll(filepath.Join(dir, "bin"), 0o755); err != nil {
		return "", err
	}
	name := filepath.Base(req.SourceOID)[:8]
	if err := os.WriteFile(filepath.Join(dir, "bin", "run-"+name), []byte("#!/bin/sh\necho ok\n"), 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

type fakeRuntimeProvider struct{}

func (fakeRuntimeProvider) Provide(ctx context.Context, req builder.RuntimeRequest) (string, error) {
	dir := filepath.Join(req.ScratchDir, "out")
	if err := os.MkdirAll(filepath.Join(dir, "bin"), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "bin", "python3"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func newTestEngine(t *testing.T) *cas.Engine {
	t.Helper()
	root := t.TempDir()
	s := store.Open(root)
	require.NoError(t, s.EnsureLayout())

	idx, err := index.Open(s.IndexPath())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	return &cas.Engine{
		Store:     s,
		Index:     idx,
		Fetcher:   fakeFetcher{},
		Builder:   fakeBuilder{},
		Runtime:   fakeRuntimeProvider{},
		Log:       log.New(io.Discard, "", 0),
		PxVersion: "0.1.0-test",
	}
}

func testPackage(name string) cas.LockedPackage {
	url := "https://pypi.example/" + name + "/" + name + "-1.0.0-py3-none-any.whl"
	return cas.LockedPackage{
		Name:     name,
		Version:  "1.0.0",
		Filename: name + "-1.0.0-py3-none-any.whl",
		IndexURL: "https://pypi.example/" + name,
		SHA256:   canon.Digest([]byte("content for " + url)),
	}
}

func TestMaterializeWritesManifestAndLaunchers(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	profileOID, err := e.EnsureProfile(ctx, "cpython-3.11-manylinux_2_28_x86_64", "linux/amd64",
		[]cas.LockedPackage{testPackage("click"), testPackage("jinja2")},
		map[string]string{"PYTHONDONTWRITEBYTECODE": "1"})
	require.NoError(t, err)

	envsRoot := filepath.Join(t.TempDir(), "envs")
	envPath, err := Materialize(ctx, e.Store, envsRoot, "/usr/bin/env-python3", profileOID)
	require.NoError(t, err)
	require.DirExists(t, envPath)

	require.FileExists(t, filepath.Join(envPath, "manifest.json"))
	require.FileExists(t, filepath.Join(envPath, "bin", "python"))

	entries, err := os.ReadDir(filepath.Join(envPath, "bin"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Contains(t, names, "python")
	require.GreaterOrEqual(t, len(names), 3, "expect python plus one launcher per package's console script")
}

func TestMaterializeIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	profileOID, err := e.EnsureProfile(ctx, "cpython-3.11-manylinux_2_28_x86_64", "linux/amd64",
		[]cas.LockedPackage{testPackage("requests")}, nil)
	require.NoError(t, err)

	envsRoot := filepath.Join(t.TempDir(), "envs")
	first, err := Materialize(ctx, e.Store, envsRoot, "/usr/bin/env-python3", profileOID)
	require.NoError(t, err)
	second, err := Materialize(ctx, e.Store, envsRoot, "/usr/bin/env-python3", profileOID)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.DirExists(t, second)
}

func TestMaterializeFailsWhenProfileMissing(t *testing.T) {
	e := newTestEngine(t)
	_, err := Materialize(context.Background(), e.Store, t.TempDir(), "/usr/bin/env-python3", "deadbeef")
	require.Error(t, err)
}

func TestLauncherScriptIsExecutableShell(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	profileOID, err := e.EnsureProfile(ctx, "cpython-3.11-manylinux_2_28_x86_64", "linux/amd64",
		[]cas.LockedPackage{testPackage("click")}, nil)
	require.NoError(t, err)

	envsRoot := filepath.Join(t.TempDir(), "envs")
	envPath, err := Materialize(ctx, e.Store, envsRoot, "/bin/echo", profileOID)
	require.NoError(t, err)

	launcher := filepath.Join(envPath, "bin", "python")
	info, err := os.Stat(launcher)
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&0o111, "launcher must be executable")

	out, err := exec.Command(launcher).CombinedOutput()
	require.NoError(t, err)
	require.NotEmpty(t, out)
}
