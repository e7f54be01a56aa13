package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEmptyMatchesInitExpectations(t *testing.T) {
	m := NewEmpty("myproject")
	require.Equal(t, "myproject", m.Project.Name)
	require.Equal(t, "0.1.0", m.Project.Version)
	require.Empty(t, m.Project.Dependencies)
}

func TestWriteThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pyproject.toml")

	m := NewEmpty("demo")
	m.AddDependency("requests==2.32.3")
	require.NoError(t, m.Write(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "demo", loaded.Project.Name)
	require.Equal(t, []string{"requests==2.32.3"}, loaded.Project.Dependencies)
}

func TestFingerprintStableAcrossDependencyOrder(t *testing.T) {
	a := NewEmpty("demo")
	a.Project.Dependencies = []string{"requests==2.32.3", "click==8.1.7"}
	b := NewEmpty("demo")
	b.Project.Dependencies = []string{"click==8.1.7", "requests==2.32.3"}

	fa, err := a.Fingerprint()
	require.NoError(t, err)
	fb, err := b.Fingerprint()
	require.NoError(t, err)
	require.Equal(t, fa, fb)
}

func TestFingerprintChangesWithDependencies(t *testing.T) {
	a := NewEmpty("demo")
	f1, err := a.Fingerprint()
	require.NoError(t, err)

	a.AddDependency("requests==2.32.3")
	f2, err := a.Fingerprint()
	require.NoError(t, err)

	require.NotEqual(t, f1, f2)
}

func TestAddDependencyIsIdempotent(t *testing.T) {
	m := NewEmpty("demo")
	m.AddDependency("requests==2.32.3")
	m.AddDependency("requests==2.32.3")
	require.Len(t, m.Project.Dependencies, 1)
}

func TestRemoveDependencyMatchesByPackageName(t *testing.T) {
	m := NewEmpty("demo")
	m.AddDependency("requests==2.32.3")
	m.AddDependency("click==8.1.7")
	m.RemoveDependency("requests")
	require.Equal(t, []string{"click==8.1.7"}, m.Project.Dependencies)
}

func TestLoadPreservesUnrelatedTables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pyproject.toml")
	content := `
[project]
name = "demo"
version = "0.1.0"
dependencies = []

[tool.pytest.ini_options]
testpaths = ["tests"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, m.Write(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "pytest")
}
