package lock

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewEmptyHasNoDependencies(t *testing.T) {
	l := NewEmpty("demo", ">=3.11", "deadbeef", "px/0.1.0", time.Unix(0, 0))
	require.Empty(t, l.Dependencies)
	require.Equal(t, "deadbeef", l.Metadata.MFingerprint)
	require.NotEmpty(t, l.Metadata.LID)
}

func TestWriteThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "px.lock")

	l := NewEmpty("demo", ">=3.11", "deadbeef", "px/0.1.0", time.Unix(0, 0))
	l.Dependencies = append(l.Dependencies, Dependency{
		Name:      "requests",
		Specifier: "==2.32.3",
		Artifact: Artifact{
			Filename: "requests-2.32.3-py3-none-any.whl",
			URL:      "https://pypi.example/requests",
			SHA256:   "abc123",
			Size:     1024,
		},
	})
	require.NoError(t, l.Write(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Dependencies, 1)
	require.Equal(t, "requests", loaded.Dependencies[0].Name)
	require.Equal(t, "==2.32.3", loaded.Dependencies[0].Specifier)
	require.NotEmpty(t, loaded.Metadata.LID)
}

func TestSnapshotNormalizesV1AndV2Equally(t *testing.T) {
	v1 := NewEmpty("demo", ">=3.11", "fp", "px/0.1.0", time.Unix(0, 0))
	v1.Dependencies = []Dependency{{Name: "click", Specifier: "==8.1.7"}}

	v2 := NewEmpty("demo", ">=3.11", "fp", "px/0.1.0", time.Unix(0, 0))
	v2.Version = V2
	v2.Graph.Nodes = []GraphNode{{Name: "click", Version: "8.1.7"}}

	require.Equal(t, map[string]string{"click": "==8.1.7"}, v1.Snapshot().Packages)
	require.Equal(t, map[string]string{"click": "==8.1.7"}, v2.Snapshot().Packages)
}

func TestLIDChangesWithDependencies(t *testing.T) {
	l := NewEmpty("demo", ">=3.11", "fp", "px/0.1.0", time.Unix(0, 0))
	id1 := l.Metadata.LID

	l.Dependencies = append(l.Dependencies, Dependency{Name: "click", Specifier: "==8.1.7"})
	id2, err := l.LID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
}
