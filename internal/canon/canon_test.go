package canon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDeterministic(t *testing.T) {
	payload := map[string]interface{}{
		"b": 2,
		"a": 1,
		"nested": map[string]interface{}{
			"z": "last",
			"y": "first",
		},
	}
	got1, err := Encode(KindProfile, payload)
	require.NoError(t, err)
	got2, err := Encode(KindProfile, payload)
	require.NoError(t, err)
	require.Equal(t, got1, got2, "encoding the same payload twice must be byte-identical")
	require.Equal(t, Digest(got1), Digest(got2))
}

func TestEncodeRejectsUnknownKind(t *testing.T) {
	_, err := Encode(Kind("bogus"), map[string]interface{}{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "encoding_error")
}

func TestDigestOfStable(t *testing.T) {
	d1, err := DigestOf(KindSource, map[string]interface{}{"name": "requests", "version": "2.32.3"})
	require.NoError(t, err)
	d2, err := DigestOf(KindSource, map[string]interface{}{"version": "2.32.3", "name": "requests"})
	require.NoError(t, err)
	require.Equal(t, d1, d2, "key order in the Go literal must not affect the digest")
}

func TestDigestOfKindSeparatesAliasing(t *testing.T) {
	payload := map[string]interface{}{"x": 1}
	d1, err := DigestOf(KindSource, payload)
	require.NoError(t, err)
	d2, err := DigestOf(KindRuntime, payload)
	require.NoError(t, err)
	require.NotEqual(t, d1, d2, "identical payloads under different kinds must never alias")
}

func TestNormalizeTreeSortsAndStripsMetadata(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "tool"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("hi"), 0o644))
	require.NoError(t, os.Symlink("bin/tool", filepath.Join(root, "tool-link")))

	entries, err := NormalizeTree(root)
	require.NoError(t, err)

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.RelPath)
	}
	require.Equal(t, []string{"README", "bin", "bin/tool", "tool-link"}, paths)

	for _, e := range entries {
		switch e.RelPath {
		case "bin/tool":
			require.True(t, e.Executable)
			require.NotEmpty(t, e.ContentDigest)
		case "README":
			require.False(t, e.Executable)
		case "tool-link":
			require.Equal(t, "bin/tool", e.Symlink)
		case "bin":
			require.True(t, e.Dir)
		}
	}
}
