package builder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalRuntimeProviderCopiesRegisteredExecutable(t *testing.T) {
	fakeBin := filepath.Join(t.TempDir(), "fake-python3")
	require.NoError(t, os.WriteFile(fakeBin, []byte("#!/bin/sh\necho ok\n"), 0o755))

	p := &LocalRuntimeProvider{Registry: map[string]string{"cpython-3.11": fakeBin}}
	scratch := t.TempDir()
	tree, err := p.Provide(context.Background(), RuntimeRequest{ABI: "cpython-3.11", ScratchDir: scratch})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(tree, "bin", "python3"))
	require.DirExists(t, filepath.Join(tree, "lib"))
}

func TestLocalRuntimeProviderFailsForUnknownSpecWithoutPathFallback(t *testing.T) {
	p := &LocalRuntimeProvider{Registry: map[string]string{}}
	_, err := p.Provide(context.Background(), RuntimeRequest{ABI: "cpython-99.99-does-not-exist", ScratchDir: t.TempDir()})
	if err == nil {
		t.Skip("a python3 happens to be on PATH in this environment")
	}
	require.Error(t, err)
}

func TestRegistryFromSpecParsesCommaSeparatedEntries(t *testing.T) {
	reg := RegistryFromSpec("cpython-3.11=/usr/bin/python3.11, cpython-3.12=/usr/bin/python3.12")
	require.Equal(t, "/usr/bin/python3.11", reg["cpython-3.11"])
	require.Equal(t, "/usr/bin/python3.12", reg["cpython-3.12"])
}

func TestRegistryFromSpecIgnoresMalformedEntries(t *testing.T) {
	reg := RegistryFromSpec("bogus-entry,cpython-3.11=/usr/bin/python3.11")
	require.Len(t, reg, 1)
}
