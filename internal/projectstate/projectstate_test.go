package projectstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingStateReturnsZeroValue(t *testing.T) {
	st, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, State{}, st)
}

func TestWriteThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	want := State{LockID: "abc123", Runtime: "cpython-3.11", Platform: "linux-x86_64", ProfileOID: "def456", EnvPath: "/cache/envs/def456"}
	require.NoError(t, Write(dir, want))

	got, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestWriteOverwritesPreviousState(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, State{LockID: "first"}))
	require.NoError(t, Write(dir, State{LockID: "second"}))

	got, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "second", got.LockID)
}

func TestRemoveIsIdempotentWhenAbsent(t *testing.T) {
	require.NoError(t, Remove(t.TempDir()))
}
