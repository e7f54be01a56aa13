package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/px-dev/px/internal/lock"
	"github.com/px-dev/px/internal/manifest"
)

func TestEvaluateUninitialized(t *testing.T) {
	st, err := Evaluate(Inputs{})
	require.NoError(t, err)
	require.Equal(t, Uninitialized, st.State)
}

func TestEvaluateNeedsLockWhenLockMissing(t *testing.T) {
	m := manifest.NewEmpty("demo")
	st, err := Evaluate(Inputs{Manifest: m})
	require.NoError(t, err)
	require.Equal(t, NeedsLock, st.State)
}

func TestEvaluateConsistentWhenEverythingAgrees(t *testing.T) {
	m := manifest.NewEmpty("demo")
	fp, err := m.Fingerprint()
	require.NoError(t, err)

	l := lock.NewEmpty("demo", "", fp, "px/0.1.0", fixedTime())
	st, err := Evaluate(Inputs{
		Manifest:       m,
		Lock:           l,
		EnvManifestLID: l.Metadata.LID,
		WantRuntimeABI: "cpython-3.11",
		WantPlatform:   "linux/amd64",
		EnvRuntimeABI:  "cpython-3.11",
		EnvPlatform:    "linux/amd64",
		Mode:           "dev",
	})
	require.NoError(t, err)
	require.Equal(t, Consistent, st.State)
	require.True(t, st.ManifestClean)
	require.True(t, st.EnvClean)
}

func TestEvaluateDetectsManifestDrift(t *testing.T) {
	m := manifest.NewEmpty("demo")
	fp, err := m.Fingerprint()
	require.NoError(t, err)
	l := lock.NewEmpty("demo", "", fp, "px/0.1.0", fixedTime())

	m.AddDependency("requests==2.32.3") // manifest changes after lock was created

	st, err := Evaluate(Inputs{Manifest: m, Lock: l, Mode: "dev"})
	require.NoError(t, err)
	require.False(t, st.ManifestClean)
	require.Equal(t, NeedsLock, st.State)
	require.NotEmpty(t, st.DriftReasons)
}

func TestAllowedFromRespectsFrozenMode(t *testing.T) {
	require.True(t, AllowedFrom(CmdRun, Consistent, true))
	require.False(t, AllowedFrom(CmdRun, NeedsEnv, true))
	require.True(t, AllowedFrom(CmdRun, NeedsEnv, false))
}

func TestAllowedFromInitOnlyFromUninitialized(t *testing.T) {
	require.True(t, AllowedFrom(CmdInit, Uninitialized, false))
	require.False(t, AllowedFrom(CmdInit, Consistent, false))
}

func TestReadOnlyCommandsAllowedAnywhereWithManifest(t *testing.T) {
	require.True(t, AllowedFrom(CmdStatus, NeedsLock, false))
	require.False(t, AllowedFrom(CmdStatus, Uninitialized, false))
}

func fixedTime() time.Time { return time.Unix(0, 0) }
