package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeEnv(kv map[string]string) func(string) string {
	return func(k string) string { return kv[k] }
}

func TestFromEnvironmentDefaultsToOffline(t *testing.T) {
	c := FromEnvironment(fakeEnv(nil))
	require.True(t, c.Offline)
	require.Equal(t, 4, c.MaxDownloads)
}

func TestFromEnvironmentPxOnlineTruthyMeansOnline(t *testing.T) {
	c := FromEnvironment(fakeEnv(map[string]string{"PX_ONLINE": "1"}))
	require.False(t, c.Offline)
}

func TestFromEnvironmentCIImpliesFrozen(t *testing.T) {
	c := FromEnvironment(fakeEnv(map[string]string{"CI": "true"}))
	require.True(t, c.Frozen)
}

func TestFromEnvironmentParsesGroups(t *testing.T) {
	c := FromEnvironment(fakeEnv(map[string]string{"PX_GROUPS": "dev, test,"}))
	require.Equal(t, []string{"dev", "test"}, c.ExtraGroups)
}

func TestClampDownloadsRange(t *testing.T) {
	require.Equal(t, 1, clampDownloads("0"))
	require.Equal(t, 16, clampDownloads("100"))
	require.Equal(t, 8, clampDownloads("8"))
	require.Equal(t, 4, clampDownloads("not-a-number"))
}

func TestResolveRootsUsesCachePathOverride(t *testing.T) {
	r, err := ResolveRoots(fakeEnv(map[string]string{"PX_CACHE_PATH": "/tmp/px-cache"}))
	require.NoError(t, err)
	require.Equal(t, "/tmp/px-cache", r.Cache)
	require.Equal(t, filepath.Join("/tmp/px-cache", "store"), r.Store)
	require.Equal(t, filepath.Join("/tmp/px-cache", "envs"), r.Envs)
}

func TestResolveRootsRespectsExplicitOverrides(t *testing.T) {
	r, err := ResolveRoots(fakeEnv(map[string]string{
		"PX_CACHE_PATH": "/tmp/px-cache",
		"PX_STORE_PATH": "/custom/store",
	}))
	require.NoError(t, err)
	require.Equal(t, "/custom/store", r.Store)
	require.Equal(t, filepath.Join("/tmp/px-cache", "envs"), r.Envs)
}
