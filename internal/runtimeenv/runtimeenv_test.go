package runtimeenv

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildStripsProxyVarsByDefault(t *testing.T) {
	env, err := Build(Options{
		ProfileOID:   "abc123",
		PycCacheRoot: t.TempDir(),
		InheritedEnviron: []string{
			"HOME=/root",
			"HTTP_PROXY=http://proxy.example:8080",
			"NO_PROXY=localhost",
		},
	})
	require.NoError(t, err)
	require.Contains(t, env, "HOME=/root")
	for _, kv := range env {
		require.NotContains(t, kv, "PROXY")
	}
}

func TestBuildKeepsProxyVarsWhenAllowed(t *testing.T) {
	env, err := Build(Options{
		ProfileOID:       "abc123",
		PycCacheRoot:     t.TempDir(),
		AllowProxyVars:   true,
		InheritedEnviron: []string{"HTTP_PROXY=http://proxy.example:8080"},
	})
	require.NoError(t, err)
	require.Contains(t, env, "HTTP_PROXY=http://proxy.example:8080")
}

func TestBuildSetsProfilePrivatePycCache(t *testing.T) {
	root := t.TempDir()
	env, err := Build(Options{ProfileOID: "deadbeef", PycCacheRoot: root})
	require.NoError(t, err)
	require.Contains(t, env, "PYTHONPYCACHEPREFIX="+filepath.Join(root, "deadbeef"))
	require.DirExists(t, filepath.Join(root, "deadbeef"))
}

func TestPreflightContinuesPastFailures(t *testing.T) {
	res := Preflight([]string{"good", "bad", "also_good"}, func(module string) error {
		if module == "bad" {
			return errors.New("no module named bad")
		}
		return nil
	})
	require.False(t, res.OK)
	require.Equal(t, []string{"bad"}, res.Failed)
	require.Equal(t, "0", PreflightEnvVar(res))
}

func TestPreflightAllOK(t *testing.T) {
	res := Preflight([]string{"a", "b"}, func(string) error { return nil })
	require.True(t, res.OK)
	require.Equal(t, "1", PreflightEnvVar(res))
}

func TestBlockPipMutationCatchesDirectInvocation(t *testing.T) {
	err := BlockPipMutation([]string{"pip", "install", "requests"})
	require.Error(t, err)
}

func TestBlockPipMutationCatchesModuleForm(t *testing.T) {
	err := BlockPipMutation([]string{"python3", "-m", "pip", "uninstall", "requests"})
	require.Error(t, err)
}

func TestBlockPipMutationAllowsReadOnlyVerbs(t *testing.T) {
	require.NoError(t, BlockPipMutation([]string{"pip", "list"}))
	require.NoError(t, BlockPipMutation([]string{"pip", "show", "requests"}))
}

func TestBlockPipMutationIgnoresNonPipInvocations(t *testing.T) {
	require.NoError(t, BlockPipMutation([]string{"python3", "script.py"}))
}
