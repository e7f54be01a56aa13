package execute

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/px-dev/px/internal/cas"
	"github.com/px-dev/px/internal/envmat"
	"github.com/px-dev/px/internal/store"
)

func writeDistInfo(t *testing.T, siteDir, pkgNameVersion string, consoleScripts map[string]string) {
	t.Helper()
	dir := filepath.Join(siteDir, pkgNameVersion+".dist-info")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	var buf bytes.Buffer
	buf.WriteString("[console_scripts]\n")
	for name, target := range consoleScripts {
		buf.WriteString(name + " = " + target + "\n")
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "entry_points.txt"), buf.Bytes(), 0o644))
}

func newTestStoreForExecute(t *testing.T) *store.Store {
	t.Helper()
	s := store.Open(t.TempDir())
	require.NoError(t, s.EnsureLayout())
	return s
}

func TestResolveConsoleScriptFindsUniqueEntry(t *testing.T) {
	s := newTestStoreForExecute(t)
	oid := "pkgaaaa"
	siteDir := filepath.Join(s.PkgBuildDir(oid), envmat.SitePackagesDir)
	writeDistInfo(t, siteDir, "demo-1.0", map[string]string{"demo-cli": "demo.cli:main"})

	profile := cas.ProfilePayload{SysPathOrder: []string{oid}}
	ep, fallback, err := ResolveConsoleScript(s, profile, "demo-cli")
	require.NoError(t, err)
	require.Empty(t, fallback)
	require.Equal(t, "demo", ep.Module)
	require.Equal(t, "main", ep.Function)
	require.Equal(t, "demo", ep.PackageName)
}

func TestResolveConsoleScriptFallsBackOnAmbiguity(t *testing.T) {
	s := newTestStoreForExecute(t)
	oidA, oidB := "pkgaaaa", "pkgbbbb"
	writeDistInfo(t, filepath.Join(s.PkgBuildDir(oidA), envmat.SitePackagesDir), "one-1.0", map[string]string{"shared": "one.mod:run"})
	writeDistInfo(t, filepath.Join(s.PkgBuildDir(oidB), envmat.SitePackagesDir), "two-1.0", map[string]string{"shared": "two.mod:run"})

	profile := cas.ProfilePayload{SysPathOrder: []string{oidA, oidB}}
	_, fallback, err := ResolveConsoleScript(s, profile, "shared")
	require.NoError(t, err)
	require.Equal(t, MultipleDistProvidesSameScript, fallback)
}

func TestResolveConsoleScriptErrorsWhenMissing(t *testing.T) {
	s := newTestStoreForExecute(t)
	profile := cas.ProfilePayload{SysPathOrder: []string{"pkgaaaa"}}
	_, fallback, err := ResolveConsoleScript(s, profile, "nope")
	require.Error(t, err)
	require.Empty(t, fallback)
}

func TestParseConsoleScriptsIgnoresOtherSections(t *testing.T) {
	s := newTestStoreForExecute(t)
	oid := "pkgcccc"
	dir := filepath.Join(s.PkgBuildDir(oid), envmat.SitePackagesDir, "demo-1.0.dist-info")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := "[gui_scripts]\nguidemo = demo.gui:main\n\n[console_scripts]\ndemo = demo.cli:main\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "entry_points.txt"), []byte(content), 0o644))

	profile := cas.ProfilePayload{SysPathOrder: []string{oid}}
	_, fallback, err := ResolveConsoleScript(s, profile, "guidemo")
	require.Error(t, err) // gui_scripts entries are not console_scripts
	require.Empty(t, fallback)

	ep, fallback, err := ResolveConsoleScript(s, profile, "demo")
	require.NoError(t, err)
	require.Empty(t, fallback)
	require.Equal(t, "demo.cli", ep.Module)
}

func TestLaunchDispatchesConsoleScriptCasNatively(t *testing.T) {
	s := newTestStoreForExecute(t)
	oid := "pkgdddd"
	siteDir := filepath.Join(s.PkgBuildDir(oid), envmat.SitePackagesDir)
	require.NoError(t, os.MkdirAll(siteDir, 0o755))
	writeDistInfo(t, siteDir, "demo-1.0", map[string]string{"demo-cli": "demo.cli:main"})

	profile := cas.ProfilePayload{SysPathOrder: []string{oid}}
	outFile := tempCaptureFile(t)

	res, err := Launch(context.Background(), s, profile, "/bin/echo", "", t.TempDir(), "profile123",
		Target{ConsoleScript: "demo-cli"}, outFile, outFile, nil)
	require.NoError(t, err)
	require.Equal(t, "cas-native", res.Mode)
	require.Empty(t, res.Fallback)
}

func TestLaunchReportsFallbackWithoutExecuting(t *testing.T) {
	s := newTestStoreForExecute(t)
	oidA, oidB := "pkgeeee", "pkgffff"
	writeDistInfo(t, filepath.Join(s.PkgBuildDir(oidA), envmat.SitePackagesDir), "one-1.0", map[string]string{"shared": "one.mod:run"})
	writeDistInfo(t, filepath.Join(s.PkgBuildDir(oidB), envmat.SitePackagesDir), "two-1.0", map[string]string{"shared": "two.mod:run"})

	profile := cas.ProfilePayload{SysPathOrder: []string{oidA, oidB}}
	res, err := Launch(context.Background(), s, profile, "/bin/echo", "", t.TempDir(), "profile123",
		Target{ConsoleScript: "shared"}, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, MultipleDistProvidesSameScript, res.Fallback)
}

func TestFilterKeysDropsOverriddenEntries(t *testing.T) {
	out := filterKeys([]string{"HOME=/root", "PYTHONPATH=/old", "FOO=bar"}, map[string]bool{"PYTHONPATH": true})
	require.Equal(t, []string{"HOME=/root", "FOO=bar"}, out)
}

func tempCaptureFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}
