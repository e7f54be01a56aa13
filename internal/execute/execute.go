// Package execute implements the CAS-native executor: running user code by
// assembling sys.path directly from a profile's pkg-build OIDs, without
// first materializing an envs/<profile_oid> directory. It dispatches
// console_scripts targets by reading installed-dist metadata straight out
// of each resolved package's pkg-build tree, and falls back to
// internal/envmat's materialized launcher whenever CAS-native dispatch
// cannot resolve a target unambiguously. Grounded on how distri's
// internal/build.Ctx always prefers resolving a package in the in-memory
// build graph before ever touching disk outside of a verified tree.
package execute

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/xerrors"

	"github.com/px-dev/px/internal/cas"
	"github.com/px-dev/px/internal/envmat"
	"github.com/px-dev/px/internal/runtimeenv"
	"github.com/px-dev/px/internal/store"
)

// FallbackCode identifies why CAS-native dispatch gave up in favor of a
// materialized env, logged as the CAS_NATIVE_FALLBACK structured field.
type FallbackCode string

const (
	MultipleDistProvidesSameScript FallbackCode = "multiple_dist_provides_same_script"
	MetadataUnreadable             FallbackCode = "metadata_unreadable"
	ExtensionNeedsMaterializedBin  FallbackCode = "extension_needs_materialized_bin"
	RuntimeQuirk                   FallbackCode = "runtime_quirk"
)

// EntryPoint is one console_scripts declaration read from a pkg-build's
// installed-dist metadata (a dist-info/entry_points.txt file).
type EntryPoint struct {
	PackageName string
	Module      string
	Function    string
}

// Target describes what a `px run` invocation is trying to launch.
type Target struct {
	ConsoleScript string   // e.g. "pytest"; takes precedence over ScriptPath when both are set
	ScriptPath    string   // a script file under the project, run with the resolved interpreter
	Args          []string // arguments following the target
}

// Result records how a launch was actually carried out, for callers that
// need to log or assert on it (notably tests and cmd/px's fallback logging).
type Result struct {
	Mode     string // "cas-native" or "materialized"
	Fallback FallbackCode
	ExitCode int
}

// sitePackagesDirs concatenates pkg-builds/<oid>/site-packages for every
// package in sys-path order, then the runtime's own library path, matching
// the order a materialized env's PYTHONPATH is built in.
func sitePackagesDirs(s *store.Store, profile cas.ProfilePayload, runtimeLibDir string) []string {
	dirs := make([]string, 0, len(profile.SysPathOrder)+1)
	for _, oid := range profile.SysPathOrder {
		dirs = append(dirs, filepath.Join(s.PkgBuildDir(oid), envmat.SitePackagesDir))
	}
	if runtimeLibDir != "" {
		dirs = append(dirs, runtimeLibDir)
	}
	return dirs
}

// ResolveConsoleScript scans every resolved package's installed-dist
// metadata, in sys-path order, for a console_scripts entry named
// scriptName. Two or more distinct packages providing the same script name
// is ambiguous and triggers MultipleDistProvidesSameScript; an unreadable
// or malformed entry_points.txt triggers MetadataUnreadable. Both are
// reported as a fallback rather than an error: the materialized executor
// may still be able to resolve the ambiguity (or simply pick the first
// match, matching pip's own last-install-wins behavior) and the caller
// decides which.
func ResolveConsoleScript(s *store.Store, profile cas.ProfilePayload, scriptName string) (EntryPoint, FallbackCode, error) {
	var matches []EntryPoint
	for _, oid := range profile.SysPathOrder {
		siteDir := filepath.Join(s.PkgBuildDir(oid), envmat.SitePackagesDir)
		eps, err := readConsoleScripts(siteDir)
		if err != nil {
			return EntryPoint{}, MetadataUnreadable, nil
		}
		if ep, ok := eps[scriptName]; ok {
			matches = append(matches, ep)
		}
	}
	switch len(matches) {
	case 0:
		return EntryPoint{}, "", xerrors.Errorf("execute: no console_scripts entry named %q in any resolved package", scriptName)
	case 1:
		return matches[0], "", nil
	default:
		return EntryPoint{}, MultipleDistProvidesSameScript, nil
	}
}

// readConsoleScripts walks every <name>-<version>.dist-info directory
// directly under siteDir and parses its entry_points.txt [console_scripts]
// section, keyed by script name.
func readConsoleScripts(siteDir string) (map[string]EntryPoint, error) {
	out := make(map[string]EntryPoint)
	entries, err := os.ReadDir(siteDir)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), ".dist-info") {
			continue
		}
		pkgName := distInfoPackageName(e.Name())
		path := filepath.Join(siteDir, e.Name(), "entry_points.txt")
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		eps, err := parseConsoleScripts(f, pkgName)
		f.Close()
		if err != nil {
			return nil, err
		}
		for name, ep := range eps {
			out[name] = ep
		}
	}
	return out, nil
}

func distInfoPackageName(dirName string) string {
	base := strings.TrimSuffix(dirName, ".dist-info")
	if i := strings.LastIndex(base, "-"); i >= 0 {
		return base[:i]
	}
	return base
}

// parseConsoleScripts reads an entry_points.txt's [console_scripts] section
// only; other sections (gui_scripts, plugin groups) are ignored. The
// format is the standard setuptools INI dialect: "[section]" headers and
// "name = value" assignments, blank lines and "#"/";" comments ignored.
func parseConsoleScripts(r *os.File, pkgName string) (map[string]EntryPoint, error) {
	out := make(map[string]EntryPoint)
	scanner := bufio.NewScanner(r)
	inSection := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inSection = line == "[console_scripts]"
			continue
		}
		if !inSection {
			continue
		}
		name, spec, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		module, function, ok := strings.Cut(strings.TrimSpace(spec), ":")
		if !ok {
			continue
		}
		out[name] = EntryPoint{PackageName: pkgName, Module: strings.TrimSpace(module), Function: strings.TrimSpace(function)}
	}
	return out, scanner.Err()
}

// bootstrapCode renders the one-line Python program that imports an entry
// point's module and invokes its function the way pip's generated console
// script wrappers do: call the function, and exit with its return value
// when it's an int, 0 otherwise.
func bootstrapCode(ep EntryPoint) string {
	return fmt.Sprintf(
		"import sys; from %s import %s as _f; r = _f(); sys.exit(r if isinstance(r, int) else 0)",
		ep.Module, ep.Function)
}

// Launch runs target CAS-natively when possible. runtimeBin is the
// resolved interpreter executable; runtimeLibDir is its own stdlib path
// appended after every package's site-packages entry. If CAS-native
// dispatch cannot proceed, Launch returns a non-empty FallbackCode and
// performs no exec; the callers (cmd/px's run, fmt and tool transitions)
// then run the target through the same profile's materialized env.
func Launch(ctx context.Context, s *store.Store, profile cas.ProfilePayload, runtimeBin, runtimeLibDir string, pycCacheRoot, profileOID string, target Target, stdout, stderr *os.File, stdin *os.File) (Result, error) {
	pythonPath := sitePackagesDirs(s, profile, runtimeLibDir)
	overridden := map[string]bool{"PYTHONPATH": true}
	for k := range profile.EnvVars {
		overridden[k] = true
	}
	env, err := runtimeenv.Build(runtimeenv.Options{
		ProfileOID:       profileOID,
		PycCacheRoot:     pycCacheRoot,
		InheritedEnviron: filterKeys(os.Environ(), overridden),
	})
	if err != nil {
		return Result{}, err
	}
	env = append(env, "PYTHONPATH="+strings.Join(pythonPath, ":"))
	for _, k := range sortedKeys(profile.EnvVars) {
		env = append(env, k+"="+profile.EnvVars[k])
	}

	var argv []string
	switch {
	case target.ConsoleScript != "":
		ep, fallback, err := ResolveConsoleScript(s, profile, target.ConsoleScript)
		if err != nil {
			return Result{}, err
		}
		if fallback != "" {
			return Result{Mode: "cas-native", Fallback: fallback}, nil
		}
		argv = []string{runtimeBin, "-c", bootstrapCode(ep)}
	case target.ScriptPath != "":
		argv = []string{runtimeBin, target.ScriptPath}
	default:
		argv = []string{runtimeBin}
	}
	argv = append(argv, target.Args...)

	if err := runtimeenv.BlockPipMutation(argv); err != nil {
		return Result{}, err
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Stdout, cmd.Stderr, cmd.Stdin = stdout, stderr, stdin
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return Result{Mode: "cas-native", ExitCode: exitErr.ExitCode()}, nil
		}
		return Result{}, xerrors.Errorf("execute: %w", err)
	}
	return Result{Mode: "cas-native", ExitCode: 0}, nil
}

// filterKeys drops every "KEY=value" entry whose key is in drop, so a
// caller-supplied override always wins regardless of how a platform's libc
// resolves duplicate environ entries.
func filterKeys(environ []string, drop map[string]bool) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		key, _, _ := strings.Cut(kv, "=")
		if drop[key] {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
