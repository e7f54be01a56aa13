// Package envmat materializes a profile object into a usable Python
// environment: envs/<profile_oid>/{bin,manifest.json}, a console_scripts
// launcher per packaged entry point, and a PYTHONPATH-based projection of
// every resolved package's pkg-build tree. It owns no object lifecycle
// logic (that is internal/cas); it only reads an already-published profile
// and projects it onto envs/, the way distri's internal/build wraps
// finished pkg-build output into /bin wrapper scripts pointing at /ro.
package envmat

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"golang.org/x/xerrors"

	"github.com/px-dev/px/internal/cas"
	"github.com/px-dev/px/internal/pxerr"
	"github.com/px-dev/px/internal/store"
)

// Manifest is the on-disk envs/<profile_oid>/manifest.json shape. Its field
// names and nesting are the authoritative contract index.Rebuild parses
// when reconstructing refs from disk alone.
type Manifest struct {
	ProfileOID string             `json:"profile_oid"`
	RuntimeOID string             `json:"runtime_oid"`
	Packages   []ManifestPackage  `json:"packages"`
	CreatedAt  string             `json:"created_at"`
}

// ManifestPackage is one resolved dependency recorded in manifest.json.
type ManifestPackage struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	PkgBuildOID string `json:"pkg_build_oid"`
}

// Materialize builds (or refreshes) envs/<profile_oid>/ from a published
// profile object: it reads the profile payload back from the store,
// recreates bin/ launchers for every console-script entry point across the
// resolved packages in deterministic order, and writes manifest.json last
// so a reader never observes a partially-built env as complete.
func Materialize(ctx context.Context, s *store.Store, envsRoot, runtimeBin, profileOID string) (envPath string, err error) {
	profile, err := cas.ReadProfile(s, profileOID)
	if err != nil {
		return "", xerrors.Errorf("materialize(%s): %w", profileOID, err)
	}

	if !s.Exists(profile.RuntimeOID) {
		return "", pxerr.ObjectMissing(profile.RuntimeOID)
	}
	for _, p := range profile.Packages {
		if !s.Exists(p.PkgBuildOID) {
			return "", pxerr.ObjectMissing(p.PkgBuildOID)
		}
	}

	envPath = filepath.Join(envsRoot, profileOID)
	scratch := envPath + ".tmp-" + profileOID

	if err := os.RemoveAll(scratch); err != nil {
		return "", xerrors.Errorf("materialize(%s): %w", profileOID, err)
	}
	if err := os.MkdirAll(filepath.Join(scratch, "bin"), 0o755); err != nil {
		return "", xerrors.Errorf("materialize(%s): %w", profileOID, err)
	}
	defer os.RemoveAll(scratch)

	pythonPath := sitePackagesPath(s, profile)

	scripts, err := collectScripts(s, profile)
	if err != nil {
		return "", xerrors.Errorf("materialize(%s): %w", profileOID, err)
	}
	pycPrefix := filepath.Join(envsRoot, "pyc", profileOID)
	for _, sc := range scripts {
		if err := writeLauncher(filepath.Join(scratch, "bin", sc.Name), runtimeBin, sc.RelPath, pythonPath, pycPrefix, profile.EnvVars); err != nil {
			return "", xerrors.Errorf("materialize(%s): %w", profileOID, err)
		}
	}
	if err := writeLauncher(filepath.Join(scratch, "bin", "python"), runtimeBin, "", pythonPath, pycPrefix, profile.EnvVars); err != nil {
		return "", xerrors.Errorf("materialize(%s): %w", profileOID, err)
	}

	packages := make([]ManifestPackage, len(profile.Packages))
	for i, p := range profile.Packages {
		packages[i] = ManifestPackage{Name: p.Name, Version: p.Version, PkgBuildOID: p.PkgBuildOID}
	}
	sort.Slice(packages, func(i, j int) bool { return packages[i].Name < packages[j].Name })

	manifest := Manifest{
		ProfileOID: profileOID,
		RuntimeOID: profile.RuntimeOID,
		Packages:   packages,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	mb, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", xerrors.Errorf("materialize(%s): %w", profileOID, err)
	}
	if err := os.WriteFile(filepath.Join(scratch, "manifest.json"), mb, 0o644); err != nil {
		return "", xerrors.Errorf("materialize(%s): %w", profileOID, err)
	}

	if err := os.RemoveAll(envPath); err != nil {
		return "", xerrors.Errorf("materialize(%s): %w", profileOID, err)
	}
	if err := os.MkdirAll(filepath.Dir(envPath), 0o755); err != nil {
		return "", xerrors.Errorf("materialize(%s): %w", profileOID, err)
	}
	if err := os.Rename(scratch, envPath); err != nil {
		return "", xerrors.Errorf("materialize(%s): %w", profileOID, err)
	}

	return envPath, nil
}

// SitePackagesDir is the subdirectory of a pkg-build tree holding its
// installed distribution, the directory every sys.path/PYTHONPATH entry
// for that package points at.
const SitePackagesDir = "site-packages"

// sitePackagesPath builds the PYTHONPATH entries for every resolved
// package's materialized tree, in profile.SysPathOrder (already sorted by
// pkg_build_oid when the profile was digested).
func sitePackagesPath(s *store.Store, profile cas.ProfilePayload) []string {
	dirs := make([]string, 0, len(profile.SysPathOrder))
	for _, oid := range profile.SysPathOrder {
		dirs = append(dirs, filepath.Join(s.PkgBuildDir(oid), SitePackagesDir))
	}
	return dirs
}

type script struct {
	Name    string
	RelPath string // absolute path to the console-script entry under its pkg-build's bin/
}

// collectScripts walks each resolved package's bin/ directory (the
// convention a px builder installs console_scripts entry points under,
// mirroring distri's own out/bin convention) and returns one script per
// executable found, sorted by name. A name collision across packages keeps
// the first package in sys-path order, since that is also the precedence
// Python's own import resolution would give it.
func collectScripts(s *store.Store, profile cas.ProfilePayload) ([]script, error) {
	seen := map[string]bool{}
	var out []script
	for _, oid := range profile.SysPathOrder {
		binDir := filepath.Join(s.PkgBuildDir(oid), "bin")
		entries, err := os.ReadDir(binDir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || seen[e.Name()] {
				continue
			}
			info, err := e.Info()
			if err != nil {
				return nil, err
			}
			if info.Mode()&0o111 == 0 && info.Mode()&fs.ModeSymlink == 0 {
				continue
			}
			seen[e.Name()] = true
			out = append(out, script{Name: e.Name(), RelPath: filepath.Join(binDir, e.Name())})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// launcherTmpl is the shell wrapper every env/bin entry is generated from:
// it execs the resolved runtime interpreter with PYTHONPATH set to the
// package projection and a profile-private pyc cache, then either runs the
// named script module or, with no script, drops into the interpreter
// itself.
var launcherTmpl = template.Must(template.New("launcher").Parse(`#!/bin/sh
# generated by px envmat; do not edit, re-run ` + "`px sync`" + ` instead
export PYTHONPATH="{{.PythonPath}}"
export PYTHONPYCACHEPREFIX="{{.PycCachePrefix}}"
{{- range .EnvVars}}
export {{.}}
{{- end}}
{{- range .StripVars}}
unset {{.}}
{{- end}}
{{if .Script}}exec "{{.Runtime}}" "{{.Script}}" "$@"
{{else}}exec "{{.Runtime}}" "$@"
{{end}}`))

// proxyVarsStripped are environment variables unset in every launcher so a
// build-time or shell-inherited proxy configuration (and PYTHONHOME /
// PYTHONSTARTUP) never leaks into a px-managed run.
var proxyVarsStripped = []string{
	"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY", "http_proxy", "https_proxy", "no_proxy",
	"PYTHONHOME", "PYTHONSTARTUP",
}

func writeLauncher(dest, runtimeBin, scriptRelPath string, pythonPath []string, pycCachePrefix string, envVars map[string]string) error {
	keys := make([]string, 0, len(envVars))
	for k := range envVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assigns := make([]string, len(keys))
	for i, k := range keys {
		assigns[i] = shQuoteAssign(k, envVars[k])
	}

	var buf bytes.Buffer
	err := launcherTmpl.Execute(&buf, struct {
		Runtime        string
		Script         string
		PythonPath     string
		PycCachePrefix string
		EnvVars        []string
		StripVars      []string
	}{
		Runtime:        runtimeBin,
		Script:         scriptRelPath,
		PythonPath:     strings.Join(pythonPath, ":"),
		PycCachePrefix: pycCachePrefix,
		EnvVars:        assigns,
		StripVars:      proxyVarsStripped,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, buf.Bytes(), 0o755); err != nil {
		return err
	}
	return nil
}

func shQuoteAssign(key, val string) string {
	return key + "=" + "'" + strings.ReplaceAll(val, "'", `'\''`) + "'"
}
