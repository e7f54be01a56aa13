// Package manifest reads and writes the project manifest (pyproject.toml):
// the human-edited [project] (PEP 621) and [tool.px] sections. The core
// only ever edits these two sections, grounded on how distri's
// internal/build reads build.textproto and rewrites only the fields a given
// command is responsible for, never the whole file wholesale.
package manifest

import (
	"os"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"

	"github.com/px-dev/px/internal/canon"
)

// Project is the PEP 621 [project] table, restricted to the fields px
// recognizes and edits.
type Project struct {
	Name            string            `toml:"name"`
	Version         string            `toml:"version"`
	Dependencies    []string          `toml:"dependencies"`
	RequiresPython  string            `toml:"requires-python,omitempty"`
	Scripts         map[string]string `toml:"scripts,omitempty"`
}

// PxTool is the [tool.px] table.
type PxTool struct {
	Python        string                 `toml:"python,omitempty"`
	Dependencies  PxDependencies         `toml:"dependencies,omitempty"`
	Workspace     PxWorkspace            `toml:"workspace,omitempty"`
	Sandbox       map[string]interface{} `toml:"sandbox,omitempty"` // opaque to the core
	PluginImports []string               `toml:"plugin-imports,omitempty"`
}

type PxDependencies struct {
	IncludeGroups []string `toml:"include-groups,omitempty"`
}

type PxWorkspace struct {
	Members []string `toml:"members,omitempty"`
}

// Tool is the top-level [tool] table; px only reads/writes tool.px. Every
// other subtable keeps its keys and values, but Write re-encodes the whole
// file, so their comments and formatting are not kept.
type Tool struct {
	Px PxTool `toml:"px,omitempty"`
}

// Manifest is the parsed pyproject.toml, restricted to the sections px
// recognizes. Any other top-level tables present in the file are kept in
// Raw and re-encoded on Write with the same keys and values; comments and
// formatting are lost, and [project] keys Project has no field for are
// dropped.
type Manifest struct {
	Project Project                `toml:"project"`
	Tool    Tool                   `toml:"tool,omitempty"`
	Raw     map[string]interface{} `toml:"-"`
	path    string
}

// Load parses path as a pyproject.toml. It is not an error for the file to
// be missing [tool.px]; Tool.Px is left zero-valued in that case.
func Load(path string) (*Manifest, error) {
	var raw map[string]interface{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, xerrors.Errorf("manifest: read %s: %w", path, err)
	}
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, xerrors.Errorf("manifest: decode %s: %w", path, err)
	}
	m.Raw = raw
	m.path = path
	return &m, nil
}

// NewEmpty builds the manifest scenario 1 of the test matrix expects for an
// empty-directory init: [project] with name, version "0.1.0", and an empty
// dependencies list.
func NewEmpty(name string) *Manifest {
	return &Manifest{
		Project: Project{
			Name:         name,
			Version:      "0.1.0",
			Dependencies: []string{},
		},
	}
}

// Write atomically rewrites path's [project] and [tool.px] tables from m,
// preserving every other top-level table in m.Raw unchanged.
func (m *Manifest) Write(path string) error {
	merged := make(map[string]interface{}, len(m.Raw)+2)
	for k, v := range m.Raw {
		merged[k] = v
	}
	merged["project"] = m.Project
	if hasToolPx(m.Tool) {
		tool, _ := merged["tool"].(map[string]interface{})
		if tool == nil {
			tool = make(map[string]interface{})
		}
		tool["px"] = m.Tool.Px
		merged["tool"] = tool
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return xerrors.Errorf("manifest: write %s: %w", path, err)
	}
	if err := toml.NewEncoder(f).Encode(merged); err != nil {
		f.Close()
		os.Remove(tmp)
		return xerrors.Errorf("manifest: encode %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return xerrors.Errorf("manifest: sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return xerrors.Errorf("manifest: close %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return xerrors.Errorf("manifest: rename %s: %w", path, err)
	}
	return nil
}

func hasToolPx(t Tool) bool {
	return t.Px.Python != "" || len(t.Px.Dependencies.IncludeGroups) > 0 ||
		len(t.Px.Workspace.Members) > 0 || len(t.Px.Sandbox) > 0 ||
		len(t.Px.PluginImports) > 0
}

// Fingerprint computes mfingerprint(M): the sha256 of the canonical
// encoding of the dependency-resolution-relevant subset of the manifest —
// normalized dependency specifiers, selected groups, the Python
// requirement, and px's own dependency config. Scripts, name, and version
// deliberately do not participate: they affect the env's generated
// launcher, not which packages get resolved.
func (m *Manifest) Fingerprint() (string, error) {
	payload := map[string]interface{}{
		"normalized_deps":    canon.SortedStrings(m.Project.Dependencies),
		"selected_groups":    canon.SortedStrings(m.Tool.Px.Dependencies.IncludeGroups),
		"python_requirement": m.Project.RequiresPython,
		"px_dep_config":      m.Tool.Px.Python,
	}
	return canon.DigestOf(canon.KindMeta, payload)
}

// AddDependency appends spec to Project.Dependencies if not already
// present by exact string match, leaving resolution of version conflicts
// to the external resolver.
func (m *Manifest) AddDependency(spec string) {
	for _, d := range m.Project.Dependencies {
		if d == spec {
			return
		}
	}
	m.Project.Dependencies = append(m.Project.Dependencies, spec)
}

// RemoveDependency removes every dependency entry whose package name
// (the portion before any version specifier) equals name.
func (m *Manifest) RemoveDependency(name string) {
	out := m.Project.Dependencies[:0]
	for _, d := range m.Project.Dependencies {
		if packageNameOf(d) != name {
			out = append(out, d)
		}
	}
	m.Project.Dependencies = out
}

func packageNameOf(spec string) string {
	for i, r := range spec {
		switch r {
		case '=', '<', '>', '!', '~', '[', ' ':
			return spec[:i]
		}
	}
	return spec
}
