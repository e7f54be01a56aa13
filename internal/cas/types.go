// Package cas implements the object lifecycle operations:
// ensure_source, ensure_pkg_build, ensure_runtime, and ensure_profile. It is
// the layer that ties internal/canon (digesting), internal/store (layout
// and locks), internal/index (refs bookkeeping), and internal/builder
// (external fetch/build collaborators) together, the way distri's
// internal/build.Ctx ties together distri.Repo, internal/env, and the
// builder protocol.
package cas

import (
	"time"

	"github.com/px-dev/px/internal/canon"
)

// SourceHeader is the (kind=source) payload header.
type SourceHeader struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	Filename       string `json:"filename"`
	IndexURL       string `json:"index_url"`
	SHA256Declared string `json:"sha256"`
}

// PkgBuildKey is the tuple that determines a pkg-build's digest inputs,
// logged for diagnostics but not part of the digest
// itself beyond what's embedded in the canonical payload below.
type PkgBuildKey struct {
	SourceOID    string            `json:"source_oid"`
	RuntimeABI   string            `json:"runtime_abi"`
	BuilderID    string            `json:"builder_id"`
	OptionsHash  string            `json:"options_hash"`
}

// PkgBuildPayload is the (kind=pkg-build) canonical payload.
type PkgBuildPayload struct {
	BuildKey       PkgBuildKey        `json:"build_key"`
	TreeNormalized []canon.TreeEntry  `json:"tree_normalized"`
}

// RuntimePayload is the (kind=runtime) canonical payload.
type RuntimePayload struct {
	Version        string            `json:"version"`
	ABI            string            `json:"abi"`
	Platform       string            `json:"platform"`
	ConfigHash     string            `json:"config_hash"`
	TreeNormalized []canon.TreeEntry `json:"tree_normalized"`
}

// ProfilePackage is one resolved package entry inside a profile payload.
type ProfilePackage struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	PkgBuildOID string `json:"pkg_build_oid"`
}

// ProfilePayload is the (kind=profile) canonical payload.
type ProfilePayload struct {
	RuntimeOID   string            `json:"runtime_oid"`
	Packages     []ProfilePackage  `json:"packages"`
	SysPathOrder []string          `json:"sys_path_order"`
	EnvVars      map[string]string `json:"env_vars"`
}

// LockedPackage is the resolver's output for one package: enough to call
// ensure_source then ensure_pkg_build.
type LockedPackage struct {
	Name     string
	Version  string
	Filename string
	IndexURL string
	SHA256   string
}

// BuildStamp records when an object's bytes were finalized, used to
// populate index.ObjectRow.
type BuildStamp struct {
	CreatedAt time.Time
}
