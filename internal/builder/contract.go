// Package builder defines the external collaborators of the build pipeline: a
// downloader ("Fetcher") and a deterministic PEP 517 build backend invoker
// ("Builder"). The core only depends on these two interfaces; it never
// knows whether a concrete Builder runs in a subprocess, a container, or
// (via the rpc subpackage) a remote build server — exactly the shape of
// distri's external builder contract in cmd/distri/builder.go and
// pb/builder, generalized from distri packages to Python wheels/sdists.
package builder

import (
	"context"
	"io"
)

// Fetcher downloads bytes for a declared source artifact and verifies them
// against the index-declared sha256. Implementations must
// never write outside the destination writer they are given.
type Fetcher interface {
	Get(ctx context.Context, url string, expectedSHA256 string, dest io.Writer) error
}

// BuildRequest pins everything a Builder needs to produce a deterministic
// pkg-build tree: the source to build, the runtime ABI it targets, and the
// resolved build options. BuilderID is a deterministic function of the px
// version and (RuntimeABI, Platform) — bumping the builder bumps BuilderID
// and therefore the build key.
type BuildRequest struct {
	BuilderID    string
	SourceOID    string
	SourcePath   string // path to the verified source blob, readable by the builder
	RuntimeABI   string
	Platform     string
	BuildOptions map[string]string
	ScratchDir   string // isolated scratch directory; the builder must never write outside it
}

// Builder invokes a PEP 517 build backend (or an equivalent deterministic
// build step) and returns the root of the resulting, not-yet-normalized
// filesystem tree. Contracts: a builder must never write
// outside ScratchDir; it may use an internal OS package provider to satisfy
// system headers; it must be hermetic for a given BuilderID.
type Builder interface {
	Build(ctx context.Context, req BuildRequest) (treeRoot string, err error)
}

// RuntimeRequest pins a requested interpreter: version, ABI, platform, and a
// config hash capturing any non-default build configuration.
type RuntimeRequest struct {
	Version    string
	ABI        string
	Platform   string
	ConfigHash string
	ScratchDir string
}

// RuntimeProvider materializes an interpreter tree for a RuntimeRequest. It
// is a distinct collaborator from Builder because runtimes are fetched or
// built from a different source (a Python distribution registry) than
// packages.
type RuntimeProvider interface {
	Provide(ctx context.Context, req RuntimeRequest) (treeRoot string, err error)
}

// BuilderFor selects the deterministic builder_id for (runtimeABI,
// platform) given the px version. This must be a pure function: bumping
// the builder implementation bumps pxVersion, which
// changes builder_id, which changes every downstream pkg_build_oid.
func BuilderFor(pxVersion, runtimeABI, platform string) string {
	return "px-builder-" + pxVersion + "-" + runtimeABI + "-" + platform
}
