// Package resolve defines the dependency-resolution and package-index
// collaborators the core consumes but never implements: a Resolver turns
// the manifest's PEP 508 specifiers into a pinned package set, and an
// IndexClient fetches the one artifact a pinned (name, version) pair
// names. Grounded on internal/builder's Fetcher/Builder/RuntimeProvider
// split: the core depends only on these two interfaces, never on a
// concrete dependency solver or a specific package index's wire format.
//
// PinnedResolver below is the simplest Resolver that satisfies the
// contract without implementing PEP 440 version range solving: it
// requires every dependency specifier already be an exact "==" pin and
// fails closed otherwise, naming the gap rather than silently guessing a
// version. A real resolver (backed by a PubGrub-style solver and a warm
// index cache) would implement the same interface and slot in without
// internal/cas or cmd/px changing.
package resolve

import (
	"context"
	"strings"

	"golang.org/x/xerrors"
)

// ResolvedPackage is one entry of a Resolver's output: enough for
// internal/cas.EnsureSource to fetch and verify the artifact.
type ResolvedPackage struct {
	Name     string
	Version  string
	Filename string
	IndexURL string
	SHA256   string
}

// Request bundles everything a Resolver needs from the manifest to
// produce a pinned package set.
type Request struct {
	Dependencies      []string // PEP 508 specifiers, as written in pyproject.toml
	PythonRequirement string
	IndexURL          string
}

// Result is a Resolver's output.
type Result struct {
	Packages []ResolvedPackage
}

// Resolver is the external dependency-resolution collaborator: given the
// manifest's declared dependencies, produce one pinned version per
// package name. The core never inspects how a Resolver made that choice.
type Resolver interface {
	Resolve(ctx context.Context, req Request) (Result, error)
}

// Artifact is the metadata an IndexClient returns for one (name, version)
// pair: the distribution filename, download URL, and declared sha256.
type Artifact struct {
	Filename string
	URL      string
	SHA256   string
}

// IndexClient is the external package-index collaborator: it resolves a
// pinned (name, version) pair to the artifact PinnedResolver (or a richer
// Resolver) should fetch. The core never speaks a specific index's wire
// protocol directly.
type IndexClient interface {
	FetchArtifact(ctx context.Context, indexURL, name, version string) (Artifact, error)
}

// UnpinnedSpecifier is returned by PinnedResolver when a dependency
// specifier is not an exact "==" pin.
type UnpinnedSpecifier struct {
	Specifier string
}

func (e *UnpinnedSpecifier) Error() string {
	return "resolve: " + e.Specifier + " is not an exact \"==\" pin; a real resolver is required for range specifiers"
}

// PinnedResolver satisfies Resolver for manifests whose every dependency
// specifier is already an exact version pin (name==version), deferring
// artifact lookup to an IndexClient. It performs no version range
// solving, no transitive dependency discovery, and no environment marker
// evaluation; those are exactly the parts of a full PEP 508/440
// implementation this repository treats as an external collaborator.
type PinnedResolver struct {
	Index IndexClient
}

func (r *PinnedResolver) Resolve(ctx context.Context, req Request) (Result, error) {
	var out Result
	for _, spec := range req.Dependencies {
		name, version, ok := splitExactPin(spec)
		if !ok {
			return Result{}, &UnpinnedSpecifier{Specifier: spec}
		}
		art, err := r.Index.FetchArtifact(ctx, req.IndexURL, name, version)
		if err != nil {
			return Result{}, xerrors.Errorf("resolve(%s==%s): %w", name, version, err)
		}
		out.Packages = append(out.Packages, ResolvedPackage{
			Name:     name,
			Version:  version,
			Filename: art.Filename,
			IndexURL: req.IndexURL,
			SHA256:   art.SHA256,
		})
	}
	return out, nil
}

// splitExactPin parses "name==version" (PEP 508's exact-pin form, no
// extras/markers), rejecting anything else PinnedResolver cannot honor.
func splitExactPin(spec string) (name, version string, ok bool) {
	spec = strings.TrimSpace(spec)
	if strings.ContainsAny(spec, "<>!~;[") {
		return "", "", false
	}
	name, version, found := strings.Cut(spec, "==")
	if !found || name == "" || version == "" {
		return "", "", false
	}
	return strings.TrimSpace(name), strings.TrimSpace(version), true
}
