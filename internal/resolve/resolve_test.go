package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	artifacts map[string]Artifact
}

func (f *fakeIndex) FetchArtifact(ctx context.Context, indexURL, name, version string) (Artifact, error) {
	a, ok := f.artifacts[name+"=="+version]
	if !ok {
		return Artifact{}, errNotFound(name, version)
	}
	return a, nil
}

type notFoundErr string

func (e notFoundErr) Error() string { return string(e) }

func errNotFound(name, version string) error {
	return notFoundErr(name + "@" + version + " not found")
}

func TestPinnedResolverResolvesExactPins(t *testing.T) {
	idx := &fakeIndex{artifacts: map[string]Artifact{
		"requests==2.31.0": {Filename: "requests-2.31.0-py3-none-any.whl", URL: "https://example/requests.whl", SHA256: "abc123"},
	}}
	r := &PinnedResolver{Index: idx}

	result, err := r.Resolve(context.Background(), Request{
		Dependencies: []string{"requests==2.31.0"},
		IndexURL:     "https://pypi.org/pypi",
	})
	require.NoError(t, err)
	require.Len(t, result.Packages, 1)
	require.Equal(t, "requests", result.Packages[0].Name)
	require.Equal(t, "2.31.0", result.Packages[0].Version)
	require.Equal(t, "abc123", result.Packages[0].SHA256)
}

func TestPinnedResolverRejectsRangeSpecifier(t *testing.T) {
	r := &PinnedResolver{Index: &fakeIndex{}}
	_, err := r.Resolve(context.Background(), Request{Dependencies: []string{"requests>=2.0"}})
	require.Error(t, err)
	var unpinned *UnpinnedSpecifier
	require.ErrorAs(t, err, &unpinned)
}

func TestPinnedResolverPropagatesIndexLookupFailure(t *testing.T) {
	r := &PinnedResolver{Index: &fakeIndex{artifacts: map[string]Artifact{}}}
	_, err := r.Resolve(context.Background(), Request{Dependencies: []string{"missing==1.0"}})
	require.Error(t, err)
}

func TestSplitExactPinRejectsMarkersAndExtras(t *testing.T) {
	_, _, ok := splitExactPin("requests[socks]==2.31.0")
	require.False(t, ok)
	_, _, ok = splitExactPin("requests==2.31.0; python_version>='3.8'")
	require.False(t, ok)
	name, version, ok := splitExactPin(" requests == 2.31.0 ")
	require.True(t, ok)
	require.Equal(t, "requests", name)
	require.Equal(t, "2.31.0", version)
}
