package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/xerrors"
)

// PyPIIndexClient implements IndexClient against a PyPI-style JSON API
// (GET <indexURL>/<name>/<version>/json), grounded on
// internal/builder.HTTPFetcher: a shared *http.Client, explicit
// status-code handling, and no retry logic: a failed request is returned
// to the caller as is.
type PyPIIndexClient struct {
	Client *http.Client
}

func NewPyPIIndexClient() *PyPIIndexClient {
	return &PyPIIndexClient{
		Client: &http.Client{
			Transport: &http.Transport{MaxIdleConnsPerHost: 10},
		},
	}
}

type pypiVersionResponse struct {
	URLs []struct {
		Filename string `json:"filename"`
		URL      string `json:"url"`
		Digests  struct {
			SHA256 string `json:"sha256"`
		} `json:"digests"`
		PackageType string `json:"packagetype"`
	} `json:"urls"`
}

// FetchArtifact queries indexURL for name/version and returns the first
// wheel artifact listed, falling back to the first sdist if no wheel is
// present. It does not attempt platform/ABI tag matching; a resolver that
// needs a specific wheel tag should implement its own IndexClient.
func (c *PyPIIndexClient) FetchArtifact(ctx context.Context, indexURL, name, version string) (Artifact, error) {
	url := fmt.Sprintf("%s/%s/%s/json", indexURL, name, version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Artifact{}, xerrors.Errorf("fetch_artifact: %w", err)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return Artifact{}, xerrors.Errorf("fetch_artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Artifact{}, xerrors.Errorf("fetch_artifact: %s@%s: not found on %s", name, version, indexURL)
	}
	if resp.StatusCode != http.StatusOK {
		return Artifact{}, xerrors.Errorf("fetch_artifact: %s: HTTP status %s", url, resp.Status)
	}

	var parsed pypiVersionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Artifact{}, xerrors.Errorf("fetch_artifact: decode %s: %w", url, err)
	}

	var sdist *Artifact
	for _, u := range parsed.URLs {
		art := Artifact{Filename: u.Filename, URL: u.URL, SHA256: u.Digests.SHA256}
		if u.PackageType == "bdist_wheel" {
			return art, nil
		}
		if u.PackageType == "sdist" && sdist == nil {
			sdist = &art
		}
	}
	if sdist != nil {
		return *sdist, nil
	}
	return Artifact{}, xerrors.Errorf("fetch_artifact: %s@%s: no downloadable artifact listed", name, version)
}
