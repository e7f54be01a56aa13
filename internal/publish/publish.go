// Package publish defines the package-index publish collaborator the core
// depends on but does not implement: a Publisher uploads one built
// artifact to a package index. Grounded on internal/resolve's
// Resolver/IndexClient split and internal/migrate's Importer: the core
// depends only on this interface, never on a specific index's upload
// protocol (PyPI's twine-compatible API, a private index, or otherwise).
package publish

import "context"

// Artifact is one built distribution file ready to upload.
type Artifact struct {
	Path     string // path to the wheel or sdist on disk
	Filename string
	SHA256   string
}

// Publisher uploads art to indexURL. The core never speaks a specific
// index's wire protocol directly.
type Publisher interface {
	Publish(ctx context.Context, indexURL string, art Artifact) error
}

// NotConfigured is returned by NullPublisher for every call: uploading to
// a package index requires credentials and a concrete Publisher this
// repository does not ship, so it fails closed rather than silently
// reporting success.
type NotConfigured struct {
	IndexURL string
}

func (e *NotConfigured) Error() string {
	return "publish: no Publisher is configured for " + e.IndexURL
}

// NullPublisher is the default Publisher: it always fails closed, naming
// exactly what isn't wired.
type NullPublisher struct{}

func (NullPublisher) Publish(ctx context.Context, indexURL string, art Artifact) error {
	return &NotConfigured{IndexURL: indexURL}
}
