// Package migrate defines the legacy-format import collaborator the core
// depends on but does not implement: an Importer turns an existing
// requirements.txt, Pipfile.lock, or poetry.lock into the manifest
// dependency specifiers px's resolver can consume. Grounded on
// internal/resolve's Resolver/IndexClient split: the core depends only on
// this interface, never on a specific legacy lock format's parser.
package migrate

import "context"

// Imported is one dependency specifier recovered from a legacy format,
// already normalized to the "name==version" shape PinnedResolver requires.
type Imported struct {
	Specifier string
	Source    string // the legacy file this specifier was read from
}

// Importer reads a legacy dependency file at path and returns the
// specifiers it declares. The core never inspects which legacy format an
// Importer understands.
type Importer interface {
	Import(ctx context.Context, path string) ([]Imported, error)
}

// UnsupportedFormat is returned by NullImporter for every path: importing
// a legacy format requires a concrete Importer this repository does not
// ship, the same way internal/resolve.PinnedResolver fails closed on a
// specifier it cannot solve rather than guessing.
type UnsupportedFormat struct {
	Path string
}

func (e *UnsupportedFormat) Error() string {
	return "migrate: no Importer is wired for " + e.Path + "; legacy-format parsing is an external collaborator"
}

// NullImporter is the default Importer: it recognizes no format and fails
// closed, naming exactly what isn't wired rather than silently producing
// an empty or guessed dependency set.
type NullImporter struct{}

func (NullImporter) Import(ctx context.Context, path string) ([]Imported, error) {
	return nil, &UnsupportedFormat{Path: path}
}
