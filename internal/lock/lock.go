// Package lock reads and writes px.lock: the machine-emitted resolved
// dependency graph, TOML-encoded and versioned (v1 flat dependency list,
// v2 adds a node/target/artifact graph). Both versions normalize to the
// same comparable snapshot for drift detection.
package lock

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"

	"github.com/px-dev/px/internal/canon"
)

const (
	V1 = 1
	V2 = 2
)

type Metadata struct {
	Mode         string `toml:"mode"`
	MFingerprint string `toml:"mfingerprint"`
	LID          string `toml:"l_id"`
	PxVersion    string `toml:"px_version"`
	CreatedAt    string `toml:"created_at"`
}

type ProjectRef struct {
	Name   string       `toml:"name"`
	Python PythonPinned `toml:"python"`
}

type PythonPinned struct {
	Requirement string `toml:"requirement"`
}

type Artifact struct {
	Filename    string `toml:"filename"`
	URL         string `toml:"url"`
	SHA256      string `toml:"sha256"`
	Size        int64  `toml:"size"`
	CachedPath  string `toml:"cached_path,omitempty"`
	PythonTag   string `toml:"python_tag,omitempty"`
	ABITag      string `toml:"abi_tag,omitempty"`
	PlatformTag string `toml:"platform_tag,omitempty"`
}

type Dependency struct {
	Name      string   `toml:"name"`
	Specifier string   `toml:"specifier"`
	Artifact  Artifact `toml:"artifact"`
}

type GraphNode struct {
	Name    string   `toml:"name"`
	Version string   `toml:"version"`
	Deps    []string `toml:"deps,omitempty"`
}

type GraphTarget struct {
	RuntimeABI string `toml:"runtime_abi"`
	Platform   string `toml:"platform"`
}

type GraphArtifact struct {
	Node     string   `toml:"node"`
	Artifact Artifact `toml:"artifact"`
}

type Graph struct {
	Nodes     []GraphNode     `toml:"nodes,omitempty"`
	Targets   []GraphTarget   `toml:"targets,omitempty"`
	Artifacts []GraphArtifact `toml:"artifacts,omitempty"`
}

// Lock is the parsed px.lock. Version selects which optional sections are
// populated; both normalize through Snapshot to the same comparable shape.
type Lock struct {
	Version      int          `toml:"version"`
	Metadata     Metadata     `toml:"metadata"`
	Project      ProjectRef   `toml:"project"`
	Dependencies []Dependency `toml:"dependencies,omitempty"`
	Graph        Graph        `toml:"graph,omitempty"`
}

// Load parses path as a px.lock file.
func Load(path string) (*Lock, error) {
	var l Lock
	if _, err := toml.DecodeFile(path, &l); err != nil {
		return nil, xerrors.Errorf("lock: read %s: %w", path, err)
	}
	return &l, nil
}

// NewEmpty builds the zero-dependency lock scenario 1 of the test matrix
// expects: zero [[dependencies]] entries and mfingerprint == fingerprint
// of an empty manifest.
func NewEmpty(projectName, pythonRequirement, mfingerprint, pxVersion string, now time.Time) *Lock {
	l := &Lock{
		Version: V1,
		Metadata: Metadata{
			Mode:         "dev",
			MFingerprint: mfingerprint,
			PxVersion:    pxVersion,
			CreatedAt:    now.UTC().Format(time.RFC3339),
		},
		Project: ProjectRef{
			Name:   projectName,
			Python: PythonPinned{Requirement: pythonRequirement},
		},
		Dependencies: []Dependency{},
	}
	l.Metadata.LID = l.mustLID()
	return l
}

// LID recomputes l_id = sha256(full_lock_bytes) over everything except the
// l_id field itself, so the value is stable to compute but still uniquely
// names one lock's full content.
func (l *Lock) LID() (string, error) {
	payload := map[string]interface{}{
		"version":      l.Version,
		"mode":         l.Metadata.Mode,
		"mfingerprint": l.Metadata.MFingerprint,
		"px_version":   l.Metadata.PxVersion,
		"created_at":   l.Metadata.CreatedAt,
		"project":      l.Project,
		"dependencies": l.Dependencies,
		"graph":        l.Graph,
	}
	return canon.DigestOf(canon.KindMeta, payload)
}

func (l *Lock) mustLID() string {
	id, err := l.LID()
	if err != nil {
		panic(err) // payload is built entirely from this type's own fields; encoding cannot fail
	}
	return id
}

// Write atomically rewrites path with l, recomputing l_id first.
func (l *Lock) Write(path string) error {
	id, err := l.LID()
	if err != nil {
		return xerrors.Errorf("lock: %w", err)
	}
	l.Metadata.LID = id

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return xerrors.Errorf("lock: write %s: %w", path, err)
	}
	if err := toml.NewEncoder(f).Encode(l); err != nil {
		f.Close()
		os.Remove(tmp)
		return xerrors.Errorf("lock: encode %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return xerrors.Errorf("lock: sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return xerrors.Errorf("lock: close %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// Snapshot is the comparable shape v1 and v2 locks both normalize to for
// drift detection: the dependency set independent of which graph
// representation produced it.
type Snapshot struct {
	Mode        string
	PxVersion   string
	ProjectName string
	PythonReq   string
	Packages    map[string]string // name -> specifier
}

func (l *Lock) Snapshot() Snapshot {
	s := Snapshot{
		Mode:        l.Metadata.Mode,
		PxVersion:   l.Metadata.PxVersion,
		ProjectName: l.Project.Name,
		PythonReq:   l.Project.Python.Requirement,
		Packages:    make(map[string]string),
	}
	switch l.Version {
	case V2:
		for _, n := range l.Graph.Nodes {
			s.Packages[n.Name] = "==" + n.Version
		}
	default:
		for _, d := range l.Dependencies {
			s.Packages[d.Name] = d.Specifier
		}
	}
	return s
}
