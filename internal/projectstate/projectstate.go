// Package projectstate reads and writes .px/state.json: the per-project
// local pointer naming which lock, runtime, and materialized env a
// project directory is currently wired to. It is the authoritative
// source statemachine.Evaluate's EnvManifestLID/EnvRuntimeABI/EnvPlatform
// inputs are read from, grounded on internal/lock and internal/manifest's
// own temp-file-plus-rename atomic write, the same durability distri's
// internal/build gives build.textproto edits.
package projectstate

import (
	"encoding/json"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

// State is the .px/state.json shape: {lock_id, runtime, platform,
// profile_oid, env_path}.
type State struct {
	LockID     string `json:"lock_id"`
	Runtime    string `json:"runtime"`     // runtime ABI spec, e.g. "cpython-3.11"
	Platform   string `json:"platform"`
	ProfileOID string `json:"profile_oid"`
	EnvPath    string `json:"env_path"`
}

// Path returns the .px/state.json path under projectDir.
func Path(projectDir string) string {
	return filepath.Join(projectDir, ".px", "state.json")
}

// Load reads projectDir's state.json. A missing file is not an error: it
// returns the zero State, the same "no env yet" signal
// statemachine.Evaluate expects from an empty EnvManifestLID.
func Load(projectDir string) (State, error) {
	b, err := os.ReadFile(Path(projectDir))
	if os.IsNotExist(err) {
		return State{}, nil
	}
	if err != nil {
		return State{}, xerrors.Errorf("projectstate: read %s: %w", projectDir, err)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return State{}, xerrors.Errorf("projectstate: parse %s: %w", projectDir, err)
	}
	return st, nil
}

// Write atomically rewrites projectDir's state.json, creating .px/ if
// needed.
func Write(projectDir string, st State) error {
	dir := filepath.Join(projectDir, ".px")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Errorf("projectstate: mkdir %s: %w", dir, err)
	}
	path := Path(projectDir)
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return xerrors.Errorf("projectstate: encode: %w", err)
	}
	f, err := os.Create(tmp)
	if err != nil {
		return xerrors.Errorf("projectstate: write %s: %w", path, err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return xerrors.Errorf("projectstate: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return xerrors.Errorf("projectstate: sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return xerrors.Errorf("projectstate: close %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// Remove deletes projectDir's state.json, used when tearing an env down
// without removing the project (e.g. a future `px env clean`).
func Remove(projectDir string) error {
	err := os.Remove(Path(projectDir))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
