// Package statemachine implements the M/L/E state model: canonical states,
// drift detection richer than fingerprint equality, and the allowed
// transition table per command. Grounded on distri's own implicit
// "rebuild package X iff build.textproto changed since its meta.textproto
// was written" reconciliation, made explicit here as a named state and
// transition table.
package statemachine

import (
	"github.com/px-dev/px/internal/lock"
	"github.com/px-dev/px/internal/manifest"
)

type State string

const (
	Uninitialized    State = "uninitialized"
	InitializedEmpty State = "initialized_empty"
	NeedsLock        State = "needs_lock"
	NeedsEnv         State = "needs_env"
	Consistent       State = "consistent"
)

// ProjectStatus bundles the derived booleans and current state for one
// project directory, computed by Evaluate.
type ProjectStatus struct {
	State         State
	ManifestExists bool
	LockExists     bool
	EnvExists      bool
	ManifestClean  bool // L.mfingerprint matches M, L's version is one px reads, and {mode,project_name,python_requirement} agree; runtime is not compared here (a runtime or platform change makes EnvClean false)
	EnvClean       bool // E points at L's l_id/runtime/platform and its manifest exists

	DriftReasons []string // populated when ManifestClean or EnvClean is false
}

// Inputs bundles everything Evaluate needs to read from disk-backed state
// without this package doing any I/O itself.
type Inputs struct {
	Manifest       *manifest.Manifest // nil if pyproject.toml doesn't exist
	Lock           *lock.Lock         // nil if px.lock doesn't exist
	EnvManifestLID string             // env's recorded l_id, "" if no env
	WantRuntimeABI string
	WantPlatform   string
	EnvRuntimeABI  string
	EnvPlatform    string
	PxVersion      string
	Mode           string // "dev" or "ci"/"frozen"
}

// Evaluate computes the current canonical state and derived booleans.
func Evaluate(in Inputs) (ProjectStatus, error) {
	st := ProjectStatus{
		ManifestExists: in.Manifest != nil,
		LockExists:     in.Lock != nil,
		EnvExists:      in.EnvManifestLID != "",
	}

	if !st.ManifestExists {
		st.State = Uninitialized
		return st, nil
	}
	if !st.LockExists {
		st.State = NeedsLock
		return st, nil
	}

	mfp, err := in.Manifest.Fingerprint()
	if err != nil {
		return ProjectStatus{}, err
	}

	st.ManifestClean = in.Lock.Metadata.MFingerprint == mfp
	if !st.ManifestClean {
		st.DriftReasons = append(st.DriftReasons, "mfingerprint mismatch: manifest has changed since px.lock")
	}
	if in.Lock.Version != lock.V1 && in.Lock.Version != lock.V2 {
		st.ManifestClean = false
		st.DriftReasons = append(st.DriftReasons, "lock_version mismatch")
	}
	if in.Lock.Project.Name != in.Manifest.Project.Name {
		st.ManifestClean = false
		st.DriftReasons = append(st.DriftReasons, "project_name mismatch")
	}
	if in.Lock.Project.Python.Requirement != in.Manifest.Project.RequiresPython {
		st.ManifestClean = false
		st.DriftReasons = append(st.DriftReasons, "python_requirement mismatch")
	}
	if in.Lock.Metadata.Mode != in.Mode {
		st.ManifestClean = false
		st.DriftReasons = append(st.DriftReasons, "mode mismatch")
	}

	if !st.EnvExists {
		if st.ManifestClean {
			st.State = NeedsEnv
		} else {
			st.State = NeedsLock
		}
		return st, nil
	}

	st.EnvClean = st.EnvExists && in.EnvManifestLID == in.Lock.Metadata.LID &&
		in.EnvRuntimeABI == in.WantRuntimeABI && in.EnvPlatform == in.WantPlatform
	if !st.EnvClean {
		st.DriftReasons = append(st.DriftReasons, "env is stale relative to px.lock")
	}

	switch {
	case st.ManifestClean && st.EnvClean:
		st.State = Consistent
	case !st.ManifestClean:
		st.State = NeedsLock
	default:
		st.State = NeedsEnv
	}
	return st, nil
}

// Command names used in the transition table, matching the CLI verb names.
const (
	CmdInit    = "init"
	CmdAdd     = "add"
	CmdRemove  = "remove"
	CmdSync    = "sync"
	CmdUpdate  = "update"
	CmdRun     = "run"
	CmdTest    = "test"
	CmdFmt     = "fmt"
	CmdStatus  = "status"
	CmdWhy     = "why"
	CmdExplain = "explain"
	CmdMigrate = "migrate"
	CmdBuild   = "build"
	CmdPublish = "publish"
	CmdTool    = "tool"
	CmdPython  = "python"
)

// transitionTable maps a command to the set of states it may start from.
// Absence of a command means "read-only everywhere a manifest exists",
// handled separately by AllowedFrom.
var transitionTable = map[string][]State{
	CmdInit:    {Uninitialized},
	CmdAdd:     {InitializedEmpty, Consistent, NeedsLock, NeedsEnv},
	CmdRemove:  {InitializedEmpty, Consistent, NeedsLock, NeedsEnv},
	CmdSync:    {InitializedEmpty, Consistent, NeedsLock, NeedsEnv},
	CmdUpdate:  {NeedsLock, NeedsEnv, Consistent},
	CmdRun:     {Consistent, NeedsEnv},
	CmdTest:    {Consistent, NeedsEnv},
	CmdMigrate: {NeedsLock, NeedsEnv, Consistent},
	CmdBuild:   {Consistent, NeedsEnv},
	CmdPublish: {Consistent},
}

// toolAndPythonCommands operate on the tool store / runtime registry, not
// on the project manifest/lock/env triple; they are allowed regardless of
// project state, including Uninitialized, since `px python install` is
// commonly run before `px init`.
var toolAndPythonCommands = map[string]bool{
	CmdTool: true, CmdPython: true,
}

var readOnlyCommands = map[string]bool{
	CmdFmt: true, CmdStatus: true, CmdWhy: true, CmdExplain: true,
}

// AllowedFrom reports whether cmd may start from st. frozen restricts
// run/test to Consistent and sync to Consistent or NeedsEnv (from a clean
// L, sync only rebuilds E), and refuses init/add/remove/update/migrate,
// which write M or L.
func AllowedFrom(cmd string, st State, frozen bool) bool {
	if toolAndPythonCommands[cmd] {
		return true
	}
	if readOnlyCommands[cmd] {
		return st != Uninitialized
	}
	allowed, ok := transitionTable[cmd]
	if !ok {
		return false
	}
	if frozen {
		switch cmd {
		case CmdRun, CmdTest:
			return st == Consistent
		case CmdSync:
			return st == Consistent || st == NeedsEnv
		case CmdInit, CmdAdd, CmdRemove, CmdUpdate, CmdMigrate:
			return false
		}
	}
	for _, a := range allowed {
		if a == st {
			return true
		}
	}
	return false
}
