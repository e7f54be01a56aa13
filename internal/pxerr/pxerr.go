// Package pxerr implements the PXnnn error taxonomy. Every error
// that should be shown to a user carries a stable code, a short summary, and
// Why/Fix bullet lists; lower layers construct these and higher layers wrap
// them with xerrors.Errorf("...: %w", err) to add transition context without
// losing the taxonomy, the way distri's internal/build wraps subprocess and
// digest failures.
package pxerr

import (
	"fmt"
	"strings"
)

// Error is a user-facing px failure: a stable code family plus remediation
// guidance. It implements error and is safe to wrap with xerrors.Errorf.
type Error struct {
	Code    string // e.g. "PX800"
	Summary string
	Why     []string
	Fix     []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s", e.Code, e.Summary)
}

// Report renders the multi-line Why/Fix text shown to a user on failure.
func (e *Error) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", e.Code, e.Summary)
	if len(e.Why) > 0 {
		b.WriteString("Why:\n")
		for _, w := range e.Why {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}
	if len(e.Fix) > 0 {
		b.WriteString("Fix:\n")
		for _, f := range e.Fix {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
	}
	return b.String()
}

// Retryable reports whether the error's code family is documented safe to
// retry unconditionally.
func (e *Error) Retryable() bool {
	switch e.Code {
	case "PX800", "PX810":
		return true
	default:
		return false
	}
}

func New(code, summary string, why, fix []string) *Error {
	return &Error{Code: code, Summary: summary, Why: why, Fix: fix}
}

// Constructors for the well-known PXnnn codes. Each one takes
// the detail that varies per call site (an oid, a path, a transition name)
// and fills in boilerplate Why/Fix text.

func ObjectMissing(oid string) *Error {
	return New("PX800", fmt.Sprintf("object %s is missing or corrupt", oid),
		[]string{
			fmt.Sprintf("no readable blob exists at objects/<prefix>/%s", oid),
			"or the blob's digest disagrees with its path",
		},
		[]string{
			"run `px doctor` to verify and repair the store",
			"re-run the command that produced this object reference",
		})
}

func StoreWriteFailure(path string, cause error) *Error {
	return New("PX810", fmt.Sprintf("failed to write store object at %s", path),
		[]string{cause.Error()},
		[]string{
			"check available disk space and permissions under the store root",
			"retry the command; store writes are safe to retry",
		})
}

func IndexCorruption(cause error) *Error {
	return New("PX811", "the object index is corrupt",
		[]string{cause.Error()},
		[]string{"px will rebuild the index automatically from on-disk manifests on next open"})
}

func FormatMismatch(gotVersion, wantVersion string) *Error {
	return New("PX812", fmt.Sprintf("index format %s is incompatible with this px build (want %s)", gotVersion, wantVersion),
		[]string{"cas_format_version in the index meta table does not match this binary"},
		[]string{
			"run `px doctor --rebuild-index` to migrate",
			"or remove the store and let px repopulate it",
		})
}

func HomeDirectoryUnresolved(cause error) *Error {
	return New("PX001", "cannot resolve a home directory for the default cache root",
		[]string{cause.Error()},
		[]string{"set PX_CACHE_PATH explicitly"})
}

func NoProjectRoot(dir string) *Error {
	return New("PX000", "no pyproject.toml found in "+dir+" or any parent directory",
		[]string{"px commands that require a project must run inside one"},
		[]string{"run `px init` to create a new project here", "cd into an existing project"})
}

func ManifestDrift(reason string) *Error {
	return New("PX120", "manifest has changed since px.lock",
		[]string{reason},
		[]string{"run `px sync` to re-lock", "or `px sync --frozen` to fail fast in CI"})
}

func MissingLock() *Error {
	return New("PX100", "no px.lock present for this project",
		[]string{"frozen mode refuses to create a lock"},
		[]string{"run `px sync` outside of frozen/CI mode once to create px.lock", "commit px.lock"})
}

func EnvStale(reason string) *Error {
	return New("PX200", "env is stale relative to px.lock",
		[]string{reason},
		[]string{"run `px sync` to refresh the env"})
}

func RuntimeUnavailable(spec string) *Error {
	return New("PX300", fmt.Sprintf("no compatible interpreter for %s", spec),
		[]string{"no runtime object satisfies the requested version/abi/platform"},
		[]string{"run `px python install` for a matching version"})
}

func PipMutationBlocked(verb string) *Error {
	return New("PX205", fmt.Sprintf("pip %s is blocked inside a px env", verb),
		[]string{"px envs are immutable projections of px.lock; pip would silently diverge from the lock"},
		[]string{"edit pyproject.toml and run `px add`/`px remove`/`px sync` instead"})
}

func FrozenWriteRefused(what string) *Error {
	return New("PX110", fmt.Sprintf("frozen mode refuses to write %s", what),
		[]string{"--frozen (or CI=1) forbids mutating the manifest or lock"},
		[]string{"run the command without --frozen", "or run `px sync` interactively first and commit the result"})
}

func ToolNotInstalled(name string) *Error {
	return New("PX211", "tool "+name+" is not installed",
		[]string{"no profile is recorded for tools/" + name},
		[]string{"run `px tool install " + name + "` first"})
}

func SubprocessFailed(exitCode int) *Error {
	return New("PX900", fmt.Sprintf("launched subprocess exited %d", exitCode),
		nil,
		[]string{"this is the target program's own exit status, not a px failure"})
}
