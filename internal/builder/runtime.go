package builder

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"

	"github.com/px-dev/px/internal/pxerr"
)

// LocalRuntimeProvider materializes an interpreter tree by locating an
// already-installed CPython on the host (via a configured registry of
// name -> executable path, falling back to PATH lookup) and copying that
// one executable into the scratch directory as bin/python3, with a
// bin/python symlink and an empty lib/; the interpreter's standard
// library is not copied. It is the simplest RuntimeProvider
// that satisfies the contract without needing network access to a
// CPython distribution mirror; a networked provider fetching prebuilt
// interpreters would implement the same interface and could replace this
// one without touching internal/cas.
type LocalRuntimeProvider struct {
	// Registry maps "cpython-3.11" style specs to a concrete interpreter
	// executable path. A spec absent from Registry falls back to
	// exec.LookPath("python3").
	Registry map[string]string
}

func (p *LocalRuntimeProvider) Provide(ctx context.Context, req RuntimeRequest) (string, error) {
	spec := req.ABI
	bin, ok := p.Registry[spec]
	if !ok {
		var err error
		bin, err = exec.LookPath("python3")
		if err != nil {
			return "", pxerr.RuntimeUnavailable(spec)
		}
	}
	resolved, err := filepath.EvalSymlinks(bin)
	if err != nil {
		return "", xerrors.Errorf("provide_runtime(%s): %w", spec, err)
	}

	treeRoot := filepath.Join(req.ScratchDir, "image")
	binDir := filepath.Join(treeRoot, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return "", xerrors.Errorf("provide_runtime(%s): %w", spec, err)
	}
	if err := copyExecutable(resolved, filepath.Join(binDir, "python3")); err != nil {
		return "", xerrors.Errorf("provide_runtime(%s): %w", spec, err)
	}
	if err := os.Symlink("python3", filepath.Join(binDir, "python")); err != nil {
		return "", xerrors.Errorf("provide_runtime(%s): %w", spec, err)
	}

	libDir := filepath.Join(treeRoot, "lib")
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		return "", xerrors.Errorf("provide_runtime(%s): %w", spec, err)
	}

	return treeRoot, nil
}

func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// RegistryFromSpec parses the PX_RUNTIME_REGISTRY env var value, a
// comma-separated "abi=path" list, into a LocalRuntimeProvider.Registry map.
func RegistryFromSpec(raw string) map[string]string {
	out := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		abi, path, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(abi)] = strings.TrimSpace(path)
	}
	return out
}
