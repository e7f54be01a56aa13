// Package runtimeenv builds the process environment every launched
// interpreter runs under: the PYTHONPYCACHEPREFIX redirect, proxy-variable
// hygiene, a plugin-import preflight, and a guard that refuses to let pip
// mutate a px-managed env out from under its lock. Grounded on distri's
// internal/build.go, which assembles a fresh []string of "KEY=value" pairs
// per build step (PATH, LD_LIBRARY_PATH, PYTHONPATH, ...) rather than
// mutating os.Environ() in place.
package runtimeenv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/px-dev/px/internal/pxerr"
)

// Options configures one launch's environment assembly.
type Options struct {
	ProfileOID      string
	PycCacheRoot    string // supplied by the caller (config sets <cache_root>/pyc); Build applies no default, so empty gives a path relative to the working directory
	AllowProxyVars  bool   // user explicitly opted in to keep HTTP(S)_PROXY/NO_PROXY
	InheritedEnviron []string
}

// Build returns the full "KEY=value" environ for a launched interpreter:
// the inherited environment (proxy variables stripped unless opted in)
// plus PYTHONPYCACHEPREFIX pointed at a profile-private pyc cache
// directory, which is created on demand.
func Build(opt Options) ([]string, error) {
	pycDir := filepath.Join(opt.PycCacheRoot, opt.ProfileOID)
	if err := os.MkdirAll(pycDir, 0o755); err != nil {
		return nil, pxerr.New("PX201", "pyc cache directory is not writable",
			[]string{err.Error()},
			[]string{"check permissions under " + opt.PycCacheRoot, "or set PX_CACHE_PATH to a writable location"})
	}

	out := make([]string, 0, len(opt.InheritedEnviron)+1)
	for _, kv := range opt.InheritedEnviron {
		key := envKey(kv)
		if !opt.AllowProxyVars && isProxyVar(key) {
			continue
		}
		if key == "PYTHONPYCACHEPREFIX" {
			continue // overridden below
		}
		out = append(out, kv)
	}
	out = append(out, "PYTHONPYCACHEPREFIX="+pycDir)
	return out, nil
}

func envKey(kv string) string {
	if idx := strings.IndexByte(kv, '='); idx >= 0 {
		return kv[:idx]
	}
	return kv
}

var proxyVarNames = map[string]bool{
	"HTTP_PROXY": true, "HTTPS_PROXY": true, "NO_PROXY": true,
	"http_proxy": true, "https_proxy": true, "no_proxy": true,
}

func isProxyVar(key string) bool { return proxyVarNames[key] }

// PreflightResult records whether every manifest-declared plugin-imports
// module imported cleanly.
type PreflightResult struct {
	OK     bool
	Failed []string
}

// ImportChecker imports a single module name inside the target runtime and
// reports whether it succeeded; dispatch supplies a concrete
// implementation that shells out to the resolved interpreter.
type ImportChecker func(module string) error

// Preflight runs checker against every module in modules, continuing past
// failures so every broken import is reported rather than just the first.
// It never blocks the launch: the caller still executes the target
// regardless of the result, only the PX_PLUGIN_PREFLIGHT marker changes.
func Preflight(modules []string, checker ImportChecker) PreflightResult {
	res := PreflightResult{OK: true}
	for _, m := range modules {
		if err := checker(m); err != nil {
			res.OK = false
			res.Failed = append(res.Failed, m)
		}
	}
	return res
}

// PreflightEnvVar returns the PX_PLUGIN_PREFLIGHT value to set for res.
func PreflightEnvVar(res PreflightResult) string {
	if res.OK {
		return "1"
	}
	return "0"
}

// PipInvocation describes one attempted subprocess launch inside a px env,
// as parsed by the CAS-native executor or env launcher before exec.
type PipInvocation struct {
	Argv []string
}

// pipMutatingVerbs are pip subcommands that would mutate site-packages out
// from under the lock's recorded package set.
var pipMutatingVerbs = map[string]bool{"install": true, "uninstall": true}

// BlockPipMutation inspects argv for a direct `pip install/uninstall` or
// `python -m pip install/uninstall` invocation and returns a PX205 error if
// found; read-only pip subcommands (list, show, freeze, ...) pass through.
func BlockPipMutation(argv []string) error {
	verb, ok := pipVerb(argv)
	if !ok {
		return nil
	}
	if pipMutatingVerbs[verb] {
		return pxerr.PipMutationBlocked(verb)
	}
	return nil
}

// pipVerb extracts the pip subcommand from argv, handling both a direct
// `pip <verb>` invocation and the `python -m pip <verb>` form.
func pipVerb(argv []string) (verb string, ok bool) {
	if len(argv) == 0 {
		return "", false
	}
	i := 0
	name := filepath.Base(argv[0])
	if name == "pip" || strings.HasPrefix(name, "pip3") {
		i = 1
	} else if isPythonBinary(name) {
		for j := 1; j < len(argv)-1; j++ {
			if argv[j] == "-m" && argv[j+1] == "pip" {
				i = j + 2
				break
			}
		}
		if i == 0 {
			return "", false
		}
	} else {
		return "", false
	}
	if i >= len(argv) {
		return "", false
	}
	return argv[i], true
}

func isPythonBinary(name string) bool {
	return name == "python" || strings.HasPrefix(name, "python3")
}

// DescribeBlock renders a user-facing message for a blocked invocation,
// used by the CLI surface when it needs to short-circuit before even
// constructing a subprocess.
func DescribeBlock(argv []string, err error) string {
	return fmt.Sprintf("refused to run %q: %v", strings.Join(argv, " "), err)
}
