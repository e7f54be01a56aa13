// Package config resolves px's environment-variable inputs into a px.Roots
// and a CommandContext, the way env.findDistriRoot resolves DISTRIROOT (with
// a $HOME-relative default) rather than having every call site read the
// environment directly.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	px "github.com/px-dev/px"
	"github.com/px-dev/px/internal/pxerr"
)

// CommandContext bundles the global flags and environment-derived toggles
// every dispatched command needs, mirroring the external-interface mapping
// from CLI flags (-q, -v, --debug, --json, --no-color, --offline/--online,
// --frozen) onto one struct instead of scattering flag reads through
// command implementations.
type CommandContext struct {
	Quiet          bool
	Verbose        bool
	Debug          bool
	JSON           bool
	NoColor        bool
	Offline        bool
	Frozen         bool
	ForceSdist     bool
	NoEnsurePip    bool
	ExtraGroups    []string
	MaxDownloads   int
	ProgressOff    bool
	DebugSitePaths string
	RuntimeRegistry string
	RuntimePython   string
}

// FromEnvironment builds a CommandContext from recognized PX_* environment
// variables plus CI, before CLI flags are overlaid on top (CLI flags always
// take precedence over an environment default).
func FromEnvironment(env func(string) string) CommandContext {
	if env == nil {
		env = os.Getenv
	}
	c := CommandContext{
		Offline:      isOffline(env("PX_ONLINE")),
		Frozen:       isTruthy(env("CI")),
		ForceSdist:   isTruthy(env("PX_FORCE_SDIST")),
		NoEnsurePip:  isTruthy(env("PX_NO_ENSUREPIP")),
		ProgressOff:  env("PX_PROGRESS") == "0",
		MaxDownloads: clampDownloads(env("PX_DOWNLOADS")),
		DebugSitePaths:  env("PX_DEBUG_SITE_PATHS"),
		RuntimeRegistry: env("PX_RUNTIME_REGISTRY"),
		RuntimePython:   env("PX_RUNTIME_PYTHON"),
	}
	if groups := env("PX_GROUPS"); groups != "" {
		for _, g := range strings.Split(groups, ",") {
			g = strings.TrimSpace(g)
			if g != "" {
				c.ExtraGroups = append(c.ExtraGroups, g)
			}
		}
	}
	return c
}

// isOffline implements PX_ONLINE's documented falsy set: "0", "false",
// "no", "off", or unset/empty all mean offline; anything else means
// online.
func isOffline(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no", "off", "":
		return true
	default:
		return false
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// clampDownloads parses PX_DOWNLOADS, clamping to [1, 16] and falling back
// to 4 for an unset or unparsable value.
func clampDownloads(v string) int {
	const def = 4
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < 1 {
		return 1
	}
	if n > 16 {
		return 16
	}
	return n
}

// Roots is the resolved on-disk layout, extended with the tool/sandbox
// paths px.Roots doesn't carry; PxRoots projects the subset every
// object-store subsystem actually needs.
type Roots struct {
	Cache    string
	Store    string
	Envs     string
	PycCache string
	Tools    string

	ToolStore    string
	SandboxStore string
}

// ResolveRoots applies PX_CACHE_PATH and its more specific overrides
// (PX_STORE_PATH, PX_ENVS_PATH, PX_TOOLS_DIR, PX_TOOL_STORE,
// PX_SANDBOX_STORE) over a $HOME/.px default, the same override-over-
// default shape env.findDistriRoot uses for DISTRIROOT.
func ResolveRoots(env func(string) string) (Roots, error) {
	if env == nil {
		env = os.Getenv
	}
	cache := env("PX_CACHE_PATH")
	if cache == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Roots{}, pxerr.HomeDirectoryUnresolved(err)
		}
		cache = filepath.Join(home, ".px")
	}

	r := Roots{
		Cache:    cache,
		Store:    override(env("PX_STORE_PATH"), filepath.Join(cache, "store")),
		Envs:     override(env("PX_ENVS_PATH"), filepath.Join(cache, "envs")),
		PycCache: filepath.Join(cache, "cache", "pyc"),
		Tools:    override(env("PX_TOOLS_DIR"), filepath.Join(cache, "tools")),
	}
	r.ToolStore = override(env("PX_TOOL_STORE"), filepath.Join(r.Tools, "store"))
	r.SandboxStore = override(env("PX_SANDBOX_STORE"), filepath.Join(cache, "sandbox"))
	return r, nil
}

func override(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// PxRoots projects r onto the root package's Roots, the shape every
// subsystem below cmd/px actually takes.
func (r Roots) PxRoots() px.Roots {
	return px.Roots{Cache: r.Cache, Store: r.Store, Envs: r.Envs, PycCache: r.PycCache, Tools: r.Tools}
}

// FindProjectRoot walks up from startDir looking for pyproject.toml,
// mirroring env.findDistriRoot's walk-up-to-$HOME search except it stops
// at the first pyproject.toml found rather than reading a fixed env var.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", xerrorsAbs(startDir, err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "pyproject.toml")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", pxerr.NoProjectRoot(startDir)
		}
		dir = parent
	}
}

func xerrorsAbs(dir string, cause error) error {
	return pxerr.New("PX002", "cannot resolve an absolute path for "+dir,
		[]string{cause.Error()}, []string{"check that the current directory is accessible"})
}
