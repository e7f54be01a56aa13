// Package main implements the px CLI: a thin cobra-based dispatch layer
// over internal/dispatch, internal/statemachine, internal/cas, and the
// other core packages. It owns flag parsing, output formatting, and exit
// codes, and nothing else, the way distri's cmd/distri/distri.go wires
// flags and a verb table over the real work done in distri's own
// internal/build, internal/install, and internal/batch packages.
package main

import (
	"context"
	"log"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/xerrors"

	"github.com/px-dev/px/internal/builder"
	"github.com/px-dev/px/internal/cas"
	"github.com/px-dev/px/internal/config"
	"github.com/px-dev/px/internal/index"
	"github.com/px-dev/px/internal/resolve"
	"github.com/px-dev/px/internal/store"
)

const pxVersion = "0.1.0"

// app bundles everything a command implementation needs: resolved roots,
// the merged CommandContext, and lazily-opened store/index/engine
// handles. One app is built per process invocation in main and threaded
// through every cobra RunE via closures, never through package globals.
type app struct {
	roots   config.Roots
	cmdctx  config.CommandContext
	workDir string
	logger  *log.Logger

	store  *store.Store
	idx    *index.Index
	engine *cas.Engine
}

func newApp(cmdctx config.CommandContext, workDir string) (*app, error) {
	roots, err := config.ResolveRoots(os.Getenv)
	if err != nil {
		return nil, err
	}
	a := &app{
		roots:   roots,
		cmdctx:  cmdctx,
		workDir: workDir,
		logger:  log.New(os.Stderr, "", 0),
	}
	return a, nil
}

// progressAllowed reports whether interactive progress output should be
// emitted: it is suppressed in --json mode, in --quiet mode, when
// PX_PROGRESS=0, and whenever stderr is not a terminal.
func (a *app) progressAllowed() bool {
	if a.cmdctx.JSON || a.cmdctx.Quiet || a.cmdctx.ProgressOff {
		return false
	}
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}

// openStore opens (creating if necessary) the CAS store and its index,
// rebuilding the index from on-disk manifests if it fails its health
// check. Subsequent calls reuse the same handles.
func (a *app) openStore(ctx context.Context) (*store.Store, *index.Index, error) {
	if a.store != nil && a.idx != nil {
		return a.store, a.idx, nil
	}
	s := store.Open(a.roots.Store)
	if err := s.EnsureLayout(); err != nil {
		return nil, nil, err
	}
	idx, err := index.Open(s.IndexPath())
	if err != nil {
		return nil, nil, err
	}
	if err := idx.HealthCheck(ctx); err != nil {
		a.logger.Printf("px: index failed health check, rebuilding: %v", err)
		if err := idx.Rebuild(ctx, index.RebuildInput{
			Store:    a.roots.Store,
			Envs:     a.roots.Envs,
			Runtimes: s.RuntimesDir(),
		}, a.logger); err != nil {
			idx.Close()
			return nil, nil, xerrors.Errorf("open_store: %w", err)
		}
	}
	a.store, a.idx = s, idx
	return s, idx, nil
}

// engineFor builds (once) the cas.Engine with the concrete Fetcher,
// Builder, and RuntimeProvider collaborators the environment is
// configured for: an HTTPFetcher against the configured index, a
// SubprocessBuilder invoking the host's pip without build isolation, and a
// LocalRuntimeProvider resolving against PX_RUNTIME_REGISTRY.
func (a *app) engineFor(ctx context.Context) (*cas.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	s, idx, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.engine = &cas.Engine{
		Store:   s,
		Index:   idx,
		Fetcher: builder.NewHTTPFetcher(),
		Builder: &builder.SubprocessBuilder{},
		Runtime: &builder.LocalRuntimeProvider{Registry: builder.RegistryFromSpec(a.cmdctx.RuntimeRegistry)},
		Log:     a.logger,
		PxVersion: pxVersion,
	}
	return a.engine, nil
}

// resolverFor builds the Resolver collaborator every add/remove/sync/update
// command consumes. PinnedResolver is the only Resolver shipped in this
// repository: it requires exact "==" pins and fetches artifact metadata
// from a PyPI-style index, deferring real PEP 508/440 range solving to an
// external resolver plugin (out of scope for the core, see internal/resolve).
func (a *app) resolverFor() resolve.Resolver {
	return &resolve.PinnedResolver{Index: resolve.NewPyPIIndexClient()}
}

func (a *app) close() {
	if a.idx != nil {
		a.idx.Close()
	}
}

func defaultIndexURL() string {
	if v := os.Getenv("PX_INDEX_URL"); v != "" {
		return v
	}
	return "https://pypi.org/pypi"
}
