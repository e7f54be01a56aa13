package cas

import (
	"log"

	"github.com/px-dev/px/internal/builder"
	"github.com/px-dev/px/internal/index"
	"github.com/px-dev/px/internal/store"
)

// Engine bundles the collaborators every ensure_* operation needs, the way
// distri's build.Ctx bundles Repo/Arch/GlobHook into one struct threaded
// through every build step rather than reaching for package-level globals.
type Engine struct {
	Store   *store.Store
	Index   *index.Index
	Fetcher builder.Fetcher
	Builder builder.Builder
	Runtime builder.RuntimeProvider
	Log     *log.Logger

	// PxVersion feeds builder.BuilderFor; bumping it bumps every
	// downstream pkg_build_oid.
	PxVersion string
}

// Clone returns a shallow copy, mirroring distri's build.Ctx.Clone used when
// fanning out per-package build contexts from one DefaultBuildCtx.
func (e *Engine) Clone() *Engine {
	c := *e
	return &c
}
