package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	px "github.com/px-dev/px"
	"github.com/px-dev/px/internal/config"
)

// flags holds the parsed global persistent flags, merged with
// config.FromEnvironment() defaults before any command's RunE observes
// it: CLI flags always take precedence over an environment default.
var flags struct {
	quiet    bool
	verbose  bool
	debug    bool
	jsonOut  bool
	noColor  bool
	online   bool
	offline  bool
	frozen   bool
}

func buildCommandContext() config.CommandContext {
	c := config.FromEnvironment(os.Getenv)
	c.Quiet = flags.quiet
	c.Verbose = flags.verbose
	c.Debug = flags.debug
	c.JSON = flags.jsonOut
	c.NoColor = flags.noColor
	if flags.offline {
		c.Offline = true
	}
	if flags.online {
		c.Offline = false
	}
	if flags.frozen {
		c.Frozen = true
	}
	return c
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "px",
		Short:         "px: a deterministic, content-addressed build and environment engine for Python projects",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.BoolVarP(&flags.quiet, "quiet", "q", false, "suppress non-essential output")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "emit additional diagnostic output")
	pf.BoolVar(&flags.debug, "debug", false, "format errors with full detail (Why/Fix and wrapped chain)")
	pf.BoolVar(&flags.jsonOut, "json", false, "render command outcomes as a JSON envelope instead of text")
	pf.BoolVar(&flags.noColor, "no-color", false, "disable ANSI color in text output")
	pf.BoolVar(&flags.online, "online", false, "allow network access this invocation (overrides PX_ONLINE)")
	pf.BoolVar(&flags.offline, "offline", false, "forbid network access this invocation (overrides PX_ONLINE)")
	pf.BoolVar(&flags.frozen, "frozen", false, "refuse to write the manifest or lock (overrides CI)")

	root.AddCommand(
		newInitCmd(),
		newAddCmd(),
		newRemoveCmd(),
		newSyncCmd(),
		newUpdateCmd(),
		newRunCmd(),
		newTestCmd(),
		newFmtCmd(),
		newStatusCmd(),
		newWhyCmd(),
		newExplainCmd(),
		newMigrateCmd(),
		newBuildCmd(),
		newPublishCmd(),
		newToolCmd(),
		newPythonCmd(),
		newGCCmd(),
		newDoctorCmd(),
	)
	return root
}

func funcmain() int {
	ctx, cancel := px.InterruptibleContext()
	defer cancel()

	root := newRootCmd()
	root.SetContext(ctx)

	err := root.Execute()
	if atErr := px.RunAtExit(); err == nil {
		err = atErr
	}
	if err == nil {
		return exitOK
	}
	if ec, ok := err.(exitCoder); ok {
		return ec.ExitCode()
	}
	// A cobra-level error (unknown flag, bad args) never went through
	// finish/render, so it has not been printed yet.
	fmt.Fprintln(os.Stderr, formatError(err, flags.debug))
	return exitUserError
}

// exitCoder lets a command's RunE return a specific exit code (e.g.
// exitUserError for a disallowed transition) while still propagating the
// error through cobra's normal error path.
type exitCoder interface {
	error
	ExitCode() int
}

func main() {
	os.Exit(funcmain())
}
