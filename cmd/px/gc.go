package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/gc"
)

// newGCCmd reclaims unreferenced store objects. Unlike the project verbs,
// gc operates over the whole store rather than one project's M/L/E state,
// so it bypasses internal/dispatch entirely: there is no project
// transition to gate it against.
func newGCCmd() *cobra.Command {
	var grace time.Duration
	var sizeBudget int64
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "reclaim store objects with no surviving index refs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdctx := buildCommandContext()
			a, err := newApp(cmdctx, "")
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			s, idx, err := a.openStore(ctx)
			if err != nil {
				return err
			}

			report, err := gc.Collect(ctx, s, idx, gc.Options{GracePeriod: grace, SizeBudget: sizeBudget}, a.logger)
			outcome := gcOutcome(report)
			if err != nil {
				outcome.Status = dispatch.StatusFailure
			}
			return finish(cmdctx, outcome, err)
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 24*time.Hour, "minimum age of an unreferenced object before it is eligible for collection")
	cmd.Flags().Int64Var(&sizeBudget, "size-budget", 0, "if non-zero, additionally evict the oldest unreferenced objects until the store is at or below this many bytes")
	return cmd
}

func gcOutcome(report gc.Report) dispatch.ExecutionOutcome {
	status := dispatch.StatusOK
	return dispatch.ExecutionOutcome{
		Status:  status,
		Message: "removed " + strconv.Itoa(report.Removed) + " of " + strconv.Itoa(report.Scanned) + " scanned objects",
		Details: map[string]interface{}{
			"scanned": report.Scanned,
			"removed": report.Removed,
			"kept":    report.Kept,
			"bytes":   report.Bytes,
		},
	}
}
