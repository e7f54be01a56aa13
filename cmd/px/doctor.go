package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/gc"
	"github.com/px-dev/px/internal/index"
)

// newDoctorCmd sweeps stray partials, verifies a sample of objects against
// their digest, re-hardens permissions, and rebuilds the index if its
// health check fails. Like gc, doctor operates over the whole store, not
// one project, so it bypasses internal/dispatch.
func newDoctorCmd() *cobra.Command {
	var sampleFraction float64
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "verify and repair the store and its index",
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

			rebuild := func(ctx context.Context) error {
				return idx.Rebuild(ctx, index.RebuildInput{
					Store:    a.roots.Store,
					Envs:     a.roots.Envs,
					Runtimes: s.RuntimesDir(),
				}, a.logger)
			}

			report, err := gc.Doctor(ctx, s, idx, rebuild, sampleFraction, a.logger)
			outcome := doctorOutcome(report)
			if err != nil {
				outcome.Status = dispatch.StatusFailure
			}
			return finish(cmdctx, outcome, err)
		},
	}
	cmd.Flags().Float64Var(&sampleFraction, "sample", 0.1, "fraction of objects to digest-verify this run")
	return cmd
}

func doctorOutcome(report gc.DoctorReport) dispatch.ExecutionOutcome {
	return dispatch.ExecutionOutcome{
		Message: "sampled " + strconv.Itoa(report.Sampled) + " objects, " + strconv.Itoa(report.DigestMismatches) + " mismatches",
		Details: map[string]interface{}{
			"stray_partials_removed": report.StrayPartialsRemoved,
			"sampled":                report.Sampled,
			"digest_mismatches":      report.DigestMismatches,
			"permissions_repaired":   report.PermissionsRepaired,
			"index_rebuilt":          report.IndexRebuilt,
		},
	}
}
