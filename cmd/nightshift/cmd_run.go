package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/nightshift/internal/app"
	"github.com/yairfalse/nightshift/internal/handler"
	"github.com/yairfalse/nightshift/pkg/resource"
)

const closeTimeout = 10 * time.Second

type runFlags struct {
	prefixes []string
	dryRun   bool
	json     bool
}

func newRunCmd(c *cli) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Idle resources once and print the report",
		Long: `Run one idling pass over every selected region.

Regions are taken from EC2 when aws.discover_regions is set, otherwise from
the built-in catalog. Denylisted regions (af, ap-east-1, me, sa, cn,
eu-south-1, us-gov, us-iso) are never processed.`,
		Example: `  nightshift run                                  # All regions
  nightshift run --region-prefix us-east          # us-east-1, us-east-2
  nightshift run --region-prefix eu- --dry-run    # Report without changing anything
  nightshift run --json                           # Machine readable report`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runOnce(cmd, f)
		},
	}

	cmd.Flags().StringSliceVarP(&f.prefixes, "region-prefix", "r", nil, "Only process regions starting with these prefixes")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "List and filter but do not mutate (overrides run.dry_run)")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print the report as JSON")
	return cmd
}

func (c *cli) runOnce(cmd *cobra.Command, f runFlags) error {
	ctx := cmd.Context()

	a, err := app.New(ctx, c.cfg, c.opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.CloseWithTimeout(closeTimeout); err != nil {
			log.Warn().Err(err).Msg("shutdown")
		}
	}()

	coord := a.Coordinator
	if cmd.Flags().Changed("dry-run") {
		coord = coord.WithDryRun(f.dryRun)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Run.Timeout)
	defer cancel()

	rep, err := coord.Run(runCtx, f.prefixes)
	if err != nil {
		failure := &resource.Report{StartedAt: time.Now().UTC(), DryRun: coord.DryRun(), Failure: handler.FailureMessage}
		if emitErr := a.Emitter.Emit(context.WithoutCancel(ctx), failure); emitErr != nil {
			log.Warn().Err(emitErr).Msg("notification failed")
		}
		return fmt.Errorf("run: %w", err)
	}

	if err := a.Emitter.Emit(context.WithoutCancel(ctx), rep); err != nil {
		log.Warn().Err(err).Msg("notification failed")
	}

	out := cmd.OutOrStdout()
	if f.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	_, err = fmt.Fprint(out, rep.Message())
	return err
}
