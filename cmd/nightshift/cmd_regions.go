package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/nightshift/internal/app"
)

func newRegionsCmd(c *cli) *cobra.Command {
	var (
		prefixes []string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "regions",
		Short: "Show which regions a run would process",
		Example: `  nightshift regions
  nightshift regions --region-prefix us-east,eu-`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			sel := a.Coordinator.Regions(ctx, prefixes)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(sel)
			}

			_, _ = fmt.Fprintf(out, "selected (%d): %s\n", len(sel.Selected), strings.Join(sel.Selected, ", "))
			_, _ = fmt.Fprintf(out, "denied   (%d): %s\n", len(sel.Denied), strings.Join(sel.Denied, ", "))
			_, err = fmt.Fprintf(out, "filtered (%d): %s\n", len(sel.Filtered), strings.Join(sel.Filtered, ", "))
			return err
		},
	}

	cmd.Flags().StringSliceVarP(&prefixes, "region-prefix", "r", nil, "Only select regions starting with these prefixes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the selection as JSON")
	return cmd
}
