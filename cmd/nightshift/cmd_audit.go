package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/nightshift/internal/app"
)

type auditFlags struct {
	prefixes []string
	keys     []string
	json     bool
}

func newAuditCmd(c *cli) *cobra.Command {
	var f auditFlags
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List resources missing every required tag",
		Long: `List resources of every managed kind that carry none of the required tag
keys. Nothing is mutated. Keys come from --required-tag or audit.required_tags.`,
		Example: `  nightshift audit --required-tag owner
  nightshift audit --required-tag owner,team --region-prefix eu-
  nightshift audit --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.audit(cmd, f)
		},
	}

	cmd.Flags().StringSliceVarP(&f.prefixes, "region-prefix", "r", nil, "Only audit regions starting with these prefixes")
	cmd.Flags().StringSliceVarP(&f.keys, "required-tag", "t", nil, "Required tag keys (overrides audit.required_tags)")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print the audit as JSON")
	return cmd
}

func (c *cli) audit(cmd *cobra.Command, f auditFlags) error {
	keys := f.keys
	if len(keys) == 0 {
		keys = c.cfg.Audit.RequiredTags
	}
	if len(keys) == 0 {
		return errors.New("audit: no required tags; set audit.required_tags or --required-tag")
	}

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

	rep, err := a.Coordinator.Audit(ctx, f.prefixes, keys)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}

	out := cmd.OutOrStdout()
	if f.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REGION\tKIND\tID\tPARENT\tSTATE")
	_, _ = fmt.Fprintln(w, "------\t----\t--\t------\t-----")
	for _, r := range rep.Resources {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Region, r.Kind, r.ID, orDash(r.Parent), orDash(r.State))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "\n%d resources missing all of: %v\n", len(rep.Resources), keys)

	regions := make([]string, 0, len(rep.Errors))
	for r := range rep.Errors {
		regions = append(regions, r)
	}
	sort.Strings(regions)
	for _, r := range regions {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", r, rep.Errors[r])
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
