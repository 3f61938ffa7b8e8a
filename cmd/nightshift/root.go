package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/nightshift/internal/app"
	"github.com/yairfalse/nightshift/internal/config"
)

var version = "0.1.0"

// cli carries state shared by every subcommand.
type cli struct {
	configPath string
	logLevel   string

	cfg *config.Config
	// opts is passed to app.New; tests inject fakes here.
	opts app.Options
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "nightshift",
		Short: "Idle non-production cloud resources",
		Long: `nightshift - scheduled resource idler

nightshift stops EC2 instances and RDS clusters and scales auto scaling
groups and EKS node groups to zero across every enabled region. Resources
tagged LIFECYCLE=PERSISTENT are left alone, and every idled resource is
tagged ManagedByAutomation with the time it was idled.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.load,
	}
	root.SetVersionTemplate(`nightshift {{.Version}}
`)

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Path to TOML config (default: $NIGHTSHIFT_CONFIG)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Override log level (trace, debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(c),
		newAuditCmd(c),
		newServeCmd(c),
		newRegionsCmd(c),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration and sets up logging before any subcommand runs.
func (c *cli) load(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	var (
		cfg *config.Config
		err error
	)
	if c.configPath != "" {
		if cfg, err = config.Load(c.configPath); err != nil {
			return err
		}
		if err = cfg.ApplyEnv(os.LookupEnv); err != nil {
			return err
		}
	} else if cfg, err = config.LoadFromEnv(); err != nil {
		return err
	}

	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if err := app.SetupLogging(cfg.Log); err != nil {
		return err
	}

	c.cfg = cfg
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "nightshift %s\n", version)
			return err
		},
	}
}
