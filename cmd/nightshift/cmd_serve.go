package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/nightshift/internal/app"
	"github.com/yairfalse/nightshift/internal/daemon"
)

type serveFlags struct {
	interval    time.Duration
	metricsAddr string
	prefixes    []string
}

func newServeCmd(c *cli) *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run on a schedule and expose metrics",
		Long: `Run nightshift as a long-lived process.

A run starts every serve.interval over serve.region_prefixes. Metrics are
served on /metrics and health checks on /health, /-/healthy and /-/ready.
SIGINT or SIGTERM stop the process after the current run.`,
		Example: `  nightshift serve                                 # Settings from config
  nightshift serve --interval 24h --region-prefix ap-
  nightshift serve --metrics-addr :2112`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd, f)
		},
	}

	cmd.Flags().DurationVar(&f.interval, "interval", 0, "Run interval (overrides serve.interval)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Metrics and health listen address (overrides serve.metrics_addr)")
	cmd.Flags().StringSliceVarP(&f.prefixes, "region-prefix", "r", nil, "Region prefixes (overrides serve.region_prefixes)")
	return cmd
}

func (c *cli) serve(cmd *cobra.Command, f serveFlags) error {
	cfg := c.cfg
	if f.interval > 0 {
		cfg.Serve.Interval = f.interval
	}
	if f.metricsAddr != "" {
		cfg.Serve.MetricsAddr = f.metricsAddr
	}
	if len(f.prefixes) > 0 {
		cfg.Serve.RegionPrefixes = f.prefixes
	}

	registry := promclient.NewRegistry()
	opts := c.opts
	opts.Registerer = registry

	a, err := app.New(cmd.Context(), cfg, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.CloseWithTimeout(closeTimeout); err != nil {
			log.Warn().Err(err).Msg("shutdown")
		}
	}()

	dm, err := daemon.NewDaemonMetrics()
	if err != nil {
		return fmt.Errorf("init daemon metrics: %w", err)
	}

	d, err := daemon.NewDaemon(daemon.Config{
		Interval:       cfg.Serve.Interval,
		RegionPrefixes: cfg.Serve.RegionPrefixes,
		Timeout:        cfg.Run.Timeout,
		RunOnStart:     cfg.Serve.RunOnStart,
	}, a.Coordinator, a.Emitter, dm)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Serve.MetricsAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Serve.MetricsAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", d.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var g run.Group
	g.Add(func() error {
		return d.Start(ctx)
	}, func(error) {
		cancel()
	})
	g.Add(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
		return srv.Serve(ln)
	}, func(error) {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	})
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sigErr run.SignalError
	switch {
	case errors.As(err, &sigErr):
		log.Info().Str("signal", sigErr.Signal.String()).Msg("shutting down")
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, http.ErrServerClosed):
		return nil
	}
	return err
}
