// Package app wires configuration into a ready-to-run coordinator.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/nightshift/internal/config"
	"github.com/yairfalse/nightshift/internal/emitter"
	"github.com/yairfalse/nightshift/internal/filter"
	"github.com/yairfalse/nightshift/internal/orchestrator"
	"github.com/yairfalse/nightshift/internal/plugin"
	awsplugin "github.com/yairfalse/nightshift/internal/plugin/aws"
	"github.com/yairfalse/nightshift/internal/region"
	"github.com/yairfalse/nightshift/internal/telemetry"
)

// App holds every long-lived component of one process.
type App struct {
	Config      *config.Config
	Telemetry   *telemetry.Provider
	Coordinator *orchestrator.Coordinator
	Emitter     *emitter.MultiEmitter
	Filter      *filter.Filter
}

// Options customizes New.
type Options struct {
	// Registerer exposes metrics for scraping. Nil disables the Prometheus exporter.
	Registerer promclient.Registerer
	// Factory replaces the AWS provider factory, e.g. in tests.
	Factory plugin.Factory
	// Lister replaces region discovery.
	Lister region.Lister
	// Logger receives the run summaries. Defaults to the global logger.
	Logger *zerolog.Logger
}

// New validates cfg and builds the application.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var telOpts []telemetry.Option
	if opts.Registerer != nil {
		telOpts = append(telOpts, telemetry.WithPrometheus(opts.Registerer))
	}
	tel, err := telemetry.NewProvider(ctx, cfg.OTEL, telOpts...)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	a := &App{
		Config:    cfg,
		Telemetry: tel,
		Filter:    filter.New(filter.NewExemptionRules(cfg.Policy.ExemptionTags), cfg.Audit.RequiredTags),
	}

	factory, lister := opts.Factory, opts.Lister
	if factory == nil {
		awsCfg, err := awsplugin.LoadConfig(ctx, cfg.AWS.HomeRegion, cfg.AWS.Profile)
		if err != nil {
			_ = tel.Shutdown(ctx)
			return nil, err
		}
		factory = awsplugin.FactoryFromConfig(awsCfg, a.pluginConfig())
		if lister == nil && cfg.AWS.DiscoverRegions {
			lister = awsplugin.NewRegionLister(awsCfg)
		}
	}

	a.Coordinator = orchestrator.New(orchestrator.Options{
		Factory: factory,
		Lister:  lister,
		Tracer:  tel.Tracer(),
		Metrics: tel,
		DryRun:  cfg.Run.DryRun,
	})

	a.Emitter, err = a.emitters(opts.Logger)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	return a, nil
}

func (a *App) pluginConfig() awsplugin.Config {
	return awsplugin.Config{
		Filter:            a.Filter,
		ProvenanceKey:     a.Config.Policy.ProvenanceKey,
		ScaleMaxSize:      a.Config.Policy.ScaleMaxSize,
		DryRun:            a.Config.Run.DryRun,
		ActionConcurrency: a.Config.Run.ActionConcurrency,
		APIRPS:            a.Config.Run.APIRPS,
	}
}

func (a *App) emitters(logger *zerolog.Logger) (*emitter.MultiEmitter, error) {
	if logger == nil {
		logger = &log.Logger
	}

	metrics, err := emitter.NewMetricsEmitter(a.Telemetry.Meter())
	if err != nil {
		return nil, err
	}

	list := []emitter.Emitter{emitter.NewLogEmitter(*logger), metrics}

	if url := a.Config.Notify.WebhookURL; url != "" {
		webhook, err := emitter.NewWebhookEmitter(emitter.WebhookConfig{
			URL:     url,
			Timeout: a.Config.Notify.Timeout,
		})
		if err != nil {
			return nil, err
		}
		list = append(list, webhook)
	}

	return emitter.NewMultiEmitter(list...), nil
}

// Close closes the emitters and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Emitter != nil {
		if err := a.Emitter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close emitters: %w", err))
		}
	}
	if a.Telemetry != nil {
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CloseWithTimeout is Close bounded by d on a fresh context.
func (a *App) CloseWithTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return a.Close(ctx)
}

// SetupLogging configures the global zerolog logger from cfg.
func SetupLogging(cfg config.LogConfig) error {
	return setupLogging(cfg, os.Stderr)
}

func setupLogging(cfg config.LogConfig, out io.Writer) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})
		return nil
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}
