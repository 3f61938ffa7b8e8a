// nightshift-lambda serves scheduled idling runs as an AWS Lambda function.
// Configuration comes from NIGHTSHIFT_CONFIG and the NIGHTSHIFT_* overrides.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/nightshift/internal/app"
	"github.com/yairfalse/nightshift/internal/config"
	"github.com/yairfalse/nightshift/internal/handler"
)

const flushTimeout = 5 * time.Second

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := app.SetupLogging(cfg.Log); err != nil {
		log.Fatal().Err(err).Msg("setup logging")
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("init")
	}

	h := handler.New(handler.Options{
		Live:          a.Coordinator.WithDryRun(false),
		DryRun:        a.Coordinator.WithDryRun(true),
		Emitter:       a.Emitter,
		DefaultDryRun: cfg.Run.DryRun,
		Timeout:       cfg.Run.Timeout,
	})

	log.Info().
		Str("home_region", cfg.AWS.HomeRegion).
		Bool("dry_run", cfg.Run.DryRun).
		Dur("timeout", cfg.Run.Timeout).
		Bool("webhook", cfg.Notify.WebhookURL != "").
		Msg("nightshift lambda ready")

	lambda.StartWithOptions(
		func(ctx context.Context, ev handler.Event) (events.APIGatewayProxyResponse, error) {
			resp, err := h.Invoke(ctx, ev)

			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
			defer cancel()
			if ferr := a.Telemetry.ForceFlush(flushCtx); ferr != nil {
				log.Warn().Err(ferr).Msg("flush telemetry")
			}
			return resp, err
		},
		lambda.WithEnableSIGTERM(func() {
			if err := a.CloseWithTimeout(flushTimeout); err != nil {
				log.Warn().Err(err).Msg("shutdown")
			}
		}),
	)
}
