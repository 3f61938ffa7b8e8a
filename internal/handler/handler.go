// Package handler adapts a run to the Lambda invocation contract.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/nightshift/internal/emitter"
	"github.com/yairfalse/nightshift/pkg/resource"
)

// FailureMessage is the response body and notification text of a failed invocation.
const FailureMessage = "Failed to run resource idler"

// notifyTimeout bounds the notification sent after the run context has expired.
const notifyTimeout = 15 * time.Second

// ErrNoRunner is returned when no runner is configured for the requested mode.
var ErrNoRunner = errors.New("handler: no runner for mode")

// Event is the invocation payload.
type Event struct {
	RegionPrefixes []string `json:"regionPrefixes,omitempty"`
	// DryRun overrides the configured mode when set.
	DryRun *bool `json:"dryRun,omitempty"`
}

// Runner executes one idling run.
type Runner interface {
	Run(ctx context.Context, prefixes []string) (*resource.Report, error)
}

// Options configures a Handler.
type Options struct {
	Live    Runner
	DryRun  Runner
	Emitter emitter.Emitter
	// DefaultDryRun selects the dry runner when the event does not say.
	DefaultDryRun bool
	// Timeout bounds the run. Zero leaves the invocation deadline in charge.
	Timeout time.Duration
}

// Handler serves Lambda invocations.
type Handler struct {
	live          Runner
	dry           Runner
	emitter       emitter.Emitter
	defaultDryRun bool
	timeout       time.Duration
}

// New creates a Handler.
func New(opts Options) *Handler {
	return &Handler{
		live:          opts.Live,
		dry:           opts.DryRun,
		emitter:       opts.Emitter,
		defaultDryRun: opts.DefaultDryRun,
		timeout:       opts.Timeout,
	}
}

type responseBody struct {
	Message string `json:"message"`
}

// Invoke runs the idler and returns 200 with the report text, or 500 with
// FailureMessage when the run could not complete. A notification is sent
// in both cases; notification errors are logged and never change the response.
func (h *Handler) Invoke(ctx context.Context, ev Event) (events.APIGatewayProxyResponse, error) {
	logger := log.With().Strs("region_prefixes", ev.RegionPrefixes).Logger()
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		logger = logger.With().Str("request_id", lc.AwsRequestID).Logger()
	}
	ctx = logger.WithContext(ctx)

	dryRun := h.defaultDryRun
	if ev.DryRun != nil {
		dryRun = *ev.DryRun
	}

	rep, err := h.run(ctx, ev.RegionPrefixes, dryRun)
	if err != nil {
		logger.Error().Err(err).Bool("dry_run", dryRun).Msg("run failed")
		h.notify(ctx, &resource.Report{
			StartedAt: time.Now().UTC(),
			DryRun:    dryRun,
			Failure:   FailureMessage,
		})
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       FailureMessage,
		}, nil
	}

	h.notify(ctx, rep)

	body, err := json.Marshal(responseBody{Message: rep.Message()})
	if err != nil {
		logger.Error().Err(err).Msg("marshal response")
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       FailureMessage,
		}, nil
	}

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}, nil
}

func (h *Handler) run(ctx context.Context, prefixes []string, dryRun bool) (rep *resource.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	runner := h.live
	if dryRun {
		runner = h.dry
	}
	if runner == nil {
		return nil, fmt.Errorf("%w: dry_run=%t", ErrNoRunner, dryRun)
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	rep, err = runner.Run(ctx, prefixes)
	if err == nil && rep == nil {
		err = errors.New("runner returned no report")
	}
	return rep, err
}

// notify emits on a context detached from the run deadline.
func (h *Handler) notify(ctx context.Context, rep *resource.Report) {
	if h.emitter == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Interface("panic", r).Msg("notification panicked")
		}
	}()

	if err := h.emitter.Emit(ctx, rep); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("notification failed")
	}
}
