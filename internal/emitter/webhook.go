package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/yairfalse/nightshift/pkg/resource"
)

// DefaultWebhookTimeout bounds a single notification POST.
const DefaultWebhookTimeout = 10 * time.Second

// ErrNoWebhookURL is returned when a webhook emitter is built without a URL.
var ErrNoWebhookURL = errors.New("emitter: webhook url is empty")

// WebhookPayload is the body posted to the chat webhook.
type WebhookPayload struct {
	Text string `json:"text"`
}

// WebhookEmitter posts the report text to an incoming-webhook URL.
// Delivery is attempted once; there are no retries.
type WebhookEmitter struct {
	url    string
	client *http.Client
}

// WebhookConfig configures the webhook emitter.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration // default: 10s
}

// NewWebhookEmitter creates a webhook emitter. The HTTP transport is traced.
func NewWebhookEmitter(cfg WebhookConfig) (*WebhookEmitter, error) {
	if cfg.URL == "" {
		return nil, ErrNoWebhookURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWebhookTimeout
	}

	return &WebhookEmitter{
		url: cfg.URL,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Emit posts {"text": rep.Message()}. A non-2xx response is an error.
func (w *WebhookEmitter) Emit(ctx context.Context, rep *resource.Report) error {
	return w.Post(ctx, rep.Message())
}

// Post sends arbitrary text to the webhook.
func (w *WebhookEmitter) Post(ctx context.Context, text string) error {
	body, err := json.Marshal(WebhookPayload{Text: text})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post webhook: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	log.Debug().Int("status", resp.StatusCode).Int("bytes", len(body)).Msg("webhook delivered")
	return nil
}

// Close releases idle connections.
func (w *WebhookEmitter) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
