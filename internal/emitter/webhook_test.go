package emitter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/nightshift/pkg/resource"
)

func TestNewWebhookEmitter_RequiresURL(t *testing.T) {
	_, err := NewWebhookEmitter(WebhookConfig{})
	assert.ErrorIs(t, err, ErrNoWebhookURL)
}

func TestWebhookEmitter_Emit(t *testing.T) {
	var (
		gotMethod string
		gotType   string
		gotBody   WebhookPayload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w, err := NewWebhookEmitter(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	rep := testReport()
	require.NoError(t, w.Emit(context.Background(), rep))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, rep.Message(), gotBody.Text)
	assert.Contains(t, gotBody.Text, "------us-east-1------")
	assert.Contains(t, gotBody.Text, "EC2 Instances managed: i-1, i-2")
}

func TestWebhookEmitter_FailureText(t *testing.T) {
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	w, err := NewWebhookEmitter(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)

	rep := &resource.Report{Failure: "Failed to run resource idler"}
	require.NoError(t, w.Emit(context.Background(), rep))
	assert.Equal(t, "Failed to run resource idler", got.Text)
}

func TestWebhookEmitter_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid_token"))
	}))
	defer srv.Close()

	w, err := NewWebhookEmitter(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)

	err = w.Post(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
	assert.Contains(t, err.Error(), "invalid_token")
}

func TestWebhookEmitter_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	w, err := NewWebhookEmitter(WebhookConfig{URL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	err = w.Post(context.Background(), "slow")
	assert.Error(t, err)
}

func TestWebhookEmitter_CanceledContext(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
	}))
	defer srv.Close()

	w, err := NewWebhookEmitter(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, w.Post(ctx, "late"))
	assert.Equal(t, 0, calls)
}
