package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSender_SignsBody(t *testing.T) {
	var got WebhookMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get(SignatureHeader) != SignPayload(body, "s3cret") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ws, err := NewWebhookSender(srv.URL, "s3cret")
	require.NoError(t, err)
	require.NoError(t, ws.Send(context.Background(), "aud_1@x.test", "Access granted", "hello"))
	assert.Equal(t, "aud_1@x.test", got.To)
	assert.Equal(t, "Access granted", got.Subject)
}

func TestWebhookSender_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ws, err := NewWebhookSender(srv.URL, "")
	require.NoError(t, err)
	ws.delays = []time.Duration{time.Millisecond, time.Millisecond}

	require.NoError(t, ws.Send(context.Background(), "a@x.test", "s", "b"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookSender_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	ws, err := NewWebhookSender(srv.URL, "")
	require.NoError(t, err)
	ws.delays = []time.Duration{time.Millisecond, time.Millisecond}

	err = ws.Send(context.Background(), "a@x.test", "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewWebhookSender_RequiresURL(t *testing.T) {
	_, err := NewWebhookSender("", "x")
	assert.Error(t, err)
}
