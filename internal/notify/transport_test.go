package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/retry"
)

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestPushover_Send(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		got = map[string]string{}
		for k := range r.PostForm {
			got[k] = r.PostForm.Get(k)
		}
		w.Write([]byte(`{"status":1,"request":"abc"}`)) //nolint:errcheck // Test server
	}))
	defer srv.Close()

	p := NewPushover(config.PushoverConfig{Token: "tok", User: "usr", URL: srv.URL})
	err := p.Send(context.Background(), Message{Subject: "Door", Text: "Front door open", Priority: 5})
	require.NoError(t, err)

	assert.Equal(t, "tok", got["token"])
	assert.Equal(t, "usr", got["user"])
	assert.Equal(t, "Door", got["title"])
	assert.Equal(t, "Front door open", got["message"])
	assert.Equal(t, "2", got["priority"])
	assert.Equal(t, "60", got["retry"])
	assert.Equal(t, "3600", got["expire"])
}

func TestPushover_SubjectOnly(t *testing.T) {
	var message string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		message = r.FormValue("message")
		w.Write([]byte(`{"status":1}`)) //nolint:errcheck // Test server
	}))
	defer srv.Close()

	p := NewPushover(config.PushoverConfig{URL: srv.URL})
	require.NoError(t, p.Send(context.Background(), Message{Subject: "Alarm"}))
	assert.Equal(t, "Alarm", message)
}

func TestPushover_Rejected(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":0,"errors":["user identifier is invalid"]}`)) //nolint:errcheck // Test server
	}))
	defer srv.Close()

	p := NewPushover(config.PushoverConfig{URL: srv.URL})
	p.retry = fastRetry()
	err := p.Send(context.Background(), Message{Subject: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Contains(t, err.Error(), "user identifier is invalid")
	assert.Equal(t, int32(1), calls.Load(), "rejections are not retried")
}

func TestPushover_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":1}`)) //nolint:errcheck // Test server
	}))
	defer srv.Close()

	p := NewPushover(config.PushoverConfig{URL: srv.URL})
	p.retry = fastRetry()
	require.NoError(t, p.Send(context.Background(), Message{Subject: "x"}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhook_Send(t *testing.T) {
	var body map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(config.WebhookConfig{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer x"}})
	w.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	err := w.Send(context.Background(), Message{Subject: "Temp", Text: "too hot", Priority: 1, Source: SourceThreshold})
	require.NoError(t, err)

	assert.Equal(t, "Bearer x", auth)
	assert.Equal(t, "Temp", body["subject"])
	assert.Equal(t, "too hot", body["message"])
	assert.Equal(t, float64(1), body["priority"])
	assert.Equal(t, "threshold", body["source"])
	assert.Equal(t, "2026-03-01T12:00:00Z", body["time"])
}

func TestWebhook_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	w := NewWebhook(config.WebhookConfig{URL: srv.URL})
	w.retry = fastRetry()
	err := w.Send(context.Background(), Message{Subject: "x"})
	assert.True(t, errors.Is(err, ErrRejected))
}

func TestTransports(t *testing.T) {
	assert.Empty(t, Transports(config.NotificationsConfig{}))

	list := Transports(config.NotificationsConfig{
		Pushover: config.PushoverConfig{Enabled: true},
		Webhook:  config.WebhookConfig{Enabled: true, URL: "http://localhost"},
	})
	require.Len(t, list, 2)
	assert.Equal(t, "pushover", list[0].Name())
	assert.Equal(t, "webhook", list[1].Name())
}
