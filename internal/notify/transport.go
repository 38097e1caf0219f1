package notify

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/retry"
)

// Message is one notification.
type Message struct {
	Subject  string `json:"subject"`
	Text     string `json:"message"`
	Priority int    `json:"priority"`
	Source   string `json:"source,omitempty"`
}

// Notifier delivers messages through one transport.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

const (
	// DefaultPushoverURL is the Pushover message endpoint.
	DefaultPushoverURL = "https://api.pushover.net/1/messages.json"

	requestTimeout = 10 * time.Second
)

// Pushover sends messages through the Pushover API.
type Pushover struct {
	token string
	user  string
	url   string
	http  *http.Client
	retry retry.Config
}

// NewPushover creates a Pushover transport.
func NewPushover(cfg config.PushoverConfig) *Pushover {
	u := cfg.URL
	if u == "" {
		u = DefaultPushoverURL
	}
	return &Pushover{
		token: cfg.Token,
		user:  cfg.User,
		url:   u,
		http:  &http.Client{Timeout: requestTimeout},
		retry: retry.DefaultConfig(),
	}
}

// Name implements Notifier.
func (p *Pushover) Name() string { return "pushover" }

// Send posts the message as a form. Pushover priorities run from -2 to 2.
func (p *Pushover) Send(ctx context.Context, msg Message) error {
	form := url.Values{
		"token":    {p.token},
		"user":     {p.user},
		"title":    {msg.Subject},
		"message":  {cmp.Or(msg.Text, msg.Subject)},
		"priority": {strconv.Itoa(max(-2, min(2, msg.Priority)))},
	}
	if msg.Priority >= 2 {
		// Emergency priority needs a retry schedule.
		form.Set("retry", "60")
		form.Set("expire", "3600")
	}

	return retry.Do(ctx, p.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, strings.NewReader(form.Encode()))
		if err != nil {
			return retry.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := p.http.Do(req)
		if err != nil {
			return fmt.Errorf("posting to pushover: %w", err)
		}
		defer resp.Body.Close() //nolint:errcheck // Response body

		var result struct {
			Status int      `json:"status"`
			Errors []string `json:"errors"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&result)

		switch {
		case retry.IsRetryableHTTPStatus(resp.StatusCode):
			return fmt.Errorf("pushover: status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK || decodeErr != nil || result.Status != 1:
			return retry.Permanent(fmt.Errorf("%w: pushover status %d %s", ErrRejected, resp.StatusCode, strings.Join(result.Errors, ", ")))
		}
		return nil
	})
}

// Webhook posts messages as JSON to a URL.
type Webhook struct {
	url     string
	headers map[string]string
	http    *http.Client
	retry   retry.Config
	now     func() time.Time
}

// NewWebhook creates a webhook transport.
func NewWebhook(cfg config.WebhookConfig) *Webhook {
	return &Webhook{
		url:     cfg.URL,
		headers: cfg.Headers,
		http:    &http.Client{Timeout: requestTimeout},
		retry:   retry.DefaultConfig(),
		now:     time.Now,
	}
}

// Name implements Notifier.
func (w *Webhook) Name() string { return "webhook" }

// Send posts the message with a timestamp.
func (w *Webhook) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(struct {
		Message
		Time time.Time `json:"time"`
	}{msg, w.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshalling webhook body: %w", err)
	}

	return retry.Do(ctx, w.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range w.headers {
			req.Header.Set(k, v)
		}

		resp, err := w.http.Do(req)
		if err != nil {
			return fmt.Errorf("posting webhook: %w", err)
		}
		defer resp.Body.Close()        //nolint:errcheck // Response body
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for keep-alive

		switch {
		case retry.IsRetryableHTTPStatus(resp.StatusCode):
			return fmt.Errorf("webhook: status %d", resp.StatusCode)
		case resp.StatusCode >= 300:
			return retry.Permanent(fmt.Errorf("%w: webhook status %d", ErrRejected, resp.StatusCode))
		}
		return nil
	})
}
