package evohome

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/retry"
)

const (
	// DefaultBaseURL is the Total Connect Comfort international endpoint.
	DefaultBaseURL = "https://tccna.honeywell.com"

	tokenPath = "/Auth/OAuth/Token"
	apiPath   = "/WebAPI/emea/api/v1"

	// clientAuth is the application credential every TCC client sends.
	clientAuth = "Basic NGEyMzEwODktZDJiNi00MWJkLWE1ZWItMTZhMGE0MjJiOTk5OjFhMTVjZGI4LTQyZGUtNDA3Yi1hZGQwLTA1OWY5MmM1MzBjYg=="
	scope      = "EMEA-V1-Basic EMEA-V1-Anonymous EMEA-V1-Get-Current-User-Account"

	// tokenMargin renews tokens this long before they expire.
	tokenMargin = time.Minute

	requestTimeout = 30 * time.Second
)

// Config holds the client settings.
type Config struct {
	BaseURL    string
	Username   string
	Password   string
	HTTPClient *http.Client
	Retry      retry.Config
}

// Client is a Total Connect Comfort v2 API client.
//
// All public methods are thread-safe. The access token is shared and
// refreshed on demand.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	retry    retry.Config

	mu    sync.RWMutex
	token Token

	now func() time.Time
}

// NewClient creates an API client.
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http:     cfg.HTTPClient,
		retry:    cfg.Retry,
		now:      time.Now,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: requestTimeout}
	}
	if c.retry.MaxAttempts == 0 {
		c.retry = retry.DefaultConfig()
	}
	return c
}

// accessToken returns a valid access token, logging in or refreshing as
// needed.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	tok := c.token
	c.mu.RUnlock()
	if tok.AccessToken != "" && c.now().Before(tok.Expiry.Add(-tokenMargin)) {
		return tok.AccessToken, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have renewed it meanwhile.
	if c.token.AccessToken != "" && c.now().Before(c.token.Expiry.Add(-tokenMargin)) {
		return c.token.AccessToken, nil
	}

	if c.token.RefreshToken != "" {
		next, err := c.requestToken(ctx, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {c.token.RefreshToken},
			"scope":         {scope},
		})
		if err == nil {
			c.token = next
			return next.AccessToken, nil
		}
	}

	next, err := c.requestToken(ctx, url.Values{
		"grant_type": {"password"},
		"scope":      {scope},
		"Username":   {c.username},
		"Password":   {c.password},
	})
	if err != nil {
		c.token = Token{}
		return "", err
	}
	c.token = next
	return next.AccessToken, nil
}

func (c *Client) requestToken(ctx context.Context, form url.Values) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Authorization", clientAuth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Response body

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // Error detail only
		return Token{}, fmt.Errorf("%w: status %d: %s", ErrAuthFailed, resp.StatusCode, bytes.TrimSpace(body))
	}

	var tok Token
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return Token{}, fmt.Errorf("decoding token: %w", err)
	}
	if tok.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: empty access token", ErrAuthFailed)
	}
	tok.Expiry = c.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return tok, nil
}

// invalidate drops the access token so the next call renews it.
func (c *Client) invalidate(access string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.AccessToken == access {
		c.token.AccessToken = ""
		c.token.Expiry = time.Time{}
	}
}

// do runs an API request with retries. A 401 renews the token once.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	reauthed := false
	return retry.Do(ctx, c.retry, func() error {
		access, err := c.accessToken(ctx)
		if err != nil {
			return retry.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPath+path, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Authorization", "bearer "+access)
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		defer resp.Body.Close() //nolint:errcheck // Response body

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && !reauthed:
			reauthed = true
			c.invalidate(access)
			return fmt.Errorf("%w: token rejected", ErrRequestFailed)
		case retry.IsRetryableHTTPStatus(resp.StatusCode):
			return fmt.Errorf("%w: %s %s: status %d (retryable)", ErrRequestFailed, method, path, resp.StatusCode)
		case resp.StatusCode >= http.StatusBadRequest:
			return retry.Permanent(fmt.Errorf("%w: %s %s: status %d: %s",
				ErrRequestFailed, method, path, resp.StatusCode, bytes.TrimSpace(respBody)))
		}

		if out == nil || len(respBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return retry.Permanent(fmt.Errorf("decoding %s: %w", path, err))
		}
		return nil
	})
}

// UserAccount returns the account the client is logged in as.
func (c *Client) UserAccount(ctx context.Context) (*UserAccount, error) {
	var acct UserAccount
	if err := c.do(ctx, http.MethodGet, "/userAccount", nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Installations returns the locations of a user, including their control
// systems.
func (c *Client) Installations(ctx context.Context, userID string) ([]Installation, error) {
	path := "/location/installationInfo?includeTemperatureControlSystems=True&userId=" + url.QueryEscape(userID)
	var out []Installation
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SystemStatus returns the live state of a control system.
func (c *Client) SystemStatus(ctx context.Context, systemID string) (*SystemStatus, error) {
	var st SystemStatus
	if err := c.do(ctx, http.MethodGet, "/temperatureControlSystem/"+url.PathEscape(systemID)+"/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SetZoneSetpoint overrides a zone's target temperature, permanently when
// until is zero.
func (c *Client) SetZoneSetpoint(ctx context.Context, zoneID string, celsius float64, until time.Time) error {
	req := heatSetpointRequest{HeatSetpointValue: celsius, SetpointMode: SetpointPermanentOverride}
	if !until.IsZero() {
		req.SetpointMode = SetpointTemporaryOverride
		req.TimeUntil = until.UTC().Format(time.RFC3339)
	}
	return c.do(ctx, http.MethodPut, "/temperatureZone/"+url.PathEscape(zoneID)+"/heatSetpoint", req, nil)
}

// CancelZoneOverride returns a zone to its schedule.
func (c *Client) CancelZoneOverride(ctx context.Context, zoneID string) error {
	req := heatSetpointRequest{SetpointMode: SetpointFollowSchedule}
	return c.do(ctx, http.MethodPut, "/temperatureZone/"+url.PathEscape(zoneID)+"/heatSetpoint", req, nil)
}

// SetSystemMode changes the mode of a control system, permanently when
// until is zero.
func (c *Client) SetSystemMode(ctx context.Context, systemID string, mode SystemMode, until time.Time) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	req := systemModeRequest{SystemMode: mode, Permanent: true}
	if !until.IsZero() {
		req.Permanent = false
		req.TimeUntil = until.UTC().Format(time.RFC3339)
	}
	return c.do(ctx, http.MethodPut, "/temperatureControlSystem/"+url.PathEscape(systemID)+"/mode", req, nil)
}

// FirstSystem returns the first control system of the installations.
func FirstSystem(installs []Installation) (ControlSystem, error) {
	for _, in := range installs {
		for _, gw := range in.Gateways {
			if len(gw.TemperatureControlSystems) > 0 {
				return gw.TemperatureControlSystems[0], nil
			}
		}
	}
	return ControlSystem{}, ErrNoSystem
}

// FindSystem returns the control system with the given id.
func FindSystem(installs []Installation, systemID string) (ControlSystem, error) {
	for _, in := range installs {
		for _, gw := range in.Gateways {
			for _, tcs := range gw.TemperatureControlSystems {
				if tcs.SystemID == systemID {
					return tcs, nil
				}
			}
		}
	}
	return ControlSystem{}, fmt.Errorf("%w: %s", ErrNoSystem, systemID)
}
