package lyric

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/retry"
)

// DefaultBaseURL is the Resideo API endpoint.
const DefaultBaseURL = "https://api.honeywell.com"

const (
	tokenPath      = "/oauth2/token"
	tokenMargin    = time.Minute
	requestTimeout = 30 * time.Second
)

// Config holds the client settings.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	RefreshToken   string
	HTTPClient     *http.Client
	Retry          retry.Config
}

// Client talks to the Resideo (Honeywell Lyric) API with the OAuth refresh
// token flow. All methods are thread-safe.
type Client struct {
	baseURL string
	key     string
	secret  string
	http    *http.Client
	retry   retry.Config

	mu      sync.RWMutex
	access  string
	refresh string
	expiry  time.Time

	now func() time.Time
}

// NewClient creates a client.
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		key:     cfg.ConsumerKey,
		secret:  cfg.ConsumerSecret,
		refresh: cfg.RefreshToken,
		http:    cfg.HTTPClient,
		retry:   cfg.Retry,
		now:     time.Now,
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

// RefreshToken returns the current refresh token. Resideo rotates it on
// every refresh.
func (c *Client) RefreshToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refresh
}

type tokenResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresIn    json.RawMessage `json:"expires_in"`
}

// seconds accepts expires_in both as a number and as a quoted number.
func (t tokenResponse) seconds() int {
	n, err := strconv.Atoi(strings.Trim(string(t.ExpiresIn), `"`))
	if err != nil {
		return 0
	}
	return n
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	access, expiry := c.access, c.expiry
	c.mu.RUnlock()
	if access != "" && c.now().Before(expiry.Add(-tokenMargin)) {
		return access, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.access != "" && c.now().Before(c.expiry.Add(-tokenMargin)) {
		return c.access, nil
	}

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {c.refresh}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.key+":"+c.secret)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("refreshing token: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Response body

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // Error detail only
		return "", fmt.Errorf("%w: status %d: %s", ErrAuthFailed, resp.StatusCode, bytes.TrimSpace(body))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decoding token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuthFailed)
	}

	c.access = tok.AccessToken
	c.expiry = c.now().Add(time.Duration(tok.seconds()) * time.Second)
	if tok.RefreshToken != "" {
		c.refresh = tok.RefreshToken
	}
	return c.access, nil
}

func (c *Client) invalidate(access string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.access == access {
		c.access = ""
	}
}

// do runs an API request with the apikey parameter and retries.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("apikey", c.key)
	target := c.baseURL + path + "?" + query.Encode()

	reauthed := false
	return retry.Do(ctx, c.retry, func() error {
		access, err := c.accessToken(ctx)
		if err != nil {
			return retry.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+access)
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

// Location is one home with its devices.
type Location struct {
	LocationID int          `json:"locationID"`
	Name       string       `json:"name"`
	Devices    []Thermostat `json:"devices"`
}

// Thermostat is a Lyric or T-series thermostat.
type Thermostat struct {
	DeviceID          string           `json:"deviceID"`
	DeviceClass       string           `json:"deviceClass"`
	Name              string           `json:"userDefinedDeviceName"`
	Units             string           `json:"units"`
	IndoorTemperature float64          `json:"indoorTemperature"`
	IndoorHumidity    float64          `json:"indoorHumidity"`
	ChangeableValues  ChangeableValues `json:"changeableValues"`
}

// ChangeableValues are the writable settings of a thermostat.
type ChangeableValues struct {
	Mode                     string  `json:"mode"`
	HeatSetpoint             float64 `json:"heatSetpoint"`
	CoolSetpoint             float64 `json:"coolSetpoint"`
	ThermostatSetpointStatus string  `json:"thermostatSetpointStatus,omitempty"`
}

// Celsius converts a temperature in the thermostat's units.
func (t Thermostat) Celsius(v float64) float64 {
	if strings.EqualFold(t.Units, "Fahrenheit") {
		return (v - 32) * 5 / 9
	}
	return v
}

// Locations returns every location of the account with its thermostats.
// Devices of other classes are dropped.
func (c *Client) Locations(ctx context.Context) ([]Location, error) {
	var locs []Location
	if err := c.do(ctx, http.MethodGet, "/v2/locations", nil, nil, &locs); err != nil {
		return nil, err
	}
	for i := range locs {
		thermostats := locs[i].Devices[:0]
		for _, d := range locs[i].Devices {
			if d.DeviceClass == "" || d.DeviceClass == "Thermostat" {
				thermostats = append(thermostats, d)
			}
		}
		locs[i].Devices = thermostats
	}
	return locs, nil
}

// Thermostat returns the current state of one thermostat.
func (c *Client) Thermostat(ctx context.Context, locationID int, deviceID string) (*Thermostat, error) {
	var t Thermostat
	query := url.Values{"locationId": {strconv.Itoa(locationID)}}
	if err := c.do(ctx, http.MethodGet, "/v2/devices/thermostats/"+url.PathEscape(deviceID), query, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// SetHeatSetpoint holds a new heating setpoint until the next schedule
// period. The API replaces all changeable values at once, so the mode and
// cool setpoint are read first and sent back unchanged.
func (c *Client) SetHeatSetpoint(ctx context.Context, locationID int, deviceID string, value float64) error {
	t, err := c.Thermostat(ctx, locationID, deviceID)
	if err != nil {
		return fmt.Errorf("reading thermostat: %w", err)
	}
	cv := t.ChangeableValues
	cv.HeatSetpoint = value
	cv.ThermostatSetpointStatus = "TemporaryHold"

	query := url.Values{"locationId": {strconv.Itoa(locationID)}}
	return c.do(ctx, http.MethodPost, "/v2/devices/thermostats/"+url.PathEscape(deviceID), query, cv, nil)
}
