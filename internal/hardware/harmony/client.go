package harmony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultPort is the hub's local API port.
const DefaultPort = 8088

// Hub commands.
const (
	cmdProvision       = "setup.account?getProvisionInfo"
	cmdConfig          = "vnd.logitech.harmony/vnd.logitech.harmony.engine?config"
	cmdCurrentActivity = "vnd.logitech.harmony/vnd.logitech.harmony.engine?getCurrentActivity"
	cmdRunActivity     = "harmony.activityengine?runactivity"
	cmdPing            = "vnd.logitech.connect/vnd.logitech.ping"
	cmdStateDigest     = "connect.stateDigest?notify"
)

// PowerOffActivity is the id of the built-in activity that turns
// everything off.
const PowerOffActivity = "-1"

const (
	provisionOrigin = "http://sl.dhg.myharmony.com"
	pingInterval    = 50 * time.Second
	requestTimeout  = 10 * time.Second
	writeTimeout    = 5 * time.Second
)

// Activity is a configured activity.
type Activity struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Order int    `json:"activityOrder"`
}

// Activity states reported in state digests.
const (
	ActivityOff      = 0
	ActivityStarting = 1
	ActivityStarted  = 2
	ActivityStopping = 3
)

// NotifyHandler receives activity changes pushed by the hub.
type NotifyHandler func(activityID string, status int)

type request struct {
	HubID   string `json:"hubId"`
	Timeout int    `json:"timeout"`
	HBus    struct {
		Cmd    string `json:"cmd"`
		ID     string `json:"id"`
		Params any    `json:"params"`
	} `json:"hbus"`
}

type response struct {
	Cmd  string          `json:"cmd"`
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Code json.RawMessage `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// ok reports a 200 code. Hubs send it as a number or a string.
func (r response) ok() bool {
	code := string(bytes.Trim(r.Code, `"`))
	return code == "" || code == "200"
}

// Client is a Harmony Hub websocket client. All methods are thread-safe.
type Client struct {
	addr   string
	http   *http.Client
	dialer *websocket.Dialer

	notify NotifyHandler

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	hubID   string
	nextID  int
	pending map[string]chan response
	done    chan struct{}
}

// NewClient creates a client for the hub at addr ("host:port").
func NewClient(addr string) *Client {
	return &Client{
		addr:    addr,
		http:    &http.Client{Timeout: requestTimeout},
		dialer:  websocket.DefaultDialer,
		pending: make(map[string]chan response),
	}
}

// SetNotifyHandler registers the receiver of activity changes. It must be
// set before Connect.
func (c *Client) SetNotifyHandler(h NotifyHandler) {
	c.notify = h
}

// HubID returns the id learned during Connect.
func (c *Client) HubID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hubID
}

// Connected reports whether the websocket is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect provisions the hub id and opens the websocket.
func (c *Client) Connect(ctx context.Context) error {
	hubID, err := c.provision(ctx)
	if err != nil {
		return err
	}

	u := url.URL{
		Scheme:   "ws",
		Host:     c.addr,
		Path:     "/",
		RawQuery: url.Values{"domain": {"svcs.myharmony.com"}, "hubId": {hubID}}.Encode(),
	}
	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dialing hub websocket: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.hubID = hubID
	c.done = done
	c.mu.Unlock()

	go c.readLoop(conn, done)
	go c.pingLoop(done)
	return nil
}

func (c *Client) provision(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]any{"id": 1, "cmd": cmdProvision, "timeout": 90000})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+c.addr+"/", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating provision request: %w", err)
	}
	req.Header.Set("Origin", provisionOrigin)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting provision info: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Response body

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrProvision, resp.StatusCode)
	}

	var info struct {
		Data struct {
			ActiveRemoteID json.Number `json:"activeRemoteId"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("%w: %v", ErrProvision, err)
	}
	if info.Data.ActiveRemoteID == "" {
		return "", fmt.Errorf("%w: no activeRemoteId", ErrProvision)
	}
	return info.Data.ActiveRemoteID.String(), nil
}

// Close drops the websocket.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close() //nolint:errcheck // Reader owns the close on exit
	}()

	for {
		var msg response
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg response) {
	if msg.ID != "" {
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ok {
			ch <- msg
			return
		}
	}

	if msg.Type != cmdStateDigest || c.notify == nil {
		return
	}
	var digest struct {
		ActivityID     string `json:"activityId"`
		ActivityStatus int    `json:"activityStatus"`
	}
	if err := json.Unmarshal(msg.Data, &digest); err == nil && digest.ActivityID != "" {
		c.notify(digest.ActivityID, digest.ActivityStatus)
	}
}

func (c *Client) pingLoop(done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.send(cmdPing, map[string]any{}, ""); err != nil {
				c.Close() //nolint:errcheck // Reader notices and exits
				return
			}
		}
	}
}

// send writes one command. A non-empty id registers nothing; callers that
// expect an answer go through call.
func (c *Client) send(cmd string, params any, id string) error {
	c.mu.Lock()
	conn, hubID := c.conn, c.hubID
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	var req request
	req.HubID = hubID
	req.Timeout = int(requestTimeout / time.Second)
	req.HBus.Cmd = cmd
	req.HBus.ID = id
	req.HBus.Params = params

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // Write error is checked
	return conn.WriteJSON(req)
}

// call sends a command and waits for the matching response.
func (c *Client) call(ctx context.Context, cmd string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.nextID++
	id := strconv.Itoa(c.nextID)
	ch := make(chan response, 1)
	c.pending[id] = ch
	done := c.done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(cmd, params, id); err != nil {
		return nil, fmt.Errorf("sending %s: %w", cmd, err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		if !msg.ok() {
			return nil, fmt.Errorf("%w: %s: %s %s", ErrHubError, cmd, msg.Code, msg.Msg)
		}
		return msg.Data, nil
	case <-done:
		return nil, ErrNotConnected
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", ErrTimeout, cmd)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Activities returns the configured activities, PowerOff included.
func (c *Client) Activities(ctx context.Context) ([]Activity, error) {
	data, err := c.call(ctx, cmdConfig, map[string]string{"verb": "get"})
	if err != nil {
		return nil, err
	}
	var cfg struct {
		Activity []Activity `json:"activity"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return cfg.Activity, nil
}

// CurrentActivity returns the id of the running activity, PowerOffActivity
// when everything is off.
func (c *Client) CurrentActivity(ctx context.Context) (string, error) {
	data, err := c.call(ctx, cmdCurrentActivity, map[string]string{"verb": "get"})
	if err != nil {
		return "", err
	}
	var cur struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(data, &cur); err != nil {
		return "", fmt.Errorf("decoding current activity: %w", err)
	}
	return cur.Result, nil
}

// StartActivity starts an activity. Starting PowerOffActivity turns
// everything off.
func (c *Client) StartActivity(ctx context.Context, activityID string) error {
	_, err := c.call(ctx, cmdRunActivity, map[string]any{
		"async":      "true",
		"timestamp":  0,
		"args":       map[string]string{"rule": "start"},
		"activityId": activityID,
	})
	return err
}

// PowerOff stops the running activity.
func (c *Client) PowerOff(ctx context.Context) error {
	return c.StartActivity(ctx, PowerOffActivity)
}
