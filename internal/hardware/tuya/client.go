package tuya

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultPort is the local TCP port of Tuya devices.
	DefaultPort = 6668

	heartbeatInterval = 10 * time.Second
	responseTimeout   = 5 * time.Second
	dialTimeout       = 5 * time.Second
)

// StatusHandler receives data points pushed by a device.
type StatusHandler func(dps map[string]any)

// Logger defines the logging interface used by the client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client talks to one device over a persistent TCP connection.
type Client struct {
	devID  string
	addr   string
	codec  *Codec
	logger Logger

	handler StatusHandler

	// reqMu allows one outstanding request at a time.
	reqMu sync.Mutex

	mu      sync.Mutex
	conn    net.Conn
	seq     uint32
	waiters map[uint32]chan Frame
	done    chan struct{}

	now func() time.Time
}

// NewClient creates a client for a device at addr ("host:port").
func NewClient(devID, localKey, version, addr string) (*Client, error) {
	codec, err := NewCodec(localKey, version)
	if err != nil {
		return nil, err
	}
	return &Client{
		devID:   devID,
		addr:    addr,
		codec:   codec,
		logger:  noopLogger{},
		waiters: make(map[uint32]chan Frame),
		now:     time.Now,
	}, nil
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// SetStatusHandler registers the receiver of asynchronous status pushes.
// It must be set before Connect.
func (c *Client) SetStatusHandler(h StatusHandler) {
	c.handler = h
}

// Connect opens the connection and starts the reader and heartbeat.
func (c *Client) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.addr, err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		conn.Close() //nolint:errcheck // Already connected
		return nil
	}
	c.conn = conn
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	go c.readLoop(conn, done)
	go c.heartbeatLoop(conn, done)

	c.logger.Debug("tuya connected", "device", c.devID, "addr", c.addr)
	return nil
}

// Connected reports whether the connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close drops the connection.
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

// Status queries all data points.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	payload, err := json.Marshal(map[string]string{
		"gwId":  c.devID,
		"devId": c.devID,
		"uid":   c.devID,
		"t":     c.timestamp(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	f, err := c.request(ctx, CmdDPQuery, payload)
	if err != nil {
		return nil, err
	}
	dps, err := c.decodeDPS(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return dps, nil
}

// SetDP writes one data point.
func (c *Client) SetDP(ctx context.Context, dp string, value any) error {
	return c.SetDPs(ctx, map[string]any{dp: value})
}

// SetDPs writes several data points in one command.
func (c *Client) SetDPs(ctx context.Context, dps map[string]any) error {
	payload, err := json.Marshal(map[string]any{
		"devId": c.devID,
		"uid":   c.devID,
		"t":     c.timestamp(),
		"dps":   dps,
	})
	if err != nil {
		return fmt.Errorf("encoding control: %w", err)
	}

	f, err := c.request(ctx, CmdControl, payload)
	if err != nil {
		return err
	}
	if f.HasRetCode && f.RetCode != 0 {
		return fmt.Errorf("%w: code %d", ErrDeviceError, f.RetCode)
	}
	return nil
}

func (c *Client) timestamp() string {
	return strconv.FormatInt(c.now().Unix(), 10)
}

// request sends cmd and waits for the device's reply to it.
func (c *Client) request(ctx context.Context, cmd uint32, jsonPayload []byte) (Frame, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	sealed, err := c.codec.Seal(cmd, jsonPayload)
	if err != nil {
		return Frame{}, err
	}

	reply := make(chan Frame, 1)
	c.mu.Lock()
	conn, done := c.conn, c.done
	if conn == nil {
		c.mu.Unlock()
		return Frame{}, ErrNotConnected
	}
	c.seq++
	seq := c.seq
	c.waiters[cmd] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, cmd)
		c.mu.Unlock()
	}()

	if _, err := conn.Write(EncodeFrame(seq, cmd, sealed)); err != nil {
		c.Close() //nolint:errcheck // Connection is broken
		return Frame{}, fmt.Errorf("writing command %d: %w", cmd, err)
	}

	timer := time.NewTimer(responseTimeout)
	defer timer.Stop()

	select {
	case f := <-reply:
		return f, nil
	case <-done:
		return Frame{}, ErrNotConnected
	case <-timer.C:
		return Frame{}, fmt.Errorf("%w: command %d", ErrTimeout, cmd)
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *Client) readLoop(conn net.Conn, done chan struct{}) {
	defer close(done)
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close() //nolint:errcheck // Reader owns the close on exit
	}()

	r := bufio.NewReader(conn)
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			buf = c.drain(buf)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("tuya read failed", "device", c.devID, "error", err)
			}
			return
		}
	}
}

// drain dispatches every complete frame in buf and returns the remainder.
func (c *Client) drain(buf []byte) []byte {
	for len(buf) > 0 {
		f, n, err := DecodeFrame(buf)
		switch {
		case err == nil:
			buf = buf[n:]
			c.dispatch(f)
		case errors.Is(err, ErrShortFrame) && len(buf) < headerSize:
			return buf
		case errors.Is(err, ErrShortFrame):
			if size, serr := FrameSize(buf); serr == nil && size > len(buf) {
				return buf
			}
			buf = resync(buf[1:])
		default:
			c.logger.Debug("tuya frame dropped", "device", c.devID, "error", err)
			buf = resync(buf[1:])
		}
	}
	return buf
}

// resync skips to the next frame prefix.
func resync(buf []byte) []byte {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], framePrefix)
	if i := bytes.Index(buf, prefix[:]); i >= 0 {
		return buf[i:]
	}
	return nil
}

func (c *Client) dispatch(f Frame) {
	c.mu.Lock()
	waiter, ok := c.waiters[f.Cmd]
	if ok {
		delete(c.waiters, f.Cmd)
	}
	c.mu.Unlock()

	if ok {
		waiter <- f
		return
	}
	if f.Cmd != CmdStatus || c.handler == nil {
		return
	}

	dps, err := c.decodeDPS(f.Payload)
	if err != nil {
		c.logger.Debug("tuya status push undecodable", "device", c.devID, "error", err)
		return
	}
	if len(dps) > 0 {
		c.handler(dps)
	}
}

func (c *Client) decodeDPS(payload []byte) (map[string]any, error) {
	plain, err := c.codec.Open(payload)
	if err != nil {
		return nil, err
	}
	if len(plain) == 0 {
		return nil, nil
	}
	var msg struct {
		DPS map[string]any `json:"dps"`
	}
	if err := json.Unmarshal(plain, &msg); err != nil {
		return nil, fmt.Errorf("parsing %q: %w", plain, err)
	}
	return msg.DPS, nil
}

func (c *Client) heartbeatLoop(conn net.Conn, done chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	payload, _ := json.Marshal(map[string]string{"gwId": c.devID, "devId": c.devID}) //nolint:errcheck // Static map
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			sealed, err := c.codec.Seal(CmdHeartBeat, payload)
			if err != nil {
				return
			}
			c.mu.Lock()
			c.seq++
			seq := c.seq
			c.mu.Unlock()
			if _, err := conn.Write(EncodeFrame(seq, CmdHeartBeat, sealed)); err != nil {
				conn.Close() //nolint:errcheck // Reader notices and exits
				return
			}
		}
	}
}
