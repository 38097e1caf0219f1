package apsystems

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// DefaultPort is the ECU-R/ECU-C socket port.
const DefaultPort = 8899

const (
	queryTimeout = 10 * time.Second
	maxResponse  = 16 * 1024
)

// Client sends queries to an ECU. The ECU serves one query per
// connection, so every query dials anew.
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient creates a client for the ECU at addr ("host:port").
func NewClient(addr string) *Client {
	return &Client{addr: addr, timeout: queryTimeout}
}

// Query sends q and returns the raw response up to and including the END
// trailer.
func (c *Client) Query(ctx context.Context, q []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("dialing ecu %s: %w", c.addr, err)
	}
	defer conn.Close() //nolint:errcheck // One query per connection

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline) //nolint:errcheck // Best effort
	}
	if _, err := conn.Write(q); err != nil {
		return nil, fmt.Errorf("sending query: %w", err)
	}

	var resp []byte
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		resp = append(resp, buf[:n]...)
		if complete(resp) {
			return resp, nil
		}
		if len(resp) > maxResponse {
			return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrBadFrame, maxResponse)
		}
		if err == io.EOF {
			return resp, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
	}
}

// complete reports whether resp holds as many bytes as its length field
// announces. The trailing newline is not waited for since some firmware
// omits it.
func complete(resp []byte) bool {
	if len(resp) < 9 {
		return false
	}
	n, err := strconv.Atoi(string(resp[5:9]))
	if err != nil {
		return bytes.HasSuffix(bytes.TrimRight(resp, "\r\n"), []byte(frameTrailer))
	}
	return len(resp) >= n
}
