package p1

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// serialReadTimeout bounds each serial read so the loop can observe
// cancellation and stamp its heartbeat.
const serialReadTimeout = time.Second

// opener connects to the meter.
type opener func(ctx context.Context) (io.ReadCloser, error)

// serialOpener opens a serial port. mode is "8N1" (DSMR 4/5, the default)
// or "7E1" (DSMR 2/3).
func serialOpener(port string, baud int, mode string) (opener, error) {
	cfg := &serial.Config{
		Name:        port,
		Baud:        baud,
		ReadTimeout: serialReadTimeout,
	}
	switch strings.ToUpper(mode) {
	case "", "8N1":
		cfg.Size = 8
		cfg.Parity = serial.ParityNone
	case "7E1":
		cfg.Size = 7
		cfg.Parity = serial.ParityEven
	default:
		return nil, fmt.Errorf("unsupported serial mode %q", mode)
	}
	cfg.StopBits = serial.Stop1

	return func(context.Context) (io.ReadCloser, error) {
		p, err := serial.OpenPort(cfg)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", port, err)
		}
		return serialPort{p}, nil
	}, nil
}

// serialPort hides the EOF the serial driver reports on a read timeout.
type serialPort struct {
	*serial.Port
}

func (p serialPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

// tcpOpener dials a serial-to-network bridge.
func tcpOpener(address string, port int) opener {
	addr := net.JoinHostPort(address, strconv.Itoa(port))
	return func(ctx context.Context) (io.ReadCloser, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", addr, err)
		}
		return conn, nil
	}
}
