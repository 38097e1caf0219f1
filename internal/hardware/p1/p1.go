package p1

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

// TypeName is the hardware type in configuration.
const TypeName = "p1"

const (
	defaultBaudRate  = 115200
	reconnectDelay   = 30 * time.Second
	gasMinInterval   = 5 * time.Minute
	readBufferSize   = 1024
	meterDeviceID    = "P1"
	gasDeviceID      = "P1Gas"
	phaseDeviceIDFmt = "P1L%d"
)

// Meter reads a DSMR smart meter over serial or TCP.
type Meter struct {
	*hardware.Base

	open      opener
	decryptor *Decryptor
	rateLimit time.Duration

	parser    *Parser
	assembler *FrameAssembler

	mu            sync.Mutex
	lastPowerSent time.Time
	lastGasStamp  string
	lastGasSent   time.Time
	phaseWh       [3]float64
	lastPhaseAt   time.Time

	telegrams atomic.Uint64
	crcErrors atomic.Uint64
	now       func() time.Time
}

// New creates a P1 meter from configuration.
//
// Options:
//   - decryption_key: hex AES key for encrypted meters
//   - auth_key: hex GCM authentication key, defaults to DefaultAuthKey
//   - rate_limit: minimum seconds between readings, 0 sends every telegram
//   - serial_mode: 8N1 (default) or 7E1
func New(cfg config.HardwareConfig, logger hardware.Logger) (hardware.Hardware, error) {
	m := &Meter{
		Base:      hardware.NewBase(cfg, logger),
		rateLimit: time.Duration(cfg.OptionInt("rate_limit", 0)) * time.Second,
		parser:    NewParser(),
		assembler: NewFrameAssembler(),
		now:       time.Now,
	}

	switch {
	case cfg.SerialPort != "":
		baud := cfg.BaudRate
		if baud == 0 {
			baud = defaultBaudRate
		}
		op, err := serialOpener(cfg.SerialPort, baud, cfg.Option("serial_mode", ""))
		if err != nil {
			return nil, err
		}
		m.open = op
	case cfg.Address != "" && cfg.Port > 0:
		m.open = tcpOpener(cfg.Address, cfg.Port)
	default:
		return nil, errors.New("p1: serial_port or address/port is required")
	}

	if key := cfg.Option("decryption_key", ""); key != "" {
		d, err := NewDecryptor(key, cfg.Option("auth_key", ""))
		if err != nil {
			return nil, err
		}
		m.decryptor = d
	}
	return m, nil
}

// Start connects to the meter in the background.
func (m *Meter) Start(ctx context.Context, sink hardware.Sink) error {
	runCtx, err := m.Begin(ctx, sink)
	if err != nil {
		return err
	}
	m.Go(func() { m.readLoop(runCtx) })
	return nil
}

// Stop disconnects.
func (m *Meter) Stop() error {
	return m.End()
}

// Write is not supported: a meter has no actuators.
func (m *Meter) Write(context.Context, rx.Command) error {
	return fmt.Errorf("%w: p1 meter is read-only", rx.ErrUnsupportedCommand)
}

// Stats returns the number of accepted telegrams and checksum failures.
func (m *Meter) Stats() (telegrams, crcErrors uint64) {
	return m.telegrams.Load(), m.crcErrors.Load()
}

func (m *Meter) readLoop(ctx context.Context) {
	log := m.Logger()
	for ctx.Err() == nil {
		conn, err := m.open(ctx)
		if err != nil {
			log.Warn("p1 connect failed", "hardware_id", m.ID(), "error", err)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			continue
		}
		log.Info("p1 connected", "hardware_id", m.ID())

		err = m.consume(ctx, conn)
		conn.Close() //nolint:errcheck // Reconnecting anyway
		if ctx.Err() != nil {
			return
		}
		log.Warn("p1 connection lost", "hardware_id", m.ID(), "error", err)
		if !sleep(ctx, reconnectDelay) {
			return
		}
	}
}

// consume reads until the connection fails or ctx ends.
func (m *Meter) consume(ctx context.Context, r io.ReadCloser) error {
	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()

	m.parser.Reset()
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		m.Heartbeat()
		if n > 0 {
			m.process(buf[:n])
		}
		if err != nil {
			return err
		}
	}
}

// process feeds raw bytes through decryption and parsing.
func (m *Meter) process(data []byte) {
	if m.decryptor == nil {
		m.handleResults(m.parser.Feed(data))
		return
	}
	for _, f := range m.assembler.Feed(data) {
		plain, err := m.decryptor.Decrypt(f)
		if err != nil {
			m.crcErrors.Add(1)
			m.Logger().Warn("p1 decryption failed", "hardware_id", m.ID(), "error", err)
			continue
		}
		m.handleResults(m.parser.Feed(plain))
	}
}

func (m *Meter) handleResults(results []Result) {
	for _, r := range results {
		if r.Err != nil {
			m.crcErrors.Add(1)
			m.Logger().Warn("p1 telegram rejected", "hardware_id", m.ID(), "error", r.Err)
			continue
		}
		m.telegrams.Add(1)
		m.handleTelegram(r.Telegram)
	}
}

// handleTelegram converts a telegram into messages, honouring the rate
// limit and the gas interval.
func (m *Meter) handleTelegram(t *Telegram) {
	now := m.now()

	m.mu.Lock()
	sendPower := m.rateLimit <= 0 || m.lastPowerSent.IsZero() || now.Sub(m.lastPowerSent) >= m.rateLimit
	if sendPower {
		m.lastPowerSent = now
	}
	sendGas := t.Gas != nil && t.Gas.Timestamp != m.lastGasStamp &&
		(m.lastGasSent.IsZero() || now.Sub(m.lastGasSent) >= gasMinInterval)
	if sendGas {
		m.lastGasStamp = t.Gas.Timestamp
		m.lastGasSent = now
	}
	m.mu.Unlock()

	var msgs []rx.Message
	if sendPower {
		msgs = append(msgs, m.powerMessages(t, now)...)
	}
	if sendGas {
		msgs = append(msgs, rx.Message{DeviceID: gasDeviceID, Unit: 1, Name: "Gas", Payload: rx.P1Gas{M3: t.Gas.M3}})
	}

	for _, msg := range msgs {
		if err := m.SendMessage(msg); err != nil {
			m.Logger().Warn("p1 message dropped", "hardware_id", m.ID(), "device", msg.DeviceID, "error", err)
		}
	}
}

func (m *Meter) powerMessages(t *Telegram, now time.Time) []rx.Message {
	msgs := []rx.Message{{
		DeviceID: meterDeviceID,
		Unit:     1,
		Name:     "Power",
		Payload: rx.P1Power{
			Usage1:  kwhToWh(t.Usage1),
			Usage2:  kwhToWh(t.Usage2),
			Return1: kwhToWh(t.Return1),
			Return2: kwhToWh(t.Return2),
			Cons:    int64(t.PowerUsage*1000 + 0.5),
			Prod:    int64(t.PowerDelivered*1000 + 0.5),
		},
	}}

	for i := range 3 {
		if t.HasVoltage(i) {
			msgs = append(msgs, rx.Message{
				DeviceID: meterDeviceID,
				Unit:     i + 1,
				Name:     fmt.Sprintf("Voltage L%d", i+1),
				Payload:  rx.Voltage{Volt: t.Voltage[i]},
			})
		}
	}

	if t.HasCurrent(0) || t.HasCurrent(1) || t.HasCurrent(2) {
		msgs = append(msgs, rx.Message{
			DeviceID: meterDeviceID,
			Unit:     1,
			Name:     "Current",
			Payload:  rx.Current{L1: t.Current[0], L2: t.Current[1], L3: t.Current[2]},
		})
	}

	// Per-phase energy is integrated from the phase power since start.
	m.mu.Lock()
	elapsed := 0.0
	if !m.lastPhaseAt.IsZero() {
		elapsed = now.Sub(m.lastPhaseAt).Hours()
	}
	m.lastPhaseAt = now
	for i := range 3 {
		if !t.HasPhasePower(i) {
			continue
		}
		watt := (t.PhaseUsage[i] - t.PhaseDelivered[i]) * 1000
		if watt > 0 {
			m.phaseWh[i] += watt * elapsed
		}
		msgs = append(msgs, rx.Message{
			DeviceID: fmt.Sprintf(phaseDeviceIDFmt, i+1),
			Unit:     1,
			Name:     fmt.Sprintf("Power L%d", i+1),
			Payload:  rx.Energy{Watt: watt, WhTotal: m.phaseWh[i]},
		})
	}
	m.mu.Unlock()

	return msgs
}

func kwhToWh(kwh float64) uint64 {
	if kwh <= 0 {
		return 0
	}
	return uint64(kwh*1000 + 0.5)
}

// sleep waits d or until ctx is done. It reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
