package modbusmeter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/aldas/go-modbus-client"

	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

// TypeName is the hardware type in configuration.
const TypeName = "modbusmeter"

const (
	// DefaultPort is the Modbus TCP port.
	DefaultPort = 502

	defaultPollInterval = 10 * time.Second
	requestTimeout      = 5 * time.Second
	meterDeviceID       = "Meter"
)

// Meter polls a Modbus TCP energy meter.
type Meter struct {
	*hardware.Base

	addr     string
	regs     RegisterMap
	requests []modbus.BuilderRequest
	interval time.Duration
}

// New creates a Modbus meter adapter from configuration.
//
// Options:
//   - power_register, import_register, export_register, voltage_register
//   - register_kind: holding (default) or input
//   - unit_id: Modbus unit, 1 when unset
func New(cfg config.HardwareConfig, logger hardware.Logger) (hardware.Hardware, error) {
	if cfg.Address == "" {
		return nil, errors.New("modbusmeter: address is required")
	}
	regs, err := ParseRegisterMap(cfg)
	if err != nil {
		return nil, err
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := "tcp://" + net.JoinHostPort(cfg.Address, strconv.Itoa(port))

	requests, err := buildRequests(addr, uint8(cfg.OptionInt("unit_id", 1)), regs)
	if err != nil {
		return nil, err
	}

	return &Meter{
		Base:     hardware.NewBase(cfg, logger),
		addr:     addr,
		regs:     regs,
		requests: requests,
		interval: cfg.PollDuration(defaultPollInterval),
	}, nil
}

func buildRequests(addr string, unit uint8, regs RegisterMap) ([]modbus.BuilderRequest, error) {
	b := modbus.NewRequestBuilder(addr, unit)
	for _, f := range regs.Fields() {
		b.AddField(f)
	}
	var (
		requests []modbus.BuilderRequest
		err      error
	)
	if regs.Input {
		requests, err = b.ReadInputRegistersTCP()
	} else {
		requests, err = b.ReadHoldingRegistersTCP()
	}
	if err != nil {
		return nil, fmt.Errorf("building modbus requests: %w", err)
	}
	return requests, nil
}

// Start polls the meter in the background.
func (m *Meter) Start(ctx context.Context, sink hardware.Sink) error {
	runCtx, err := m.Begin(ctx, sink)
	if err != nil {
		return err
	}
	m.Go(func() { m.RunPoller(runCtx, m.interval, m.poll) })
	return nil
}

// Stop ends polling.
func (m *Meter) Stop() error {
	return m.End()
}

// Write rejects every command; a meter has nothing to switch.
func (m *Meter) Write(context.Context, rx.Command) error {
	return fmt.Errorf("%w: modbus meters are read-only", rx.ErrUnsupportedCommand)
}

func (m *Meter) read(ctx context.Context) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	client := modbus.NewTCPClient()
	if err := client.Connect(ctx, m.addr); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", m.addr, err)
	}
	defer client.Close() //nolint:errcheck // One connection per poll

	values := make(map[string]any)
	for _, req := range m.requests {
		resp, err := client.Do(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("reading registers: %w", err)
		}
		fields, err := req.ExtractFields(resp, true)
		if err != nil {
			return nil, fmt.Errorf("extracting fields: %w", err)
		}
		for _, f := range fields {
			values[f.Field.Name] = f.Value
		}
	}
	for _, f := range m.regs.Fields() {
		if _, ok := values[f.Name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, f.Name)
		}
	}
	return values, nil
}

func (m *Meter) poll(ctx context.Context) error {
	values, err := m.read(ctx)
	if err != nil {
		return err
	}
	m.publish(Decode(values))
	return nil
}

func (m *Meter) publish(r Reading) {
	var msgs []rx.Message
	name := m.Name()

	if r.HasPower || r.HasImport {
		msgs = append(msgs, rx.Message{
			DeviceID: meterDeviceID,
			Unit:     1,
			Name:     name + " Power",
			Payload:  rx.Energy{Watt: r.Watt, WhTotal: float64(r.ImportWh)},
		})
	}
	if r.HasVoltage {
		msgs = append(msgs, rx.Message{
			DeviceID: meterDeviceID,
			Unit:     2,
			Name:     name + " Voltage",
			Payload:  rx.Voltage{Volt: r.Volt},
		})
	}
	if r.HasImport && r.HasExport {
		p := rx.P1Power{Usage1: r.ImportWh, Return1: r.ExportWh}
		if r.Watt >= 0 {
			p.Cons = int64(r.Watt)
		} else {
			p.Prod = int64(-r.Watt)
		}
		msgs = append(msgs, rx.Message{
			DeviceID: meterDeviceID,
			Unit:     3,
			Name:     name + " Grid",
			Payload:  p,
		})
	}

	for _, msg := range msgs {
		if err := m.SendMessage(msg); err != nil {
			m.Logger().Warn("modbus meter message dropped", "hardware_id", m.ID(), "unit", msg.Unit, "error", err)
		}
	}
}
