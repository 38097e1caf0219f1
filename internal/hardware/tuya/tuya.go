package tuya

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

// TypeName is the hardware type in configuration.
const TypeName = "tuya"

const defaultPollInterval = 30 * time.Second

// Default data points of a metering smart plug.
const (
	defaultSwitchDP  = "1"
	defaultEnergyDP  = "17"
	defaultCurrentDP = "18"
	defaultPowerDP   = "19"
	defaultVoltageDP = "20"
)

// plugConfig is one configured device.
type plugConfig struct {
	ID      string
	Key     string
	IP      string
	Version string
	Name    string

	SwitchDP  string
	PowerDP   string
	VoltageDP string
	CurrentDP string
	EnergyDP  string
}

type plug struct {
	cfg plugConfig

	mu      sync.Mutex
	ip      string
	client  *Client
	whTotal float64
}

// Hub polls a set of Tuya devices on the local network.
type Hub struct {
	*hardware.Base

	plugs    []*plug
	interval time.Duration
	port     int
}

// New creates a Tuya hub from configuration.
//
// Devices are configured as numbered options:
//
//	device.1.id: bf0123456789abcdef
//	device.1.key: 0123456789abcdef
//	device.1.ip: 192.168.1.40      (optional, discovered when empty)
//	device.1.version: "3.3"        (3.1 or 3.3)
//	device.1.name: Washing machine
//	device.1.power_dp: "19"        (also switch_dp, voltage_dp, current_dp, energy_dp)
func New(cfg config.HardwareConfig, logger hardware.Logger) (hardware.Hardware, error) {
	plugs, err := parsePlugs(cfg.Options)
	if err != nil {
		return nil, err
	}
	if len(plugs) == 0 {
		return nil, errors.New("tuya: no devices configured")
	}

	h := &Hub{
		Base:     hardware.NewBase(cfg, logger),
		interval: cfg.PollDuration(defaultPollInterval),
		port:     cfg.Port,
	}
	if h.port == 0 {
		h.port = DefaultPort
	}
	for _, pc := range plugs {
		h.plugs = append(h.plugs, &plug{cfg: pc, ip: pc.IP})
	}
	return h, nil
}

func parsePlugs(opts map[string]string) ([]plugConfig, error) {
	byIndex := make(map[int]*plugConfig)
	for k, v := range opts {
		rest, ok := strings.CutPrefix(k, "device.")
		if !ok {
			continue
		}
		num, field, ok := strings.Cut(rest, ".")
		if !ok {
			return nil, fmt.Errorf("tuya: malformed option %q", k)
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return nil, fmt.Errorf("tuya: malformed option %q", k)
		}
		pc, ok := byIndex[n]
		if !ok {
			pc = &plugConfig{}
			byIndex[n] = pc
		}
		v = strings.TrimSpace(v)
		switch field {
		case "id":
			pc.ID = v
		case "key":
			pc.Key = v
		case "ip":
			pc.IP = v
		case "version":
			pc.Version = v
		case "name":
			pc.Name = v
		case "switch_dp":
			pc.SwitchDP = v
		case "power_dp":
			pc.PowerDP = v
		case "voltage_dp":
			pc.VoltageDP = v
		case "current_dp":
			pc.CurrentDP = v
		case "energy_dp":
			pc.EnergyDP = v
		default:
			return nil, fmt.Errorf("tuya: unknown option %q", k)
		}
	}

	indexes := make([]int, 0, len(byIndex))
	for n := range byIndex {
		indexes = append(indexes, n)
	}
	sort.Ints(indexes)

	plugs := make([]plugConfig, 0, len(indexes))
	for _, n := range indexes {
		pc := *byIndex[n]
		if pc.ID == "" {
			return nil, fmt.Errorf("tuya: device.%d.id is required", n)
		}
		if pc.Version == "" {
			pc.Version = Version33
		}
		if _, err := NewCodec(pc.Key, pc.Version); err != nil {
			return nil, fmt.Errorf("device.%d: %w", n, err)
		}
		if pc.Name == "" {
			pc.Name = pc.ID
		}
		pc.SwitchDP = cmp.Or(pc.SwitchDP, defaultSwitchDP)
		pc.PowerDP = cmp.Or(pc.PowerDP, defaultPowerDP)
		pc.VoltageDP = cmp.Or(pc.VoltageDP, defaultVoltageDP)
		pc.CurrentDP = cmp.Or(pc.CurrentDP, defaultCurrentDP)
		pc.EnergyDP = cmp.Or(pc.EnergyDP, defaultEnergyDP)
		plugs = append(plugs, pc)
	}
	return plugs, nil
}

// Start polls every device in the background. Devices without an address
// are found through discovery.
func (h *Hub) Start(ctx context.Context, sink hardware.Sink) error {
	runCtx, err := h.Begin(ctx, sink)
	if err != nil {
		return err
	}

	for _, p := range h.plugs {
		if p.cfg.IP == "" {
			h.startDiscovery(runCtx)
			break
		}
	}
	for _, p := range h.plugs {
		h.Go(func() {
			h.RunPoller(runCtx, h.interval, func(ctx context.Context) error { return h.poll(ctx, p) })
		})
	}
	return nil
}

func (h *Hub) startDiscovery(ctx context.Context) {
	for _, port := range []int{DiscoveryPortPlain, DiscoveryPortEncrypted} {
		addr := net.JoinHostPort("", strconv.Itoa(port))
		h.Go(func() {
			if err := Listen(ctx, addr, h.announce); err != nil {
				h.Logger().Warn("tuya discovery stopped", "hardware_id", h.ID(), "addr", addr, "error", err)
			}
		})
	}
}

// announce records the address of a configured device.
func (h *Hub) announce(a Announcement) {
	for _, p := range h.plugs {
		if p.cfg.ID != a.GwID {
			continue
		}
		p.mu.Lock()
		if p.ip != a.IP {
			h.Logger().Info("tuya device discovered", "hardware_id", h.ID(), "device", a.GwID, "ip", a.IP, "version", a.Version)
			p.ip = a.IP
		}
		p.mu.Unlock()
	}
}

// Stop disconnects every device.
func (h *Hub) Stop() error {
	err := h.End()
	for _, p := range h.plugs {
		p.mu.Lock()
		if p.client != nil {
			p.client.Close() //nolint:errcheck // Shutting down
			p.client = nil
		}
		p.mu.Unlock()
	}
	return err
}

// Write switches a device through its switch data point.
func (h *Hub) Write(ctx context.Context, cmd rx.Command) error {
	if cmd.Kind != rx.CommandSwitch {
		return fmt.Errorf("%w: tuya supports switch commands only", rx.ErrUnsupportedCommand)
	}
	p := h.find(cmd.Device.DeviceID)
	if p == nil {
		return fmt.Errorf("%w: unknown tuya device %q", rx.ErrUnsupportedCommand, cmd.Device.DeviceID)
	}

	client, err := h.connect(ctx, p)
	if err != nil {
		return err
	}
	on := cmd.Action == rx.ActionOn || cmd.Action == rx.ActionSetLevel
	if err := client.SetDP(ctx, p.cfg.SwitchDP, on); err != nil {
		h.disconnect(p)
		return err
	}
	return nil
}

func (h *Hub) find(id string) *plug {
	for _, p := range h.plugs {
		if p.cfg.ID == id {
			return p
		}
	}
	return nil
}

func (h *Hub) poll(ctx context.Context, p *plug) error {
	client, err := h.connect(ctx, p)
	if err != nil {
		return err
	}
	dps, err := client.Status(ctx)
	if err != nil {
		h.disconnect(p)
		return fmt.Errorf("querying %s: %w", p.cfg.ID, err)
	}
	h.publish(p, dps, false)
	return nil
}

// connect returns the device's client, dialing it when needed.
func (h *Hub) connect(ctx context.Context, p *plug) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.client.Connected() {
		return p.client, nil
	}
	if p.ip == "" {
		return nil, fmt.Errorf("tuya device %s: address not yet discovered", p.cfg.ID)
	}

	c, err := NewClient(p.cfg.ID, p.cfg.Key, p.cfg.Version, net.JoinHostPort(p.ip, strconv.Itoa(h.port)))
	if err != nil {
		return nil, err
	}
	c.SetLogger(h.Logger())
	c.SetStatusHandler(func(dps map[string]any) { h.publish(p, dps, true) })
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	p.client = c
	return c, nil
}

func (h *Hub) disconnect(p *plug) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Close() //nolint:errcheck // Reconnected on next poll
		p.client = nil
	}
}

// publish converts data points into messages. Pushes may carry only the
// data points that changed. The energy data point is an increment the
// device reports once per push; a query repeats the pending increment, so
// only pushes add it to the running total.
func (h *Hub) publish(p *plug, dps map[string]any, pushed bool) {
	var msgs []rx.Message

	if on, ok := dps[p.cfg.SwitchDP].(bool); ok {
		state := rx.SwitchOff
		if on {
			state = rx.SwitchOn
		}
		msgs = append(msgs, rx.Message{DeviceID: p.cfg.ID, Unit: 1, Name: p.cfg.Name, Payload: rx.Switch{State: state}})
	}

	p.mu.Lock()
	if wh, ok := number(dps[p.cfg.EnergyDP]); pushed && ok && wh > 0 {
		p.whTotal += wh
	}
	total := p.whTotal
	p.mu.Unlock()

	if raw, ok := number(dps[p.cfg.PowerDP]); ok {
		msgs = append(msgs, rx.Message{
			DeviceID: p.cfg.ID, Unit: 1, Name: p.cfg.Name + " Power",
			Payload: rx.Energy{Watt: raw / 10, WhTotal: total},
		})
	}
	if raw, ok := number(dps[p.cfg.VoltageDP]); ok {
		msgs = append(msgs, rx.Message{
			DeviceID: p.cfg.ID, Unit: 1, Name: p.cfg.Name + " Voltage",
			Payload: rx.Voltage{Volt: raw / 10},
		})
	}
	if raw, ok := number(dps[p.cfg.CurrentDP]); ok {
		msgs = append(msgs, rx.Message{
			DeviceID: p.cfg.ID, Unit: 1, Name: p.cfg.Name + " Current",
			Payload: rx.Current{L1: raw / 1000},
		})
	}

	for _, msg := range msgs {
		if err := h.SendMessage(msg); err != nil {
			h.Logger().Warn("tuya message dropped", "hardware_id", h.ID(), "device", msg.DeviceID, "error", err)
		}
	}
}

// number accepts the numeric forms a decoded data point can take.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
