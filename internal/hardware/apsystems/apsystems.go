package apsystems

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

// TypeName is the hardware type in configuration.
const TypeName = "apsystems"

const (
	defaultPollInterval = time.Minute

	// maxIntegrationGap drops energy integration across long outages.
	maxIntegrationGap = time.Hour
)

// ECU polls an APSystems ECU for solar production.
type ECU struct {
	*hardware.Base

	client   *Client
	interval time.Duration

	mu        sync.Mutex
	ecuID     string
	loc       *time.Location
	panelWh   map[string][]float64
	lastStamp map[string]time.Time

	framingErrors atomic.Uint64
}

// New creates an ECU adapter from configuration.
//
// Options:
//   - ecu_id: 12 character ECU serial, read from the ECU when empty
func New(cfg config.HardwareConfig, logger hardware.Logger) (hardware.Hardware, error) {
	if cfg.Address == "" {
		return nil, errors.New("apsystems: address is required")
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	ecuID := cfg.Option("ecu_id", "")
	if ecuID != "" && len(ecuID) != ecuIDLength {
		return nil, fmt.Errorf("apsystems: ecu_id must be %d characters", ecuIDLength)
	}

	return &ECU{
		Base:      hardware.NewBase(cfg, logger),
		client:    NewClient(net.JoinHostPort(cfg.Address, strconv.Itoa(port))),
		interval:  cfg.PollDuration(defaultPollInterval),
		ecuID:     ecuID,
		loc:       time.Local,
		panelWh:   make(map[string][]float64),
		lastStamp: make(map[string]time.Time),
	}, nil
}

// Start polls the ECU in the background.
func (e *ECU) Start(ctx context.Context, sink hardware.Sink) error {
	runCtx, err := e.Begin(ctx, sink)
	if err != nil {
		return err
	}
	e.Go(func() { e.RunPoller(runCtx, e.interval, e.poll) })
	return nil
}

// Stop ends polling.
func (e *ECU) Stop() error {
	return e.End()
}

// Write is not supported: an ECU only reports.
func (e *ECU) Write(context.Context, rx.Command) error {
	return fmt.Errorf("%w: apsystems ecu is read-only", rx.ErrUnsupportedCommand)
}

// FramingErrors returns the number of responses rejected by the decoder.
func (e *ECU) FramingErrors() uint64 {
	return e.framingErrors.Load()
}

func (e *ECU) poll(ctx context.Context) error {
	raw, err := e.client.Query(ctx, ECUInfoQuery())
	if err != nil {
		return err
	}
	info, err := ParseECUInfo(raw)
	if err != nil {
		e.framingErrors.Add(1)
		return fmt.Errorf("ecu info: %w", err)
	}
	ecuID, loc := e.learn(info)

	e.send(rx.Message{
		DeviceID: info.ID,
		Unit:     1,
		Name:     "ECU " + info.ID,
		Payload:  rx.Energy{Watt: float64(info.CurrentPower), WhTotal: info.LifetimeKWh * 1000},
	})

	signals := e.signals(ctx, ecuID)

	raw, err = e.client.Query(ctx, InverterDataQuery(ecuID))
	if err != nil {
		return err
	}
	data, err := ParseInverterData(raw, loc)
	if errors.Is(err, ErrNoData) {
		e.Logger().Debug("apsystems ecu has no inverter data", "hardware_id", e.ID())
		return nil
	}
	if err != nil {
		e.framingErrors.Add(1)
		return fmt.Errorf("inverter data: %w", err)
	}

	for _, inv := range data.Inverters {
		if !inv.Online {
			continue
		}
		e.inverterMessages(inv, data.Timestamp, signals)
	}
	return nil
}

// learn records the ECU id and timezone reported by the ECU.
func (e *ECU) learn(info *ECUInfo) (string, *time.Location) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ecuID == "" {
		e.ecuID = info.ID
	}
	if info.Timezone != "" {
		if loc, err := time.LoadLocation(info.Timezone); err == nil {
			e.loc = loc
		}
	}
	return e.ecuID, e.loc
}

// signals returns the radio signal per inverter. Older ECUs do not answer
// the query, which only costs the RSSI.
func (e *ECU) signals(ctx context.Context, ecuID string) map[string]int {
	raw, err := e.client.Query(ctx, SignalQuery(ecuID))
	if err != nil {
		e.Logger().Debug("apsystems signal query failed", "hardware_id", e.ID(), "error", err)
		return nil
	}
	sig, err := ParseSignal(raw)
	if err != nil {
		e.framingErrors.Add(1)
		e.Logger().Debug("apsystems signal response rejected", "hardware_id", e.ID(), "error", err)
		return nil
	}
	return sig
}

func (e *ECU) inverterMessages(inv Inverter, stamp time.Time, signals map[string]int) {
	rssi, hasRSSI := 0, false
	if s, ok := signals[inv.UID]; ok {
		rssi, hasRSSI = RSSI(s), true
	}

	e.send(rx.Message{
		DeviceID: inv.UID,
		Unit:     1,
		Name:     "Inverter " + inv.UID + " Temperature",
		RSSI:     rssi,
		HasRSSI:  hasRSSI,
		Payload:  rx.Temp{Celsius: float64(inv.Temperature)},
	})

	totals := e.integrate(inv, stamp)
	for i, ch := range inv.Channels {
		e.send(rx.Message{
			DeviceID: inv.UID,
			Unit:     i + 1,
			Name:     fmt.Sprintf("Inverter %s Panel %d", inv.UID, i+1),
			RSSI:     rssi,
			HasRSSI:  hasRSSI,
			Payload:  rx.Energy{Watt: float64(ch.Power), WhTotal: totals[i]},
		})
	}
}

// integrate accumulates panel energy between ECU timestamps. A repeated
// timestamp adds nothing.
func (e *ECU) integrate(inv Inverter, stamp time.Time) []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	wh := e.panelWh[inv.UID]
	for len(wh) < len(inv.Channels) {
		wh = append(wh, 0)
	}

	if last, ok := e.lastStamp[inv.UID]; ok {
		if gap := stamp.Sub(last); gap > 0 && gap <= maxIntegrationGap {
			for i, ch := range inv.Channels {
				wh[i] += float64(ch.Power) * gap.Hours()
			}
		}
	}
	e.lastStamp[inv.UID] = stamp
	e.panelWh[inv.UID] = wh

	return append([]float64(nil), wh...)
}

func (e *ECU) send(msg rx.Message) {
	if err := e.SendMessage(msg); err != nil {
		e.Logger().Warn("apsystems message dropped", "hardware_id", e.ID(), "device", msg.DeviceID, "error", err)
	}
}
