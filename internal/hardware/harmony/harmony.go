package harmony

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

// TypeName is the hardware type in configuration.
const TypeName = "harmony"

const (
	defaultPollInterval = 30 * time.Second
	activityDeviceID    = "Activity"
)

// Hub exposes the activities of a Harmony Hub as switches. The running
// activity is On and every other activity is Off.
type Hub struct {
	*hardware.Base

	client   *Client
	interval time.Duration

	mu         sync.Mutex
	activities []Activity
	current    string
}

// New creates a Harmony adapter from configuration. The hub address is
// required; the port defaults to DefaultPort.
func New(cfg config.HardwareConfig, logger hardware.Logger) (hardware.Hardware, error) {
	if cfg.Address == "" {
		return nil, errors.New("harmony: address is required")
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}

	h := &Hub{
		Base:     hardware.NewBase(cfg, logger),
		client:   NewClient(net.JoinHostPort(cfg.Address, strconv.Itoa(port))),
		interval: cfg.PollDuration(defaultPollInterval),
	}
	h.client.SetNotifyHandler(h.activityChanged)
	return h, nil
}

// Start connects to the hub in the background and reconnects on every poll
// while the connection is down.
func (h *Hub) Start(ctx context.Context, sink hardware.Sink) error {
	runCtx, err := h.Begin(ctx, sink)
	if err != nil {
		return err
	}
	h.Go(func() { h.RunPoller(runCtx, h.interval, h.poll) })
	return nil
}

// Stop closes the websocket and waits for the poller.
func (h *Hub) Stop() error {
	h.client.Close() //nolint:errcheck // Shutting down
	return h.End()
}

// Write starts or stops an activity.
func (h *Hub) Write(ctx context.Context, cmd rx.Command) error {
	if cmd.Kind != rx.CommandSwitch {
		return fmt.Errorf("%w: harmony supports switch commands only", rx.ErrUnsupportedCommand)
	}

	h.mu.Lock()
	unit := cmd.Device.Unit
	if unit < 1 || unit > len(h.activities) {
		h.mu.Unlock()
		return fmt.Errorf("%w: unit %d", ErrUnknownActivity, unit)
	}
	act := h.activities[unit-1]
	running := h.current == act.ID
	h.mu.Unlock()

	switch cmd.Action {
	case rx.ActionOn, rx.ActionSetLevel:
		return h.client.StartActivity(ctx, act.ID)
	case rx.ActionOff:
		if !running {
			return nil
		}
		return h.client.PowerOff(ctx)
	case rx.ActionToggle:
		if running {
			return h.client.PowerOff(ctx)
		}
		return h.client.StartActivity(ctx, act.ID)
	default:
		return fmt.Errorf("%w: action %v", rx.ErrUnsupportedCommand, cmd.Action)
	}
}

func (h *Hub) poll(ctx context.Context) error {
	if !h.client.Connected() {
		if err := h.client.Connect(ctx); err != nil {
			return err
		}
		acts, err := h.client.Activities(ctx)
		if err != nil {
			return fmt.Errorf("reading activities: %w", err)
		}
		h.setActivities(acts)
		h.Logger().Info("harmony hub connected", "hardware_id", h.ID(), "hub_id", h.client.HubID(), "activities", len(acts))
	}

	current, err := h.client.CurrentActivity(ctx)
	if err != nil {
		return fmt.Errorf("reading current activity: %w", err)
	}
	h.mu.Lock()
	h.current = current
	h.mu.Unlock()
	h.publish()
	return nil
}

// setActivities keeps the hub's order and drops PowerOff, which is
// represented by every activity switch being Off.
func (h *Hub) setActivities(acts []Activity) {
	kept := make([]Activity, 0, len(acts))
	for _, a := range acts {
		if a.ID != PowerOffActivity {
			kept = append(kept, a)
		}
	}
	h.mu.Lock()
	h.activities = kept
	h.mu.Unlock()
}

func (h *Hub) activityChanged(activityID string, status int) {
	if status != ActivityStarted && activityID != PowerOffActivity {
		return
	}
	h.mu.Lock()
	changed := h.current != activityID
	h.current = activityID
	h.mu.Unlock()
	if changed {
		h.publish()
	}
}

func (h *Hub) publish() {
	h.mu.Lock()
	acts := h.activities
	current := h.current
	h.mu.Unlock()

	for i, a := range acts {
		state := rx.SwitchOff
		if a.ID == current {
			state = rx.SwitchOn
		}
		msg := rx.Message{
			DeviceID: activityDeviceID,
			Unit:     i + 1,
			Name:     a.Label,
			Payload:  rx.Switch{State: state},
		}
		if err := h.SendMessage(msg); err != nil {
			h.Logger().Warn("harmony message dropped", "hardware_id", h.ID(), "activity", a.Label, "error", err)
		}
	}
}
