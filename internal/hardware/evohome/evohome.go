package evohome

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

// TypeName is the hardware type in configuration.
const TypeName = "evohome"

const (
	defaultPollInterval = 5 * time.Minute

	// modeLevelStep is the selector level distance between system modes.
	modeLevelStep = 10
)

// Controller polls one Evohome temperature control system.
type Controller struct {
	*hardware.Base

	client          *Client
	interval        time.Duration
	systemID        string
	overrideMinutes int

	mu     sync.Mutex
	system *ControlSystem
	units  map[string]int

	now func() time.Time
}

// New creates an Evohome adapter from configuration.
//
// Options:
//   - system_id: control system to use, the first one when empty
//   - override_minutes: setpoint overrides expire after this many minutes,
//     0 makes them permanent
//   - base_url: API endpoint, DefaultBaseURL when empty
func New(cfg config.HardwareConfig, logger hardware.Logger) (hardware.Hardware, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("evohome: username and password are required")
	}
	return &Controller{
		Base: hardware.NewBase(cfg, logger),
		client: NewClient(Config{
			BaseURL:  cfg.Option("base_url", DefaultBaseURL),
			Username: cfg.Username,
			Password: cfg.Password,
		}),
		interval:        cfg.PollDuration(defaultPollInterval),
		systemID:        cfg.Option("system_id", ""),
		overrideMinutes: cfg.OptionInt("override_minutes", 0),
		units:           make(map[string]int),
		now:             time.Now,
	}, nil
}

// Start polls the system in the background.
func (c *Controller) Start(ctx context.Context, sink hardware.Sink) error {
	runCtx, err := c.Begin(ctx, sink)
	if err != nil {
		return err
	}
	c.Go(func() { c.RunPoller(runCtx, c.interval, c.poll) })
	return nil
}

// Stop ends polling.
func (c *Controller) Stop() error {
	return c.End()
}

// Write applies a zone setpoint or a system mode.
func (c *Controller) Write(ctx context.Context, cmd rx.Command) error {
	sys, err := c.controlSystem(ctx)
	if err != nil {
		return err
	}

	switch cmd.Kind {
	case rx.CommandSetpoint:
		if _, ok := c.unit(cmd.Device.DeviceID); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownZone, cmd.Device.DeviceID)
		}
		var until time.Time
		if c.overrideMinutes > 0 {
			until = c.now().Add(time.Duration(c.overrideMinutes) * time.Minute)
		}
		return c.client.SetZoneSetpoint(ctx, cmd.Device.DeviceID, cmd.Setpoint, until)

	case rx.CommandSwitch:
		if cmd.Device.DeviceID != sys.SystemID {
			return fmt.Errorf("%w: only the system mode can be switched", rx.ErrUnsupportedCommand)
		}
		mode, err := modeForCommand(cmd)
		if err != nil {
			return err
		}
		return c.client.SetSystemMode(ctx, sys.SystemID, mode, time.Time{})

	default:
		return fmt.Errorf("%w: %s", rx.ErrUnsupportedCommand, cmd.Kind)
	}
}

// modeForCommand maps a selector command to a system mode. On and Off
// select Auto and HeatingOff.
func modeForCommand(cmd rx.Command) (SystemMode, error) {
	switch cmd.Action {
	case rx.ActionOn:
		return ModeAuto, nil
	case rx.ActionOff:
		return ModeHeatingOff, nil
	case rx.ActionSetLevel:
		i := cmd.Level / modeLevelStep
		if cmd.Level%modeLevelStep != 0 || i < 0 || i >= len(Modes) {
			return "", fmt.Errorf("%w: selector level %d", ErrUnknownMode, cmd.Level)
		}
		return Modes[i], nil
	default:
		return "", fmt.Errorf("%w: %s", rx.ErrUnsupportedCommand, cmd.Action)
	}
}

func modeLevel(mode SystemMode) int {
	for i, m := range Modes {
		if m == mode {
			return i * modeLevelStep
		}
	}
	return 0
}

// controlSystem resolves the configured system once and caches its zones.
func (c *Controller) controlSystem(ctx context.Context) (ControlSystem, error) {
	c.mu.Lock()
	if c.system != nil {
		sys := *c.system
		c.mu.Unlock()
		return sys, nil
	}
	c.mu.Unlock()

	acct, err := c.client.UserAccount(ctx)
	if err != nil {
		return ControlSystem{}, fmt.Errorf("reading user account: %w", err)
	}
	installs, err := c.client.Installations(ctx, acct.UserID)
	if err != nil {
		return ControlSystem{}, fmt.Errorf("reading installations: %w", err)
	}

	var sys ControlSystem
	if c.systemID != "" {
		sys, err = FindSystem(installs, c.systemID)
	} else {
		sys, err = FirstSystem(installs)
	}
	if err != nil {
		return ControlSystem{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.system = &sys
	for i, z := range sys.Zones {
		c.units[z.ZoneID] = i + 1
	}
	c.Logger().Info("evohome system found", "hardware_id", c.ID(), "system_id", sys.SystemID, "zones", len(sys.Zones))
	return sys, nil
}

func (c *Controller) unit(zoneID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.units[zoneID]
	return u, ok
}

func (c *Controller) poll(ctx context.Context) error {
	sys, err := c.controlSystem(ctx)
	if err != nil {
		return err
	}
	st, err := c.client.SystemStatus(ctx, sys.SystemID)
	if err != nil {
		return fmt.Errorf("reading system status: %w", err)
	}
	c.publish(sys.SystemID, st)
	return nil
}

func (c *Controller) publish(systemID string, st *SystemStatus) {
	msgs := []rx.Message{
		{
			DeviceID: systemID,
			Unit:     1,
			Name:     "Evohome Mode",
			Payload:  rx.Text{Text: string(st.SystemModeStatus.Mode)},
		},
		{
			DeviceID: systemID,
			Unit:     1,
			Name:     "Evohome System Mode",
			Payload:  rx.Switch{State: rx.SwitchSetLevel, Level: modeLevel(st.SystemModeStatus.Mode)},
		},
	}

	for _, z := range st.Zones {
		unit, ok := c.unit(z.ZoneID)
		if !ok {
			c.Logger().Debug("evohome zone not in installation", "hardware_id", c.ID(), "zone_id", z.ZoneID)
			continue
		}
		if z.TemperatureStatus.IsAvailable {
			msgs = append(msgs, rx.Message{
				DeviceID: z.ZoneID,
				Unit:     unit,
				Name:     z.Name,
				Payload:  rx.Temp{Celsius: z.TemperatureStatus.Temperature},
			})
		}
		msgs = append(msgs, rx.Message{
			DeviceID: z.ZoneID,
			Unit:     unit,
			Name:     z.Name + " Setpoint",
			Payload:  rx.Setpoint{Celsius: z.SetpointStatus.TargetHeatTemperature},
		})
	}

	for _, msg := range msgs {
		if err := c.SendMessage(msg); err != nil {
			c.Logger().Warn("evohome message dropped", "hardware_id", c.ID(), "device", msg.DeviceID, "error", err)
		}
	}
}
