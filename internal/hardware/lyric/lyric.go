package lyric

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

// TypeName is the hardware type in configuration.
const TypeName = "lyric"

const defaultPollInterval = 5 * time.Minute

// known is what a command needs about a thermostat seen in a poll.
type known struct {
	locationID int
	fahrenheit bool
}

// Account polls the thermostats of one Resideo account.
type Account struct {
	*hardware.Base

	client   *Client
	interval time.Duration

	mu          sync.Mutex
	thermostats map[string]known
}

// New creates a Lyric adapter from configuration.
//
// Options:
//   - consumer_key, consumer_secret: application credentials
//   - refresh_token: token obtained from the authorization code flow
//   - base_url: API endpoint, DefaultBaseURL when empty
func New(cfg config.HardwareConfig, logger hardware.Logger) (hardware.Hardware, error) {
	key := cfg.Option("consumer_key", "")
	secret := cfg.Option("consumer_secret", "")
	refresh := cfg.Option("refresh_token", "")
	if key == "" || secret == "" || refresh == "" {
		return nil, errors.New("lyric: consumer_key, consumer_secret and refresh_token are required")
	}

	return &Account{
		Base: hardware.NewBase(cfg, logger),
		client: NewClient(Config{
			BaseURL:        cfg.Option("base_url", DefaultBaseURL),
			ConsumerKey:    key,
			ConsumerSecret: secret,
			RefreshToken:   refresh,
		}),
		interval:    cfg.PollDuration(defaultPollInterval),
		thermostats: make(map[string]known),
	}, nil
}

// Start polls the account in the background.
func (a *Account) Start(ctx context.Context, sink hardware.Sink) error {
	runCtx, err := a.Begin(ctx, sink)
	if err != nil {
		return err
	}
	a.Go(func() { a.RunPoller(runCtx, a.interval, a.poll) })
	return nil
}

// Stop ends polling.
func (a *Account) Stop() error {
	return a.End()
}

// Write changes a heating setpoint.
func (a *Account) Write(ctx context.Context, cmd rx.Command) error {
	if cmd.Kind != rx.CommandSetpoint {
		return fmt.Errorf("%w: lyric supports setpoints only", rx.ErrUnsupportedCommand)
	}

	a.mu.Lock()
	k, ok := a.thermostats[cmd.Device.DeviceID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownThermostat, cmd.Device.DeviceID)
	}

	value := cmd.Setpoint
	if k.fahrenheit {
		value = math.Round(value*9/5 + 32)
	}
	return a.client.SetHeatSetpoint(ctx, k.locationID, cmd.Device.DeviceID, value)
}

func (a *Account) poll(ctx context.Context) error {
	locs, err := a.client.Locations(ctx)
	if err != nil {
		return fmt.Errorf("reading locations: %w", err)
	}

	for _, loc := range locs {
		for _, t := range loc.Devices {
			a.mu.Lock()
			a.thermostats[t.DeviceID] = known{
				locationID: loc.LocationID,
				fahrenheit: strings.EqualFold(t.Units, "Fahrenheit"),
			}
			a.mu.Unlock()
			a.publish(t)
		}
	}
	return nil
}

func (a *Account) publish(t Thermostat) {
	name := t.Name
	if name == "" {
		name = t.DeviceID
	}

	msgs := []rx.Message{
		{
			DeviceID: t.DeviceID,
			Unit:     1,
			Name:     name,
			Payload:  rx.TempHum{Celsius: t.Celsius(t.IndoorTemperature), Humidity: int(math.Round(t.IndoorHumidity))},
		},
		{
			DeviceID: t.DeviceID,
			Unit:     1,
			Name:     name + " Setpoint",
			Payload:  rx.Setpoint{Celsius: t.Celsius(t.ChangeableValues.HeatSetpoint)},
		},
		{
			DeviceID: t.DeviceID,
			Unit:     1,
			Name:     name + " Mode",
			Payload:  rx.Text{Text: t.ChangeableValues.Mode},
		},
	}
	for _, msg := range msgs {
		if err := a.SendMessage(msg); err != nil {
			a.Logger().Warn("lyric message dropped", "hardware_id", a.ID(), "device", msg.DeviceID, "error", err)
		}
	}
}
