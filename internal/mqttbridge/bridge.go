package mqttbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/mqtt"
	"github.com/oikomaticz/oikomaticz-core/internal/mainworker"
	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

// Client is the part of the MQTT client the bridge uses.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Worker executes inbound commands.
type Worker interface {
	SendCommand(ctx context.Context, idx int64, cmd rx.Command) error
	UpdateDevice(idx int64, nvalue int, svalue string) error
}

// Logger defines the logging interface used by the Bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Bridge publishes device changes and accepts commands over MQTT using the
// Domoticz topic layout.
type Bridge struct {
	client Client
	worker Worker
	topics mqtt.Topics
	qos    byte
	logger Logger

	mu  sync.RWMutex
	ctx context.Context
}

// New creates a bridge. Call Start to subscribe to inbound commands and
// register the bridge with the mainworker for outbound changes.
func New(client Client, worker Worker, topics mqtt.Topics, qos byte) *Bridge {
	return &Bridge{
		client: client,
		worker: worker,
		topics: topics,
		qos:    qos,
		logger: noopLogger{},
		ctx:    context.Background(),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// Name implements mainworker.Subscriber.
func (b *Bridge) Name() string { return "mqttbridge" }

// Start subscribes to the inbound topic. Commands run under ctx.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	if err := b.client.Subscribe(b.topics.In(), b.qos, b.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.topics.In(), err)
	}
	b.logger.Info("mqtt bridge started", "in", b.topics.In(), "out", b.topics.Out())
	return nil
}

// DeviceChanged implements mainworker.Subscriber. The change goes to the
// shared out topic and, retained, to the device's own topic.
func (b *Bridge) DeviceChanged(_ context.Context, change mainworker.DeviceChange) error {
	payload, err := outPayload(&change.Device)
	if err != nil {
		return fmt.Errorf("encoding device %d: %w", change.Device.Idx, err)
	}

	errOut := b.client.Publish(b.topics.Out(), payload, b.qos, false)
	errDev := b.client.Publish(b.topics.OutDevice(change.Device.Idx), payload, b.qos, true)
	return errors.Join(errOut, errDev)
}

// HandleMessage processes one inbound message. Rejected messages are
// logged and returned as errors.
func (b *Bridge) HandleMessage(topic string, payload []byte) error {
	b.mu.RLock()
	ctx := b.ctx
	b.mu.RUnlock()

	if err := b.handle(ctx, payload); err != nil {
		b.logger.Warn("mqtt command rejected", "topic", topic, "payload", string(payload), "error", err)
		return err
	}
	return nil
}

func (b *Bridge) handle(ctx context.Context, payload []byte) error {
	msg, err := parseInbound(payload)
	if err != nil {
		return err
	}
	idx := int64(msg.Idx.Value)

	switch msg.Command {
	case cmdSwitchLight:
		action, err := rx.ParseSwitchAction(msg.SwitchCmd)
		if err != nil {
			return err
		}
		cmd := rx.Command{Kind: rx.CommandSwitch, Action: action, Level: int(msg.Level.Value)}
		if action == rx.ActionSetLevel && !msg.Level.Set {
			return fmt.Errorf("%w: Set Level needs a level", ErrInvalidPayload)
		}
		b.logger.Debug("mqtt switch command", "idx", idx, "action", action, "level", cmd.Level)
		return b.worker.SendCommand(ctx, idx, cmd)

	case cmdSetSetpoint:
		if !msg.Setpoint.Set {
			return fmt.Errorf("%w: missing setpoint", ErrInvalidPayload)
		}
		b.logger.Debug("mqtt setpoint command", "idx", idx, "setpoint", msg.Setpoint.Value)
		return b.worker.SendCommand(ctx, idx, rx.Command{Kind: rx.CommandSetpoint, Setpoint: msg.Setpoint.Value})

	case cmdUDevice:
		b.logger.Debug("mqtt device update", "idx", idx, "nvalue", int(msg.NValue.Value), "svalue", msg.SValue)
		return b.worker.UpdateDevice(idx, int(msg.NValue.Value), msg.SValue)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Command)
	}
}
