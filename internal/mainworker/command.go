package mainworker

import (
	"context"
	"fmt"

	"github.com/oikomaticz/oikomaticz-core/internal/device"
	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

// SendCommand executes a command on the hardware owning device idx. On
// success the new state is queued so subscribers see it without waiting
// for the hardware to report back.
func (w *Worker) SendCommand(ctx context.Context, idx int64, cmd rx.Command) error {
	if w.resolver == nil {
		return ErrNoResolver
	}

	d, err := w.store.Get(ctx, idx)
	if err != nil {
		return err
	}
	if d.Protected {
		return fmt.Errorf("%w: %s", ErrDeviceProtected, d.Name)
	}
	if err := checkApplicable(d, &cmd); err != nil {
		return err
	}

	hw, err := w.resolver.Resolve(d.HardwareID)
	if err != nil {
		return fmt.Errorf("device %d: %w", idx, err)
	}

	cmd.Device = *d
	if err := hw.Write(ctx, cmd); err != nil {
		return fmt.Errorf("writing to %s: %w", hw.Name(), err)
	}
	w.commands.Add(1)

	w.logger.Info("command sent",
		"idx", idx,
		"hardware", hw.Name(),
		"kind", cmd.Kind,
		"action", cmd.Action,
		"level", cmd.Level,
		"setpoint", cmd.Setpoint,
	)

	nvalue, svalue := cmd.State().Encode()
	if err := w.enqueue(job{
		idx:    idx,
		value:  device.Value{NValue: nvalue, SValue: svalue},
		source: SourceCommand,
	}); err != nil {
		w.logger.Warn("queueing command state failed", "idx", idx, "error", err)
	}
	return nil
}

// checkApplicable validates cmd against the device type and resolves Toggle.
func checkApplicable(d *device.Device, cmd *rx.Command) error {
	switch cmd.Kind {
	case rx.CommandSwitch:
		if !d.IsSwitch() {
			return fmt.Errorf("%w: %s is not a switch", ErrCommandNotApplicable, d.Name)
		}
		switch cmd.Action {
		case rx.ActionToggle:
			if d.NValue == device.SwitchOff {
				cmd.Action = rx.ActionOn
			} else {
				cmd.Action = rx.ActionOff
			}
		case rx.ActionSetLevel:
			if cmd.Level < 0 || cmd.Level > 100 {
				return fmt.Errorf("%w: level %d out of range", ErrCommandNotApplicable, cmd.Level)
			}
		case rx.ActionOn, rx.ActionOff:
		default:
			return fmt.Errorf("%w: action %q", rx.ErrUnsupportedCommand, cmd.Action)
		}
		return nil

	case rx.CommandSetpoint:
		if d.Type != device.TypeSetpoint {
			return fmt.Errorf("%w: %s is not a thermostat", ErrCommandNotApplicable, d.Name)
		}
		return nil

	default:
		return fmt.Errorf("%w: kind %q", rx.ErrUnsupportedCommand, cmd.Kind)
	}
}
