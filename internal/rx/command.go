package rx

import (
	"fmt"
	"strings"

	"github.com/oikomaticz/oikomaticz-core/internal/device"
)

// CommandKind selects what a Command does.
type CommandKind string

// Command kinds.
const (
	CommandSwitch   CommandKind = "switch"
	CommandSetpoint CommandKind = "setpoint"
)

// SwitchAction is the requested switch operation.
type SwitchAction string

// Switch actions. Toggle is resolved against the current state before the
// command reaches the hardware.
const (
	ActionOff      SwitchAction = "Off"
	ActionOn       SwitchAction = "On"
	ActionToggle   SwitchAction = "Toggle"
	ActionSetLevel SwitchAction = "Set Level"
)

// ParseSwitchAction accepts the action names used on MQTT and the API,
// case-insensitively.
func ParseSwitchAction(s string) (SwitchAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return ActionOff, nil
	case "on":
		return ActionOn, nil
	case "toggle":
		return ActionToggle, nil
	case "set level", "setlevel", "level":
		return ActionSetLevel, nil
	default:
		return "", fmt.Errorf("%w: switch action %q", ErrUnsupportedCommand, s)
	}
}

// Command is sent from the hub to a hardware adapter.
type Command struct {
	Kind CommandKind

	// Device is the target, as currently stored.
	Device device.Device

	Action   SwitchAction
	Level    int
	Setpoint float64
}

// State returns the switch payload a successful command leaves the device in.
// On and Off keep the level stored on the device.
func (c Command) State() Payload {
	switch c.Kind {
	case CommandSetpoint:
		return Setpoint{Celsius: c.Setpoint}
	default:
		switch c.Action {
		case ActionOn:
			return Switch{State: SwitchOn, Level: c.storedLevel()}
		case ActionSetLevel:
			return Switch{State: SwitchSetLevel, Level: c.Level}
		default:
			return Switch{State: SwitchOff, Level: c.storedLevel()}
		}
	}
}

// storedLevel returns the level in the target's svalue, or Level when the
// device has none.
func (c Command) storedLevel() int {
	if v, err := c.Device.Field(0); err == nil {
		return int(v)
	}
	return c.Level
}
