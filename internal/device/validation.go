package device

import (
	"fmt"
	"strings"
)

// Validation limits.
const (
	maxNameLength     = 100
	maxDeviceIDLength = 64
	maxSValueLength   = 1024
	maxOptions        = 50
	maxOptionValueLen = 1024
	maxSignalLevel    = 12
	maxBatteryPercent = 100
)

// ValidateDevice checks a device before it is persisted.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: device is nil", ErrInvalidDevice)
	}
	if err := ValidateIdentity(d.Identity); err != nil {
		return err
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if err := ValidateLevels(d.BatteryLevel, d.SignalLevel); err != nil {
		return err
	}
	if len(d.SValue) > maxSValueLength {
		return fmt.Errorf("%w: svalue exceeds %d characters", ErrInvalidDevice, maxSValueLength)
	}
	if len(d.Options) > maxOptions {
		return fmt.Errorf("%w: more than %d options", ErrInvalidDevice, maxOptions)
	}
	for k, v := range d.Options {
		if k == "" || len(v) > maxOptionValueLen {
			return fmt.Errorf("%w: option %q is empty or too long", ErrInvalidDevice, k)
		}
	}
	return nil
}

// ValidateIdentity checks the natural key of a device.
func ValidateIdentity(id Identity) error {
	if id.HardwareID <= 0 {
		return fmt.Errorf("%w: hardware id must be positive", ErrInvalidIdentity)
	}
	if strings.TrimSpace(id.DeviceID) == "" {
		return fmt.Errorf("%w: device id cannot be empty", ErrInvalidIdentity)
	}
	if len(id.DeviceID) > maxDeviceIDLength {
		return fmt.Errorf("%w: device id exceeds %d characters", ErrInvalidIdentity, maxDeviceIDLength)
	}
	if id.Unit < 0 || id.Unit > 255 {
		return fmt.Errorf("%w: unit %d out of range", ErrInvalidIdentity, id.Unit)
	}
	if !id.Type.Known() {
		return fmt.Errorf("%w: unknown type %s", ErrInvalidIdentity, id.Type)
	}
	return nil
}

// ValidateName checks if a device name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateLevels checks battery (0-100, or 255 for unknown) and signal (0-12).
func ValidateLevels(battery, signal int) error {
	if battery != BatteryUnknown && (battery < 0 || battery > maxBatteryPercent) {
		return fmt.Errorf("%w: battery level %d out of range", ErrInvalidDevice, battery)
	}
	if signal < 0 || signal > maxSignalLevel {
		return fmt.Errorf("%w: signal level %d out of range", ErrInvalidDevice, signal)
	}
	return nil
}
