package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when an idx or identity does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device whose identity is taken.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidIdentity is returned when hardware id or device id is missing.
	ErrInvalidIdentity = errors.New("device: invalid identity")

	// ErrFieldOutOfRange is returned by Field for a missing svalue field.
	ErrFieldOutOfRange = errors.New("device: svalue field out of range")

	// ErrFieldNotNumeric is returned by Field when the field is not a number.
	ErrFieldNotNumeric = errors.New("device: svalue field not numeric")
)
