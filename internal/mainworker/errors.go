package mainworker

import "errors"

var (
	// ErrQueueFull is returned by Submit when the dispatch queue is full.
	ErrQueueFull = errors.New("mainworker: queue full")

	// ErrStopped is returned when submitting to a stopped worker.
	ErrStopped = errors.New("mainworker: stopped")

	// ErrDeviceProtected is returned when commanding a protected device.
	ErrDeviceProtected = errors.New("mainworker: device is protected")

	// ErrCommandNotApplicable is returned when a command does not fit the device type.
	ErrCommandNotApplicable = errors.New("mainworker: command not applicable to device")

	// ErrNoResolver is returned by SendCommand when no hardware resolver is set.
	ErrNoResolver = errors.New("mainworker: no hardware resolver")
)
