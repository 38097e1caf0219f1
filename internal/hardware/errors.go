package hardware

import "errors"

var (
	// ErrHardwareNotFound is returned when no hardware has the given id.
	ErrHardwareNotFound = errors.New("hardware: not found")

	// ErrHardwareDisabled is returned when commanding disabled hardware.
	ErrHardwareDisabled = errors.New("hardware: disabled")

	// ErrUnknownType is returned when no constructor is registered for a type.
	ErrUnknownType = errors.New("hardware: unknown type")

	// ErrDuplicateType is returned when a type is registered twice.
	ErrDuplicateType = errors.New("hardware: type already registered")

	// ErrAlreadyRunning is returned by Start on running hardware.
	ErrAlreadyRunning = errors.New("hardware: already running")

	// ErrNotRunning is returned when writing to stopped hardware.
	ErrNotRunning = errors.New("hardware: not running")

	// ErrNoSink is returned when Start is called without a message sink.
	ErrNoSink = errors.New("hardware: no message sink")
)
