package rx

import "errors"

var (
	// ErrNoPayload is returned when a message carries no payload.
	ErrNoPayload = errors.New("rx: message has no payload")

	// ErrInvalidMessage is returned when a message fails validation.
	ErrInvalidMessage = errors.New("rx: invalid message")

	// ErrUnsupportedCommand is returned by hardware that cannot execute a command.
	ErrUnsupportedCommand = errors.New("rx: unsupported command")
)
