package mqttbridge

import "errors"

var (
	// ErrInvalidPayload is returned for inbound messages that are not JSON
	// objects or miss a required field.
	ErrInvalidPayload = errors.New("mqttbridge: invalid payload")

	// ErrUnknownCommand is returned for an inbound command the hub does not
	// accept.
	ErrUnknownCommand = errors.New("mqttbridge: unknown command")
)
