package notify

import "errors"

var (
	// ErrThrottled is returned when the same subject was sent too recently.
	ErrThrottled = errors.New("notify: throttled")

	// ErrNoTransports is returned when no transport is enabled.
	ErrNoTransports = errors.New("notify: no transports enabled")

	// ErrSendFailed is returned when every transport failed.
	ErrSendFailed = errors.New("notify: all transports failed")

	// ErrRejected is returned when a provider accepts the request but refuses the message.
	ErrRejected = errors.New("notify: message rejected")

	// ErrThresholdNotFound is returned when a threshold ID does not exist.
	ErrThresholdNotFound = errors.New("notify: threshold not found")

	// ErrInvalidThreshold is returned when threshold validation fails.
	ErrInvalidThreshold = errors.New("notify: invalid threshold")
)
