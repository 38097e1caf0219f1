package evohome

import "errors"

var (
	// ErrAuthFailed is returned when the token endpoint rejects the credentials.
	ErrAuthFailed = errors.New("evohome: authentication failed")

	// ErrRequestFailed is returned for non-retryable API errors.
	ErrRequestFailed = errors.New("evohome: request failed")

	// ErrNoSystem is returned when the account has no temperature control system.
	ErrNoSystem = errors.New("evohome: no temperature control system")

	// ErrUnknownMode is returned for system modes the controller does not know.
	ErrUnknownMode = errors.New("evohome: unknown system mode")

	// ErrUnknownZone is returned when a command targets a zone that is not polled.
	ErrUnknownZone = errors.New("evohome: unknown zone")
)
