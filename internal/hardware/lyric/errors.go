package lyric

import "errors"

var (
	// ErrAuthFailed is returned when the refresh token is rejected.
	ErrAuthFailed = errors.New("lyric: authentication failed")

	// ErrRequestFailed is returned for non-retryable API errors.
	ErrRequestFailed = errors.New("lyric: request failed")

	// ErrUnknownThermostat is returned when a command targets a thermostat not seen in a poll.
	ErrUnknownThermostat = errors.New("lyric: unknown thermostat")
)
