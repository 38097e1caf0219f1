package harmony

import "errors"

var (
	// ErrNotConnected is returned when using a client without a websocket.
	ErrNotConnected = errors.New("harmony: not connected")

	// ErrProvision is returned when the hub does not reveal its id.
	ErrProvision = errors.New("harmony: provisioning failed")

	// ErrHubError is returned when the hub answers with a non-200 code.
	ErrHubError = errors.New("harmony: hub returned an error")

	// ErrTimeout is returned when the hub does not answer in time.
	ErrTimeout = errors.New("harmony: hub did not respond")

	// ErrUnknownActivity is returned when a command targets an activity the hub does not have.
	ErrUnknownActivity = errors.New("harmony: unknown activity")
)
