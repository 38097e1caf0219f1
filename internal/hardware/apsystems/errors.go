package apsystems

import "errors"

var (
	// ErrBadFrame is returned when a response lacks the APS header or END trailer.
	ErrBadFrame = errors.New("apsystems: malformed response")

	// ErrLengthMismatch is returned when the length field disagrees with the bytes received.
	ErrLengthMismatch = errors.New("apsystems: length mismatch")

	// ErrUnexpectedCommand is returned when a response answers a different query.
	ErrUnexpectedCommand = errors.New("apsystems: unexpected command in response")

	// ErrTruncated is returned when the body is shorter than its contents require.
	ErrTruncated = errors.New("apsystems: truncated response")

	// ErrUnknownInverterType is returned for inverter type codes other than 01, 02 and 03.
	ErrUnknownInverterType = errors.New("apsystems: unknown inverter type")

	// ErrNoData is returned when the ECU reports no inverter data, typically at night.
	ErrNoData = errors.New("apsystems: no inverter data")
)
