package influxdb

import "errors"

// Sentinel errors for InfluxDB operations. Check them with errors.Is.
var (
	// ErrNotConnected indicates the client is closed.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled indicates InfluxDB is disabled in the configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
