package influxdb

import "errors"

// Sentinel errors for capture metrics. Check with errors.Is.
var (
	// ErrDisabled indicates InfluxDB is disabled in configuration; the
	// service runs without time-series metrics.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrInvalidConfig indicates the URL, org or bucket is missing.
	ErrInvalidConfig = errors.New("influxdb: invalid configuration")

	// ErrConnectionFailed indicates the server could not be reached at startup.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected indicates the client was never connected or is closed.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps every async batch failure passed to SetOnError.
	ErrWriteFailed = errors.New("influxdb: capture metrics write failed")
)
