// Package api implements the HTTP REST API and WebSocket server for Gray Logic Capture.
//
// This package provides:
//   - REST endpoints for the device directory and capability queries
//   - Best-match capability selection with selection recording
//   - Read access to the local refresh and selection history
//   - WebSocket hub for "devices.changed" broadcasts
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between recorders, dashboards and commissioning tools
// and the capture Directory. Reads go straight to the Directory, which
// re-enumerates hardware when its cached list has expired. Directory changes
// reach WebSocket clients through the telemetry reporter, which broadcasts on
// the hub the server shares.
//
// Unique IDs may contain slashes. Clients path-escape them, so
// "pci-0000:00:14.0/usb-1" is addressed as /devices/pci-0000:00:14.0%2Fusb-1.
//
// # Graceful Degradation
//
// The server operates without MQTT, InfluxDB or the history database. Device
// and capability endpoints work; history endpoints return 503.
package api
