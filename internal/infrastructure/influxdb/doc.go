// Package influxdb provides InfluxDB connectivity for the capture service.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, metric writing, and health monitoring.
//
// # Purpose
//
// This package records directory activity as time series:
//   - capture_directory: device count, added/removed, enumeration time per refresh
//   - capture_refresh_errors: one point per failed enumeration
//   - capture_selection: the capability chosen by each best-match query
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//	defer client.Flush()
//
//	client.WriteDirectory(influxdb.DirectoryStats{Service: "capture-001", DeviceCount: 2})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking. Batch failures are counted in
// Stats().WriteErrors and delivered to SetOnError wrapped in ErrWriteFailed.
// Connection and health check errors are returned directly.
package influxdb
