// Package telemetry announces device directory activity.
//
// A Reporter is registered as the directory's refresh callback. It forwards
// each refresh to:
//   - MQTT: retained device list, device_added / device_removed / refresh_failed events
//   - InfluxDB: capture_directory and capture_refresh_errors points
//   - History: one device_refreshes row per attempt
//   - WebSocket: devices.changed when the set of devices changed
//
// Best-match selections are recorded through RecordSelection. The reporter
// also subscribes to the MQTT refresh command and invalidates the directory
// cache when it arrives.
package telemetry
