package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the capture service.
const (
	MeasurementDirectory     = "capture_directory"
	MeasurementRefreshErrors = "capture_refresh_errors"
	MeasurementSelection     = "capture_selection"
)

// DirectoryStats describes one successful refresh of the device list.
type DirectoryStats struct {
	Service     string
	Backend     string
	DeviceCount int
	Added       int
	Removed     int
	Enumeration time.Duration
}

// SelectionStats describes one best-match capability selection.
type SelectionStats struct {
	Service     string
	DeviceID    string
	PixelFormat string
	Index       int
	Width       uint32
	Height      uint32
	MaxFPS      float64
	Exact       bool
}

func newDirectoryPoint(s DirectoryStats, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementDirectory,
		map[string]string{
			"service": s.Service,
			"backend": s.Backend,
		},
		map[string]interface{}{
			"device_count":   s.DeviceCount,
			"added":          s.Added,
			"removed":        s.Removed,
			"enumeration_ms": float64(s.Enumeration) / float64(time.Millisecond),
		},
		ts,
	)
}

func newRefreshErrorPoint(service, backend, reason string, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementRefreshErrors,
		map[string]string{
			"service": service,
			"backend": backend,
		},
		map[string]interface{}{
			"count":  1,
			"reason": reason,
		},
		ts,
	)
}

func newSelectionPoint(s SelectionStats, ts time.Time) *write.Point {
	format := s.PixelFormat
	if format == "" {
		format = "any"
	}
	return write.NewPoint(
		MeasurementSelection,
		map[string]string{
			"service":      s.Service,
			"device_id":    s.DeviceID,
			"pixel_format": format,
		},
		map[string]interface{}{
			"index":   s.Index,
			"width":   int64(s.Width),
			"height":  int64(s.Height),
			"max_fps": s.MaxFPS,
			"exact":   s.Exact,
		},
		ts,
	)
}

// WriteDirectory records a successful device list refresh.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteDirectory(influxdb.DirectoryStats{
//	    Service: "capture-001", Backend: "v4l2",
//	    DeviceCount: 2, Added: 1, Enumeration: 12 * time.Millisecond,
//	})
func (c *Client) WriteDirectory(s DirectoryStats) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(newDirectoryPoint(s, time.Now()))
}

// WriteRefreshError records a failed enumeration.
//
// Parameters:
//   - service: Service instance ID
//   - backend: Backend name ("v4l2", "static")
//   - reason: Error text from the backend
func (c *Client) WriteRefreshError(service, backend, reason string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(newRefreshErrorPoint(service, backend, reason, time.Now()))
}

// WriteSelection records a best-match capability selection.
func (c *Client) WriteSelection(s SelectionStats) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(newSelectionPoint(s, time.Now()))
}
