// Package history keeps a local audit trail of device directory activity:
// every refresh pass and every best-match capability selection.
//
// The trail is write-mostly and exists for diagnostics ("when did the
// camera disappear?", "which mode did the recorder pick?"). It is never
// used to answer device list queries.
package history

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-capture/internal/capture"
)

// RefreshEntry is one recorded refresh pass.
type RefreshEntry struct {
	ID          int64                  `json:"id"`
	Epoch       string                 `json:"epoch,omitempty"`
	DeviceCount int                    `json:"device_count"`
	Devices     []capture.DeviceRecord `json:"devices"`
	Added       []capture.DeviceRecord `json:"added"`
	Removed     []capture.DeviceRecord `json:"removed"`
	DurationMS  float64                `json:"duration_ms"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// SelectionEntry is one recorded best-match selection.
type SelectionEntry struct {
	ID              int64                     `json:"id"`
	DeviceID        string                    `json:"device_id"`
	Epoch           string                    `json:"epoch,omitempty"`
	Requested       capture.CaptureCapability `json:"requested"`
	CapabilityIndex int                       `json:"capability_index"`
	Resulting       capture.CaptureCapability `json:"resulting"`
	CreatedAt       time.Time                 `json:"created_at"`
}

// Repository stores and retrieves directory history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// RecordRefresh stores the outcome of a refresh attempt.
	RecordRefresh(ctx context.Context, ev capture.RefreshEvent) error

	// RecordSelection stores a best-match result for a device.
	RecordSelection(ctx context.Context, entry SelectionEntry) error

	// ListRefreshes returns recent refreshes, newest first.
	ListRefreshes(ctx context.Context, limit int) ([]RefreshEntry, error)

	// ListSelections returns recent selections for a device, newest first.
	ListSelections(ctx context.Context, deviceID string, limit int) ([]SelectionEntry, error)

	// Prune deletes entries older than olderThan and returns how many.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
