package capture

import "context"

// Backend is the platform device backend. Implementations wrap the OS
// multimedia API and report raw, undecoded device descriptors.
//
// The Directory serializes every call into a Backend, so implementations do
// not need to be safe for concurrent use.
type Backend interface {
	// EnumerateDevices returns the currently attached devices in platform
	// order. An empty result is a valid "no devices" answer.
	EnumerateDevices(ctx context.Context) ([]RawDevice, error)
}

// FormatEnumerator is implemented by backends that can list the capture
// formats of a device. ref carries the values the backend reported for the
// device in its most recent EnumerateDevices call.
type FormatEnumerator interface {
	EnumerateFormats(ctx context.Context, ref DeviceRef) ([]RawFormat, error)
}

// SettingsDialoger is implemented by backends that can show a native
// device settings dialog.
type SettingsDialoger interface {
	ShowSettingsDialog(ctx context.Context, ref DeviceRef, title string, parent any, x, y int) error
}

// Watcher is implemented by backends that can detect device attach and
// detach. Watch blocks until ctx is done, calling notify after each change.
//
// Watch runs on its own goroutine and must not call into the backend's
// non-reentrant API; it only observes.
type Watcher interface {
	Watch(ctx context.Context, notify func()) error
}
