// Package capture provides the capture Device Directory for Gray Logic Capture.
//
// The Directory keeps a time-bounded cache of the video capture devices
// attached to the host and, per device, the list of capture modes
// ("capabilities") the device supports. Callers ask it how many devices
// exist, what they are called, and which capture mode best fits a requested
// resolution and frame rate.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────────┐
//	│                         Device Directory                              │
//	│                                                                       │
//	│  ┌──────────────────┐     ┌──────────────────┐    ┌────────────────┐  │
//	│  │    Directory     │────▶│  Capability Map  │    │     Names      │  │
//	│  │  (directory.go)  │     │ (capability.go)  │    │   (names.go)   │  │
//	│  │                  │     │                  │    │                │  │
//	│  │ • TTL snapshot   │     │ • Normalisation  │    │ • UTF-8/UTF-16 │  │
//	│  │ • Lifecycle      │     │ • De-duplication │    │ • Pascal       │  │
//	│  │ • Serialisation  │     │ • Best match     │    │ • C buffers    │  │
//	│  └────────┬─────────┘     └──────────────────┘    └────────────────┘  │
//	│           │                                                           │
//	└───────────│───────────────────────────────────────────────────────────┘
//	            ▼
//	┌──────────────────────┐
//	│   Platform Backend   │  v4l2 (Linux), static (config)
//	│ • EnumerateDevices   │
//	│ • EnumerateFormats   │  optional
//	│ • Watch              │  optional
//	└──────────────────────┘
//
// # Caching
//
// The device list is re-enumerated on the first read after the list is
// older than the configured timeout (5s by default) or after Invalidate. A
// refresh builds a complete new snapshot and publishes it in one step, so
// readers never observe a partially built list. If enumeration fails the
// previous list stays published. An empty enumeration is a valid answer and
// replaces the previous list.
//
// Capability maps are built on first use per device and discarded when a
// refresh no longer reports the device.
//
// # Usage
//
//	dir := capture.NewDirectory(backend, capture.Options{})
//	dir.SetLogger(log)
//	if err := dir.Init(ctx); err != nil {
//	    return err
//	}
//	defer dir.Close()
//
//	n, err := dir.NumberOfDevices(ctx)
//	rec, err := dir.Device(ctx, 0)
//	idx, mode, err := dir.BestMatchedCapability(ctx, rec.UniqueID,
//	    capture.CaptureCapability{Width: 1280, Height: 720, MaxFPS: 30})
//
// # Thread Safety
//
// All Directory methods are safe for concurrent use. Backends are only ever
// called with the directory mutex held.
package capture
