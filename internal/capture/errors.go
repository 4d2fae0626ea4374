package capture

import "errors"

// Domain errors for the capture package.
//
// Every error returned by the Directory wraps exactly one of these (or, for
// capability index errors, both ErrOutOfRange and ErrNotFound) and can be
// checked using errors.Is():
//
//	if errors.Is(err, capture.ErrNotSupported) {
//	    // backend cannot do this on this platform
//	}
var (
	// ErrNotFound is returned when a device unique ID is unknown to the
	// current snapshot, or a device has no capability matching a request.
	ErrNotFound = errors.New("capture: not found")

	// ErrOutOfRange is returned when a device or capability index is outside
	// the current list.
	ErrOutOfRange = errors.New("capture: index out of range")

	// ErrBufferTooSmall is returned when a caller-provided name buffer cannot
	// hold the value plus its NUL terminator. No buffer is written.
	ErrBufferTooSmall = errors.New("capture: buffer too small")

	// ErrBackendUnavailable is returned when the platform backend fails to
	// enumerate devices or formats.
	ErrBackendUnavailable = errors.New("capture: backend unavailable")

	// ErrNotSupported is returned when the backend does not implement an
	// optional capability (format enumeration, settings dialog).
	ErrNotSupported = errors.New("capture: not supported")

	// ErrInvalidState is returned when the directory is used before Init or
	// after Close.
	ErrInvalidState = errors.New("capture: invalid state")
)
