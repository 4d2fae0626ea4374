package mqtt

import "errors"

// Errors returned by the capture announcement client.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when announcing or subscribing without a
	// broker connection. Announcements are not queued.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	// ErrConnectionFailed is returned when the initial broker connection fails.
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")

	// ErrPublishFailed is returned when the broker did not acknowledge a
	// device list or directory event.
	ErrPublishFailed = errors.New("mqtt: capture announcement not delivered")

	// ErrSubscribeFailed is returned when a command subscription is rejected.
	ErrSubscribeFailed = errors.New("mqtt: command subscription failed")

	// ErrInvalidQoS is returned when the configured QoS is not 0, 1 or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrPayloadTooLarge is returned for announcements over maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrUnknownEvent is returned by PublishEvent for names other than the
	// Event* constants.
	ErrUnknownEvent = errors.New("mqtt: unknown directory event")

	// ErrUnknownCommand is returned by SubscribeCommand for names other than
	// the Command* constants.
	ErrUnknownCommand = errors.New("mqtt: unknown capture command")
)
