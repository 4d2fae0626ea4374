package mqtt

import "fmt"

// TopicPrefix is the base for all capture service topics.
//
// Hierarchy: graylogic/capture/{service}/{kind}[/{name}]
const TopicPrefix = "graylogic/capture"

// Event names published under the event topic.
const (
	EventDeviceAdded   = "device_added"
	EventDeviceRemoved = "device_removed"
	EventRefreshFailed = "refresh_failed"
)

// Command names accepted under the command topic.
const (
	// CommandRefresh invalidates the cached device list so the next read
	// re-enumerates.
	CommandRefresh = "refresh"
)

func isEvent(name string) bool {
	switch name {
	case EventDeviceAdded, EventDeviceRemoved, EventRefreshFailed:
		return true
	}
	return false
}

func isCommand(name string) bool {
	return name == CommandRefresh
}

// Topics builds the topics of one capture service instance.
//
//	topics := mqtt.Topics{Service: "capture-001"}
//	topics.Devices()
//	// Returns: "graylogic/capture/capture-001/devices"
type Topics struct {
	// Service is the service instance ID (config service.id).
	Service string
}

func (t Topics) base() string {
	return fmt.Sprintf("%s/%s", TopicPrefix, t.Service)
}

// Devices returns the retained device list topic.
func (t Topics) Devices() string {
	return t.base() + "/devices"
}

// Event returns the topic for a directory event.
//
// Example: graylogic/capture/capture-001/event/device_added
func (t Topics) Event(name string) string {
	return fmt.Sprintf("%s/event/%s", t.base(), name)
}

// Command returns the topic for a command to this service.
func (t Topics) Command(name string) string {
	return fmt.Sprintf("%s/command/%s", t.base(), name)
}

// Status returns the online/offline status topic, also used for the LWT.
func (t Topics) Status() string {
	return t.base() + "/status"
}
