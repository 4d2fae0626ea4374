package telemetry

import (
	"time"

	"github.com/nerrad567/gray-logic-capture/internal/capture"
)

// DeviceListPayload is the retained device list published on MQTT.
type DeviceListPayload struct {
	Service     string                 `json:"service"`
	Epoch       string                 `json:"epoch"`
	RefreshedAt time.Time              `json:"refreshed_at"`
	Devices     []capture.DeviceRecord `json:"devices"`
}

// DeviceEventPayload announces a single attached or detached device.
type DeviceEventPayload struct {
	Service   string               `json:"service"`
	Epoch     string               `json:"epoch"`
	Device    capture.DeviceRecord `json:"device"`
	Timestamp time.Time            `json:"timestamp"`
}

// FailurePayload announces a failed enumeration.
type FailurePayload struct {
	Service   string    `json:"service"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// DevicesChanged is broadcast to WebSocket clients on the
// devices.changed channel.
type DevicesChanged struct {
	Epoch   string                 `json:"epoch"`
	Devices []capture.DeviceRecord `json:"devices"`
	Added   []capture.DeviceRecord `json:"added"`
	Removed []capture.DeviceRecord `json:"removed"`
}

func newDeviceListPayload(service string, l *capture.DeviceList) DeviceListPayload {
	devices := l.Devices
	if devices == nil {
		devices = []capture.DeviceRecord{}
	}
	return DeviceListPayload{
		Service:     service,
		Epoch:       l.Epoch,
		RefreshedAt: l.RefreshedAt.UTC(),
		Devices:     devices,
	}
}

func newDeviceEventPayload(service, epoch string, d capture.DeviceRecord) DeviceEventPayload {
	return DeviceEventPayload{
		Service:   service,
		Epoch:     epoch,
		Device:    d,
		Timestamp: time.Now().UTC(),
	}
}

func newFailurePayload(service, reason string) FailurePayload {
	return FailurePayload{
		Service:   service,
		Error:     reason,
		Timestamp: time.Now().UTC(),
	}
}
