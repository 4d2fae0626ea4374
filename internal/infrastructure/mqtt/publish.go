package mqtt

import (
	"fmt"
)

// maxPayloadSize bounds a single announcement (1MB). A device list is a few
// hundred bytes per device.
const maxPayloadSize = 1 << 20

// PublishDevices publishes the device list of this service as a retained
// message, so recorders that subscribe later receive the current list.
//
// Example:
//
//	data, _ := json.Marshal(list)
//	err := client.PublishDevices(data)
func (c *Client) PublishDevices(payload []byte) error {
	return c.publish(c.topics.Devices(), payload, true)
}

// PublishEvent publishes a directory event (EventDeviceAdded,
// EventDeviceRemoved or EventRefreshFailed). Events are not retained.
func (c *Client) PublishEvent(event string, payload []byte) error {
	if !isEvent(event) {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	return c.publish(c.topics.Event(event), payload, false)
}

// publish sends payload with the configured QoS and waits for the broker.
func (c *Client) publish(topic string, payload []byte, retained bool) error {
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %s is %d bytes, maximum %d", ErrPayloadTooLarge, topic, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrPublishFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}

	c.published.Add(1)
	return nil
}
