package mqtt

import (
	"fmt"
)

// SubscribeCommand registers handler for a command addressed to this
// service (see CommandRefresh).
//
// The subscription is restored automatically after a reconnect. Handlers run
// on paho's goroutines and should return quickly.
//
// Example:
//
//	err := client.SubscribeCommand(mqtt.CommandRefresh,
//	    func(topic string, payload []byte) error {
//	        dir.Invalidate()
//	        return nil
//	    })
func (c *Client) SubscribeCommand(command string, handler MessageHandler) error {
	if !isCommand(command) {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
	return c.subscribe(c.topics.Command(command), handler)
}

// subscribe tracks and registers a subscription at the configured QoS.
func (c *Client) subscribe(topic string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = handler
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, c.qos, c.wrapHandler(handler))
	var err error
	if !token.WaitTimeout(defaultPublishTimeout) {
		err = fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, topic, defaultPublishTimeout)
	} else if terr := token.Error(); terr != nil {
		err = fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, terr)
	}
	if err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
	}
	return err
}
