// Package mqtt provides MQTT client connectivity for the capture service.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - The retained device list and directory events of one service
//   - The refresh command subscription, restored on reconnect
//   - Online/offline status with Last Will and Testament (LWT)
//
// # Architecture
//
// The capture service announces its device list and directory events on
// the site's MQTT bus. Recorders subscribe to the retained device list
// instead of polling the HTTP API, and can force a re-enumeration by
// publishing to the refresh command topic.
//
//	Capture Service ↔ MQTT Broker ↔ Recorders / Dashboards
//
// # Topics
//
//	graylogic/capture/{service}/devices          retained device list
//	graylogic/capture/{service}/event/{name}     device_added, device_removed, refresh_failed
//	graylogic/capture/{service}/command/refresh  invalidate the cached list
//	graylogic/capture/{service}/status           online/offline (LWT)
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Service.ID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.SubscribeCommand(mqtt.CommandRefresh,
//	    func(topic string, payload []byte) error {
//	        dir.Invalidate()
//	        return nil
//	    })
//
//	client.PublishDevices(payload)
//	client.PublishEvent(mqtt.EventDeviceAdded, event)
package mqtt
