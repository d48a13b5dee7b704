// Package mqtt provides MQTT client connectivity for Fleetgate.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Fleetgate uses MQTT as the transport between the core and field devices.
// Devices announce themselves on the registration topic and then publish
// telemetry on per-device data topics. The broker decouples the core from
// device firmware and network specifics.
//
//	Fleetgate Core ↔ MQTT Broker ↔ Devices
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all device data
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceData(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a command to a device
//	topic := mqtt.Topics{}.DeviceData("sensor-01")
//	client.Publish(topic, []byte(`{"on":true}`), 1, false)
package mqtt
