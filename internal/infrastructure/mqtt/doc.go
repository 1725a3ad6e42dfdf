// Package mqtt provides MQTT client connectivity for Butler Core.
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
// Butler uses MQTT as the message bus between the rule engine and the rest
// of the home: entity state updates and events arrive over the bus, and the
// engine publishes trigger/execution notifications back onto it. The broker
// decouples the engine from how devices are actually observed or driven.
//
//	Butler Core ↔ MQTT Broker ↔ Device integrations
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
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
//	// Subscribe to all inbound events
//	err = client.Subscribe(mqtt.Topics{}.AllEvents(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a fired notification
//	topic := mqtt.Topics{}.AutomationFired("morning-lights")
//	client.Publish(topic, []byte(`{"trigger_id":"t1"}`), 1, false)
package mqtt
