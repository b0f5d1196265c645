// Package mqtt provides MQTT client connectivity for the Gray Logic HAP bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// Device adapters announce devices and publish capability values over
// MQTT; the bridge maps them to accessories and publishes characteristic
// values back for protocol transports.
//
//	Device adapters ↔ MQTT Broker ↔ HAP bridge ↔ accessory transports
//
// # Topic Hierarchy
//
//	graylogic/hap/device/{id}              retained JSON descriptor (empty = removed)
//	graylogic/hap/state/{id}/{capability}  capability value from the device
//	graylogic/hap/command/{id}/{capability} capability write to the device
//	graylogic/hap/request/{id}             live read request
//	graylogic/hap/response/{request_id}    live read response
//	graylogic/hap/accessory/{id}/{iid}     retained characteristic value
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.CapabilityCommand("lamp-kitchen", "onoff")
//	client.PublishJSON(topic, map[string]any{"value": true}, false)
package mqtt
