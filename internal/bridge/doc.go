// Package bridge connects device sources to the mapping engine and fans
// accessory changes out to the rest of the system.
//
// The bridge listens for retained device descriptors on MQTT, keeps the
// device registry current, maps each device through mapping.Engine and
// publishes every characteristic change of the resulting accessories.
//
// # Architecture
//
//	┌─────────────────┐   graylogic/hap/device/+   ┌──────────────────┐
//	│   MQTT broker   │ ────────────────────────▶ │      Bridge      │
//	└─────────────────┘                            │                  │
//	        ▲                                      │  device.Registry │
//	        │ graylogic/hap/accessory/{id}/{iid}   │  mapping.Engine  │
//	        └───────────────────────────────────── │                  │
//	                                               └────────┬─────────┘
//	                                characteristic changes  │
//	                          ┌─────────────────────────────┼──────────────┐
//	                          ▼                             ▼              ▼
//	                    WebSocket hub               InfluxDB points   MQTT retained
//
// # Device lifecycle
//
// A non-empty announcement creates an MQTTDevice (or updates the
// descriptor of an existing one) and maps it. When the class, virtual
// class or capability set differs from the stored mapping the old
// mapping is forgotten and the device is mapped again. An empty
// announcement removes the device. Devices that no rule accepts are
// counted in the registry under the "unmappable" error type.
//
// Static devices are added with AddDevice and follow the same path.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Change fan-out runs
// on the goroutine that changed the characteristic.
//
// # Usage
//
//	b, err := bridge.New(bridge.Options{
//	    Mapping:     mapping.Options{Rules: ruleRegistry},
//	    Registry:    deviceRegistry,
//	    Transport:   mqttClient,
//	    Broadcaster: hub,
//	    Telemetry:   influxClient,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := b.Start(ctx); err != nil {
//	    return err
//	}
//	defer b.Stop()
package bridge
