// Package influxdb provides InfluxDB telemetry for the Gray Logic HAP bridge.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched non-blocking writes and health monitoring.
//
// # Measurements
//
//	hap_characteristic  accessory_id, service, characteristic, origin → value
//	hap_mapping         device_id, class, rule, category → percentage, fallback, secondaries
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteCharacteristicValue(influxdb.CharacteristicSample{
//	    AccessoryID: "light-living", Service: "Lightbulb", Characteristic: "On", Value: true,
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are delivered to the
// SetOnError callback. Connection and health check errors are returned directly.
package influxdb
