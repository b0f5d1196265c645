package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the HAP bridge topic hierarchy.
//
// Devices publish on graylogic/hap/{category}/{device_id}[/{capability}]
// and the bridge publishes accessory graph updates under
// graylogic/hap/accessory.
const (
	// TopicPrefixHAP is the base for all HAP bridge topics.
	TopicPrefixHAP = "graylogic/hap"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for HAP bridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.CapabilityState("lamp-kitchen", "onoff")
//	// Returns: "graylogic/hap/state/lamp-kitchen/onoff"
type Topics struct{}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceAnnounce returns the retained descriptor topic for a device.
// An empty retained payload removes the device.
//
// Example: graylogic/hap/device/lamp-kitchen
func (Topics) DeviceAnnounce(deviceID string) string {
	return fmt.Sprintf("%s/device/%s", TopicPrefixHAP, deviceID)
}

// CapabilityState returns the topic a device publishes capability values on.
//
// Example: graylogic/hap/state/lamp-kitchen/dim
func (Topics) CapabilityState(deviceID, capability string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixHAP, deviceID, capability)
}

// CapabilityCommand returns the topic capability writes are sent on.
//
// Example: graylogic/hap/command/lamp-kitchen/dim
func (Topics) CapabilityCommand(deviceID, capability string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixHAP, deviceID, capability)
}

// ReadRequest returns the topic live read requests are sent on.
//
// Example: graylogic/hap/request/lamp-kitchen
func (Topics) ReadRequest(deviceID string) string {
	return fmt.Sprintf("%s/request/%s", TopicPrefixHAP, deviceID)
}

// ReadResponse returns the topic a device answers a read request on.
//
// Example: graylogic/hap/response/0b6f…
func (Topics) ReadResponse(requestID string) string {
	return fmt.Sprintf("%s/response/%s", TopicPrefixHAP, requestID)
}

// =============================================================================
// Accessory Topics
// =============================================================================

// AccessoryCharacteristic returns the retained topic for a characteristic value.
//
// Example: graylogic/hap/accessory/lamp-kitchen/9
func (Topics) AccessoryCharacteristic(deviceID string, iid uint64) string {
	return fmt.Sprintf("%s/accessory/%s/%d", TopicPrefixHAP, deviceID, iid)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// BridgeHealth returns the retained topic the bridge reports mapping
// health on.
//
// Example: graylogic/hap/health
func (Topics) BridgeHealth() string {
	return TopicPrefixHAP + "/health"
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDeviceAnnouncements returns a pattern matching every device descriptor.
//
// Pattern: graylogic/hap/device/+
func (Topics) AllDeviceAnnouncements() string {
	return fmt.Sprintf("%s/device/+", TopicPrefixHAP)
}

// DeviceCapabilityStates returns a pattern matching every capability
// state topic of one device.
//
// Pattern: graylogic/hap/state/{device_id}/+
func (Topics) DeviceCapabilityStates(deviceID string) string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefixHAP, deviceID)
}

// AllReadResponses returns a pattern matching every read response.
//
// Pattern: graylogic/hap/response/+
func (Topics) AllReadResponses() string {
	return fmt.Sprintf("%s/response/+", TopicPrefixHAP)
}

// AllTopics returns a pattern matching all HAP bridge topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: graylogic/hap/#
func (Topics) AllTopics() string {
	return TopicPrefixHAP + "/#"
}

// =============================================================================
// Parsers
// =============================================================================

// ParseDeviceAnnounce extracts the device id from a descriptor topic.
func (Topics) ParseDeviceAnnounce(topic string) (deviceID string, ok bool) {
	return lastSegment(topic, TopicPrefixHAP+"/device/")
}

// ParseReadResponse extracts the request id from a response topic.
func (Topics) ParseReadResponse(topic string) (requestID string, ok bool) {
	return lastSegment(topic, TopicPrefixHAP+"/response/")
}

// ParseCapabilityState extracts the device id and capability from a state topic.
func (Topics) ParseCapabilityState(topic string) (deviceID, capability string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefixHAP+"/state/")
	if !found {
		return "", "", false
	}
	deviceID, capability, found = strings.Cut(rest, "/")
	if !found || deviceID == "" || capability == "" || strings.Contains(capability, "/") {
		return "", "", false
	}
	return deviceID, capability, true
}

func lastSegment(topic, prefix string) (string, bool) {
	rest, found := strings.CutPrefix(topic, prefix)
	if !found || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
