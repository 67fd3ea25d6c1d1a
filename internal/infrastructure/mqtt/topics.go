package mqtt

import "fmt"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "aircat"

// Topics builds gateway topic names under a common prefix.
//
//	topics := mqtt.NewTopics("aircat")
//	topics.SensorState("0102030405AB", "hcho")
//	// Returns: "aircat/sensor/0102030405AB/hcho"
type Topics struct {
	Prefix string
}

// NewTopics returns a builder for prefix, falling back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// DeviceState is the retained full-status topic for a device.
func (t Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", t.Prefix, deviceID)
}

// SensorState is the retained topic for one sensor reading of a device.
func (t Topics) SensorState(deviceID, sensorType string) string {
	return fmt.Sprintf("%s/sensor/%s/%s", t.Prefix, deviceID, sensorType)
}

// Health is the gateway heartbeat topic.
func (t Topics) Health(gatewayID string) string {
	return fmt.Sprintf("%s/health/%s", t.Prefix, gatewayID)
}

// SnapshotRequest is subscribed by the gateway; any message triggers a
// republish of every known device.
func (t Topics) SnapshotRequest() string {
	return t.Prefix + "/request/snapshot"
}

// SystemStatus carries online/offline status and the LWT.
func (t Topics) SystemStatus() string {
	return t.Prefix + "/system/status"
}
