package aircat

import (
	"time"

	"github.com/nerrad567/aircat-gateway/internal/device"
	"github.com/nerrad567/aircat-gateway/internal/sensor"
)

// StateMessage carries a device's full status.
// Topic: {prefix}/state/{device_id} (retained)
type StateMessage struct {
	DeviceID   string        `json:"device_id"`
	GatewayID  string        `json:"gateway_id"`
	Timestamp  time.Time     `json:"timestamp"`
	Status     device.Status `json:"status"`
	RemoteAddr string        `json:"remote_addr,omitempty"`
}

// SensorMessage carries one converted reading.
// Topic: {prefix}/sensor/{device_id}/{type} (retained)
type SensorMessage struct {
	DeviceID  string      `json:"device_id"`
	Sensor    sensor.Type `json:"sensor"`
	Name      string      `json:"name"`
	Unit      string      `json:"unit"`
	Value     float64     `json:"value"`
	Timestamp time.Time   `json:"timestamp"`
}

// HealthStatus represents the operational status of the gateway.
type HealthStatus string

const (
	// HealthHealthy indicates the gateway is listening and MQTT is connected.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the gateway is running with a dependency down.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting is published once before the first report.
	HealthStarting HealthStatus = "starting"

	// HealthStopping is published during shutdown.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports gateway status.
// Topic: {prefix}/health/{gateway_id} (retained)
type HealthMessage struct {
	GatewayID     string       `json:"gateway_id"`
	Version       string       `json:"version,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Stats         Stats        `json:"stats"`
}

// NewStateMessage builds a state message for u.
func NewStateMessage(gatewayID string, u Update) StateMessage {
	return StateMessage{
		DeviceID:   u.DeviceID,
		GatewayID:  gatewayID,
		Timestamp:  u.ReceivedAt.UTC(),
		Status:     u.Status,
		RemoteAddr: u.RemoteAddr,
	}
}

// NewHealthMessage builds a health message.
func NewHealthMessage(gatewayID, version string, status HealthStatus, stats Stats, startTime time.Time) HealthMessage {
	return HealthMessage{
		GatewayID:     gatewayID,
		Version:       version,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Stats:         stats,
	}
}
