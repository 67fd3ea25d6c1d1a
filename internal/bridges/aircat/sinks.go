package aircat

import (
	"context"

	"github.com/nerrad567/aircat-gateway/internal/device"
	"github.com/nerrad567/aircat-gateway/internal/sensor"
)

// EventStatusChanged is the WebSocket event broadcast for each new status.
const EventStatusChanged = "device.status_changed"

// SightingSink records every decoded frame in the sightings ledger,
// including frames that carried no status.
type SightingSink struct {
	Repo device.SightingRepository
}

// Name implements Sink.
func (SightingSink) Name() string { return "sightings" }

// HandleUpdate implements Sink.
func (s SightingSink) HandleUpdate(ctx context.Context, u Update) error {
	return s.Repo.Record(ctx, u.DeviceID, u.RemoteAddr, u.ReceivedAt)
}

// Broadcaster pushes events to connected WebSocket clients.
type Broadcaster interface {
	Broadcast(eventType string, payload any)
}

// BroadcastSink forwards status updates to a Broadcaster.
type BroadcastSink struct {
	Broadcaster Broadcaster
}

// Name implements Sink.
func (BroadcastSink) Name() string { return "websocket" }

// HandleUpdate implements Sink.
func (s BroadcastSink) HandleUpdate(_ context.Context, u Update) error {
	if !u.HasStatus {
		return nil
	}
	s.Broadcaster.Broadcast(EventStatusChanged, u)
	return nil
}

// GaugeSink exports converted readings as aircat_sensor_reading.
type GaugeSink struct {
	Metrics *Metrics
	Types   []sensor.Definition
}

// Name implements Sink.
func (GaugeSink) Name() string { return "gauges" }

// HandleUpdate implements Sink.
func (s GaugeSink) HandleUpdate(_ context.Context, u Update) error {
	if !u.HasStatus {
		return nil
	}
	for _, def := range s.Types {
		if v, ok := def.Value(u.Status); ok {
			s.Metrics.SetReading(u.DeviceID, string(def.Type), v)
		}
	}
	return nil
}
