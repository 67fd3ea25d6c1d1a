package aircat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/aircat-gateway/internal/device"
	"github.com/nerrad567/aircat-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/aircat-gateway/internal/sensor"
)

// Publisher is the MQTT surface the bridge needs. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StatePublisherConfig holds the state publisher's collaborators.
type StatePublisherConfig struct {
	Publisher Publisher
	Topics    mqtt.Topics
	QoS       byte
	GatewayID string

	// Sensors selects which per-sensor topics are published.
	Sensors []sensor.Sensor

	// Registry is read when republishing on a snapshot request.
	Registry *device.Registry
	Logger   Logger
}

// StatePublisher publishes device status and sensor readings as retained
// MQTT messages. It is a dispatcher Sink.
type StatePublisher struct {
	publisher Publisher
	topics    mqtt.Topics
	qos       byte
	gatewayID string
	types     []sensor.Definition
	registry  *device.Registry
	logger    Logger
}

// NewStatePublisher creates a publisher.
func NewStatePublisher(cfg StatePublisherConfig) *StatePublisher {
	p := &StatePublisher{
		publisher: cfg.Publisher,
		topics:    cfg.Topics,
		qos:       cfg.QoS,
		gatewayID: cfg.GatewayID,
		types:     sensor.Types(cfg.Sensors),
		registry:  cfg.Registry,
		logger:    cfg.Logger,
	}
	if p.topics.Prefix == "" {
		p.topics = mqtt.NewTopics("")
	}
	if p.logger == nil {
		p.logger = noopLogger{}
	}
	return p
}

// Name implements Sink.
func (p *StatePublisher) Name() string { return "mqtt" }

// HandleUpdate implements Sink. Frames without a status publish nothing.
func (p *StatePublisher) HandleUpdate(_ context.Context, u Update) error {
	if !u.HasStatus {
		return nil
	}
	if !p.publisher.IsConnected() {
		return mqtt.ErrNotConnected
	}
	return p.publish(u)
}

func (p *StatePublisher) publish(u Update) error {
	state, err := json.Marshal(NewStateMessage(p.gatewayID, u))
	if err != nil {
		return fmt.Errorf("marshalling state for %s: %w", u.DeviceID, err)
	}
	if err := p.publisher.Publish(p.topics.DeviceState(u.DeviceID), state, p.qos, true); err != nil {
		return err
	}

	var errs []error
	for _, def := range p.types {
		v, ok := def.Value(u.Status)
		if !ok {
			continue
		}
		payload, err := json.Marshal(SensorMessage{
			DeviceID:  u.DeviceID,
			Sensor:    def.Type,
			Name:      def.Name,
			Unit:      def.Unit,
			Value:     v,
			Timestamp: u.ReceivedAt.UTC(),
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := p.publisher.Publish(p.topics.SensorState(u.DeviceID, string(def.Type)), payload, p.qos, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishAll republishes every registered device.
func (p *StatePublisher) PublishAll(ctx context.Context) error {
	if p.registry == nil {
		return nil
	}
	if !p.publisher.IsConnected() {
		return mqtt.ErrNotConnected
	}

	var errs []error
	for _, e := range p.registry.Entries() {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := p.publish(Update{
			DeviceID:   e.ID,
			Status:     e.Status,
			HasStatus:  true,
			ReceivedAt: e.UpdatedAt,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}

// HandleSnapshotRequest is an mqtt.MessageHandler for the snapshot request
// topic. The payload is ignored.
func (p *StatePublisher) HandleSnapshotRequest(topic string, _ []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p.logger.Info("snapshot requested", "topic", topic)
	return p.PublishAll(ctx)
}
