package aircat

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/aircat-gateway/internal/device"
	"github.com/nerrad567/aircat-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/aircat-gateway/internal/sensor"
)

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	failOn    string
	messages  []published
}

func (p *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic == p.failOn {
		return mqtt.ErrPublishFailed
	}
	p.messages = append(p.messages, published{topic, payload, qos, retained})
	return nil
}

func (p *fakePublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, m.topic)
	}
	sort.Strings(out)
	return out
}

func (p *fakePublisher) find(topic string) (published, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.messages {
		if m.topic == topic {
			return m, true
		}
	}
	return published{}, false
}

func newTestPublisher(t *testing.T, pub *fakePublisher, reg *device.Registry) *StatePublisher {
	t.Helper()
	sensors, err := sensor.Build("", []string{""}, []string{"value", "hcho"})
	if err != nil {
		t.Fatalf("sensor.Build() error = %v", err)
	}
	return NewStatePublisher(StatePublisherConfig{
		Publisher: pub,
		Topics:    mqtt.NewTopics("aircat"),
		QoS:       1,
		GatewayID: "gw-1",
		Sensors:   sensors,
		Registry:  reg,
	})
}

func TestStatePublisher_HandleUpdate(t *testing.T) {
	pub := &fakePublisher{connected: true}
	p := newTestPublisher(t, pub, nil)

	u := Update{
		DeviceID:   "010203040506",
		Status:     device.Status{"value": json.Number("12.5"), "hcho": json.Number("80")},
		HasStatus:  true,
		RemoteAddr: "10.0.0.5:40000",
		ReceivedAt: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC),
	}
	if err := p.HandleUpdate(context.Background(), u); err != nil {
		t.Fatalf("HandleUpdate() error = %v", err)
	}

	want := []string{
		"aircat/sensor/010203040506/hcho",
		"aircat/sensor/010203040506/value",
		"aircat/state/010203040506",
	}
	got := pub.topics()
	if len(got) != len(want) {
		t.Fatalf("topics = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("topic[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	state, _ := pub.find("aircat/state/010203040506")
	if !state.retained || state.qos != 1 {
		t.Errorf("state message qos=%d retained=%v, want 1/true", state.qos, state.retained)
	}
	var sm StateMessage
	if err := json.Unmarshal(state.payload, &sm); err != nil {
		t.Fatalf("state payload: %v", err)
	}
	if sm.GatewayID != "gw-1" || sm.RemoteAddr != "10.0.0.5:40000" {
		t.Errorf("state message = %+v", sm)
	}

	hcho, _ := pub.find("aircat/sensor/010203040506/hcho")
	var msg SensorMessage
	if err := json.Unmarshal(hcho.payload, &msg); err != nil {
		t.Fatalf("sensor payload: %v", err)
	}
	if msg.Value != 0.08 || msg.Unit != "mg/m³" {
		t.Errorf("hcho message = %+v, want value 0.08 mg/m³", msg)
	}

	pm, _ := pub.find("aircat/sensor/010203040506/value")
	if err := json.Unmarshal(pm.payload, &msg); err != nil {
		t.Fatalf("sensor payload: %v", err)
	}
	if msg.Value != 12 {
		t.Errorf("pm2.5 value = %v, want 12 (rounded half to even)", msg.Value)
	}
}

func TestStatePublisher_SkipsAndFailures(t *testing.T) {
	tests := []struct {
		name      string
		pub       *fakePublisher
		update    Update
		wantErr   error
		wantCount int
	}{
		{
			name:   "no status",
			pub:    &fakePublisher{connected: true},
			update: Update{DeviceID: "010203040506"},
		},
		{
			name:    "disconnected",
			pub:     &fakePublisher{},
			update:  Update{DeviceID: "010203040506", Status: device.Status{"value": 1.0}, HasStatus: true},
			wantErr: mqtt.ErrNotConnected,
		},
		{
			name:      "missing sensor keys",
			pub:       &fakePublisher{connected: true},
			update:    Update{DeviceID: "010203040506", Status: device.Status{"other": 1.0}, HasStatus: true},
			wantCount: 1,
		},
		{
			name:      "sensor publish fails",
			pub:       &fakePublisher{connected: true, failOn: "aircat/sensor/010203040506/value"},
			update:    Update{DeviceID: "010203040506", Status: device.Status{"value": 3.0, "hcho": 40.0}, HasStatus: true},
			wantErr:   mqtt.ErrPublishFailed,
			wantCount: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPublisher(t, tt.pub, nil)
			err := p.HandleUpdate(context.Background(), tt.update)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("HandleUpdate() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("HandleUpdate() error = %v, want %v", err, tt.wantErr)
			}
			if got := len(tt.pub.topics()); got != tt.wantCount {
				t.Errorf("published %d messages, want %d", got, tt.wantCount)
			}
		})
	}
}

func TestStatePublisher_PublishAll(t *testing.T) {
	reg := device.NewRegistry()
	for _, id := range []string{"010203040506", "AABBCCDDEEFF"} {
		if _, err := reg.Upsert(id, device.Status{"value": 5.0}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}
	pub := &fakePublisher{connected: true}
	p := newTestPublisher(t, pub, reg)

	if err := p.HandleSnapshotRequest("aircat/request/snapshot", nil); err != nil {
		t.Fatalf("HandleSnapshotRequest() error = %v", err)
	}
	for _, topic := range []string{"aircat/state/010203040506", "aircat/state/AABBCCDDEEFF"} {
		if _, ok := pub.find(topic); !ok {
			t.Errorf("missing %s", topic)
		}
	}

	pub.connected = false
	if err := p.PublishAll(context.Background()); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("PublishAll() disconnected error = %v, want ErrNotConnected", err)
	}
}

func TestStatePublisher_Name(t *testing.T) {
	if got := NewStatePublisher(StatePublisherConfig{}).Name(); got != "mqtt" {
		t.Errorf("Name() = %q, want %q", got, "mqtt")
	}
}
