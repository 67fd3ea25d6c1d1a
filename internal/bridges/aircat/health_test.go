package aircat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nerrad567/aircat-gateway/internal/infrastructure/mqtt"
)

type fakeStats struct {
	listening bool
	stats     Stats
}

func (f fakeStats) Stats() Stats    { return f.stats }
func (f fakeStats) Listening() bool { return f.listening }

func TestHealthReporter_DetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		pub        Publisher
		source     StatsSource
		wantStatus HealthStatus
		wantReason string
	}{
		{"healthy", &fakePublisher{connected: true}, fakeStats{listening: true}, HealthHealthy, ""},
		{"no source", &fakePublisher{connected: true}, nil, HealthHealthy, ""},
		{"mqtt down", &fakePublisher{}, fakeStats{listening: true}, HealthDegraded, "MQTT disconnected"},
		{"no publisher", nil, fakeStats{listening: true}, HealthDegraded, "MQTT disconnected"},
		{"listener down", &fakePublisher{connected: true}, fakeStats{}, HealthDegraded, "device listener down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthReporter(HealthReporterConfig{Publisher: tt.pub, Source: tt.source})
			status, reason := h.determineStatus()
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("determineStatus() = (%q, %q), want (%q, %q)", status, reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestHealthReporter_Lifecycle(t *testing.T) {
	pub := &fakePublisher{connected: true}
	h := NewHealthReporter(HealthReporterConfig{
		GatewayID: "gw-1",
		Version:   "1.2.3",
		Interval:  time.Hour,
		Publisher: pub,
		Topics:    mqtt.NewTopics("aircat"),
		Source:    fakeStats{listening: true, stats: Stats{ActiveConnections: 2, Devices: 1}},
	})

	if err := h.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}
	h.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.topics()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("initial health report not published")
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.Stop()
	h.Stop()

	pub.mu.Lock()
	msgs := append([]published(nil), pub.messages...)
	pub.mu.Unlock()

	want := []HealthStatus{HealthStarting, HealthHealthy, HealthStopping}
	if len(msgs) != len(want) {
		t.Fatalf("published %d health messages, want %d", len(msgs), len(want))
	}
	for i, m := range msgs {
		if m.topic != "aircat/health/gw-1" || !m.retained || m.qos != 1 {
			t.Errorf("message %d: topic=%q qos=%d retained=%v", i, m.topic, m.qos, m.retained)
		}
		var hm HealthMessage
		if err := json.Unmarshal(m.payload, &hm); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if hm.Status != want[i] {
			t.Errorf("message %d status = %q, want %q", i, hm.Status, want[i])
		}
		if hm.Version != "1.2.3" || hm.Stats.ActiveConnections != 2 {
			t.Errorf("message %d = %+v", i, hm)
		}
	}
}

func TestHealthReporter_NilPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() with no publisher error = %v", err)
	}
	h.Stop()
}
