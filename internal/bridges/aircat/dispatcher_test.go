package aircat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/aircat-gateway/internal/device"
)

type collectingSink struct {
	mu      sync.Mutex
	updates []Update
}

func (s *collectingSink) Name() string { return "collect" }

func (s *collectingSink) HandleUpdate(_ context.Context, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	return nil
}

func (s *collectingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func (s *collectingSink) forDevice(id string) []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Update
	for _, u := range s.updates {
		if u.DeviceID == id {
			out = append(out, u)
		}
	}
	return out
}

func TestDispatcher_PerDeviceOrder(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Workers: 3, QueueSize: 100})
	sink := &collectingSink{}
	d.AddSink(sink)
	d.Start(context.Background())

	ids := []string{"010203040506", "AABBCCDDEEFF", "112233445566"}
	for i := range 30 {
		id := ids[i%len(ids)]
		if !d.Submit(Update{DeviceID: id, Status: device.Status{"seq": i}, HasStatus: true}) {
			t.Fatalf("Submit(%d) dropped", i)
		}
	}
	d.Stop()

	if sink.len() != 30 {
		t.Fatalf("sink received %d updates, want 30", sink.len())
	}
	for _, id := range ids {
		last := -1
		for _, u := range sink.forDevice(id) {
			seq := u.Status["seq"].(int)
			if seq <= last {
				t.Errorf("device %s: seq %d after %d", id, seq, last)
			}
			last = seq
		}
	}
	if d.Handled() != 30 {
		t.Errorf("Handled() = %d, want 30", d.Handled())
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(DispatcherConfig{Workers: 1, QueueSize: 1})
	d.AddSink(SinkFunc{SinkName: "blocking", Fn: func(context.Context, Update) error {
		<-release
		return nil
	}})
	d.Start(context.Background())

	// The first update occupies the worker; the second fills the queue.
	d.Submit(Update{DeviceID: "a"})
	deadline := time.Now().Add(2 * time.Second)
	for !d.Submit(Update{DeviceID: "a"}) {
		if time.Now().After(deadline) {
			t.Fatal("queue never accepted a second update")
		}
		time.Sleep(time.Millisecond)
	}

	dropped := 0
	for range 5 {
		if !d.Submit(Update{DeviceID: "a"}) {
			dropped++
		}
	}
	if dropped == 0 {
		t.Error("expected drops on a full queue")
	}
	if d.Dropped() == 0 {
		t.Error("Dropped() = 0, want > 0")
	}

	close(release)
	d.Stop()
}

func TestDispatcher_SinkFailures(t *testing.T) {
	tests := []struct {
		name string
		fn   func(context.Context, Update) error
	}{
		{"error", func(context.Context, Update) error { return errors.New("broker down") }},
		{"panic", func(context.Context, Update) error { panic("boom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(DispatcherConfig{Workers: 1})
			after := &collectingSink{}
			d.AddSink(SinkFunc{SinkName: tt.name, Fn: tt.fn})
			d.AddSink(after)
			d.Start(context.Background())

			d.Submit(Update{DeviceID: "010203040506"})
			d.Submit(Update{DeviceID: "010203040506"})
			d.Stop()

			if after.len() != 2 {
				t.Errorf("later sink received %d updates, want 2", after.len())
			}
			if d.SinkErrors() != 2 {
				t.Errorf("SinkErrors() = %d, want 2", d.SinkErrors())
			}
		})
	}
}

func TestDispatcher_PanicBecomesError(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{})
	err := d.invoke(context.Background(), SinkFunc{SinkName: "p", Fn: func(context.Context, Update) error {
		panic(fmt.Sprintf("bad %d", 1))
	}}, Update{})
	if !errors.Is(err, ErrHandlerPanic) {
		t.Errorf("invoke() error = %v, want ErrHandlerPanic", err)
	}
}

func TestDispatcher_StopDrainsAndRejects(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Workers: 2, QueueSize: 50})
	sink := &collectingSink{}
	d.AddSink(sink)

	// Queue before workers exist, then start and stop at once.
	for i := range 20 {
		d.Submit(Update{DeviceID: fmt.Sprintf("%012d", i)})
	}
	d.Start(context.Background())
	d.Stop()
	d.Stop()

	if sink.len() != 20 {
		t.Errorf("sink received %d updates, want 20 drained", sink.len())
	}
	if d.Submit(Update{DeviceID: "a"}) {
		t.Error("Submit() after Stop = true, want false")
	}
}

func TestDispatcher_ShardStable(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Workers: 8})
	for _, id := range []string{"010203040506", "AABBCCDDEEFF", ""} {
		first := d.shard(id)
		if first < 0 || first >= 8 {
			t.Fatalf("shard(%q) = %d out of range", id, first)
		}
		for range 10 {
			if got := d.shard(id); got != first {
				t.Fatalf("shard(%q) = %d, then %d", id, first, got)
			}
		}
	}
}
