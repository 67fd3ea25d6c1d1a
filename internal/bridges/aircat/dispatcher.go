package aircat

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/aircat-gateway/internal/device"
)

// Default dispatcher sizing.
const (
	defaultDispatchWorkers   = 4
	defaultDispatchQueueSize = 100
)

// Update is emitted for every decoded frame, with or without a status.
type Update struct {
	DeviceID   string        `json:"device_id"`
	Status     device.Status `json:"status,omitempty"`
	HasStatus  bool          `json:"has_status"`
	RemoteAddr string        `json:"remote_addr"`
	ReceivedAt time.Time     `json:"received_at"`
}

// Sink consumes updates off the reactor goroutine.
type Sink interface {
	Name() string
	HandleUpdate(ctx context.Context, u Update) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, u Update) error
}

// Name returns the sink name used in logs.
func (s SinkFunc) Name() string { return s.SinkName }

// HandleUpdate calls Fn.
func (s SinkFunc) HandleUpdate(ctx context.Context, u Update) error { return s.Fn(ctx, u) }

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Metrics   *Metrics
	Logger    Logger
}

// Dispatcher fans updates out to sinks on a bounded worker pool.
//
// Updates are sharded by device ID so each device's updates reach the
// sinks in arrival order. When a shard's queue is full the update is
// dropped and counted; the reactor never blocks on slow sinks.
type Dispatcher struct {
	queues  []chan Update
	sinks   []Sink
	sinksMu sync.RWMutex

	metrics *Metrics
	logger  Logger

	done     *closeOnce
	wg       sync.WaitGroup
	started  atomic.Bool
	dropped  atomic.Uint64
	handled  atomic.Uint64
	sinkErrs atomic.Uint64
}

// NewDispatcher creates a dispatcher. Call Start before Submit.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultDispatchWorkers
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultDispatchQueueSize
	}

	d := &Dispatcher{
		queues:  make([]chan Update, workers),
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		done:    newCloseOnce(),
	}
	for i := range d.queues {
		d.queues[i] = make(chan Update, size)
	}
	if d.logger == nil {
		d.logger = noopLogger{}
	}
	return d
}

// AddSink registers a sink. Sinks added after Start receive later updates.
func (d *Dispatcher) AddSink(s Sink) {
	d.sinksMu.Lock()
	d.sinks = append(d.sinks, s)
	d.sinksMu.Unlock()
}

// Start launches one worker per shard. Workers exit when ctx is cancelled
// or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	for _, q := range d.queues {
		d.wg.Add(1)
		go d.worker(ctx, q)
	}
}

// Submit queues u without blocking. It returns false when the update was
// dropped (queue full or dispatcher stopped).
func (d *Dispatcher) Submit(u Update) bool {
	select {
	case <-d.done.Done():
		return false
	default:
	}

	select {
	case d.queues[d.shard(u.DeviceID)] <- u:
		return true
	default:
		d.dropped.Add(1)
		d.metrics.updateDropped()
		return false
	}
}

// Stop signals workers to finish queued updates and waits for them.
// Safe to call multiple times.
func (d *Dispatcher) Stop() {
	d.done.Close()
	d.wg.Wait()
}

// Dropped returns the number of updates dropped on full queues.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Handled returns the number of updates delivered to every sink.
func (d *Dispatcher) Handled() uint64 {
	return d.handled.Load()
}

// SinkErrors returns the number of failed sink invocations.
func (d *Dispatcher) SinkErrors() uint64 {
	return d.sinkErrs.Load()
}

func (d *Dispatcher) shard(deviceID string) int {
	h := fnv.New32a()
	h.Write([]byte(deviceID)) //nolint:errcheck // hash.Hash never returns an error
	return int(h.Sum32() % uint32(len(d.queues)))
}

func (d *Dispatcher) worker(ctx context.Context, q chan Update) {
	defer d.wg.Done()

	for {
		select {
		case u := <-q:
			d.deliver(ctx, u)
		case <-ctx.Done():
			return
		case <-d.done.Done():
			// Finish what is already queued, then exit.
			for {
				select {
				case u := <-q:
					d.deliver(ctx, u)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, u Update) {
	d.sinksMu.RLock()
	sinks := d.sinks
	d.sinksMu.RUnlock()

	for _, s := range sinks {
		if err := d.invoke(ctx, s, u); err != nil {
			d.sinkErrs.Add(1)
			d.logger.Warn("sink failed",
				"sink", s.Name(),
				"device_id", u.DeviceID,
				"error", err,
			)
		}
	}
	d.handled.Add(1)
}

// invoke runs one sink, converting a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, s Sink, u Update) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.panicRecovered()
			d.logger.Error("sink panic recovered",
				"sink", s.Name(),
				"device_id", u.DeviceID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: sink %s: %v", ErrHandlerPanic, s.Name(), r)
		}
	}()
	return s.HandleUpdate(ctx, u)
}
