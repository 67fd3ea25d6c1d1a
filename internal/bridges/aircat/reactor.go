package aircat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/aircat-gateway/internal/device"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Reactor defaults.
const (
	// DefaultPort is the TCP port devices connect to.
	DefaultPort = 9000

	defaultBacklog        = 5
	defaultIOTimeout      = time.Second
	defaultReadBufferSize = 1024
	defaultEventQueueSize = 256

	// Accept failures back off from minAcceptDelay, doubling to maxAcceptDelay.
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Options configures a Reactor.
type Options struct {
	// Host and Port select the listening address. Port 0 picks a free port.
	Host string
	Port int

	// Backlog is the listen queue length.
	Backlog int

	// ReadTimeout bounds each read; a timeout is retried, never treated
	// as a close.
	ReadTimeout time.Duration

	// WriteTimeout bounds acknowledgement and snapshot writes.
	WriteTimeout time.Duration

	// ReadBufferSize is the maximum bytes taken per read.
	ReadBufferSize int

	// EventQueueSize bounds events waiting for PollOnce.
	EventQueueSize int

	Registry  *device.Registry
	Submitter Submitter
	Metrics   *Metrics
	Logger    Logger

	// Listener, when set, is used instead of opening a socket.
	Listener net.Listener
}

func (o *Options) applyDefaults() {
	if o.Backlog <= 0 {
		o.Backlog = defaultBacklog
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultIOTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultIOTimeout
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = defaultReadBufferSize
	}
	if o.EventQueueSize <= 0 {
		o.EventQueueSize = defaultEventQueueSize
	}
	if o.Registry == nil {
		o.Registry = device.NewRegistry()
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
}

type eventKind int

const (
	eventAccept eventKind = iota
	eventAcceptError
	eventData
	eventReadError
)

type event struct {
	kind eventKind
	conn *conn
	data []byte
	err  error
}

// conn is one accepted socket. closed is only touched under pollMu.
type conn struct {
	id     string
	nc     net.Conn
	remote string
	closed bool
}

func (c *conn) info() ConnInfo {
	return ConnInfo{ID: c.id, RemoteAddr: c.remote}
}

// Stats is a point-in-time view of reactor counters.
type Stats struct {
	ActiveConnections int    `json:"active_connections"`
	Accepted          uint64 `json:"accepted"`
	AcceptErrors      uint64 `json:"accept_errors"`
	Acked             uint64 `json:"acked"`
	HTTPServed        uint64 `json:"http_served"`
	Panics            uint64 `json:"panics"`
	StaleEvents       uint64 `json:"stale_events"`
	Devices           int    `json:"devices"`
}

// Reactor owns the device listener and every accepted connection.
//
// Socket I/O happens on helper goroutines (one acceptor, one reader per
// connection), which only post events. Everything else (classifying
// events, updating the active set and registry, writing replies) happens
// in whichever goroutine holds the poll lock: Run's loop, or a caller of
// PollOnce.
type Reactor struct {
	opts     Options
	handler  *Handler
	handle   func(Peer, ConnInfo, []byte) (Outcome, error)
	registry *device.Registry
	metrics  *Metrics
	logger   Logger

	events chan event
	done   *closeOnce
	wg     sync.WaitGroup

	stateMu  sync.Mutex
	ln       net.Listener
	started  bool
	stopOnce sync.Once

	// pollMu serialises dispatch and guards active.
	pollMu sync.Mutex
	active []*conn

	connCount    atomic.Int64
	accepted     atomic.Uint64
	acceptErrors atomic.Uint64
	acked        atomic.Uint64
	httpServed   atomic.Uint64
	panics       atomic.Uint64
	staleEvents  atomic.Uint64
}

// New creates a reactor from opts, filling unset fields with defaults.
// A zero Port picks a free port; callers wanting DefaultPort set it.
//
// It does not open the listener; call Start or Run.
//
// Parameters:
//   - opts: Listening address, I/O timeouts, queue size and collaborators
//
// Returns:
//   - *Reactor: Ready to start
//   - error: ErrInvalidOptions if the port is out of range
func New(opts Options) (*Reactor, error) {
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d", ErrInvalidOptions, opts.Port)
	}
	opts.applyDefaults()

	r := &Reactor{
		opts:     opts,
		registry: opts.Registry,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		events:   make(chan event, opts.EventQueueSize),
		done:     newCloseOnce(),
	}
	r.handler = NewHandler(HandlerConfig{
		Registry:     opts.Registry,
		Submitter:    opts.Submitter,
		Metrics:      opts.Metrics,
		Logger:       opts.Logger,
		WriteTimeout: opts.WriteTimeout,
	})
	r.handle = r.handler.Handle
	return r, nil
}

// Registry returns the registry the reactor writes to.
func (r *Reactor) Registry() *device.Registry {
	return r.registry
}

// Addr returns the listening address, or nil before Start.
func (r *Reactor) Addr() net.Addr {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

// ConnectionCount returns the number of connections in the active set.
func (r *Reactor) ConnectionCount() int {
	return int(r.connCount.Load())
}

// Listening reports whether the reactor has started and not yet stopped.
func (r *Reactor) Listening() bool {
	if r.isStopped() {
		return false
	}
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.started
}

// Stats returns current counters.
func (r *Reactor) Stats() Stats {
	return Stats{
		ActiveConnections: r.ConnectionCount(),
		Accepted:          r.accepted.Load(),
		AcceptErrors:      r.acceptErrors.Load(),
		Acked:             r.acked.Load(),
		HTTPServed:        r.httpServed.Load(),
		Panics:            r.panics.Load(),
		StaleEvents:       r.staleEvents.Load(),
		Devices:           r.registry.Count(),
	}
}

// Start opens the listener and begins accepting. Events queue until they
// are processed by Run or PollOnce.
//
// When Options.Listener is set it is used as-is; otherwise a TCP socket is
// opened with address reuse and the configured backlog.
//
// Parameters:
//   - ctx: Context for opening the listening socket
//
// Returns:
//   - error: ErrAlreadyStarted, ErrStopped, or the listen failure
func (r *Reactor) Start(ctx context.Context) error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}
	if r.isStopped() {
		return ErrStopped
	}

	ln := r.opts.Listener
	if ln == nil {
		addr := net.JoinHostPort(r.opts.Host, strconv.Itoa(r.opts.Port))
		var err error
		if ln, err = listen(ctx, addr, r.opts.Backlog); err != nil {
			return fmt.Errorf("listening on %s: %w", addr, err)
		}
	}

	r.ln = ln
	r.started = true
	r.wg.Add(1)
	go r.acceptLoop(ln)

	r.logger.Info("aircat gateway listening", "addr", ln.Addr().String(), "backlog", r.opts.Backlog)
	return nil
}

// Run starts the reactor if needed and processes events until ctx is
// cancelled or Stop is called. It stops the reactor before returning.
//
// Run blocks; deployments that drive the reactor themselves use PollOnce
// instead.
//
// Parameters:
//   - ctx: Context for cancellation (returns nil when cancelled)
//
// Returns:
//   - error: nil on a normal stop, otherwise the Start failure
func (r *Reactor) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil && !errors.Is(err, ErrAlreadyStarted) {
		return err
	}
	defer r.Stop()

	for {
		if _, err := r.PollOnce(ctx, -1); err != nil {
			if errors.Is(err, ErrStopped) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// PollOnce waits for events and processes every event that is ready.
//
// A negative timeout waits until at least one event arrives, a zero
// timeout only processes events already queued, and a positive timeout
// waits at most that long. Once one event is in hand, every other event
// already queued is processed too, up to the queue capacity.
//
// Calls are serialised; a second caller waits for the first to finish.
//
// Parameters:
//   - ctx: Context for cancellation of the wait
//   - timeout: Negative to block, zero to poll, positive to bound the wait
//
// Returns:
//   - int: Number of events processed
//   - error: ErrNotStarted, ErrStopped, or ctx.Err()
func (r *Reactor) PollOnce(ctx context.Context, timeout time.Duration) (int, error) {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	if err := r.pollable(); err != nil {
		return 0, err
	}

	var ev event
	switch {
	case timeout < 0:
		select {
		case ev = <-r.events:
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-r.done.Done():
			return 0, ErrStopped
		}

	case timeout == 0:
		select {
		case ev = <-r.events:
		default:
			return 0, nil
		}

	default:
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case ev = <-r.events:
		case <-timer.C:
			return 0, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-r.done.Done():
			return 0, ErrStopped
		}
	}

	r.dispatch(ev)
	n := 1

	// Take whatever else is ready, bounded so a busy peer cannot pin us here.
	for n < cap(r.events) {
		select {
		case ev = <-r.events:
			r.dispatch(ev)
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

// Stop closes the listener and every active connection, then waits for the
// acceptor and readers to exit. Queued events are discarded. Safe to call
// multiple times.
//
// Open connections are closed rather than drained; a device that was
// mid-frame simply reconnects.
func (r *Reactor) Stop() {
	r.stopOnce.Do(func() {
		r.done.Close()

		r.stateMu.Lock()
		if r.ln != nil {
			if err := r.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				r.logger.Warn("closing listener", "error", err)
			}
		}
		r.stateMu.Unlock()

		r.pollMu.Lock()
		r.closeActive()
		r.pollMu.Unlock()

		r.wg.Wait()

		// Nothing posts any more; release sockets from unprocessed accepts.
		for {
			select {
			case ev := <-r.events:
				if ev.kind == eventAccept {
					ev.conn.nc.Close()
				}
			default:
				r.logger.Info("aircat gateway stopped")
				return
			}
		}
	})
}

func (r *Reactor) isStopped() bool {
	select {
	case <-r.done.Done():
		return true
	default:
		return false
	}
}

func (r *Reactor) pollable() error {
	if r.isStopped() {
		return ErrStopped
	}
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if !r.started {
		return ErrNotStarted
	}
	return nil
}

// post queues ev, giving up once the reactor is stopping.
func (r *Reactor) post(ev event) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.done.Done():
		return false
	}
}

// acceptLoop accepts until the listener closes. Accept failures are posted
// as events so they are counted and logged in the polling goroutine, and
// back off between attempts.
func (r *Reactor) acceptLoop(ln net.Listener) {
	defer r.wg.Done()

	var delay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if r.isStopped() || errors.Is(err, net.ErrClosed) {
				return
			}
			if !r.post(event{kind: eventAcceptError, err: err}) {
				return
			}

			delay = max(minAcceptDelay, min(delay*2, maxAcceptDelay))
			select {
			case <-time.After(delay):
			case <-r.done.Done():
				return
			}
			continue
		}
		delay = 0

		c := &conn{
			id:     uuid.NewString(),
			nc:     nc,
			remote: nc.RemoteAddr().String(),
		}
		if !r.post(event{kind: eventAccept, conn: c}) {
			nc.Close()
			return
		}
	}
}

// readLoop reads from c until it closes. Each read is bounded by
// ReadTimeout; a timeout only means nothing has arrived yet.
func (r *Reactor) readLoop(c *conn) {
	defer r.wg.Done()

	// Events get their own copy; buf is reused across reads.
	buf := make([]byte, r.opts.ReadBufferSize)
	for {
		if r.isStopped() {
			return
		}
		if err := c.nc.SetReadDeadline(time.Now().Add(r.opts.ReadTimeout)); err != nil {
			r.post(event{kind: eventReadError, conn: c, err: fmt.Errorf("set read deadline: %w", err)})
			return
		}

		n, err := c.nc.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			if !r.post(event{kind: eventData, conn: c, data: data}) {
				return
			}
		}
		if err == nil {
			continue
		}

		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			continue
		case errors.Is(err, io.EOF):
			// A zero-length read is how the handler learns the peer left.
			r.post(event{kind: eventData, conn: c})
			return
		case errors.Is(err, net.ErrClosed), r.isStopped():
			return
		default:
			r.post(event{kind: eventReadError, conn: c, err: err})
			return
		}
	}
}

// dispatch handles one event. It is the fault-isolation boundary: a panic
// is logged and counted, the affected connection is torn down, and the
// caller carries on with the next event.
func (r *Reactor) dispatch(ev event) {
	defer func() {
		if p := recover(); p != nil {
			r.panics.Add(1)
			r.metrics.panicRecovered()
			args := []any{"panic", p, "stack", string(debug.Stack())}
			if ev.conn != nil {
				args = append(args, "conn_id", ev.conn.id, "remote_addr", ev.conn.remote)
			}
			r.logger.Error("recovered panic while handling connection event", args...)
			if ev.conn != nil {
				r.teardown(ev.conn)
			}
		}
	}()

	switch ev.kind {
	case eventAccept:
		r.register(ev.conn)

	case eventAcceptError:
		r.acceptErrors.Add(1)
		r.metrics.acceptError()
		r.logger.Error("accept failed", "error", fmt.Errorf("%w: %w", ErrAccept, ev.err))

	case eventData:
		if ev.conn.closed {
			r.staleEvents.Add(1)
			return
		}
		outcome, err := r.handle(ev.conn.nc, ev.conn.info(), ev.data)
		if err != nil && !errors.As(err, new(reportedError)) {
			r.logger.Error("handling connection event failed",
				"conn_id", ev.conn.id,
				"remote_addr", ev.conn.remote,
				"outcome", outcome.String(),
				"error", err,
			)
		}
		switch outcome {
		case OutcomeAcked:
			r.acked.Add(1)
		case OutcomeHTTPServed:
			r.httpServed.Add(1)
		}
		if outcome.Terminal() {
			r.teardown(ev.conn)
		}

	case eventReadError:
		if ev.conn.closed {
			r.staleEvents.Add(1)
			return
		}
		r.logger.Warn("read failed",
			"conn_id", ev.conn.id,
			"remote_addr", ev.conn.remote,
			"error", ev.err,
		)
		r.teardown(ev.conn)
	}
}

// register adds an accepted connection to the active set and starts its reader.
func (r *Reactor) register(c *conn) {
	if r.isStopped() {
		c.nc.Close()
		return
	}

	r.active = append(r.active, c)
	r.connCount.Add(1)
	r.accepted.Add(1)
	r.metrics.connectionAccepted()
	r.logger.Debug("connected", "conn_id", c.id, "remote_addr", c.remote)

	r.wg.Add(1)
	go r.readLoop(c)
}

// teardown removes c from the active set and closes it.
func (r *Reactor) teardown(c *conn) {
	if c.closed {
		return
	}
	for i, a := range r.active {
		if a == c {
			r.active = append(r.active[:i], r.active[i+1:]...)
			r.connCount.Add(-1)
			r.metrics.connectionClosed()
			break
		}
	}
	r.release(c)
	r.logger.Debug("connection closed", "conn_id", c.id, "remote_addr", c.remote)
}

// closeActive releases every connection in the active set.
func (r *Reactor) closeActive() {
	for _, c := range r.active {
		r.release(c)
		r.connCount.Add(-1)
		r.metrics.connectionClosed()
	}
	r.active = nil
}

func (r *Reactor) release(c *conn) {
	if c.closed {
		return
	}
	c.closed = true
	if err := c.nc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		r.logger.Debug("closing connection", "conn_id", c.id, "error", err)
	}
}
