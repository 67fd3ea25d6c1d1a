package aircat

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/aircat-gateway/internal/device"
)

// Logger defines the logging interface used by the bridge.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Outcome is the connection state after handling one read.
type Outcome int

const (
	// OutcomeAwaiting keeps the connection open without replying.
	OutcomeAwaiting Outcome = iota
	// OutcomeAcked means a telemetry frame was acknowledged; the
	// connection stays open for further frames.
	OutcomeAcked
	// OutcomeHTTPServed means a snapshot was written; close the connection.
	OutcomeHTTPServed
	// OutcomeClosed means the peer went away or the connection failed.
	OutcomeClosed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAwaiting:
		return "awaiting"
	case OutcomeAcked:
		return "acked"
	case OutcomeHTTPServed:
		return "http_served"
	case OutcomeClosed:
		return "closed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Terminal reports whether the connection must be torn down.
func (o Outcome) Terminal() bool {
	return o == OutcomeHTTPServed || o == OutcomeClosed
}

// Peer is the write side of a device connection.
type Peer interface {
	Write(p []byte) (int, error)
	SetWriteDeadline(t time.Time) error
}

// ConnInfo identifies a connection in logs and updates.
type ConnInfo struct {
	ID         string
	RemoteAddr string
}

// Submitter receives an Update for every decoded frame. Submit must not block.
type Submitter interface {
	Submit(u Update) bool
}

// HandlerConfig holds the handler's collaborators.
type HandlerConfig struct {
	Registry     *device.Registry
	Submitter    Submitter
	Metrics      *Metrics
	Logger       Logger
	WriteTimeout time.Duration
}

// Handler classifies one read from a device connection and responds.
//
// It is not safe for concurrent use on the same connection; the reactor
// calls it from a single goroutine.
type Handler struct {
	registry     *device.Registry
	submitter    Submitter
	metrics      *Metrics
	logger       Logger
	writeTimeout time.Duration
	now          func() time.Time
}

// NewHandler creates a handler. A nil Registry gets a fresh one.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		registry:     cfg.Registry,
		submitter:    cfg.Submitter,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		writeTimeout: cfg.WriteTimeout,
		now:          time.Now,
	}
	if h.registry == nil {
		h.registry = device.NewRegistry()
	}
	if h.logger == nil {
		h.logger = noopLogger{}
	}
	if h.writeTimeout <= 0 {
		h.writeTimeout = defaultIOTimeout
	}
	return h
}

var httpPrefix = []byte("GET")

// reportedError marks an error Handle has already logged, so callers do
// not log it twice.
type reportedError struct{ err error }

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

func reported(err error) error {
	return reportedError{err: err}
}

// Handle processes data read from a connection.
//
// A zero-length read means the peer closed. Data starting with "GET" is
// answered with the registry snapshot. Anything else is decoded as a
// device frame and acknowledged unless its status fails to parse.
//
// Every error returned has already been logged with the connection's
// context; errors.Is works against the package sentinels. Only
// OutcomeClosed and OutcomeHTTPServed end the connection.
//
// Parameters:
//   - p: The connection to reply on
//   - info: Connection ID and remote address, for logging
//   - data: Bytes from one read; empty means end of stream
//
// Returns:
//   - Outcome: What the connection should do next
//   - error: Why the frame was not acknowledged, or nil
func (h *Handler) Handle(p Peer, info ConnInfo, data []byte) (Outcome, error) {
	if len(data) == 0 {
		h.logger.Debug("peer closed", "conn_id", info.ID, "remote_addr", info.RemoteAddr)
		return OutcomeClosed, reported(ErrPeerClosed)
	}

	if bytes.HasPrefix(data, httpPrefix) {
		return h.serveSnapshot(p, info)
	}

	frame, err := Decode(data)
	switch {
	case errors.Is(err, ErrTooShort):
		h.metrics.frame(resultTooShort)
		h.logger.Warn("received invalid frame",
			"conn_id", info.ID,
			"remote_addr", info.RemoteAddr,
			"bytes", len(data),
			"error", err,
		)
		return OutcomeAwaiting, reported(err)

	case errors.Is(err, ErrInvalidJSON):
		h.metrics.frame(resultInvalidJSON)
		h.logger.Warn("dropping frame with malformed status",
			"conn_id", info.ID,
			"remote_addr", info.RemoteAddr,
			"device_id", frame.DeviceID,
			"bytes", len(data),
			"error", err,
		)
		return OutcomeAwaiting, reported(err)

	case err != nil:
		h.logger.Error("decoding frame failed",
			"conn_id", info.ID,
			"remote_addr", info.RemoteAddr,
			"bytes", len(data),
			"error", err,
		)
		return OutcomeAwaiting, reported(err)
	}

	if frame.HasStatus {
		if _, err := h.registry.Upsert(frame.DeviceID, frame.Status); err != nil {
			h.logger.Error("storing device status failed",
				"conn_id", info.ID,
				"remote_addr", info.RemoteAddr,
				"device_id", frame.DeviceID,
				"error", err,
			)
			return OutcomeAwaiting, reported(err)
		}
		h.metrics.frame(resultStatus)
		h.metrics.setDevices(h.registry.Count())
		h.logger.Debug("received status",
			"conn_id", info.ID,
			"device_id", frame.DeviceID,
			"status", frame.Status,
		)
	} else {
		h.metrics.frame(resultNoStatus)
		h.logger.Debug("received frame without status",
			"conn_id", info.ID,
			"device_id", frame.DeviceID,
			"bytes", len(data),
		)
	}

	if err := h.write(p, EncodeAck(data)); err != nil {
		h.logger.Warn("ack write failed",
			"conn_id", info.ID,
			"remote_addr", info.RemoteAddr,
			"device_id", frame.DeviceID,
			"error", err,
		)
		return OutcomeClosed, reported(err)
	}

	h.submit(frame, info)
	return OutcomeAcked, nil
}

func (h *Handler) serveSnapshot(p Peer, info ConnInfo) (Outcome, error) {
	resp, err := SnapshotResponse(h.registry.Snapshot())
	if err != nil {
		h.logger.Error("building snapshot failed", "conn_id", info.ID, "error", err)
		return OutcomeClosed, reported(err)
	}

	if err := h.write(p, resp); err != nil {
		h.logger.Warn("snapshot write failed",
			"conn_id", info.ID,
			"remote_addr", info.RemoteAddr,
			"error", err,
		)
		return OutcomeClosed, reported(err)
	}

	h.metrics.httpSnapshot()
	h.logger.Debug("served snapshot",
		"conn_id", info.ID,
		"remote_addr", info.RemoteAddr,
		"bytes", len(resp),
	)
	return OutcomeHTTPServed, nil
}

// write sends all of b under the write deadline.
func (h *Handler) write(p Peer, b []byte) error {
	if err := p.SetWriteDeadline(h.now().Add(h.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	for len(b) > 0 {
		n, err := p.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}

func (h *Handler) submit(frame *Frame, info ConnInfo) {
	if h.submitter == nil {
		return
	}
	u := Update{
		DeviceID:   frame.DeviceID,
		Status:     frame.Status,
		HasStatus:  frame.HasStatus,
		RemoteAddr: info.RemoteAddr,
		ReceivedAt: h.now(),
	}
	if !h.submitter.Submit(u) {
		h.logger.Debug("update dropped", "device_id", frame.DeviceID)
	}
}
