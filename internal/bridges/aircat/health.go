package aircat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/aircat-gateway/internal/infrastructure/mqtt"
)

const defaultHealthInterval = 30 * time.Second

// StatsSource provides the figures included in health messages.
// *Reactor satisfies it.
type StatsSource interface {
	Stats() Stats
	Listening() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// GatewayID names this gateway in the health topic and payload.
	GatewayID string

	// Version is reported as-is.
	Version string

	// Interval between reports. Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client. Nil disables publishing; the reporter
	// still runs so that Start and Stop behave the same either way.
	Publisher Publisher

	// Topics builds the health topic. Default: the "aircat" prefix.
	Topics mqtt.Topics

	// Source provides reactor statistics.
	Source StatsSource

	Logger Logger
}

// HealthReporter publishes retained health messages at a fixed interval.
//
// Messages go to {prefix}/health/{gateway_id} with retain set, so a
// dashboard that subscribes late still sees the last status. The status is
// healthy while MQTT is connected and the device listener is up, degraded
// otherwise, and stopping once Stop is called.
type HealthReporter struct {
	gatewayID string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher Publisher
	topics    mqtt.Topics
	source    StatsSource
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	h := &HealthReporter{
		gatewayID: cfg.GatewayID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		topics:    cfg.Topics,
		source:    cfg.Source,
		logger:    cfg.Logger,
		done:      make(chan struct{}),
	}
	if h.topics.Prefix == "" {
		h.topics = mqtt.NewTopics("")
	}
	if h.logger == nil {
		h.logger = noopLogger{}
	}
	return h
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
// The first report is published immediately.
//
// Parameters:
//   - ctx: Context for cancellation (will stop reporting when cancelled)
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// It waits for the report loop to exit first, so the stopping message is
// always the last one retained. Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "gateway shutting down")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "gateway starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// reportLoop publishes on every tick. Publish failures are logged and the
// loop carries on; the next tick retries.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logger.Warn("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Warn("failed to publish health", "error", err)
			}
		}
	}
}

// determineStatus returns the current status and, when degraded, why.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.source != nil && !h.source.Listening() {
		return HealthDegraded, "device listener down"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	var stats Stats
	if h.source != nil {
		stats = h.source.Stats()
	}
	msg := NewHealthMessage(h.gatewayID, h.version, status, stats, h.startTime)
	msg.Reason = reason

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topics.Health(h.gatewayID), payload, 1, true)
}
