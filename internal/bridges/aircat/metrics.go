package aircat

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Frame results recorded on aircat_gateway_frames_total.
const (
	resultStatus      = "status"
	resultNoStatus    = "no_status"
	resultTooShort    = "too_short"
	resultInvalidJSON = "invalid_json"
)

// Metrics holds the gateway's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	frames        *prometheus.CounterVec
	httpSnapshots prometheus.Counter
	accepted      prometheus.Counter
	acceptErrors  prometheus.Counter
	active        prometheus.Gauge
	devices       prometheus.Gauge
	panics        prometheus.Counter
	dropped       prometheus.Counter
	readings      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aircat",
			Subsystem: "gateway",
			Name:      "frames_total",
			Help:      "Telemetry frames received, by decode result",
		}, []string{"result"}),
		httpSnapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aircat",
			Subsystem: "gateway",
			Name:      "http_snapshots_total",
			Help:      "HTTP snapshot responses served on the device port",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aircat",
			Subsystem: "gateway",
			Name:      "connections_accepted_total",
			Help:      "Connections accepted on the device port",
		}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aircat",
			Subsystem: "gateway",
			Name:      "accept_errors_total",
			Help:      "Failed accepts on the device port",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aircat",
			Subsystem: "gateway",
			Name:      "connections_active",
			Help:      "Connections currently in the active set",
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aircat",
			Subsystem: "gateway",
			Name:      "devices",
			Help:      "Devices with a known status",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aircat",
			Subsystem: "gateway",
			Name:      "handler_panics_total",
			Help:      "Recovered panics while handling connection events",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aircat",
			Subsystem: "gateway",
			Name:      "updates_dropped_total",
			Help:      "Device updates dropped because a dispatcher queue was full",
		}),
		readings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aircat",
			Subsystem: "sensor",
			Name:      "reading",
			Help:      "Latest converted sensor reading",
		}, []string{"device_id", "sensor"}),
	}

	for _, c := range []prometheus.Collector{
		m.frames, m.httpSnapshots, m.accepted, m.acceptErrors, m.active,
		m.devices, m.panics, m.dropped, m.readings,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering aircat metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) frame(result string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(result).Inc()
}

func (m *Metrics) httpSnapshot() {
	if m == nil {
		return
	}
	m.httpSnapshots.Inc()
}

func (m *Metrics) connectionAccepted() {
	if m == nil {
		return
	}
	m.accepted.Inc()
	m.active.Inc()
}

func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.active.Dec()
}

func (m *Metrics) acceptError() {
	if m == nil {
		return
	}
	m.acceptErrors.Inc()
}

func (m *Metrics) setDevices(n int) {
	if m == nil {
		return
	}
	m.devices.Set(float64(n))
}

func (m *Metrics) panicRecovered() {
	if m == nil {
		return
	}
	m.panics.Inc()
}

func (m *Metrics) updateDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// SetReading records a converted sensor value.
func (m *Metrics) SetReading(deviceID, sensor string, value float64) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(deviceID, sensor).Set(value)
}
