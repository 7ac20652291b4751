package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wstool"

// Collector receives telemetry from the connection manager and history writer.
//
// Hooks run inline with the send and receive loops, so implementations must not block.
type Collector interface {
	SetConnected(conn string, connected bool)
	IncMessages(conn, direction string)
	IncErrors(conn string)
	IncReconnects(conn string)
	ObserveHandshake(conn string, d time.Duration)
	IncProbes(result string)
	IncWriterDropped(count int)
	ObserveFlush(rows int, d time.Duration)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) SetConnected(string, bool)              {}
func (noopCollector) IncMessages(string, string)             {}
func (noopCollector) IncErrors(string)                       {}
func (noopCollector) IncReconnects(string)                   {}
func (noopCollector) ObserveHandshake(string, time.Duration) {}
func (noopCollector) IncProbes(string)                       {}
func (noopCollector) IncWriterDropped(int)                   {}
func (noopCollector) ObserveFlush(int, time.Duration)        {}

// PrometheusCollector exposes connection telemetry via Prometheus.
type PrometheusCollector struct {
	connected     *prometheus.GaugeVec
	messages      *prometheus.CounterVec
	errors        *prometheus.CounterVec
	reconnects    *prometheus.CounterVec
	handshake     *prometheus.HistogramVec
	probes        *prometheus.CounterVec
	writerDropped prometheus.Counter
	flushRows     prometheus.Histogram
	flushLatency  prometheus.Histogram
}

// NewPrometheusCollector registers the collector's metrics with reg.
// A nil reg means prometheus.DefaultRegisterer. Metrics that are already
// registered (for example by a previous collector on the same registry) are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var err error
	p := &PrometheusCollector{}

	if p.connected, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connection_up",
		Help:      "1 when the connection's socket is established, 0 otherwise.",
	}, []string{"connection"})); err != nil {
		return nil, err
	}
	if p.messages, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_total",
		Help:      "Frames written to or read from a connection.",
	}, []string{"connection", "direction"})); err != nil {
		return nil, err
	}
	if p.errors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connection_errors_total",
		Help:      "Handshake and transport failures per connection.",
	}, []string{"connection"})); err != nil {
		return nil, err
	}
	if p.reconnects, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnect_attempts_total",
		Help:      "Automatic reconnect handshakes attempted per connection.",
	}, []string{"connection"})); err != nil {
		return nil, err
	}
	if p.handshake, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "handshake_duration_seconds",
		Help:      "Latency of successful WebSocket handshakes.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"connection"})); err != nil {
		return nil, err
	}
	if p.probes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probes_total",
		Help:      "Connectivity probes by outcome.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if p.writerDropped, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "history_dropped_total",
		Help:      "Message history rows dropped because the writer queue was full.",
	})); err != nil {
		return nil, err
	}
	if p.flushRows, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "history_flush_rows",
		Help:      "Rows written per history flush.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})); err != nil {
		return nil, err
	}
	if p.flushLatency, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "history_flush_duration_seconds",
		Help:      "Latency of history batch inserts.",
		Buckets:   prometheus.DefBuckets,
	})); err != nil {
		return nil, err
	}

	return p, nil
}

// register registers c, returning the already-registered collector of the same
// type when one exists.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// SetConnected flips the connection_up gauge.
func (p *PrometheusCollector) SetConnected(conn string, connected bool) {
	if p == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	p.connected.WithLabelValues(conn).Set(v)
}

// IncMessages counts one frame in the given direction ("sent" or "received").
func (p *PrometheusCollector) IncMessages(conn, direction string) {
	if p == nil {
		return
	}
	p.messages.WithLabelValues(conn, direction).Inc()
}

// IncErrors counts one handshake or transport failure.
func (p *PrometheusCollector) IncErrors(conn string) {
	if p == nil {
		return
	}
	p.errors.WithLabelValues(conn).Inc()
}

// IncReconnects counts one automatic reconnect handshake.
func (p *PrometheusCollector) IncReconnects(conn string) {
	if p == nil {
		return
	}
	p.reconnects.WithLabelValues(conn).Inc()
}

// ObserveHandshake records a successful handshake's latency.
func (p *PrometheusCollector) ObserveHandshake(conn string, d time.Duration) {
	if p == nil {
		return
	}
	p.handshake.WithLabelValues(conn).Observe(d.Seconds())
}

// IncProbes counts a probe by result ("success" or "failure").
func (p *PrometheusCollector) IncProbes(result string) {
	if p == nil {
		return
	}
	p.probes.WithLabelValues(result).Inc()
}

// IncWriterDropped counts history rows that never reached the database.
func (p *PrometheusCollector) IncWriterDropped(count int) {
	if p == nil || count <= 0 {
		return
	}
	p.writerDropped.Add(float64(count))
}

// ObserveFlush records one history flush.
func (p *PrometheusCollector) ObserveFlush(rows int, d time.Duration) {
	if p == nil {
		return
	}
	p.flushRows.Observe(float64(rows))
	p.flushLatency.Observe(d.Seconds())
}
