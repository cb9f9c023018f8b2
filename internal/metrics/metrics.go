package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/camvault/recorder/internal/supervisor"
)

// Metrics holds Prometheus counters and gauges for the recorder.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	errorsTotal         prometheus.Counter
	segmentsOpenedTotal prometheus.Counter
	bytesWrittenTotal   prometheus.Counter
	reconnectsTotal     prometheus.Counter
	ioErrorsTotal       *prometheus.CounterVec
	evictionsTotal      prometheus.Counter
	segmentsArchived    *prometheus.CounterVec
	viewers             prometheus.Gauge
	state               prometheus.Gauge
}

// New creates and registers the recorder metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		segmentsOpenedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_segments_opened_total",
			Help: "Total number of segment files opened",
		}),
		bytesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_bytes_written_total",
			Help: "Total stream bytes written to segment files",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_reconnects_total",
			Help: "Total number of source reconnect attempts",
		}),
		ioErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_io_errors_total",
			Help: "Segment file failures by operation",
		}, []string{"op"}),
		evictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_evictions_total",
			Help: "Number of times the recording folder was wiped for exceeding its quota",
		}),
		segmentsArchived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_segments_archived_total",
			Help: "Archive job outcomes",
		}, []string{"result"}),
		viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recorder_viewers",
			Help: "Number of connected live viewers",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recorder_state",
			Help: "Recorder state: 0 idle, 1 connecting, 2 recording",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.segmentsOpenedTotal,
		m.bytesWrittenTotal,
		m.reconnectsTotal,
		m.ioErrorsTotal,
		m.evictionsTotal,
		m.segmentsArchived,
		m.viewers,
		m.state,
	)
	return m
}

func (m *Metrics) SegmentOpened() { m.segmentsOpenedTotal.Inc() }

func (m *Metrics) BytesWritten(n int) { m.bytesWrittenTotal.Add(float64(n)) }

func (m *Metrics) Reconnect() { m.reconnectsTotal.Inc() }

func (m *Metrics) IOError(op string) { m.ioErrorsTotal.WithLabelValues(op).Inc() }

func (m *Metrics) Evicted() { m.evictionsTotal.Inc() }

func (m *Metrics) StateChanged(s supervisor.State) { m.state.Set(float64(s)) }

// SetViewers sets the live viewer gauge.
func (m *Metrics) SetViewers(n int) { m.viewers.Set(float64(n)) }

// ArchiveResult counts one archive job outcome ("uploaded", "retried", "dead").
func (m *Metrics) ArchiveResult(result string) { m.segmentsArchived.WithLabelValues(result).Inc() }

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() { m.requestsTotal.Inc() }

// IncErrors increments the HTTP error counter.
func (m *Metrics) IncErrors() { m.errorsTotal.Inc() }

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an http.Handler that serves the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
