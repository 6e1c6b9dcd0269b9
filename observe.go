package coordinate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Observer is the observability boundary. The engine emits one terminal
// event per run plus coarse metrics; logging, metrics and tracing
// infrastructure live behind this interface, outside the kernel.
type Observer interface {
	RecordEvent(id CoordinationID, eventType string, payload map[string]any)
	RecordMetric(name string, value float64, tags map[string]string)
}

// NopObserver discards everything.
type NopObserver struct{}

// RecordEvent implements the Observer interface.
func (NopObserver) RecordEvent(CoordinationID, string, map[string]any) {}

// RecordMetric implements the Observer interface.
func (NopObserver) RecordMetric(string, float64, map[string]string) {}

// LogObserver writes events and metrics to a structured log.
type LogObserver struct {
	log zerolog.Logger
}

// NewLogObserver creates a log-backed observer.
func NewLogObserver(log zerolog.Logger) *LogObserver {
	return &LogObserver{log: log}
}

// RecordEvent implements the Observer interface.
func (o *LogObserver) RecordEvent(id CoordinationID, eventType string, payload map[string]any) {
	evt := o.log.Info().Stringer("coordination_id", id).Str("event", eventType)
	for k, v := range payload {
		evt = evt.Interface(k, v)
	}
	evt.Msg("coordination event")
}

// RecordMetric implements the Observer interface.
func (o *LogObserver) RecordMetric(name string, value float64, tags map[string]string) {
	evt := o.log.Debug().Str("metric", name).Float64("value", value)
	for k, v := range tags {
		evt = evt.Str(k, v)
	}
	evt.Msg("coordination metric")
}

// PrometheusObserver exports run outcomes and durations as Prometheus
// metrics.
type PrometheusObserver struct {
	events    *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// NewPrometheusObserver creates an observer registered against the given
// registerer.
func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	o := &PrometheusObserver{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinate_events_total",
			Help: "Terminal coordination events by type.",
		}, []string{"event"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coordinate_run_duration_seconds",
			Help:    "Coordination run duration by strategy and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy", "status"}),
	}
	if err := reg.Register(o.events); err != nil {
		return nil, err
	}
	if err := reg.Register(o.durations); err != nil {
		return nil, err
	}
	return o, nil
}

// RecordEvent implements the Observer interface.
func (o *PrometheusObserver) RecordEvent(id CoordinationID, eventType string, payload map[string]any) {
	o.events.WithLabelValues(eventType).Inc()
}

// RecordMetric implements the Observer interface. The run duration metric
// is routed to the histogram; anything else is ignored by this exporter.
func (o *PrometheusObserver) RecordMetric(name string, value float64, tags map[string]string) {
	if name != MetricRunDuration {
		return
	}
	o.durations.WithLabelValues(tags["strategy"], tags["status"]).Observe(value)
}

// MetricRunDuration is the metric name the Supervisor reports run
// durations under, in seconds.
const MetricRunDuration = "coordinate.run.duration_seconds"
