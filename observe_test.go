package coordinate

import (
	"bytes"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLogObserver(zerolog.New(&buf))

	id := NewCoordinationID()
	obs.RecordEvent(id, "completed", map[string]any{"name": "order"})
	assert.Contains(t, buf.String(), `"event":"completed"`)
	assert.Contains(t, buf.String(), id.String())
}

func TestPrometheusObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := NewPrometheusObserver(reg)
	require.NoError(t, err)

	obs.RecordEvent(NewCoordinationID(), "completed", nil)
	obs.RecordEvent(NewCoordinationID(), "completed", nil)
	obs.RecordEvent(NewCoordinationID(), "failed", nil)
	assert.Equal(t, float64(2), testutil.ToFloat64(obs.events.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(obs.events.WithLabelValues("failed")))

	obs.RecordMetric(MetricRunDuration, 0.25, map[string]string{"strategy": "saga", "status": "completed"})
	obs.RecordMetric("something.else", 1, nil) // ignored
	assert.Equal(t, 1, testutil.CollectAndCount(obs.durations))
}

func TestSupervisorReportsToPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := NewPrometheusObserver(reg)
	require.NoError(t, err)
	sup := New(NewRegistry(), WithObserver(obs))

	var trace []string
	_, err = sup.Coordinate(context.Background(), Request{
		Name:     "order",
		Strategy: StrategySaga,
		Steps:    []Step{okStep("only", &trace)},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(obs.events.WithLabelValues(string(StatusCompleted))))
}
