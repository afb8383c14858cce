package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("session:sweep").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("session:sweep").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("session:sweep", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("session:sweep", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("session:sweep")))
}

func TestSweptSessions(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddSweptSessions("expired", 3)
	m.AddSweptSessions("expired", 0)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessions.WithLabelValues("expired")))

	var nilMetrics *Metrics
	nilMetrics.AddSweptSessions("expired", 1)
	assert.NoError(t, nilMetrics.Track("x").End(nil))
}

func TestNilRegistererKeepsCollectorsPrivate(t *testing.T) {
	a := NewMetrics(nil)
	b := NewMetrics(nil)
	_ = a.Track("audit:logout").End(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.runs.WithLabelValues("audit:logout", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.runs.WithLabelValues("audit:logout", "success")))
}
