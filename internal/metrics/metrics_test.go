package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNoopCollectorSatisfiesInterface(t *testing.T) {
	var c Collector = &NoopCollector{}
	c.PollStarted("work")
	c.PollFinished("work", 3)
	c.AuthResult("work", "ok")
	c.ExecFinished("work", 0, 0.5, false)
	c.KeyStoreChanged("authorize")
}

func TestPrometheusCollectorRecordsAuthResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.AuthResult("work", "ok")
	c.AuthResult("work", "ok")
	c.AuthResult("work", "fail")

	got := counterVecValue(t, c.authResults, "work", "ok")
	if got != 2 {
		t.Errorf("auth ok count = %v, want 2", got)
	}
	got = counterVecValue(t, c.authResults, "work", "fail")
	if got != 1 {
		t.Errorf("auth fail count = %v, want 1", got)
	}
}

func TestPrometheusCollectorClassifiesExitCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.ExecFinished("work", 0, 1.0, false)
	c.ExecFinished("work", 1, 1.0, false)
	c.ExecFinished("work", 124, 2.0, true)

	if got := counterVecValue(t, c.execsTotal, "work", "success"); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
	if got := counterVecValue(t, c.execsTotal, "work", "failure"); got != 2 {
		t.Errorf("failure count = %v, want 2", got)
	}
	if got := counterVecValue(t, c.timeoutsTotal, "work"); got != 1 {
		t.Errorf("timeout count = %v, want 1", got)
	}
}

func counterVecValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := vec.WithLabelValues(labels...).Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
