package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewWithRegistry("test-service", reg)
}

func TestNewWithRegistry_RegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)
	if m == nil {
		t.Fatal("NewWithRegistry() returned nil")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}

func TestSetConnectionState(t *testing.T) {
	m := newTestMetrics(t)
	m.SetConnectionState("test-service", "completed", 3)

	metric := &dto.Metric{}
	gauge, err := m.ConnectionsByState.GetMetricWithLabelValues("test-service", "completed")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues() error = %v", err)
	}
	if err := gauge.Write(metric); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if metric.GetGauge().GetValue() != 3 {
		t.Errorf("gauge value = %v, want 3", metric.GetGauge().GetValue())
	}
}

func TestRecordFrame(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordFrame("test-service", "notify")
	m.RecordFrame("test-service", "notify")

	metric := &dto.Metric{}
	counter, err := m.FramesProcessed.GetMetricWithLabelValues("test-service", "notify")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues() error = %v", err)
	}
	if err := counter.Write(metric); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if metric.GetCounter().GetValue() != 2 {
		t.Errorf("counter value = %v, want 2", metric.GetCounter().GetValue())
	}
}

func TestInitAndGlobal_ReturnsSameInstance(t *testing.T) {
	globalMetrics = nil
	a := Init("svc-a")
	b := Global()
	if a != b {
		t.Error("expected Init and Global to return the same instance")
	}
	globalMetrics = nil
}
