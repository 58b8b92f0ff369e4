package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSchedulingMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)

	m.ObserveBooking("created")
	m.ObserveBooking("created")
	m.ObserveBooking("conflict")
	m.ObserveTransition("scheduled", "completed", "ok")
	m.ObserveNotification("appointment_booked", "sent")
	m.ObserveHTTP("GET", "/appointments/{id}", 200, 0.01)

	if got := testutil.ToFloat64(m.bookingsTotal.WithLabelValues("created")); got != 2 {
		t.Fatalf("expected 2 created bookings, got %v", got)
	}
	if got := testutil.ToFloat64(m.bookingsTotal.WithLabelValues("conflict")); got != 1 {
		t.Fatalf("expected 1 conflict, got %v", got)
	}
	if got := testutil.ToFloat64(m.transitionsTotal.WithLabelValues("scheduled", "completed", "ok")); got != 1 {
		t.Fatalf("expected 1 transition, got %v", got)
	}
	if got := testutil.CollectAndCount(m.httpDuration); got != 1 {
		t.Fatalf("expected one histogram series, got %d", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *SchedulingMetrics
	m.ObserveBooking("created")
	m.ObserveTransition("scheduled", "cancelled", "ok")
	m.ObserveNotification("x", "sent")
	m.ObserveHTTP("GET", "/", 200, 0)
	m.ObserveDependency("redis", false)
}

func TestDependencyGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)

	m.ObserveDependency("redis", true)
	if got := testutil.ToFloat64(m.dependencyUp.WithLabelValues("redis")); got != 1 {
		t.Fatalf("expected redis up, got %v", got)
	}
	m.ObserveDependency("redis", false)
	if got := testutil.ToFloat64(m.dependencyUp.WithLabelValues("redis")); got != 0 {
		t.Fatalf("expected redis down, got %v", got)
	}
}
