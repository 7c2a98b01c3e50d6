package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func findMetric(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	return nil
}

func TestMetricsCounters(t *testing.T) {
	m := New()

	m.IncOrderCreated("GOLD", "BUY")
	m.IncOrderCreated("GOLD", "BUY")
	m.IncOrderRejected("INSUFFICIENT_BALANCE")
	m.IncOrderCanceled()
	m.AddOrdersMatched("GOLD", 2)
	m.AddFills("GOLD", 3)
	m.AddFills("GOLD", 0)
	m.ObserveMatch("filled", 20*time.Millisecond)
	m.IncTxRollback("match")
	m.IncPublishError("matched")
	m.ObserveLockWait(time.Millisecond)

	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	created := findMetric(families, "brokerage_order_created_total")
	if created == nil || len(created.GetMetric()) != 1 {
		t.Fatalf("expected one created series, got %+v", created)
	}
	if got := created.GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected 2 created orders, got %v", got)
	}

	fills := findMetric(families, "brokerage_fills_total")
	if fills == nil || fills.GetMetric()[0].GetCounter().GetValue() != 3 {
		t.Fatalf("expected 3 fills, got %+v", fills)
	}

	latency := findMetric(families, "brokerage_match_latency_seconds")
	if latency == nil || latency.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("expected one latency sample, got %+v", latency)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncOrderCreated("GOLD", "SELL")
	m.IncOrderCanceled()
	m.ObserveMatch("error", time.Second)
	m.IncTxRollback("create")
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.IncOrderCanceled()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "brokerage_order_canceled_total 1") {
		t.Fatalf("expected canceled counter in output")
	}
}
