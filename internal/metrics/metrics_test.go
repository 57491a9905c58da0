package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.OrdersPlaced.Inc()
	if got := testutil.ToFloat64(a.OrdersPlaced); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(b.OrdersPlaced); got != 0 {
		t.Fatalf("registries share state: %v", got)
	}
}

func TestHandler_ExposesCheckoutCounters(t *testing.T) {
	m := New()
	m.SignatureFailures.WithLabelValues("verify").Inc()

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `storefront_checkout_signature_failures_total{source="verify"} 1`) {
		t.Fatalf("counter missing from exposition")
	}
}
