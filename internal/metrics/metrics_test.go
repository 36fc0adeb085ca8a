package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveOperation(t *testing.T) {
	before := testutil.ToFloat64(ledgerOperations.WithLabelValues("adjust", "ok"))
	ObserveOperation("adjust", "ok")
	after := testutil.ToFloat64(ledgerOperations.WithLabelValues("adjust", "ok"))
	if after-before != 1 {
		t.Fatalf("counter delta = %v, want 1", after-before)
	}
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{200: "2xx", 302: "3xx", 404: "4xx", 503: "5xx"}
	for status, want := range cases {
		if got := statusClass(status); got != want {
			t.Fatalf("statusClass(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveHTTP(http.MethodGet, "/api/user/me", http.StatusOK, 10*time.Millisecond)
	SetDrift(0)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"escobar_http_requests_total", "escobar_ledger_reconcile_drifted_members"} {
		if !strings.Contains(body, name) {
			t.Fatalf("metrics output does not contain %s", name)
		}
	}
}
