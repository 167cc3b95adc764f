package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(BusDropped.WithLabelValues("harrier.test"))
	BusDropped.WithLabelValues("harrier.test").Inc()
	if got := testutil.ToFloat64(BusDropped.WithLabelValues("harrier.test")); got != before+1 {
		t.Errorf("expected %v, got %v", before+1, got)
	}
}

func TestHandler(t *testing.T) {
	GateDecisions.WithLabelValues("SEND_OFFER", "allowed").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "harrier_enforcement_decisions_total") {
		t.Error("expected enforcement metric in exposition")
	}
}
