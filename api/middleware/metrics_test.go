package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nextmed-labs/trustledger/pkg/metrics"
)

func TestMetricsLabelsByRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	httpMetrics := metrics.NewHTTPMetrics(reg)
	paths := metrics.NewPathStats()

	r := chi.NewRouter()
	r.Use(Metrics(httpMetrics, paths))
	r.Get("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))
	}

	snap := paths.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected one route entry, got %+v", snap)
	}
	if snap[0].Path != "/jobs/{id}" || snap[0].Count != 2 || snap[0].Error != 2 {
		t.Fatalf("unexpected stat %+v", snap[0])
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected http metrics to be collected")
	}
}

func TestStatusRecorderDefaultsToOK(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	if _, err := rec.Write([]byte("ok")); err != nil {
		t.Fatalf("write: %v", err)
	}
	rec.WriteHeader(http.StatusTeapot)
	if rec.Status() != http.StatusOK {
		t.Fatalf("expected first status to stick, got %d", rec.Status())
	}
}
