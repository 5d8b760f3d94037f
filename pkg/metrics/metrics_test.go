package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestSchedulerMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulerMetrics(reg)
	job := "outbox-tick"
	m.ObserveDuration(job, 250*time.Millisecond)
	m.IncSuccess(job)
	m.IncFailure(job)
	m.IncSkipped("overlap")

	mfs := gather(t, reg)
	expectCounter(t, mfs, "scheduler_job_success_total", map[string]string{"job": job}, 1)
	expectCounter(t, mfs, "scheduler_job_failure_total", map[string]string{"job": job}, 1)
	expectCounter(t, mfs, "scheduler_cycles_skipped_total", map[string]string{"reason": "overlap"}, 1)

	mf := findMetricFamily(mfs, "scheduler_job_duration_seconds")
	if mf == nil || mf.GetMetric()[0].GetHistogram().GetSampleSum() <= 0 {
		t.Fatalf("expected duration samples")
	}
}

func TestOutboxMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.ObserveStep("anchor", "ok")
	m.ObserveStep("anchor", "ok")
	m.ObserveStep("auditConfirm", "error")
	m.ObserveTransition("compensated")
	m.ObserveTick(10 * time.Millisecond)

	mfs := gather(t, reg)
	expectCounter(t, mfs, "outbox_step_total", map[string]string{"step": "anchor", "result": "ok"}, 2)
	expectCounter(t, mfs, "outbox_step_total", map[string]string{"step": "auditConfirm", "result": "error"}, 1)
	expectCounter(t, mfs, "outbox_jobs_transitions_total", map[string]string{"status": "compensated"}, 1)
	if mf := findMetricFamily(mfs, "outbox_tick_duration_seconds"); mf == nil || mf.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("expected one tick sample")
	}
}

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	m.Observe("GET", "/api/v1/audit/events", 200, time.Millisecond)
	m.Observe("GET", "", 404, time.Millisecond)

	mfs := gather(t, reg)
	expectCounter(t, mfs, "http_requests_total", map[string]string{"method": "GET", "route": "/api/v1/audit/events", "status": "200"}, 1)
	expectCounter(t, mfs, "http_requests_total", map[string]string{"method": "GET", "route": "unknown", "status": "404"}, 1)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var s *SchedulerMetrics
	s.IncSuccess("x")
	s.IncSkipped("overlap")
	var o *OutboxMetrics
	o.ObserveStep("anchor", "ok")
	o.ObserveTick(time.Second)
	NewOutboxMetrics(nil).ObserveTransition("failed")
	var h *HTTPMetrics
	h.Observe("GET", "/", 200, time.Second)
}

func gather(t *testing.T, reg *prometheus.Registry) []*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	return mfs
}

func expectCounter(t *testing.T, mfs []*dto.MetricFamily, name string, labels map[string]string, want float64) {
	t.Helper()
	got, err := fetchCounterValue(mfs, name, labels)
	if err != nil {
		t.Fatalf("fetch %s: %v", name, err)
	}
	if got != want {
		t.Fatalf("expected %s=%v, got %v", name, want, got)
	}
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok {
			if pair.GetValue() != v {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}

func TestPathStatsSnapshot(t *testing.T) {
	stats := NewPathStats()
	stats.Record("/api/v1/ops/outbox/jobs", 200, 10*time.Millisecond)
	stats.Record("/api/v1/ops/outbox/jobs", 404, 30*time.Millisecond)
	stats.Record("/api/v1/ops/outbox/jobs", 201, 20*time.Millisecond)
	stats.Record("", 500, time.Millisecond)

	snap := stats.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 paths, got %+v", snap)
	}
	jobs := snap[0]
	if jobs.Path != "/api/v1/ops/outbox/jobs" {
		t.Fatalf("unexpected ordering %+v", snap)
	}
	if jobs.Count != 3 || jobs.Success != 2 || jobs.Error != 1 {
		t.Fatalf("unexpected counters %+v", jobs)
	}
	if jobs.AvgMs != 20 || jobs.MinMs != 10 || jobs.MaxMs != 30 {
		t.Fatalf("unexpected latency %+v", jobs)
	}
	if jobs.SuccessRate != 66.67 {
		t.Fatalf("expected 66.67 success rate, got %v", jobs.SuccessRate)
	}
	if snap[1].Path != "unknown" || snap[1].Error != 1 {
		t.Fatalf("unexpected fallback path %+v", snap[1])
	}

	var nilStats *PathStats
	nilStats.Record("/x", 200, time.Millisecond)
	if len(nilStats.Snapshot()) != 0 {
		t.Fatalf("nil stats must be empty")
	}
}
