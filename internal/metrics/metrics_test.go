package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric, labels) {
				return metric
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return nil
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, pair := range metric.GetLabel() {
		if value, ok := labels[pair.GetName()]; ok && value == pair.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

func TestRecordPassCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := NewCollector(reg)

	collector.RecordPass("pages", "success", 2*time.Second)
	collector.RecordPass("pages", "success", time.Second)
	collector.RecordPass("pages", "failed", time.Second)

	if value := findMetric(t, reg, "shopsync_passes_total", map[string]string{"kind": "pages", "outcome": "success"}).GetCounter().GetValue(); value != 2 {
		t.Fatalf("expected 2 successful passes, got %v", value)
	}
	histogram := findMetric(t, reg, "shopsync_pass_duration_seconds", map[string]string{"kind": "pages"}).GetHistogram()
	if histogram.GetSampleCount() != 3 || histogram.GetSampleSum() != 4 {
		t.Fatalf("unexpected duration histogram: count %d sum %v", histogram.GetSampleCount(), histogram.GetSampleSum())
	}
}

func TestRecordCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := NewCollector(reg)

	collector.RecordRecordsSaved("articles", 5)
	collector.RecordRecordsDeleted("articles", 2)
	collector.RecordFetchTruncated("articles")
	collector.RecordPropagationFailure("articles", "delete")

	checks := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{name: "shopsync_records_saved_total", labels: map[string]string{"kind": "articles"}, want: 5},
		{name: "shopsync_records_deleted_total", labels: map[string]string{"kind": "articles"}, want: 2},
		{name: "shopsync_fetch_truncated_total", labels: map[string]string{"kind": "articles"}, want: 1},
		{name: "shopsync_propagation_failures_total", labels: map[string]string{"kind": "articles", "operation": "delete"}, want: 1},
	}
	for _, check := range checks {
		if value := findMetric(t, reg, check.name, check.labels).GetCounter().GetValue(); value != check.want {
			t.Fatalf("%s = %v, want %v", check.name, value, check.want)
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg).RecordFetchTruncated("pages")

	recorder := httptest.NewRecorder()
	Handler(reg).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body, _ := io.ReadAll(recorder.Body)
	if !strings.Contains(string(body), "shopsync_fetch_truncated_total") {
		t.Fatalf("expected metric in scrape output")
	}
}
