package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveStageDuration(StageBuild, 150*time.Millisecond)
	pr.IncStageResult(StageBuild, ResultSuccess)
	pr.IncStageResult(StageBuild, ResultFailed)
	pr.IncStageResult(StageBuild, ResultFailed)
	pr.ObserveCycleDuration(500 * time.Millisecond)
	pr.IncMirrorChange()
	pr.IncSessionStarted()
	pr.SetActiveWorkers(4)
	pr.AddCorpusCopied(7)
	pr.AddCorpusCopied(-1)
	pr.SetCorpusSize(42)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected metrics, got none")
	}
	if got := sample(mfs, "cifuzz_stage_results_total", "result", "failed"); got != 2 {
		t.Fatalf("failed builds = %v, want 2", got)
	}
	if got := sample(mfs, "cifuzz_corpus_entries_copied_total", "", ""); got != 7 {
		t.Fatalf("corpus copied = %v, want 7", got)
	}
	if got := sample(mfs, "cifuzz_active_workers", "", ""); got != 4 {
		t.Fatalf("workers = %v, want 4", got)
	}
}

// sample returns the first counter or gauge value of the named family,
// optionally filtered by one label.
func sample(mfs []*dto.MetricFamily, name, label, value string) float64 {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label != "" && !hasLabel(m, label, value) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return -1
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestHTTPHandler(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.SetCorpusSize(3)

	srv := httptest.NewServer(HTTPHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(body), "cifuzz_corpus_size 3") {
		t.Fatalf("corpus size missing from scrape:\n%s", body)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.IncSessionStarted()
	pr.SetActiveWorkers(1)
	pr.ObserveStageDuration(StageSync, time.Second)
}
