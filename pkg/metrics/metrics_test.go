package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistry_Values(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("filecompare_runs_total", map[string]string{"state": "completed"}, 1)
	r.IncCounter("filecompare_runs_total", map[string]string{"state": "completed"}, 2)
	r.IncCounter("filecompare_runs_total", map[string]string{"state": "cancelled"}, 1)
	r.SetGauge("filecompare_runs_active", nil, 2)
	r.SetGauge("filecompare_runs_active", nil, 1)
	r.ObserveHistogram("filecompare_run_seconds", nil, 0.5)
	r.ObserveHistogram("filecompare_run_seconds", nil, 1.5)

	if v := testutil.ToFloat64(r.counters["filecompare_runs_total"].WithLabelValues("completed")); v != 3 {
		t.Fatalf("completed runs = %v, want 3", v)
	}
	if v := testutil.ToFloat64(r.counters["filecompare_runs_total"].WithLabelValues("cancelled")); v != 1 {
		t.Fatalf("cancelled runs = %v, want 1", v)
	}
	if v := testutil.ToFloat64(r.gauges["filecompare_runs_active"].WithLabelValues()); v != 1 {
		t.Fatalf("active runs = %v, want 1", v)
	}
	if n := testutil.CollectAndCount(r.histograms["filecompare_run_seconds"]); n != 1 {
		t.Fatalf("histogram series = %d, want 1", n)
	}

	want := `
# HELP filecompare_runs_total Finished comparisons by operation and terminal state.
# TYPE filecompare_runs_total counter
filecompare_runs_total{state="cancelled"} 1
filecompare_runs_total{state="completed"} 3
`
	if err := testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(want), "filecompare_runs_total"); err != nil {
		t.Fatal(err)
	}
}

func TestRegistry_LabelEscaping(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("filecompare_row_errors_total", map[string]string{"file": "naïve\n\"x\""}, 1)

	want := `
# HELP filecompare_row_errors_total Unreadable rows skipped, by file.
# TYPE filecompare_row_errors_total counter
filecompare_row_errors_total{file="naïve\n\"x\""} 1
`
	if err := testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(want), "filecompare_row_errors_total"); err != nil {
		t.Fatal(err)
	}
}

func TestRegistry_MismatchedLabelsDropped(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("c", map[string]string{"a": "1"}, 1)
	r.IncCounter("c", map[string]string{"b": "1"}, 5)
	r.IncCounter("c", nil, 5)

	if v := testutil.ToFloat64(r.counters["c"].WithLabelValues("1")); v != 1 {
		t.Fatalf("expected 1, got %v", v)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.IncCounter("c", map[string]string{"a": "1", "b": "2"}, 1)
			}
		}()
	}
	wg.Wait()
	if v := testutil.ToFloat64(r.counters["c"].WithLabelValues("1", "2")); v != 1000 {
		t.Fatalf("expected 1000, got %v", v)
	}
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.SetGauge("filecompare_runs_active", nil, 1)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "filecompare_runs_active 1") {
		t.Fatalf("unexpected body:\n%s", body)
	}
}

func TestNop(t *testing.T) {
	Nop.IncCounter("x", nil, 1)
	Nop.SetGauge("x", nil, 1)
	Nop.ObserveHistogram("x", nil, 1)
}
