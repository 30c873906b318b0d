package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterAndGauge(t *testing.T) {
	reg := New()
	c := reg.Counter("requests_total", "Total requests")
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Fatalf("counter = %d", c.Value())
	}

	g := reg.Gauge("queue_depth", "Queue depth")
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 9 {
		t.Fatalf("gauge = %d", g.Value())
	}
}

func TestRegistry_SameNameSameMetric(t *testing.T) {
	reg := New()
	a := reg.Counter("hits", "")
	b := reg.Counter("hits", "")
	a.Inc()
	if b.Value() != 1 {
		t.Fatal("expected same underlying counter")
	}
}

func TestHistogramBuckets(t *testing.T) {
	reg := New()
	h := reg.Histogram("latency_seconds", "Latency", []float64{0.1, 1, 10})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(5)
	h.Observe(50) // beyond the last bucket, only counted in +Inf

	out := reg.Render()
	if !strings.Contains(out, `latency_seconds_bucket{le="0.1"} 1`) {
		t.Fatalf("missing 0.1 bucket:\n%s", out)
	}
	if !strings.Contains(out, `latency_seconds_bucket{le="1"} 2`) {
		t.Fatalf("missing cumulative 1 bucket:\n%s", out)
	}
	if !strings.Contains(out, `latency_seconds_bucket{le="+Inf"} 4`) {
		t.Fatalf("missing +Inf bucket:\n%s", out)
	}
	if !strings.Contains(out, "latency_seconds_count 4") {
		t.Fatalf("missing count:\n%s", out)
	}
}

func TestRender_TextFormat(t *testing.T) {
	reg := New()
	reg.Counter("searches_total", "Total searches").Inc()
	reg.Gauge("vehicles", "Stored vehicles").Set(12)

	out := reg.Render()
	for _, want := range []string{
		"# HELP searches_total Total searches",
		"# TYPE searches_total counter",
		"searches_total 1",
		"# TYPE vehicles gauge",
		"vehicles 12",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestWithLabels(t *testing.T) {
	got := WithLabels("docs_total", "source", "avito")
	if got != `docs_total{source="avito"}` {
		t.Fatalf("WithLabels = %q", got)
	}
	// Odd pairs fall back to the bare name.
	if got := WithLabels("docs_total", "source"); got != "docs_total" {
		t.Fatalf("odd pairs = %q", got)
	}
}

func TestLabeledMetricsShareTypeHeader(t *testing.T) {
	reg := New()
	reg.Counter(WithLabels("docs_total", "source", "avito"), "Docs").Inc()
	reg.Counter(WithLabels("docs_total", "source", "drom"), "Docs").Add(2)

	out := reg.Render()
	if strings.Count(out, "# TYPE docs_total counter") != 1 {
		t.Fatalf("expected one TYPE line:\n%s", out)
	}
	if !strings.Contains(out, `docs_total{source="avito"} 1`) ||
		!strings.Contains(out, `docs_total{source="drom"} 2`) {
		t.Fatalf("missing labeled lines:\n%s", out)
	}
}

func TestHandler(t *testing.T) {
	reg := New()
	reg.Counter("up", "").Inc()

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "up 1") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}
