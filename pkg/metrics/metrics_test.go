package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCounterAndGauge(t *testing.T) {
	r := New()
	c := r.Counter("listings_dealers_total", "Dealers scraped")
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Fatalf("counter = %d, want 5", c.Value())
	}
	if r.Counter("listings_dealers_total", "") != c {
		t.Fatal("same name should return the same counter")
	}

	g := r.Gauge("listings_last_run_timestamp", "")
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 9 {
		t.Fatalf("gauge = %d, want 9", g.Value())
	}
}

func TestKindMismatchPanics(t *testing.T) {
	r := New()
	r.Counter("x_total", "")
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when reusing a counter name as a gauge")
		}
	}()
	r.Gauge("x_total", "")
}

func TestHistogramBuckets(t *testing.T) {
	r := New()
	h := r.Histogram("scrape_seconds", "", []float64{1, 0.1, 0.5})
	for _, v := range []float64{0.05, 0.1, 0.3, 0.8, 2} {
		h.Observe(v)
	}
	out := r.Render()
	for _, want := range []string{
		`scrape_seconds_bucket{le="0.1"} 2`,
		`scrape_seconds_bucket{le="0.5"} 3`,
		`scrape_seconds_bucket{le="1"} 4`,
		`scrape_seconds_bucket{le="+Inf"} 5`,
		`scrape_seconds_count 5`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}

	h.Since(time.Now().Add(-time.Second))
	if h.Count() != 6 {
		t.Fatalf("count = %d, want 6", h.Count())
	}
}

func TestWithLabelsAndBaseName(t *testing.T) {
	got := WithLabels("listings_dealers_total", "group", "template-cms", "status", "ok")
	want := `listings_dealers_total{group="template-cms",status="ok"}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if WithLabels("bare") != "bare" || WithLabels("odd", "k") != "odd" {
		t.Fatal("missing or odd labels should leave the name unchanged")
	}
	if BaseName(got) != "listings_dealers_total" {
		t.Fatalf("BaseName = %q", BaseName(got))
	}
}

func TestRenderLabelledHistogram(t *testing.T) {
	r := New()
	r.Counter(WithLabels("records_total", "group", "special"), "Records kept").Add(3)
	r.Counter(WithLabels("records_total", "group", "custom-rendered"), "").Add(7)
	r.Histogram(WithLabels("dealer_seconds", "group", "special"), "Dealer time", []float64{1}).Observe(0.5)

	out := r.Render()
	for _, want := range []string{
		"# HELP records_total Records kept",
		"# TYPE records_total counter",
		`records_total{group="custom-rendered"} 7`,
		`records_total{group="special"} 3`,
		"# TYPE dealer_seconds histogram",
		`dealer_seconds_bucket{le="1",group="special"} 1`,
		`dealer_seconds_sum{group="special"} 0.5`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Index(out, "custom-rendered") > strings.Index(out, `group="special"} 3`) {
		t.Error("series should render sorted")
	}
}

func TestServerRoutes(t *testing.T) {
	r := New()
	r.Counter("up_total", "").Inc()
	srv := NewServer(":0", r, nil, map[string]http.Handler{
		"/runs/last": http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{}`)) }),
	})

	for path, want := range map[string]string{"/metrics": "up_total 1", "/healthz": "ok", "/runs/last": "{}"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("%s: body %q lacks %q", path, rec.Body.String(), want)
		}
	}
	if ct := func() string {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return rec.Header().Get("Content-Type")
	}(); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type %q", ct)
	}
}
