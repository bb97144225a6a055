package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/feature-aggregator/internal/core/observability"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, p.Path(), nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestProvider_RegistersStandardCollectors_AndBuildInfo(t *testing.T) {
	p := Init(Config{Enabled: true, Build: BuildInfo{Version: "test", Revision: "r", BuildDate: "now"}})
	t.Cleanup(func() { observability.Init(nil, false) })

	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "smoke"})
	p.Register(g)
	g.Set(42)

	if n := testutil.CollectAndCount(g); n == 0 {
		t.Fatalf("expected at least 1 sample from test_gauge, got %d", n)
	}
	if p.Path() != DefaultPath {
		t.Fatalf("path=%q want %q", p.Path(), DefaultPath)
	}

	body := scrape(t, p)
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go_goroutines in payload; got:\n%s", body)
	}
	if !strings.Contains(body, "process_cpu_seconds_total") && !strings.Contains(body, "process_start_time_seconds") {
		t.Fatalf("expected process_* metrics in payload; got:\n%s", body)
	}
	if !strings.Contains(body, `feature_aggregator_build_info{`) {
		t.Fatalf("expected feature_aggregator_build_info in payload; got:\n%s", body)
	}
}

func TestProvider_BindsServiceCollectors(t *testing.T) {
	p := Init(Config{Enabled: true})
	t.Cleanup(func() { observability.Init(nil, false) })

	observability.IncAggregation("centroid", "primary")
	observability.ObserveHTTP("GET", "/{layer}/features", 200, 0.002)

	body := scrape(t, p)
	for _, want := range []string{
		`feature_aggregations_total{metric="centroid",path="primary"} 1`,
		`http_requests_total{method="GET",route="/{layer}/features",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}
