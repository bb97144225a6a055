package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/feature-aggregator/internal/aggregate"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/config"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/health"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/model"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/observability"
	"github.com/mohammed-shakir/feature-aggregator/internal/metrics"
	"github.com/mohammed-shakir/feature-aggregator/internal/query"
)

type stubService struct{}

func (stubService) Attributes(context.Context, string) ([]string, error) {
	return []string{"class", "geometry"}, nil
}

func (stubService) Aggregate(_ context.Context, _, attribute string, m model.Metric) (*query.Outcome, error) {
	return &query.Outcome{Result: &aggregate.Result{Attribute: attribute, Metric: m, CRS: "EPSG:31983", Groups: []aggregate.Group{}}}, nil
}

func (stubService) MeasureClass(_ context.Context, _, attribute, _ string) (aggregate.ClassMeasure, error) {
	return aggregate.ClassMeasure{Attribute: attribute, CRS: "EPSG:31983"}, nil
}

func testConfig() config.Config {
	return config.Config{
		Addr: "127.0.0.1:0",
		Server: config.ServerConfig{
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			ShutdownTimeout: time.Second,
			CORSOrigins:     "*",
		},
		Dataset: config.DatasetConfig{Timeout: time.Second},
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestNewHandler_Routes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	prov := metrics.Init(metrics.Config{Enabled: true})
	t.Cleanup(func() { observability.Init(nil, false) })
	h := NewHandler(testConfig(), logger, Deps{
		Service: stubService{},
		Metrics: prov,
		Ready: []health.Check{
			{Name: "dataset", Probe: func(context.Context) error { return errors.New("missing") }},
		},
	})

	if rr := get(t, h, "/healthz"); rr.Code != http.StatusOK {
		t.Fatalf("healthz=%d", rr.Code)
	}
	if rr := get(t, h, "/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz=%d want 503", rr.Code)
	}
	if rr := get(t, h, "/upt/area/class"); rr.Code != http.StatusOK {
		t.Fatalf("aggregate=%d body=%s", rr.Code, rr.Body)
	}
	if rr := get(t, h, "/upt/features"); rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}

	rr := get(t, h, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "feature_aggregator_build_info") {
		t.Fatalf("build info not exposed")
	}
}

func TestNewHandler_MetricsDisabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(testConfig(), logger, Deps{
		Service: stubService{},
		Metrics: metrics.Init(metrics.Config{Enabled: false}),
	})
	// nothing else matches a single-segment path
	if rr := get(t, h, "/metrics"); rr.Code != http.StatusNotFound {
		t.Fatalf("metrics disabled=%d want 404", rr.Code)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, testConfig(), logger, Deps{Service: stubService{}}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}
