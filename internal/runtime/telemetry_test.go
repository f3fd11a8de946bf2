package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

func TestSpanExporterSelection(t *testing.T) {
	exp, name, err := spanExporter(context.Background(), config.TelemetryConfig{})
	if err != nil || exp != nil || name != "none" {
		t.Fatalf("expected no exporter, got %v %q %v", exp, name, err)
	}
	exp, name, err = spanExporter(context.Background(), config.TelemetryConfig{TraceStdout: true})
	if err != nil || exp == nil || name != "stderr" {
		t.Fatalf("expected stderr exporter, got %v %q %v", exp, name, err)
	}
	_ = exp.Shutdown(context.Background())
}

func TestTelemetryServesPrometheusMetrics(t *testing.T) {
	cfg := config.Default()
	tel, err := newTelemetry(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("new telemetry: %v", err)
	}
	t.Cleanup(func() { _ = tel.shutdown(context.Background()) })
	if tel.metrics == nil {
		t.Fatalf("expected metrics handler")
	}

	counter, err := otel.Meter("dictation-test").Int64Counter("dictation_test_cycles")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(context.Background(), 3)

	rec := httptest.NewRecorder()
	tel.metrics.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "dictation_test_cycles") {
		t.Fatalf("expected counter in scrape, got %q", rec.Body.String())
	}
}
