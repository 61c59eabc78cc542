package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/blesim/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("BLESIM_TRACING_ENABLED", "TRUE")
	t.Setenv("BLESIM_TRACING_EXPORTER", "OTLP")
	t.Setenv("BLESIM_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("BLESIM_TRACING_SERVICE_NAME", "")
	t.Setenv("BLESIM_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ServiceName != "blesim" || cfg.Endpoint != "collector:4317" {
		t.Fatalf("cfg = %+v", cfg)
	}

	t.Setenv("BLESIM_TRACING_SAMPLE_RATIO", "7")
	if got := TracingConfigFromEnv().SampleRatio; got != 1 {
		t.Fatalf("out-of-range ratio gave %v, want default 1", got)
	}
}

func TestInitTracingStdoutExportsSimulatedTimestamps(t *testing.T) {
	var out bytes.Buffer
	ctx, _ := logging.WithRunLogger(context.Background(), logging.Noop())
	shutdown, err := InitTracing(ctx, TracingConfig{
		Enabled:     true,
		ServiceName: "blesim-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Output:      &out,
	}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() { _, _ = InitTracing(context.Background(), TracingConfig{}, nil) })

	simStart := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	_, span := otel.Tracer("test").Start(ctx, "linklayer.TransmitWindow", trace.WithTimestamp(simStart))
	span.End(trace.WithTimestamp(simStart.Add(5 * time.Millisecond)))

	ShutdownWithTimeout(context.Background(), shutdown, nil)
	body := out.String()
	for _, want := range []string{"linklayer.TransmitWindow", "blesim-test", "blesim.run_id", "2024-01-01T00:00:01"} {
		if !strings.Contains(body, want) {
			t.Fatalf("exported spans missing %q:\n%s", want, body)
		}
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
}
