package otel

import (
	"context"
	"testing"
)

func envOf(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestFromEnvDisabledWithoutEndpoint(t *testing.T) {
	cfg := FromEnv("lendingd", "test", envOf(nil))
	if cfg.Traces || cfg.Metrics {
		t.Fatalf("telemetry should be off without an endpoint: %+v", cfg)
	}
	if !cfg.Insecure {
		t.Fatalf("insecure should default to true")
	}
}

func TestFromEnvReadsExporterSettings(t *testing.T) {
	cfg := FromEnv("lendingd", "prod", envOf(map[string]string{
		"OTEL_EXPORTER_OTLP_ENDPOINT": " collector:4318 ",
		"OTEL_EXPORTER_OTLP_HEADERS":  "authorization=Bearer abc, x-team = gold",
		"OTEL_EXPORTER_OTLP_INSECURE": "false",
		"OTEL_TRACES_SAMPLER_ARG":     "0.25",
	}))
	if cfg.Endpoint != "collector:4318" || cfg.Insecure || !cfg.Traces || !cfg.Metrics {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.SampleRatio != 0.25 {
		t.Fatalf("unexpected sample ratio %v", cfg.SampleRatio)
	}
	if cfg.Headers["authorization"] != "Bearer abc" || cfg.Headers["x-team"] != "gold" {
		t.Fatalf("unexpected headers %v", cfg.Headers)
	}

	off := FromEnv("lendingd", "", envOf(map[string]string{
		"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4318",
		"OTEL_SDK_DISABLED":           "true",
	}))
	if off.Traces || off.Metrics {
		t.Fatalf("sdk disabled should turn exporters off")
	}
}

func TestParseHeadersSkipsMalformedPairs(t *testing.T) {
	headers := ParseHeaders("a=1,,novalue,=x, b = 2 ")
	if len(headers) != 2 || headers["a"] != "1" || headers["b"] != "2" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestInitValidation(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
	if _, err := Init(context.Background(), Config{ServiceName: "lendingd", SampleRatio: 2}); err == nil {
		t.Fatalf("expected error for ratio above one")
	}
	shutdown, err := Init(context.Background(), Config{ServiceName: "lendingd"})
	if err != nil {
		t.Fatalf("init without exporters: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
