package otel

import (
	"context"
	"testing"

	"tokenexchange/config"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders("authorization=Bearer abc, x-tenant = exchange,broken,=nokey,")
	if len(got) != 2 || got["authorization"] != "Bearer abc" || got["x-tenant"] != "exchange" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestInitWithoutExporters(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing service name to fail")
	}
	cfg := FromConfig(config.Telemetry{ServiceName: "exchanged", Headers: map[string]string{"k": "v"}})
	if cfg.Headers["k"] != "v" || cfg.Traces || cfg.Metrics {
		t.Fatalf("unexpected mapped config %+v", cfg)
	}
	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
