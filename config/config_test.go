package config

import (
	"testing"
	"time"
)

func TestExternalNormalize(t *testing.T) {
	cfg := ExternalConfig{}

	norm := cfg.Normalize()
	if norm.MaxSources != 5 {
		t.Fatalf("expected max sources default 5, got %d", norm.MaxSources)
	}
	if norm.ChunkSize != 3 {
		t.Fatalf("expected chunk size default 3, got %d", norm.ChunkSize)
	}
	if norm.ChunkDelay != 2*time.Second {
		t.Fatalf("expected chunk delay default 2s, got %s", norm.ChunkDelay)
	}
	if norm.RequestTimeout != 30*time.Second {
		t.Fatalf("expected request timeout default 30s, got %s", norm.RequestTimeout)
	}

	set := ExternalConfig{MaxSources: 8, ChunkSize: 2, ChunkDelay: time.Second, RequestTimeout: 10 * time.Second}
	got := set.Normalize()
	if got.MaxSources != 8 || got.ChunkSize != 2 || got.ChunkDelay != time.Second || got.RequestTimeout != 10*time.Second {
		t.Fatalf("expected explicit values preserved, got %+v", got)
	}
}

func TestSharedMemoryValidate(t *testing.T) {
	mem := SharedMemoryConfig{Backend: "memory"}
	if err := mem.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	redis := SharedMemoryConfig{Backend: "redis", Redis: RedisConfig{Host: "localhost", Port: "6379"}}
	if err := redis.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	missing := SharedMemoryConfig{Backend: "redis"}
	if err := missing.Validate(); err == nil {
		t.Fatalf("expected validation error for missing redis host")
	}

	unknown := SharedMemoryConfig{Backend: "etcd"}
	if err := unknown.Validate(); err == nil {
		t.Fatalf("expected validation error for unknown backend")
	}
}

func TestCollectionsValidate(t *testing.T) {
	ok := CollectionsConfig{DefaultRelevance: 0.8}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	bad := CollectionsConfig{DefaultRelevance: 1.5}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected validation error for relevance out of range")
	}
}

func TestTelemetryValidate(t *testing.T) {
	cfg := TelemetryConfig{Enabled: true}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing metrics port")
	}

	cfg.MetricsPort = 9090
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestLLMEnabled(t *testing.T) {
	if (LLMConfig{}).Enabled() {
		t.Fatalf("expected provider disabled without api key")
	}
	if !(LLMConfig{APIKey: "sk-test"}).Enabled() {
		t.Fatalf("expected provider enabled with api key")
	}
}
