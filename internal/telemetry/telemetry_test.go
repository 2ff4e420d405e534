package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/zoernert/vsi-sub004/config"
)

func TestRecordAgentEventAverages(t *testing.T) {
	tel := NewTelemetry(config.TelemetryConfig{Enabled: true, MetricsPort: 9090})

	tel.RecordAgentEvent(context.Background(), AgentEvent{AgentType: "discovery", Duration: 2 * time.Second, Success: true})
	tel.RecordAgentEvent(context.Background(), AgentEvent{AgentType: "discovery", Duration: 4 * time.Second, Success: false})

	m := tel.GetMetrics()
	if m.TotalRuns != 2 || m.SuccessfulRuns != 1 || m.FailedRuns != 1 {
		t.Fatalf("unexpected run counters: %+v", m)
	}
	if m.AverageRunTime != 3*time.Second {
		t.Fatalf("expected running mean 3s, got %v", m.AverageRunTime)
	}
	if m.AgentExecutions["discovery"] != 2 {
		t.Fatalf("expected 2 discovery executions, got %d", m.AgentExecutions["discovery"])
	}
	if m.AgentSuccessRates["discovery"] != 0.5 {
		t.Fatalf("expected success rate 0.5, got %.2f", m.AgentSuccessRates["discovery"])
	}
	if m.AgentAverageTimes["discovery"] != 3*time.Second {
		t.Fatalf("expected agent average 3s, got %v", m.AgentAverageTimes["discovery"])
	}
}

func TestDisabledTelemetryRecordsNothing(t *testing.T) {
	tel := NewTelemetry(config.TelemetryConfig{Enabled: false})

	tel.RecordAgentEvent(context.Background(), AgentEvent{AgentType: "analysis", Duration: time.Second, Success: true})
	tel.RecordExternalRequest("search", true, time.Second)

	m := tel.GetMetrics()
	if m.TotalRuns != 0 || len(m.ExternalRequests) != 0 {
		t.Fatalf("expected no metrics recorded while disabled, got %+v", m)
	}
}

func TestGetMetricsReturnsCopy(t *testing.T) {
	tel := NewTelemetry(config.TelemetryConfig{Enabled: true, MetricsPort: 9090})
	tel.RecordExternalRequest("browse", true, time.Second)

	m := tel.GetMetrics()
	m.ExternalRequests["browse"] = 99

	if got := tel.GetMetrics().ExternalRequests["browse"]; got != 1 {
		t.Fatalf("snapshot mutation leaked into telemetry state: %d", got)
	}
}
