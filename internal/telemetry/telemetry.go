package telemetry

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoernert/vsi-sub004/config"
)

// Telemetry provides monitoring for agent runs and external content services
type Telemetry struct {
	config  config.TelemetryConfig
	logger  *log.Logger
	metrics *Metrics
	mu      sync.RWMutex

	registry         *prometheus.Registry
	agentRuns        *prometheus.CounterVec
	agentDuration    *prometheus.HistogramVec
	externalRequests *prometheus.CounterVec
	searchCache      *prometheus.CounterVec
	browserSessions  prometheus.Gauge
}

// Metrics holds various performance metrics
type Metrics struct {
	// Run metrics
	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
	AverageRunTime time.Duration

	// Agent metrics
	AgentExecutions   map[string]int64
	AgentSuccessRates map[string]float64
	AgentAverageTimes map[string]time.Duration

	// External service metrics
	ExternalRequests map[string]int64
}

// AgentEvent represents an agent execution event
type AgentEvent struct {
	ID         string
	AgentType  string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Success    bool
	Error      string
	Sources    int
	Confidence float64
}

// NewTelemetry creates a new telemetry instance
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			AgentExecutions:   make(map[string]int64),
			AgentSuccessRates: make(map[string]float64),
			AgentAverageTimes: make(map[string]time.Duration),
			ExternalRequests:  make(map[string]int64),
		},
		registry: registry,
		agentRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "research_agent_runs_total",
			Help: "Agent executions broken down by agent type and outcome.",
		}, []string{"agent", "status"}),
		agentDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "research_agent_run_duration_seconds",
			Help:    "Agent execution duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent"}),
		externalRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "external_content_requests_total",
			Help: "External content operations broken down by operation and outcome.",
		}, []string{"operation", "status"}),
		searchCache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "web_search_cache_events_total",
			Help: "Search cache hits and misses.",
		}, []string{"outcome"}),
		browserSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "browser_sessions_active",
			Help: "Currently open browser sessions.",
		}),
	}

	if cfg.Enabled {
		go t.startMetricsCollection()
	}

	return t
}

// Tracer returns a tracer from the global provider. When no SDK is installed
// the returned tracer is a no-op, so callers can always create spans.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Handler exposes the private prometheus registry for mounting on a server.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// RecordAgentEvent records an agent execution event
func (t *Telemetry) RecordAgentEvent(ctx context.Context, event AgentEvent) {
	if !t.config.Enabled {
		return
	}

	status := "success"
	if !event.Success {
		status = "failure"
	}
	t.agentRuns.WithLabelValues(event.AgentType, status).Inc()
	t.agentDuration.WithLabelValues(event.AgentType).Observe(event.Duration.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalRuns++
	if event.Success {
		t.metrics.SuccessfulRuns++
	} else {
		t.metrics.FailedRuns++
	}

	// Update average run time
	if t.metrics.TotalRuns == 1 {
		t.metrics.AverageRunTime = event.Duration
	} else {
		total := t.metrics.AverageRunTime * time.Duration(t.metrics.TotalRuns-1)
		t.metrics.AverageRunTime = (total + event.Duration) / time.Duration(t.metrics.TotalRuns)
	}

	// Update agent metrics
	t.metrics.AgentExecutions[event.AgentType]++

	currentSuccess := t.metrics.AgentSuccessRates[event.AgentType] * float64(t.metrics.AgentExecutions[event.AgentType]-1)
	if event.Success {
		currentSuccess += 1.0
	}
	t.metrics.AgentSuccessRates[event.AgentType] = currentSuccess / float64(t.metrics.AgentExecutions[event.AgentType])

	currentAvg := t.metrics.AgentAverageTimes[event.AgentType]
	executions := t.metrics.AgentExecutions[event.AgentType]
	if executions == 1 {
		t.metrics.AgentAverageTimes[event.AgentType] = event.Duration
	} else {
		total := currentAvg * time.Duration(executions-1)
		t.metrics.AgentAverageTimes[event.AgentType] = (total + event.Duration) / time.Duration(executions)
	}

	t.logger.Printf("Agent Event: Type=%s, Success=%t, Duration=%v, Sources=%d, Confidence=%.2f",
		event.AgentType, event.Success, event.Duration, event.Sources, event.Confidence)
}

// RecordExternalRequest records an external content service call
func (t *Telemetry) RecordExternalRequest(operation string, success bool, duration time.Duration) {
	if !t.config.Enabled {
		return
	}

	status := "success"
	if !success {
		status = "failure"
	}
	t.externalRequests.WithLabelValues(operation, status).Inc()

	t.mu.Lock()
	t.metrics.ExternalRequests[operation]++
	t.mu.Unlock()
}

// RecordCacheEvent records a search cache hit or miss
func (t *Telemetry) RecordCacheEvent(hit bool) {
	if !t.config.Enabled {
		return
	}
	if hit {
		t.searchCache.WithLabelValues("hit").Inc()
	} else {
		t.searchCache.WithLabelValues("miss").Inc()
	}
}

// SessionOpened increments the active browser session gauge
func (t *Telemetry) SessionOpened() { t.browserSessions.Inc() }

// SessionClosed decrements the active browser session gauge
func (t *Telemetry) SessionClosed() { t.browserSessions.Dec() }

// GetMetrics returns current metrics snapshot
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	// Create a deep copy to avoid race conditions
	metrics := *t.metrics
	metrics.AgentExecutions = make(map[string]int64)
	metrics.AgentSuccessRates = make(map[string]float64)
	metrics.AgentAverageTimes = make(map[string]time.Duration)
	metrics.ExternalRequests = make(map[string]int64)

	for k, v := range t.metrics.AgentExecutions {
		metrics.AgentExecutions[k] = v
	}
	for k, v := range t.metrics.AgentSuccessRates {
		metrics.AgentSuccessRates[k] = v
	}
	for k, v := range t.metrics.AgentAverageTimes {
		metrics.AgentAverageTimes[k] = v
	}
	for k, v := range t.metrics.ExternalRequests {
		metrics.ExternalRequests[k] = v
	}

	return metrics
}

// startMetricsCollection starts periodic metrics collection
func (t *Telemetry) startMetricsCollection() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		metrics := t.GetMetrics()

		t.logger.Printf("Metrics Snapshot: Runs=%d/%d, AvgTime=%v",
			metrics.SuccessfulRuns, metrics.TotalRuns, metrics.AverageRunTime)
	}
}

// Shutdown logs a final report
func (t *Telemetry) Shutdown() {
	metrics := t.GetMetrics()
	if metrics.TotalRuns == 0 {
		t.logger.Println("Shutting down telemetry, no runs recorded")
		return
	}

	t.logger.Printf("Final Report:")
	t.logger.Printf("  Total Runs: %d", metrics.TotalRuns)
	t.logger.Printf("  Success Rate: %.2f%%", float64(metrics.SuccessfulRuns)/float64(metrics.TotalRuns)*100)
	t.logger.Printf("  Average Run Time: %v", metrics.AverageRunTime)
}

// GetPerformanceReport returns a detailed performance report
func (t *Telemetry) GetPerformanceReport() string {
	metrics := t.GetMetrics()
	if metrics.TotalRuns == 0 {
		return "no runs recorded"
	}

	report := fmt.Sprintf(`
=== PERFORMANCE REPORT ===
Overall Metrics:
  Total Runs: %d
  Successful: %d (%.2f%%)
  Failed: %d (%.2f%%)
  Average Run Time: %v

Agent Performance:
`, metrics.TotalRuns, metrics.SuccessfulRuns,
		float64(metrics.SuccessfulRuns)/float64(metrics.TotalRuns)*100,
		metrics.FailedRuns, float64(metrics.FailedRuns)/float64(metrics.TotalRuns)*100,
		metrics.AverageRunTime)

	for agent, executions := range metrics.AgentExecutions {
		successRate := metrics.AgentSuccessRates[agent]
		avgTime := metrics.AgentAverageTimes[agent]
		report += fmt.Sprintf("  %s: %d executions, %.2f%% success, %v avg time\n",
			agent, executions, successRate*100, avgTime)
	}

	report += "\nExternal Requests:\n"
	for op, count := range metrics.ExternalRequests {
		report += fmt.Sprintf("  %s: %d\n", op, count)
	}

	return report
}
