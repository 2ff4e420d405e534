package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// PipelineResult is the combined outcome of one discovery-plus-analysis run.
type PipelineResult struct {
	RunID     string          `json:"run_id"`
	Query     string          `json:"query"`
	Discovery DiscoveryResult `json:"discovery"`
	Analysis  AnalysisOutcome `json:"analysis"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// Pipeline runs the discovery agent to completion and then the analysis
// agent, the same sequence the platform's agent runner drives. The agents
// still coordinate through shared memory only; the pipeline adds ordering,
// not data flow.
type Pipeline struct {
	discovery *DiscoveryAgent
	analysis  *AnalysisAgent
	logger    *log.Logger
}

// NewPipeline wires both agents into a runnable pipeline.
func NewPipeline(discovery *DiscoveryAgent, analysisAgent *AnalysisAgent, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	return &Pipeline{discovery: discovery, analysis: analysisAgent, logger: logger}
}

// Run executes one full research run for a query.
func (p *Pipeline) Run(ctx context.Context, query string) (PipelineResult, error) {
	started := time.Now()
	result := PipelineResult{
		RunID:     uuid.New().String(),
		Query:     query,
		StartedAt: started,
	}
	p.logger.Printf("run %s started for %q", result.RunID, query)

	discovery, err := p.discovery.Run(ctx, query)
	if err != nil {
		return result, fmt.Errorf("source discovery: %w", err)
	}
	result.Discovery = discovery

	outcome, err := p.analysis.PerformWork(ctx)
	if err != nil {
		return result, fmt.Errorf("content analysis: %w", err)
	}
	result.Analysis = outcome

	result.Duration = time.Since(started)
	p.logger.Printf("run %s finished in %s: %d sources, %d themes, %d insights",
		result.RunID, result.Duration.Round(time.Millisecond),
		outcome.SourcesAnalyzed+outcome.ExternalAnalyzed, len(outcome.Themes), len(outcome.Insights))
	return result, nil
}
