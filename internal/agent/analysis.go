package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoernert/vsi-sub004/config"
	"github.com/zoernert/vsi-sub004/internal/analysis"
	"github.com/zoernert/vsi-sub004/internal/external"
	"github.com/zoernert/vsi-sub004/internal/platform"
	"github.com/zoernert/vsi-sub004/internal/research"
	"github.com/zoernert/vsi-sub004/internal/telemetry"
)

var analysisTracer trace.Tracer = otel.Tracer("vsi/internal/agent/analysis")

// defaultWaitTimeout bounds how long the analysis agent blocks on the
// discovery completion signal.
const defaultWaitTimeout = 2 * time.Minute

// externalThemeConfidence is assigned to themes reported by the external
// page analysis, which carries no per-theme confidence of its own.
const externalThemeConfidence = 0.6

// ExternalAnalyzer batch-analyzes external pages. Implemented by the external
// content orchestrator.
type ExternalAnalyzer interface {
	AnalyzeTargets(ctx context.Context, targets []external.Target, analysisType string) (external.BatchResult, error)
}

// AnalysisOutcome is what one analysis run produced.
type AnalysisOutcome struct {
	SourcesAnalyzed   int                       `json:"sources_analyzed"`
	ExternalAnalyzed  int                       `json:"external_analyzed"`
	Themes            []analysis.ThemeAggregate `json:"themes"`
	CoOccurrences     []analysis.CoOccurrence   `json:"co_occurrences"`
	Insights          []analysis.Insight        `json:"insights"`
	AverageConfidence float64                   `json:"average_confidence"`
	Duration          time.Duration             `json:"duration"`
}

// AnalysisAgent consumes the curated sources once the discovery signal
// exists, runs the configured frameworks per source, optionally enriches the
// picture with externally browsed pages, aggregates themes, and ranks
// insights.
type AnalysisAgent struct {
	cfg       config.AnalysisConfig
	logger    *log.Logger
	memory    platform.SharedMemory
	registry  *analysis.Registry
	enhancer  ExternalAnalyzer
	artifacts platform.ArtifactStore
	progress  platform.ProgressReporter
	tele      *telemetry.Telemetry

	waitTimeout time.Duration
}

// NewAnalysisAgent builds the analysis agent. A nil registry gets the default
// framework set; enhancer, artifacts, progress and tele may be nil.
func NewAnalysisAgent(cfg config.AnalysisConfig, memoryCfg config.SharedMemoryConfig, logger *log.Logger, memory platform.SharedMemory, registry *analysis.Registry, enhancer ExternalAnalyzer, artifacts platform.ArtifactStore, progress platform.ProgressReporter, tele *telemetry.Telemetry) *AnalysisAgent {
	if logger == nil {
		logger = log.New(log.Writer(), "[ANALYSIS] ", log.LstdFlags)
	}
	if registry == nil {
		registry = analysis.NewDefaultRegistry()
	}
	waitTimeout := memoryCfg.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = defaultWaitTimeout
	}
	return &AnalysisAgent{
		cfg:         cfg,
		logger:      logger,
		memory:      memory,
		registry:    registry,
		enhancer:    enhancer,
		artifacts:   artifacts,
		progress:    progress,
		tele:        tele,
		waitTimeout: waitTimeout,
	}
}

// PerformWork runs the full analysis flow. It blocks on the discovery
// completion barrier first; a missing signal is fatal to the run.
func (a *AnalysisAgent) PerformWork(ctx context.Context) (AnalysisOutcome, error) {
	started := time.Now()
	ctx, span := analysisTracer.Start(ctx, "analysis.perform_work")
	defer span.End()

	outcome := AnalysisOutcome{}
	fail := func(err error) (AnalysisOutcome, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.recordEvent(ctx, started, false, 0, 0)
		return outcome, err
	}

	a.reportProgress(ctx, 5, "waiting for source discovery")
	if _, err := a.memory.Wait(ctx, KeySourceDiscoveryComplete, a.waitTimeout); err != nil {
		return fail(fmt.Errorf("discovery signal: %w", err))
	}

	entry, err := a.memory.Retrieve(ctx, KeyCuratedSources)
	if err != nil {
		return fail(fmt.Errorf("curated sources: %w", err))
	}
	var sources []research.Source
	if err := entry.Decode(&sources); err != nil {
		return fail(fmt.Errorf("decoding curated sources: %w", err))
	}

	frameworks := a.cfg.Frameworks
	if len(frameworks) == 0 {
		frameworks = a.registry.Names()
	}
	if _, err := a.registry.Resolve(frameworks); err != nil {
		// Unknown framework names are a configuration fault, not a
		// per-source hiccup.
		return fail(err)
	}

	a.reportProgress(ctx, 25, fmt.Sprintf("analyzing %d sources", len(sources)))
	records := make([]analysis.Record, 0, len(sources))
	for _, src := range sources {
		record, err := analysis.Analyze(src.ID, src.Content, a.registry, frameworks)
		if err != nil {
			a.logger.Printf("analysis of source %s failed, skipping: %v", src.ID, err)
			continue
		}
		records = append(records, record)
	}
	outcome.SourcesAnalyzed = len(records)

	if a.cfg.EnableExternal && a.enhancer != nil {
		a.reportProgress(ctx, 55, "enriching with external content")
		externalRecords := a.analyzeExternal(ctx, sources)
		outcome.ExternalAnalyzed = len(externalRecords)
		records = append(records, externalRecords...)
	}

	a.reportProgress(ctx, 75, "aggregating themes and insights")
	totalSources := len(records)
	aggregates := analysis.AggregateThemes(records, totalSources)
	cooccurrences := analysis.ComputeCoOccurrences(records, totalSources)
	insights := analysis.ExtractInsights(records, aggregates, cooccurrences, totalSources)

	outcome.Themes = aggregates
	outcome.CoOccurrences = cooccurrences
	outcome.Insights = insights
	outcome.AverageConfidence = averageRecordConfidence(records)

	if err := a.memory.Store(ctx, KeyKeyThemes, map[string]interface{}{
		"themes":         aggregates,
		"co_occurrences": cooccurrences,
		"total_sources":  totalSources,
		"generated_at":   time.Now(),
	}, platform.Metadata{AgentID: AgentTypeAnalysis, Type: "themes"}); err != nil {
		return fail(fmt.Errorf("storing themes: %w", err))
	}
	if err := a.memory.Store(ctx, KeyExtractedInsights, insights,
		platform.Metadata{AgentID: AgentTypeAnalysis, Type: "insights"}); err != nil {
		return fail(fmt.Errorf("storing insights: %w", err))
	}

	a.publishThemeReport(ctx, outcome)

	if err := a.memory.Store(ctx, KeyContentAnalysisComplete, map[string]interface{}{
		"sources_analyzed":  outcome.SourcesAnalyzed,
		"external_analyzed": outcome.ExternalAnalyzed,
		"theme_count":       len(aggregates),
		"insight_count":     len(insights),
		"avg_confidence":    outcome.AverageConfidence,
		"completed_at":      time.Now(),
	}, platform.Metadata{AgentID: AgentTypeAnalysis, Type: "completion"}); err != nil {
		return fail(fmt.Errorf("publishing analysis completion: %w", err))
	}

	a.reportProgress(ctx, 100, fmt.Sprintf("extracted %d themes and %d insights", len(aggregates), len(insights)))
	outcome.Duration = time.Since(started)
	span.SetAttributes(
		attribute.Int("sources", outcome.SourcesAnalyzed),
		attribute.Int("external", outcome.ExternalAnalyzed),
		attribute.Int("themes", len(aggregates)),
		attribute.Int("insights", len(insights)),
	)
	a.recordEvent(ctx, started, true, totalSources, outcome.AverageConfidence)
	a.logger.Printf("analysis finished: %d sources (%d external), %d themes, %d insights",
		outcome.SourcesAnalyzed, outcome.ExternalAnalyzed, len(aggregates), len(insights))
	return outcome, nil
}

// analyzeExternal browses the external-typed curated sources and converts the
// successful page analyses into records that merge into the normal
// aggregation. External analysis trouble never fails the run.
func (a *AnalysisAgent) analyzeExternal(ctx context.Context, sources []research.Source) []analysis.Record {
	maxExternal := a.cfg.MaxExternalSources
	if maxExternal <= 0 {
		maxExternal = 3
	}

	targets := make([]external.Target, 0, maxExternal)
	for _, src := range sources {
		if src.Type != research.SourceTypeExternal || src.URL == "" {
			continue
		}
		relevance := src.QualityScore
		if v, ok := src.MetadataFloat("relevance"); ok {
			relevance = v
		}
		targets = append(targets, external.Target{
			URL:       src.URL,
			Title:     src.MetadataString("title"),
			Relevance: relevance,
		})
		if len(targets) >= maxExternal {
			break
		}
	}
	if len(targets) == 0 {
		return nil
	}

	batch, err := a.enhancer.AnalyzeTargets(ctx, targets, "summary")
	if err != nil {
		a.logger.Printf("external enrichment failed, continuing without: %v", err)
		return nil
	}

	records := make([]analysis.Record, 0, batch.Summary.Successful)
	for _, item := range batch.Sources {
		if !item.Success || item.Analysis == nil {
			continue
		}
		records = append(records, externalRecord(item))
	}
	return records
}

// externalRecord folds one external page analysis into the record shape the
// aggregation pipeline consumes.
func externalRecord(item external.AnalysisResult) analysis.Record {
	record := analysis.Record{
		SourceID:   "ext:" + item.Source,
		Frameworks: []string{"external"},
		Entities:   item.Analysis.Entities,
		Confidence: item.Relevance,
	}
	for _, category := range item.Analysis.Themes {
		record.Themes = append(record.Themes, analysis.Theme{
			Category:   category,
			Score:      1,
			Confidence: externalThemeConfidence,
			Evidence:   []string{item.Source},
		})
	}
	if item.Analysis.Sentiment != "" {
		record.Sentiment = &analysis.Sentiment{Overall: item.Analysis.Sentiment, Confidence: externalThemeConfidence}
	}
	if item.Analysis.Summary != "" {
		record.Insights = append(record.Insights, analysis.Insight{
			Type:       "external_finding",
			Content:    item.Analysis.Summary,
			Confidence: item.Relevance,
			Evidence:   item.Analysis.KeyPoints,
			Priority:   "medium",
		})
	}
	return record
}

// publishThemeReport writes the theme report artifact. Failures are logged
// only.
func (a *AnalysisAgent) publishThemeReport(ctx context.Context, outcome AnalysisOutcome) {
	if a.artifacts == nil {
		return
	}
	_, err := a.artifacts.CreateArtifact(ctx, platform.Artifact{
		Type: "theme_report",
		Content: map[string]interface{}{
			"themes":            outcome.Themes,
			"co_occurrences":    outcome.CoOccurrences,
			"insights":          outcome.Insights,
			"sources_analyzed":  outcome.SourcesAnalyzed,
			"external_analyzed": outcome.ExternalAnalyzed,
			"generated_at":      time.Now(),
		},
	})
	if err != nil {
		a.logger.Printf("theme report artifact failed: %v", err)
	}
}

func (a *AnalysisAgent) reportProgress(ctx context.Context, percent int, message string) {
	if a.progress == nil {
		return
	}
	if err := a.progress.UpdateProgress(ctx, percent, message); err != nil {
		a.logger.Printf("progress update failed: %v", err)
	}
}

func (a *AnalysisAgent) recordEvent(ctx context.Context, started time.Time, success bool, sources int, confidence float64) {
	if a.tele == nil {
		return
	}
	a.tele.RecordAgentEvent(ctx, telemetry.AgentEvent{
		AgentType:  AgentTypeAnalysis,
		StartTime:  started,
		EndTime:    time.Now(),
		Duration:   time.Since(started),
		Success:    success,
		Sources:    sources,
		Confidence: confidence,
	})
}

func averageRecordConfidence(records []analysis.Record) float64 {
	if len(records) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range records {
		sum += r.Confidence
	}
	return sum / float64(len(records))
}
