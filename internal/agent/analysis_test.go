package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zoernert/vsi-sub004/config"
	"github.com/zoernert/vsi-sub004/internal/analysis"
	"github.com/zoernert/vsi-sub004/internal/external"
	"github.com/zoernert/vsi-sub004/internal/platform"
	"github.com/zoernert/vsi-sub004/internal/research"
)

const techContent = `Software platforms and digital technology reshape every market.
Cloud systems, data networks and machine intelligence drive strong growth for
the industry, and investment in automation has been a clear success. Companies
report excellent revenue and effective strategy outcomes this year.`

const bizContent = `Business strategy and market growth stay positive. Company
revenue improved and customer investment in the industry is strong. The
enterprise outlook is promising and finance teams report good progress.`

type fakeBatchAnalyzer struct {
	batch external.BatchResult
	err   error
	calls int
	got   []external.Target
}

func (f *fakeBatchAnalyzer) AnalyzeTargets(ctx context.Context, targets []external.Target, analysisType string) (external.BatchResult, error) {
	f.calls++
	f.got = targets
	if f.err != nil {
		return external.BatchResult{}, f.err
	}
	return f.batch, nil
}

func sharedMemoryConfig() config.SharedMemoryConfig {
	return config.SharedMemoryConfig{WaitTimeout: 200 * time.Millisecond}
}

func analysisAgent(cfg config.AnalysisConfig, memory platform.SharedMemory, enhancer ExternalAnalyzer) *AnalysisAgent {
	return NewAnalysisAgent(cfg, sharedMemoryConfig(), nil, memory, nil, enhancer, nil, nil, nil)
}

func seedDiscovery(t *testing.T, memory platform.SharedMemory, sources []research.Source) {
	t.Helper()
	ctx := context.Background()
	if err := memory.Store(ctx, KeyCuratedSources, sources, platform.Metadata{AgentID: AgentTypeDiscovery}); err != nil {
		t.Fatalf("seed curated: %v", err)
	}
	if err := memory.Store(ctx, KeySourceDiscoveryComplete, map[string]interface{}{
		"curated_count": len(sources),
	}, platform.Metadata{AgentID: AgentTypeDiscovery}); err != nil {
		t.Fatalf("seed signal: %v", err)
	}
}

func TestPerformWorkMissingSignalIsFatal(t *testing.T) {
	memory := platform.NewMemorySharedMemory("shared_", 10*time.Millisecond)
	agent := analysisAgent(config.AnalysisConfig{}, memory, nil)

	_, err := agent.PerformWork(context.Background())
	if err == nil {
		t.Fatalf("expected fatal error on missing discovery signal")
	}
	if !errors.Is(err, platform.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestPerformWorkBlocksUntilSignal(t *testing.T) {
	memory := platform.NewMemorySharedMemory("shared_", 10*time.Millisecond)
	agent := analysisAgent(config.AnalysisConfig{}, memory, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		ctx := context.Background()
		memory.Store(ctx, KeyCuratedSources, []research.Source{{ID: "s1", Content: techContent}}, platform.Metadata{})
		memory.Store(ctx, KeySourceDiscoveryComplete, map[string]interface{}{"curated_count": 1}, platform.Metadata{})
	}()

	outcome, err := agent.PerformWork(context.Background())
	if err != nil {
		t.Fatalf("expected run to proceed once signal arrives: %v", err)
	}
	if outcome.SourcesAnalyzed != 1 {
		t.Fatalf("expected 1 source analyzed, got %d", outcome.SourcesAnalyzed)
	}
}

func TestPerformWorkAnalyzesAndPublishes(t *testing.T) {
	memory := platform.NewMemorySharedMemory("shared_", 10*time.Millisecond)
	seedDiscovery(t, memory, []research.Source{
		{ID: "s1", Content: techContent},
		{ID: "s2", Content: bizContent},
	})
	agent := analysisAgent(config.AnalysisConfig{}, memory, nil)

	outcome, err := agent.PerformWork(context.Background())
	if err != nil {
		t.Fatalf("perform work: %v", err)
	}
	if outcome.SourcesAnalyzed != 2 {
		t.Fatalf("expected 2 sources analyzed, got %d", outcome.SourcesAnalyzed)
	}
	if len(outcome.Themes) == 0 {
		t.Fatalf("expected aggregated themes")
	}
	if len(outcome.Insights) == 0 {
		t.Fatalf("expected ranked insights")
	}
	for i := 1; i < len(outcome.Insights); i++ {
		if outcome.Insights[i-1].Score < outcome.Insights[i].Score {
			t.Fatalf("insights not ranked descending at %d: %+v", i, outcome.Insights)
		}
	}
	if outcome.AverageConfidence <= 0 || outcome.AverageConfidence > 1 {
		t.Fatalf("confidence out of range: %v", outcome.AverageConfidence)
	}

	ctx := context.Background()
	themesEntry, err := memory.Retrieve(ctx, KeyKeyThemes)
	if err != nil {
		t.Fatalf("key themes not stored: %v", err)
	}
	var themesPayload struct {
		Themes       []analysis.ThemeAggregate `json:"themes"`
		TotalSources int                       `json:"total_sources"`
	}
	if err := themesEntry.Decode(&themesPayload); err != nil {
		t.Fatalf("decode themes: %v", err)
	}
	if themesPayload.TotalSources != 2 || len(themesPayload.Themes) == 0 {
		t.Fatalf("themes payload wrong: %+v", themesPayload)
	}

	if _, err := memory.Retrieve(ctx, KeyExtractedInsights); err != nil {
		t.Fatalf("insights not stored: %v", err)
	}
	signal, err := memory.Retrieve(ctx, KeyContentAnalysisComplete)
	if err != nil {
		t.Fatalf("completion signal not stored: %v", err)
	}
	var payload map[string]interface{}
	if err := signal.Decode(&payload); err != nil {
		t.Fatalf("decode completion: %v", err)
	}
	if payload["sources_analyzed"] != float64(2) {
		t.Fatalf("completion counts wrong: %+v", payload)
	}
}

func TestPerformWorkUnknownFrameworkIsFatal(t *testing.T) {
	memory := platform.NewMemorySharedMemory("shared_", 10*time.Millisecond)
	seedDiscovery(t, memory, []research.Source{{ID: "s1", Content: techContent}})
	agent := analysisAgent(config.AnalysisConfig{Frameworks: []string{"nonexistent"}}, memory, nil)

	if _, err := agent.PerformWork(context.Background()); err == nil {
		t.Fatalf("expected unknown framework to be fatal")
	}
}

func TestPerformWorkMergesExternalAnalysis(t *testing.T) {
	memory := platform.NewMemorySharedMemory("shared_", 10*time.Millisecond)
	seedDiscovery(t, memory, []research.Source{
		{ID: "s1", Content: techContent},
		{ID: "ext_1", Type: research.SourceTypeExternal, URL: "https://example.org/tech",
			Metadata: map[string]interface{}{"relevance": 0.9, "title": "Tech page"}},
	})
	enhancer := &fakeBatchAnalyzer{batch: external.BatchResult{
		Sources: []external.AnalysisResult{{
			Source:  "https://example.org/tech",
			Success: true,
			Analysis: &analysis.PageAnalysis{
				Themes:    []string{"technology"},
				Sentiment: "positive",
				Entities:  []string{"Example Corp"},
				KeyPoints: []string{"technology adoption is growing"},
				Summary:   "External page about technology adoption.",
			},
			Relevance: 0.9,
		}},
		Summary: external.Summary{TotalAnalyzed: 1, Successful: 1},
	}}
	agent := analysisAgent(config.AnalysisConfig{EnableExternal: true, MaxExternalSources: 3}, memory, enhancer)

	outcome, err := agent.PerformWork(context.Background())
	if err != nil {
		t.Fatalf("perform work: %v", err)
	}
	if enhancer.calls != 1 {
		t.Fatalf("expected one external batch call, got %d", enhancer.calls)
	}
	if len(enhancer.got) != 1 || enhancer.got[0].URL != "https://example.org/tech" {
		t.Fatalf("expected external URL targeted, got %+v", enhancer.got)
	}
	if outcome.ExternalAnalyzed != 1 {
		t.Fatalf("external count tracked separately, got %d", outcome.ExternalAnalyzed)
	}
	// Internal and external mentions of the same category combine.
	var tech *analysis.ThemeAggregate
	for i := range outcome.Themes {
		if outcome.Themes[i].Category == "technology" {
			tech = &outcome.Themes[i]
		}
	}
	if tech == nil {
		t.Fatalf("expected technology theme, got %+v", outcome.Themes)
	}
	if tech.Occurrences < 2 {
		t.Fatalf("expected merged occurrences from internal and external, got %+v", tech)
	}
	var foundExternalInsight bool
	for _, in := range outcome.Insights {
		if in.Type == "external_finding" {
			foundExternalInsight = true
		}
	}
	if !foundExternalInsight {
		t.Fatalf("expected external finding insight, got %+v", outcome.Insights)
	}
}

func TestPerformWorkContinuesWhenExternalFails(t *testing.T) {
	memory := platform.NewMemorySharedMemory("shared_", 10*time.Millisecond)
	seedDiscovery(t, memory, []research.Source{
		{ID: "s1", Content: techContent},
		{ID: "ext_1", Type: research.SourceTypeExternal, URL: "https://example.org/x"},
	})
	agent := analysisAgent(config.AnalysisConfig{EnableExternal: true}, memory, &fakeBatchAnalyzer{err: errors.New("browser down")})

	outcome, err := agent.PerformWork(context.Background())
	if err != nil {
		t.Fatalf("external failure must not fail the run: %v", err)
	}
	if outcome.ExternalAnalyzed != 0 {
		t.Fatalf("expected no external records, got %d", outcome.ExternalAnalyzed)
	}
	if outcome.SourcesAnalyzed != 2 {
		t.Fatalf("internal analysis must proceed, got %d", outcome.SourcesAnalyzed)
	}
}

func TestPerformWorkCapsExternalTargets(t *testing.T) {
	memory := platform.NewMemorySharedMemory("shared_", 10*time.Millisecond)
	sources := []research.Source{{ID: "s1", Content: techContent}}
	for i := 0; i < 5; i++ {
		sources = append(sources, research.Source{
			ID:   "ext_" + strings.Repeat("x", i+1),
			Type: research.SourceTypeExternal,
			URL:  "https://example.org/" + strings.Repeat("x", i+1),
		})
	}
	seedDiscovery(t, memory, sources)
	enhancer := &fakeBatchAnalyzer{batch: external.BatchResult{}}
	agent := analysisAgent(config.AnalysisConfig{EnableExternal: true, MaxExternalSources: 2}, memory, enhancer)

	if _, err := agent.PerformWork(context.Background()); err != nil {
		t.Fatalf("perform work: %v", err)
	}
	if len(enhancer.got) != 2 {
		t.Fatalf("expected external targets capped at 2, got %d", len(enhancer.got))
	}
}
