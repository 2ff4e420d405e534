package external

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoernert/vsi-sub004/config"
	"github.com/zoernert/vsi-sub004/internal/research"
	"github.com/zoernert/vsi-sub004/internal/webbrowse"
	"github.com/zoernert/vsi-sub004/internal/websearch"
)

const pageHTML = `<html><head><title>Storage Outlook</title></head><body><article>
<h1>Storage Outlook</h1>
<p>Battery storage deployments accelerated sharply this year as technology costs fell and
business models for grid services matured across several European markets.</p>
<p>Developers commissioned 42 projects totalling 1800 megawatt hours, an improvement that
analysts attribute to innovation in cell chemistry and growth in flexible market revenue.</p>
<p>The success of these projects suggests continued growth, though some observers warn that
interconnection delays remain a significant problem for the broader industry.</p>
</article></body></html>`

// eventLog records the interleaving of navigations and courtesy delays.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

type trackingNavigator struct {
	mu          sync.Mutex
	inflight    int
	maxInflight int
	failURLs    map[string]bool
	log         *eventLog
	hold        time.Duration
}

func (n *trackingNavigator) Navigate(ctx context.Context, url string, waitForJS bool) (string, error) {
	n.mu.Lock()
	n.inflight++
	if n.inflight > n.maxInflight {
		n.maxInflight = n.inflight
	}
	fail := n.failURLs[url]
	n.mu.Unlock()

	if n.log != nil {
		n.log.add("nav " + url)
	}
	if n.hold > 0 {
		time.Sleep(n.hold)
	}

	n.mu.Lock()
	n.inflight--
	n.mu.Unlock()

	if fail {
		return "", errors.New("unreachable")
	}
	return pageHTML, nil
}

func (n *trackingNavigator) Screenshot(ctx context.Context, url string) ([]byte, error) {
	return nil, errors.New("not supported")
}

type fixedProvider struct {
	name    string
	results []websearch.Result
	err     error
	calls   int
}

func (p *fixedProvider) Name() string { return p.name }

func (p *fixedProvider) Search(ctx context.Context, query string, maxResults int) ([]websearch.Result, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if len(p.results) > maxResults {
		return p.results[:maxResults], nil
	}
	return p.results, nil
}

func externalConfig() config.ExternalConfig {
	return config.ExternalConfig{
		Enabled:    true,
		MaxSources: 10,
		ChunkSize:  3,
		ChunkDelay: 2 * time.Second,
		Browser: config.BrowserConfig{
			Enabled:     true,
			MaxSessions: 3,
			Retry:       config.RetryConfig{Attempts: 1, Delay: time.Millisecond},
		},
		Search: config.SearchConfig{
			Enabled:    true,
			Provider:   "fixed",
			MaxResults: 10,
			RateLimit:  config.RateLimitConfig{Window: time.Minute, MaxRequests: 100},
			Cache:      config.CacheConfig{TTL: time.Hour, Size: 10},
		},
	}
}

func testOrchestrator(t *testing.T, cfg config.ExternalConfig, nav webbrowse.Navigator, provider websearch.Provider) (*Service, *eventLog) {
	t.Helper()
	log := &eventLog{}

	var searchSvc *websearch.Service
	if provider != nil {
		searchSvc = websearch.NewService(cfg.Search, nil, nil)
		searchSvc.RegisterProvider(provider)
	}
	var browserSvc *webbrowse.Service
	if nav != nil {
		browserSvc = webbrowse.NewService(cfg.Browser, nil, nav, nil, nil)
	}

	svc := NewService(cfg, nil, searchSvc, browserSvc, nil, nil)
	svc.sleep = func(ctx context.Context, d time.Duration) {
		log.add("delay " + d.String())
	}
	return svc, log
}

func TestAnalyzeExternalContentEmptyInput(t *testing.T) {
	svc, _ := testOrchestrator(t, externalConfig(), &trackingNavigator{}, nil)

	batch, err := svc.AnalyzeExternalContent(context.Background(), nil, "summary")
	if err != nil {
		t.Fatalf("empty batch must not error: %v", err)
	}
	s := batch.Summary
	if s.TotalAnalyzed != 0 || s.Successful != 0 || s.Failed != 0 {
		t.Fatalf("expected zeroed summary, got %+v", s)
	}
	if batch.Sources == nil || len(batch.Sources) != 0 {
		t.Fatalf("expected empty non-nil sources, got %#v", batch.Sources)
	}
}

func TestAnalyzeExternalContentDisabledIsNeutral(t *testing.T) {
	cfg := externalConfig()
	cfg.Browser.Enabled = false
	svc, _ := testOrchestrator(t, cfg, &trackingNavigator{}, nil)

	for i := 0; i < 2; i++ {
		batch, err := svc.AnalyzeExternalContent(context.Background(), []string{"https://example.com/a"}, "summary")
		if err != nil {
			t.Fatalf("disabled service must not error: %v", err)
		}
		if batch.Summary.TotalAnalyzed != 0 {
			t.Fatalf("disabled service must not analyze, got %+v", batch.Summary)
		}
	}
}

func TestAnalyzeBatchChunkLayout(t *testing.T) {
	nav := &trackingNavigator{hold: 30 * time.Millisecond}
	svc, log := testOrchestrator(t, externalConfig(), nav, nil)
	nav.log = log

	urls := []string{
		"https://example.com/1",
		"https://example.com/2",
		"https://example.com/3",
		"https://example.com/4",
	}
	batch, err := svc.AnalyzeExternalContent(context.Background(), urls, "summary")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if batch.Summary.TotalAnalyzed != 4 || batch.Summary.Successful != 4 {
		t.Fatalf("unexpected summary %+v", batch.Summary)
	}

	events := log.snapshot()
	if len(events) != 5 {
		t.Fatalf("expected 4 navigations and 1 delay, got %v", events)
	}
	// First chunk of three, then the courtesy delay, then the remainder.
	for _, e := range events[:3] {
		if !strings.HasPrefix(e, "nav ") || strings.HasSuffix(e, "/4") {
			t.Fatalf("expected first chunk navigations, got %v", events)
		}
	}
	if events[3] != "delay 2s" {
		t.Fatalf("expected 2s delay before second chunk, got %v", events)
	}
	if events[4] != "nav https://example.com/4" {
		t.Fatalf("expected final navigation last, got %v", events)
	}
	if nav.maxInflight > 3 {
		t.Fatalf("concurrency exceeded chunk size: %d", nav.maxInflight)
	}
	if nav.maxInflight < 2 {
		t.Fatalf("expected overlapping navigations within a chunk, got %d", nav.maxInflight)
	}
}

func TestAnalyzeBatchSingleChunkHasNoDelay(t *testing.T) {
	svc, log := testOrchestrator(t, externalConfig(), &trackingNavigator{}, nil)

	_, err := svc.AnalyzeExternalContent(context.Background(), []string{
		"https://example.com/1",
		"https://example.com/2",
		"https://example.com/3",
	}, "summary")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	for _, e := range log.snapshot() {
		if strings.HasPrefix(e, "delay") {
			t.Fatalf("single chunk must not wait: %v", log.snapshot())
		}
	}
}

func TestAnalyzeBatchIsolatesFailures(t *testing.T) {
	nav := &trackingNavigator{failURLs: map[string]bool{"https://example.com/2": true}}
	svc, _ := testOrchestrator(t, externalConfig(), nav, nil)

	batch, err := svc.AnalyzeExternalContent(context.Background(), []string{
		"https://example.com/1",
		"https://example.com/2",
		"https://example.com/3",
	}, "summary")
	if err != nil {
		t.Fatalf("item failure must not abort batch: %v", err)
	}
	s := batch.Summary
	if s.TotalAnalyzed != 3 || s.Successful != 2 || s.Failed != 1 {
		t.Fatalf("unexpected summary %+v", s)
	}
	for _, item := range batch.Sources {
		if item.Source == "https://example.com/2" {
			if item.Success || item.Error == "" {
				t.Fatalf("failed item must carry its error: %+v", item)
			}
		} else if !item.Success || item.Analysis == nil {
			t.Fatalf("expected surviving item analyzed: %+v", item)
		}
	}
}

func TestAnalyzeBatchCapsTargets(t *testing.T) {
	cfg := externalConfig()
	cfg.MaxSources = 2
	svc, _ := testOrchestrator(t, cfg, &trackingNavigator{}, nil)

	batch, err := svc.AnalyzeExternalContent(context.Background(), []string{
		"https://example.com/1",
		"https://example.com/2",
		"https://example.com/3",
	}, "summary")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if batch.Summary.TotalAnalyzed != 2 {
		t.Fatalf("expected cap at 2 targets, got %+v", batch.Summary)
	}
}

func TestBatchSummaryAggregation(t *testing.T) {
	nav := &trackingNavigator{}
	svc, _ := testOrchestrator(t, externalConfig(), nav, nil)

	batch, err := svc.AnalyzeExternalContent(context.Background(), []string{
		"https://example.com/1",
		"https://example.com/2",
	}, "summary")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	s := batch.Summary
	if len(s.CombinedThemes) == 0 {
		t.Fatalf("expected combined themes from identical pages")
	}
	if s.CombinedThemes[0].Count != 2 {
		t.Fatalf("expected top theme counted across both items, got %+v", s.CombinedThemes[0])
	}
	if s.AverageRelevance != DefaultTargetRelevance {
		t.Fatalf("expected neutral relevance %v for bare URLs, got %v", DefaultTargetRelevance, s.AverageRelevance)
	}
}

func TestRunningStatisticsMean(t *testing.T) {
	svc, _ := testOrchestrator(t, externalConfig(), &trackingNavigator{}, nil)

	svc.recordOperation("test", true, 10*time.Millisecond)
	svc.recordOperation("test", false, 20*time.Millisecond)
	svc.recordOperation("test", true, 30*time.Millisecond)

	stats := svc.Stats()
	if stats.TotalRequests != 3 || stats.SuccessfulRequests != 2 || stats.FailedRequests != 1 {
		t.Fatalf("unexpected counters %+v", stats)
	}
	if stats.AverageResponseTime != 20 {
		t.Fatalf("expected running mean 20ms, got %v", stats.AverageResponseTime)
	}
}

func TestStatsUpdatedByEveryOperation(t *testing.T) {
	cfg := externalConfig()
	cfg.Browser.Enabled = false
	cfg.Search.Enabled = false
	svc, _ := testOrchestrator(t, cfg, &trackingNavigator{}, &fixedProvider{name: "fixed"})

	ctx := context.Background()
	if _, err := svc.AnalyzeExternalContent(ctx, nil, "summary"); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if _, err := svc.EnhanceSourceDiscovery(ctx, nil, "query", 3); err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if _, err := svc.SearchAndAnalyze(ctx, "query", "summary", 3); err != nil {
		t.Fatalf("search and analyze: %v", err)
	}
	if _, err := svc.PerformComprehensiveResearch(ctx, "query", ResearchOptions{}); err != nil {
		t.Fatalf("research: %v", err)
	}
	if got := svc.Stats().TotalRequests; got != 4 {
		t.Fatalf("expected 4 recorded operations, got %d", got)
	}
}

func TestEnhanceSourceDiscoveryDisabledPassThrough(t *testing.T) {
	cfg := externalConfig()
	cfg.Search.Enabled = false
	svc, _ := testOrchestrator(t, cfg, nil, &fixedProvider{name: "fixed"})

	internal := []research.Source{{ID: "s1", Content: "internal doc", Type: research.SourceTypeInternal}}
	enhancement, err := svc.EnhanceSourceDiscovery(context.Background(), internal, "query", 5)
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if len(enhancement.External) != 0 {
		t.Fatalf("disabled search must add nothing, got %d", len(enhancement.External))
	}
	if len(enhancement.Combined) != 1 || enhancement.Combined[0].ID != "s1" {
		t.Fatalf("internal sources must pass through, got %+v", enhancement.Combined)
	}
	if enhancement.Metadata["external_enabled"] != false {
		t.Fatalf("metadata must flag external disabled: %+v", enhancement.Metadata)
	}
}

func TestEnhanceSourceDiscoveryAppendsExternal(t *testing.T) {
	provider := &fixedProvider{name: "fixed", results: []websearch.Result{
		{Title: "Grid storage overview", URL: "https://example.org/grid", Description: "battery storage growth"},
		{Title: "Market report", URL: "https://example.org/market", Description: "storage market analysis"},
	}}
	svc, _ := testOrchestrator(t, externalConfig(), nil, provider)

	internal := []research.Source{{ID: "s1", Content: "internal doc about storage", Type: research.SourceTypeInternal}}
	enhancement, err := svc.EnhanceSourceDiscovery(context.Background(), internal, "battery storage", 5)
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if len(enhancement.External) != 2 {
		t.Fatalf("expected 2 external sources, got %d", len(enhancement.External))
	}
	if len(enhancement.Combined) != 3 {
		t.Fatalf("expected combined 3, got %d", len(enhancement.Combined))
	}
	for _, src := range enhancement.External {
		if src.Type != research.SourceTypeExternal {
			t.Fatalf("external source mistyped: %+v", src)
		}
		if src.URL == "" || src.MetadataString("title") == "" {
			t.Fatalf("external source missing url/title metadata: %+v", src)
		}
	}
	if enhancement.Metadata["external_count"] != 2 {
		t.Fatalf("metadata count wrong: %+v", enhancement.Metadata)
	}
}

func TestEnhanceSourceDiscoverySurvivesSearchFailure(t *testing.T) {
	cfg := externalConfig()
	cfg.Search.Provider = "missing"
	svc, _ := testOrchestrator(t, cfg, nil, &fixedProvider{name: "fixed"})

	internal := []research.Source{{ID: "s1", Content: "internal doc"}}
	enhancement, err := svc.EnhanceSourceDiscovery(context.Background(), internal, "query", 5)
	if err != nil {
		t.Fatalf("search failure must not surface: %v", err)
	}
	if len(enhancement.Combined) != 1 {
		t.Fatalf("internal sources must survive search failure, got %+v", enhancement.Combined)
	}
}

func TestSearchAndAnalyzeFlow(t *testing.T) {
	provider := &fixedProvider{name: "fixed", results: []websearch.Result{
		{Title: "Storage outlook", URL: "https://example.org/a", Description: "battery storage outlook"},
		{Title: "Grid report", URL: "https://example.org/b", Description: "grid report"},
	}}
	svc, _ := testOrchestrator(t, externalConfig(), &trackingNavigator{}, provider)

	out, err := svc.SearchAndAnalyze(context.Background(), "battery storage", "summary", 5)
	if err != nil {
		t.Fatalf("search and analyze: %v", err)
	}
	if len(out.SearchResults) != 2 {
		t.Fatalf("expected 2 search results, got %d", len(out.SearchResults))
	}
	if out.Batch.Summary.TotalAnalyzed != 2 || out.Batch.Summary.Successful != 2 {
		t.Fatalf("expected both hits analyzed, got %+v", out.Batch.Summary)
	}
	// Relevance flows from ranked search results into the batch summary.
	if out.Batch.Summary.AverageRelevance <= 0 {
		t.Fatalf("expected ranked relevance carried over, got %v", out.Batch.Summary.AverageRelevance)
	}
}

func TestPerformComprehensiveResearchDigest(t *testing.T) {
	provider := &fixedProvider{name: "fixed", results: []websearch.Result{
		{Title: "Storage outlook", URL: "https://example.org/a", Description: "battery storage outlook"},
	}}
	svc, _ := testOrchestrator(t, externalConfig(), &trackingNavigator{}, provider)

	out, err := svc.PerformComprehensiveResearch(context.Background(), "battery storage", ResearchOptions{MaxSources: 3})
	if err != nil {
		t.Fatalf("research: %v", err)
	}
	if out.Summary == "" {
		t.Fatalf("expected heuristic digest")
	}
	if !strings.Contains(out.Summary, "battery storage") {
		t.Fatalf("digest should reference the query, got %q", out.Summary)
	}
	if len(out.Themes) == 0 {
		t.Fatalf("expected aggregated themes")
	}
	if out.GeneratedAt.IsZero() {
		t.Fatalf("expected generation timestamp")
	}
}

func TestPerformComprehensiveResearchSearchDisabled(t *testing.T) {
	cfg := externalConfig()
	cfg.Search.Enabled = false
	svc, _ := testOrchestrator(t, cfg, &trackingNavigator{}, &fixedProvider{name: "fixed"})

	out, err := svc.PerformComprehensiveResearch(context.Background(), "query", ResearchOptions{})
	if err != nil {
		t.Fatalf("disabled search must not error: %v", err)
	}
	if len(out.SearchResults) != 0 || out.Summary != "" {
		t.Fatalf("expected neutral result, got %+v", out)
	}
}

func TestTopTermsOrderingAndCap(t *testing.T) {
	counts := map[string]int{"beta": 2, "alpha": 2, "gamma": 5, "delta": 1}
	terms := topTerms(counts, 3)
	if len(terms) != 3 {
		t.Fatalf("expected cap at 3, got %d", len(terms))
	}
	if terms[0].Term != "gamma" || terms[1].Term != "alpha" || terms[2].Term != "beta" {
		t.Fatalf("unexpected order %+v", terms)
	}
}
