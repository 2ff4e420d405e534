// Package external composes the web-search and browser services into the
// content orchestration layer: bounded-concurrency batch analysis of external
// URLs, source-discovery enhancement, and comprehensive research runs. Every
// entry point degrades to a neutral result when the relevant sub-service is
// switched off.
package external

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoernert/vsi-sub004/config"
	"github.com/zoernert/vsi-sub004/internal/analysis"
	"github.com/zoernert/vsi-sub004/internal/llm"
	"github.com/zoernert/vsi-sub004/internal/research"
	"github.com/zoernert/vsi-sub004/internal/telemetry"
	"github.com/zoernert/vsi-sub004/internal/webbrowse"
	"github.com/zoernert/vsi-sub004/internal/websearch"
)

var orchestratorTracer trace.Tracer = otel.Tracer("vsi/internal/external")

// DefaultTargetRelevance is assumed for bare URLs that did not come out of a
// ranked search, mirroring the neutral relevance default used for sources.
var DefaultTargetRelevance = 0.5

// Target is one external page to analyze. Relevance is carried from search
// ranking when the target originated there.
type Target struct {
	URL       string  `json:"url"`
	Title     string  `json:"title,omitempty"`
	Relevance float64 `json:"relevance"`
}

// AnalysisResult is the per-URL outcome of a batch analysis. Failures are
// embedded, never raised, so one bad page cannot sink its batch.
type AnalysisResult struct {
	Source     string                 `json:"source"`
	Title      string                 `json:"title,omitempty"`
	Analysis   *analysis.PageAnalysis `json:"analysis,omitempty"`
	Relevance  float64                `json:"relevance,omitempty"`
	Success    bool                   `json:"success"`
	Error      string                 `json:"error,omitempty"`
	DurationMS int64                  `json:"durationMs"`
}

// TermCount is a frequency-aggregated term across successful batch items.
type TermCount struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

// Summary totals a batch and aggregates themes and entities across its
// successful items.
type Summary struct {
	TotalAnalyzed    int         `json:"totalAnalyzed"`
	Successful       int         `json:"successful"`
	Failed           int         `json:"failed"`
	CombinedThemes   []TermCount `json:"combinedThemes,omitempty"`
	CombinedEntities []TermCount `json:"combinedEntities,omitempty"`
	AverageRelevance float64     `json:"averageRelevance"`
}

// BatchResult is the outcome of one batch analysis call.
type BatchResult struct {
	Sources []AnalysisResult `json:"sources"`
	Summary Summary          `json:"summary"`
}

// Enhancement is the outcome of augmenting internally discovered sources with
// external search results.
type Enhancement struct {
	Internal []research.Source      `json:"internal"`
	External []research.Source      `json:"external"`
	Combined []research.Source      `json:"combined"`
	Metadata map[string]interface{} `json:"metadata"`
}

// SearchAnalyzeResult pairs ranked search results with the batch analysis of
// the top hits.
type SearchAnalyzeResult struct {
	Query         string             `json:"query"`
	Provider      string             `json:"provider,omitempty"`
	SearchResults []websearch.Result `json:"searchResults"`
	Batch         BatchResult        `json:"batch"`
}

// ResearchOptions tune a comprehensive research run.
type ResearchOptions struct {
	MaxSources   int
	AnalysisType string
	Provider     string
}

// ResearchResult is the outcome of a comprehensive research run: search,
// batch analysis, and a synthesized digest.
type ResearchResult struct {
	Query         string             `json:"query"`
	SearchResults []websearch.Result `json:"searchResults"`
	Batch         BatchResult        `json:"batch"`
	Themes        []TermCount        `json:"themes,omitempty"`
	Entities      []TermCount        `json:"entities,omitempty"`
	Summary       string             `json:"summary,omitempty"`
	GeneratedAt   time.Time          `json:"generatedAt"`
}

// Stats are the orchestrator's running operation statistics. Response time is
// a running mean in milliseconds.
type Stats struct {
	TotalRequests       int64   `json:"totalRequests"`
	SuccessfulRequests  int64   `json:"successfulRequests"`
	FailedRequests      int64   `json:"failedRequests"`
	AverageResponseTime float64 `json:"averageResponseTime"`
}

// Service orchestrates search and browser calls for external content. The
// statistics table is instance state owned by this single long-lived service;
// multi-process deployments would need to move it to an external store.
type Service struct {
	cfg     config.ExternalConfig
	logger  *log.Logger
	search  *websearch.Service
	browser *webbrowse.Service
	llm     llm.Provider
	tele    *telemetry.Telemetry

	// sleep is swapped out by tests to observe inter-chunk delays.
	sleep func(ctx context.Context, d time.Duration)

	statsMu sync.Mutex
	stats   Stats
}

// NewService builds the orchestrator. search and browser may be nil when the
// corresponding sub-service is disabled; llmProvider may be nil, dropping the
// AI digest in comprehensive research.
func NewService(cfg config.ExternalConfig, logger *log.Logger, search *websearch.Service, browser *webbrowse.Service, llmProvider llm.Provider, tele *telemetry.Telemetry) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[EXTERNAL] ", log.LstdFlags)
	}
	return &Service{
		cfg:     cfg.Normalize(),
		logger:  logger,
		search:  search,
		browser: browser,
		llm:     llmProvider,
		tele:    tele,
		sleep:   ctxSleep,
	}
}

// Enabled reports whether external content handling is switched on at all.
func (s *Service) Enabled() bool { return s.cfg.Enabled }

// SearchEnabled reports whether the search sub-service is usable.
func (s *Service) SearchEnabled() bool {
	return s.cfg.Enabled && s.search != nil && s.search.Enabled()
}

// BrowserEnabled reports whether the browser sub-service is usable.
func (s *Service) BrowserEnabled() bool {
	return s.cfg.Enabled && s.browser != nil && s.browser.Enabled()
}

// SearchService exposes the underlying search service for the HTTP layer.
func (s *Service) SearchService() *websearch.Service { return s.search }

// BrowserService exposes the underlying browser service for the HTTP layer.
func (s *Service) BrowserService() *webbrowse.Service { return s.browser }

// Limits reports the configured batch bounds for the config endpoint.
func (s *Service) Limits() (maxSources int, requestTimeout time.Duration) {
	return s.cfg.MaxSources, s.cfg.RequestTimeout
}

// Stats returns a snapshot of the running operation statistics.
func (s *Service) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// recordOperation updates the operation counters and the running mean of the
// response time.
func (s *Service) recordOperation(op string, success bool, d time.Duration) {
	s.statsMu.Lock()
	s.stats.TotalRequests++
	if success {
		s.stats.SuccessfulRequests++
	} else {
		s.stats.FailedRequests++
	}
	ms := float64(d.Milliseconds())
	s.stats.AverageResponseTime += (ms - s.stats.AverageResponseTime) / float64(s.stats.TotalRequests)
	s.statsMu.Unlock()

	if s.tele != nil {
		s.tele.RecordExternalRequest(op, success, d)
	}
}

// AnalyzeExternalContent fetches and analyzes a list of URLs. Disabled
// services yield a neutral result, never an error.
func (s *Service) AnalyzeExternalContent(ctx context.Context, urls []string, analysisType string) (BatchResult, error) {
	targets := make([]Target, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		targets = append(targets, Target{URL: u, Relevance: DefaultTargetRelevance})
	}
	return s.AnalyzeTargets(ctx, targets, analysisType)
}

// AnalyzeTargets is the batch core: targets are capped at the configured
// maximum, split into chunks, and processed with bounded concurrency and a
// courtesy delay between chunks.
func (s *Service) AnalyzeTargets(ctx context.Context, targets []Target, analysisType string) (BatchResult, error) {
	started := time.Now()
	ctx, span := orchestratorTracer.Start(ctx, "external.analyze_batch",
		trace.WithAttributes(
			attribute.Int("targets", len(targets)),
			attribute.String("analysis_type", analysisType),
		))
	defer span.End()

	if !s.BrowserEnabled() {
		span.AddEvent("browser.disabled")
		s.recordOperation("analyze_batch", true, time.Since(started))
		return BatchResult{Sources: []AnalysisResult{}, Summary: Summary{}}, nil
	}

	if len(targets) > s.cfg.MaxSources {
		s.logger.Printf("capping batch from %d to %d targets", len(targets), s.cfg.MaxSources)
		targets = targets[:s.cfg.MaxSources]
	}
	if len(targets) == 0 {
		s.recordOperation("analyze_batch", true, time.Since(started))
		return BatchResult{Sources: []AnalysisResult{}, Summary: Summary{}}, nil
	}

	results := make([]AnalysisResult, len(targets))
	chunkSize := s.cfg.ChunkSize
	for start := 0; start < len(targets); start += chunkSize {
		if start > 0 {
			s.sleep(ctx, s.cfg.ChunkDelay)
		}
		end := start + chunkSize
		if end > len(targets) {
			end = len(targets)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = s.analyzeOne(ctx, targets[i], analysisType)
			}(i)
		}
		wg.Wait()
		span.AddEvent("chunk.complete", trace.WithAttributes(attribute.Int("through", end)))
	}

	batch := BatchResult{Sources: results, Summary: summarizeBatch(results)}
	span.SetAttributes(
		attribute.Int("successful", batch.Summary.Successful),
		attribute.Int("failed", batch.Summary.Failed),
	)
	s.recordOperation("analyze_batch", batch.Summary.Failed < batch.Summary.TotalAnalyzed || batch.Summary.TotalAnalyzed == 0, time.Since(started))
	return batch, nil
}

// analyzeOne runs the browse-and-analyze pipeline for a single target. All
// failures end up inside the result.
func (s *Service) analyzeOne(ctx context.Context, target Target, analysisType string) AnalysisResult {
	started := time.Now()
	result := AnalysisResult{Source: target.URL, Title: target.Title, Relevance: target.Relevance}

	itemCtx := ctx
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	browsed := s.browser.Analyze(itemCtx, target.URL, analysisType, webbrowse.AnalyzeOptions{})
	result.DurationMS = time.Since(started).Milliseconds()
	if !browsed.Success {
		result.Error = browsed.Error
		s.logger.Printf("external analysis of %s failed: %s", target.URL, browsed.Error)
		return result
	}

	page := analysis.AnalyzePage(browsed.Content)
	result.Analysis = &page
	if browsed.Title != "" {
		result.Title = browsed.Title
	}
	result.Success = true
	return result
}

// EnhanceSourceDiscovery augments internally discovered sources with external
// search hits for the same query. With search disabled the internal list
// passes through untouched.
func (s *Service) EnhanceSourceDiscovery(ctx context.Context, internal []research.Source, query string, maxExternal int) (Enhancement, error) {
	started := time.Now()
	ctx, span := orchestratorTracer.Start(ctx, "external.enhance_discovery",
		trace.WithAttributes(
			attribute.Int("internal", len(internal)),
			attribute.String("query", query),
		))
	defer span.End()

	enhancement := Enhancement{
		Internal: internal,
		External: []research.Source{},
		Combined: internal,
		Metadata: map[string]interface{}{
			"query":            query,
			"external_enabled": false,
			"internal_count":   len(internal),
			"external_count":   0,
		},
	}

	if !s.SearchEnabled() {
		span.AddEvent("search.disabled")
		s.recordOperation("enhance_discovery", true, time.Since(started))
		return enhancement, nil
	}

	if maxExternal <= 0 {
		maxExternal = s.cfg.MaxSources
	}
	resp, err := s.search.Search(ctx, query, websearch.Options{MaxResults: maxExternal})
	if err != nil {
		// Search trouble must not cost the caller its internal sources.
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Printf("external enhancement search for %q failed: %v", query, err)
		s.recordOperation("enhance_discovery", false, time.Since(started))
		return enhancement, nil
	}

	external := make([]research.Source, 0, len(resp.Results))
	now := time.Now()
	for _, hit := range resp.Results {
		external = append(external, research.Source{
			ID:      fmt.Sprintf("ext_%s", hashURL(hit.URL)),
			Content: hit.Description,
			URL:     hit.URL,
			Type:    research.SourceTypeExternal,
			Metadata: map[string]interface{}{
				"title":     hit.Title,
				"url":       hit.URL,
				"provider":  hit.Provider,
				"relevance": hit.RelevanceScore,
			},
			DiscoveredAt: now,
		})
	}

	enhancement.External = external
	enhancement.Combined = research.Deduplicate(append(append([]research.Source{}, internal...), external...))
	enhancement.Metadata["external_enabled"] = true
	enhancement.Metadata["external_count"] = len(external)
	enhancement.Metadata["provider"] = resp.Provider

	span.SetAttributes(attribute.Int("external", len(external)))
	s.recordOperation("enhance_discovery", true, time.Since(started))
	return enhancement, nil
}

// SearchAndAnalyze searches for a query and batch-analyzes the top hits.
func (s *Service) SearchAndAnalyze(ctx context.Context, query, analysisType string, maxResults int) (SearchAnalyzeResult, error) {
	started := time.Now()
	ctx, span := orchestratorTracer.Start(ctx, "external.search_and_analyze",
		trace.WithAttributes(attribute.String("query", query)))
	defer span.End()

	out := SearchAnalyzeResult{Query: query, SearchResults: []websearch.Result{}}
	if !s.SearchEnabled() {
		span.AddEvent("search.disabled")
		s.recordOperation("search_and_analyze", true, time.Since(started))
		return out, nil
	}

	resp, err := s.search.Search(ctx, query, websearch.Options{MaxResults: maxResults})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.recordOperation("search_and_analyze", false, time.Since(started))
		return out, err
	}
	out.Provider = resp.Provider
	out.SearchResults = resp.Results

	targets := make([]Target, 0, len(resp.Results))
	for _, hit := range resp.Results {
		targets = append(targets, Target{URL: hit.URL, Title: hit.Title, Relevance: hit.RelevanceScore})
	}
	batch, err := s.AnalyzeTargets(ctx, targets, analysisType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.recordOperation("search_and_analyze", false, time.Since(started))
		return out, err
	}
	out.Batch = batch
	s.recordOperation("search_and_analyze", true, time.Since(started))
	return out, nil
}

// PerformComprehensiveResearch runs the full external pipeline for a query:
// search, batch analysis, theme and entity aggregation, and a synthesized
// digest (AI when a provider is wired, heuristic otherwise).
func (s *Service) PerformComprehensiveResearch(ctx context.Context, query string, opts ResearchOptions) (ResearchResult, error) {
	started := time.Now()
	ctx, span := orchestratorTracer.Start(ctx, "external.comprehensive_research",
		trace.WithAttributes(attribute.String("query", query)))
	defer span.End()

	out := ResearchResult{Query: query, SearchResults: []websearch.Result{}, GeneratedAt: time.Now()}
	if !s.SearchEnabled() {
		span.AddEvent("search.disabled")
		s.recordOperation("comprehensive_research", true, time.Since(started))
		return out, nil
	}

	maxSources := opts.MaxSources
	if maxSources <= 0 || maxSources > s.cfg.MaxSources {
		maxSources = s.cfg.MaxSources
	}
	analysisType := opts.AnalysisType
	if analysisType == "" {
		analysisType = "summary"
	}

	resp, err := s.search.Search(ctx, query, websearch.Options{MaxResults: maxSources, Provider: opts.Provider})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.recordOperation("comprehensive_research", false, time.Since(started))
		return out, err
	}
	out.SearchResults = resp.Results

	targets := make([]Target, 0, len(resp.Results))
	for _, hit := range resp.Results {
		targets = append(targets, Target{URL: hit.URL, Title: hit.Title, Relevance: hit.RelevanceScore})
	}
	batch, err := s.AnalyzeTargets(ctx, targets, analysisType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.recordOperation("comprehensive_research", false, time.Since(started))
		return out, err
	}
	out.Batch = batch
	out.Themes = batch.Summary.CombinedThemes
	out.Entities = batch.Summary.CombinedEntities
	out.Summary = s.synthesizeDigest(ctx, query, batch)
	out.GeneratedAt = time.Now()

	s.recordOperation("comprehensive_research", true, time.Since(started))
	return out, nil
}

// synthesizeDigest produces the research summary text. The AI path is an
// enhancement; its failure falls back to the heuristic digest.
func (s *Service) synthesizeDigest(ctx context.Context, query string, batch BatchResult) string {
	if s.llm != nil {
		var b strings.Builder
		fmt.Fprintf(&b, "Summarize the research findings for %q in at most five sentences.\n\nFindings:\n", query)
		for _, item := range batch.Sources {
			if !item.Success || item.Analysis == nil {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", item.Source, item.Analysis.Summary)
		}
		digest, err := s.llm.Generate(ctx, b.String(), map[string]interface{}{"temperature": 0.2})
		if err == nil && strings.TrimSpace(digest) != "" {
			return strings.TrimSpace(digest)
		}
		if err != nil {
			s.logger.Printf("digest generation failed, using heuristic summary: %v", err)
		}
	}
	return heuristicDigest(query, batch)
}

// heuristicDigest builds a deterministic one-paragraph summary from the batch
// aggregates.
func heuristicDigest(query string, batch BatchResult) string {
	s := batch.Summary
	if s.Successful == 0 {
		return fmt.Sprintf("No external content could be analyzed for %q (%d attempted).", query, s.TotalAnalyzed)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Analyzed %d of %d external sources for %q.", s.Successful, s.TotalAnalyzed, query)
	if len(s.CombinedThemes) > 0 {
		names := make([]string, 0, len(s.CombinedThemes))
		for i, t := range s.CombinedThemes {
			if i >= 3 {
				break
			}
			names = append(names, t.Term)
		}
		fmt.Fprintf(&b, " Dominant themes: %s.", strings.Join(names, ", "))
	}
	if len(s.CombinedEntities) > 0 {
		fmt.Fprintf(&b, " Leading entity: %s.", s.CombinedEntities[0].Term)
	}
	return b.String()
}

const (
	maxCombinedThemes   = 10
	maxCombinedEntities = 15
)

// summarizeBatch totals a result set and frequency-aggregates themes and
// entities across successful items.
func summarizeBatch(results []AnalysisResult) Summary {
	summary := Summary{TotalAnalyzed: len(results)}
	themeCounts := make(map[string]int)
	entityCounts := make(map[string]int)
	var relevanceSum float64

	for _, r := range results {
		if !r.Success {
			summary.Failed++
			continue
		}
		summary.Successful++
		relevanceSum += r.Relevance
		if r.Analysis == nil {
			continue
		}
		for _, theme := range r.Analysis.Themes {
			themeCounts[theme]++
		}
		for _, entity := range r.Analysis.Entities {
			entityCounts[entity]++
		}
	}

	if summary.Successful > 0 {
		summary.AverageRelevance = relevanceSum / float64(summary.Successful)
	}
	summary.CombinedThemes = topTerms(themeCounts, maxCombinedThemes)
	summary.CombinedEntities = topTerms(entityCounts, maxCombinedEntities)
	return summary
}

// topTerms sorts a frequency table by count descending, term ascending for
// ties, and caps the list.
func topTerms(counts map[string]int, max int) []TermCount {
	if len(counts) == 0 {
		return nil
	}
	out := make([]TermCount, 0, len(counts))
	for term, count := range counts {
		out = append(out, TermCount{Term: term, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Term < out[j].Term
	})
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func ctxSleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// hashURL derives a short stable id fragment from a URL.
func hashURL(raw string) string {
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:6])
}
