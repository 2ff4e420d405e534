package websearch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/zoernert/vsi-sub004/config"
	"github.com/zoernert/vsi-sub004/internal/telemetry"
)

// ErrRateLimited is returned when the sliding-window request budget is
// exhausted. Callers must back off; no network call was made.
var ErrRateLimited = errors.New("web search: rate limit exceeded")

// ErrUnknownProvider is returned for a provider name nothing registered.
var ErrUnknownProvider = errors.New("web search: unknown provider")

// Result is one ranked external search hit.
type Result struct {
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Description    string  `json:"description"`
	Provider       string  `json:"provider"`
	RelevanceScore float64 `json:"relevanceScore"`
}

// Response is the outcome of one search call.
type Response struct {
	Query    string   `json:"query"`
	Provider string   `json:"provider"`
	Results  []Result `json:"results"`
	Success  bool     `json:"success"`
}

// Options tune a single search request. Zero values fall back to configured
// defaults.
type Options struct {
	MaxResults int
	Provider   string
	Language   string
	Region     string
}

// Ranking tuning. Base score plus boosts; the final score is clamped to 1.
var (
	BaseRelevance            = 0.5
	TitleOverlapWeight       = 0.3
	DescriptionOverlapWeight = 0.2
	AuthorityBonus           = 0.1
)

// authorityDomains is the short allow-list of high-trust domains that earn a
// fixed ranking bonus. Matching is by host suffix.
var authorityDomains = []string{
	"wikipedia.org",
	"arxiv.org",
	"nature.com",
	"ieee.org",
	"acm.org",
	"reuters.com",
	".gov",
	".edu",
}

// fallbackEngines back the constructed results used when a provider fails, so
// downstream flow keeps working with pointers to search pages.
var fallbackEngines = []struct {
	Name string
	URL  string
}{
	{"Google", "https://www.google.com/search?q=%s"},
	{"Bing", "https://www.bing.com/search?q=%s"},
	{"DuckDuckGo", "https://duckduckgo.com/?q=%s"},
}

// Service is the web-search abstraction: provider selection, caching, rate
// limiting and relevance ranking. All mutable state (cache table, limiter
// window) is instance state created by NewService and cleared by Reset; for
// multi-process deployments it would have to move to an external store.
type Service struct {
	cfg       config.SearchConfig
	logger    *log.Logger
	tele      *telemetry.Telemetry
	providers map[string]Provider
	limiter   *rateLimiter
	cache     *searchCache
}

// NewService builds the search service from config. Brave and serper register
// only when their API keys are present; duckduckgo always registers as the
// keyless default. A non-empty cfg.Providers list restricts registration to
// the named providers; an allow-list that admits nothing keeps duckduckgo so
// searches still have a working default.
func NewService(cfg config.SearchConfig, logger *log.Logger, tele *telemetry.Telemetry) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	providers := map[string]Provider{
		ProviderDuckDuckGo: &DuckDuckGoProvider{},
	}
	if cfg.BraveAPIKey != "" {
		providers[ProviderBrave] = &BraveProvider{APIKey: cfg.BraveAPIKey}
	}
	if cfg.SerperAPIKey != "" {
		providers[ProviderSerper] = &SerperProvider{APIKey: cfg.SerperAPIKey}
	}
	if len(cfg.Providers) > 0 {
		allowed := make(map[string]bool, len(cfg.Providers))
		for _, name := range cfg.Providers {
			allowed[strings.ToLower(strings.TrimSpace(name))] = true
		}
		for name := range providers {
			if !allowed[name] {
				delete(providers, name)
			}
		}
		if len(providers) == 0 {
			providers[ProviderDuckDuckGo] = &DuckDuckGoProvider{}
		}
	}
	return &Service{
		cfg:       cfg,
		logger:    logger,
		tele:      tele,
		providers: providers,
		limiter:   newRateLimiter(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests),
		cache:     newSearchCache(cfg.Cache.TTL, cfg.Cache.Size),
	}
}

// Enabled reports whether the search sub-service is switched on.
func (s *Service) Enabled() bool { return s.cfg.Enabled }

// MaxResults returns the configured per-request result ceiling.
func (s *Service) MaxResults() int { return s.cfg.MaxResults }

// Providers lists registered provider names, default first.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		if name == s.defaultProvider() {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return append([]string{s.defaultProvider()}, names...)
}

// RegisterProvider adds or replaces a provider. Tests register fakes.
func (s *Service) RegisterProvider(p Provider) {
	s.providers[p.Name()] = p
}

// Reset clears the cache and rate-limiter window.
func (s *Service) Reset() {
	s.cache.Reset()
	s.limiter.Reset()
}

func (s *Service) defaultProvider() string {
	if _, ok := s.providers[s.cfg.Provider]; ok {
		return s.cfg.Provider
	}
	return ProviderDuckDuckGo
}

// Search runs one query. Cached responses are served without touching the
// rate limiter. Provider failures degrade to constructed search-page results
// rather than erroring, so batch flows keep moving.
func (s *Service) Search(ctx context.Context, query string, opts Options) (Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Response{}, errors.New("web search: empty query")
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = s.cfg.MaxResults
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	providerName := opts.Provider
	if providerName == "" {
		providerName = s.defaultProvider()
	}
	provider, ok := s.providers[providerName]
	if !ok {
		return Response{}, fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
	}

	key := cacheKey(query, providerName, maxResults)
	if cached, ok := s.cache.Get(key); ok {
		if s.tele != nil {
			s.tele.RecordCacheEvent(true)
		}
		return cached, nil
	}
	if s.tele != nil {
		s.tele.RecordCacheEvent(false)
	}

	if !s.limiter.Allow() {
		return Response{}, fmt.Errorf("%w: max %d requests per %s", ErrRateLimited, s.cfg.RateLimit.MaxRequests, s.cfg.RateLimit.Window)
	}

	searchCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	started := time.Now()
	results, err := provider.Search(searchCtx, query, maxResults)
	if err != nil {
		s.logger.Printf("provider %s failed for %q, serving fallback results: %v", providerName, query, err)
		results = FallbackResults(query, maxResults)
	}
	if s.tele != nil {
		s.tele.RecordExternalRequest("search", err == nil, time.Since(started))
	}

	results = RankResults(query, results)
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	resp := Response{Query: query, Provider: providerName, Results: results, Success: true}
	s.cache.Put(key, resp)
	return resp, nil
}

// RankResults scores results against the query terms and sorts descending.
// Base relevance is boosted by title overlap, description overlap, and a
// fixed bonus for high-trust domains; the score is clamped to 1.
func RankResults(query string, results []Result) []Result {
	terms := queryTerms(query)
	out := make([]Result, len(results))
	copy(out, results)
	for i := range out {
		score := BaseRelevance
		score += TitleOverlapWeight * termOverlap(terms, out[i].Title)
		score += DescriptionOverlapWeight * termOverlap(terms, out[i].Description)
		if isAuthorityDomain(out[i].URL) {
			score += AuthorityBonus
		}
		if score > 1 {
			score = 1
		}
		out[i].RelevanceScore = score
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RelevanceScore > out[j].RelevanceScore })
	return out
}

// FallbackResults constructs search-page entries for the query across a fixed
// engine list.
func FallbackResults(query string, maxResults int) []Result {
	var out []Result
	for _, engine := range fallbackEngines {
		if len(out) >= maxResults {
			break
		}
		out = append(out, Result{
			Title:       fmt.Sprintf("%s search: %s", engine.Name, query),
			URL:         fmt.Sprintf(engine.URL, url.QueryEscape(query)),
			Description: fmt.Sprintf("Search results page for %q on %s", query, engine.Name),
			Provider:    "fallback",
		})
	}
	return out
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}

// termOverlap is the fraction of query terms present in the text.
func termOverlap(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matched := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func isAuthorityDomain(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := strings.ToLower(parsed.Host)
	for _, domain := range authorityDomains {
		if strings.HasPrefix(domain, ".") {
			if strings.HasSuffix(host, domain) {
				return true
			}
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
