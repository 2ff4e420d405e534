package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/zoernert/vsi-sub004/internal/external"
	"github.com/zoernert/vsi-sub004/internal/webbrowse"
	"github.com/zoernert/vsi-sub004/internal/websearch"
)

// Request-shape bounds. Batch outcomes never change the status code; only
// these checks do.
const (
	searchResultsCap   = 50
	analysisSourcesCap = 20

	defaultSearchResults = 10
	// Result pages fetched inline when includeContent is requested.
	includeContentLimit = 3
)

var validAnalysisTypes = map[string]bool{
	"summary":    true,
	"comparison": true,
	"trends":     true,
	"facts":      true,
}

// ExternalHandler exposes the external content orchestrator over HTTP.
type ExternalHandler struct {
	Orchestrator *external.Service
	Logger       *log.Logger
}

func (h *ExternalHandler) Register(g *echo.Group) {
	g.POST("/search", h.search)
	g.POST("/browse", h.browse)
	g.POST("/analyze", h.analyze)
	g.GET("/config", h.config)
	g.GET("/stats", h.stats)
}

type searchRequest struct {
	Query          string `json:"query"`
	MaxResults     *int   `json:"maxResults"`
	Provider       string `json:"provider"`
	IncludeContent bool   `json:"includeContent"`
}

type searchResultEntry struct {
	websearch.Result
	Content string `json:"content,omitempty"`
}

type searchResponse struct {
	Results   []searchResultEntry `json:"results"`
	Query     string              `json:"query"`
	Provider  string              `json:"provider"`
	Timestamp time.Time           `json:"timestamp"`
}

func (h *ExternalHandler) search(c echo.Context) error {
	if h.Orchestrator == nil || !h.Orchestrator.SearchEnabled() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "External search is disabled")
	}
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid query")
	}
	maxResults := defaultSearchResults
	if req.MaxResults != nil {
		maxResults = *req.MaxResults
	}
	if maxResults < 1 || maxResults > searchResultsCap {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("maxResults must be between 1 and %d", searchResultsCap))
	}

	ctx := c.Request().Context()
	resp, err := h.Orchestrator.SearchService().Search(ctx, query, websearch.Options{
		MaxResults: maxResults,
		Provider:   req.Provider,
	})
	if err != nil {
		switch {
		case errors.Is(err, websearch.ErrRateLimited):
			return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
		case errors.Is(err, websearch.ErrUnknownProvider):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
	}

	results := make([]searchResultEntry, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = searchResultEntry{Result: r}
	}
	if req.IncludeContent && h.Orchestrator.BrowserEnabled() {
		h.attachContent(c, results)
	}
	return c.JSON(http.StatusOK, searchResponse{
		Results:   results,
		Query:     resp.Query,
		Provider:  resp.Provider,
		Timestamp: time.Now().UTC(),
	})
}

// attachContent fetches summary content for the top results. Fetch failures
// leave the entry without content; they never fail the search.
func (h *ExternalHandler) attachContent(c echo.Context, results []searchResultEntry) {
	browser := h.Orchestrator.BrowserService()
	for i := range results {
		if i >= includeContentLimit {
			break
		}
		page, err := browser.Browse(c.Request().Context(), results[i].URL, webbrowse.ExtractSummary, webbrowse.BrowseOptions{})
		if err != nil {
			if h.Logger != nil {
				h.Logger.Printf("search content fetch failed for %s: %v", results[i].URL, err)
			}
			continue
		}
		results[i].Content = page.Content
	}
}

type browseRequest struct {
	URL             string `json:"url"`
	ExtractionType  string `json:"extractionType"`
	IncludeMetadata bool   `json:"includeMetadata"`
	WaitForJS       bool   `json:"waitForJs"`
}

func (h *ExternalHandler) browse(c echo.Context) error {
	if h.Orchestrator == nil || !h.Orchestrator.BrowserEnabled() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "External browsing is disabled")
	}
	var req browseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !validHTTPURL(req.URL) {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid URL")
	}
	extraction := req.ExtractionType
	if extraction == "" {
		extraction = webbrowse.ExtractSummary
	}
	if !webbrowse.ValidExtractionType(extraction) {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid extraction type")
	}

	page, err := h.Orchestrator.BrowserService().Browse(c.Request().Context(), req.URL, extraction, webbrowse.BrowseOptions{
		IncludeMetadata: req.IncludeMetadata,
		WaitForJS:       req.WaitForJS,
	})
	if err != nil {
		if errors.Is(err, webbrowse.ErrSessionLimit) {
			return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, page)
}

type analyzeRequest struct {
	Sources      []json.RawMessage `json:"sources"`
	AnalysisType string            `json:"analysisType"`
	MaxSources   *int              `json:"maxSources"`
}

type analyzeResponse struct {
	Analysis     external.Summary          `json:"analysis"`
	Sources      []external.AnalysisResult `json:"sources"`
	AnalysisType string                    `json:"analysisType"`
	AnalyzedAt   time.Time                 `json:"analyzedAt"`
	Metadata     map[string]interface{}    `json:"metadata"`
}

func (h *ExternalHandler) analyze(c echo.Context) error {
	if h.Orchestrator == nil || !h.Orchestrator.BrowserEnabled() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "External analysis is disabled")
	}
	var req analyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Sources) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "No sources provided")
	}
	analysisType := req.AnalysisType
	if analysisType == "" {
		analysisType = "summary"
	}
	if !validAnalysisTypes[analysisType] {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid analysis type")
	}
	maxSources := analysisSourcesCap
	if req.MaxSources != nil {
		maxSources = *req.MaxSources
	}
	if maxSources < 1 || maxSources > analysisSourcesCap {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("maxSources must be between 1 and %d", analysisSourcesCap))
	}

	targets, err := parseSourceRefs(req.Sources)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	requested := len(targets)
	if len(targets) > maxSources {
		targets = targets[:maxSources]
	}

	started := time.Now()
	batch, err := h.Orchestrator.AnalyzeTargets(c.Request().Context(), targets, analysisType)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, analyzeResponse{
		Analysis:     batch.Summary,
		Sources:      batch.Sources,
		AnalysisType: analysisType,
		AnalyzedAt:   time.Now().UTC(),
		Metadata: map[string]interface{}{
			"requested":  requested,
			"analyzed":   batch.Summary.TotalAnalyzed,
			"durationMs": time.Since(started).Milliseconds(),
		},
	})
}

// parseSourceRefs accepts the two source shapes the API takes: a bare URL
// string, or an object {type, value} where type is "url" or "search_result".
func parseSourceRefs(raw []json.RawMessage) ([]external.Target, error) {
	targets := make([]external.Target, 0, len(raw))
	for i, entry := range raw {
		var asString string
		if err := json.Unmarshal(entry, &asString); err == nil {
			if !validHTTPURL(asString) {
				return nil, fmt.Errorf("Invalid URL in sources[%d]", i)
			}
			targets = append(targets, external.Target{URL: asString, Relevance: external.DefaultTargetRelevance})
			continue
		}
		var ref struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(entry, &ref); err != nil {
			return nil, fmt.Errorf("Invalid source at sources[%d]", i)
		}
		switch ref.Type {
		case "url":
			var u string
			if err := json.Unmarshal(ref.Value, &u); err != nil || !validHTTPURL(u) {
				return nil, fmt.Errorf("Invalid URL in sources[%d]", i)
			}
			targets = append(targets, external.Target{URL: u, Relevance: external.DefaultTargetRelevance})
		case "search_result":
			var sr struct {
				URL            string  `json:"url"`
				Title          string  `json:"title"`
				RelevanceScore float64 `json:"relevanceScore"`
			}
			if err := json.Unmarshal(ref.Value, &sr); err != nil || !validHTTPURL(sr.URL) {
				return nil, fmt.Errorf("Invalid search result in sources[%d]", i)
			}
			relevance := sr.RelevanceScore
			if relevance <= 0 {
				relevance = external.DefaultTargetRelevance
			}
			targets = append(targets, external.Target{URL: sr.URL, Title: sr.Title, Relevance: relevance})
		default:
			return nil, fmt.Errorf("Unknown source type %q at sources[%d]", ref.Type, i)
		}
	}
	return targets, nil
}

type webSearchConfig struct {
	Enabled   bool     `json:"enabled"`
	Providers []string `json:"providers"`
}

type webBrowserConfig struct {
	Enabled  bool `json:"enabled"`
	Headless bool `json:"headless"`
}

type externalConfigResponse struct {
	Enabled  bool `json:"enabled"`
	Services struct {
		WebSearch  webSearchConfig  `json:"webSearch"`
		WebBrowser webBrowserConfig `json:"webBrowser"`
	} `json:"services"`
	Limits struct {
		MaxSearchResults   int   `json:"maxSearchResults"`
		MaxAnalysisSources int   `json:"maxAnalysisSources"`
		RequestTimeout     int64 `json:"requestTimeout"`
	} `json:"limits"`
}

func (h *ExternalHandler) config(c echo.Context) error {
	if h.Orchestrator == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "External content services are not available")
	}
	maxSources, timeout := h.Orchestrator.Limits()

	var resp externalConfigResponse
	resp.Enabled = h.Orchestrator.Enabled()
	resp.Services.WebSearch = webSearchConfig{
		Enabled:   h.Orchestrator.SearchEnabled(),
		Providers: h.Orchestrator.SearchService().Providers(),
	}
	resp.Services.WebBrowser = webBrowserConfig{
		Enabled:  h.Orchestrator.BrowserEnabled(),
		Headless: h.Orchestrator.BrowserService().Headless(),
	}
	resp.Limits.MaxSearchResults = h.Orchestrator.SearchService().MaxResults()
	resp.Limits.MaxAnalysisSources = maxSources
	resp.Limits.RequestTimeout = timeout.Milliseconds()
	return c.JSON(http.StatusOK, resp)
}

func (h *ExternalHandler) stats(c echo.Context) error {
	if h.Orchestrator == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "External content services are not available")
	}
	return c.JSON(http.StatusOK, h.Orchestrator.Stats())
}

// validHTTPURL accepts absolute http(s) URLs only.
func validHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
