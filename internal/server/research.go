package server

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/zoernert/vsi-sub004/internal/agent"
	"github.com/zoernert/vsi-sub004/internal/platform"
)

// ResearchHandler triggers full discovery-plus-analysis runs and exposes the
// coordination state the agents leave behind.
type ResearchHandler struct {
	Pipeline *agent.Pipeline
	Memory   platform.SharedMemory
	Logger   *log.Logger
}

func (h *ResearchHandler) Register(g *echo.Group) {
	g.POST("", h.run)
	g.GET("/status", h.status)
}

type researchRequest struct {
	Query string `json:"query"`
}

type researchResponse struct {
	RunID     string `json:"runId"`
	Query     string `json:"query"`
	Discovery struct {
		TotalDiscovered int     `json:"totalDiscovered"`
		ExternalCount   int     `json:"externalCount"`
		CuratedCount    int     `json:"curatedCount"`
		AverageQuality  float64 `json:"averageQuality"`
	} `json:"discovery"`
	Analysis struct {
		SourcesAnalyzed   int     `json:"sourcesAnalyzed"`
		ExternalAnalyzed  int     `json:"externalAnalyzed"`
		ThemeCount        int     `json:"themeCount"`
		InsightCount      int     `json:"insightCount"`
		AverageConfidence float64 `json:"averageConfidence"`
	} `json:"analysis"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMS int64     `json:"durationMs"`
}

// run executes one research run synchronously. The heavy lifting happens in
// the agents; this endpoint only reports the per-phase counts.
func (h *ResearchHandler) run(c echo.Context) error {
	if h.Pipeline == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Research pipeline is not available")
	}
	var req researchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid query")
	}

	result, err := h.Pipeline.Run(c.Request().Context(), strings.TrimSpace(req.Query))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var resp researchResponse
	resp.RunID = result.RunID
	resp.Query = result.Query
	resp.Discovery.TotalDiscovered = result.Discovery.TotalDiscovered
	resp.Discovery.ExternalCount = result.Discovery.ExternalCount
	resp.Discovery.CuratedCount = len(result.Discovery.Curated)
	resp.Discovery.AverageQuality = result.Discovery.AverageQuality
	resp.Analysis.SourcesAnalyzed = result.Analysis.SourcesAnalyzed
	resp.Analysis.ExternalAnalyzed = result.Analysis.ExternalAnalyzed
	resp.Analysis.ThemeCount = len(result.Analysis.Themes)
	resp.Analysis.InsightCount = len(result.Analysis.Insights)
	resp.Analysis.AverageConfidence = result.Analysis.AverageConfidence
	resp.StartedAt = result.StartedAt
	resp.DurationMS = result.Duration.Milliseconds()
	return c.JSON(http.StatusOK, resp)
}

type phaseStatus struct {
	Complete bool        `json:"complete"`
	Signal   interface{} `json:"signal,omitempty"`
}

// status reports which pipeline phases have signalled completion in shared
// memory. Useful for collaborators polling a run driven elsewhere.
func (h *ResearchHandler) status(c echo.Context) error {
	if h.Memory == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Shared memory is not available")
	}
	ctx := c.Request().Context()
	phases := map[string]phaseStatus{}
	for name, key := range map[string]string{
		"sourceDiscovery": agent.KeySourceDiscoveryComplete,
		"contentAnalysis": agent.KeyContentAnalysisComplete,
	} {
		entry, err := h.Memory.Retrieve(ctx, key)
		if err != nil {
			if errors.Is(err, platform.ErrNotFound) {
				phases[name] = phaseStatus{}
				continue
			}
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		var signal interface{}
		if err := entry.Decode(&signal); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		phases[name] = phaseStatus{Complete: true, Signal: signal}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"phases": phases})
}
