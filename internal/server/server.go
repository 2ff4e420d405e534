// Package server exposes the HTTP surface of the research agents: the
// external content endpoints, the research pipeline trigger and the
// operational endpoints. JWT verification happens at this boundary; identity
// issuance is the platform's job.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/zoernert/vsi-sub004/config"
	"github.com/zoernert/vsi-sub004/internal/agent"
	"github.com/zoernert/vsi-sub004/internal/analysis"
	"github.com/zoernert/vsi-sub004/internal/external"
	"github.com/zoernert/vsi-sub004/internal/llm"
	"github.com/zoernert/vsi-sub004/internal/platform"
	"github.com/zoernert/vsi-sub004/internal/telemetry"
	"github.com/zoernert/vsi-sub004/internal/webbrowse"
	"github.com/zoernert/vsi-sub004/internal/websearch"
)

// Server holds the dependency graph behind the API.
type Server struct {
	cfg       *config.Config
	logger    *log.Logger
	deps      *deps
	scheduler *Scheduler
}

// deps is the shared dependency graph behind both the HTTP server and the
// one-shot CLI runs.
type deps struct {
	tele         *telemetry.Telemetry
	rdb          *redis.Client
	memory       platform.SharedMemory
	orchestrator *external.Service
	pipeline     *agent.Pipeline
}

// buildDeps wires the dependency graph from config (top-level DI).
func buildDeps(cfg *config.Config, logger *log.Logger) (*deps, error) {
	tele := telemetry.NewTelemetry(cfg.Telemetry)

	ctx := context.Background()
	var rdb *redis.Client
	var memory platform.SharedMemory
	switch cfg.SharedMemory.Backend {
	case "redis":
		client, err := platform.Conn(ctx, cfg.SharedMemory.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis connection failed (%s:%s): %w",
				cfg.SharedMemory.Redis.Host, cfg.SharedMemory.Redis.Port, err)
		}
		rdb = client
		memory = platform.NewRedisSharedMemory(client, cfg.SharedMemory.Namespace, cfg.SharedMemory.PollInterval)
	default:
		memory = platform.NewMemorySharedMemory(cfg.SharedMemory.Namespace, cfg.SharedMemory.PollInterval)
	}

	collections, err := buildCollections(cfg.Collections)
	if err != nil {
		return nil, err
	}

	var llmProvider llm.Provider
	if cfg.LLM.Enabled() {
		llmProvider = llm.NewOpenAIProvider(cfg.LLM)
	}

	searchSvc := websearch.NewService(cfg.External.Search, nil, tele)
	browserSvc := webbrowse.NewService(cfg.External.Browser, nil, nil, llmProvider, tele)
	orchestrator := external.NewService(cfg.External, nil, searchSvc, browserSvc, llmProvider, tele)

	var artifacts platform.ArtifactStore
	switch {
	case rdb != nil:
		artifacts = platform.NewRedisArtifactStore(rdb)
	case cfg.Collections.BaseURL != "":
		artifacts = platform.NewHTTPArtifactStore(cfg.Collections.BaseURL,
			cfg.Collections.APIKey, cfg.Collections.Timeout, cfg.Collections.MaxRetries)
	default:
		artifacts = platform.NewLogArtifactStore(logger)
	}
	var progress platform.ProgressReporter = platform.NewLogProgressReporter(logger)
	if cfg.Collections.BaseURL != "" {
		endpoint := strings.TrimRight(cfg.Collections.BaseURL, "/") + "/api/progress"
		progress = platform.NewHTTPProgressReporter(endpoint, cfg.Collections.APIKey)
	}

	discovery := agent.NewDiscoveryAgent(cfg.Agents.Discovery, cfg.Collections, nil,
		collections, memory, artifacts, progress, orchestrator, tele)
	analysisAgent := agent.NewAnalysisAgent(cfg.Agents.Analysis, cfg.SharedMemory, nil,
		memory, analysis.NewDefaultRegistry(), orchestrator, artifacts, progress, tele)
	pipeline := agent.NewPipeline(discovery, analysisAgent, nil)

	return &deps{
		tele:         tele,
		rdb:          rdb,
		memory:       memory,
		orchestrator: orchestrator,
		pipeline:     pipeline,
	}, nil
}

func (d *deps) close() {
	if browser := d.orchestrator.BrowserService(); browser != nil {
		browser.CleanupAllSessions()
	}
	if d.rdb != nil {
		_ = d.rdb.Close()
	}
	d.tele.Shutdown()
}

// New wires a Server from config.
func New(cfg *config.Config) (*Server, error) {
	logger := log.New(log.Writer(), "[SERVER] ", log.LstdFlags)
	d, err := buildDeps(cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, logger: logger, deps: d}
	if cfg.Research.RefreshCron != "" && len(cfg.Research.Queries) > 0 {
		s.scheduler = NewScheduler(cfg.Research, d.pipeline, d.rdb, nil)
	}
	return s, nil
}

// BuildPipeline wires the agent pipeline without the HTTP layer, for one-shot
// runs. The returned cleanup releases browser sessions and connections.
func BuildPipeline(cfg *config.Config) (*agent.Pipeline, func(), error) {
	logger := log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	d, err := buildDeps(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return d.pipeline, d.close, nil
}

// buildCollections picks the collection provider: the platform HTTP API when
// a base URL is configured, otherwise the embedded index.
func buildCollections(cfg config.CollectionsConfig) (platform.CollectionSearcher, error) {
	if cfg.BaseURL != "" {
		return platform.NewCollectionsClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout, cfg.MaxRetries, cfg.MaxResults), nil
	}
	if cfg.EmbeddedDir != "" {
		embedded := platform.NewEmbeddedCollections()
		if err := embedded.LoadDir(cfg.EmbeddedDir); err != nil {
			return nil, fmt.Errorf("loading embedded collections: %w", err)
		}
		return embedded, nil
	}
	return nil, fmt.Errorf("collections not configured (collections.base_url or collections.embedded_dir)")
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run(addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	httpLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		httpLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	registerDocs(e)
	e.GET("/metrics", echo.WrapHandler(s.deps.tele.Handler()))

	api := e.Group("/api")
	if secret := s.cfg.Server.JWTSecret; secret != "" {
		api.Use(EchoAuthMiddleware([]byte(secret)))
	} else {
		s.logger.Printf("server.jwt_secret not set, API served without auth verification")
	}

	eh := &ExternalHandler{Orchestrator: s.deps.orchestrator, Logger: s.logger}
	eh.Register(api.Group("/external"))
	rh := &ResearchHandler{Pipeline: s.deps.pipeline, Memory: s.deps.memory, Logger: s.logger}
	rh.Register(api.Group("/research"))

	if s.scheduler != nil {
		s.scheduler.Start()
		defer s.scheduler.Shutdown()
	}
	defer s.deps.close()

	if addr == "" {
		addr = s.cfg.Server.Address
	}
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Printf("listening on %s", addr)
	return e.Start(addr)
}
