package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research agent system
type Config struct {
	General      GeneralConfig      `mapstructure:"general"`
	Server       ServerConfig       `mapstructure:"server"`
	Collections  CollectionsConfig  `mapstructure:"collections"`
	SharedMemory SharedMemoryConfig `mapstructure:"shared_memory"`
	LLM          LLMConfig          `mapstructure:"llm"`
	External     ExternalConfig     `mapstructure:"external"`
	Agents       AgentsConfig       `mapstructure:"agents"`
	Research     ResearchConfig     `mapstructure:"research"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// CollectionsConfig configures access to the vector-search collection service.
// When BaseURL is empty and EmbeddedDir is set, the embedded bleve provider is
// used instead of the remote API.
type CollectionsConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxResults       int           `mapstructure:"max_results"`
	MaxRetries       int           `mapstructure:"max_retries"`
	EmbeddedDir      string        `mapstructure:"embedded_dir"`
	DefaultRelevance float64       `mapstructure:"default_relevance"`
}

func (c CollectionsConfig) Validate() error {
	if c.DefaultRelevance < 0 || c.DefaultRelevance > 1 {
		return fmt.Errorf("collections.default_relevance must be within [0,1]")
	}
	return nil
}

// SharedMemoryConfig selects and tunes the coordination store backend.
type SharedMemoryConfig struct {
	Backend      string        `mapstructure:"backend"` // redis or memory
	Namespace    string        `mapstructure:"namespace"`
	WaitTimeout  time.Duration `mapstructure:"wait_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Redis        RedisConfig   `mapstructure:"redis"`
}

func (s SharedMemoryConfig) Validate() error {
	switch s.Backend {
	case "redis":
		return s.Redis.Validate()
	case "memory":
		return nil
	default:
		return fmt.Errorf("shared_memory.backend must be redis or memory, got %q", s.Backend)
	}
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("shared_memory.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("shared_memory.redis.port required")
	}
	return nil
}

// LLMConfig contains the completion provider used for AI content extraction
type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a provider is configured at all. The extraction
// pipeline falls back to heuristics when this is false.
func (l LLMConfig) Enabled() bool {
	return strings.TrimSpace(l.APIKey) != ""
}

// ExternalConfig gates and tunes the external content services
type ExternalConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	MaxSources     int           `mapstructure:"max_sources"`
	ChunkSize      int           `mapstructure:"chunk_size"`
	ChunkDelay     time.Duration `mapstructure:"chunk_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Search         SearchConfig  `mapstructure:"search"`
	Browser        BrowserConfig `mapstructure:"browser"`
}

// Normalize applies floor values so a partially filled section stays usable.
func (e ExternalConfig) Normalize() ExternalConfig {
	if e.MaxSources <= 0 {
		e.MaxSources = 5
	}
	if e.ChunkSize <= 0 {
		e.ChunkSize = 3
	}
	if e.ChunkDelay <= 0 {
		e.ChunkDelay = 2 * time.Second
	}
	if e.RequestTimeout <= 0 {
		e.RequestTimeout = 30 * time.Second
	}
	return e
}

// SearchConfig contains web search provider settings
type SearchConfig struct {
	Enabled      bool            `mapstructure:"enabled"`
	Provider     string          `mapstructure:"provider"`  // brave, serper or duckduckgo
	Providers    []string        `mapstructure:"providers"` // optional allow-list; empty admits every registered provider
	BraveAPIKey  string          `mapstructure:"brave_api_key"`
	SerperAPIKey string          `mapstructure:"serper_api_key"`
	MaxResults   int             `mapstructure:"max_results"`
	Timeout      time.Duration   `mapstructure:"timeout"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
	Cache        CacheConfig     `mapstructure:"cache"`
}

// RateLimitConfig bounds outbound provider calls over a sliding window
type RateLimitConfig struct {
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
}

// CacheConfig bounds the in-memory search result cache
type CacheConfig struct {
	TTL  time.Duration `mapstructure:"ttl"`
	Size int           `mapstructure:"size"`
}

// BrowserConfig contains browser automation settings. RemoteURL points at a
// running Chrome DevTools endpoint; when empty a local headless instance is
// launched per session.
type BrowserConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RemoteURL         string        `mapstructure:"remote_url"`
	Headless          bool          `mapstructure:"headless"`
	MaxSessions       int           `mapstructure:"max_sessions"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ExtractionTimeout time.Duration `mapstructure:"extraction_timeout"`
	Retry             RetryConfig   `mapstructure:"retry"`
}

// RetryConfig controls navigation retry behaviour
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
}

// AgentsConfig contains per-agent tuning
type AgentsConfig struct {
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
}

// DiscoveryConfig tunes the source discovery agent
type DiscoveryConfig struct {
	Collections        []string `mapstructure:"collections"`
	MaxSources         int      `mapstructure:"max_sources"`
	QualityThreshold   float64  `mapstructure:"quality_threshold"`
	PerCollectionLimit int      `mapstructure:"per_collection_limit"`
	EnableExternal     bool     `mapstructure:"enable_external"`
}

// AnalysisConfig tunes the content analysis agent
type AnalysisConfig struct {
	Frameworks         []string `mapstructure:"frameworks"`
	MaxConcepts        int      `mapstructure:"max_concepts"`
	EnableExternal     bool     `mapstructure:"enable_external"`
	MaxExternalSources int      `mapstructure:"max_external_sources"`
}

// ResearchConfig holds standing queries for the scheduler
type ResearchConfig struct {
	Queries     []string `mapstructure:"queries"`
	RefreshCron string   `mapstructure:"refresh_cron"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "60s")
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("collections.timeout", "30s")
	viper.SetDefault("collections.max_results", 10)
	viper.SetDefault("collections.max_retries", 2)
	viper.SetDefault("collections.default_relevance", 0.8)
	viper.SetDefault("shared_memory.backend", "memory")
	viper.SetDefault("shared_memory.namespace", "shared_")
	viper.SetDefault("shared_memory.wait_timeout", "30s")
	viper.SetDefault("shared_memory.poll_interval", "200ms")
	viper.SetDefault("shared_memory.redis.timeout", "5s")
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.max_tokens", 1024)
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.max_retries", 2)
	viper.SetDefault("llm.timeout", "60s")
	viper.SetDefault("external.enabled", false)
	viper.SetDefault("external.max_sources", 5)
	viper.SetDefault("external.chunk_size", 3)
	viper.SetDefault("external.chunk_delay", "2s")
	viper.SetDefault("external.request_timeout", "30s")
	viper.SetDefault("external.search.provider", "duckduckgo")
	viper.SetDefault("external.search.max_results", 10)
	viper.SetDefault("external.search.timeout", "15s")
	viper.SetDefault("external.search.rate_limit.window", "60s")
	viper.SetDefault("external.search.rate_limit.max_requests", 10)
	viper.SetDefault("external.search.cache.ttl", "3600s")
	viper.SetDefault("external.search.cache.size", 100)
	viper.SetDefault("external.browser.headless", true)
	viper.SetDefault("external.browser.max_sessions", 3)
	viper.SetDefault("external.browser.navigation_timeout", "30s")
	viper.SetDefault("external.browser.extraction_timeout", "20s")
	viper.SetDefault("external.browser.retry.attempts", 3)
	viper.SetDefault("external.browser.retry.delay", "2s")
	viper.SetDefault("agents.discovery.max_sources", 10)
	viper.SetDefault("agents.discovery.quality_threshold", 0.4)
	viper.SetDefault("agents.discovery.per_collection_limit", 10)
	viper.SetDefault("agents.analysis.max_concepts", 20)
	viper.SetDefault("agents.analysis.max_external_sources", 3)
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.metrics_port", 9090)

	if path == "" {
		viper.AddConfigPath("./app/config") // path to look for the config file in
		viper.AddConfigPath("./config")     // path to look for the config file in
		viper.AddConfigPath(".")            // optionally look for config in the working directory
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)                                // bin/
		viper.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("VSI")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (VSI_*)

	err := viper.ReadInConfig() // Find and read the config file
	if err != nil {             // Handle errors reading the config file
		// Without an explicit path, defaults plus VSI_* env vars are enough.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || path != "" {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	// unmarshal config
	var config Config

	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.External = config.External.Normalize()

	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	if err := config.Collections.Validate(); err != nil {
		panic(err)
	}
	if err := config.SharedMemory.Validate(); err != nil {
		panic(err)
	}
	return &config
}
