// Package config loads the service configuration from the environment, an optional .env
// file and an optional YAML overlay named by EVENTSCOUT_CONFIG.
//
// Secrets and endpoints come from the environment only. The overlay tunes behaviour:
// pipeline thresholds, crawl targets, window length, schedule, area and time zone.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // zone names resolve in minimal containers

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"github.com/calque-ai/eventscout/pkg/crawler"
	"github.com/calque-ai/eventscout/pkg/helpers"
	"github.com/calque-ai/eventscout/pkg/pipeline"
)

// ErrNoBackend is returned by RequireBackend when no datastore is configured.
var ErrNoBackend = errors.New("backend not configured")

// Index backends.
const (
	IndexPGVector = "pgvector"
	IndexQdrant   = "qdrant"
	IndexSQLite   = "sqlite"
	IndexMemory   = "memory"
)

// Cache backends.
const (
	CachePostgres = "postgres"
	CacheBadger   = "badger"
	CacheSQLite   = "sqlite"
	CacheMemory   = "memory"
)

// Store selects and locates the datastores.
type Store struct {
	// IndexBackend is one of the Index* constants, or empty when no backend is configured.
	IndexBackend string
	CacheBackend string

	DatabaseURL  string
	QdrantURL    string
	QdrantAPIKey string
	SQLitePath   string
	BadgerPath   string

	CacheTTL time.Duration
}

// LLM selects the chat model.
type LLM struct {
	Provider  string // openai | gemini
	Model     string
	OpenAIKey string
	GoogleKey string
	BaseURL   string
}

// Embedding selects the embedding model.
type Embedding struct {
	Provider   string // openai | gemini | ollama
	Model      string
	APIKey     string
	Dimensions int
	OllamaHost string
}

// Config is the full service configuration.
type Config struct {
	Port          string
	LogLevel      string
	LogFormat     string
	PublicBaseURL string

	// AllowedOrigins are the CORS origins. Default: PublicBaseURL, or "*" when unset.
	AllowedOrigins []string

	CronSecret     string
	GoogleClientID string
	BraveAPIKey    string

	RequestTimeout time.Duration
	CrawlTimeout   time.Duration
	CrawlSchedule  string
	CrawlOnStart   bool
	OTLPEndpoint   string

	Area     string
	Location *time.Location

	Store     Store
	LLM       LLM
	Embedding Embedding
	Pipeline  pipeline.Config
	Crawl     crawler.Config
}

// overlay is the YAML file layout. Absent keys keep the values already loaded.
type overlay struct {
	Area     string          `yaml:"area"`
	Timezone string          `yaml:"timezone"`
	Schedule string          `yaml:"schedule"`
	CacheTTL string          `yaml:"cache_ttl"`
	Pipeline pipeline.Config `yaml:"pipeline"`
	Crawl    crawler.Config  `yaml:"crawl"`
}

// Load reads dotenvFiles (".env" when none are given; missing files are ignored), then
// the environment, then the YAML overlay.
func Load(dotenvFiles ...string) (*Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := fromEnv()
	if path := os.Getenv("EVENTSCOUT_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.Crawl.Area = cfg.Area
	cfg.Crawl.Location = cfg.Location
	if len(cfg.Crawl.Targets) == 0 {
		cfg.Crawl.Targets = crawler.DefaultTargets(cfg.Area)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() *Config {
	cfg := &Config{
		Port:           helpers.GetStringFromEnv("PORT", "8080"),
		LogLevel:       helpers.GetStringFromEnv("LOG_LEVEL", "info"),
		LogFormat:      helpers.GetStringFromEnv("LOG_FORMAT", "json"),
		PublicBaseURL:  strings.TrimRight(os.Getenv("PUBLIC_API_BASE_URL"), "/"),
		CronSecret:     os.Getenv("CRON_SECRET"),
		GoogleClientID: os.Getenv("GOOGLE_CLIENT_ID"),
		BraveAPIKey:    os.Getenv("BRAVE_API_KEY"),
		RequestTimeout: helpers.GetDurationFromEnv("REQUEST_TIMEOUT", 20*time.Second),
		CrawlTimeout:   helpers.GetDurationFromEnv("CRAWL_TIMEOUT", 5*time.Minute),
		CrawlSchedule:  os.Getenv("CRAWL_SCHEDULE"),
		CrawlOnStart:   helpers.GetBoolFromEnv("CRAWL_ON_START", false),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Area:           os.Getenv("EVENTSCOUT_AREA"),
		Location:       time.UTC,
		Pipeline:       pipeline.DefaultConfig(),
	}
	if tz := os.Getenv("EVENTSCOUT_TIMEZONE"); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			cfg.Location = loc
		}
	}
	defaultOrigins := []string{"*"}
	if cfg.PublicBaseURL != "" {
		defaultOrigins = []string{cfg.PublicBaseURL}
	}
	cfg.AllowedOrigins = helpers.GetListFromEnv("ALLOWED_ORIGINS", defaultOrigins)

	t := &cfg.Pipeline.Thresholds
	t.High = helpers.GetFloatFromEnv("MATCH_THRESHOLD_HIGH", t.High)
	t.Low = helpers.GetFloatFromEnv("MATCH_THRESHOLD_LOW", t.Low)

	cfg.Crawl = crawler.DefaultConfig(cfg.Area)
	cfg.Crawl.Targets = nil

	cfg.Store = Store{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		QdrantURL:    os.Getenv("QDRANT_URL"),
		QdrantAPIKey: os.Getenv("QDRANT_API_KEY"),
		SQLitePath:   os.Getenv("SQLITE_PATH"),
		BadgerPath:   os.Getenv("BADGER_PATH"),
		CacheTTL:     helpers.GetDurationFromEnv("CACHE_TTL", 6*time.Hour),
	}
	cfg.Store.IndexBackend = strings.ToLower(helpers.GetStringFromEnv("INDEX_BACKEND", cfg.Store.deriveIndex()))
	cfg.Store.CacheBackend = strings.ToLower(helpers.GetStringFromEnv("CACHE_BACKEND", cfg.Store.deriveCache()))

	cfg.LLM = LLM{
		OpenAIKey: os.Getenv("OPENAI_API_KEY"),
		GoogleKey: os.Getenv("GOOGLE_API_KEY"),
		BaseURL:   os.Getenv("LLM_BASE_URL"),
	}
	cfg.LLM.Provider = strings.ToLower(helpers.GetStringFromEnv("LLM_PROVIDER", cfg.LLM.deriveProvider()))
	cfg.LLM.Model = helpers.GetStringFromEnv("LLM_MODEL", defaultChatModel(cfg.LLM.Provider))

	cfg.Embedding = Embedding{
		Provider:   strings.ToLower(helpers.GetStringFromEnv("EMBEDDING_PROVIDER", cfg.LLM.Provider)),
		OllamaHost: os.Getenv("OLLAMA_HOST"),
	}
	cfg.Embedding.Model = helpers.GetStringFromEnv("EMBEDDING_MODEL", defaultEmbeddingModel(cfg.Embedding.Provider))
	cfg.Embedding.Dimensions = helpers.GetIntFromEnv("EMBEDDING_DIMENSIONS", defaultDimensions(cfg.Embedding.Provider))
	cfg.Embedding.APIKey = helpers.FirstNonEmpty(os.Getenv("EMBEDDING_API_KEY"), cfg.providerKey(cfg.Embedding.Provider))
	return cfg
}

func (s Store) deriveIndex() string {
	switch {
	case s.DatabaseURL != "":
		return IndexPGVector
	case s.QdrantURL != "":
		return IndexQdrant
	case s.SQLitePath != "":
		return IndexSQLite
	default:
		return ""
	}
}

func (s Store) deriveCache() string {
	switch {
	case s.BadgerPath != "":
		return CacheBadger
	case s.DatabaseURL != "":
		return CachePostgres
	case s.SQLitePath != "":
		return CacheSQLite
	default:
		return CacheMemory
	}
}

func (l LLM) deriveProvider() string {
	if l.OpenAIKey == "" && l.GoogleKey != "" {
		return "gemini"
	}
	return "openai"
}

func (c *Config) providerKey(provider string) string {
	switch provider {
	case "gemini":
		return c.LLM.GoogleKey
	case "openai":
		return c.LLM.OpenAIKey
	default:
		return ""
	}
}

func defaultChatModel(provider string) string {
	if provider == "gemini" {
		return "gemini-2.5-flash"
	}
	return "gpt-4o-mini"
}

func defaultEmbeddingModel(provider string) string {
	switch provider {
	case "gemini":
		return "gemini-embedding-001"
	case "ollama":
		return "nomic-embed-text"
	default:
		return "text-embedding-3-small"
	}
}

func defaultDimensions(provider string) int {
	switch provider {
	case "gemini":
		return 768
	case "ollama":
		return 768
	default:
		return 1536
	}
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	o := overlay{Area: c.Area, Pipeline: c.Pipeline, Crawl: c.Crawl}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	c.Area = o.Area
	c.Pipeline = o.Pipeline
	c.Pipeline.Retry = pipeline.DefaultConfig().Retry
	c.Crawl = o.Crawl
	if o.Schedule != "" && c.CrawlSchedule == "" {
		c.CrawlSchedule = o.Schedule
	}
	if o.Timezone != "" {
		loc, err := time.LoadLocation(o.Timezone)
		if err != nil {
			return fmt.Errorf("config file timezone: %w", err)
		}
		c.Location = loc
	}
	if o.CacheTTL != "" {
		ttl, err := time.ParseDuration(o.CacheTTL)
		if err != nil {
			return fmt.Errorf("config file cache_ttl: %w", err)
		}
		c.Store.CacheTTL = ttl
	}
	return nil
}

// Validate checks value ranges and backend names.
func (c *Config) Validate() error {
	var errs []error

	t := c.Pipeline.Thresholds
	if t.Low < 0 || t.High > 1 || t.Low > t.High {
		errs = append(errs, fmt.Errorf("thresholds must satisfy 0 <= low <= high <= 1, got low=%.2f high=%.2f", t.Low, t.High))
	}
	if c.Pipeline.MinHigh < 1 || c.Pipeline.MinLow < 1 {
		errs = append(errs, errors.New("min_high and min_low must be at least 1"))
	}
	if c.Crawl.WindowDays < 1 {
		errs = append(errs, fmt.Errorf("crawl window_days must be at least 1, got %d", c.Crawl.WindowDays))
	}

	switch c.Store.IndexBackend {
	case "", IndexPGVector, IndexQdrant, IndexSQLite, IndexMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown INDEX_BACKEND %q", c.Store.IndexBackend))
	}
	switch c.Store.CacheBackend {
	case CachePostgres, CacheBadger, CacheSQLite, CacheMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_BACKEND %q", c.Store.CacheBackend))
	}
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider))
	}
	switch c.Embedding.Provider {
	case "openai", "gemini", "ollama":
	default:
		errs = append(errs, fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.Embedding.Provider))
	}
	return errors.Join(errs...)
}

// HasBackend reports whether an event index is configured. Without one the service still
// starts and answers health checks.
func (c *Config) HasBackend() bool {
	return c.Store.IndexBackend != ""
}

// RequireBackend returns ErrNoBackend when HasBackend is false.
func (c *Config) RequireBackend() error {
	if !c.HasBackend() {
		return ErrNoBackend
	}
	return nil
}
