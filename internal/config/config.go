// Package config provides unified configuration for the smoosense service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BusyPolicy selects what happens when a query arrives on a session that
// already has one running.
type BusyPolicy string

const (
	BusyReject      BusyPolicy = "reject"
	BusyCancelPrior BusyPolicy = "cancel_prior"
)

// Config holds the unified configuration for the service.
type Config struct {
	// RootDir is the directory tree exposed for browsing and querying
	RootDir string `json:"root_dir" yaml:"root_dir"`

	// DataDir holds service state (history database, engine spill files)
	DataDir string `json:"data_dir" yaml:"data_dir"`

	HTTP       HTTPConfig       `json:"http" yaml:"http"`
	GRPC       GRPCConfig       `json:"grpc" yaml:"grpc"`
	Engine     EngineConfig     `json:"engine" yaml:"engine"`
	Session    SessionConfig    `json:"session" yaml:"session"`
	Schema     SchemaConfig     `json:"schema" yaml:"schema"`
	Pagination PaginationConfig `json:"pagination" yaml:"pagination"`
	Browse     BrowseConfig     `json:"browse" yaml:"browse"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	History    HistoryConfig    `json:"history" yaml:"history"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address
	Addr string `json:"addr" yaml:"addr"`

	// URLPrefix mounts every route under a path prefix, e.g. "/smoosense"
	URLPrefix string `json:"url_prefix" yaml:"url_prefix"`

	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// CORSOrigins lists allowed origins; empty disables CORS headers
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"`

	// RateLimit is requests per second per client IP; 0 disables limiting
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `json:"rate_burst" yaml:"rate_burst"`
}

// GRPCConfig holds the gRPC health server configuration.
type GRPCConfig struct {
	Addr    string `json:"addr" yaml:"addr"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// EngineConfig holds analytical engine settings.
type EngineConfig struct {
	// Threads is the engine thread count; 0 lets the engine decide
	Threads int `json:"threads" yaml:"threads"`

	// MemoryLimit is passed verbatim, e.g. "4GB"; empty keeps the engine default
	MemoryLimit string `json:"memory_limit" yaml:"memory_limit"`

	// TempDir is where the engine spills; defaults under DataDir
	TempDir string `json:"temp_dir" yaml:"temp_dir"`

	// Workers bounds concurrent engine calls across all sessions
	Workers int `json:"workers" yaml:"workers"`

	// QueryTimeout is the deadline for a single execution
	QueryTimeout time.Duration `json:"query_timeout" yaml:"query_timeout"`

	// CSVSampleSize bounds the rows read to infer CSV types
	CSVSampleSize int `json:"csv_sample_size" yaml:"csv_sample_size"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ReapInterval time.Duration `json:"reap_interval" yaml:"reap_interval"`
	BusyPolicy   BusyPolicy    `json:"busy_policy" yaml:"busy_policy"`
	MaxSessions  int           `json:"max_sessions" yaml:"max_sessions"`
}

// SchemaConfig holds schema cache settings.
type SchemaConfig struct {
	// CacheEntries bounds the number of cached dataset schemas
	CacheEntries int `json:"cache_entries" yaml:"cache_entries"`

	// SampleValues is how many values per column are sampled for classification
	SampleValues int `json:"sample_values" yaml:"sample_values"`

	// MaxDatasets bounds the registry before LRU eviction
	MaxDatasets int `json:"max_datasets" yaml:"max_datasets"`

	// InspectTimeout bounds one schema inspection (describe plus sampling)
	InspectTimeout time.Duration `json:"inspect_timeout" yaml:"inspect_timeout"`
}

// PaginationConfig holds page size bounds.
type PaginationConfig struct {
	DefaultPageSize int `json:"default_page_size" yaml:"default_page_size"`
	MaxPageSize     int `json:"max_page_size" yaml:"max_page_size"`
}

// BrowseConfig holds folder browser settings.
type BrowseConfig struct {
	ShowHidden bool `json:"show_hidden" yaml:"show_hidden"`

	// MaxFileBytes bounds files served through the file endpoint
	MaxFileBytes int64 `json:"max_file_bytes" yaml:"max_file_bytes"`
}

// StorageConfig holds remote media settings.
type StorageConfig struct {
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 presigning configuration.
type S3Config struct {
	// Enabled turns s3:// references into presigned links
	Enabled bool `json:"enabled" yaml:"enabled"`

	Region       string        `json:"region" yaml:"region"`
	Endpoint     string        `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool          `json:"use_path_style" yaml:"use_path_style"`
	PresignTTL   time.Duration `json:"presign_ttl" yaml:"presign_ttl"`
}

// HistoryConfig holds query history settings.
type HistoryConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`

	// Retention prunes entries older than this; 0 keeps everything
	Retention time.Duration `json:"retention" yaml:"retention"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`

	// OTLPEndpoint enables OTLP/HTTP log export when set, e.g. "localhost:4318"
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
}

// DefaultConfig returns the default configuration for local use.
func DefaultConfig() *Config {
	return &Config{
		RootDir: ".",
		DataDir: "~/.smoosense",
		HTTP: HTTPConfig{
			Addr:         ":8001",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
			RateBurst:    50,
		},
		GRPC: GRPCConfig{
			Addr:    ":9001",
			Enabled: false,
		},
		Engine: EngineConfig{
			Workers:       8,
			QueryTimeout:  60 * time.Second,
			CSVSampleSize: 20480,
		},
		Session: SessionConfig{
			IdleTimeout:  30 * time.Minute,
			ReapInterval: time.Minute,
			BusyPolicy:   BusyReject,
			MaxSessions:  1024,
		},
		Schema: SchemaConfig{
			CacheEntries:   512,
			SampleValues:   20,
			MaxDatasets:    4096,
			InspectTimeout: 30 * time.Second,
		},
		Pagination: PaginationConfig{
			DefaultPageSize: 100,
			MaxPageSize:     10000,
		},
		Browse: BrowseConfig{
			MaxFileBytes: 256 * 1024 * 1024,
		},
		Storage: StorageConfig{
			S3: S3Config{
				Region:     "us-east-1",
				PresignTTL: time.Hour,
			},
		},
		History: HistoryConfig{
			Enabled:   true,
			Retention: 30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Resolve expands home-relative paths and fills paths derived from DataDir.
func (c *Config) Resolve() {
	if c.RootDir == "" {
		c.RootDir = "."
	}
	c.RootDir = expandHome(c.RootDir)

	if c.DataDir == "" {
		c.DataDir = "~/.smoosense"
	}
	c.DataDir = expandHome(c.DataDir)

	if c.Engine.TempDir == "" {
		c.Engine.TempDir = filepath.Join(c.DataDir, "tmp")
	}
	c.Engine.TempDir = expandHome(c.Engine.TempDir)

	if c.History.Path == "" {
		c.History.Path = filepath.Join(c.DataDir, "history.db")
	}
	c.History.Path = expandHome(c.History.Path)

	c.HTTP.URLPrefix = strings.TrimRight(c.HTTP.URLPrefix, "/")
	if c.HTTP.URLPrefix != "" && !strings.HasPrefix(c.HTTP.URLPrefix, "/") {
		c.HTTP.URLPrefix = "/" + c.HTTP.URLPrefix
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RootDir == "" {
		return fmt.Errorf("root_dir is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Session.BusyPolicy {
	case BusyReject, BusyCancelPrior:
	default:
		return fmt.Errorf("invalid session.busy_policy: %s (must be reject or cancel_prior)", c.Session.BusyPolicy)
	}

	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive, got %d", c.Engine.Workers)
	}
	if c.Engine.QueryTimeout <= 0 {
		return fmt.Errorf("engine.query_timeout must be positive, got %v", c.Engine.QueryTimeout)
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive, got %v", c.Session.IdleTimeout)
	}
	if c.Pagination.DefaultPageSize <= 0 || c.Pagination.MaxPageSize <= 0 {
		return fmt.Errorf("pagination page sizes must be positive")
	}
	if c.Pagination.DefaultPageSize > c.Pagination.MaxPageSize {
		return fmt.Errorf("pagination.default_page_size (%d) exceeds max_page_size (%d)",
			c.Pagination.DefaultPageSize, c.Pagination.MaxPageSize)
	}
	if c.Schema.CacheEntries <= 0 {
		return fmt.Errorf("schema.cache_entries must be positive, got %d", c.Schema.CacheEntries)
	}
	if c.Schema.InspectTimeout <= 0 {
		return fmt.Errorf("schema.inspect_timeout must be positive, got %v", c.Schema.InspectTimeout)
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must not be negative")
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.RateBurst <= 0 {
		return fmt.Errorf("http.rate_burst must be positive when rate limiting is enabled")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv applies environment variables using the SMOOSENSE_ prefix.
func LoadFromEnv(cfg *Config) {
	ApplyEnv(cfg, os.Getenv)
}

// ApplyEnv applies SMOOSENSE_ variables looked up through getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	str("SMOOSENSE_ROOT_DIR", &cfg.RootDir)
	str("SMOOSENSE_DATA_DIR", &cfg.DataDir)

	str("SMOOSENSE_HTTP_ADDR", &cfg.HTTP.Addr)
	str("SMOOSENSE_URL_PREFIX", &cfg.HTTP.URLPrefix)
	if v := getenv("SMOOSENSE_CORS_ORIGINS"); v != "" {
		cfg.HTTP.CORSOrigins = splitList(v)
	}
	if v := getenv("SMOOSENSE_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.HTTP.RateLimit = f
		}
	}

	str("SMOOSENSE_GRPC_ADDR", &cfg.GRPC.Addr)
	boolean("SMOOSENSE_GRPC_ENABLED", &cfg.GRPC.Enabled)

	integer("SMOOSENSE_ENGINE_THREADS", &cfg.Engine.Threads)
	str("SMOOSENSE_ENGINE_MEMORY_LIMIT", &cfg.Engine.MemoryLimit)
	integer("SMOOSENSE_ENGINE_WORKERS", &cfg.Engine.Workers)
	duration("SMOOSENSE_QUERY_TIMEOUT", &cfg.Engine.QueryTimeout)

	duration("SMOOSENSE_SESSION_IDLE_TIMEOUT", &cfg.Session.IdleTimeout)
	if v := getenv("SMOOSENSE_SESSION_BUSY_POLICY"); v != "" {
		cfg.Session.BusyPolicy = BusyPolicy(v)
	}
	integer("SMOOSENSE_MAX_SESSIONS", &cfg.Session.MaxSessions)

	duration("SMOOSENSE_SCHEMA_INSPECT_TIMEOUT", &cfg.Schema.InspectTimeout)

	integer("SMOOSENSE_DEFAULT_PAGE_SIZE", &cfg.Pagination.DefaultPageSize)
	integer("SMOOSENSE_MAX_PAGE_SIZE", &cfg.Pagination.MaxPageSize)

	boolean("SMOOSENSE_SHOW_HIDDEN", &cfg.Browse.ShowHidden)

	boolean("SMOOSENSE_S3_ENABLED", &cfg.Storage.S3.Enabled)
	str("SMOOSENSE_S3_REGION", &cfg.Storage.S3.Region)
	str("SMOOSENSE_S3_ENDPOINT", &cfg.Storage.S3.Endpoint)

	boolean("SMOOSENSE_HISTORY_ENABLED", &cfg.History.Enabled)
	str("SMOOSENSE_HISTORY_PATH", &cfg.History.Path)

	str("SMOOSENSE_LOG_LEVEL", &cfg.Logging.Level)
	str("SMOOSENSE_LOG_FORMAT", &cfg.Logging.Format)
	str("SMOOSENSE_OTLP_ENDPOINT", &cfg.Logging.OTLPEndpoint)
}

// EnsureDirectories creates the state directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Engine.TempDir,
	}
	if c.History.Enabled {
		dirs = append(dirs, filepath.Dir(c.History.Path))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
