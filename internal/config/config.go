package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port      int              `json:"port"`
	LogConfig logger.LogConfig `json:"log_config"`
	Server    ServerConfig     `json:"server"`
	Database  DatabaseConfig   `json:"database"`
	Schema    SchemaConfig     `json:"schema"`
	Embedding EmbeddingConfig  `json:"embedding"`
	Index     IndexConfig      `json:"index"`
	Search    SearchConfig     `json:"search"`
	Ingest    IngestConfig     `json:"ingest"`
	FileStore FileStoreConfig  `json:"file_store"`
	Schedule  ScheduleConfig   `json:"schedule"`
}

type ServerConfig struct {
	CORSOrigins []string `json:"cors_origins"`
	// SearchRateLimitMs is the minimum gap between two searches from one client.
	SearchRateLimitMs int `json:"search_rate_limit_ms"`
	MaxBulkItems      int `json:"max_bulk_items"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver"`
	Path     string `json:"path"`
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
	Table    string `json:"table"`
}

type SchemaConfig struct {
	AllowRecreate bool `json:"allow_recreate"`
}

type EmbedProviderConfig struct {
	Name  string      `json:"name"`
	Model string      `json:"model"`
	Data  interface{} `json:"data"`
}

type EmbeddingConfig struct {
	Providers       []EmbedProviderConfig `json:"providers"`
	MaxTokens       int                   `json:"max_tokens"`
	CharsPerToken   int                   `json:"chars_per_token"`
	TimeoutSeconds  int                   `json:"timeout_seconds"`
	CacheSize       int                   `json:"cache_size"`
	CacheTTLSeconds int                   `json:"cache_ttl_seconds"`
}

type IndexConfig struct {
	MinRows int64 `json:"min_rows"`
}

type SearchConfig struct {
	DefaultLimit int `json:"default_limit"`
	MaxLimit     int `json:"max_limit"`
}

type IngestConfig struct {
	Concurrency  int    `json:"concurrency"`
	GroupDelayMs int    `json:"group_delay_ms"`
	SourcePrefix string `json:"source_prefix"`
	ReportPrefix string `json:"report_prefix"`
}

// FileStoreConfig selects the descriptor source. An empty type disables it.
type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type ScheduleConfig struct {
	IndexEnsure  string `json:"index_ensure"`
	SourceIngest string `json:"source_ingest"`
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.Server.MaxBulkItems == 0 {
		c.Server.MaxBulkItems = 1000
	}

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" && c.Database.Host == "" {
			return fmt.Errorf("database.dsn or database.host is required for postgres")
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres")
	}
	if c.Database.Table == "" {
		c.Database.Table = "content"
	}
	if !tableNameRe.MatchString(c.Database.Table) {
		return fmt.Errorf("database.table %q is not a valid identifier", c.Database.Table)
	}

	if len(c.Embedding.Providers) == 0 {
		return fmt.Errorf("embedding.providers is required")
	}
	for i, p := range c.Embedding.Providers {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("embedding.providers[%d].name is required", i)
		}
	}
	if c.Embedding.MaxTokens == 0 {
		c.Embedding.MaxTokens = 8000
	}
	if c.Embedding.CharsPerToken == 0 {
		c.Embedding.CharsPerToken = 4
	}
	if c.Embedding.TimeoutSeconds == 0 {
		c.Embedding.TimeoutSeconds = 30
	}
	if c.Embedding.CacheTTLSeconds == 0 {
		c.Embedding.CacheTTLSeconds = 600
	}

	if c.Index.MinRows == 0 {
		c.Index.MinRows = 256
	}
	if c.Search.DefaultLimit == 0 {
		c.Search.DefaultLimit = 10
	}
	if c.Search.MaxLimit == 0 {
		c.Search.MaxLimit = 100
	}
	if c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search.default_limit must not exceed search.max_limit")
	}

	if c.Ingest.Concurrency == 0 {
		c.Ingest.Concurrency = 16
	}
	if c.Ingest.Concurrency < 0 {
		return fmt.Errorf("ingest.concurrency must be positive")
	}
	if c.Ingest.ReportPrefix == "" {
		c.Ingest.ReportPrefix = "reports"
	}

	switch strings.ToLower(c.FileStore.Type) {
	case "", "local", "s3":
	default:
		return fmt.Errorf("file_store.type must be local or s3")
	}
	if c.Schedule.SourceIngest != "" && c.FileStore.Type == "" {
		return fmt.Errorf("schedule.source_ingest requires file_store")
	}
	return nil
}
