package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// OriginConfig points at the server that hosts the markdown sources.
type OriginConfig struct {
	BaseURL   string `yaml:"baseURL"`
	UserAgent string `yaml:"userAgent"`
}

type FetchConfig struct {
	OriginTimeoutMs   int   `yaml:"originTimeoutMs"`
	ManifestTimeoutMs int   `yaml:"manifestTimeoutMs"`
	ShellTimeoutMs    int   `yaml:"shellTimeoutMs"`
	MaxBodyBytes      int64 `yaml:"maxBodyBytes"`
	// ConvertHTML turns text/html origin responses into markdown first.
	ConvertHTML bool `yaml:"convertHTML"`
}

// EvictionConfig controls how old cache entries are removed. The default
// policy "never" keeps entries until they are overwritten.
type EvictionConfig struct {
	Policy               string `yaml:"policy"`
	MaxAgeMinutes        int    `yaml:"maxAgeMinutes"`
	SweepIntervalMinutes int    `yaml:"sweepIntervalMinutes"`
}

type CacheConfig struct {
	Name     string         `yaml:"name"`
	Backend  string         `yaml:"backend"`
	Eviction EvictionConfig `yaml:"eviction"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type MarkdownConfig struct {
	Pattern       string   `yaml:"pattern"`
	Extensions    []string `yaml:"extensions"`
	AutoHeadingID bool     `yaml:"autoHeadingID"`
	Safe          bool     `yaml:"safe"`
}

type StrategyConfig struct {
	// StaleFallback defaults to true: a failed reload serves the cached copy.
	StaleFallback *bool `yaml:"staleFallback"`
	Dedupe        bool  `yaml:"dedupe"`
}

func (s StrategyConfig) StaleFallbackEnabled() bool {
	return s.StaleFallback == nil || *s.StaleFallback
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Origin   OriginConfig   `yaml:"origin"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Cache    CacheConfig    `yaml:"cache"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Markdown MarkdownConfig `yaml:"markdown"`
	Strategy StrategyConfig `yaml:"strategy"`
	Logging  LoggingConfig  `yaml:"logging"`
}

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	return &cfg
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Origin.UserAgent == "" {
		c.Origin.UserAgent = "mdview/1.0"
	}
	if c.Fetch.OriginTimeoutMs == 0 {
		c.Fetch.OriginTimeoutMs = 30000
	}
	if c.Fetch.ManifestTimeoutMs == 0 {
		c.Fetch.ManifestTimeoutMs = 10000
	}
	if c.Fetch.ShellTimeoutMs == 0 {
		c.Fetch.ShellTimeoutMs = 10000
	}
	if c.Cache.Name == "" {
		c.Cache.Name = "markdown-cache"
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = BackendMemory
	}
	c.Cache.Backend = strings.ToLower(c.Cache.Backend)
	if c.Cache.Eviction.Policy == "" {
		c.Cache.Eviction.Policy = "never"
	}
	if c.Cache.Eviction.SweepIntervalMinutes == 0 {
		c.Cache.Eviction.SweepIntervalMinutes = 60
	}
	if c.Markdown.Pattern == "" {
		c.Markdown.Pattern = `(?i)\.md$`
	}
	if c.Strategy.StaleFallback == nil {
		enabled := true
		c.Strategy.StaleFallback = &enabled
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.Origin.BaseURL == "" {
		return fmt.Errorf("origin.baseURL is required")
	}
	if _, err := regexp.Compile(c.Markdown.Pattern); err != nil {
		return fmt.Errorf("markdown.pattern: %w", err)
	}
	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for the redis cache backend")
		}
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres cache backend")
		}
	default:
		return fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (e EvictionConfig) MaxAge() time.Duration {
	return time.Duration(e.MaxAgeMinutes) * time.Minute
}

func (e EvictionConfig) SweepInterval() time.Duration {
	return time.Duration(e.SweepIntervalMinutes) * time.Minute
}

func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
