package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"time"

	"scrapeq/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Queue      QueueConfig      `yaml:"queue"`
	Scraper    ScraperConfig    `yaml:"scraper"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// QueueConfig controls the worker loop and its retry policy.
type QueueConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// ScraperConfig describes the crawl: where to start and how to read pages.
// Every pattern must contain one capture group, except NextPattern.
type ScraperConfig struct {
	Seeds         []string      `yaml:"seeds"`
	UserAgent     string        `yaml:"user_agent"`
	Timeout       time.Duration `yaml:"timeout"`
	RateLimit     float64       `yaml:"rate_limit"`
	Burst         int           `yaml:"burst"`
	MaxPages      int           `yaml:"max_pages"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	CachePrefix   string        `yaml:"cache_prefix"`
	IndexPattern  string        `yaml:"index_pattern"`
	DetailPattern string        `yaml:"detail_pattern"`
	NextPattern   string        `yaml:"next_pattern"`
	TitlePattern  string        `yaml:"title_pattern"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

const (
	DefaultIndexPattern  = `href="([^"]*[?&]genres=[^"]*)"`
	DefaultDetailPattern = `href="(/title/[^"/?]+/)`
	DefaultNextPattern   = `Next &#187;</a>|rel="next"`
	DefaultTitlePattern  = `(?s)<h1[^>]*>(.*?)</h1>`
)

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Queue.MaxRetries < 1 {
		return errors.New("queue max_retries must be at least 1")
	}

	if err := ValidateSeeds(c.Scraper.Seeds); err != nil {
		return err
	}

	return ValidatePatterns(c.Scraper)
}

// ValidateSeeds checks that every seed is an absolute http(s) URL.
func ValidateSeeds(seeds []string) error {
	for _, seed := range seeds {
		u, err := url.Parse(seed)
		if err != nil {
			return fmt.Errorf("seed %q: %w", seed, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("seed %q must be an http(s) URL", seed)
		}
		if u.Host == "" {
			return fmt.Errorf("seed %q has no host", seed)
		}
	}
	return nil
}

func ValidatePatterns(cfg ScraperConfig) error {
	withGroup := map[string]string{
		"index_pattern":  cfg.IndexPattern,
		"detail_pattern": cfg.DetailPattern,
		"title_pattern":  cfg.TitlePattern,
	}
	for name, pattern := range withGroup {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("scraper %s: %w", name, err)
		}
		if re.NumSubexp() < 1 {
			return fmt.Errorf("scraper %s needs a capture group", name)
		}
	}
	if _, err := regexp.Compile(cfg.NextPattern); err != nil {
		return fmt.Errorf("scraper next_pattern: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "scrapeq"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	// Queue defaults
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = models.DefaultPollInterval * time.Second
	}
	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = models.DefaultMaxRetries
	}
	if c.Queue.InitialDelay == 0 {
		c.Queue.InitialDelay = 2 * time.Second
	}
	if c.Queue.MaxDelay == 0 {
		c.Queue.MaxDelay = time.Minute
	}
	if c.Queue.BackoffFactor == 0 {
		c.Queue.BackoffFactor = 2
	}

	// Scraper defaults
	if c.Scraper.UserAgent == "" {
		c.Scraper.UserAgent = models.DefaultUserAgent
	}
	if c.Scraper.Timeout == 0 {
		c.Scraper.Timeout = models.DefaultFetchTimeout * time.Second
	}
	if c.Scraper.RateLimit == 0 {
		c.Scraper.RateLimit = 1
	}
	if c.Scraper.Burst == 0 {
		c.Scraper.Burst = 1
	}
	if c.Scraper.CacheTTL == 0 {
		c.Scraper.CacheTTL = models.DefaultCacheTTL * time.Second
	}
	if c.Scraper.CachePrefix == "" {
		c.Scraper.CachePrefix = "scrapeq:page:"
	}
	if c.Scraper.IndexPattern == "" {
		c.Scraper.IndexPattern = DefaultIndexPattern
	}
	if c.Scraper.DetailPattern == "" {
		c.Scraper.DetailPattern = DefaultDetailPattern
	}
	if c.Scraper.NextPattern == "" {
		c.Scraper.NextPattern = DefaultNextPattern
	}
	if c.Scraper.TitlePattern == "" {
		c.Scraper.TitlePattern = DefaultTitlePattern
	}
}
