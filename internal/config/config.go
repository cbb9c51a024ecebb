// Package config loads and validates portscout configuration files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/logging"
)

const (
	defaultAPIPort           = 8080
	defaultMaxWorkers        = 100
	defaultThreads           = 50
	defaultMaxConcurrentScan = 10
	defaultPostgresPort      = 5432
	configDirPerm            = 0750
	configFilePerm           = 0600
)

// Config represents the complete portscout configuration
type Config struct {
	// Scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// History store configuration
	History HistoryConfig `yaml:"history" json:"history"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Scheduler settings shared by all scheduled scans
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// Scheduled scans
	Schedules []ScheduleConfig `yaml:"schedules" json:"schedules"`
}

// ScanningConfig holds scanning-related settings
type ScanningConfig struct {
	// TCP connect timeout per port
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`

	// Read deadline for each banner read
	BannerTimeout time.Duration `yaml:"banner_timeout" json:"banner_timeout"`

	// Upper bound on per-scan workers regardless of requested threads.
	// A full range against a filtered host takes about
	// 65535 * connect_timeout / max_workers, which api.write_timeout must
	// cover for POST /scan to deliver its response.
	MaxWorkers int `yaml:"max_workers" json:"max_workers"`

	// Thread count used when a request omits it
	DefaultThreads int `yaml:"default_threads" json:"default_threads"`

	// Scans allowed to run at the same time across all requests
	MaxConcurrentScans int `yaml:"max_concurrent_scans" json:"max_concurrent_scans"`

	// Traversal used when a request omits it
	DefaultTraversal string `yaml:"default_traversal" json:"default_traversal"`

	// Nameservers queried directly instead of the system resolver
	Nameservers []string `yaml:"nameservers" json:"nameservers"`

	// Timeout for a single DNS exchange
	DNSTimeout time.Duration `yaml:"dns_timeout" json:"dns_timeout"`

	// Seed for the bfs shuffle, zero means time seeded
	Seed int64 `yaml:"seed" json:"seed"`

	// Lets the adaptive strategy take its deep exploration phase
	AdaptiveDeepScan bool `yaml:"adaptive_deep_scan" json:"adaptive_deep_scan"`

	// Rate limiting of outgoing connection attempts
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Location data added to host lookups
	Geolocation GeolocationConfig `yaml:"geolocation" json:"geolocation"`
}

// GeolocationConfig selects the IP geolocation service used by lookups.
type GeolocationConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	URL     string        `yaml:"url" json:"url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Enable rate limiting
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Requests per second
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`

	// Burst size
	BurstSize int `yaml:"burst_size" json:"burst_size"`
}

// APIConfig holds API server settings
type APIConfig struct {
	// Enable API server
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen host
	Host string `yaml:"host" json:"host"`

	// Listen port
	Port int `yaml:"port" json:"port"`

	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Maximum request size
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size"`

	// CORS settings
	CORS CORSConfig `yaml:"cors" json:"cors"`

	// Per-process request rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Expose /metrics
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	// Enable CORS
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Allowed origins
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`

	// Allowed methods
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`

	// Allowed headers
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
}

// HistoryConfig holds scan history settings
type HistoryConfig struct {
	// Key under which scans are recorded
	UserKey string `yaml:"user_key" json:"user_key"`

	// Oldest entries are dropped past this count, zero keeps everything
	MaxEntries int `yaml:"max_entries" json:"max_entries"`

	// Optional durable copy of the history
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
}

// PostgresConfig holds connection settings for history persistence.
type PostgresConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	Database     string `yaml:"database" json:"database"`
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password" json:"password"`
	SSLMode      string `yaml:"ssl_mode" json:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns"`
}

// DSN returns a lib/pq key=value connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		p.Host, p.Port, p.Database, p.Username, p.Password, p.SSLMode,
	)
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Enable request logging for API
	RequestLogging bool `yaml:"request_logging" json:"request_logging"`
}

// ToLogging converts the settings into a logging.Config.
func (l LoggingConfig) ToLogging() logging.Config {
	return logging.Config{
		Level:  logging.LogLevel(l.Level),
		Format: logging.LogFormat(l.Format),
		Output: l.Output,
	}
}

// SchedulerConfig holds settings of the scheduled scan runner.
type SchedulerConfig struct {
	// Scheduled scans running at the same time
	Workers int `yaml:"workers" json:"workers"`

	// Attempts after a retryable failure
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// Pause between attempts
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// ScheduleConfig describes a recurring scan.
type ScheduleConfig struct {
	Name        string `yaml:"name" json:"name"`
	Cron        string `yaml:"cron" json:"cron"`
	Target      string `yaml:"target" json:"target"`
	StartPort   int    `yaml:"start_port" json:"start_port"`
	EndPort     int    `yaml:"end_port" json:"end_port"`
	Traversal   string `yaml:"traversal" json:"traversal"`
	Threads     int    `yaml:"threads" json:"threads"`
	Fingerprint bool   `yaml:"fingerprint" json:"fingerprint"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			ConnectTimeout:     500 * time.Millisecond,
			BannerTimeout:      2 * time.Second,
			MaxWorkers:         defaultMaxWorkers,
			DefaultThreads:     defaultThreads,
			MaxConcurrentScans: defaultMaxConcurrentScan,
			DefaultTraversal:   "bfs",
			DNSTimeout:         2 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 1000,
				BurstSize:         100,
			},
			Geolocation: GeolocationConfig{
				URL:     "http://ip-api.com/json/",
				Timeout: 3 * time.Second,
			},
		},
		API: APIConfig{
			Enabled:         true,
			Host:            "127.0.0.1",
			Port:            defaultAPIPort,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxRequestSize:  1024 * 1024, // 1MB
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
			},
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 10,
				BurstSize:         20,
			},
			EnableMetrics: true,
		},
		History: HistoryConfig{
			UserKey: "default_user",
			Postgres: PostgresConfig{
				Host:         "localhost",
				Port:         defaultPostgresPort,
				SSLMode:      "disable",
				MaxOpenConns: 5,
			},
		},
		Scheduler: SchedulerConfig{
			Workers:    2,
			MaxRetries: 2,
			RetryDelay: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			Output:         "stdout",
			RequestLogging: true,
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// JSON is a subset of YAML, so one decoder serves both extensions.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(path), err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validTraversals = map[string]bool{
	"sequential": true,
	"bfs":        true,
	"dfs":        true,
	"adaptive":   true,
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Scanning.ConnectTimeout <= 0 {
		return errors.ErrConfigInvalid("scanning.connect_timeout", c.Scanning.ConnectTimeout)
	}
	if c.Scanning.BannerTimeout <= 0 {
		return errors.ErrConfigInvalid("scanning.banner_timeout", c.Scanning.BannerTimeout)
	}
	if c.Scanning.MaxWorkers <= 0 {
		return errors.ErrConfigInvalid("scanning.max_workers", c.Scanning.MaxWorkers)
	}
	if c.Scanning.DefaultThreads <= 0 {
		return errors.ErrConfigInvalid("scanning.default_threads", c.Scanning.DefaultThreads)
	}
	if c.Scanning.MaxConcurrentScans <= 0 {
		return errors.ErrConfigInvalid("scanning.max_concurrent_scans", c.Scanning.MaxConcurrentScans)
	}
	if !validTraversals[c.Scanning.DefaultTraversal] {
		return errors.ErrConfigInvalid("scanning.default_traversal", c.Scanning.DefaultTraversal)
	}
	if c.Scanning.RateLimit.Enabled && c.Scanning.RateLimit.RequestsPerSecond <= 0 {
		return errors.ErrConfigInvalid("scanning.rate_limit.requests_per_second", c.Scanning.RateLimit.RequestsPerSecond)
	}

	if c.Scanning.Geolocation.Enabled && c.Scanning.Geolocation.URL == "" {
		return errors.ErrConfigMissing("scanning.geolocation.url")
	}

	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			return errors.ErrConfigInvalid("api.port", c.API.Port)
		}
		if c.API.Host == "" {
			return errors.ErrConfigMissing("api.host")
		}
	}
	if c.API.RateLimit.Enabled && c.API.RateLimit.RequestsPerSecond <= 0 {
		return errors.ErrConfigInvalid("api.rate_limit.requests_per_second", c.API.RateLimit.RequestsPerSecond)
	}

	if c.History.UserKey == "" {
		return errors.ErrConfigMissing("history.user_key")
	}
	if c.History.MaxEntries < 0 {
		return errors.ErrConfigInvalid("history.max_entries", c.History.MaxEntries)
	}
	if c.History.Postgres.Enabled {
		if c.History.Postgres.Database == "" {
			return errors.ErrConfigMissing("history.postgres.database")
		}
		if c.History.Postgres.Username == "" {
			return errors.ErrConfigMissing("history.postgres.username")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	if c.Scheduler.Workers < 0 {
		return errors.ErrConfigInvalid("scheduler.workers", c.Scheduler.Workers)
	}
	if c.Scheduler.MaxRetries < 0 {
		return errors.ErrConfigInvalid("scheduler.max_retries", c.Scheduler.MaxRetries)
	}
	if c.Scheduler.RetryDelay < 0 {
		return errors.ErrConfigInvalid("scheduler.retry_delay", c.Scheduler.RetryDelay)
	}

	for i, s := range c.Schedules {
		field := fmt.Sprintf("schedules[%d]", i)
		if s.Cron == "" {
			return errors.ErrConfigMissing(field + ".cron")
		}
		if s.Target == "" {
			return errors.ErrConfigMissing(field + ".target")
		}
		if s.Traversal != "" && !validTraversals[s.Traversal] {
			return errors.ErrConfigInvalid(field+".traversal", s.Traversal)
		}
	}

	return nil
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// IsAPIEnabled returns true if API server is enabled
func (c *Config) IsAPIEnabled() bool {
	return c.API.Enabled
}
