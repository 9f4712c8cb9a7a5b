// Package config provides centralized configuration management for cexdata.
// Configuration is loaded from defaults, then a JSON or YAML file, then
// environment variables, and validated as a whole.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"gopkg.in/yaml.v3"

	apperrors "github.com/johnayoung/cexdata/internal/errors"
	"github.com/johnayoung/cexdata/internal/exchange"
	"github.com/johnayoung/cexdata/internal/models"
)

const dateLayout = "2006-01-02"

// AppConfig represents the complete application configuration
type AppConfig struct {
	// Application metadata
	AppName    string `json:"app_name" yaml:"app_name" env:"APP_NAME"`
	Version    string `json:"version" yaml:"version" env:"VERSION"`
	ConfigPath string `json:"-" yaml:"-" env:"CONFIG_PATH"`

	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Exchange ExchangeConfig `json:"exchange" yaml:"exchange"`
	Download DownloadConfig `json:"download" yaml:"download"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// StorageConfig configures the series store
type StorageConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir" env:"CEXDATA_DATA_DIR"` // Root of <exchange>/<interval>/<PAIR>.csv
}

// ExchangeConfig configures the exchange adapter
type ExchangeConfig struct {
	Name              string  `json:"name" yaml:"name" env:"EXCHANGE_NAME"`                            // "binance"
	BaseURL           string  `json:"base_url" yaml:"base_url" env:"EXCHANGE_BASE_URL"`                // Override the REST endpoint
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" env:"RATE_LIMIT"` // Client side throttle
	Burst             int     `json:"burst" yaml:"burst" env:"RATE_LIMIT_BURST"`                       // Token bucket size
	Timeout           string  `json:"timeout" yaml:"timeout" env:"HTTP_TIMEOUT"`                       // HTTP request timeout
}

// DownloadConfig configures what Download fetches by default
type DownloadConfig struct {
	Floor       string            `json:"floor" yaml:"floor" env:"DOWNLOAD_FLOOR"`            // Start of history, YYYY-MM-DD
	EndDate     string            `json:"end_date" yaml:"end_date" env:"DOWNLOAD_END_DATE"`   // Empty means now
	Pairs       []string          `json:"pairs" yaml:"pairs" env:"DEFAULT_PAIRS"`             // Comma separated in env
	Intervals   []string          `json:"intervals" yaml:"intervals" env:"DEFAULT_INTERVALS"` // Comma separated in env
	RetryPolicy RetryPolicyConfig `json:"retry_policy" yaml:"retry_policy"`                   // Per window retry budget
}

// RetryPolicyConfig configures retry behavior
type RetryPolicyConfig struct {
	MaxAttempts  int     `json:"max_attempts" yaml:"max_attempts" env:"RETRY_ATTEMPTS"` // Attempts per window
	InitialDelay string  `json:"initial_delay" yaml:"initial_delay"`                    // Initial delay between retries
	MaxDelay     string  `json:"max_delay" yaml:"max_delay"`                            // Maximum delay between retries
	Multiplier   float64 `json:"multiplier" yaml:"multiplier"`                          // Exponential growth factor
	Jitter       float64 `json:"jitter" yaml:"jitter"`                                  // Randomization factor in [0, 1)
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" yaml:"level" env:"LOG_LEVEL"`                   // Log level: debug, info, warn, error
	Format        string            `json:"format" yaml:"format" env:"LOG_FORMAT"`                // Log format: json, text
	Output        string            `json:"output" yaml:"output" env:"LOG_OUTPUT"`                // Output: stdout, stderr, file
	FilePath      string            `json:"file_path" yaml:"file_path" env:"LOG_FILE_PATH"`       // Log file path
	MaxSize       int               `json:"max_size" yaml:"max_size" env:"LOG_MAX_SIZE"`          // Maximum log file size in MB
	MaxBackups    int               `json:"max_backups" yaml:"max_backups" env:"LOG_MAX_BACKUPS"` // Maximum log file backups
	MaxAge        int               `json:"max_age" yaml:"max_age" env:"LOG_MAX_AGE"`             // Maximum log file age in days
	Compress      bool              `json:"compress" yaml:"compress" env:"LOG_COMPRESS"`          // Compress old log files
	ContextFields map[string]string `json:"context_fields" yaml:"context_fields"`                 // Additional context fields
}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	logger     *slog.Logger
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigManager{
		configPath: configPath,
		logger:     logger,
	}
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		config.ConfigPath = cm.configPath
	}

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Debug("configuration loaded successfully",
		"config_path", cm.configPath,
		"data_dir", config.Storage.DataDir,
		"exchange", config.Exchange.Name,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a JSON or YAML file
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadFromEnv loads configuration from environment variables. Malformed
// numbers are reported rather than ignored.
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	if val := os.Getenv("APP_NAME"); val != "" {
		config.AppName = val
	}

	// Storage
	if val := os.Getenv("CEXDATA_DATA_DIR"); val != "" {
		config.Storage.DataDir = val
	}

	// Exchange
	if val := os.Getenv("EXCHANGE_NAME"); val != "" {
		config.Exchange.Name = val
	}
	if val := os.Getenv("EXCHANGE_BASE_URL"); val != "" {
		config.Exchange.BaseURL = val
	}
	if val := os.Getenv("RATE_LIMIT"); val != "" {
		rps, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT: %w", err)
		}
		config.Exchange.RequestsPerSecond = rps
	}
	if val := os.Getenv("RATE_LIMIT_BURST"); val != "" {
		burst, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_BURST: %w", err)
		}
		config.Exchange.Burst = burst
	}
	if val := os.Getenv("HTTP_TIMEOUT"); val != "" {
		config.Exchange.Timeout = val
	}

	// Download
	if val := os.Getenv("DOWNLOAD_FLOOR"); val != "" {
		config.Download.Floor = val
	}
	if val := os.Getenv("DOWNLOAD_END_DATE"); val != "" {
		config.Download.EndDate = val
	}
	if val := os.Getenv("DEFAULT_PAIRS"); val != "" {
		config.Download.Pairs = splitList(val)
	}
	if val := os.Getenv("DEFAULT_INTERVALS"); val != "" {
		config.Download.Intervals = splitList(val)
	}
	if val := os.Getenv("RETRY_ATTEMPTS"); val != "" {
		attempts, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("RETRY_ATTEMPTS: %w", err)
		}
		config.Download.RetryPolicy.MaxAttempts = attempts
	}

	// Logging
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.Logging.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}
	if val := os.Getenv("LOG_FILE_PATH"); val != "" {
		config.Logging.FilePath = val
	}

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration for consistency and required fields
func (c *AppConfig) Validate() error {
	var errors []string

	if c.Storage.DataDir == "" {
		errors = append(errors, "storage.data_dir is required")
	}

	if c.Exchange.Name == "" {
		errors = append(errors, "exchange.name is required")
	} else if profile, err := exchange.LookupProfile(c.Exchange.Name); err != nil {
		errors = append(errors, fmt.Sprintf("exchange.name: %v", err))
	} else if !exchange.HasClient(profile.Name) {
		errors = append(errors, fmt.Sprintf("exchange.name: exchange %s has no client implementation, supported: binance", profile.Name))
	}
	if c.Exchange.RequestsPerSecond < 0 {
		errors = append(errors, "exchange.requests_per_second cannot be negative")
	}
	if c.Exchange.Burst < 0 {
		errors = append(errors, "exchange.burst cannot be negative")
	}
	if c.Exchange.Timeout != "" {
		if _, err := time.ParseDuration(c.Exchange.Timeout); err != nil {
			errors = append(errors, fmt.Sprintf("exchange.timeout is not a valid duration: %v", err))
		}
	}

	if _, err := c.Download.FloorTime(); err != nil {
		errors = append(errors, fmt.Sprintf("download.floor: %v", err))
	}
	if _, err := c.Download.EndTime(); err != nil {
		errors = append(errors, fmt.Sprintf("download.end_date: %v", err))
	}
	for _, label := range c.Download.Intervals {
		if _, err := models.ParseInterval(label); err != nil {
			errors = append(errors, fmt.Sprintf("download.intervals: %v", err))
		}
	}
	for _, pair := range c.Download.Pairs {
		if _, err := exchange.CanonicalPair(pair); err != nil {
			errors = append(errors, fmt.Sprintf("download.pairs: %v", err))
		}
	}
	if c.Download.RetryPolicy.MaxAttempts <= 0 {
		errors = append(errors, "download.retry_policy.max_attempts must be greater than 0")
	}
	if _, err := c.Download.RetryPolicy.Policy(); err != nil {
		errors = append(errors, fmt.Sprintf("download.retry_policy: %v", err))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}

	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Logging.Output] {
		errors = append(errors, "logging.output must be one of: stdout, stderr, file")
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		errors = append(errors, "logging.file_path is required when output is file")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// validateConfig validates the configuration for consistency and required fields
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	return config.Validate()
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// SaveConfig writes the current configuration to the config file, as YAML or
// JSON by extension.
func (cm *ConfigManager) SaveConfig(ctx context.Context) error {
	if cm.configPath == "" {
		return fmt.Errorf("no config path specified")
	}
	if cm.config == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if err := os.MkdirAll(filepath.Dir(cm.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cm.config)
	default:
		data, err = json.MarshalIndent(cm.config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(cm.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.logger.Info("configuration saved", "path", cm.configPath)
	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "cexdata",
		Version: "1.0.0",
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Exchange: ExchangeConfig{
			Name:              "binance",
			RequestsPerSecond: 10,
			Burst:             10,
			Timeout:           "30s",
		},
		Download: DownloadConfig{
			Floor:     "2017-01-01",
			Pairs:     []string{"BTC-USD", "ETH-USD"},
			Intervals: []string{"1h", "1d"},
			RetryPolicy: RetryPolicyConfig{
				MaxAttempts:  3,
				InitialDelay: "500ms",
				MaxDelay:     "30s",
				Multiplier:   2.0,
				Jitter:       0.5,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   "",
			MaxSize:    100, // 100MB
			MaxBackups: 5,
			MaxAge:     30, // 30 days
			Compress:   true,
			ContextFields: map[string]string{
				"service": "cexdata",
			},
		},
	}
}

// FloorTime parses the floor date as UTC midnight.
func (d DownloadConfig) FloorTime() (time.Time, error) {
	return ParseDate(d.Floor)
}

// EndTime parses the end date. A zero time means "now".
func (d DownloadConfig) EndTime() (time.Time, error) {
	if d.EndDate == "" {
		return time.Time{}, nil
	}
	return ParseDate(d.EndDate)
}

// ParseDate accepts YYYY-MM-DD or RFC3339.
func ParseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	if t, err := time.Parse(dateLayout, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD or RFC3339", value)
	}
	return t.UTC(), nil
}

// Policy converts the retry configuration into an errors.RetryPolicy.
func (r RetryPolicyConfig) Policy() (apperrors.RetryPolicy, error) {
	policy := apperrors.DefaultRetryPolicy()
	if r.MaxAttempts > 0 {
		policy.MaxAttempts = r.MaxAttempts
	}
	if r.InitialDelay != "" {
		d, err := time.ParseDuration(r.InitialDelay)
		if err != nil {
			return policy, fmt.Errorf("initial_delay: %w", err)
		}
		policy.InitialDelay = d
	}
	if r.MaxDelay != "" {
		d, err := time.ParseDuration(r.MaxDelay)
		if err != nil {
			return policy, fmt.Errorf("max_delay: %w", err)
		}
		policy.MaxDelay = d
	}
	if r.Multiplier > 0 {
		policy.Multiplier = r.Multiplier
	}
	if r.Jitter < 0 || r.Jitter >= 1 {
		return policy, fmt.Errorf("jitter must be in [0, 1), got %v", r.Jitter)
	}
	policy.Jitter = r.Jitter
	return policy, nil
}

// Options converts the exchange configuration into adapter options.
func (e ExchangeConfig) Options(logger *slog.Logger) exchange.Options {
	opts := exchange.Options{
		BaseURL:           e.BaseURL,
		RequestsPerSecond: e.RequestsPerSecond,
		Burst:             e.Burst,
		Logger:            logger,
	}
	if d, err := time.ParseDuration(e.Timeout); err == nil {
		opts.Timeout = d
	}
	return opts
}

// String returns a string representation of the configuration
func (c *AppConfig) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
