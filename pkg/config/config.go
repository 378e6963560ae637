package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the crawler
type Config struct {
	// Bilibili session credentials
	Bilibili BilibiliConfig `yaml:"bilibili" json:"bilibili"`

	// Comment crawl settings
	Crawl CrawlConfig `yaml:"crawl" json:"crawl"`

	// Rate limiting and retry configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// BilibiliConfig holds the authenticated session context sent on every call
type BilibiliConfig struct {
	// Cookie is the full cookie string including SESSDATA
	Cookie string `yaml:"cookie" json:"cookie"`
	// CSRFToken is the bili_jct value extracted from the cookie
	CSRFToken string `yaml:"csrf_token" json:"csrf_token"`
	UserAgent string `yaml:"user_agent" json:"user_agent"`
}

// CrawlConfig holds comment pipeline settings
type CrawlConfig struct {
	// PageSize is the `ps` parameter of both list endpoints (1-20)
	PageSize int `yaml:"page_size" json:"page_size"`
	// StartPage / EndPage bound how many root pages are visited
	StartPage int64 `yaml:"start_page" json:"start_page"`
	EndPage   int64 `yaml:"end_page" json:"end_page"`
}

// RateLimitConfig holds rate limiting and retry configuration
type RateLimitConfig struct {
	// DelayMin/DelayMax bound the randomized inter-request delay
	DelayMin time.Duration `yaml:"delay_min" json:"delay_min"`
	DelayMax time.Duration `yaml:"delay_max" json:"delay_max"`
	// RequestsPerMinute is an additional global cap (0 disables it)
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay" json:"retry_delay"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// OutputConfig holds output file configuration
type OutputConfig struct {
	// BaseDirectory receives the per-target comment CSV files
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
	// TaskDirectory holds the task CSVs consumed by batch mode and
	// produced by the feed command
	TaskDirectory string `yaml:"task_directory" json:"task_directory"`
	// ProgressFile is the append-only resume record
	ProgressFile string `yaml:"progress_file" json:"progress_file"`
	// ExcelSafeIDs wraps numeric id columns so spreadsheet tools
	// keep them as text instead of rounding large integers
	ExcelSafeIDs bool `yaml:"excel_safe_ids" json:"excel_safe_ids"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Bilibili: BilibiliConfig{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		},
		Crawl: CrawlConfig{
			PageSize:  20,
			StartPage: 1,
			EndPage:   99999,
		},
		RateLimit: RateLimitConfig{
			DelayMin:          200 * time.Millisecond,
			DelayMax:          400 * time.Millisecond,
			RequestsPerMinute: 0,
			MaxRetries:        3,
			RetryDelay:        3 * time.Second,
			RequestTimeout:    10 * time.Second,
		},
		Output: OutputConfig{
			BaseDirectory: "./comments",
			TaskDirectory: "./user",
			ProgressFile:  "./progress.log",
			ExcelSafeIDs:  true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if cookie := os.Getenv("BILICRAWL_COOKIE"); cookie != "" {
		c.Bilibili.Cookie = cookie
	}
	if csrf := os.Getenv("BILICRAWL_CSRF_TOKEN"); csrf != "" {
		c.Bilibili.CSRFToken = csrf
	}
	if ua := os.Getenv("BILICRAWL_USER_AGENT"); ua != "" {
		c.Bilibili.UserAgent = ua
	}
	if ps := os.Getenv("BILICRAWL_PAGE_SIZE"); ps != "" {
		if val, err := strconv.Atoi(ps); err == nil && val > 0 {
			c.Crawl.PageSize = val
		}
	}
	if rpm := os.Getenv("BILICRAWL_REQUESTS_PER_MINUTE"); rpm != "" {
		if val, err := strconv.Atoi(rpm); err == nil && val > 0 {
			c.RateLimit.RequestsPerMinute = val
		}
	}
	if outputDir := os.Getenv("BILICRAWL_OUTPUT_DIR"); outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if logLevel := os.Getenv("BILICRAWL_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".bilicrawl.yaml",
		".bilicrawl.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "bilicrawl", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "bilicrawl", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".bilicrawl.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// Validate checks if the configuration is valid. It collects every
// problem instead of stopping at the first one; a non-nil result is
// startup-fatal before any network activity begins.
func (c *Config) Validate() error {
	var errs []error

	if c.Bilibili.Cookie == "" {
		errs = append(errs, errors.New("bilibili cookie is required"))
	}
	if c.Bilibili.CSRFToken == "" {
		errs = append(errs, errors.New("bilibili CSRF token (bili_jct) is required"))
	}

	if c.Crawl.PageSize < 1 || c.Crawl.PageSize > 20 {
		errs = append(errs, errors.New("page size must be between 1 and 20"))
	}
	if c.Crawl.StartPage < 1 {
		errs = append(errs, errors.New("start page must be positive"))
	}
	if c.Crawl.EndPage < c.Crawl.StartPage {
		errs = append(errs, errors.New("end page must not be below start page"))
	}

	if c.RateLimit.DelayMin < 0 {
		errs = append(errs, errors.New("minimum delay cannot be negative"))
	}
	if c.RateLimit.DelayMax < c.RateLimit.DelayMin {
		errs = append(errs, errors.New("maximum delay must not be below minimum delay"))
	}
	if c.RateLimit.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.RateLimit.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Output.ProgressFile == "" {
		errs = append(errs, errors.New("progress file path is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Contains session cookies, keep it private.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// MergeFlags merges command line flag values into the configuration
func (c *Config) MergeFlags(flags map[string]interface{}) {
	if cookie, ok := flags["cookie"].(string); ok && cookie != "" {
		c.Bilibili.Cookie = cookie
	}
	if csrf, ok := flags["csrf-token"].(string); ok && csrf != "" {
		c.Bilibili.CSRFToken = csrf
	}
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if ps, ok := flags["page-size"].(int); ok && ps > 0 {
		c.Crawl.PageSize = ps
	}
	if start, ok := flags["start"].(int64); ok && start > 0 {
		c.Crawl.StartPage = start
	}
	if end, ok := flags["end"].(int64); ok && end > 0 {
		c.Crawl.EndPage = end
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: flags > environment variables > .env file > config file > defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".bilicrawl.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
