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

// Config holds all configuration options for the image harvester
type Config struct {
	// Download manager settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Request shaping for article and image fetches
	Fetch FetchConfig `yaml:"fetch" json:"fetch"`

	// Classification heuristics
	Filter FilterConfig `yaml:"filter" json:"filter"`

	// URL resolution rules
	Resolver ResolverConfig `yaml:"resolver" json:"resolver"`

	// Accepted article sources
	Source SourceConfig `yaml:"source" json:"source"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	MaxWorkers     int           `yaml:"max_workers" json:"max_workers"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxImageSize   int64         `yaml:"max_image_size" json:"max_image_size"`
	RetryAttempts  int           `yaml:"retry_attempts" json:"retry_attempts"`
	BackoffBase    time.Duration `yaml:"backoff_base" json:"backoff_base"`
	JobTimeout     time.Duration `yaml:"job_timeout" json:"job_timeout"`
}

// FetchConfig holds HTTP request shaping options
type FetchConfig struct {
	UserAgent         string  `yaml:"user_agent" json:"user_agent"`
	Referer           string  `yaml:"referer" json:"referer"`
	AcceptLanguage    string  `yaml:"accept_language" json:"accept_language"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
	MaxPageSize       int64   `yaml:"max_page_size" json:"max_page_size"`
}

// FilterConfig holds the avatar/icon heuristics, the page chrome markers and
// the default filter options
type FilterConfig struct {
	Keywords           []string `yaml:"keywords" json:"keywords"`
	MinDimension       int      `yaml:"min_dimension" json:"min_dimension"`
	AnimatedExtensions []string `yaml:"animated_extensions" json:"animated_extensions"`
	ThumbnailMarkers   []string `yaml:"thumbnail_markers" json:"thumbnail_markers"`
	ChromeMarkers      []string `yaml:"chrome_markers" json:"chrome_markers"`

	ExcludeAvatars bool `yaml:"exclude_avatars" json:"exclude_avatars"`
	ExcludeGifs    bool `yaml:"exclude_gifs" json:"exclude_gifs"`
	ExcludeSmall   bool `yaml:"exclude_small" json:"exclude_small"`
	PreferOriginal bool `yaml:"prefer_original" json:"prefer_original"`
}

// ResolverConfig lists extra hosts whose size/quality query parameters can be dropped
type ResolverConfig struct {
	GenericQueryHosts []string `yaml:"generic_query_hosts" json:"generic_query_hosts"`
}

// SourceConfig restricts which article hosts are accepted. Empty means any host.
type SourceConfig struct {
	AllowedHosts []string `yaml:"allowed_hosts" json:"allowed_hosts"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	Directory     string `yaml:"directory" json:"directory"`
	ArchivePrefix string `yaml:"archive_prefix" json:"archive_prefix"`
	WriteManifest bool   `yaml:"write_manifest" json:"write_manifest"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Download: DownloadConfig{
			MaxWorkers:     5,
			RequestTimeout: 30 * time.Second,
			MaxImageSize:   50 * 1024 * 1024,
			RetryAttempts:  2,
			BackoffBase:    500 * time.Millisecond,
			JobTimeout:     10 * time.Minute,
		},
		Fetch: FetchConfig{
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			Referer:           "",
			AcceptLanguage:    "zh-CN,zh;q=0.9,en;q=0.8",
			RequestsPerSecond: 10,
			Burst:             5,
			MaxPageSize:       10 * 1024 * 1024,
		},
		Filter: FilterConfig{
			Keywords:           []string{"avatar", "profile", "icon", "logo", "qrcode", "二维码", "头像", "扫码"},
			MinDimension:       100,
			AnimatedExtensions: []string{"gif", "apng"},
			ThumbnailMarkers:   []string{"/64", "/32", "thumb"},
			ChromeMarkers:      []string{"rich_media_meta_list", "rich_media_area_extra", "rich_media_tool", "profile_container", "qr_code_pc", "js_pc_qr_code", "js_profile_qrcode", "js_sponsor_ad_area"},
			ExcludeAvatars:     true,
			ExcludeGifs:        true,
			ExcludeSmall:       true,
			PreferOriginal:     true,
		},
		Resolver: ResolverConfig{
			GenericQueryHosts: []string{"imgix.net", "images.unsplash.com", "cdn.sanity.io"},
		},
		Source: SourceConfig{},
		Output: OutputConfig{
			Directory:     "./downloads",
			ArchivePrefix: "article_images",
			WriteManifest: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := os.Getenv("IMGHARVEST_MAX_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IMGHARVEST_MAX_WORKERS: %w", err))
		} else {
			c.Download.MaxWorkers = n
		}
	}
	if v := os.Getenv("IMGHARVEST_REQUEST_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IMGHARVEST_REQUEST_TIMEOUT_SECONDS: %w", err))
		} else {
			c.Download.RequestTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("IMGHARVEST_MAX_IMAGE_SIZE_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("IMGHARVEST_MAX_IMAGE_SIZE_BYTES: %w", err))
		} else {
			c.Download.MaxImageSize = n
		}
	}
	if v := os.Getenv("IMGHARVEST_USER_AGENT"); v != "" {
		c.Fetch.UserAgent = v
	}
	if v := os.Getenv("IMGHARVEST_REFERER"); v != "" {
		c.Fetch.Referer = v
	}
	if v := os.Getenv("IMGHARVEST_OUTPUT_DIR"); v != "" {
		c.Output.Directory = v
	}
	if v := os.Getenv("IMGHARVEST_ALLOWED_HOSTS"); v != "" {
		c.Source.AllowedHosts = splitList(v)
	}
	if v := os.Getenv("IMGHARVEST_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
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
	home := os.Getenv("HOME")
	locations := []string{
		".imgharvest.yaml",
		".imgharvest.yml",
		filepath.Join(home, ".config", "imgharvest", "config.yaml"),
		filepath.Join(home, ".config", "imgharvest", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Download.MaxWorkers <= 0 {
		errs = append(errs, errors.New("max workers must be positive"))
	}
	if c.Download.MaxWorkers > 32 {
		errs = append(errs, errors.New("max workers should not exceed 32"))
	}
	if c.Download.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.Download.MaxImageSize <= 0 {
		errs = append(errs, errors.New("max image size must be positive"))
	}
	if c.Download.RetryAttempts < 0 {
		errs = append(errs, errors.New("retry attempts cannot be negative"))
	}
	if c.Download.RetryAttempts > 5 {
		errs = append(errs, errors.New("retry attempts should not exceed 5"))
	}
	if c.Download.JobTimeout < 0 {
		errs = append(errs, errors.New("job timeout cannot be negative"))
	}

	if c.Fetch.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("requests per second cannot be negative"))
	}
	if c.Fetch.MaxPageSize <= 0 {
		errs = append(errs, errors.New("max page size must be positive"))
	}

	if c.Filter.MinDimension < 0 {
		errs = append(errs, errors.New("filter min dimension cannot be negative"))
	}

	if c.Output.Directory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Output.ArchivePrefix == "" {
		errs = append(errs, errors.New("archive prefix is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
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

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only keys present in the map override the loaded values.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["max-workers"].(int); ok && v > 0 {
		c.Download.MaxWorkers = v
	}
	if v, ok := flags["request-timeout"].(int); ok && v > 0 {
		c.Download.RequestTimeout = time.Duration(v) * time.Second
	}
	if v, ok := flags["max-image-size"].(int64); ok && v > 0 {
		c.Download.MaxImageSize = v
	}
	if v, ok := flags["max-retries"].(int); ok && v >= 0 {
		c.Download.RetryAttempts = v
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Output.Directory = v
	}
	if v, ok := flags["referer"].(string); ok && v != "" {
		c.Fetch.Referer = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["exclude-avatars"].(bool); ok {
		c.Filter.ExcludeAvatars = v
	}
	if v, ok := flags["exclude-gifs"].(bool); ok {
		c.Filter.ExcludeGifs = v
	}
	if v, ok := flags["exclude-small"].(bool); ok {
		c.Filter.ExcludeSmall = v
	}
	if v, ok := flags["prefer-original"].(bool); ok {
		c.Filter.PreferOriginal = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".imgharvest.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
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
