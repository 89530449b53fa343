package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config.yaml"

type Config struct {
	Server struct {
		Host         string        `yaml:"host"`
		Port         string        `yaml:"port"`
		Prefork      bool          `yaml:"prefork"`
		StaticDir    string        `yaml:"static_dir"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`

		// MaxConnections caps connections served at once. Fiber buffers each
		// request body in full, so upload memory stays below
		// MaxConnections * BodyLimit.
		MaxConnections int `yaml:"max_connections"`
	} `yaml:"server"`

	Backend BackendConfig `yaml:"backend"`

	Startup struct {
		MaxAttempts int           `yaml:"max_attempts"`
		Interval    time.Duration `yaml:"interval"`
	} `yaml:"startup"`

	Limits struct {
		MaxFileBytes         int64 `yaml:"max_file_bytes"`
		MaxImageFiles        int   `yaml:"max_image_files"`
		MaxConcurrentUploads int64 `yaml:"max_concurrent_uploads"`
	} `yaml:"limits"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Cache struct {
		RedisHost       string        `yaml:"redis_host"`
		RateLimitDB     int           `yaml:"rate_limit_db"`
		PDFCacheDB      int           `yaml:"pdf_cache_db"`
		PDFCacheEnabled bool          `yaml:"pdf_cache_enabled"`
		PDFCacheTTL     time.Duration `yaml:"pdf_cache_ttl"`
	} `yaml:"cache"`

	RateLimiter struct {
		UserLimit int           `yaml:"user_limit"`
		Interval  time.Duration `yaml:"interval"`
	} `yaml:"rate_limiter"`

	Auth struct {
		Enabled        bool           `yaml:"enabled"`
		ReloadInterval time.Duration  `yaml:"reload_interval"`
		Postgres       PostgresConfig `yaml:"postgres"`
	} `yaml:"auth"`
}

// BackendConfig describes the rendering service the proxy forwards to.
type BackendConfig struct {
	URL           string        `yaml:"url"`
	RenderPath    string        `yaml:"render_path"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxErrorBytes int64         `yaml:"max_error_bytes"`
}

// RenderURL is the absolute endpoint receiving the inlined HTML.
func (b BackendConfig) RenderURL() string {
	return strings.TrimRight(b.URL, "/") + b.RenderPath
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var cfg Config
	cfg.Server.Port = ":3000"
	cfg.Server.MaxConnections = 256
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 120 * time.Second

	cfg.Backend.URL = "http://pdf-api:80"
	cfg.Backend.RenderPath = "/api/render"
	cfg.Backend.Timeout = 60 * time.Second
	cfg.Backend.MaxErrorBytes = 64 * 1024

	cfg.Startup.MaxAttempts = 6
	cfg.Startup.Interval = 10 * time.Second

	cfg.Limits.MaxFileBytes = 5 * 1024 * 1024
	cfg.Limits.MaxImageFiles = 10
	cfg.Limits.MaxConcurrentUploads = 16

	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 10
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 7

	cfg.Cache.PDFCacheDB = 1
	cfg.Cache.PDFCacheTTL = 10 * time.Minute

	cfg.RateLimiter.Interval = time.Minute

	cfg.Auth.ReloadInterval = time.Minute
	return cfg
}

// Load reads the file named by CONFIG_PATH (or config.yaml). A missing file
// yields the defaults; environment overrides are applied either way.
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		applyEnv(&cfg)
		mustValidate(cfg)
		return cfg
	}
	return LoadFrom(path)
}

// LoadFrom reads and validates the YAML file at path. It panics on unreadable
// files and invalid values so a misconfigured process never starts serving.
func LoadFrom(path string) Config {
	raw, err := os.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("config: read %s: %v", path, err))
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		panic(fmt.Sprintf("config: parse %s: %v", path, err))
	}
	applyEnv(&cfg)
	mustValidate(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PDF_API_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
}

func mustValidate(cfg Config) {
	if err := Validate(cfg); err != nil {
		panic("config: " + err.Error())
	}
}

// Validate reports the first invalid setting.
func Validate(cfg Config) error {
	u, err := url.Parse(cfg.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.url must be an absolute http(s) URL, got %q", cfg.Backend.URL)
	}
	switch {
	case cfg.Server.MaxConnections <= 0:
		return errors.New("server.max_connections must be positive")
	case cfg.Backend.Timeout <= 0:
		return errors.New("backend.timeout must be positive")
	case cfg.Startup.MaxAttempts <= 0:
		return errors.New("startup.max_attempts must be positive")
	case cfg.Startup.Interval < 0:
		return errors.New("startup.interval must not be negative")
	case cfg.Limits.MaxFileBytes <= 0:
		return errors.New("limits.max_file_bytes must be positive")
	case cfg.Limits.MaxImageFiles < 0:
		return errors.New("limits.max_image_files must not be negative")
	case cfg.Limits.MaxConcurrentUploads <= 0:
		return errors.New("limits.max_concurrent_uploads must be positive")
	case cfg.RateLimiter.UserLimit < 0:
		return errors.New("rate_limiter.user_limit must not be negative")
	case cfg.RateLimiter.UserLimit > 0 && cfg.RateLimiter.Interval <= 0:
		return errors.New("rate_limiter.interval must be positive")
	case cfg.Auth.Enabled && cfg.Auth.Postgres.Host == "":
		return errors.New("auth.postgres.host is required when auth is enabled")
	case cfg.Auth.Enabled && cfg.Auth.ReloadInterval <= 0:
		return errors.New("auth.reload_interval must be positive")
	}
	return nil
}

// BodyLimit is the largest multipart body Fiber will accept: one HTML file
// and the maximum number of images, each at the per-file cap, plus headroom
// for part headers and plain form fields.
func (c Config) BodyLimit() int {
	files := int64(c.Limits.MaxImageFiles + 1)
	return int(c.Limits.MaxFileBytes*files + 1<<20)
}

// LimitersEnabled is true when any rate limiter needs storage.
func (c Config) LimitersEnabled() bool {
	return c.RateLimiter.UserLimit > 0 || c.Auth.Enabled
}
