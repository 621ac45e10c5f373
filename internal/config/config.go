package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all viewtools configuration.
type Config struct {
	// Core settings
	Name string `yaml:"name"`

	// HTTP server
	Server ServerConfig `yaml:"server"`

	// Template resources and the layout pipeline
	Templates TemplatesConfig `yaml:"templates"`

	// Toolbox definition file (YAML or XML)
	Toolbox ToolboxConfig `yaml:"toolbox"`

	// Data model (optional)
	Model ModelConfig `yaml:"model"`

	// Sessions
	Session SessionConfig `yaml:"session"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Metrics
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// TemplatesConfig configures template loading and the render pipeline.
type TemplatesConfig struct {
	// Directory roots searched in order by the file loader.
	Paths []string `yaml:"paths"`

	// Watch the directory roots and evict changed templates from the cache.
	Watch bool `yaml:"watch"`

	// Cache compiled templates.
	Cache bool `yaml:"cache"`

	// How often non-file resources are revalidated (S3).
	CheckInterval string `yaml:"check_interval"`

	// Optional S3 resource loader, consulted after the file roots.
	S3 S3Config `yaml:"s3"`

	ErrorTemplate   string `yaml:"error_template"`
	LayoutDirectory string `yaml:"layout_directory"`
	DefaultLayout   string `yaml:"default_layout"`
	IndexTemplate   string `yaml:"index_template"`
	ContentType     string `yaml:"content_type"`

	// Writer pool sizing
	WriterPoolSize int `yaml:"writer_pool_size"`
	BufferSize     int `yaml:"buffer_size"`

	// Legacy property overrides, e.g. tools.view.servlet.layout.directory.
	Properties map[string]string `yaml:"properties"`
}

// S3Config configures the S3 template loader.
type S3Config struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"` // optional, e.g. MinIO
	PathStyle bool   `yaml:"path_style"`
}

// ToolboxConfig points at the toolbox definition.
type ToolboxConfig struct {
	Path string `yaml:"path"`
}

// ModelConfig points at the data model definition.
type ModelConfig struct {
	Path string `yaml:"path"`
	// Driver and DSN override the values in the definition file when set.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SessionConfig configures the server-side session store.
type SessionConfig struct {
	CookieName    string `yaml:"cookie_name"`
	MaxIdle       string `yaml:"max_idle"`
	SweepInterval string `yaml:"sweep_interval"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	File       string          `yaml:"file"`
	Categories map[string]bool `yaml:"categories"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "viewtools",

		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     "15s",
			WriteTimeout:    "30s",
			ShutdownTimeout: "10s",
		},

		Templates: TemplatesConfig{
			Paths:           []string{"templates"},
			Cache:           true,
			CheckInterval:   "30s",
			ErrorTemplate:   "Error.html",
			LayoutDirectory: "layout/",
			DefaultLayout:   "Default.html",
			IndexTemplate:   "index.html",
			ContentType:     "text/html; charset=UTF-8",
			WriterPoolSize:  40,
			BufferSize:      8192,
		},

		Toolbox: ToolboxConfig{
			Path: "toolbox.yaml",
		},

		Session: SessionConfig{
			CookieName:    "VTSESSIONID",
			MaxIdle:       "30m",
			SweepInterval: "1m",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},

		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Defaults still honour the environment
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("VIEWTOOLS_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if paths := os.Getenv("VIEWTOOLS_TEMPLATES"); paths != "" {
		c.Templates.Paths = filepath.SplitList(paths)
	}
	if driver := os.Getenv("VIEWTOOLS_DB_DRIVER"); driver != "" {
		c.Model.Driver = driver
	}
	if dsn := os.Getenv("VIEWTOOLS_DB_DSN"); dsn != "" {
		c.Model.DSN = dsn
	}
	if level := os.Getenv("VIEWTOOLS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if bucket := os.Getenv("VIEWTOOLS_S3_BUCKET"); bucket != "" {
		c.Templates.S3.Bucket = bucket
		c.Templates.S3.Enabled = true
	}
}

// GetReadTimeout returns the server read timeout as a duration.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 15*time.Second)
}

// GetWriteTimeout returns the server write timeout as a duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 30*time.Second)
}

// GetShutdownTimeout returns the graceful shutdown timeout as a duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

// GetCheckInterval returns the template revalidation interval.
func (c *Config) GetCheckInterval() time.Duration {
	return parseDuration(c.Templates.CheckInterval, 30*time.Second)
}

// GetSessionMaxIdle returns how long an untouched session survives.
func (c *Config) GetSessionMaxIdle() time.Duration {
	return parseDuration(c.Session.MaxIdle, 30*time.Minute)
}

// GetSweepInterval returns how often expired sessions are collected.
func (c *Config) GetSweepInterval() time.Duration {
	return parseDuration(c.Session.SweepInterval, time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ValidLogFormats lists the supported log encodings.
var ValidLogFormats = []string{"json", "console"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address not configured (set server.addr or VIEWTOOLS_ADDR)")
	}
	if len(c.Templates.Paths) == 0 && !c.Templates.S3.Enabled {
		return fmt.Errorf("no template source configured (set templates.paths or templates.s3)")
	}
	if c.Templates.S3.Enabled && c.Templates.S3.Bucket == "" {
		return fmt.Errorf("templates.s3.bucket required when the S3 loader is enabled")
	}
	if c.Templates.WriterPoolSize < 0 || c.Templates.BufferSize < 0 {
		return fmt.Errorf("writer pool size and buffer size must not be negative")
	}

	format := strings.ToLower(c.Logging.Format)
	validFormat := format == ""
	for _, f := range ValidLogFormats {
		if format == f {
			validFormat = true
			break
		}
	}
	if !validFormat {
		return fmt.Errorf("invalid log format: %s (valid: %v)", c.Logging.Format, ValidLogFormats)
	}

	return nil
}
