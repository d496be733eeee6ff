// Package config loads memops configuration.
//
// Precedence: defaults -> YAML file -> environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/memops/internal/embedding"
	"github.com/rcliao/memops/internal/generation"
	"github.com/rcliao/memops/internal/resolver"
)

// Config is the complete memops configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Search     SearchConfig     `yaml:"search"`
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	// Provider is ollama, openai, hash or "" to disable embeddings.
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Dims      int           `yaml:"dims"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int64         `yaml:"cache_size"`
}

// GenerationConfig selects the generation provider used by Summarize.
type GenerationConfig struct {
	// Provider is ollama, openai or extractive.
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SearchConfig tunes target resolution.
type SearchConfig struct {
	Alpha    float64 `yaml:"alpha"`
	DefaultK int     `yaml:"default_k"`
	MaxLimit int     `yaml:"max_limit"`
	// ProviderTimeout bounds every embedding and generation call the
	// engine makes.
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format      string   `yaml:"format"`
	OutputPaths []string `yaml:"output_paths"`
}

// ServerConfig configures `memops serve`.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Database: DatabaseConfig{
			Path: filepath.Join(home, ".memops", "memory.db"),
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Dims:      embedding.DefaultHashDims,
			Timeout:   30 * time.Second,
			CacheSize: 1024,
		},
		Generation: GenerationConfig{
			Provider: "extractive",
			Timeout:  60 * time.Second,
		},
		Search: SearchConfig{
			Alpha:           resolver.DefaultOptions().Alpha,
			DefaultK:        resolver.DefaultOptions().DefaultK,
			MaxLimit:        resolver.DefaultOptions().MaxLimit,
			ProviderTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8420",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load builds the configuration. path may be empty; a missing file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := loadEnv(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("load config env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

type envBinding struct {
	key string
	set func(v string) error
}

func stringVar(p *string) func(string) error {
	return func(v string) error { *p = v; return nil }
}

func intVar(p *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*p = n
		return nil
	}
}

func floatVar(p *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*p = f
		return nil
	}
}

func durationVar(p *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*p = d
		return nil
	}
}

func (c *Config) envBindings() []envBinding {
	return []envBinding{
		{"MEMOPS_DB", stringVar(&c.Database.Path)},
		{"MEMOPS_EMBED_PROVIDER", stringVar(&c.Embedding.Provider)},
		{"MEMOPS_GEN_PROVIDER", stringVar(&c.Generation.Provider)},
		// OLLAMA_HOST is the ollama CLI's own variable; MEMOPS_*_URL wins over it.
		{"OLLAMA_HOST", func(v string) error {
			if c.Embedding.Provider == "ollama" {
				c.Embedding.BaseURL = v
			}
			if c.Generation.Provider == "ollama" {
				c.Generation.BaseURL = v
			}
			return nil
		}},
		{"MEMOPS_EMBED_MODEL", stringVar(&c.Embedding.Model)},
		{"MEMOPS_EMBED_URL", stringVar(&c.Embedding.BaseURL)},
		{"MEMOPS_GEN_MODEL", stringVar(&c.Generation.Model)},
		{"MEMOPS_GEN_URL", stringVar(&c.Generation.BaseURL)},
		{"OPENAI_API_KEY", func(v string) error {
			if c.Embedding.APIKey == "" {
				c.Embedding.APIKey = v
			}
			if c.Generation.APIKey == "" {
				c.Generation.APIKey = v
			}
			return nil
		}},
		{"MEMOPS_SEARCH_ALPHA", floatVar(&c.Search.Alpha)},
		{"MEMOPS_SEARCH_DEFAULT_K", intVar(&c.Search.DefaultK)},
		{"MEMOPS_SEARCH_MAX_LIMIT", intVar(&c.Search.MaxLimit)},
		{"MEMOPS_PROVIDER_TIMEOUT", durationVar(&c.Search.ProviderTimeout)},
		{"MEMOPS_LOG_LEVEL", stringVar(&c.Log.Level)},
	}
}

// loadEnv applies environment overrides in binding order.
func loadEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range cfg.envBindings() {
		v, ok := lookup(b.key)
		if !ok || v == "" {
			continue
		}
		if err := b.set(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s: %w", b.key, err)
		}
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []string
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	switch c.Embedding.Provider {
	case "", "ollama", "openai", "hash":
	default:
		errs = append(errs, fmt.Sprintf("embedding.provider %q is not one of ollama, openai, hash", c.Embedding.Provider))
	}
	switch c.Generation.Provider {
	case "", "extractive", "ollama", "openai":
	default:
		errs = append(errs, fmt.Sprintf("generation.provider %q is not one of ollama, openai, extractive", c.Generation.Provider))
	}
	if c.Search.Alpha < 0 || c.Search.Alpha > 1 {
		errs = append(errs, "search.alpha must be in [0,1]")
	}
	if c.Search.DefaultK <= 0 {
		errs = append(errs, "search.default_k must be positive")
	}
	if c.Search.MaxLimit < c.Search.DefaultK {
		errs = append(errs, "search.max_limit must be >= search.default_k")
	}
	if c.Search.ProviderTimeout <= 0 {
		errs = append(errs, "search.provider_timeout must be positive")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Sprintf("log.level %q is invalid", c.Log.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EmbeddingOptions converts the embedding section for embedding.New.
func (c *Config) EmbeddingOptions() embedding.Options {
	e := c.Embedding
	return embedding.Options{
		Provider:  e.Provider,
		Model:     e.Model,
		BaseURL:   e.BaseURL,
		APIKey:    e.APIKey,
		Dims:      e.Dims,
		Timeout:   e.Timeout,
		CacheSize: e.CacheSize,
	}
}

// GenerationOptions converts the generation section for generation.New.
func (c *Config) GenerationOptions() generation.Options {
	g := c.Generation
	return generation.Options{
		Provider: g.Provider,
		Model:    g.Model,
		BaseURL:  g.BaseURL,
		APIKey:   g.APIKey,
		Timeout:  g.Timeout,
	}
}

// ResolverOptions converts the search section for resolver.New.
func (c *Config) ResolverOptions() resolver.Options {
	return resolver.Options{
		DefaultK: c.Search.DefaultK,
		MaxLimit: c.Search.MaxLimit,
		Alpha:    c.Search.Alpha,
	}
}

// Logger builds a zap logger from the log section.
func (c LogConfig) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	var enc zapcore.EncoderConfig
	encoding := "json"
	if c.Format == "console" {
		encoding = "console"
		enc = zap.NewDevelopmentEncoderConfig()
	} else {
		enc = zap.NewProductionEncoderConfig()
		enc.TimeKey = "timestamp"
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	outputs := c.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    enc,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
	return zc.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}
