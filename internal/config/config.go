// Package config provides configuration management for rendercache using
// Viper for flexible loading from files, environment variables, and
// command-line flags.
//
// Configuration is read from .rendercache.yml with environment variable
// overrides using the RENDERCACHE_ prefix. It covers the HTTP server, the
// render engine (executable path, output format, concurrency ceiling, cache
// root) and logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Render  RenderConfig  `yaml:"render"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RenderConfig controls the render engine and the job scheduler.
type RenderConfig struct {
	// Concurrency is the ceiling on simultaneously running render
	// subprocesses. Must be >= 1.
	Concurrency int `yaml:"concurrency"`
	// Format is the output-module format requested from the engine.
	Format string `yaml:"format"`
	// ExecutablePath points at the render engine binary. Empty means
	// auto-detect from conventional install locations and PATH.
	ExecutablePath string `yaml:"executable_path"`
	// CacheDir is the root under which per-token render output, the token
	// store file and job logs live.
	CacheDir string `yaml:"cache_dir"`
	// Timeout is the per-job ceiling after which a render is forcibly
	// cancelled and recorded as failed.
	Timeout time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Dir    string `yaml:"dir"`    // empty: <cache_dir>/logs
}

// Load builds a Config from viper state, applying defaults for anything
// not explicitly set.
func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Workarounds for viper scalar handling when values come from env.
	if viper.IsSet("server.port") {
		config.Server.Port = viper.GetInt("server.port")
	}
	if viper.IsSet("render.concurrency") {
		config.Render.Concurrency = viper.GetInt("render.concurrency")
	}
	if viper.IsSet("render.cache_dir") {
		config.Render.CacheDir = viper.GetString("render.cache_dir")
	}
	if viper.IsSet("render.executable_path") {
		config.Render.ExecutablePath = viper.GetString("render.executable_path")
	}
	if viper.IsSet("render.timeout") {
		config.Render.Timeout = viper.GetDuration("render.timeout")
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns the configuration used when no file, env or flag sets
// anything. Exposed for the init scaffold and for tests.
func Default() *Config {
	var config Config
	applyDefaults(&config)
	return &config
}

func applyDefaults(config *Config) {
	if config.Server.Port == 0 {
		config.Server.Port = 8515
	}
	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if config.Render.Concurrency == 0 {
		config.Render.Concurrency = 2
	}
	if config.Render.Format == "" {
		config.Render.Format = "png"
	}
	if config.Render.CacheDir == "" {
		config.Render.CacheDir = defaultCacheDir()
	}
	if config.Render.Timeout == 0 {
		config.Render.Timeout = 30 * time.Minute
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}
	if config.Logging.Dir == "" {
		config.Logging.Dir = filepath.Join(config.Render.CacheDir, "logs")
	}
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rendercache"
	}
	return filepath.Join(home, ".rendercache")
}

// Validate checks the configuration for values the rest of the system
// cannot operate with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d: must be between 0 and 65535", c.Server.Port)
	}
	if c.Render.Concurrency < 1 {
		return fmt.Errorf("invalid render concurrency %d: must be at least 1", c.Render.Concurrency)
	}
	if c.Render.Timeout <= 0 {
		return fmt.Errorf("invalid render timeout %s: must be positive", c.Render.Timeout)
	}
	if c.Render.CacheDir == "" {
		return fmt.Errorf("render cache_dir must not be empty")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging format %q: must be \"text\" or \"json\"", c.Logging.Format)
	}
	return nil
}
