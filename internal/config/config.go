// Package config loads zindex server configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matteso1/zindex/internal/hashindex"
	"github.com/matteso1/zindex/internal/protocol"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Index  IndexConfig  `yaml:"index"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig configures the listener and the executor.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	MaxMessageSize int           `yaml:"max_message_size"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	QueueDepth     int           `yaml:"queue_depth"`
}

// IndexConfig tunes the hash indexes of the keyspace and every sorted set.
type IndexConfig struct {
	InitialCapacity int `yaml:"initial_capacity"`
	MaxLoadFactor   int `yaml:"max_load_factor"`
	MigrationBatch  int `yaml:"migration_batch"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	idx := hashindex.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Addr:           "127.0.0.1:1234",
			MetricsAddr:    "",
			MaxMessageSize: protocol.DefaultMaxMessageSize,
			IdleTimeout:    5 * time.Minute,
			QueueDepth:     1024,
		},
		Index: IndexConfig{
			InitialCapacity: idx.InitialCapacity,
			MaxLoadFactor:   idx.MaxLoadFactor,
			MigrationBatch:  idx.MigrationBatch,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges that the index would otherwise reject by panicking.
func (c Config) Validate() error {
	n := c.Index.InitialCapacity
	switch {
	case c.Server.Addr == "":
		return fmt.Errorf("%w: server.addr is required", ErrInvalidConfig)
	case c.Server.MaxMessageSize < 64:
		return fmt.Errorf("%w: server.max_message_size must be at least 64", ErrInvalidConfig)
	case c.Server.QueueDepth < 1:
		return fmt.Errorf("%w: server.queue_depth must be positive", ErrInvalidConfig)
	case n <= 0 || n&(n-1) != 0:
		return fmt.Errorf("%w: index.initial_capacity must be a power of two, got %d", ErrInvalidConfig, n)
	case c.Index.MaxLoadFactor < 1:
		return fmt.Errorf("%w: index.max_load_factor must be positive", ErrInvalidConfig)
	case c.Index.MigrationBatch < 1:
		return fmt.Errorf("%w: index.migration_batch must be positive", ErrInvalidConfig)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return fmt.Errorf("%w: log.format must be text or json, got %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// HashIndex converts the index section for hashindex.New.
func (c IndexConfig) HashIndex() hashindex.Config {
	return hashindex.Config{
		InitialCapacity: c.InitialCapacity,
		MaxLoadFactor:   c.MaxLoadFactor,
		MigrationBatch:  c.MigrationBatch,
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	return level, nil
}

// NewLogger builds the slog logger described by c, writing to w.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
