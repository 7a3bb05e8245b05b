// Package config loads the kektorgraph configuration file and opens the
// configured storage backend.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Backend kinds.
const (
	BackendMemory = "memory"
	BackendEngine = "engine"
	BackendBadger = "badger"
)

type Config struct {
	// Storage
	Backend string `yaml:"backend" toml:"backend" validate:"oneof=memory engine badger"`
	DataDir string `yaml:"data_dir" toml:"data_dir"` // ignored by memory and in-memory badger

	// Graph name used by the traversal endpoints and the CLI
	Graph string `yaml:"graph" toml:"graph" validate:"required"`

	LogLevel string `yaml:"log_level" toml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	Engine EngineConfig `yaml:"engine" toml:"engine"`
	Badger BadgerConfig `yaml:"badger" toml:"badger"`
	Server ServerConfig `yaml:"server" toml:"server"`
}

// EngineConfig tunes the journaled in-memory backend.
type EngineConfig struct {
	JournalFile         string        `yaml:"journal_file" toml:"journal_file"`
	RewritePercentage   int           `yaml:"rewrite_percentage" toml:"rewrite_percentage" validate:"gte=0"` // 0 disables auto compaction
	MinRewriteSize      int64         `yaml:"min_rewrite_size" toml:"min_rewrite_size" validate:"gte=0"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval" toml:"maintenance_interval" validate:"gte=0"`
	SyncEveryWrite      bool          `yaml:"sync_every_write" toml:"sync_every_write"`
}

// BadgerConfig tunes the BadgerDB backend.
type BadgerConfig struct {
	InMemory       bool          `yaml:"in_memory" toml:"in_memory"`
	SyncWrites     bool          `yaml:"sync_writes" toml:"sync_writes"`
	GCInterval     time.Duration `yaml:"gc_interval" toml:"gc_interval" validate:"gte=0"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio" toml:"gc_discard_ratio" validate:"gt=0,lt=1"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr         string        `yaml:"addr" toml:"addr" validate:"required"` // ":9191"
	AuthToken    string        `yaml:"auth_token" toml:"auth_token"`         // empty disables auth
	ReadTimeout  time.Duration `yaml:"read_timeout" toml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" toml:"write_timeout" validate:"gte=0"`

	// Requests per second across all clients; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" toml:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" toml:"rate_burst" validate:"gte=0"`
}

// DefaultConfig returns a configuration for a durable engine store under
// ./data.
func DefaultConfig() Config {
	return Config{
		Backend:  BackendEngine,
		DataDir:  "./data",
		Graph:    "default",
		LogLevel: "info",

		Engine: EngineConfig{
			JournalFile:         "kektorgraph.journal",
			RewritePercentage:   100,
			MinRewriteSize:      1024 * 1024,
			MaintenanceInterval: time.Second,
		},

		Badger: BadgerConfig{
			SyncWrites:     true,
			GCInterval:     5 * time.Minute,
			GCDiscardRatio: 0.5,
		},

		Server: ServerConfig{
			Addr:         ":9191",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			RateBurst:    50,
		},
	}
}

// Load reads the configuration file using strict parsing: unknown keys are
// errors. Files ending in .toml are read as TOML, anything else as YAML. An
// empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return cfg, fmt.Errorf("TOML syntax error in config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
		}
		return cfg, cfg.Validate()
	}

	// 1. Open File
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	// 2. Setup Strict Decoder
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	// 3. Decode
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("YAML syntax error in config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and reports settings that cannot work
// together.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			fe := fields[0]
			if fe.Field() == "Backend" {
				return fmt.Errorf("config: unknown backend %q", c.Backend)
			}
			return fmt.Errorf("config: %s fails %q (value %v)", fe.Namespace(), fe.ActualTag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}

	switch c.Backend {
	case BackendEngine:
		if c.DataDir == "" {
			return errors.New("config: engine backend needs data_dir")
		}
	case BackendBadger:
		if c.DataDir == "" && !c.Badger.InMemory {
			return errors.New("config: badger backend needs data_dir unless in_memory is set")
		}
	}
	return nil
}
