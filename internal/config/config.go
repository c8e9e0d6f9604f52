// Package config loads folio settings from folio.yaml and FOLIO_ environment variables
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/nainya/folio/pkg/persistence/relational"
)

// Metadata adapter names
const (
	MemoryBackend     = "memory"
	IndexBackend      = "index"
	TripleBackend     = "triple"
	RelationalBackend = "relational"
	IndexingPersister = "indexing_persister"
)

// Storage adapter kinds
const (
	DiskStorage   = "disk"
	MemoryStorage = "memory"
	RedisStorage  = "redis"
)

// Config represents the folio configuration
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetadataConfig selects and configures the metadata backends
type MetadataConfig struct {
	Default    string           `mapstructure:"default"`
	Index      IndexConfig      `mapstructure:"index"`
	Triple     TripleConfig     `mapstructure:"triple"`
	Relational RelationalConfig `mapstructure:"relational"`
	Buffered   BufferedConfig   `mapstructure:"buffered"`
}

type IndexConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TripleConfig configures the badger graph store. An empty path keeps
// the graph in memory.
type TripleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type RelationalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
}

// BufferedConfig wires the indexing persister over two other backends
type BufferedConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Primary string `mapstructure:"primary"`
	Index   string `mapstructure:"index"`
}

// StorageConfig lists storage adapters in claim order
type StorageConfig struct {
	Default  string                 `mapstructure:"default"`
	Adapters []StorageAdapterConfig `mapstructure:"adapters"`
}

type StorageAdapterConfig struct {
	Name     string `mapstructure:"name"`
	Kind     string `mapstructure:"kind"`
	Path     string `mapstructure:"path"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// MetricsConfig represents the observability server configuration.
// An empty address disables the server.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)

	v.SetDefault("metadata.default", IndexingPersister)
	v.SetDefault("metadata.index.enabled", true)
	v.SetDefault("metadata.index.path", "data/index.db")
	v.SetDefault("metadata.triple.enabled", false)
	v.SetDefault("metadata.triple.path", "data/triple")
	v.SetDefault("metadata.relational.enabled", true)
	v.SetDefault("metadata.relational.driver", "sqlite")
	v.SetDefault("metadata.relational.dsn", "data/folio.sqlite")
	v.SetDefault("metadata.buffered.enabled", true)
	v.SetDefault("metadata.buffered.primary", RelationalBackend)
	v.SetDefault("metadata.buffered.index", IndexBackend)

	v.SetDefault("storage.default", DiskStorage)
	v.SetDefault("storage.adapters", []map[string]interface{}{
		{"name": DiskStorage, "kind": DiskStorage, "path": "data/files"},
		{"name": MemoryStorage, "kind": MemoryStorage},
	})

	v.SetDefault("metrics.addr", "")
}

// Load reads the configuration. An empty path searches the working
// directory for folio.yaml and falls back to defaults when none exists;
// an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("folio")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MetadataEnabled reports whether the named metadata backend is configured
func (c *Config) MetadataEnabled(name string) bool {
	m := c.Metadata
	switch name {
	case MemoryBackend:
		return true
	case IndexBackend:
		return m.Index.Enabled
	case TripleBackend:
		return m.Triple.Enabled
	case RelationalBackend:
		return m.Relational.Enabled
	case IndexingPersister:
		return m.Buffered.Enabled
	}
	return false
}

// Validate reports invalid combinations of settings
func (c *Config) Validate() error {
	m := c.Metadata
	if m.Index.Enabled && m.Index.Path == "" {
		return errors.New("metadata.index.path is required")
	}
	if m.Relational.Enabled {
		if _, err := relational.DialectFor(m.Relational.Driver); err != nil {
			return fmt.Errorf("metadata.relational.driver: %w", err)
		}
		if m.Relational.DSN == "" {
			return errors.New("metadata.relational.dsn is required")
		}
	}
	if m.Buffered.Enabled {
		for _, name := range []string{m.Buffered.Primary, m.Buffered.Index} {
			if name == IndexingPersister || !c.MetadataEnabled(name) {
				return fmt.Errorf("metadata.buffered: backend %q is not available", name)
			}
		}
		if m.Buffered.Primary == m.Buffered.Index {
			return errors.New("metadata.buffered: primary and index must differ")
		}
	}
	if !c.MetadataEnabled(m.Default) {
		return fmt.Errorf("metadata.default: backend %q is not enabled", m.Default)
	}

	if len(c.Storage.Adapters) == 0 {
		return errors.New("storage.adapters must not be empty")
	}
	seen := make(map[string]bool, len(c.Storage.Adapters))
	for i, a := range c.Storage.Adapters {
		if a.Name == "" {
			return fmt.Errorf("storage.adapters[%d]: name is required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("storage.adapters[%d]: duplicate name %q", i, a.Name)
		}
		seen[a.Name] = true

		switch a.Kind {
		case DiskStorage:
			if a.Path == "" {
				return fmt.Errorf("storage.adapters[%d]: disk adapter needs a path", i)
			}
		case RedisStorage:
			if a.Addr == "" {
				return fmt.Errorf("storage.adapters[%d]: redis adapter needs an addr", i)
			}
		case MemoryStorage:
		default:
			return fmt.Errorf("storage.adapters[%d]: unknown kind %q", i, a.Kind)
		}
	}
	if !seen[c.Storage.Default] {
		return fmt.Errorf("storage.default: adapter %q is not configured", c.Storage.Default)
	}
	return nil
}
