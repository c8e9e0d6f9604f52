package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "folio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, IndexingPersister, cfg.Metadata.Default)
	assert.Equal(t, RelationalBackend, cfg.Metadata.Buffered.Primary)
	assert.Equal(t, IndexBackend, cfg.Metadata.Buffered.Index)
	assert.False(t, cfg.Metadata.Triple.Enabled)

	require.Len(t, cfg.Storage.Adapters, 2)
	assert.Equal(t, DiskStorage, cfg.Storage.Adapters[0].Kind)
	assert.Equal(t, "data/files", cfg.Storage.Adapters[0].Path)
	assert.Equal(t, DiskStorage, cfg.Storage.Default)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
metadata:
  default: triple
  triple:
    enabled: true
    path: ""
  buffered:
    enabled: false
storage:
  default: cache
  adapters:
    - name: cache
      kind: redis
      addr: localhost:6379
      prefix: "folio:"
    - name: disk
      kind: disk
      path: /srv/files
metrics:
  addr: ":9090"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, TripleBackend, cfg.Metadata.Default)
	assert.True(t, cfg.Metadata.Triple.Enabled)
	assert.Empty(t, cfg.Metadata.Triple.Path)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)

	require.Len(t, cfg.Storage.Adapters, 2)
	assert.Equal(t, StorageAdapterConfig{Name: "cache", Kind: RedisStorage, Addr: "localhost:6379", Prefix: "folio:"}, cfg.Storage.Adapters[0])
	assert.Equal(t, "/srv/files", cfg.Storage.Adapters[1].Path)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("FOLIO_LOGGING_LEVEL", "warn")
	t.Setenv("FOLIO_METRICS_ADDR", "127.0.0.1:9100")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
}

func TestExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Metadata: MetadataConfig{
				Default:    IndexingPersister,
				Index:      IndexConfig{Enabled: true, Path: "idx.db"},
				Relational: RelationalConfig{Enabled: true, Driver: "sqlite", DSN: ":memory:"},
				Buffered:   BufferedConfig{Enabled: true, Primary: RelationalBackend, Index: IndexBackend},
			},
			Storage: StorageConfig{
				Default:  "disk",
				Adapters: []StorageAdapterConfig{{Name: "disk", Kind: DiskStorage, Path: "files"}},
			},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Metadata.Relational.Driver = "oracle" }, "metadata.relational.driver"},
		{"missing dsn", func(c *Config) { c.Metadata.Relational.DSN = "" }, "dsn is required"},
		{"buffered over disabled", func(c *Config) { c.Metadata.Index.Enabled = false }, "not available"},
		{"buffered over itself", func(c *Config) { c.Metadata.Buffered.Index = RelationalBackend }, "must differ"},
		{"disabled default", func(c *Config) { c.Metadata.Default = TripleBackend }, "metadata.default"},
		{"no adapters", func(c *Config) { c.Storage.Adapters = nil }, "must not be empty"},
		{"duplicate adapter", func(c *Config) {
			c.Storage.Adapters = append(c.Storage.Adapters, StorageAdapterConfig{Name: "disk", Kind: MemoryStorage})
		}, "duplicate name"},
		{"redis without addr", func(c *Config) {
			c.Storage.Adapters = append(c.Storage.Adapters, StorageAdapterConfig{Name: "r", Kind: RedisStorage})
		}, "needs an addr"},
		{"unknown kind", func(c *Config) { c.Storage.Adapters[0].Kind = "s3" }, "unknown kind"},
		{"missing default storage", func(c *Config) { c.Storage.Default = "redis" }, "storage.default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
