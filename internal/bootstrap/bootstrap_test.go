package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/folio/internal/config"
	"github.com/nainya/folio/pkg/filestore"
	"github.com/nainya/folio/pkg/ingest"
	"github.com/nainya/folio/pkg/model"
)

const manifest = `
identifier: bib-1
files:
  - id: f1
    path: p1.txt
  - id: f2
    path: p2.txt
structure:
  label: Contents
  nodes:
    - label: Front
      proxy: f1
    - proxy: f2
`

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Logging: config.LoggingConfig{Level: "error"},
		Metadata: config.MetadataConfig{
			Default:    config.IndexingPersister,
			Index:      config.IndexConfig{Enabled: true, Path: filepath.Join(dir, "meta", "index.db")},
			Triple:     config.TripleConfig{Enabled: true},
			Relational: config.RelationalConfig{Enabled: true, Driver: "sqlite", DSN: ":memory:"},
			Buffered:   config.BufferedConfig{Enabled: true, Primary: config.RelationalBackend, Index: config.IndexBackend},
		},
		Storage: config.StorageConfig{
			Default: "disk",
			Adapters: []config.StorageAdapterConfig{
				{Name: "disk", Kind: config.DiskStorage, Path: filepath.Join(dir, "files")},
				{Name: "memory", Kind: config.MemoryStorage},
			},
		},
	}
}

func loadManifest(t *testing.T) *ingest.Manifest {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/in/book.yaml", []byte(manifest), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/in/p1.txt", []byte("one"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/in/p2.txt", []byte("two"), 0o644))
	m, err := ingest.LoadManifest(fsys, "/in/book.yaml")
	require.NoError(t, err)
	return m
}

func TestNewRegistersAdapters(t *testing.T) {
	ctx := context.Background()
	app, err := New(ctx, testConfig(t), nil)
	require.NoError(t, err)
	defer app.Close()

	assert.ElementsMatch(t,
		[]string{"memory", "index", "triple", "relational", "indexing_persister"},
		app.Metadata.Names())
	assert.Equal(t, []string{"disk", "memory"}, app.Storage.Names())
	require.NotNil(t, app.Indexing)
	assert.NoError(t, app.Ready(ctx))
}

func TestIngestMirrorsIntoIndex(t *testing.T) {
	ctx := context.Background()
	app, err := New(ctx, testConfig(t), nil)
	require.NoError(t, err)
	defer app.Close()

	book, err := app.Ingest(ctx, "book.yaml", loadManifest(t))
	require.NoError(t, err)
	require.Len(t, book.IDs(model.MemberIDs), 2)

	primary, err := app.Metadata.Find(config.RelationalBackend)
	require.NoError(t, err)
	idx, err := app.Metadata.Find(config.IndexBackend)
	require.NoError(t, err)

	n, err := primary.QueryService().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	m, err := idx.QueryService().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, m)

	members, err := idx.QueryService().FindMembers(ctx, book)
	require.NoError(t, err)
	require.Len(t, members, 2)
	fileIDs := members[0].IDs(model.FileIdentifiers)
	require.Len(t, fileIDs, 1)
	assert.True(t, fileIDs[0].HasScheme(filestore.DiskScheme))

	f, err := app.Storage.FindBy(ctx, fileIDs[0])
	require.NoError(t, err)
	f.Close()

	assert.Equal(t, 2.0, testutil.ToFloat64(app.Metrics.IngestFilesTotal))
	assert.Positive(t, testutil.ToFloat64(app.Metrics.FlushMirrorsTotal.WithLabelValues("applied")))
	assert.Zero(t, testutil.ToFloat64(app.Metrics.FlushMirrorsTotal.WithLabelValues("failed")))
}

func TestIngestDirectAdapter(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Metadata.Default = config.TripleBackend
	cfg.Storage.Default = "memory"

	app, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer app.Close()

	book, err := app.Ingest(ctx, "book.yaml", loadManifest(t))
	require.NoError(t, err)

	ts, err := app.Metadata.Find(config.TripleBackend)
	require.NoError(t, err)
	got, err := ts.QueryService().FindByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookModel, got.InternalModel)

	idx, err := app.Metadata.Find(config.IndexBackend)
	require.NoError(t, err)
	n, err := idx.QueryService().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Storage.Adapters = append(cfg.Storage.Adapters,
		config.StorageAdapterConfig{Name: "cache", Kind: config.RedisStorage, Addr: mr.Addr(), Prefix: "f:"})

	app, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer app.Close()

	a, err := app.Storage.Find("cache")
	require.NoError(t, err)
	assert.True(t, a.Handles(filestore.RedisScheme+"x"))
}

func TestNewFailsOnUnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Adapters = append(cfg.Storage.Adapters,
		config.StorageAdapterConfig{Name: "cache", Kind: config.RedisStorage, Addr: "127.0.0.1:1"})

	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}
