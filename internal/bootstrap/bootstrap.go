// Package bootstrap assembles the adapter registries described by a config
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/nainya/folio/internal/config"
	"github.com/nainya/folio/internal/logger"
	"github.com/nainya/folio/internal/metrics"
	"github.com/nainya/folio/pkg/filestore"
	"github.com/nainya/folio/pkg/ingest"
	"github.com/nainya/folio/pkg/model"
	"github.com/nainya/folio/pkg/persistence"
	"github.com/nainya/folio/pkg/persistence/buffered"
	"github.com/nainya/folio/pkg/persistence/index"
	"github.com/nainya/folio/pkg/persistence/memory"
	"github.com/nainya/folio/pkg/persistence/relational"
	"github.com/nainya/folio/pkg/persistence/triple"
	"github.com/nainya/folio/pkg/resource"
)

// App holds every adapter built from one config
type App struct {
	Config   *config.Config
	Log      *logger.Logger
	Gatherer *prometheus.Registry
	Metrics  *metrics.Metrics
	Types    *resource.TypeRegistry
	Metadata *persistence.Registry
	Storage  *filestore.Registry

	// Indexing is set when the indexing persister is enabled
	Indexing *buffered.Persister

	closers []io.Closer
}

// New opens the configured backends. Disk paths are resolved against the
// real filesystem; on failure everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *App, err error) {
	if log == nil {
		log = logger.Nop()
	}
	reg := prometheus.NewRegistry()
	a := &App{
		Config:   cfg,
		Log:      log,
		Gatherer: reg,
		Metrics:  metrics.NewMetrics(reg),
		Types:    model.Types(),
		Metadata: persistence.NewRegistry(),
		Storage:  filestore.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := a.openMetadata(ctx); err != nil {
		return nil, err
	}
	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}
	log.LogStartup(cfg.Metadata.Default, cfg.Storage.Default)
	return a, nil
}

func (a *App) persistOptions(name string) []persistence.Option {
	return []persistence.Option{
		persistence.WithLogger(a.Log.AdapterLogger(name).Zerolog()),
		persistence.WithObserver(a.Metrics),
	}
}

func ensureParent(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (a *App) register(name string, adapter persistence.MetadataAdapter) error {
	if err := a.Metadata.Register(name, adapter); err != nil {
		return err
	}
	a.Log.Debug().Str("adapter", name).Msg("metadata adapter registered")
	return nil
}

func (a *App) openMetadata(ctx context.Context) error {
	m := a.Config.Metadata

	if err := a.register(config.MemoryBackend, memory.New(a.Types, a.persistOptions(config.MemoryBackend)...)); err != nil {
		return err
	}

	if m.Index.Enabled {
		if err := ensureParent(m.Index.Path); err != nil {
			return fmt.Errorf("index: %w", err)
		}
		idx, err := index.Open(m.Index.Path, a.Types, a.persistOptions(config.IndexBackend)...)
		if err != nil {
			return fmt.Errorf("index: %w", err)
		}
		a.closers = append(a.closers, idx)
		if err := a.register(config.IndexBackend, idx); err != nil {
			return err
		}
	}

	if m.Triple.Enabled {
		if m.Triple.Path != "" {
			if err := os.MkdirAll(m.Triple.Path, 0o755); err != nil {
				return fmt.Errorf("triple: %w", err)
			}
		}
		ts, err := triple.Open(m.Triple.Path, a.Types, a.persistOptions(config.TripleBackend)...)
		if err != nil {
			return fmt.Errorf("triple: %w", err)
		}
		a.closers = append(a.closers, ts)
		if err := a.register(config.TripleBackend, ts); err != nil {
			return err
		}
	}

	if m.Relational.Enabled {
		dialect, err := relational.DialectFor(m.Relational.Driver)
		if err != nil {
			return err
		}
		if dialect.Name == relational.SQLite.Name && m.Relational.DSN != ":memory:" {
			if err := ensureParent(m.Relational.DSN); err != nil {
				return fmt.Errorf("relational: %w", err)
			}
		}
		rs, err := relational.Open(ctx, dialect, m.Relational.DSN, a.Types, a.persistOptions(config.RelationalBackend)...)
		if err != nil {
			return fmt.Errorf("relational: %w", err)
		}
		a.closers = append(a.closers, rs)
		if err := a.register(config.RelationalBackend, rs); err != nil {
			return err
		}
	}

	if m.Buffered.Enabled {
		primary, err := a.Metadata.Find(m.Buffered.Primary)
		if err != nil {
			return fmt.Errorf("%s primary: %w", config.IndexingPersister, err)
		}
		idx, err := a.Metadata.Find(m.Buffered.Index)
		if err != nil {
			return fmt.Errorf("%s index: %w", config.IndexingPersister, err)
		}
		a.Indexing = buffered.New(primary, idx, a.persistOptions(config.IndexingPersister)...)
		if err := a.register(config.IndexingPersister, a.Indexing); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) openStorage(ctx context.Context) error {
	for _, sc := range a.Config.Storage.Adapters {
		var adapter filestore.Adapter
		switch sc.Kind {
		case config.DiskStorage:
			if err := os.MkdirAll(sc.Path, 0o755); err != nil {
				return fmt.Errorf("storage %s: %w", sc.Name, err)
			}
			adapter = filestore.NewDisk(afero.NewOsFs(), sc.Path)
		case config.MemoryStorage:
			adapter = filestore.NewMemory()
		case config.RedisStorage:
			r, err := filestore.NewRedis(ctx, filestore.RedisConfig{
				Addr:     sc.Addr,
				Password: sc.Password,
				DB:       sc.DB,
				Prefix:   sc.Prefix,
			})
			if err != nil {
				return fmt.Errorf("storage %s: %w", sc.Name, err)
			}
			a.closers = append(a.closers, r)
			adapter = r
		default:
			return fmt.Errorf("storage %s: unknown kind %q", sc.Name, sc.Kind)
		}
		if err := a.Storage.Register(sc.Name, adapter); err != nil {
			return err
		}
		a.Log.Debug().Str("adapter", sc.Name).Str("kind", sc.Kind).Msg("storage adapter registered")
	}
	return nil
}

// MetadataAdapter returns the configured default metadata adapter
func (a *App) MetadataAdapter() (persistence.MetadataAdapter, error) {
	return a.Metadata.Find(a.Config.Metadata.Default)
}

// StorageAdapter returns the configured default storage adapter
func (a *App) StorageAdapter() (filestore.Adapter, error) {
	return a.Storage.Find(a.Config.Storage.Default)
}

// Ingest persists doc through the default adapters. With the indexing
// persister as default, the whole document is one buffered session.
func (a *App) Ingest(ctx context.Context, source string, doc ingest.Document) (*resource.Resource, error) {
	storage, err := a.StorageAdapter()
	if err != nil {
		return nil, err
	}
	log := a.Log.IngestLogger(source).WithFields(map[string]interface{}{
		"metadata_adapter": a.Config.Metadata.Default,
		"storage_adapter":  a.Config.Storage.Default,
	})
	opts := []ingest.Option{
		ingest.WithLogger(log.Zerolog()),
		ingest.WithRecorder(a.Metrics),
	}

	if a.Indexing == nil || a.Config.Metadata.Default != config.IndexingPersister {
		adapter, err := a.MetadataAdapter()
		if err != nil {
			return nil, err
		}
		return ingest.New(adapter.Persister(), storage, opts...).Ingest(ctx, doc)
	}

	session := a.Indexing.Begin()
	book, err := ingest.New(session, storage, opts...).Ingest(ctx, doc)
	if err != nil {
		session.Abandon()
		return nil, err
	}
	total := len(session.Pending())
	err = session.Flush(ctx)

	applied := total
	var perr *buffered.FlushPropagationError
	if errors.As(err, &perr) {
		applied = len(perr.Applied)
	}
	log.LogFlush(applied, total-applied, err)
	return book, err
}

// Ready checks that the default metadata adapter answers queries
func (a *App) Ready(ctx context.Context) error {
	adapter, err := a.MetadataAdapter()
	if err != nil {
		return err
	}
	n, err := adapter.QueryService().Count(ctx)
	if err != nil {
		return err
	}
	a.Metrics.SetResourceCount(a.Config.Metadata.Default, n)
	return nil
}

// Close releases every opened backend in reverse order
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
