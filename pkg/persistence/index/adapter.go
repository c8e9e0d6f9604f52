// ABOUTME: Search-index metadata backend on the embedded B+Tree KV store
// ABOUTME: Documents, model index and reference index share one KV file

package index

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nainya/folio/pkg/persistence"
	"github.com/nainya/folio/pkg/resource"
	"github.com/nainya/folio/pkg/storage"
)

const backend = "index"

// Adapter stores index documents in a KV file. An empty path keeps the
// store in memory. Writers are serialized; readers share a lock.
type Adapter struct {
	mu      sync.RWMutex
	kv      *storage.KV
	factory *Factory
	opts    persistence.Options
}

var (
	_ persistence.MetadataAdapter = (*Adapter)(nil)
	_ persistence.Persister       = (*Adapter)(nil)
	_ persistence.QueryService    = (*Adapter)(nil)
)

// Open opens or creates the index at path.
func Open(path string, types *resource.TypeRegistry, opts ...persistence.Option) (*Adapter, error) {
	kv := &storage.KV{Path: path}
	if err := kv.Open(); err != nil {
		return nil, fmt.Errorf("open index %q: %w", path, err)
	}
	a := &Adapter{
		kv:      kv,
		factory: NewFactory(types),
		opts:    persistence.NewOptions(opts...),
	}
	a.opts.Logger.Info().Str("path", path).Msg("index opened")
	return a, nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.kv.Close()
}

func (a *Adapter) Persister() persistence.Persister       { return a }
func (a *Adapter) QueryService() persistence.QueryService { return a }
func (a *Adapter) ResourceFactory() *Factory               { return a.factory }

// loadDocument reads and joins the chunks of one document. Callers hold mu.
func (a *Adapter) loadDocument(id resource.ID) (Document, bool, error) {
	var buf bytes.Buffer
	found := false
	a.kv.ScanPrefix(documentPrefix(id), func(_, val []byte) bool {
		found = true
		buf.Write(val)
		return true
	})
	if !found {
		return nil, false, nil
	}
	doc, err := unmarshalDocument(buf.Bytes())
	if err != nil {
		return nil, true, persistence.Malformed("document %s: %v", id, err)
	}
	return doc, true, nil
}

// unindex removes a stored document and its index entries.
func unindex(tx *storage.Tx, id resource.ID, old Document) {
	tx.DelPrefix(documentPrefix(id))
	if models := old[FieldInternalModel]; len(models) == 1 {
		tx.Del(modelKey(models[0], id))
	}
	for _, ref := range references(old) {
		tx.Del(referenceKey(ref[0], ref[1], id))
	}
}

func writeDocument(tx *storage.Tx, id resource.ID, model string, doc Document) error {
	data, err := marshalDocument(doc)
	if err != nil {
		return err
	}
	for n := 0; n*chunkSize < len(data) || n == 0; n++ {
		end := min((n+1)*chunkSize, len(data))
		if err := tx.Set(chunkKey(id, n), data[n*chunkSize:end]); err != nil {
			return err
		}
	}
	if err := tx.Set(modelKey(model, id), nil); err != nil {
		return err
	}
	for _, ref := range references(doc) {
		if err := tx.Set(referenceKey(ref[0], ref[1], id), nil); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) Save(ctx context.Context, r *resource.Resource) (_ *resource.Resource, err error) {
	defer a.opts.Track(backend, "save", time.Now(), &err)

	a.mu.Lock()
	defer a.mu.Unlock()

	var old Document
	var createdAt time.Time
	if !r.ID.IsZero() {
		prev, ok, err := a.loadDocument(r.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			old = prev
			createdAt, _ = parseTime(prev, FieldCreatedAt)
		}
	}

	prepared := a.opts.Prepare(ctx, r, createdAt)
	doc, err := a.factory.FromResource(prepared)
	if err != nil {
		return nil, err
	}

	tx := a.kv.Begin()
	if old != nil {
		unindex(tx, prepared.ID, old)
	}
	if err := writeDocument(tx, prepared.ID, prepared.InternalModel, doc); err != nil {
		tx.Abort()
		return nil, fmt.Errorf("index save %s: %w", prepared.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("index commit: %w", err)
	}
	return a.factory.ToResource(doc)
}

func (a *Adapter) SaveAll(ctx context.Context, rs []*resource.Resource) ([]*resource.Resource, error) {
	return persistence.SaveAll(ctx, a, rs)
}

func (a *Adapter) Delete(ctx context.Context, r *resource.Resource) (_ *resource.Resource, err error) {
	defer a.opts.Track(backend, "delete", time.Now(), &err)

	a.mu.Lock()
	defer a.mu.Unlock()

	old, ok, err := a.loadDocument(r.ID)
	if err != nil || !ok {
		return r, err
	}
	tx := a.kv.Begin()
	unindex(tx, r.ID, old)
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("index commit: %w", err)
	}
	return r, nil
}

func (a *Adapter) Wipe(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx := a.kv.Begin()
	for _, p := range []uint32{prefixDocument, prefixModel, prefixReference} {
		tx.DelPrefix(storage.EncodeKey(p))
	}
	return tx.Commit()
}
