// Package memory is a non-durable metadata backend holding resources in a map.
// Parent and inverse-reference lookups are linear scans.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nainya/folio/pkg/persistence"
	"github.com/nainya/folio/pkg/resource"
)

const backend = "memory"

// Adapter is safe for concurrent use.
type Adapter struct {
	mu      sync.RWMutex
	records map[resource.ID]*resource.Resource

	factory *Factory
	opts    persistence.Options
}

var (
	_ persistence.MetadataAdapter = (*Adapter)(nil)
	_ persistence.Persister       = (*Adapter)(nil)
	_ persistence.QueryService    = (*Adapter)(nil)
)

func New(types *resource.TypeRegistry, opts ...persistence.Option) *Adapter {
	return &Adapter{
		records: map[resource.ID]*resource.Resource{},
		factory: &Factory{types: types},
		opts:    persistence.NewOptions(opts...),
	}
}

func (a *Adapter) Persister() persistence.Persister       { return a }
func (a *Adapter) QueryService() persistence.QueryService { return a }
func (a *Adapter) ResourceFactory() *Factory               { return a.factory }

// Factory stores detached copies; the native form is the resource itself.
type Factory struct {
	types *resource.TypeRegistry
}

var _ persistence.ResourceFactory[*resource.Resource] = (*Factory)(nil)

// ToResource checks the type tag and returns a copy rebuilt from its schema.
func (f *Factory) ToResource(native *resource.Resource) (*resource.Resource, error) {
	if native == nil || native.ID.IsZero() {
		return nil, persistence.Malformed("record without id")
	}
	out, err := f.types.New(native.InternalModel)
	if err != nil {
		return nil, err
	}
	out.ID = native.ID
	out.CreatedAt = native.CreatedAt
	out.UpdatedAt = native.UpdatedAt
	for _, name := range native.Names() {
		out.Set(name, native.Get(name)...)
	}
	return out, nil
}

func (f *Factory) FromResource(r *resource.Resource) (*resource.Resource, error) {
	if _, err := f.types.Lookup(r.InternalModel); err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

func (a *Adapter) Save(ctx context.Context, r *resource.Resource) (_ *resource.Resource, err error) {
	defer a.opts.Track(backend, "save", time.Now(), &err)

	a.mu.Lock()
	defer a.mu.Unlock()

	var createdAt time.Time
	if prev, ok := a.records[r.ID]; ok {
		createdAt = prev.CreatedAt
	}
	native, err := a.factory.FromResource(a.opts.Prepare(ctx, r, createdAt))
	if err != nil {
		return nil, err
	}
	a.records[native.ID] = native
	return a.factory.ToResource(native)
}

func (a *Adapter) SaveAll(ctx context.Context, rs []*resource.Resource) ([]*resource.Resource, error) {
	return persistence.SaveAll(ctx, a, rs)
}

func (a *Adapter) Delete(ctx context.Context, r *resource.Resource) (*resource.Resource, error) {
	var err error
	defer a.opts.Track(backend, "delete", time.Now(), &err)

	a.mu.Lock()
	delete(a.records, r.ID)
	a.mu.Unlock()
	return r, nil
}

func (a *Adapter) Wipe(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = map[resource.ID]*resource.Resource{}
	return nil
}

func (a *Adapter) FindByID(ctx context.Context, id resource.ID) (_ *resource.Resource, err error) {
	defer a.opts.Track(backend, "find_by_id", time.Now(), &err)

	a.mu.RLock()
	native, ok := a.records[id]
	a.mu.RUnlock()
	if !ok {
		return nil, persistence.NotFound(id)
	}
	return a.factory.ToResource(native)
}

// scan returns every record matching keep, sorted by id.
func (a *Adapter) scan(keep func(*resource.Resource) bool) ([]*resource.Resource, error) {
	a.mu.RLock()
	matched := make([]*resource.Resource, 0, len(a.records))
	for _, native := range a.records {
		if keep(native) {
			matched = append(matched, native)
		}
	}
	a.mu.RUnlock()

	out := make([]*resource.Resource, 0, len(matched))
	for _, native := range matched {
		r, err := a.factory.ToResource(native)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	resource.SortByID(out)
	return out, nil
}

func (a *Adapter) FindAll(ctx context.Context) ([]*resource.Resource, error) {
	return a.scan(func(*resource.Resource) bool { return true })
}

func (a *Adapter) FindAllOfModel(ctx context.Context, model string) ([]*resource.Resource, error) {
	return a.scan(func(r *resource.Resource) bool { return r.InternalModel == model })
}

func (a *Adapter) FindMembers(ctx context.Context, r *resource.Resource) ([]*resource.Resource, error) {
	return persistence.FindMembers(ctx, a, r)
}

func (a *Adapter) FindParents(ctx context.Context, r *resource.Resource) ([]*resource.Resource, error) {
	return a.FindInverseReferencesBy(ctx, r, resource.MemberIDs)
}

func (a *Adapter) FindReferencesBy(ctx context.Context, r *resource.Resource, property string) ([]*resource.Resource, error) {
	return persistence.FindReferencesBy(ctx, a, r, property)
}

func (a *Adapter) FindInverseReferencesBy(ctx context.Context, r *resource.Resource, property string) ([]*resource.Resource, error) {
	if r.ID.IsZero() {
		return nil, nil
	}
	return a.scan(func(other *resource.Resource) bool {
		return other.References(property, r.ID)
	})
}

func (a *Adapter) Count(ctx context.Context) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records), nil
}
