package index

import (
	"context"
	"time"

	"github.com/nainya/folio/pkg/persistence"
	"github.com/nainya/folio/pkg/resource"
	"github.com/nainya/folio/pkg/storage"
)

func (a *Adapter) FindByID(ctx context.Context, id resource.ID) (_ *resource.Resource, err error) {
	defer a.opts.Track(backend, "find_by_id", time.Now(), &err)

	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.find(id)
}

func (a *Adapter) find(id resource.ID) (*resource.Resource, error) {
	doc, ok, err := a.loadDocument(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, persistence.NotFound(id)
	}
	return a.factory.ToResource(doc)
}

// findIndexed loads every id listed under an index prefix.
func (a *Adapter) findIndexed(prefix []byte) ([]*resource.Resource, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var ids []resource.ID
	a.kv.ScanPrefix(prefix, func(key, _ []byte) bool {
		if id, ok := lastID(key); ok {
			ids = append(ids, id)
		}
		return true
	})

	out := make([]*resource.Resource, 0, len(ids))
	for _, id := range ids {
		r, err := a.find(id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	resource.SortByID(out)
	return out, nil
}

func (a *Adapter) FindAll(ctx context.Context) (_ []*resource.Resource, err error) {
	defer a.opts.Track(backend, "find_all", time.Now(), &err)
	return a.findIndexed(storage.EncodeKey(prefixModel))
}

func (a *Adapter) FindAllOfModel(ctx context.Context, model string) (_ []*resource.Resource, err error) {
	defer a.opts.Track(backend, "find_all_of_model", time.Now(), &err)
	return a.findIndexed(modelPrefix(model))
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

// FindInverseReferencesBy is one prefix scan of the reference index.
func (a *Adapter) FindInverseReferencesBy(ctx context.Context, r *resource.Resource, property string) (_ []*resource.Resource, err error) {
	defer a.opts.Track(backend, "find_inverse_references_by", time.Now(), &err)
	if r.ID.IsZero() {
		return nil, nil
	}
	return a.findIndexed(referencePrefix(property, r.ID))
}

func (a *Adapter) Count(ctx context.Context) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := 0
	a.kv.ScanPrefix(storage.EncodeKey(prefixModel), func(_, _ []byte) bool {
		n++
		return true
	})
	return n, nil
}
