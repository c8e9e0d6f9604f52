// ABOUTME: Backend-neutral contracts for persisting and querying resources
// ABOUTME: Every metadata backend provides a Persister and a QueryService

package persistence

import (
	"context"

	"github.com/nainya/folio/pkg/resource"
)

// Persister writes resources to one backend.
type Persister interface {
	// Save upserts r by id, assigning a new id when r has none. The argument
	// is not modified; the returned copy carries the id and timestamps.
	Save(ctx context.Context, r *resource.Resource) (*resource.Resource, error)
	// Delete removes r. Deleting an absent resource is not an error.
	Delete(ctx context.Context, r *resource.Resource) (*resource.Resource, error)
	// SaveAll saves in order and stops at the first failure.
	SaveAll(ctx context.Context, rs []*resource.Resource) ([]*resource.Resource, error)
	// Wipe removes every resource.
	Wipe(ctx context.Context) error
}

// QueryService reads resources from one backend. Every implementation
// returns the same results for the same stored data. FindAll, FindAllOfModel,
// FindParents and FindInverseReferencesBy sort by id.
type QueryService interface {
	FindByID(ctx context.Context, id resource.ID) (*resource.Resource, error)
	FindAll(ctx context.Context) ([]*resource.Resource, error)
	FindAllOfModel(ctx context.Context, model string) ([]*resource.Resource, error)
	// FindMembers dereferences member_ids in order. A dangling id fails the
	// whole call with ErrObjectNotFound.
	FindMembers(ctx context.Context, r *resource.Resource) ([]*resource.Resource, error)
	// FindParents returns resources whose member_ids contain r.
	FindParents(ctx context.Context, r *resource.Resource) ([]*resource.Resource, error)
	// FindReferencesBy dereferences the ID values of property in order.
	FindReferencesBy(ctx context.Context, r *resource.Resource, property string) ([]*resource.Resource, error)
	// FindInverseReferencesBy returns resources whose property contains r.
	FindInverseReferencesBy(ctx context.Context, r *resource.Resource, property string) ([]*resource.Resource, error)
	Count(ctx context.Context) (int, error)
}

// MetadataAdapter bundles the persister and query service of a backend.
type MetadataAdapter interface {
	Persister() Persister
	QueryService() QueryService
}

// ResourceFactory maps resources to and from a backend's native form N.
// FromResource never assigns ids.
type ResourceFactory[N any] interface {
	ToResource(native N) (*resource.Resource, error)
	FromResource(r *resource.Resource) (N, error)
}

// Finder is the single-record lookup the shared traversal helpers need.
type Finder interface {
	FindByID(ctx context.Context, id resource.ID) (*resource.Resource, error)
}

// Dereference loads ids in order, failing on the first miss.
func Dereference(ctx context.Context, f Finder, ids []resource.ID) ([]*resource.Resource, error) {
	out := make([]*resource.Resource, 0, len(ids))
	for _, id := range ids {
		r, err := f.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// FindMembers is the shared member_ids traversal.
func FindMembers(ctx context.Context, f Finder, r *resource.Resource) ([]*resource.Resource, error) {
	return Dereference(ctx, f, r.IDs(resource.MemberIDs))
}

// FindReferencesBy is the shared forward-reference traversal.
func FindReferencesBy(ctx context.Context, f Finder, r *resource.Resource, property string) ([]*resource.Resource, error) {
	return Dereference(ctx, f, r.IDs(property))
}

// SaveAll saves rs one by one through p.
func SaveAll(ctx context.Context, p interface {
	Save(context.Context, *resource.Resource) (*resource.Resource, error)
}, rs []*resource.Resource) ([]*resource.Resource, error) {
	out := make([]*resource.Resource, 0, len(rs))
	for _, r := range rs {
		saved, err := p.Save(ctx, r)
		if err != nil {
			return out, err
		}
		out = append(out, saved)
	}
	return out, nil
}
