// ABOUTME: Binary content storage: adapters claim ids by scheme prefix
// ABOUTME: Registry keeps registration order, which decides who claims an id first

package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/nainya/folio/pkg/resource"
)

var (
	// ErrAdapterNotFound is returned when no registered adapter handles an id.
	ErrAdapterNotFound = errors.New("storage adapter not found")
	// ErrFileNotFound is returned when the claiming adapter has no such file.
	ErrFileNotFound = errors.New("file not found")
)

// Upload is content handed to an adapter. Adapters may consume Reader and
// close it when it is an io.Closer.
type Upload struct {
	Filename string
	Reader   io.Reader
}

// File is an open handle on stored content. Size is -1 when unknown.
type File struct {
	ID resource.ID
	io.ReadCloser
	Size int64
}

// Adapter stores content under ids carrying its scheme.
type Adapter interface {
	Handles(id resource.ID) bool
	Upload(ctx context.Context, src Upload, owner *resource.Resource) (*File, error)
	FindBy(ctx context.Context, id resource.ID) (*File, error)
	// Delete removes the content; absent ids are not an error.
	Delete(ctx context.Context, id resource.ID) error
}

type entry struct {
	name    string
	adapter Adapter
}

// Registry holds adapters in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	byName  map[string]int
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]int{}}
}

// Register appends an adapter under name. Names are unique.
func (r *Registry) Register(name string, a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("storage adapter %q already registered", name)
	}
	r.byName[name] = len(r.entries)
	r.entries = append(r.entries, entry{name: name, adapter: a})
	return nil
}

// Unregister removes an adapter, keeping the order of the rest.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.byName[name]
	if !ok {
		return
	}
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	delete(r.byName, name)
	for j := i; j < len(r.entries); j++ {
		r.byName[r.entries[j].name] = j
	}
}

func (r *Registry) Find(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, name)
	}
	return r.entries[i].adapter, nil
}

// Names lists adapter names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	return names
}

// Claim returns the first adapter, in registration order, that handles id.
func (r *Registry) Claim(id resource.ID) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.adapter.Handles(id) {
			return e.adapter, nil
		}
	}
	return nil, fmt.Errorf("%w: no adapter handles %s", ErrAdapterNotFound, id)
}

// FindBy opens id through the adapter that claims it.
func (r *Registry) FindBy(ctx context.Context, id resource.ID) (*File, error) {
	a, err := r.Claim(id)
	if err != nil {
		return nil, err
	}
	return a.FindBy(ctx, id)
}

// Delete removes id through the adapter that claims it.
func (r *Registry) Delete(ctx context.Context, id resource.ID) error {
	a, err := r.Claim(id)
	if err != nil {
		return err
	}
	return a.Delete(ctx, id)
}

func notFound(id resource.ID) error {
	return fmt.Errorf("%w: %s", ErrFileNotFound, id)
}

// location builds the "<owner id>/<filename>" suffix shared by adapters.
func location(owner *resource.Resource, filename string) (string, error) {
	if owner == nil || owner.ID.IsZero() {
		return "", fmt.Errorf("upload needs a saved owner")
	}
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	dir := owner.ID.String()
	if strings.Contains(dir, "..") {
		return "", fmt.Errorf("owner id %q cannot name a location", dir)
	}
	return dir + "/" + name, nil
}

func closeSource(src Upload) {
	if c, ok := src.Reader.(io.Closer); ok {
		c.Close()
	}
}
