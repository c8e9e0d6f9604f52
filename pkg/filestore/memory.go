package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/nainya/folio/pkg/resource"
)

// MemoryScheme prefixes ids of the memory adapter.
const MemoryScheme = "memory://"

// Memory keeps content in process memory.
type Memory struct {
	mu    sync.RWMutex
	files map[resource.ID][]byte
}

var _ Adapter = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{files: map[resource.ID][]byte{}}
}

func (m *Memory) Handles(id resource.ID) bool {
	return id.HasScheme(MemoryScheme)
}

func (m *Memory) Upload(ctx context.Context, src Upload, owner *resource.Resource) (*File, error) {
	defer closeSource(src)
	loc, err := location(owner, src.Filename)
	if err != nil {
		return nil, fmt.Errorf("memory upload: %w", err)
	}
	data, err := io.ReadAll(src.Reader)
	if err != nil {
		return nil, fmt.Errorf("memory upload: %w", err)
	}

	id := resource.ID(MemoryScheme + loc)
	m.mu.Lock()
	m.files[id] = data
	m.mu.Unlock()
	return m.FindBy(ctx, id)
}

func (m *Memory) FindBy(ctx context.Context, id resource.ID) (*File, error) {
	if !m.Handles(id) {
		return nil, notFound(id)
	}
	m.mu.RLock()
	data, ok := m.files[id]
	m.mu.RUnlock()
	if !ok {
		return nil, notFound(id)
	}
	return &File{ID: id, ReadCloser: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
}

func (m *Memory) Delete(ctx context.Context, id resource.ID) error {
	m.mu.Lock()
	delete(m.files, id)
	m.mu.Unlock()
	return nil
}

// IDs lists stored ids with the given owner prefix; an empty owner lists all.
func (m *Memory) IDs(owner resource.ID) []resource.ID {
	prefix := MemoryScheme
	if !owner.IsZero() {
		prefix += owner.String() + "/"
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []resource.ID
	for id := range m.files {
		if strings.HasPrefix(id.String(), prefix) {
			out = append(out, id)
		}
	}
	return out
}
