// ABOUTME: Schemas declare a model's attributes and how they compare
// ABOUTME: TypeRegistry maps internal_model tags to schemas for decoding

package resource

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownResourceType is returned when an internal_model tag has no schema.
var ErrUnknownResourceType = errors.New("unknown resource type")

// Kind says whether attribute order is significant.
type Kind int

const (
	// Set attributes compare without regard to order.
	Set Kind = iota
	// Sequence attributes compare position by position.
	Sequence
)

func (k Kind) String() string {
	if k == Sequence {
		return "sequence"
	}
	return "set"
}

// Attribute declares one attribute of a model.
type Attribute struct {
	Name string
	Kind Kind
}

// Schema describes a model. Attributes not declared are treated as sets.
type Schema struct {
	Model      string
	Attributes []Attribute

	byName map[string]Attribute
}

// NewSchema builds a schema for the given model tag.
func NewSchema(model string, attrs ...Attribute) *Schema {
	s := &Schema{Model: model, Attributes: attrs, byName: make(map[string]Attribute, len(attrs))}
	for _, a := range attrs {
		s.byName[a.Name] = a
	}
	return s
}

// Kind returns the declared kind of an attribute.
func (s *Schema) Kind(name string) Kind {
	if s == nil {
		return Set
	}
	return s.byName[name].Kind
}

// Declares reports whether the attribute is part of the schema.
func (s *Schema) Declares(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.byName[name]
	return ok
}

// New returns an empty resource of this model.
func (s *Schema) New() *Resource {
	return &Resource{InternalModel: s.Model, schema: s, attrs: map[string][]Value{}}
}

// TypeRegistry resolves internal_model tags. It is filled at startup and
// read concurrently afterwards.
type TypeRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{schemas: map[string]*Schema{}}
}

// Register adds a schema. A tag may only be registered once.
func (r *TypeRegistry) Register(s *Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schemas[s.Model]; ok {
		return fmt.Errorf("resource type %q already registered", s.Model)
	}
	r.schemas[s.Model] = s
	return nil
}

// Lookup returns the schema for a tag.
func (r *TypeRegistry) Lookup(model string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResourceType, model)
	}
	return s, nil
}

// New returns an empty resource for a tag.
func (r *TypeRegistry) New(model string) (*Resource, error) {
	s, err := r.Lookup(model)
	if err != nil {
		return nil, err
	}
	return s.New(), nil
}

// Models lists registered tags in sorted order.
func (r *TypeRegistry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for m := range r.schemas {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
