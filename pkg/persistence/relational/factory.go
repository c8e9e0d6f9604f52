// ABOUTME: Maps resources to relational rows and back
// ABOUTME: Attributes live in one JSON column using JSON-LD style value objects

package relational

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nainya/folio/pkg/persistence"
	"github.com/nainya/folio/pkg/resource"
)

// Row is the native record of one resource.
type Row struct {
	ID            string
	InternalModel string
	Metadata      []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Reference is one ID value of a resource, stored for inverse lookups.
type Reference struct {
	Property string
	Position int
	Target   string
}

// Factory converts between resources and rows.
type Factory struct {
	types *resource.TypeRegistry
}

var _ persistence.ResourceFactory[Row] = (*Factory)(nil)

func NewFactory(types *resource.TypeRegistry) *Factory {
	return &Factory{types: types}
}

type literalJSON struct {
	Value    string `json:"@value"`
	Language string `json:"@language"`
}

type idJSON struct {
	ID string `json:"@id"`
}

type structureJSON struct {
	Structure json.RawMessage `json:"@structure"`
}

// valueJSON reads any of the value shapes.
type valueJSON struct {
	Value     *string         `json:"@value"`
	Language  string          `json:"@language"`
	ID        *string         `json:"@id"`
	Structure json.RawMessage `json:"@structure"`
}

func encodeValue(v resource.Value) (any, error) {
	switch v := v.(type) {
	case resource.Literal:
		if !v.IsTagged() {
			return v.Text, nil
		}
		return literalJSON{Value: v.Text, Language: v.Language}, nil
	case resource.ID:
		return idJSON{ID: v.String()}, nil
	case *resource.Structure:
		data, err := resource.MarshalStructure(v)
		if err != nil {
			return nil, err
		}
		return structureJSON{Structure: data}, nil
	}
	return nil, fmt.Errorf("unsupported value %T", v)
}

func decodeValue(raw json.RawMessage) (resource.Value, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return resource.Text(text), nil
	}

	var v valueJSON
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	switch {
	case v.ID != nil:
		return resource.ID(*v.ID), nil
	case v.Structure != nil:
		return resource.ParseStructure(v.Structure)
	case v.Value != nil:
		return resource.Literal{Text: *v.Value, Language: v.Language}, nil
	}
	return nil, fmt.Errorf("value object has no @value, @id or @structure")
}

// FromResource encodes r. The resource must already have an id.
func (f *Factory) FromResource(r *resource.Resource) (Row, error) {
	if r.ID.IsZero() {
		return Row{}, fmt.Errorf("relational: resource has no id")
	}
	if _, err := f.types.Lookup(r.InternalModel); err != nil {
		return Row{}, err
	}

	metadata := make(map[string][]any, len(r.Names()))
	for _, name := range r.Names() {
		vals := r.Get(name)
		out := make([]any, len(vals))
		for i, v := range vals {
			enc, err := encodeValue(v)
			if err != nil {
				return Row{}, fmt.Errorf("relational: attribute %s: %w", name, err)
			}
			out[i] = enc
		}
		metadata[name] = out
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return Row{}, fmt.Errorf("relational: encode metadata: %w", err)
	}

	return Row{
		ID:            r.ID.String(),
		InternalModel: r.InternalModel,
		Metadata:      data,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}

// ToResource decodes a row.
func (f *Factory) ToResource(row Row) (*resource.Resource, error) {
	if row.ID == "" {
		return nil, persistence.Malformed("row has no id")
	}
	if row.InternalModel == "" {
		return nil, persistence.Malformed("row %s has no internal_model", row.ID)
	}
	r, err := f.types.New(row.InternalModel)
	if err != nil {
		return nil, err
	}
	r.ID = resource.ID(row.ID)
	r.CreatedAt = row.CreatedAt
	r.UpdatedAt = row.UpdatedAt

	var metadata map[string][]json.RawMessage
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			return nil, persistence.Malformed("row %s metadata: %v", row.ID, err)
		}
	}
	for name, raws := range metadata {
		vals := make([]resource.Value, 0, len(raws))
		for _, raw := range raws {
			v, err := decodeValue(raw)
			if err != nil {
				return nil, persistence.Malformed("row %s attribute %s: %v", row.ID, name, err)
			}
			vals = append(vals, v)
		}
		r.Set(name, vals...)
	}
	return r, nil
}

// References lists the ID values of r with their positions.
func References(r *resource.Resource) []Reference {
	var refs []Reference
	for _, name := range r.Names() {
		for i, v := range r.Get(name) {
			if id, ok := v.(resource.ID); ok {
				refs = append(refs, Reference{Property: name, Position: i, Target: id.String()})
			}
		}
	}
	return refs
}
