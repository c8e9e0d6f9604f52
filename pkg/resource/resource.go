// ABOUTME: Resource is the backend-neutral entity every store persists
// ABOUTME: Attributes hold ordered value lists; the schema decides how they compare

package resource

import (
	"sort"
	"time"
)

// MemberIDs is the sequence attribute listing a resource's ordered children.
const MemberIDs = "member_ids"

// Resource is a typed attribute mapping plus identity and type tag.
// Use Schema.New or TypeRegistry.New to create one.
type Resource struct {
	ID            ID
	InternalModel string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	schema *Schema
	attrs  map[string][]Value
}

// Schema returns the schema the resource was built from.
func (r *Resource) Schema() *Schema {
	return r.schema
}

// Get returns a copy of the values of an attribute.
func (r *Resource) Get(name string) []Value {
	vals := r.attrs[name]
	if len(vals) == 0 {
		return nil
	}
	out := make([]Value, len(vals))
	for i, v := range vals {
		out[i] = cloneValue(v)
	}
	return out
}

// Set replaces an attribute. Setting no values removes it.
func (r *Resource) Set(name string, vals ...Value) {
	if r.attrs == nil {
		r.attrs = map[string][]Value{}
	}
	if len(vals) == 0 {
		delete(r.attrs, name)
		return
	}
	cp := make([]Value, 0, len(vals))
	for _, v := range vals {
		if v != nil {
			cp = append(cp, cloneValue(v))
		}
	}
	if len(cp) == 0 {
		delete(r.attrs, name)
		return
	}
	r.attrs[name] = cp
}

// Append adds values to the end of an attribute.
func (r *Resource) Append(name string, vals ...Value) {
	r.Set(name, append(r.Get(name), vals...)...)
}

// Has reports whether an attribute has at least one value.
func (r *Resource) Has(name string) bool {
	return len(r.attrs[name]) > 0
}

// Names returns the attributes that have values, sorted.
func (r *Resource) Names() []string {
	out := make([]string, 0, len(r.attrs))
	for name := range r.attrs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Kind returns how an attribute compares.
func (r *Resource) Kind(name string) Kind {
	return r.schema.Kind(name)
}

// IDs returns the ID values of an attribute in order.
func (r *Resource) IDs(name string) []ID {
	var out []ID
	for _, v := range r.attrs[name] {
		if id, ok := v.(ID); ok {
			out = append(out, id)
		}
	}
	return out
}

// Strings returns the text of the literal values of an attribute.
func (r *Resource) Strings(name string) []string {
	var out []string
	for _, v := range r.attrs[name] {
		if l, ok := v.(Literal); ok {
			out = append(out, l.Text)
		}
	}
	return out
}

// Structures returns copies of the structure values of an attribute.
func (r *Resource) Structures(name string) []*Structure {
	var out []*Structure
	for _, v := range r.attrs[name] {
		if s, ok := v.(*Structure); ok {
			out = append(out, s.Clone())
		}
	}
	return out
}

// References reports whether an attribute contains target.
func (r *Resource) References(name string, target ID) bool {
	for _, v := range r.attrs[name] {
		if id, ok := v.(ID); ok && id == target {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	out := *r
	out.attrs = make(map[string][]Value, len(r.attrs))
	for name := range r.attrs {
		out.attrs[name] = r.Get(name)
	}
	return &out
}

// Stamp sets UpdatedAt to now and CreatedAt when unset. Times are kept in
// UTC at microsecond precision so every backend can store them exactly.
func (r *Resource) Stamp(now time.Time) {
	now = now.UTC().Truncate(time.Microsecond)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
}

// Equal compares identity, type, timestamps and attributes. Set attributes
// match regardless of order; sequences must match position by position.
func Equal(a, b *Resource) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ID != b.ID || a.InternalModel != b.InternalModel {
		return false
	}
	if !a.CreatedAt.Equal(b.CreatedAt) || !a.UpdatedAt.Equal(b.UpdatedAt) {
		return false
	}
	if len(a.attrs) != len(b.attrs) {
		return false
	}
	for name, av := range a.attrs {
		bv, ok := b.attrs[name]
		if !ok {
			return false
		}
		if a.Kind(name) == Sequence {
			if !sequenceEqual(av, bv) {
				return false
			}
		} else if !setEqual(av, bv) {
			return false
		}
	}
	return true
}

func sequenceEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !ValueEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// setEqual compares as multisets.
func setEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
outer:
	for _, av := range a {
		for j, bv := range b {
			if !used[j] && ValueEqual(av, bv) {
				used[j] = true
				continue outer
			}
		}
		return false
	}
	return true
}

// SortByID orders resources by id, in place.
func SortByID(rs []*Resource) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
}
