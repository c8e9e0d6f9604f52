// ABOUTME: Maps resources to search-index documents and back
// ABOUTME: Field names and value markers follow the Solr dynamic-field convention

package index

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nainya/folio/pkg/persistence"
	"github.com/nainya/folio/pkg/resource"
)

// Reserved fields, suffixes and value markers.
const (
	FieldID            = "id"
	FieldInternalModel = "internal_model_ssim"
	FieldCreatedAt     = "created_at_dtsi"
	FieldUpdatedAt     = "updated_at_dtsi"

	SuffixStrings  = "_ssim"
	SuffixLanguage = "_lang"

	MarkerID        = "id-"
	MarkerStructure = "serialized-json-"
	// MarkerLiteral protects literal text that would otherwise read as
	// another marker.
	MarkerLiteral = "literal-"

	// DefaultLanguage marks an untagged position in a _lang field.
	DefaultLanguage = "default"
	// MarkerLanguage protects a real tag that would otherwise read as
	// DefaultLanguage.
	MarkerLanguage = "lang-"
)

// Document is the native record: field name to ordered values.
type Document map[string][]string

// Factory converts between resources and documents.
type Factory struct {
	types *resource.TypeRegistry
}

var _ persistence.ResourceFactory[Document] = (*Factory)(nil)

func NewFactory(types *resource.TypeRegistry) *Factory {
	return &Factory{types: types}
}

func fieldName(attr string) string {
	return attr + SuffixStrings
}

func languageField(attr string) string {
	return attr + SuffixLanguage + SuffixStrings
}

func reservedAttribute(name string) bool {
	return name == "" || name == "internal_model" || strings.HasSuffix(name, SuffixLanguage)
}

// FromResource encodes r. The resource must already have an id.
func (f *Factory) FromResource(r *resource.Resource) (Document, error) {
	if r.ID.IsZero() {
		return nil, fmt.Errorf("index: resource has no id")
	}
	if _, err := f.types.Lookup(r.InternalModel); err != nil {
		return nil, err
	}

	doc := Document{
		FieldID:            {MarkerID + r.ID.String()},
		FieldInternalModel: {r.InternalModel},
	}
	if !r.CreatedAt.IsZero() {
		doc[FieldCreatedAt] = []string{r.CreatedAt.UTC().Format(time.RFC3339Nano)}
	}
	if !r.UpdatedAt.IsZero() {
		doc[FieldUpdatedAt] = []string{r.UpdatedAt.UTC().Format(time.RFC3339Nano)}
	}

	for _, name := range r.Names() {
		if reservedAttribute(name) {
			return nil, fmt.Errorf("index: attribute name %q is reserved", name)
		}
		vals := r.Get(name)
		encoded := make([]string, len(vals))
		langs := make([]string, len(vals))
		tagged := false
		for i, v := range vals {
			s, err := encodeValue(v)
			if err != nil {
				return nil, fmt.Errorf("index: attribute %s: %w", name, err)
			}
			encoded[i] = s
			langs[i] = DefaultLanguage
			if l, ok := v.(resource.Literal); ok && l.IsTagged() {
				langs[i] = encodeLanguage(l.Language)
				tagged = true
			}
		}
		doc[fieldName(name)] = encoded
		if tagged {
			doc[languageField(name)] = langs
		}
	}
	return doc, nil
}

func encodeLanguage(lang string) string {
	if lang == DefaultLanguage || strings.HasPrefix(lang, MarkerLanguage) {
		return MarkerLanguage + lang
	}
	return lang
}

func decodeLanguage(lang string) string {
	switch {
	case lang == DefaultLanguage:
		return ""
	case strings.HasPrefix(lang, MarkerLanguage):
		return strings.TrimPrefix(lang, MarkerLanguage)
	}
	return lang
}

func encodeValue(v resource.Value) (string, error) {
	switch v := v.(type) {
	case resource.ID:
		return MarkerID + v.String(), nil
	case *resource.Structure:
		data, err := resource.MarshalStructure(v)
		if err != nil {
			return "", err
		}
		return MarkerStructure + string(data), nil
	case resource.Literal:
		for _, marker := range []string{MarkerID, MarkerStructure, MarkerLiteral} {
			if strings.HasPrefix(v.Text, marker) {
				return MarkerLiteral + v.Text, nil
			}
		}
		return v.Text, nil
	}
	return "", fmt.Errorf("unsupported value %T", v)
}

// decoder is one row of the value strategy table.
type decoder struct {
	name   string
	match  func(string) bool
	decode func(string) (resource.Value, error)
}

func hasPrefix(p string) func(string) bool {
	return func(s string) bool { return strings.HasPrefix(s, p) }
}

// decoders is evaluated in order; the last row matches everything.
var decoders = []decoder{
	{
		name:  "structure",
		match: hasPrefix(MarkerStructure),
		decode: func(s string) (resource.Value, error) {
			return resource.ParseStructure([]byte(strings.TrimPrefix(s, MarkerStructure)))
		},
	},
	{
		name:  "id",
		match: hasPrefix(MarkerID),
		decode: func(s string) (resource.Value, error) {
			return resource.ID(strings.TrimPrefix(s, MarkerID)), nil
		},
	},
	{
		name:  "escaped literal",
		match: hasPrefix(MarkerLiteral),
		decode: func(s string) (resource.Value, error) {
			return resource.Text(strings.TrimPrefix(s, MarkerLiteral)), nil
		},
	},
	{
		name:  "literal",
		match: func(string) bool { return true },
		decode: func(s string) (resource.Value, error) {
			return resource.Text(s), nil
		},
	},
}

func decodeValue(s string) (resource.Value, error) {
	for _, d := range decoders {
		if d.match(s) {
			v, err := d.decode(s)
			if err != nil {
				return nil, fmt.Errorf("%s value: %w", d.name, err)
			}
			return v, nil
		}
	}
	panic("index: no decoder matched")
}

// ToResource decodes a document.
func (f *Factory) ToResource(doc Document) (*resource.Resource, error) {
	ids := doc[FieldID]
	if len(ids) != 1 || !strings.HasPrefix(ids[0], MarkerID) || len(ids[0]) == len(MarkerID) {
		return nil, persistence.Malformed("document has no %s field", FieldID)
	}
	models := doc[FieldInternalModel]
	if len(models) != 1 {
		return nil, persistence.Malformed("document %s has no %s field", ids[0], FieldInternalModel)
	}

	r, err := f.types.New(models[0])
	if err != nil {
		return nil, err
	}
	r.ID = resource.ID(strings.TrimPrefix(ids[0], MarkerID))
	if r.CreatedAt, err = parseTime(doc, FieldCreatedAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(doc, FieldUpdatedAt); err != nil {
		return nil, err
	}

	fields := make([]string, 0, len(doc))
	for field := range doc {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if field == FieldInternalModel || !strings.HasSuffix(field, SuffixStrings) {
			continue
		}
		attr := strings.TrimSuffix(field, SuffixStrings)
		if strings.HasSuffix(attr, SuffixLanguage) {
			continue
		}
		vals, err := decodeField(doc[field], doc[languageField(attr)])
		if err != nil {
			return nil, persistence.Malformed("field %s: %v", field, err)
		}
		r.Set(attr, vals...)
	}
	return r, nil
}

// decodeField applies the strategy table to each element and pairs
// literals with the language at the same position.
func decodeField(raw, langs []string) ([]resource.Value, error) {
	out := make([]resource.Value, 0, len(raw))
	for i, s := range raw {
		v, err := decodeValue(s)
		if err != nil {
			return nil, err
		}
		if lit, ok := v.(resource.Literal); ok && i < len(langs) {
			lit.Language = decodeLanguage(langs[i])
			v = lit
		}
		out = append(out, v)
	}
	return out, nil
}

func parseTime(doc Document, field string) (time.Time, error) {
	vals := doc[field]
	if len(vals) == 0 {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, vals[0])
	if err != nil {
		return time.Time{}, persistence.Malformed("field %s: %v", field, err)
	}
	return t.UTC(), nil
}

// references lists the (property, target) pairs of ID values in doc.
func references(doc Document) [][2]string {
	var out [][2]string
	for field, vals := range doc {
		if field == FieldID || field == FieldInternalModel || !strings.HasSuffix(field, SuffixStrings) {
			continue
		}
		attr := strings.TrimSuffix(field, SuffixStrings)
		if strings.HasSuffix(attr, SuffixLanguage) {
			continue
		}
		for _, v := range vals {
			if strings.HasPrefix(v, MarkerID) {
				out = append(out, [2]string{attr, strings.TrimPrefix(v, MarkerID)})
			}
		}
	}
	return out
}
