// ABOUTME: Attribute value shapes: literals, ID references and structures
// ABOUTME: Value is a closed sum type; equality follows the shape

package resource

// Value is one attribute value: a Literal, an ID or a *Structure.
type Value interface {
	isValue()
}

func (Literal) isValue()    {}
func (ID) isValue()         {}
func (*Structure) isValue() {}

// Literal is a text value with an optional language tag.
type Literal struct {
	Text     string
	Language string
}

// Text returns an untagged literal.
func Text(s string) Literal {
	return Literal{Text: s}
}

// Tagged returns a language-tagged literal.
func Tagged(s, lang string) Literal {
	return Literal{Text: s, Language: lang}
}

// IsTagged reports whether the literal carries a language.
func (l Literal) IsTagged() bool {
	return l.Language != ""
}

// Texts turns plain strings into untagged literals.
func Texts(ss ...string) []Value {
	out := make([]Value, len(ss))
	for i, s := range ss {
		out[i] = Text(s)
	}
	return out
}

// IDs turns identifiers into values.
func IDs(ids ...ID) []Value {
	out := make([]Value, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// ValueEqual compares two values by shape and content.
func ValueEqual(a, b Value) bool {
	switch av := a.(type) {
	case Literal:
		bv, ok := b.(Literal)
		return ok && av == bv
	case ID:
		bv, ok := b.(ID)
		return ok && av == bv
	case *Structure:
		bv, ok := b.(*Structure)
		return ok && av.Equal(bv)
	}
	return a == nil && b == nil
}

func cloneValue(v Value) Value {
	if s, ok := v.(*Structure); ok {
		return s.Clone()
	}
	return v
}
