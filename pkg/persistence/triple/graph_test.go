package triple

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/folio/pkg/model"
	"github.com/nainya/folio/pkg/persistence"
	"github.com/nainya/folio/pkg/resource"
)

func newBook() *resource.Resource {
	book := model.NewBook()
	book.ID = "book-1"
	book.Stamp(time.Date(2024, 2, 3, 4, 5, 6, 7000, time.UTC))
	return book
}

func objects(g Graph, subject, predicate string) []Term {
	var out []Term
	for _, t := range g {
		if t.Subject == subject && t.Predicate == predicate {
			out = append(out, t.Object)
		}
	}
	return out
}

func TestSequencesBecomeContainers(t *testing.T) {
	f := NewFactory(model.Types())
	book := newBook()
	book.Set(model.MemberIDs, resource.ID("b"), resource.ID("a"))

	g, err := f.FromResource(book)
	require.NoError(t, err)

	assert.Equal(t, []Term{{Kind: TermIRI, Value: "Book"}}, objects(g, "book-1", PredicateType))
	assert.Equal(t, []Term{{Kind: TermContainer, Value: "book-1#member_ids"}}, objects(g, "book-1", "folio:member_ids"))
	assert.Equal(t, []Term{{Kind: TermIRI, Value: "b"}}, objects(g, "book-1#member_ids", "rdf:_1"))
	assert.Equal(t, []Term{{Kind: TermIRI, Value: "a"}}, objects(g, "book-1#member_ids", "rdf:_2"))

	back, err := f.ToResource(g)
	require.NoError(t, err)
	assert.True(t, resource.Equal(book, back))
}

func TestContainerOrderIsNumeric(t *testing.T) {
	f := NewFactory(model.Types())
	book := newBook()
	var members []resource.Value
	for _, id := range []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8", "m9", "m10", "m11"} {
		members = append(members, resource.ID(id))
	}
	book.Set(model.MemberIDs, members...)

	g, err := f.FromResource(book)
	require.NoError(t, err)

	// reverse the statements; order must come from rdf:_n alone
	rev := make(Graph, len(g))
	for i, t := range g {
		rev[len(g)-1-i] = t
	}
	back, err := f.ToResource(rev)
	require.NoError(t, err)
	assert.Equal(t, book.IDs(model.MemberIDs), back.IDs(model.MemberIDs))
}

func TestStructuresAreJSONLiterals(t *testing.T) {
	f := NewFactory(model.Types())
	book := newBook()
	book.Set(model.Structure, &resource.Structure{Label: []string{"Main"}, Nodes: []*resource.Node{{Proxy: "p"}}})

	g, err := f.FromResource(book)
	require.NoError(t, err)
	assert.Equal(t,
		[]Term{{Kind: TermJSON, Value: `{"label":["Main"],"nodes":[{"proxy":"p"}]}`}},
		objects(g, "book-1#structure", "rdf:_1"))

	back, err := f.ToResource(g)
	require.NoError(t, err)
	assert.True(t, resource.Equal(book, back))
}

func TestLanguageTagsSurvive(t *testing.T) {
	f := NewFactory(model.Types())
	book := newBook()
	book.Set(model.Title, resource.Text("Plain"), resource.Tagged("Titre", "fr"), resource.Tagged("Title", "eng"))

	g, err := f.FromResource(book)
	require.NoError(t, err)
	back, err := f.ToResource(g)
	require.NoError(t, err)
	assert.True(t, resource.Equal(book, back))
}

func TestFromResourceErrors(t *testing.T) {
	f := NewFactory(model.Types())

	_, err := f.FromResource(model.NewBook())
	assert.Error(t, err, "missing id")

	bad := newBook()
	bad.Set("rdf:label", resource.Text("x"))
	_, err = f.FromResource(bad)
	assert.Error(t, err)

	unknown := &resource.Resource{ID: "x", InternalModel: "Nope"}
	_, err = f.FromResource(unknown)
	assert.True(t, errors.Is(err, persistence.ErrUnknownResourceType))
}

func TestToResourceErrors(t *testing.T) {
	f := NewFactory(model.Types())

	_, err := f.ToResource(Graph{{Subject: "a", Predicate: "folio:title", Object: Term{Kind: TermLiteral, Value: "t"}}})
	assert.True(t, errors.Is(err, persistence.ErrMalformedRecord), "no type statement")

	_, err = f.ToResource(Graph{
		{Subject: "a", Predicate: PredicateType, Object: Term{Kind: TermIRI, Value: "Book"}},
		{Subject: "b", Predicate: PredicateType, Object: Term{Kind: TermIRI, Value: "Book"}},
	})
	assert.True(t, errors.Is(err, persistence.ErrMalformedRecord), "two subjects")

	_, err = f.ToResource(Graph{
		{Subject: "a", Predicate: PredicateType, Object: Term{Kind: TermIRI, Value: "Book"}},
		{Subject: "a", Predicate: PredicateCreatedAt, Object: Term{Kind: TermDateTime, Value: "yesterday"}},
	})
	assert.True(t, errors.Is(err, persistence.ErrMalformedRecord), "bad timestamp")

	_, err = f.ToResource(Graph{
		{Subject: "a", Predicate: PredicateType, Object: Term{Kind: TermIRI, Value: "Nope"}},
	})
	assert.True(t, errors.Is(err, persistence.ErrUnknownResourceType))
}
