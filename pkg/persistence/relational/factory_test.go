package relational

import (
	"encoding/json"
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

func TestMetadataValueShapes(t *testing.T) {
	f := NewFactory(model.Types())
	book := newBook()
	book.Set(model.Title, resource.Text("Plain"), resource.Tagged("Titre", "fr"))
	book.Set(model.MemberIDs, resource.ID("a"))
	book.Set(model.Structure, &resource.Structure{Label: []string{"Main"}, Nodes: []*resource.Node{{Proxy: "p"}}})

	row, err := f.FromResource(book)
	require.NoError(t, err)
	assert.Equal(t, "book-1", row.ID)
	assert.Equal(t, "Book", row.InternalModel)
	assert.JSONEq(t, `{
		"title": ["Plain", {"@value": "Titre", "@language": "fr"}],
		"member_ids": [{"@id": "a"}],
		"structure": [{"@structure": {"label": ["Main"], "nodes": [{"proxy": "p"}]}}]
	}`, string(row.Metadata))

	back, err := f.ToResource(row)
	require.NoError(t, err)
	assert.True(t, resource.Equal(book, back))
}

func TestReferencesCarryPositions(t *testing.T) {
	book := newBook()
	book.Set(model.MemberIDs, resource.ID("a"), resource.ID("b"))
	book.Set(model.Title, resource.Text("not a reference"))
	book.Set(model.ThumbnailID, resource.ID("a"))

	assert.ElementsMatch(t, []Reference{
		{Property: model.MemberIDs, Position: 0, Target: "a"},
		{Property: model.MemberIDs, Position: 1, Target: "b"},
		{Property: model.ThumbnailID, Position: 0, Target: "a"},
	}, References(book))
}

func TestToResourceRejectsBadRows(t *testing.T) {
	f := NewFactory(model.Types())

	_, err := f.ToResource(Row{InternalModel: "Book"})
	assert.True(t, errors.Is(err, persistence.ErrMalformedRecord), "missing id")

	_, err = f.ToResource(Row{ID: "x"})
	assert.True(t, errors.Is(err, persistence.ErrMalformedRecord), "missing model")

	_, err = f.ToResource(Row{ID: "x", InternalModel: "Nope"})
	assert.True(t, errors.Is(err, persistence.ErrUnknownResourceType))

	_, err = f.ToResource(Row{ID: "x", InternalModel: "Book", Metadata: []byte(`{"title": [{"@type": "x"}]}`)})
	assert.True(t, errors.Is(err, persistence.ErrMalformedRecord), "unknown value shape")

	_, err = f.ToResource(Row{ID: "x", InternalModel: "Book", Metadata: []byte(`not json`)})
	assert.True(t, errors.Is(err, persistence.ErrMalformedRecord))
}

func TestFromResourceNeedsID(t *testing.T) {
	_, err := NewFactory(model.Types()).FromResource(model.NewBook())
	assert.Error(t, err)
}

func TestDecodeValue(t *testing.T) {
	v, err := decodeValue(json.RawMessage(`{"@value": "x"}`))
	require.NoError(t, err)
	assert.Equal(t, resource.Text("x"), v)

	v, err = decodeValue(json.RawMessage(`{"@id": "memory://a"}`))
	require.NoError(t, err)
	assert.Equal(t, resource.ID("memory://a"), v)
}
