package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/folio/pkg/model"
	"github.com/nainya/folio/pkg/persistence"
	"github.com/nainya/folio/pkg/resource"
)

func newBook(t *testing.T) *resource.Resource {
	t.Helper()
	book := model.NewBook()
	book.ID = "book-1"
	book.Stamp(time.Date(2024, 2, 3, 4, 5, 6, 7000, time.UTC))
	return book
}

func TestFromResourceFieldConvention(t *testing.T) {
	f := NewFactory(model.Types())
	book := newBook(t)
	book.Set(model.Title, resource.Text("Plain"), resource.Tagged("Titre", "fr"))
	book.Set(model.MemberIDs, resource.ID("a"), resource.ID("b"))
	book.Set(model.Author, resource.Text("Anon"))

	doc, err := f.FromResource(book)
	require.NoError(t, err)

	assert.Equal(t, []string{"id-book-1"}, doc["id"])
	assert.Equal(t, []string{"Book"}, doc["internal_model_ssim"])
	assert.Equal(t, []string{"2024-02-03T04:05:06.000007Z"}, doc["created_at_dtsi"])
	assert.Equal(t, []string{"Plain", "Titre"}, doc["title_ssim"])
	assert.Equal(t, []string{"default", "fr"}, doc["title_lang_ssim"])
	assert.Equal(t, []string{"id-a", "id-b"}, doc["member_ids_ssim"])
	assert.Equal(t, []string{"Anon"}, doc["author_ssim"])
	assert.NotContains(t, doc, "author_lang_ssim", "untagged attributes get no companion")
}

func TestStructureMarker(t *testing.T) {
	f := NewFactory(model.Types())
	book := newBook(t)
	book.Set(model.Structure, &resource.Structure{Label: []string{"Main"}, Nodes: []*resource.Node{{Proxy: "p"}}})

	doc, err := f.FromResource(book)
	require.NoError(t, err)
	require.Len(t, doc["structure_ssim"], 1)
	assert.Equal(t, `serialized-json-{"label":["Main"],"nodes":[{"proxy":"p"}]}`, doc["structure_ssim"][0])

	back, err := f.ToResource(doc)
	require.NoError(t, err)
	assert.True(t, resource.Equal(book, back))
}

func TestLiteralsThatLookLikeMarkers(t *testing.T) {
	f := NewFactory(model.Types())
	book := newBook(t)
	book.Set(model.Title,
		resource.Text("id-card"),
		resource.Text("serialized-json-{}"),
		resource.Tagged("literal-x", "de"),
		resource.Text("ordinary"),
	)

	doc, err := f.FromResource(book)
	require.NoError(t, err)
	assert.Equal(t, "literal-id-card", doc["title_ssim"][0])
	assert.Equal(t, "ordinary", doc["title_ssim"][3])

	back, err := f.ToResource(doc)
	require.NoError(t, err)
	assert.True(t, resource.Equal(book, back))
}

func TestDecodeLanguages(t *testing.T) {
	f := NewFactory(model.Types())
	doc := Document{
		"id":                  {"id-x"},
		"internal_model_ssim": {"Book"},
		"title_ssim":          {"a", "b", "c", "d", "e"},
		"title_lang_ssim":     {"default", "eng", "fr", "lang-default"},
		"thumbnail_id_ssim":   {"id-t"},
	}

	r, err := f.ToResource(doc)
	require.NoError(t, err)
	assert.Equal(t, []resource.Value{
		resource.Text("a"),
		resource.Tagged("b", "eng"),
		resource.Tagged("c", "fr"),
		resource.Tagged("d", "default"),
		resource.Text("e"),
	}, r.Get(model.Title))
	assert.Equal(t, []resource.ID{"t"}, r.IDs(model.ThumbnailID))
	assert.True(t, r.CreatedAt.IsZero())
}

func TestLanguageTagsRoundTrip(t *testing.T) {
	f := NewFactory(model.Types())
	for _, lang := range []string{"eng", "fra", "default", "lang-x"} {
		t.Run(lang, func(t *testing.T) {
			book := newBook(t)
			book.Set(model.Title, resource.Tagged("Hamlet", lang), resource.Text("untagged"))

			doc, err := f.FromResource(book)
			require.NoError(t, err)
			assert.Equal(t, DefaultLanguage, doc["title_lang_ssim"][1])
			assert.NotEqual(t, DefaultLanguage, doc["title_lang_ssim"][0])

			back, err := f.ToResource(doc)
			require.NoError(t, err)
			assert.Equal(t, book.Get(model.Title), back.Get(model.Title))
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	f := NewFactory(model.Types())

	_, err := f.ToResource(Document{"internal_model_ssim": {"Book"}})
	assert.ErrorIs(t, err, persistence.ErrMalformedRecord)

	_, err = f.ToResource(Document{"id": {"id-x"}})
	assert.ErrorIs(t, err, persistence.ErrMalformedRecord)

	_, err = f.ToResource(Document{"id": {"id-x"}, "internal_model_ssim": {"Song"}})
	assert.ErrorIs(t, err, persistence.ErrUnknownResourceType)

	_, err = f.ToResource(Document{
		"id":                  {"id-x"},
		"internal_model_ssim": {"Book"},
		"structure_ssim":      {"serialized-json-{broken"},
	})
	assert.ErrorIs(t, err, persistence.ErrMalformedRecord)

	_, err = f.ToResource(Document{
		"id":                  {"id-x"},
		"internal_model_ssim": {"Book"},
		"created_at_dtsi":     {"yesterday"},
	})
	assert.ErrorIs(t, err, persistence.ErrMalformedRecord)
}

func TestEncodeErrors(t *testing.T) {
	f := NewFactory(model.Types())

	_, err := f.FromResource(model.NewBook())
	assert.Error(t, err, "ids are assigned by the persister")

	book := newBook(t)
	book.Set("title_lang", resource.Text("x"))
	_, err = f.FromResource(book)
	assert.Error(t, err)
}

func TestDocumentCodec(t *testing.T) {
	doc := Document{"id": {"id-1"}, "title_ssim": {"a", "", "c"}}
	data, err := marshalDocument(doc)
	require.NoError(t, err)
	back, err := unmarshalDocument(data)
	require.NoError(t, err)
	assert.Equal(t, doc, back)

	_, err = unmarshalDocument([]byte{0xff, 0xff})
	assert.Error(t, err)
}
