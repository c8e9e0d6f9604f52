package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/folio/pkg/filestore"
	"github.com/nainya/folio/pkg/model"
	"github.com/nainya/folio/pkg/persistence/memory"
	"github.com/nainya/folio/pkg/resource"
)

func strptr(s string) *string { return &s }

func file(id, content string) FileDescriptor {
	return FileDescriptor{
		ID:       id,
		Label:    "Label " + id,
		Filename: id + ".tif",
		MimeType: "image/tiff",
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func leaf(proxy string) *StructureNode {
	return &StructureNode{Proxy: strptr(proxy)}
}

type part struct {
	files     []FileDescriptor
	structure *StructureNode
}

// testDoc is an in-memory Document.
type testDoc struct {
	identifier *string
	files      []FileDescriptor
	structure  *StructureNode
	partIDs    []string
	parts      map[string]part
}

func (d testDoc) IsMultiPart() bool                         { return len(d.partIDs) > 0 }
func (d testDoc) PrimaryIdentifier() *string                { return d.identifier }
func (d testDoc) Files() []FileDescriptor                   { return d.files }
func (d testDoc) Structure() *StructureNode                 { return d.structure }
func (d testDoc) PartIDs() []string                         { return d.partIDs }
func (d testDoc) FilesForPart(id string) []FileDescriptor   { return d.parts[id].files }
func (d testDoc) StructureForPart(id string) *StructureNode { return d.parts[id].structure }

type counts struct {
	files     int
	resources map[string]int
}

func (c *counts) FileIngested() { c.files++ }
func (c *counts) ResourceIngested(model string) {
	if c.resources == nil {
		c.resources = map[string]int{}
	}
	c.resources[model]++
}

type fixture struct {
	store  *memory.Adapter
	files  *filestore.Memory
	counts *counts
	ingest *Ingester
}

func newFixture() fixture {
	store := memory.New(model.Types())
	files := filestore.NewMemory()
	c := &counts{}
	return fixture{
		store:  store,
		files:  files,
		counts: c,
		ingest: New(store, files, WithRecorder(c)),
	}
}

func TestSinglePartDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	doc := testDoc{
		identifier: strptr("bib-1"),
		files:      []FileDescriptor{file("f1", "one"), file("f2", "two")},
		structure: &StructureNode{Label: "Main", Nodes: []*StructureNode{
			leaf("f1"),
			leaf("f2"),
		}},
	}
	book, err := f.ingest.Ingest(ctx, doc)
	require.NoError(t, err)

	assert.Equal(t, []string{"bib-1"}, book.Strings(model.SourceMetadataIdentifier))
	members := book.IDs(model.MemberIDs)
	require.Len(t, members, 2)

	structures := book.Structures(model.Structure)
	require.Len(t, structures, 1)
	assert.Equal(t, []string{MainStructureLabel}, structures[0].Label)
	require.Len(t, structures[0].Nodes, 2)
	assert.Equal(t, members[0], structures[0].Nodes[0].Proxy)
	assert.Equal(t, members[1], structures[0].Nodes[1].Proxy)

	stored, err := f.store.FindByID(ctx, book.ID)
	require.NoError(t, err)
	assert.True(t, resource.Equal(book, stored))

	fileSets, err := f.store.FindMembers(ctx, book)
	require.NoError(t, err)
	for i, want := range []string{"one", "two"} {
		fs := fileSets[i]
		assert.Equal(t, model.FileSetModel, fs.InternalModel)
		assert.Equal(t, []string{"image/tiff"}, fs.Strings(model.MimeType))
		assert.Equal(t, []string{"Label f" + string(rune('1'+i))}, fs.Strings(model.Label))

		ids := fs.IDs(model.FileIdentifiers)
		require.Len(t, ids, 1)
		content, err := f.files.FindBy(ctx, ids[0])
		require.NoError(t, err)
		data, err := io.ReadAll(content)
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
		assert.True(t, strings.HasPrefix(ids[0].String(), filestore.MemoryScheme+fs.ID.String()+"/"))
	}

	assert.Equal(t, 2, f.counts.files)
	assert.Equal(t, 2, f.counts.resources[model.FileSetModel])
	assert.Equal(t, 1, f.counts.resources[model.BookModel])
}

func TestNestedProxiesAreRemapped(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	doc := testDoc{
		files: []FileDescriptor{file("a", "a"), file("b", "b"), file("c", "c")},
		structure: &StructureNode{Nodes: []*StructureNode{
			{Label: "Part 1", Nodes: []*StructureNode{leaf("a"), {Label: "Sub", Nodes: []*StructureNode{leaf("b")}}}},
			{Label: "Part 2", Nodes: []*StructureNode{leaf("c"), leaf("a")}},
		}},
	}
	book, err := f.ingest.Ingest(ctx, doc)
	require.NoError(t, err)
	assert.Empty(t, book.Strings(model.SourceMetadataIdentifier))

	members := book.IDs(model.MemberIDs)
	s := book.Structures(model.Structure)[0]
	require.Len(t, s.Nodes, 2)
	assert.Equal(t, []string{"Part 1"}, s.Nodes[0].Label)
	assert.Equal(t, members[0], s.Nodes[0].Nodes[0].Proxy)
	assert.Equal(t, []string{"Sub"}, s.Nodes[0].Nodes[1].Label)
	assert.Equal(t, members[1], s.Nodes[0].Nodes[1].Nodes[0].Proxy)
	assert.Equal(t, members[2], s.Nodes[1].Nodes[0].Proxy)
	assert.Equal(t, members[0], s.Nodes[1].Nodes[1].Proxy)

	proxies, err := s.Proxies()
	require.NoError(t, err)
	for _, p := range proxies {
		assert.Contains(t, members, p)
	}
}

func TestUnresolvedProxy(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	doc := testDoc{
		files:     []FileDescriptor{file("f1", "one")},
		structure: &StructureNode{Nodes: []*StructureNode{leaf("f1"), leaf("ghost")}},
	}
	_, err := f.ingest.Ingest(ctx, doc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvedProxy))
	var perr *UnresolvedProxyError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "ghost", perr.Proxy)

	books, err := f.store.FindAllOfModel(ctx, model.BookModel)
	require.NoError(t, err)
	assert.Empty(t, books, "book is not saved")
	fileSets, err := f.store.FindAllOfModel(ctx, model.FileSetModel)
	require.NoError(t, err)
	assert.Empty(t, fileSets, "no file set is saved")
	assert.Empty(t, f.files.IDs(""), "no content is uploaded")
	assert.Zero(t, f.counts.files)
}

func TestUnresolvedProxyInPart(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	doc := testDoc{
		partIDs: []string{"p1"},
		parts: map[string]part{
			"p1": {
				files:     []FileDescriptor{file("x", "x")},
				structure: &StructureNode{Nodes: []*StructureNode{{Label: "Ch", Nodes: []*StructureNode{leaf("y")}}}},
			},
		},
	}
	_, err := f.ingest.Ingest(ctx, doc)
	require.ErrorIs(t, err, ErrUnresolvedProxy)

	fileSets, err := f.store.FindAllOfModel(ctx, model.FileSetModel)
	require.NoError(t, err)
	assert.Empty(t, fileSets)
	assert.Empty(t, f.files.IDs(""))
}

func TestMultiPartDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	doc := testDoc{
		identifier: strptr("bib-mv"),
		partIDs:    []string{"p2", "p1"},
		parts: map[string]part{
			"p1": {files: []FileDescriptor{file("x", "x")}, structure: &StructureNode{Nodes: []*StructureNode{leaf("x")}}},
			"p2": {files: []FileDescriptor{file("y", "y"), file("z", "z")}},
		},
	}
	parent, err := f.ingest.Ingest(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"bib-mv"}, parent.Strings(model.SourceMetadataIdentifier))

	children, err := f.store.FindMembers(ctx, parent)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Len(t, children[0].IDs(model.MemberIDs), 2, "p2 first, as declared")
	assert.Len(t, children[1].IDs(model.MemberIDs), 1)
	for _, c := range children {
		assert.Equal(t, model.BookModel, c.InternalModel)
		assert.Empty(t, c.Strings(model.SourceMetadataIdentifier))
	}
	assert.Equal(t, children[1].IDs(model.MemberIDs)[0], children[1].Structures(model.Structure)[0].Nodes[0].Proxy)

	parents, err := f.store.FindParents(ctx, children[0])
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, parent.ID, parents[0].ID)
	assert.Equal(t, 3, f.counts.resources[model.BookModel])
}

type failingStorage struct {
	*filestore.Memory
}

func (failingStorage) Upload(context.Context, filestore.Upload, *resource.Resource) (*filestore.File, error) {
	return nil, errors.New("disk full")
}

func TestUploadFailureStopsIngest(t *testing.T) {
	ctx := context.Background()
	store := memory.New(model.Types())
	in := New(store, failingStorage{filestore.NewMemory()})

	_, err := in.Ingest(ctx, testDoc{files: []FileDescriptor{file("f1", "one")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	books, err := store.FindAllOfModel(ctx, model.BookModel)
	require.NoError(t, err)
	assert.Empty(t, books)
}

type closeFailStorage struct {
	*filestore.Memory
}

type failingClose struct{ io.Reader }

func (failingClose) Close() error { return errors.New("close failed") }

func (s closeFailStorage) Upload(ctx context.Context, src filestore.Upload, owner *resource.Resource) (*filestore.File, error) {
	f, err := s.Memory.Upload(ctx, src, owner)
	if err != nil {
		return nil, err
	}
	f.ReadCloser = failingClose{f.ReadCloser}
	return f, nil
}

func TestUploadCloseErrorIsLogged(t *testing.T) {
	ctx := context.Background()
	store := memory.New(model.Types())
	var buf bytes.Buffer
	in := New(store, closeFailStorage{filestore.NewMemory()}, WithLogger(zerolog.New(&buf)))

	book, err := in.Ingest(ctx, testDoc{files: []FileDescriptor{file("f1", "one")}})
	require.NoError(t, err)
	assert.Len(t, book.IDs(model.MemberIDs), 1)
	assert.Contains(t, buf.String(), "close failed")
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestFileWithoutContent(t *testing.T) {
	f := newFixture()
	_, err := f.ingest.Ingest(context.Background(), testDoc{files: []FileDescriptor{{ID: "f1"}}})
	assert.Error(t, err)
}

func TestRemapDepthBound(t *testing.T) {
	root := &StructureNode{}
	n := root
	for i := 0; i < resource.MaxStructureDepth+1; i++ {
		child := &StructureNode{Label: "level"}
		n.Nodes = []*StructureNode{child}
		n = child
	}
	_, err := remap(root, nil)
	assert.True(t, errors.Is(err, resource.ErrStructureTooDeep))

	nodes, err := remap(nil, nil)
	assert.NoError(t, err)
	assert.Nil(t, nodes)
}
