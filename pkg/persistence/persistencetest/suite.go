// Package persistencetest holds the behaviour every metadata backend shares.
// Backend tests call Run with a constructor for a fresh, empty adapter.
package persistencetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/folio/pkg/model"
	"github.com/nainya/folio/pkg/persistence"
	"github.com/nainya/folio/pkg/resource"
)

// Open returns an empty adapter whose models come from model.Types().
type Open func(t *testing.T) persistence.MetadataAdapter

type harness struct {
	t *testing.T
	p persistence.Persister
	q persistence.QueryService
}

func (h harness) save(r *resource.Resource) *resource.Resource {
	h.t.Helper()
	saved, err := h.p.Save(context.Background(), r)
	require.NoError(h.t, err)
	return saved
}

func (h harness) fileSet(title string) *resource.Resource {
	fs := model.NewFileSet()
	fs.Set(model.Title, resource.Text(title))
	return h.save(fs)
}

func ids(rs []*resource.Resource) []resource.ID {
	out := make([]resource.ID, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func sorted(in ...resource.ID) []resource.ID {
	rs := make([]*resource.Resource, len(in))
	for i, id := range in {
		rs[i] = &resource.Resource{ID: id}
	}
	resource.SortByID(rs)
	return ids(rs)
}

// Run executes the shared suite.
func Run(t *testing.T, open Open) {
	cases := []struct {
		name string
		fn   func(t *testing.T, h harness)
	}{
		{"RoundTrip", testRoundTrip},
		{"SaveAssignsID", testSaveAssignsID},
		{"Upsert", testUpsert},
		{"FindByIDMissing", testFindByIDMissing},
		{"FindAll", testFindAll},
		{"FindMembersOrder", testFindMembersOrder},
		{"FindMembersDangling", testFindMembersDangling},
		{"FindParents", testFindParents},
		{"ReferencesFollowUpdates", testReferencesFollowUpdates},
		{"FindReferencesBy", testFindReferencesBy},
		{"FindInverseReferencesBy", testFindInverseReferencesBy},
		{"Delete", testDelete},
		{"SaveAllAndWipe", testSaveAllAndWipe},
		{"LargeResource", testLargeResource},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := open(t)
			tc.fn(t, harness{t: t, p: a.Persister(), q: a.QueryService()})
		})
	}
}

func testRoundTrip(t *testing.T, h harness) {
	f1 := h.fileSet("page 1")
	f2 := h.fileSet("page 2")

	book := model.NewBook()
	book.Set(model.Title, resource.Text("Moby Dick"), resource.Tagged("Moby-Dick ou le cachalot", "fr"), resource.Tagged("Moby Dick", "de"))
	book.Set(model.Author, resource.Text("Herman Melville"), resource.Tagged("H. Melville", "eng"), resource.Tagged("Melville", "default"))
	book.Set(model.MemberIDs, f2.ID, f1.ID)
	book.Set(model.ThumbnailID, f1.ID)
	book.Set(model.SourceMetadataIdentifier, resource.Text("bib-123"))
	book.Set(model.Structure, &resource.Structure{
		Label: []string{"Main Structure"},
		Nodes: []*resource.Node{
			{Label: []string{"Chapter 1"}, Nodes: []*resource.Node{{Proxy: f2.ID}}},
			{Label: []string{"Chapter 2", "Zweites Kapitel"}, Proxy: f1.ID},
		},
	})

	saved := h.save(book)
	found, err := h.q.FindByID(context.Background(), saved.ID)
	require.NoError(t, err)

	assert.True(t, resource.Equal(saved, found), "saved %+v\nfound %+v", saved, found)
	assert.Equal(t, []resource.ID{f2.ID, f1.ID}, found.IDs(model.MemberIDs))
	assert.Equal(t, model.BookModel, found.InternalModel)
	assert.Equal(t, resource.Sequence, found.Kind(model.MemberIDs))

	structures := found.Structures(model.Structure)
	require.Len(t, structures, 1)
	assert.Equal(t, f2.ID, structures[0].Nodes[0].Nodes[0].Proxy)
}

func testSaveAssignsID(t *testing.T, h harness) {
	book := model.NewBook()
	book.Set(model.Title, resource.Text("untitled"))

	saved := h.save(book)
	assert.False(t, saved.ID.IsZero())
	assert.True(t, book.ID.IsZero(), "argument must not be modified")
	assert.False(t, saved.CreatedAt.IsZero())
	assert.False(t, saved.UpdatedAt.IsZero())

	explicit := model.NewBook()
	explicit.ID = "chosen-id"
	saved = h.save(explicit)
	assert.Equal(t, resource.ID("chosen-id"), saved.ID)
}

func testUpsert(t *testing.T, h harness) {
	ctx := context.Background()
	book := model.NewBook()
	book.Set(model.Title, resource.Text("first"))
	first := h.save(book)

	first.Set(model.Title, resource.Text("second"))
	second := h.save(first)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt), "created_at is kept on update")
	assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))

	// a fresh object with the same id replaces the record but keeps created_at
	fresh := model.NewBook()
	fresh.ID = first.ID
	third := h.save(fresh)
	assert.True(t, third.CreatedAt.Equal(first.CreatedAt))

	found, err := h.q.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, found.Has(model.Title))

	n, err := h.q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testFindByIDMissing(t *testing.T, h harness) {
	_, err := h.q.FindByID(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, persistence.ErrObjectNotFound)
}

func testFindAll(t *testing.T, h harness) {
	ctx := context.Background()
	f := h.fileSet("f")
	b1 := h.save(model.NewBook())
	b2 := h.save(model.NewBook())
	c := h.save(model.NewCollection())

	all, err := h.q.FindAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, sorted(f.ID, b1.ID, b2.ID, c.ID), ids(all))

	books, err := h.q.FindAllOfModel(ctx, model.BookModel)
	require.NoError(t, err)
	assert.Equal(t, sorted(b1.ID, b2.ID), ids(books))

	none, err := h.q.FindAllOfModel(ctx, "Unknown")
	require.NoError(t, err)
	assert.Empty(t, none)

	n, err := h.q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func testFindMembersOrder(t *testing.T, h harness) {
	ctx := context.Background()
	f1, f2, f3 := h.fileSet("1"), h.fileSet("2"), h.fileSet("3")

	book := model.NewBook()
	book.Set(model.MemberIDs, f3.ID, f1.ID, f2.ID)
	book = h.save(book)

	members, err := h.q.FindMembers(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, []resource.ID{f3.ID, f1.ID, f2.ID}, ids(members))

	book.Set(model.MemberIDs, f1.ID, f2.ID, f3.ID)
	book = h.save(book)
	reloaded, err := h.q.FindByID(ctx, book.ID)
	require.NoError(t, err)
	members, err = h.q.FindMembers(ctx, reloaded)
	require.NoError(t, err)
	assert.Equal(t, []resource.ID{f1.ID, f2.ID, f3.ID}, ids(members))

	empty, err := h.q.FindMembers(ctx, h.save(model.NewBook()))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testFindMembersDangling(t *testing.T, h harness) {
	f := h.fileSet("present")
	book := model.NewBook()
	book.Set(model.MemberIDs, f.ID, resource.ID("missing-member"))
	book = h.save(book)

	members, err := h.q.FindMembers(context.Background(), book)
	assert.ErrorIs(t, err, persistence.ErrObjectNotFound)
	assert.Nil(t, members)
}

func testFindParents(t *testing.T, h harness) {
	ctx := context.Background()
	child := h.fileSet("child")
	other := h.fileSet("other")

	p1 := model.NewBook()
	p1.Set(model.MemberIDs, child.ID)
	p1 = h.save(p1)
	p2 := model.NewBook()
	p2.Set(model.MemberIDs, other.ID, child.ID)
	p2 = h.save(p2)
	p3 := model.NewBook()
	p3.Set(model.MemberIDs, other.ID)
	p3 = h.save(p3)

	parents, err := h.q.FindParents(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, sorted(p1.ID, p2.ID), ids(parents))

	parents, err = h.q.FindParents(ctx, p1)
	require.NoError(t, err)
	assert.Empty(t, parents)

	unsaved, err := h.q.FindParents(ctx, model.NewFileSet())
	require.NoError(t, err)
	assert.Empty(t, unsaved)
}

func testReferencesFollowUpdates(t *testing.T, h harness) {
	ctx := context.Background()
	child := h.fileSet("child")

	parent := model.NewBook()
	parent.Set(model.MemberIDs, child.ID)
	parent = h.save(parent)

	parent.Set(model.MemberIDs)
	h.save(parent)

	parents, err := h.q.FindParents(ctx, child)
	require.NoError(t, err)
	assert.Empty(t, parents, "stale reference after update")
}

func testFindReferencesBy(t *testing.T, h harness) {
	ctx := context.Background()
	c1 := h.save(model.NewCollection())
	c2 := h.save(model.NewCollection())

	book := model.NewBook()
	book.Set(model.MemberOf, c2.ID, c1.ID)
	book = h.save(book)

	refs, err := h.q.FindReferencesBy(ctx, book, model.MemberOf)
	require.NoError(t, err)
	assert.ElementsMatch(t, []resource.ID{c1.ID, c2.ID}, ids(refs))

	none, err := h.q.FindReferencesBy(ctx, book, model.ThumbnailID)
	require.NoError(t, err)
	assert.Empty(t, none)

	book.Append(model.MemberOf, resource.ID("gone"))
	_, err = h.q.FindReferencesBy(ctx, book, model.MemberOf)
	assert.ErrorIs(t, err, persistence.ErrObjectNotFound)
}

func testFindInverseReferencesBy(t *testing.T, h harness) {
	ctx := context.Background()
	col := h.save(model.NewCollection())

	var want []resource.ID
	for i := 0; i < 3; i++ {
		b := model.NewBook()
		b.Set(model.MemberOf, col.ID)
		want = append(want, h.save(b).ID)
	}
	unrelated := model.NewBook()
	unrelated.Set(model.Title, resource.Text(string(col.ID)))
	h.save(unrelated)

	inverse, err := h.q.FindInverseReferencesBy(ctx, col, model.MemberOf)
	require.NoError(t, err)
	assert.Equal(t, sorted(want...), ids(inverse))

	inverse, err = h.q.FindInverseReferencesBy(ctx, col, model.ThumbnailID)
	require.NoError(t, err)
	assert.Empty(t, inverse)
}

func testDelete(t *testing.T, h harness) {
	ctx := context.Background()
	child := h.fileSet("child")
	parent := model.NewBook()
	parent.Set(model.MemberIDs, child.ID)
	parent = h.save(parent)

	_, err := h.p.Delete(ctx, parent)
	require.NoError(t, err)
	_, err = h.p.Delete(ctx, parent)
	require.NoError(t, err, "delete is idempotent")

	_, err = h.q.FindByID(ctx, parent.ID)
	assert.ErrorIs(t, err, persistence.ErrObjectNotFound)

	parents, err := h.q.FindParents(ctx, child)
	require.NoError(t, err)
	assert.Empty(t, parents)

	n, err := h.q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testSaveAllAndWipe(t *testing.T, h harness) {
	ctx := context.Background()
	batch := []*resource.Resource{model.NewBook(), model.NewFileSet(), model.NewCollection()}
	saved, err := h.p.SaveAll(ctx, batch)
	require.NoError(t, err)
	require.Len(t, saved, 3)
	for i, r := range saved {
		assert.False(t, r.ID.IsZero())
		assert.Equal(t, batch[i].InternalModel, r.InternalModel)
	}

	require.NoError(t, h.p.Wipe(ctx))
	n, err := h.q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	all, err := h.q.FindAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testLargeResource(t *testing.T, h harness) {
	book := model.NewBook()
	var members []resource.Value
	for i := 0; i < 400; i++ {
		members = append(members, h.fileSet("page").ID)
	}
	book.Set(model.MemberIDs, members...)

	saved := h.save(book)
	found, err := h.q.FindByID(context.Background(), saved.ID)
	require.NoError(t, err)
	assert.True(t, resource.Equal(saved, found))
	assert.Len(t, found.IDs(model.MemberIDs), 400)
}
