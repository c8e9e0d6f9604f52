package triple

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/folio/pkg/model"
	"github.com/nainya/folio/pkg/persistence"
	"github.com/nainya/folio/pkg/persistence/persistencetest"
	"github.com/nainya/folio/pkg/resource"
)

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, model.Types())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConformanceInMemory(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.MetadataAdapter {
		return openStore(t, "")
	})
}

func TestConformanceOnDisk(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.MetadataAdapter {
		return openStore(t, t.TempDir())
	})
}

func TestReopenKeepsStatements(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir, model.Types())
	require.NoError(t, err)
	child, err := s.Save(ctx, model.NewFileSet())
	require.NoError(t, err)
	parent := model.NewBook()
	parent.Set(model.MemberIDs, child.ID)
	parent, err = s.Save(ctx, parent)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := openStore(t, dir)
	parents, err := reopened.FindParents(ctx, child)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.True(t, resource.Equal(parent, parents[0]))
}

func TestShrinkingSequenceDropsStatements(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "")

	book := model.NewBook()
	book.Set(model.MemberIDs, resource.ID("a"), resource.ID("b"), resource.ID("c"))
	book, err := s.Save(ctx, book)
	require.NoError(t, err)

	book.Set(model.MemberIDs, resource.ID("c"))
	_, err = s.Save(ctx, book)
	require.NoError(t, err)

	err = s.db.View(func(txn *badger.Txn) error {
		g, err := load(txn, book.ID)
		require.NoError(t, err)
		assert.Len(t, objects(g, containerNode(book.ID, model.MemberIDs), "rdf:_2"), 0)
		return nil
	})
	require.NoError(t, err)

	for _, id := range []resource.ID{"a", "b"} {
		parents, err := s.FindParents(ctx, &resource.Resource{ID: id})
		require.NoError(t, err)
		assert.Empty(t, parents, "stale OPS entry for %s", id)
	}
}

func TestInverseLookupIgnoresOtherProperties(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "")

	target, err := s.Save(ctx, model.NewFileSet())
	require.NoError(t, err)

	book := model.NewBook()
	book.Set(model.ThumbnailID, target.ID)
	book, err = s.Save(ctx, book)
	require.NoError(t, err)

	parents, err := s.FindParents(ctx, target)
	require.NoError(t, err)
	assert.Empty(t, parents)

	refs, err := s.FindInverseReferencesBy(ctx, target, model.ThumbnailID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, book.ID, refs[0].ID)
}
