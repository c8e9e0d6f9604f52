package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/folio/pkg/model"
	"github.com/nainya/folio/pkg/persistence"
	"github.com/nainya/folio/pkg/persistence/persistencetest"
	"github.com/nainya/folio/pkg/resource"
)

func openAdapter(t *testing.T, path string) *Adapter {
	t.Helper()
	a, err := Open(path, model.Types())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestConformanceOnDisk(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.MetadataAdapter {
		return openAdapter(t, filepath.Join(t.TempDir(), "index.db"))
	})
}

func TestConformanceInMemory(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.MetadataAdapter {
		return openAdapter(t, "")
	})
}

func TestReopenKeepsIndexes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	a, err := Open(path, model.Types())
	require.NoError(t, err)
	child, err := a.Save(ctx, model.NewFileSet())
	require.NoError(t, err)
	parent := model.NewBook()
	parent.Set(model.MemberIDs, child.ID)
	parent, err = a.Save(ctx, parent)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b := openAdapter(t, path)
	parents, err := b.FindParents(ctx, child)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.True(t, resource.Equal(parent, parents[0]))

	books, err := b.FindAllOfModel(ctx, model.BookModel)
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

func TestLargeDocumentsAreChunked(t *testing.T) {
	ctx := context.Background()
	a := openAdapter(t, "")

	book := model.NewBook()
	var titles []resource.Value
	for i := 0; i < 300; i++ {
		titles = append(titles, resource.Tagged("a fairly long title used to grow the document", "en"))
	}
	book.Set(model.Title, titles...)
	saved, err := a.Save(ctx, book)
	require.NoError(t, err)

	chunks := 0
	a.kv.ScanPrefix(documentPrefix(saved.ID), func(_, _ []byte) bool {
		chunks++
		return true
	})
	assert.Greater(t, chunks, 1)

	// shrinking the document drops the extra chunks
	saved.Set(model.Title, resource.Text("short"))
	_, err = a.Save(ctx, saved)
	require.NoError(t, err)
	chunks = 0
	a.kv.ScanPrefix(documentPrefix(saved.ID), func(_, _ []byte) bool {
		chunks++
		return true
	})
	assert.Equal(t, 1, chunks)

	found, err := a.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"short"}, found.Strings(model.Title))
}

func TestOversizedKeyIsRejected(t *testing.T) {
	ctx := context.Background()
	a := openAdapter(t, "")

	book := model.NewBook()
	long := make([]byte, 1200)
	for i := range long {
		long[i] = 'x'
	}
	book.ID = resource.ID(long)
	_, err := a.Save(ctx, book)
	assert.Error(t, err)

	n, err := a.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "failed save leaves nothing behind")
}
