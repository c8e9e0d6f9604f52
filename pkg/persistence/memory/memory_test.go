package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/folio/pkg/model"
	"github.com/nainya/folio/pkg/persistence"
	"github.com/nainya/folio/pkg/persistence/persistencetest"
	"github.com/nainya/folio/pkg/resource"
)

func TestConformance(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.MetadataAdapter {
		return New(model.Types())
	})
}

func TestStoredCopiesAreDetached(t *testing.T) {
	ctx := context.Background()
	a := New(model.Types())

	book := model.NewBook()
	book.Set(model.Title, resource.Text("original"))
	saved, err := a.Save(ctx, book)
	require.NoError(t, err)

	saved.Set(model.Title, resource.Text("mutated"))
	found, err := a.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"original"}, found.Strings(model.Title))
}

func TestFactoryRejectsUnknownModel(t *testing.T) {
	a := New(model.Types())
	r := resource.NewSchema("Unknown").New()

	_, err := a.Save(context.Background(), r)
	assert.ErrorIs(t, err, persistence.ErrUnknownResourceType)

	_, err = a.ResourceFactory().ToResource(&resource.Resource{})
	assert.ErrorIs(t, err, persistence.ErrMalformedRecord)
}
