package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/folio/pkg/resource"
)

func TestTypes(t *testing.T) {
	reg := Types()
	assert.Equal(t, []string{BookModel, CollectionModel, FileSetModel}, reg.Models())

	book, err := reg.New(BookModel)
	require.NoError(t, err)
	assert.Equal(t, resource.Sequence, book.Kind(MemberIDs))
	assert.Equal(t, resource.Set, book.Kind(Title))

	assert.Error(t, Register(reg), "models register once per registry")
}

func TestConstructors(t *testing.T) {
	assert.Equal(t, FileSetModel, NewFileSet().InternalModel)
	assert.Equal(t, CollectionModel, NewCollection().InternalModel)
	assert.True(t, NewBook().ID.IsZero())
}
