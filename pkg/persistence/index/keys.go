package index

import (
	"github.com/nainya/folio/pkg/resource"
	"github.com/nainya/folio/pkg/storage"
)

// Key tables. Documents are split into chunks small enough for one B+Tree
// entry.
const (
	prefixDocument  = uint32(1000) // (id, chunk) -> document bytes
	prefixModel     = uint32(1100) // (model, id) -> empty
	prefixReference = uint32(1200) // (property, target, id) -> empty
)

const chunkSize = 2048

func documentPrefix(id resource.ID) []byte {
	return storage.EncodeKey(prefixDocument, storage.NewStringValue(id.String()))
}

func chunkKey(id resource.ID, n int) []byte {
	return storage.EncodeKey(prefixDocument, storage.NewStringValue(id.String()), storage.NewUint64Value(uint64(n)))
}

func modelKey(model string, id resource.ID) []byte {
	return storage.EncodeKey(prefixModel, storage.NewStringValue(model), storage.NewStringValue(id.String()))
}

func modelPrefix(model string) []byte {
	return storage.EncodeKey(prefixModel, storage.NewStringValue(model))
}

func referenceKey(property, target string, id resource.ID) []byte {
	return storage.EncodeKey(prefixReference,
		storage.NewStringValue(property),
		storage.NewStringValue(target),
		storage.NewStringValue(id.String()))
}

func referencePrefix(property string, target resource.ID) []byte {
	return storage.EncodeKey(prefixReference, storage.NewStringValue(property), storage.NewStringValue(target.String()))
}

// lastID returns the trailing id column of an index key.
func lastID(key []byte) (resource.ID, bool) {
	vals, err := storage.ExtractValues(key)
	if err != nil || len(vals) == 0 {
		return "", false
	}
	return resource.ID(vals[len(vals)-1].String()), true
}
