package persistence

import (
	"errors"
	"fmt"

	"github.com/nainya/folio/pkg/resource"
)

var (
	// ErrObjectNotFound is returned when a lookup by id misses.
	ErrObjectNotFound = errors.New("object not found")
	// ErrAdapterNotFound is returned for unregistered metadata adapter names.
	ErrAdapterNotFound = errors.New("metadata adapter not found")
	// ErrMalformedRecord is returned when a native record lacks system fields
	// or cannot be decoded.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrUnknownResourceType is returned when internal_model has no schema.
	ErrUnknownResourceType = resource.ErrUnknownResourceType
)

// NotFound wraps ErrObjectNotFound with the missing id.
func NotFound(id resource.ID) error {
	return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
}

// Malformed wraps ErrMalformedRecord with a reason.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedRecord, fmt.Sprintf(format, args...))
}
