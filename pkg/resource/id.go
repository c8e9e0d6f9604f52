// ABOUTME: Opaque identifiers shared by metadata stores and storage adapters
// ABOUTME: A scheme prefix such as disk:// routes an ID to a storage adapter

package resource

import "strings"

// ID identifies a resource or a stored file. It is compared by value.
type ID string

func (id ID) String() string {
	return string(id)
}

// IsZero reports whether the ID has not been assigned.
func (id ID) IsZero() bool {
	return id == ""
}

// HasScheme reports whether the ID starts with the given scheme prefix,
// e.g. "disk://".
func (id ID) HasScheme(prefix string) bool {
	return strings.HasPrefix(string(id), prefix)
}
