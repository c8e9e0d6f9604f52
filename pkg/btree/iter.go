// ABOUTME: Forward iteration over B+Tree leaves
// ABOUTME: Range and prefix scans are built on SeekLE + Next

package btree

import "bytes"

// Iter walks the tree in key order. It holds the root-to-leaf path.
type Iter struct {
	tree *Tree
	path []node
	pos  []uint16
}

// Iter returns an unpositioned iterator.
func (t *Tree) Iter() *Iter {
	return &Iter{
		tree: t,
		path: make([]node, 0, 8),
		pos:  make([]uint16, 0, 8),
	}
}

// SeekLE positions the iterator at the last key <= key. It returns false on
// an empty tree.
func (it *Iter) SeekLE(key []byte) bool {
	it.path = it.path[:0]
	it.pos = it.pos[:0]
	if it.tree.root == 0 {
		return false
	}

	n := it.tree.page(it.tree.root)
	for {
		idx := lookupLE(n, key)
		it.path = append(it.path, n)
		it.pos = append(it.pos, idx)
		if n.kind() == kindLeaf {
			return true
		}
		n = it.tree.page(n.ptr(idx))
	}
}

// Valid reports whether the iterator points at an entry.
func (it *Iter) Valid() bool {
	if len(it.path) == 0 {
		return false
	}
	leaf := it.path[len(it.path)-1]
	return it.pos[len(it.pos)-1] < leaf.count()
}

// Key returns the current key, nil when not Valid.
func (it *Iter) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.path[len(it.path)-1].key(it.pos[len(it.pos)-1])
}

// Value returns the current value, nil when not Valid.
func (it *Iter) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.path[len(it.path)-1].val(it.pos[len(it.pos)-1])
}

// Next advances to the following key and reports whether one exists.
func (it *Iter) Next() bool {
	if len(it.path) == 0 {
		return false
	}

	level := len(it.pos) - 1
	it.pos[level]++
	if it.pos[level] < it.path[level].count() {
		return true
	}

	// leaf exhausted: climb until a parent has another kid
	it.path = it.path[:level]
	it.pos = it.pos[:level]
	for len(it.pos) > 0 {
		level = len(it.pos) - 1
		it.pos[level]++
		if it.pos[level] < it.path[level].count() {
			return it.descend()
		}
		it.path = it.path[:level]
		it.pos = it.pos[:level]
	}
	return false
}

// descend follows leftmost kids from the current position down to a leaf.
func (it *Iter) descend() bool {
	for {
		level := len(it.path) - 1
		kid := it.tree.page(it.path[level].ptr(it.pos[level]))
		it.path = append(it.path, kid)
		it.pos = append(it.pos, 0)
		if kid.kind() == kindLeaf {
			return true
		}
	}
}

// Scan calls fn for every entry with key >= start, in order, until fn
// returns false.
func (t *Tree) Scan(start []byte, fn func(key, val []byte) bool) {
	it := t.Iter()
	if !it.SeekLE(start) {
		return
	}
	if bytes.Compare(it.Key(), start) < 0 && !it.Next() {
		return
	}
	for it.Valid() {
		if !fn(it.Key(), it.Value()) {
			return
		}
		if !it.Next() {
			return
		}
	}
}

// ScanPrefix calls fn for every entry whose key starts with prefix.
func (t *Tree) ScanPrefix(prefix []byte, fn func(key, val []byte) bool) {
	t.Scan(prefix, func(key, val []byte) bool {
		if !bytes.HasPrefix(key, prefix) {
			return false
		}
		return fn(key, val)
	})
}
