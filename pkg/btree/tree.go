// ABOUTME: Copy-on-write B+Tree over fixed-size pages
// ABOUTME: Insert, Get and Delete never modify a page in place

package btree

import (
	"bytes"
	"errors"
)

var (
	// ErrKeyTooLarge is returned for empty keys and keys above MaxKeySize.
	ErrKeyTooLarge = errors.New("btree: key size out of range")
	// ErrValueTooLarge is returned for values above MaxValueSize.
	ErrValueTooLarge = errors.New("btree: value too large")
)

// Pager owns the pages of a tree. Pointers are opaque to the tree; zero is
// reserved for "no page".
type Pager interface {
	// Page dereferences a pointer.
	Page(ptr uint64) []byte
	// Alloc stores a new page and returns its pointer.
	Alloc(page []byte) uint64
	// Free releases a page the tree no longer references.
	Free(ptr uint64)
}

// Tree is a B+Tree whose pages live in a Pager.
type Tree struct {
	root  uint64
	pager Pager
}

// New returns a tree rooted at root (zero for an empty tree).
func New(pager Pager, root uint64) *Tree {
	return &Tree{root: root, pager: pager}
}

// Root returns the current root pointer.
func (t *Tree) Root() uint64 {
	return t.root
}

// SetRoot points the tree at another root, e.g. when a transaction is rolled back.
func (t *Tree) SetRoot(root uint64) {
	t.root = root
}

// CheckSize validates a key/value pair against the page limits.
func CheckSize(key, val []byte) error {
	if len(key) == 0 || len(key) > MaxKeySize {
		return ErrKeyTooLarge
	}
	if len(val) > MaxValueSize {
		return ErrValueTooLarge
	}
	return nil
}

func (t *Tree) page(ptr uint64) node {
	return node(t.pager.Page(ptr))
}

// Get returns the value stored under key.
func (t *Tree) Get(key []byte) ([]byte, bool) {
	if t.root == 0 {
		return nil, false
	}

	n := t.page(t.root)
	for {
		idx := lookupLE(n, key)
		switch n.kind() {
		case kindLeaf:
			if bytes.Equal(key, n.key(idx)) {
				return n.val(idx), true
			}
			return nil, false
		case kindInternal:
			n = t.page(n.ptr(idx))
		default:
			panic("btree: bad node kind")
		}
	}
}

// Insert adds or replaces key. Callers validate sizes with CheckSize first.
func (t *Tree) Insert(key, val []byte) {
	if t.root == 0 {
		root := node(make([]byte, PageSize))
		root.setHeader(kindLeaf, 2)
		// the empty sentinel key covers the whole key space
		appendEntry(root, 0, 0, nil, nil)
		appendEntry(root, 1, 0, key, val)
		t.root = t.pager.Alloc(root)
		return
	}

	updated := t.insert(t.page(t.root), key, val)
	nsplit, split := split3(updated)
	t.pager.Free(t.root)

	if nsplit == 1 {
		t.root = t.pager.Alloc(split[0])
		return
	}

	root := node(make([]byte, PageSize))
	root.setHeader(kindInternal, nsplit)
	for i, kid := range split[:nsplit] {
		appendEntry(root, uint16(i), t.pager.Alloc(kid), kid.key(0), nil)
	}
	t.root = t.pager.Alloc(root)
}

// insert returns a copy of n holding key; the copy may exceed one page.
func (t *Tree) insert(n node, key, val []byte) node {
	out := node(make([]byte, 2*PageSize))

	idx := lookupLE(n, key)
	switch n.kind() {
	case kindLeaf:
		if bytes.Equal(key, n.key(idx)) {
			leafUpdate(out, n, idx, key, val)
		} else {
			leafInsert(out, n, idx+1, key, val)
		}
	case kindInternal:
		kptr := n.ptr(idx)
		kid := t.insert(t.page(kptr), key, val)
		nsplit, split := split3(kid)
		t.pager.Free(kptr)
		t.replaceKids(out, n, idx, split[:nsplit]...)
	default:
		panic("btree: bad node kind")
	}
	return out
}

func leafInsert(out, old node, idx uint16, key, val []byte) {
	out.setHeader(kindLeaf, old.count()+1)
	appendRange(out, old, 0, 0, idx)
	appendEntry(out, idx, 0, key, val)
	appendRange(out, old, idx+1, idx, old.count()-idx)
}

func leafUpdate(out, old node, idx uint16, key, val []byte) {
	out.setHeader(kindLeaf, old.count())
	appendRange(out, old, 0, 0, idx)
	appendEntry(out, idx, 0, key, val)
	appendRange(out, old, idx+1, idx+1, old.count()-(idx+1))
}

func leafRemove(out, old node, idx uint16) {
	out.setHeader(kindLeaf, old.count()-1)
	appendRange(out, old, 0, 0, idx)
	appendRange(out, old, idx, idx+1, old.count()-(idx+1))
}

// replaceKids replaces the link at idx with one link per kid.
func (t *Tree) replaceKids(out, old node, idx uint16, kids ...node) {
	inc := uint16(len(kids))
	out.setHeader(kindInternal, old.count()+inc-1)
	appendRange(out, old, 0, 0, idx)
	for i, kid := range kids {
		appendEntry(out, idx+uint16(i), t.pager.Alloc(kid), kid.key(0), nil)
	}
	appendRange(out, old, idx+inc, idx+1, old.count()-(idx+1))
}

// replaceTwoKids replaces the adjacent links idx and idx+1 with one link.
func replaceTwoKids(out, old node, idx uint16, ptr uint64, key []byte) {
	out.setHeader(kindInternal, old.count()-1)
	appendRange(out, old, 0, 0, idx)
	appendEntry(out, idx, ptr, key, nil)
	appendRange(out, old, idx+1, idx+2, old.count()-(idx+2))
}

// split3 splits an oversized node into up to three pages.
func split3(old node) (uint16, [3]node) {
	if old.size() <= PageSize {
		return 1, [3]node{old[:PageSize]}
	}

	left := node(make([]byte, 2*PageSize))
	right := node(make([]byte, PageSize))
	split2(left, right, old)
	if left.size() <= PageSize {
		return 2, [3]node{left[:PageSize], right}
	}

	leftleft := node(make([]byte, PageSize))
	middle := node(make([]byte, PageSize))
	split2(leftleft, middle, left)
	return 3, [3]node{leftleft, middle, right}
}

// split2 moves entries into left until it holds about three quarters of a page.
func split2(left, right, old node) {
	total := old.count()
	nleft := uint16(0)
	for i := uint16(0); i < total; i++ {
		nleft = i + 1
		if old.entryPos(nleft) >= PageSize*3/4 {
			break
		}
	}

	left.setHeader(old.kind(), nleft)
	appendRange(left, old, 0, 0, nleft)
	right.setHeader(old.kind(), total-nleft)
	appendRange(right, old, 0, nleft, total-nleft)
}

// Delete removes key and reports whether it was present.
func (t *Tree) Delete(key []byte) bool {
	if t.root == 0 {
		return false
	}

	updated := t.remove(t.page(t.root), key)
	if len(updated) == 0 {
		return false
	}

	t.pager.Free(t.root)
	if updated.kind() == kindInternal && updated.count() == 1 {
		// drop a level
		t.root = updated.ptr(0)
	} else {
		t.root = t.pager.Alloc(updated)
	}
	return true
}

// remove returns a copy of n without key, or nil when key is absent.
func (t *Tree) remove(n node, key []byte) node {
	idx := lookupLE(n, key)
	switch n.kind() {
	case kindLeaf:
		if !bytes.Equal(key, n.key(idx)) {
			return nil
		}
		out := node(make([]byte, PageSize))
		leafRemove(out, n, idx)
		return out
	case kindInternal:
		return t.removeFromKid(n, idx, key)
	default:
		panic("btree: bad node kind")
	}
}

func (t *Tree) removeFromKid(n node, idx uint16, key []byte) node {
	kptr := n.ptr(idx)
	updated := t.remove(t.page(kptr), key)
	if len(updated) == 0 {
		return nil
	}
	t.pager.Free(kptr)

	out := node(make([]byte, PageSize))
	dir, sibling := t.mergeCandidate(n, idx, updated)
	switch {
	case dir < 0:
		merged := node(make([]byte, PageSize))
		merge(merged, sibling, updated)
		t.pager.Free(n.ptr(idx - 1))
		replaceTwoKids(out, n, idx-1, t.pager.Alloc(merged), merged.key(0))
	case dir > 0:
		merged := node(make([]byte, PageSize))
		merge(merged, updated, sibling)
		t.pager.Free(n.ptr(idx + 1))
		replaceTwoKids(out, n, idx, t.pager.Alloc(merged), merged.key(0))
	case updated.count() == 0:
		out.setHeader(kindInternal, 0)
	default:
		t.replaceKids(out, n, idx, updated)
	}
	return out
}

// mergeCandidate picks a sibling to merge an underfull kid with: -1 left, +1 right.
func (t *Tree) mergeCandidate(n node, idx uint16, updated node) (int, node) {
	if updated.size() > PageSize/4 {
		return 0, nil
	}
	if idx > 0 {
		sibling := t.page(n.ptr(idx - 1))
		if sibling.size()+updated.size()-headerSize <= PageSize {
			return -1, sibling
		}
	}
	if idx+1 < n.count() {
		sibling := t.page(n.ptr(idx + 1))
		if sibling.size()+updated.size()-headerSize <= PageSize {
			return +1, sibling
		}
	}
	return 0, nil
}

func merge(out, left, right node) {
	out.setHeader(left.kind(), left.count()+right.count())
	appendRange(out, left, 0, 0, left.count())
	appendRange(out, right, left.count(), 0, right.count())
}
