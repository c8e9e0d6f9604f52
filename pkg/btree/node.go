// ABOUTME: Page layout for B+Tree nodes
// ABOUTME: Copy-on-write node encoding shared by leaf and internal nodes

package btree

import (
	"bytes"
	"encoding/binary"
)

// Node kinds stored in the first two bytes of a page.
const (
	kindInternal = 1 // internal nodes carry child pointers, no values
	kindLeaf     = 2 // leaf nodes carry values
)

const (
	headerSize = 4

	// PageSize is the fixed size of every page handed to a Pager.
	PageSize = 4096
	// MaxKeySize is the largest key a single leaf entry can hold.
	MaxKeySize = 1000
	// MaxValueSize is the largest value a single leaf entry can hold.
	MaxValueSize = 3000
)

// node is a page viewed as a B+Tree node.
//
// Layout:
//
//	| kind(2) | nkeys(2) | pointers(nkeys*8) | offsets(nkeys*2) | entries... |
//	entry: | klen(2) | vlen(2) | key | val |
type node []byte

func (n node) kind() uint16 {
	return binary.LittleEndian.Uint16(n[0:2])
}

func (n node) count() uint16 {
	return binary.LittleEndian.Uint16(n[2:4])
}

func (n node) setHeader(kind uint16, count uint16) {
	binary.LittleEndian.PutUint16(n[0:2], kind)
	binary.LittleEndian.PutUint16(n[2:4], count)
}

func (n node) ptr(idx uint16) uint64 {
	if idx >= n.count() {
		panic("btree: pointer index out of range")
	}
	return binary.LittleEndian.Uint64(n[headerSize+8*idx:])
}

func (n node) setPtr(idx uint16, val uint64) {
	if idx >= n.count() {
		panic("btree: pointer index out of range")
	}
	binary.LittleEndian.PutUint64(n[headerSize+8*idx:], val)
}

func (n node) offsetPos(idx uint16) uint16 {
	if idx < 1 || idx > n.count() {
		panic("btree: offset index out of range")
	}
	return headerSize + 8*n.count() + 2*(idx-1)
}

// offset of entry idx relative to the first entry; entry 0 is always at 0.
func (n node) offset(idx uint16) uint16 {
	if idx == 0 {
		return 0
	}
	return binary.LittleEndian.Uint16(n[n.offsetPos(idx):])
}

func (n node) setOffset(idx uint16, off uint16) {
	binary.LittleEndian.PutUint16(n[n.offsetPos(idx):], off)
}

func (n node) entryPos(idx uint16) uint16 {
	if idx > n.count() {
		panic("btree: entry index out of range")
	}
	return headerSize + 10*n.count() + n.offset(idx)
}

func (n node) key(idx uint16) []byte {
	if idx >= n.count() {
		panic("btree: key index out of range")
	}
	pos := n.entryPos(idx)
	klen := binary.LittleEndian.Uint16(n[pos:])
	return n[pos+4:][:klen]
}

func (n node) val(idx uint16) []byte {
	if idx >= n.count() {
		panic("btree: value index out of range")
	}
	pos := n.entryPos(idx)
	klen := binary.LittleEndian.Uint16(n[pos:])
	vlen := binary.LittleEndian.Uint16(n[pos+2:])
	return n[pos+4+klen:][:vlen]
}

// size is the number of bytes used by the node.
func (n node) size() uint16 {
	return n.entryPos(n.count())
}

// lookupLE returns the index of the last key <= key. The first key of every
// node is copied from its parent, so index 0 always qualifies.
func lookupLE(n node, key []byte) uint16 {
	found := uint16(0)
	for i := uint16(1); i < n.count(); i++ {
		cmp := bytes.Compare(n.key(i), key)
		if cmp <= 0 {
			found = i
		}
		if cmp >= 0 {
			break
		}
	}
	return found
}

// appendRange copies n entries of src starting at srcIdx into dst at dstIdx.
func appendRange(dst, src node, dstIdx, srcIdx, n uint16) {
	if srcIdx+n > src.count() || dstIdx+n > dst.count() {
		panic("btree: range out of bounds")
	}
	if n == 0 {
		return
	}

	if src.kind() == kindInternal {
		for i := uint16(0); i < n; i++ {
			dst.setPtr(dstIdx+i, src.ptr(srcIdx+i))
		}
	}

	dstBegin := dst.offset(dstIdx)
	srcBegin := src.offset(srcIdx)
	for i := uint16(1); i <= n; i++ {
		dst.setOffset(dstIdx+i, dstBegin+src.offset(srcIdx+i)-srcBegin)
	}

	begin := src.entryPos(srcIdx)
	end := src.entryPos(srcIdx + n)
	copy(dst[dst.entryPos(dstIdx):], src[begin:end])
}

// appendEntry writes a single entry at idx; entries must be appended in order.
func appendEntry(dst node, idx uint16, ptr uint64, key, val []byte) {
	dst.setPtr(idx, ptr)

	pos := dst.entryPos(idx)
	binary.LittleEndian.PutUint16(dst[pos+0:], uint16(len(key)))
	binary.LittleEndian.PutUint16(dst[pos+2:], uint16(len(val)))
	copy(dst[pos+4:], key)
	copy(dst[pos+4+uint16(len(key)):], val)

	dst.setOffset(idx+1, dst.offset(idx)+4+uint16(len(key)+len(val)))
}

func init() {
	single := headerSize + 8 + 2 + 4 + MaxKeySize + MaxValueSize
	if single > PageSize {
		panic("btree: a maximal entry does not fit in a page")
	}
}
