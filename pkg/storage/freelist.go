// ABOUTME: Free list for page recycling
// ABOUTME: Unrolled linked list of freed page pointers stored in pages itself

package storage

import (
	"encoding/binary"

	"github.com/nainya/folio/pkg/btree"
)

const (
	freeHeaderSize = 8
	freeCapacity   = (btree.PageSize - freeHeaderSize) / 8
)

// freeNode is a free list page: | next(8) | ptrs(cap*8) |
type freeNode []byte

func (n freeNode) next() uint64 {
	return binary.LittleEndian.Uint64(n[0:8])
}

func (n freeNode) setNext(next uint64) {
	binary.LittleEndian.PutUint64(n[0:8], next)
}

func (n freeNode) ptr(idx int) uint64 {
	return binary.LittleEndian.Uint64(n[freeHeaderSize+idx*8:])
}

func (n freeNode) setPtr(idx int, ptr uint64) {
	binary.LittleEndian.PutUint64(n[freeHeaderSize+idx*8:], ptr)
}

// pageStore is the subset of the KV page layer the free list needs.
type pageStore interface {
	Page(ptr uint64) []byte
	appendPage(page []byte) uint64
	writePage(ptr uint64, page []byte)
}

// freeList hands out pages released by earlier commits. Items pushed during
// the running transaction sit past maxSeq and stay unavailable until commit.
type freeList struct {
	pages pageStore

	headPage uint64
	headSeq  uint64
	tailPage uint64
	tailSeq  uint64
	maxSeq   uint64
}

// total is the number of pointers waiting in the list.
func (fl *freeList) total() int {
	if fl.headSeq >= fl.tailSeq {
		return 0
	}
	return int(fl.tailSeq - fl.headSeq)
}

// pop returns a reusable page pointer, or 0.
func (fl *freeList) pop() uint64 {
	if fl.headSeq >= fl.tailSeq || fl.headSeq >= fl.maxSeq || fl.headPage == 0 {
		return 0
	}

	node := freeNode(fl.pages.Page(fl.headPage))
	ptr := node.ptr(int(fl.headSeq % freeCapacity))
	fl.headSeq++

	if fl.headSeq%freeCapacity == 0 {
		if next := node.next(); next != 0 {
			// the exhausted list page is itself free now
			fl.push(fl.headPage)
			fl.headPage = next
		}
	}
	return ptr
}

// push appends a pointer to the tail.
func (fl *freeList) push(ptr uint64) {
	if fl.tailPage == 0 {
		fl.tailPage = fl.pages.appendPage(make([]byte, btree.PageSize))
		fl.headPage = fl.tailPage
	}

	idx := int(fl.tailSeq % freeCapacity)
	if idx == 0 && fl.tailSeq > 0 {
		next := fl.pages.appendPage(make([]byte, btree.PageSize))

		old := make([]byte, btree.PageSize)
		copy(old, fl.pages.Page(fl.tailPage))
		freeNode(old).setNext(next)
		fl.pages.writePage(fl.tailPage, old)

		fl.tailPage = next
	}

	page := make([]byte, btree.PageSize)
	copy(page, fl.pages.Page(fl.tailPage))
	freeNode(page).setPtr(idx, ptr)
	fl.pages.writePage(fl.tailPage, page)
	fl.tailSeq++
}

// freeze hides items pushed from now on until the next commit.
func (fl *freeList) freeze() {
	fl.maxSeq = fl.tailSeq
}

func (fl *freeList) marshal(data []byte) {
	binary.LittleEndian.PutUint64(data[0:], fl.headPage)
	binary.LittleEndian.PutUint64(data[8:], fl.headSeq)
	binary.LittleEndian.PutUint64(data[16:], fl.tailPage)
	binary.LittleEndian.PutUint64(data[24:], fl.tailSeq)
}

func (fl *freeList) unmarshal(data []byte) {
	fl.headPage = binary.LittleEndian.Uint64(data[0:])
	fl.headSeq = binary.LittleEndian.Uint64(data[8:])
	fl.tailPage = binary.LittleEndian.Uint64(data[16:])
	fl.tailSeq = binary.LittleEndian.Uint64(data[24:])
	fl.maxSeq = fl.tailSeq
}
