// ABOUTME: Page-backed KV store on top of the copy-on-write B+Tree
// ABOUTME: Disk mode uses mmap plus a two-fsync meta update; memory mode keeps pages in RAM

package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/nainya/folio/pkg/btree"
)

const (
	signature = "FolioKV/1\x00\x00\x00\x00\x00\x00\x00" // 16 bytes
	metaSize  = 64
	pageSize  = btree.PageSize

	initialMmap = 64 << 20
)

// ErrClosed is returned by writes on a KV that is not open.
var ErrClosed = errors.New("storage: kv is closed")

// KV is an ordered key-value store. An empty Path keeps every page in
// memory; otherwise pages live in the file at Path. KV is not safe for
// concurrent use.
type KV struct {
	Path string

	fd   int
	open bool
	tree *btree.Tree
	free freeList

	mmap struct {
		total  int
		chunks [][]byte
	}
	// memory mode only; index 0 stands in for the meta page
	mem [][]byte

	page struct {
		flushed uint64            // pages durable (or retained) so far
		temp    [][]byte          // appended pages not yet flushed
		updates map[uint64][]byte // reused or rewritten flushed pages
	}

	failed bool
}

// Open opens or creates the store.
func (db *KV) Open() error {
	db.page.updates = make(map[uint64][]byte)
	db.free.pages = db
	db.tree = btree.New(db, 0)

	if db.Path == "" {
		db.mem = [][]byte{nil}
		db.page.flushed = 1
		db.open = true
		return nil
	}

	fd, err := createFileSync(db.Path)
	if err != nil {
		return err
	}
	db.fd = fd

	var stat syscall.Stat_t
	if err := syscall.Fstat(db.fd, &stat); err != nil {
		_ = syscall.Close(db.fd)
		return fmt.Errorf("fstat: %w", err)
	}

	if stat.Size == 0 {
		// reserve the meta page
		db.page.flushed = 1
		db.open = true
		return nil
	}

	size := max(initialMmap, int(stat.Size))
	chunk, err := syscall.Mmap(db.fd, 0, size, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		_ = syscall.Close(db.fd)
		return fmt.Errorf("mmap: %w", err)
	}
	db.mmap.total = size
	db.mmap.chunks = append(db.mmap.chunks, chunk)

	if err := db.readMeta(); err != nil {
		_ = syscall.Munmap(chunk)
		_ = syscall.Close(db.fd)
		db.mmap.chunks = nil
		return err
	}
	db.open = true
	return nil
}

// Close releases the file and mappings.
func (db *KV) Close() error {
	if !db.open {
		return nil
	}
	db.open = false
	if db.Path == "" {
		db.mem = nil
		return nil
	}
	for _, chunk := range db.mmap.chunks {
		if err := syscall.Munmap(chunk); err != nil {
			return err
		}
	}
	db.mmap.chunks = nil
	return syscall.Close(db.fd)
}

// Get returns a copy of the value stored under key.
func (db *KV) Get(key []byte) ([]byte, bool) {
	if !db.open {
		return nil, false
	}
	val, ok := db.tree.Get(key)
	if !ok {
		return nil, false
	}
	return bytes.Clone(val), true
}

// Set stores a single pair and commits.
func (db *KV) Set(key, val []byte) error {
	tx := db.Begin()
	if err := tx.Set(key, val); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

// Del removes a single key and commits. It reports whether the key existed.
func (db *KV) Del(key []byte) (bool, error) {
	tx := db.Begin()
	if !tx.Del(key) {
		tx.Abort()
		return false, nil
	}
	return true, tx.Commit()
}

// Scan calls fn for keys >= start in order until fn returns false. The
// slices passed to fn are only valid during the call.
func (db *KV) Scan(start []byte, fn func(key, val []byte) bool) {
	if db.open {
		db.tree.Scan(start, fn)
	}
}

// ScanPrefix calls fn for every key starting with prefix.
func (db *KV) ScanPrefix(prefix []byte, fn func(key, val []byte) bool) {
	if db.open {
		db.tree.ScanPrefix(prefix, fn)
	}
}

// Page implements btree.Pager.
func (db *KV) Page(ptr uint64) []byte {
	if page, ok := db.page.updates[ptr]; ok {
		return page
	}
	if ptr >= db.page.flushed {
		idx := ptr - db.page.flushed
		if idx < uint64(len(db.page.temp)) {
			return db.page.temp[idx]
		}
	}

	if db.Path == "" {
		if ptr < uint64(len(db.mem)) {
			return db.mem[ptr]
		}
	} else {
		start := uint64(0)
		for _, chunk := range db.mmap.chunks {
			end := start + uint64(len(chunk))/pageSize
			if ptr < end {
				offset := pageSize * (ptr - start)
				return chunk[offset : offset+pageSize]
			}
			start = end
		}
	}
	panic(fmt.Sprintf("storage: bad page pointer %d (flushed %d, temp %d)",
		ptr, db.page.flushed, len(db.page.temp)))
}

// Alloc implements btree.Pager, reusing freed pages first.
func (db *KV) Alloc(page []byte) uint64 {
	if len(page) != pageSize {
		panic("storage: page size mismatch")
	}
	if ptr := db.free.pop(); ptr != 0 {
		db.page.updates[ptr] = page
		return ptr
	}
	return db.appendPage(page)
}

// Free implements btree.Pager. Pages appended in the running transaction
// are simply dropped.
func (db *KV) Free(ptr uint64) {
	if ptr < db.page.flushed {
		db.free.push(ptr)
	}
}

func (db *KV) appendPage(page []byte) uint64 {
	if len(page) != pageSize {
		panic("storage: page size mismatch")
	}
	ptr := db.page.flushed + uint64(len(db.page.temp))
	db.page.temp = append(db.page.temp, page)
	return ptr
}

func (db *KV) writePage(ptr uint64, page []byte) {
	if len(page) != pageSize {
		panic("storage: page size mismatch")
	}
	db.page.updates[ptr] = page
}

// meta: | sig(16) | root(8) | flushed(8) | free list(32) |
func (db *KV) saveMeta() []byte {
	data := make([]byte, metaSize)
	copy(data[:16], signature)
	binary.LittleEndian.PutUint64(data[16:], db.tree.Root())
	binary.LittleEndian.PutUint64(data[24:], db.page.flushed)
	db.free.marshal(data[32:])
	return data
}

func (db *KV) loadMeta(data []byte) {
	db.tree.SetRoot(binary.LittleEndian.Uint64(data[16:]))
	db.page.flushed = binary.LittleEndian.Uint64(data[24:])
	db.free.unmarshal(data[32:])
}

func (db *KV) readMeta() error {
	data := db.mmap.chunks[0][:metaSize]
	if string(data[:16]) != signature {
		return fmt.Errorf("storage: bad signature in %s", db.Path)
	}
	db.loadMeta(data)
	return nil
}

// discard drops uncommitted pages and restores meta.
func (db *KV) discard(meta []byte) {
	db.loadMeta(meta)
	db.page.temp = db.page.temp[:0]
	db.page.updates = make(map[uint64][]byte)
}

// commit makes the current tree durable, or rolls back to meta on failure.
func (db *KV) commit(meta []byte) error {
	if !db.open {
		return ErrClosed
	}
	if db.Path == "" {
		db.retainPages()
		db.free.freeze()
		return nil
	}

	if db.failed {
		// a previous meta write may be half done; restore the last good one
		if err := db.writeMeta(meta); err != nil {
			return err
		}
		if err := syscall.Fsync(db.fd); err != nil {
			return err
		}
		db.failed = false
	}

	if err := db.updateFile(); err != nil {
		db.discard(meta)
		db.failed = true
		return err
	}
	db.free.freeze()
	return nil
}

func (db *KV) retainPages() {
	for ptr, page := range db.page.updates {
		db.mem[ptr] = page
	}
	db.page.updates = make(map[uint64][]byte)
	db.mem = append(db.mem, db.page.temp...)
	db.page.flushed = uint64(len(db.mem))
	db.page.temp = nil
}

// updateFile writes pages, fsyncs, then writes and fsyncs the meta page.
func (db *KV) updateFile() error {
	if err := db.writePages(); err != nil {
		return err
	}
	if err := syscall.Fsync(db.fd); err != nil {
		return err
	}
	if err := db.writeMeta(db.saveMeta()); err != nil {
		return err
	}
	return syscall.Fsync(db.fd)
}

func (db *KV) writePages() error {
	for ptr, page := range db.page.updates {
		if _, err := syscall.Pwrite(db.fd, page, int64(ptr*pageSize)); err != nil {
			return err
		}
	}

	if len(db.page.temp) > 0 {
		size := int(db.page.flushed+uint64(len(db.page.temp))) * pageSize
		if err := db.extendMmap(size); err != nil {
			return err
		}
		offset := int64(db.page.flushed * pageSize)
		for _, page := range db.page.temp {
			if _, err := syscall.Pwrite(db.fd, page, offset); err != nil {
				return err
			}
			offset += pageSize
		}
	}

	db.page.updates = make(map[uint64][]byte)
	db.page.flushed += uint64(len(db.page.temp))
	db.page.temp = db.page.temp[:0]
	return nil
}

func (db *KV) writeMeta(data []byte) error {
	if _, err := syscall.Pwrite(db.fd, data, 0); err != nil {
		return fmt.Errorf("write meta page: %w", err)
	}
	return nil
}

func (db *KV) extendMmap(size int) error {
	if size <= db.mmap.total {
		return nil
	}

	alloc := max(db.mmap.total, initialMmap)
	for db.mmap.total+alloc < size {
		alloc *= 2
	}
	chunk, err := syscall.Mmap(db.fd, int64(db.mmap.total), alloc, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}
	db.mmap.total += alloc
	db.mmap.chunks = append(db.mmap.chunks, chunk)
	return nil
}

// createFileSync opens the file and fsyncs its directory so a new file
// survives a crash.
func createFileSync(file string) (int, error) {
	fd, err := syscall.Open(file, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return -1, fmt.Errorf("open file: %w", err)
	}

	dirfd, err := syscall.Open(filepath.Dir(file), os.O_RDONLY, 0)
	if err != nil {
		_ = syscall.Close(fd)
		return -1, fmt.Errorf("open directory: %w", err)
	}
	defer syscall.Close(dirfd)

	if err := syscall.Fsync(dirfd); err != nil {
		_ = syscall.Close(fd)
		return -1, fmt.Errorf("fsync directory: %w", err)
	}
	return fd, nil
}
