// ABOUTME: Transactions for atomic multi-key updates
// ABOUTME: Begin snapshots the meta page; Abort restores it, Commit publishes it

package storage

import (
	"bytes"

	"github.com/nainya/folio/pkg/btree"
)

// Tx groups writes that become visible atomically on Commit. Reads inside
// the transaction see its own writes. Only one Tx may be open per KV.
type Tx struct {
	db   *KV
	meta []byte
	done bool
}

// Begin starts a transaction.
func (db *KV) Begin() *Tx {
	return &Tx{db: db, meta: db.saveMeta()}
}

// Commit publishes the writes. On error the KV is rolled back to Begin.
func (tx *Tx) Commit() error {
	if tx.done {
		return nil
	}
	tx.done = true
	return tx.db.commit(tx.meta)
}

// Abort discards the writes. It is a no-op after Commit.
func (tx *Tx) Abort() {
	if tx.done {
		return
	}
	tx.done = true
	tx.db.discard(tx.meta)
}

func (tx *Tx) Get(key []byte) ([]byte, bool) {
	return tx.db.Get(key)
}

// Set validates sizes before touching the tree.
func (tx *Tx) Set(key, val []byte) error {
	if !tx.db.open {
		return ErrClosed
	}
	if err := btree.CheckSize(key, val); err != nil {
		return err
	}
	tx.db.tree.Insert(key, val)
	return nil
}

func (tx *Tx) Del(key []byte) bool {
	if !tx.db.open {
		return false
	}
	return tx.db.tree.Delete(key)
}

func (tx *Tx) Scan(start []byte, fn func(key, val []byte) bool) {
	tx.db.Scan(start, fn)
}

func (tx *Tx) ScanPrefix(prefix []byte, fn func(key, val []byte) bool) {
	tx.db.ScanPrefix(prefix, fn)
}

// DelPrefix removes every key starting with prefix and returns the count.
func (tx *Tx) DelPrefix(prefix []byte) int {
	var keys [][]byte
	tx.ScanPrefix(prefix, func(key, _ []byte) bool {
		keys = append(keys, bytes.Clone(key))
		return true
	})
	for _, k := range keys {
		tx.Del(k)
	}
	return len(keys)
}
