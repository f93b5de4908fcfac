// ABOUTME: Transaction support for atomic multi-key operations
// ABOUTME: Wraps an indexed pebble batch with Begin/Commit/Abort

package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// KVTX represents a key-value transaction. Writes become visible to other
// readers only on Commit.
type KVTX struct {
	db    *KV
	batch *pebble.Batch
	err   error
}

// Begin starts a new transaction
func (db *KV) Begin() *KVTX {
	tx := &KVTX{db: db}
	if db.db == nil {
		tx.err = ErrClosed
		return tx
	}
	tx.batch = db.db.NewIndexedBatch()
	return tx
}

// Commit applies all writes atomically. The batch is released on every path.
func (tx *KVTX) Commit() error {
	defer tx.release()
	if tx.err != nil {
		return tx.err
	}
	if err := tx.batch.Commit(tx.db.writeOpts()); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Abort discards all pending writes
func (tx *KVTX) Abort() {
	tx.release()
	if tx.err == nil {
		tx.err = errors.New("storage: transaction aborted")
	}
}

func (tx *KVTX) release() {
	if tx.batch != nil {
		tx.batch.Close()
		tx.batch = nil
	}
}

// Get reads a key, observing the transaction's own pending writes
func (tx *KVTX) Get(key []byte) ([]byte, bool) {
	if tx.err != nil {
		return nil, false
	}
	val, closer, err := tx.batch.Get(key)
	if err != nil {
		if !errors.Is(err, pebble.ErrNotFound) {
			tx.err = fmt.Errorf("get: %w", err)
		}
		return nil, false
	}
	defer closer.Close()
	return append([]byte(nil), val...), true
}

// Set inserts or updates a key-value pair within the transaction
func (tx *KVTX) Set(key []byte, val []byte) {
	if tx.err != nil {
		return
	}
	if err := tx.batch.Set(key, val, nil); err != nil {
		tx.err = fmt.Errorf("set: %w", err)
	}
}

// Del deletes a key within the transaction
func (tx *KVTX) Del(key []byte) {
	if tx.err != nil {
		return
	}
	if err := tx.batch.Delete(key, nil); err != nil {
		tx.err = fmt.Errorf("delete: %w", err)
	}
}
