// ABOUTME: Embedded KV store backed by pebble
// ABOUTME: Ordered keys with forward and reverse bounded scans

package storage

import (
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// ErrClosed is returned by operations on a store that is not open
var ErrClosed = errors.New("storage: kv not open")

// KV represents a persistent key-value store
type KV struct {
	Path string

	// InMemory keeps all data in a memory filesystem (tests, demos)
	InMemory bool

	// NoSync skips fsync on writes
	NoSync bool

	db *pebble.DB
}

// Open opens or creates the database directory
func (db *KV) Open() error {
	opts := &pebble.Options{}
	path := db.Path
	if db.InMemory {
		opts.FS = vfs.NewMem()
		if path == "" {
			path = "mem"
		}
	} else {
		if path == "" {
			return fmt.Errorf("open kv: path is required")
		}
		if err := os.MkdirAll(path, 0o750); err != nil {
			return fmt.Errorf("create kv directory %s: %w", path, err)
		}
	}

	pdb, err := pebble.Open(path, opts)
	if err != nil {
		return fmt.Errorf("open kv %s: %w", path, err)
	}
	db.db = pdb
	return nil
}

// Close closes the database
func (db *KV) Close() error {
	if db.db == nil {
		return nil
	}
	err := db.db.Close()
	db.db = nil
	return err
}

// Ready reports whether the store is open
func (db *KV) Ready() bool {
	return db.db != nil
}

func (db *KV) writeOpts() *pebble.WriteOptions {
	if db.NoSync {
		return pebble.NoSync
	}
	return pebble.Sync
}

// Get retrieves a copy of the value stored under key
func (db *KV) Get(key []byte) ([]byte, bool, error) {
	if db.db == nil {
		return nil, false, ErrClosed
	}
	val, closer, err := db.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

// Set inserts or updates a key-value pair
func (db *KV) Set(key []byte, val []byte) error {
	if db.db == nil {
		return ErrClosed
	}
	if err := db.db.Set(key, val, db.writeOpts()); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	return nil
}

// Del deletes a key
func (db *KV) Del(key []byte) error {
	if db.db == nil {
		return ErrClosed
	}
	if err := db.db.Delete(key, db.writeOpts()); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// Scan visits keys >= start in ascending order until callback returns false
func (db *KV) Scan(start []byte, callback func(key, val []byte) bool) error {
	return db.ScanRange(start, nil, callback)
}

// ScanRange visits keys in [lower, upper) in ascending order. A nil upper
// bound means unbounded.
func (db *KV) ScanRange(lower, upper []byte, callback func(key, val []byte) bool) error {
	if db.db == nil {
		return ErrClosed
	}
	iter, err := db.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	for valid := iter.First(); valid; valid = iter.Next() {
		if !callback(iter.Key(), iter.Value()) {
			break
		}
	}
	return closeIter(iter)
}

// ReverseScan visits keys in [lower, upper) in descending order
func (db *KV) ReverseScan(lower, upper []byte, callback func(key, val []byte) bool) error {
	if db.db == nil {
		return ErrClosed
	}
	iter, err := db.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("reverse scan: %w", err)
	}
	for valid := iter.Last(); valid; valid = iter.Prev() {
		if !callback(iter.Key(), iter.Value()) {
			break
		}
	}
	return closeIter(iter)
}

// ScanPrefix visits every key starting with prefix in ascending order
func (db *KV) ScanPrefix(prefix []byte, callback func(key, val []byte) bool) error {
	return db.ScanRange(prefix, PrefixEnd(prefix), callback)
}

func closeIter(iter *pebble.Iterator) error {
	if err := iter.Error(); err != nil {
		iter.Close()
		return fmt.Errorf("iterate: %w", err)
	}
	return iter.Close()
}

// PrefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
