// ABOUTME: Append-only page rename history on the KV store
// ABOUTME: Indexed by old title, new title and page id for "earliest after" lookups

package renamelog

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/nainya/timemachine/pkg/page"
	"github.com/nainya/timemachine/pkg/storage"
)

// Prefixes for rename storage
const (
	PREFIX_RENAME_PAGE = uint32(8000) // (pageID, timestamp, seq)
	PREFIX_RENAME_OLD  = uint32(8100) // (oldNamespace, oldName, timestamp, seq)
	PREFIX_RENAME_NEW  = uint32(8200) // (newNamespace, newName, timestamp, seq)
	PREFIX_RENAME_SEQ  = uint32(8900) // last assigned sequence number
)

// Log is the pebble-backed rename history. Every index entry carries the
// full event so lookups never need a second read.
type Log struct {
	kv *storage.KV

	// seqMu serializes sequence allocation across concurrent appends
	seqMu sync.Mutex
}

var _ page.RenameLog = (*Log)(nil)

// New creates a rename log on kv
func New(kv *storage.KV) *Log {
	return &Log{kv: kv}
}

// Append records a rename. Events sharing a timestamp keep insertion order.
func (l *Log) Append(ctx context.Context, ev page.RenameEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	l.seqMu.Lock()
	defer l.seqMu.Unlock()

	seqKey := storage.EncodeKey(PREFIX_RENAME_SEQ, nil)
	tx := l.kv.Begin()

	var seq uint64
	if raw, ok := tx.Get(seqKey); ok && len(raw) == 8 {
		seq = binary.BigEndian.Uint64(raw)
	}
	seq++
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	tx.Set(seqKey, seqBuf[:])

	val := encodeEvent(ev)
	ts := storage.NewTimeValue(ev.Timestamp)
	sq := storage.NewUint64Value(seq)

	tx.Set(storage.EncodeKey(PREFIX_RENAME_PAGE, []storage.Value{
		storage.NewInt64Value(ev.PageID), ts, sq,
	}), val)
	tx.Set(storage.EncodeKey(PREFIX_RENAME_OLD, []storage.Value{
		storage.NewInt64Value(int64(ev.Old.Namespace)), storage.NewStringValue(ev.Old.Name), ts, sq,
	}), val)
	tx.Set(storage.EncodeKey(PREFIX_RENAME_NEW, []storage.Value{
		storage.NewInt64Value(int64(ev.New.Namespace)), storage.NewStringValue(ev.New.Name), ts, sq,
	}), val)

	if err := tx.Commit(); err != nil {
		return page.Unavailable("append rename", err)
	}
	return nil
}

// EarliestAfter returns the first event strictly after the given instant
// matching id on the requested side.
func (l *Log) EarliestAfter(ctx context.Context, match page.RenameMatch, id page.Identity, after time.Time) (page.RenameEvent, bool, error) {
	if err := ctx.Err(); err != nil {
		return page.RenameEvent{}, false, err
	}

	var prefix uint32
	var cols []storage.Value
	switch match {
	case page.MatchOld:
		prefix = PREFIX_RENAME_OLD
		cols = []storage.Value{storage.NewInt64Value(int64(id.Namespace)), storage.NewStringValue(id.Name)}
	case page.MatchNew:
		prefix = PREFIX_RENAME_NEW
		cols = []storage.Value{storage.NewInt64Value(int64(id.Namespace)), storage.NewStringValue(id.Name)}
	case page.MatchPage:
		if !id.HasPageID() {
			return page.RenameEvent{}, false, nil
		}
		prefix = PREFIX_RENAME_PAGE
		cols = []storage.Value{storage.NewInt64Value(id.PageID)}
	default:
		return page.RenameEvent{}, false, fmt.Errorf("unknown rename match %d", match)
	}

	// the first key past (cols, after) skips every entry stamped at or before after
	lower := storage.PrefixEnd(storage.EncodeKey(prefix, append(cols, storage.NewTimeValue(after))))
	upper := storage.PrefixEnd(storage.EncodeKey(prefix, cols))

	var ev page.RenameEvent
	found := false
	var decodeErr error
	err := l.kv.ScanRange(lower, upper, func(_, val []byte) bool {
		ev, decodeErr = decodeEvent(val)
		found = decodeErr == nil
		return false
	})
	if err != nil {
		return page.RenameEvent{}, false, page.Unavailable("earliest rename", err)
	}
	if decodeErr != nil {
		return page.RenameEvent{}, false, decodeErr
	}
	return ev, found, nil
}

// History returns every rename of a page, oldest first
func (l *Log) History(ctx context.Context, pageID int64) ([]page.RenameEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := storage.EncodeKey(PREFIX_RENAME_PAGE, []storage.Value{storage.NewInt64Value(pageID)})

	var events []page.RenameEvent
	var decodeErr error
	err := l.kv.ScanPrefix(prefix, func(_, val []byte) bool {
		ev, err := decodeEvent(val)
		if err != nil {
			decodeErr = err
			return false
		}
		events = append(events, ev)
		return true
	})
	if err != nil {
		return nil, page.Unavailable("rename history", err)
	}
	return events, decodeErr
}

func encodeEvent(ev page.RenameEvent) []byte {
	return storage.EncodeValues([]storage.Value{
		storage.NewInt64Value(ev.PageID),
		storage.NewInt64Value(int64(ev.Old.Namespace)),
		storage.NewStringValue(ev.Old.Name),
		storage.NewInt64Value(int64(ev.New.Namespace)),
		storage.NewStringValue(ev.New.Name),
		storage.NewTimeValue(ev.Timestamp),
	})
}

func decodeEvent(data []byte) (page.RenameEvent, error) {
	vals, err := storage.DecodeValues(data)
	if err != nil {
		return page.RenameEvent{}, err
	}
	if len(vals) < 6 {
		return page.RenameEvent{}, fmt.Errorf("incomplete rename event")
	}
	pageID := vals[0].I64
	return page.RenameEvent{
		PageID:    pageID,
		Old:       page.Identity{Namespace: int(vals[1].I64), Name: string(vals[2].Str), PageID: pageID},
		New:       page.Identity{Namespace: int(vals[3].I64), Name: string(vals[4].Str), PageID: pageID},
		Timestamp: vals[5].Time,
	}, nil
}
