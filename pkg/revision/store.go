// ABOUTME: Revision store implementation with temporal queries
// ABOUTME: Indexes revisions by (page, timestamp, revision) for as-of lookups

package revision

import (
	"context"
	"fmt"
	"time"

	"github.com/nainya/timemachine/pkg/page"
	"github.com/nainya/timemachine/pkg/storage"
)

// Prefixes for revision storage
const (
	PREFIX_REVISION      = uint32(6000)
	PREFIX_REVISION_TIME = uint32(6100) // Index by (pageID, timestamp, revisionID)
)

// Store manages page revisions
type Store struct {
	kv *storage.KV
}

var _ page.RevisionStore = (*Store)(nil)

// NewStore creates a new revision store
func NewStore(kv *storage.KV) *Store {
	return &Store{kv: kv}
}

func revisionKey(revID int64) []byte {
	return storage.EncodeKey(PREFIX_REVISION, []storage.Value{
		storage.NewInt64Value(revID),
	})
}

// AddRevision stores a revision and its time index entry
func (s *Store) AddRevision(ctx context.Context, r *Revision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.RevisionID <= 0 || r.PageID <= 0 {
		return fmt.Errorf("revision: page id and revision id are required")
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("revision %d: timestamp is required", r.RevisionID)
	}

	tx := s.kv.Begin()

	tx.Set(revisionKey(r.RevisionID), storage.EncodeValues([]storage.Value{
		storage.NewInt64Value(r.RevisionID),
		storage.NewInt64Value(r.PageID),
		storage.NewTimeValue(r.Timestamp),
		storage.NewInt64Value(r.ParentID),
	}))

	timeKey := storage.EncodeKey(PREFIX_REVISION_TIME, []storage.Value{
		storage.NewInt64Value(r.PageID),
		storage.NewTimeValue(r.Timestamp),
		storage.NewInt64Value(r.RevisionID),
	})
	tx.Set(timeKey, []byte{})

	if err := tx.Commit(); err != nil {
		return page.Unavailable("add revision", err)
	}
	return nil
}

// GetRevision retrieves a specific revision
func (s *Store) GetRevision(ctx context.Context, revID int64) (*Revision, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	val, ok, err := s.kv.Get(revisionKey(revID))
	if err != nil {
		return nil, false, page.Unavailable("get revision", err)
	}
	if !ok {
		return nil, false, nil
	}
	vals, err := storage.DecodeValues(val)
	if err != nil {
		return nil, false, err
	}
	r, err := parseRevisionVals(vals)
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// MostRecentBefore returns the newest revision of pageID strictly before the
// given instant. Index keys sort by (timestamp, revisionID), so the last key
// under the bound is also the highest revision id among equal timestamps.
func (s *Store) MostRecentBefore(ctx context.Context, pageID int64, before time.Time) (page.RevisionRef, bool, error) {
	if err := ctx.Err(); err != nil {
		return page.RevisionRef{}, false, err
	}

	lower := storage.EncodeKey(PREFIX_REVISION_TIME, []storage.Value{
		storage.NewInt64Value(pageID),
	})
	upper := storage.EncodeKey(PREFIX_REVISION_TIME, []storage.Value{
		storage.NewInt64Value(pageID),
		storage.NewTimeValue(before),
	})

	var ref page.RevisionRef
	found := false
	var decodeErr error

	err := s.kv.ReverseScan(lower, upper, func(key, _ []byte) bool {
		vals, err := storage.ExtractValues(key)
		if err != nil || len(vals) < 3 {
			decodeErr = fmt.Errorf("corrupt revision index key: %v", err)
			return false
		}
		ref = page.RevisionRef{
			PageID:     vals[0].I64,
			Timestamp:  vals[1].Time,
			RevisionID: vals[2].I64,
		}
		found = true
		return false
	})
	if err != nil {
		return page.RevisionRef{}, false, page.Unavailable("most recent revision", err)
	}
	if decodeErr != nil {
		return page.RevisionRef{}, false, decodeErr
	}
	return ref, found, nil
}

// ListRevisions returns revisions of a page ordered by timestamp
func (s *Store) ListRevisions(ctx context.Context, pageID int64, limit int) ([]*Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := storage.EncodeKey(PREFIX_REVISION_TIME, []storage.Value{
		storage.NewInt64Value(pageID),
	})

	var revIDs []int64
	err := s.kv.ScanPrefix(prefix, func(key, _ []byte) bool {
		if limit > 0 && len(revIDs) >= limit {
			return false
		}
		vals, err := storage.ExtractValues(key)
		if err != nil || len(vals) < 3 {
			return true
		}
		revIDs = append(revIDs, vals[2].I64)
		return true
	})
	if err != nil {
		return nil, page.Unavailable("list revisions", err)
	}

	revisions := make([]*Revision, 0, len(revIDs))
	for _, id := range revIDs {
		r, ok, err := s.GetRevision(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			revisions = append(revisions, r)
		}
	}
	return revisions, nil
}

// GetHistory returns the complete revision history of a page
func (s *Store) GetHistory(ctx context.Context, pageID int64) (*History, error) {
	revisions, err := s.ListRevisions(ctx, pageID, 0) // 0 = no limit
	if err != nil {
		return nil, err
	}
	return &History{PageID: pageID, Revisions: revisions}, nil
}

func parseRevisionVals(vals []storage.Value) (*Revision, error) {
	if len(vals) < 4 {
		return nil, fmt.Errorf("incomplete revision data")
	}
	return &Revision{
		RevisionID: vals[0].I64,
		PageID:     vals[1].I64,
		Timestamp:  vals[2].Time,
		ParentID:   vals[3].I64,
	}, nil
}
