package page

import (
	"context"
	"time"
)

// RenameMatch selects which side of a rename event a lookup matches on
type RenameMatch int

const (
	// MatchOld matches events whose old namespace and name equal the identity
	MatchOld RenameMatch = iota
	// MatchNew matches events whose new namespace and name equal the identity
	MatchNew
	// MatchPage matches events of the identity's page id
	MatchPage
)

func (m RenameMatch) String() string {
	switch m {
	case MatchOld:
		return "old"
	case MatchNew:
		return "new"
	case MatchPage:
		return "page"
	}
	return "unknown"
}

// RevisionStore answers point-in-time revision queries
type RevisionStore interface {
	// MostRecentBefore returns the revision of pageID with the greatest
	// timestamp strictly before the given instant. Among revisions sharing
	// that timestamp the highest revision id wins.
	MostRecentBefore(ctx context.Context, pageID int64, before time.Time) (RevisionRef, bool, error)
}

// RenameLog is the append-only page move history
type RenameLog interface {
	Append(ctx context.Context, ev RenameEvent) error
	// EarliestAfter returns the earliest event matching id on the given side
	// with a timestamp strictly after the given instant.
	EarliestAfter(ctx context.Context, match RenameMatch, id Identity, after time.Time) (RenameEvent, bool, error)
}

// Directory maps page ids to their current identity and back
type Directory interface {
	ByID(ctx context.Context, pageID int64) (Identity, bool, error)
	ByTitle(ctx context.Context, namespace int, name string) (Identity, bool, error)
	// Move points pageID at a new current identity
	Move(ctx context.Context, pageID int64, to Identity) error
}
