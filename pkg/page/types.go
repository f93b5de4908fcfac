// ABOUTME: Page identity, revision and rename data model
// ABOUTME: Shared by the stores, the resolver and the request-facing layers

package page

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Well-known namespaces the interception layer treats specially
const (
	NamespaceMain     = 0
	NamespaceFile     = 6
	NamespaceTemplate = 10
	NamespaceCategory = 14
)

// ErrStoreUnavailable marks a failure of the revision store, rename log or
// page directory. It is never used for "not found".
var ErrStoreUnavailable = errors.New("store unavailable")

// Unavailable wraps err so that errors.Is(err, ErrStoreUnavailable) holds
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// Identity names a page. PageID is zero when unknown; Namespace and Name are
// the lookup key in that case.
type Identity struct {
	Namespace int
	Name      string
	PageID    int64
}

// NewIdentity builds an identity with an unknown page id
func NewIdentity(namespace int, name string) Identity {
	return Identity{Namespace: namespace, Name: NormalizeName(name)}
}

// WithPageID returns a copy of the identity carrying pageID
func (id Identity) WithPageID(pageID int64) Identity {
	id.PageID = pageID
	return id
}

// SameTitle compares namespace and name, ignoring the page id
func (id Identity) SameTitle(other Identity) bool {
	return id.Namespace == other.Namespace && id.Name == other.Name
}

// HasPageID reports whether the stable page key is known
func (id Identity) HasPageID() bool {
	return id.PageID > 0
}

func (id Identity) String() string {
	if id.Namespace == NamespaceMain {
		return id.Name
	}
	return fmt.Sprintf("%d:%s", id.Namespace, id.Name)
}

// NormalizeName converts a display title into its storage key form
// (spaces become underscores, surrounding whitespace is dropped).
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
}

// DisplayName converts a storage key back into a display title
func DisplayName(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

// RevisionRef points at one stored revision
type RevisionRef struct {
	PageID     int64
	RevisionID int64
	Timestamp  time.Time
}

// RenameEvent records one page move. Events for a page form a chain where
// each Old equals the previous New.
type RenameEvent struct {
	PageID    int64
	Old       Identity
	New       Identity
	Timestamp time.Time
}

// Validate checks the fields every store requires
func (ev RenameEvent) Validate() error {
	if ev.PageID <= 0 {
		return fmt.Errorf("rename event: page id is required")
	}
	if ev.Old.Name == "" || ev.New.Name == "" {
		return fmt.Errorf("rename event: old and new names are required")
	}
	if ev.Timestamp.IsZero() {
		return fmt.Errorf("rename event: timestamp is required")
	}
	return nil
}
