// ABOUTME: Revision history data model
// ABOUTME: Point-in-time revision lookup per page

package revision

import (
	"time"

	"github.com/nainya/timemachine/pkg/page"
)

// Revision is one stored edit of a page
type Revision struct {
	RevisionID int64
	PageID     int64
	Timestamp  time.Time
	ParentID   int64 // 0 for the page's first revision
}

// Ref converts the revision into the shared reference type
func (r *Revision) Ref() page.RevisionRef {
	return page.RevisionRef{PageID: r.PageID, RevisionID: r.RevisionID, Timestamp: r.Timestamp}
}

// History is the timeline of revisions of one page, oldest first
type History struct {
	PageID    int64
	Revisions []*Revision
}
