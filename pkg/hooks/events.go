package hooks

import (
	"time"

	"github.com/nainya/timemachine/pkg/listing"
	"github.com/nainya/timemachine/pkg/page"
	"github.com/nainya/timemachine/pkg/view"
)

// Event is one host extension point. Events are dispatched by pointer and
// carry their reply fields.
type Event interface {
	EventName() string
}

// BeforeInitialize runs before the host picks the page to render. Title is
// replaced by the page that held the requested title at the target.
type BeforeInitialize struct {
	Request view.Request

	Title        page.Identity
	ServedByMove bool
}

// ArticleFromTitle asks which revision of a page to render. Request may
// carry the title BeforeInitialize returned; the earlier decision is reused.
type ArticleFromTitle struct {
	Request view.Request

	Decision    view.Decision
	Banner      *view.Banner
	Placeholder *view.Placeholder
}

// MaybeRedirect asks whether a redirect page may redirect
type MaybeRedirect struct {
	Title page.Identity

	IgnoreRedirect bool
}

// TemplateFetch asks which revision of a transcluded template to use
type TemplateFetch struct {
	Template page.Identity

	RevisionID int64
	Pinned     bool
}

// PageMoveComplete reports a completed rename
type PageMoveComplete struct {
	PageID    int64
	Old       page.Identity
	New       page.Identity
	Timestamp time.Time
}

// SearchResults offers the raw search result sets for filtering
type SearchResults struct {
	TitleMatches listing.ResultSet
	TextMatches  listing.ResultSet

	FilteredTitles *listing.FilteredResultSet
	FilteredText   *listing.FilteredResultSet
	Notice         string
}

// SearchHit offers one rendered hit for scrubbing
type SearchHit struct {
	Hit listing.Hit
}

// SearchHitTitle asks which title to show for a hit
type SearchHitTitle struct {
	Title page.Identity
}

// SearchSuggest offers title suggestions for filtering
type SearchSuggest struct {
	Titles []page.Identity
}

// PermissionCheck asks whether an action is allowed
type PermissionCheck struct {
	Action string

	Allowed bool
	Reason  string
}

// CategoryView reports a category page view
type CategoryView struct {
	Category page.Identity

	Notice string
}

// PageQuery offers special page candidates for filtering
type PageQuery struct {
	Query      listing.PageQuery
	Candidates []page.Identity
}

func (*BeforeInitialize) EventName() string { return "BeforeInitialize" }

func (*ArticleFromTitle) EventName() string { return "ArticleFromTitle" }

func (*MaybeRedirect) EventName() string { return "MaybeRedirect" }

func (*TemplateFetch) EventName() string { return "TemplateFetch" }

func (*PageMoveComplete) EventName() string { return "PageMoveComplete" }

func (*SearchResults) EventName() string { return "SearchResults" }

func (*SearchHit) EventName() string { return "SearchHit" }

func (*SearchHitTitle) EventName() string { return "SearchHitTitle" }

func (*SearchSuggest) EventName() string { return "SearchSuggest" }

func (*PermissionCheck) EventName() string { return "PermissionCheck" }

func (*CategoryView) EventName() string { return "CategoryView" }

func (*PageQuery) EventName() string { return "PageQuery" }
