// ABOUTME: Hook bus connecting host extension points to the time machine
// ABOUTME: Each event type maps to one interception, filter or recording step

package hooks

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nainya/timemachine/pkg/listing"
	"github.com/nainya/timemachine/pkg/page"
	"github.com/nainya/timemachine/pkg/target"
	"github.com/nainya/timemachine/pkg/view"
)

// RenameObserver is told about every recorded rename
type RenameObserver interface {
	RenameRecorded()
}

// Bus dispatches host events. It is safe for concurrent use; per-request
// data travels in the context (target.WithTarget, view.WithState).
type Bus struct {
	interceptor *view.Interceptor
	filter      *listing.Filter
	renames     page.RenameLog
	directory   page.Directory
	log         zerolog.Logger
	observer    RenameObserver
}

// Config wires a Bus
type Config struct {
	Interceptor *view.Interceptor
	Filter      *listing.Filter
	Renames     page.RenameLog
	Directory   page.Directory
	Logger      zerolog.Logger
	Observer    RenameObserver
}

// NewBus creates a bus from cfg
func NewBus(cfg Config) *Bus {
	return &Bus{
		interceptor: cfg.Interceptor,
		filter:      cfg.Filter,
		renames:     cfg.Renames,
		directory:   cfg.Directory,
		log:         cfg.Logger,
		observer:    cfg.Observer,
	}
}

// Dispatch handles ev and fills its reply fields
func (b *Bus) Dispatch(ctx context.Context, ev Event) error {
	var err error
	switch e := ev.(type) {
	case *BeforeInitialize:
		err = b.beforeInitialize(ctx, e)
	case *ArticleFromTitle:
		err = b.articleFromTitle(ctx, e)
	case *MaybeRedirect:
		b.maybeRedirect(ctx, e)
	case *TemplateFetch:
		e.RevisionID, e.Pinned, err = b.interceptor.TemplateRevision(ctx, e.Template)
	case *PageMoveComplete:
		err = b.pageMoveComplete(ctx, e)
	case *SearchResults:
		b.searchResults(ctx, e)
	case *SearchHit:
		if travelling(ctx) {
			e.Hit = listing.ScrubHit(e.Hit)
		}
	case *SearchHitTitle:
		if tgt, ok := target.FromContext(ctx); ok {
			e.Title, err = b.filter.HitTitle(ctx, e.Title, tgt.Instant())
		}
	case *SearchSuggest:
		if tgt, ok := target.FromContext(ctx); ok {
			e.Titles, err = b.filter.FilterSuggestions(ctx, e.Titles, tgt.Instant())
		}
	case *PermissionCheck:
		e.Allowed, e.Reason = view.CanPerform(ctx, e.Action)
	case *CategoryView:
		if travelling(ctx) {
			e.Notice = listing.CategoryNotice
		}
	case *PageQuery:
		if tgt, ok := target.FromContext(ctx); ok {
			e.Candidates, err = b.filter.FilterPages(ctx, e.Query, e.Candidates, tgt.Instant())
		}
	default:
		return fmt.Errorf("unknown event %T", ev)
	}
	if err != nil {
		b.log.Error().Err(err).Str("event", ev.EventName()).Msg("hook failed")
		return fmt.Errorf("%s: %w", ev.EventName(), err)
	}
	return nil
}

func travelling(ctx context.Context) bool {
	_, ok := target.FromContext(ctx)
	return ok
}

func (b *Bus) decision(ctx context.Context, req view.Request) (view.Decision, error) {
	if st := view.StateFrom(ctx); st != nil {
		// the host may ask again with either the requested title or the
		// one BeforeInitialize substituted for it
		if d, ok := st.Decision(); ok && (d.Original.SameTitle(req.Identity) ||
			(d.ServedByMove && d.Identity.SameTitle(req.Identity))) {
			return d, nil
		}
	}
	return b.interceptor.Decide(ctx, req)
}

func (b *Bus) beforeInitialize(ctx context.Context, e *BeforeInitialize) error {
	d, err := b.decision(ctx, e.Request)
	if err != nil {
		return err
	}
	e.Title = d.Identity
	e.ServedByMove = d.ServedByMove
	return nil
}

func (b *Bus) articleFromTitle(ctx context.Context, e *ArticleFromTitle) error {
	d, err := b.decision(ctx, e.Request)
	if err != nil {
		return err
	}
	e.Decision = d
	if banner, ok := b.interceptor.Banner(d); ok {
		e.Banner = &banner
	}
	if ph, ok := view.MissingPage(d); ok {
		e.Placeholder = &ph
	}
	return nil
}

func (b *Bus) maybeRedirect(ctx context.Context, e *MaybeRedirect) {
	st := view.StateFrom(ctx)
	if st == nil {
		return
	}
	if d, ok := st.Decision(); ok && d.IgnoreRedirect {
		e.IgnoreRedirect = true
	}
}

func (b *Bus) pageMoveComplete(ctx context.Context, e *PageMoveComplete) error {
	ev := page.RenameEvent{
		PageID:    e.PageID,
		Old:       e.Old.WithPageID(e.PageID),
		New:       e.New.WithPageID(e.PageID),
		Timestamp: e.Timestamp,
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	// Move is idempotent and Append is not, so a failed move leaves nothing
	// behind for a retry to duplicate
	if b.directory != nil {
		if err := b.directory.Move(ctx, e.PageID, ev.New); err != nil {
			return err
		}
	}
	if err := b.renames.Append(ctx, ev); err != nil {
		return err
	}
	if b.observer != nil {
		b.observer.RenameRecorded()
	}
	b.log.Info().
		Int64("page_id", e.PageID).
		Str("old", e.Old.String()).
		Str("new", e.New.String()).
		Time("timestamp", e.Timestamp).
		Msg("rename recorded")
	return nil
}

func (b *Bus) searchResults(ctx context.Context, e *SearchResults) {
	tgt, ok := target.FromContext(ctx)
	if !ok {
		return
	}
	e.Notice = listing.SearchNotice
	if e.TitleMatches != nil {
		e.FilteredTitles = b.filter.Wrap(e.TitleMatches, tgt.Instant(), "search_title")
	}
	if e.TextMatches != nil {
		e.FilteredText = b.filter.Wrap(e.TextMatches, tgt.Instant(), "search_text")
	}
}
