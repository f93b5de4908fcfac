// ABOUTME: Search and listing filters for time travelling requests
// ABOUTME: Hides pages that did not exist yet and strips spoiler-bearing fields

package listing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nainya/timemachine/pkg/page"
)

// Notices shown above listings that cannot be fully filtered
const (
	SearchNotice   = "Search results are limited to pages that existed on the selected date. Titles and previews reflect the present."
	CategoryNotice = "This category lists its pages as they are today. Some of them may not have existed on the selected date."
)

// Resolver is the subset of the temporal resolver listings need
type Resolver interface {
	RevisionAt(ctx context.Context, id page.Identity, target time.Time) (int64, bool, error)
	WasMovedHereAfter(ctx context.Context, id page.Identity, target time.Time) (bool, error)
	IdentityAt(ctx context.Context, id page.Identity, target time.Time) (page.Identity, bool, error)
}

// Observer receives per-listing filter counts
type Observer interface {
	ItemsFiltered(source string, kept, dropped int)
}

// Filter applies existence-at-target filtering to listings
type Filter struct {
	resolver Resolver
	log      zerolog.Logger
	observer Observer
}

// Option configures a Filter
type Option func(*Filter)

// WithLogger sets the filter logger
func WithLogger(log zerolog.Logger) Option {
	return func(f *Filter) { f.log = log }
}

// WithObserver sets the metrics observer
func WithObserver(o Observer) Option {
	return func(f *Filter) { f.observer = o }
}

// NewFilter creates a listing filter
func NewFilter(resolver Resolver, opts ...Option) *Filter {
	f := &Filter{resolver: resolver, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Filter) counted(source string, kept, total int) {
	if f.observer != nil {
		f.observer.ItemsFiltered(source, kept, total-kept)
	}
	f.log.Debug().Str("source", source).Int("kept", kept).Int("dropped", total-kept).Msg("listing filtered")
}

func (f *Filter) existed(ctx context.Context, id page.Identity, at time.Time) (bool, error) {
	_, ok, err := f.resolver.RevisionAt(ctx, id, at)
	if err != nil {
		return false, fmt.Errorf("revision of %s: %w", id, err)
	}
	return ok, nil
}

// HitTitle returns the title to display for a hit: the one the page held at
// the target if it has been renamed since, id otherwise
func (f *Filter) HitTitle(ctx context.Context, id page.Identity, at time.Time) (page.Identity, error) {
	old, ok, err := f.resolver.IdentityAt(ctx, id, at)
	if err != nil {
		return page.Identity{}, fmt.Errorf("identity of %s: %w", id, err)
	}
	if !ok || old.SameTitle(id) {
		return id, nil
	}
	return old, nil
}

// FilterSuggestions keeps the title suggestions that existed under that
// title at the target
func (f *Filter) FilterSuggestions(ctx context.Context, titles []page.Identity, at time.Time) ([]page.Identity, error) {
	out := make([]page.Identity, 0, len(titles))
	for _, id := range titles {
		ok, err := f.existed(ctx, id, at)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		moved, err := f.resolver.WasMovedHereAfter(ctx, id, at)
		if err != nil {
			return nil, fmt.Errorf("moves to %s: %w", id, err)
		}
		if !moved {
			out = append(out, id)
		}
	}
	f.counted("suggest", len(out), len(titles))
	return out, nil
}

// PageQuery names the special page listings FilterPages serves
type PageQuery string

const (
	QueryRandom  PageQuery = "random"
	QueryAncient PageQuery = "ancient"
	QueryLonely  PageQuery = "lonely"
)

// FilterPages restricts special page candidates to pages that existed at
// the target
func (f *Filter) FilterPages(ctx context.Context, query PageQuery, candidates []page.Identity, at time.Time) ([]page.Identity, error) {
	out := make([]page.Identity, 0, len(candidates))
	for _, id := range candidates {
		ok, err := f.existed(ctx, id, at)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, id)
		}
	}
	f.counted(string(query), len(out), len(candidates))
	return out, nil
}
