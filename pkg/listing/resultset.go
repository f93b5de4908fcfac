package listing

import (
	"context"
	"sync"
	"time"

	"github.com/nainya/timemachine/pkg/page"
)

// Hit is one search result
type Hit struct {
	Identity page.Identity
	Snippet  string
	// RedirectTarget is the title the hit redirects to, if any
	RedirectTarget string
	SectionTitle   string
	Score          float64
	Size           int
	Timestamp      time.Time
}

// ScrubHit clears the fields that could reveal later content
func ScrubHit(h Hit) Hit {
	h.Snippet = ""
	h.RedirectTarget = ""
	return h
}

// ResultSet is a host search result collection
type ResultSet interface {
	Results() []Hit
	HasMoreResults() bool
	TotalHits() (int, bool)
	RewrittenQuery() (string, bool)
	Suggestion() (string, bool)
	ContainedSyntax() bool
}

// FilteredResultSet exposes only the hits of a delegate that existed at the
// target. The delegate is never modified and is filtered on first use.
type FilteredResultSet struct {
	filter   *Filter
	delegate ResultSet
	at       time.Time
	source   string

	mu      sync.Mutex
	results []Hit
	loaded  bool
	hasMore bool
}

// Wrap returns a filtered view of rs at the given target
func (f *Filter) Wrap(rs ResultSet, at time.Time, source string) *FilteredResultSet {
	return &FilteredResultSet{
		filter:   f,
		delegate: rs,
		at:       at,
		source:   source,
		hasMore:  rs.HasMoreResults(),
	}
}

func (s *FilteredResultSet) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	raw := s.delegate.Results()
	kept := make([]Hit, 0, len(raw))
	for _, h := range raw {
		ok, err := s.filter.existed(ctx, h.Identity, s.at)
		if err != nil {
			return err
		}
		if ok {
			kept = append(kept, h)
		}
	}
	s.results = kept
	s.loaded = true
	s.filter.counted(s.source, len(kept), len(raw))
	return nil
}

// Results returns the surviving hits
func (s *FilteredResultSet) Results(ctx context.Context) ([]Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	out := make([]Hit, len(s.results))
	copy(out, s.results)
	return out, nil
}

// Titles returns the identities of the surviving hits
func (s *FilteredResultSet) Titles(ctx context.Context) ([]page.Identity, error) {
	hits, err := s.Results(ctx)
	if err != nil {
		return nil, err
	}
	titles := make([]page.Identity, len(hits))
	for i, h := range hits {
		titles[i] = h.Identity
	}
	return titles, nil
}

// Count returns the number of surviving hits
func (s *FilteredResultSet) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return 0, err
	}
	return len(s.results), nil
}

// NumRows is Count
func (s *FilteredResultSet) NumRows(ctx context.Context) (int, error) {
	return s.Count(ctx)
}

// Shrink truncates the surviving hits to limit and marks that more exist
func (s *FilteredResultSet) Shrink(ctx context.Context, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return err
	}
	if limit < 0 {
		limit = 0
	}
	if len(s.results) > limit {
		s.hasMore = true
		s.results = s.results[:limit]
	}
	return nil
}

// HasMoreResults reports whether the host or Shrink cut results off
func (s *FilteredResultSet) HasMoreResults() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// TotalHits is unknown once results are filtered
func (s *FilteredResultSet) TotalHits() (int, bool) {
	return 0, false
}

func (s *FilteredResultSet) RewrittenQuery() (string, bool) {
	return s.delegate.RewrittenQuery()
}

func (s *FilteredResultSet) Suggestion() (string, bool) {
	return s.delegate.Suggestion()
}

func (s *FilteredResultSet) ContainedSyntax() bool {
	return s.delegate.ContainedSyntax()
}

// StaticResults is a ResultSet over a fixed slice
type StaticResults struct {
	Hits      []Hit
	More      bool
	Total     int
	Rewritten string
	Suggested string
	Syntax    bool
}

func (r *StaticResults) Results() []Hit { return r.Hits }

func (r *StaticResults) HasMoreResults() bool { return r.More }

func (r *StaticResults) TotalHits() (int, bool) { return r.Total, true }

func (r *StaticResults) ContainedSyntax() bool { return r.Syntax }

func (r *StaticResults) RewrittenQuery() (string, bool) {
	return r.Rewritten, r.Rewritten != ""
}

func (r *StaticResults) Suggestion() (string, bool) {
	return r.Suggested, r.Suggested != ""
}
