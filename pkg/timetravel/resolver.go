// ABOUTME: Temporal resolver answering "as of" questions about pages
// ABOUTME: Revision, identity and rename-existence queries behind a read-through cache

package timetravel

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nainya/timemachine/pkg/cache"
	"github.com/nainya/timemachine/pkg/page"
)

// Query kinds, used in cache keys, metrics and spans
const (
	KindRevisionAt        = "revision_at"
	KindMoveSourceAfter   = "move_source_after"
	KindWasMovedHereAfter = "was_moved_here_after"
	KindIdentityAt        = "identity_at"
)

const tracerName = "github.com/nainya/timemachine/pkg/timetravel"

// Observer receives one call per resolver query
type Observer interface {
	ObserveResolution(kind, outcome string, duration time.Duration)
}

// Resolver answers temporal queries against a revision store and rename
// log. It is safe for concurrent use and holds no per-request state.
type Resolver struct {
	revisions page.RevisionStore
	renames   page.RenameLog
	directory page.Directory

	cache    *cache.Cache
	log      zerolog.Logger
	observer Observer
	tracer   trace.Tracer
}

// Option configures a Resolver
type Option func(*Resolver)

// WithCache sets the result cache. Without one every query hits the stores.
func WithCache(c *cache.Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithLogger sets the resolver logger
func WithLogger(log zerolog.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// WithObserver sets the metrics observer
func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.observer = o }
}

// WithTracerProvider overrides the global tracer provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Resolver) { r.tracer = tp.Tracer(tracerName) }
}

// New creates a resolver. directory may be nil when callers always supply
// page ids.
func New(revisions page.RevisionStore, renames page.RenameLog, directory page.Directory, opts ...Option) *Resolver {
	r := &Resolver{
		revisions: revisions,
		renames:   renames,
		directory: directory,
		log:       zerolog.Nop(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = cache.New(nil)
	}
	return r
}

// Directory returns the page directory the resolver looks ids up in
func (r *Resolver) Directory() page.Directory {
	return r.directory
}

// RevisionAt returns the most recent revision of the page with a timestamp
// strictly before target. Same-second revisions resolve to the highest id.
func (r *Resolver) RevisionAt(ctx context.Context, id page.Identity, target time.Time) (int64, bool, error) {
	e, err := r.query(ctx, KindRevisionAt, id, target, func(ctx context.Context) (cache.Entry, error) {
		pid, ok, err := r.pageID(ctx, id)
		if err != nil || !ok {
			return cache.Entry{}, err
		}
		ref, ok, err := r.revisions.MostRecentBefore(ctx, pid, target)
		if err != nil || !ok {
			return cache.Entry{}, err
		}
		return cache.Entry{Found: true, Value: ref.RevisionID}, nil
	})
	return e.Value, e.Found, err
}

// MoveSourceAfter finds the page that held id's title at target and was
// renamed away from it afterwards. The candidate qualifies only if its first
// rename after target left exactly this title.
func (r *Resolver) MoveSourceAfter(ctx context.Context, id page.Identity, target time.Time) (int64, bool, error) {
	e, err := r.query(ctx, KindMoveSourceAfter, id, target, func(ctx context.Context) (cache.Entry, error) {
		ev, ok, err := r.renames.EarliestAfter(ctx, page.MatchOld, id, target)
		if err != nil || !ok {
			return cache.Entry{}, err
		}

		first, ok, err := r.renames.EarliestAfter(ctx, page.MatchPage, page.Identity{PageID: ev.PageID}, target)
		if err != nil {
			return cache.Entry{}, err
		}
		if ok && !first.Old.SameTitle(id) {
			r.log.Debug().
				Str("title", id.String()).
				Int64("candidate", ev.PageID).
				Str("held", first.Old.String()).
				Msg("move source held another title at target")
			return cache.Entry{}, nil
		}
		return cache.Entry{Found: true, Value: ev.PageID}, nil
	})
	return e.Value, e.Found, err
}

// WasMovedHereAfter reports whether some page was renamed to id's title
// after target
func (r *Resolver) WasMovedHereAfter(ctx context.Context, id page.Identity, target time.Time) (bool, error) {
	e, err := r.query(ctx, KindWasMovedHereAfter, id, target, func(ctx context.Context) (cache.Entry, error) {
		_, ok, err := r.renames.EarliestAfter(ctx, page.MatchNew, id, target)
		return cache.Entry{Found: ok}, err
	})
	return e.Found, err
}

// IdentityAt returns the title id's page held at target if it has been
// renamed since. No result means the current title already held at target
// or the page is unknown.
func (r *Resolver) IdentityAt(ctx context.Context, id page.Identity, target time.Time) (page.Identity, bool, error) {
	e, err := r.query(ctx, KindIdentityAt, id, target, func(ctx context.Context) (cache.Entry, error) {
		pid, ok, err := r.pageID(ctx, id)
		if err != nil || !ok {
			return cache.Entry{}, err
		}
		ev, ok, err := r.renames.EarliestAfter(ctx, page.MatchPage, page.Identity{PageID: pid}, target)
		if err != nil || !ok {
			return cache.Entry{}, err
		}
		return cache.Entry{Found: true, Identity: ev.Old.WithPageID(pid)}, nil
	})
	return e.Identity, e.Found, err
}

// pageID returns id's page id, consulting the directory when unknown
func (r *Resolver) pageID(ctx context.Context, id page.Identity) (int64, bool, error) {
	if id.HasPageID() {
		return id.PageID, true, nil
	}
	if r.directory == nil {
		return 0, false, nil
	}
	cur, ok, err := r.directory.ByTitle(ctx, id.Namespace, id.Name)
	if err != nil || !ok {
		return 0, false, err
	}
	return cur.PageID, true, nil
}

func (r *Resolver) query(ctx context.Context, kind string, id page.Identity, target time.Time, compute func(context.Context) (cache.Entry, error)) (cache.Entry, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "timetravel."+kind, trace.WithAttributes(
		attribute.Int("page.namespace", id.Namespace),
		attribute.String("page.name", id.Name),
		attribute.Int64("page.id", id.PageID),
		attribute.String("target", target.UTC().Format(time.RFC3339)),
	))
	defer span.End()

	key := cache.Key{Kind: kind, Identity: id, Target: target}
	e, err := r.cache.GetOrCompute(ctx, key, compute)

	outcome := "none"
	switch {
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Error().Err(err).Str("kind", kind).Str("title", id.String()).Time("target", target).Msg("resolution failed")
	case e.Found:
		outcome = "found"
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	if r.observer != nil {
		r.observer.ObserveResolution(kind, outcome, time.Since(start))
	}
	return e, err
}
