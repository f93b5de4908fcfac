// ABOUTME: Page view interception for time travelling requests
// ABOUTME: Decides between pass-through, a resolved old revision and a missing page

package view

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/nainya/timemachine/pkg/page"
	"github.com/nainya/timemachine/pkg/target"
)

// State is the terminal outcome of interception
type State int

const (
	// PassThrough renders the page normally
	PassThrough State = iota
	// Resolved renders a historical revision
	Resolved
	// Missing renders a 404 placeholder
	Missing
)

func (s State) String() string {
	switch s {
	case PassThrough:
		return "pass_through"
	case Resolved:
		return "resolved"
	case Missing:
		return "missing"
	}
	return "unknown"
}

// Resolver is the subset of the temporal resolver interception needs
type Resolver interface {
	RevisionAt(ctx context.Context, id page.Identity, target time.Time) (int64, bool, error)
	MoveSourceAfter(ctx context.Context, id page.Identity, target time.Time) (int64, bool, error)
	WasMovedHereAfter(ctx context.Context, id page.Identity, target time.Time) (bool, error)
}

// Observer receives every decision, typically for metrics
type Observer interface {
	ViewDecided(state string, servedByMove bool)
}

// Request describes one page view
type Request struct {
	Identity page.Identity
	// OldID is an explicitly requested revision; it always wins
	OldID int64
}

// Decision is the outcome for one page view
type Decision struct {
	State      State
	RevisionID int64

	// Identity is the page to render, Original the one requested. They
	// differ only when ServedByMove is set.
	Identity     page.Identity
	Original     page.Identity
	ServedByMove bool

	// IgnoreRedirect stops a page that did not exist yet from redirecting
	IgnoreRedirect bool

	Target     target.Target
	Travelling bool
}

// Interceptor applies time travel to page views
type Interceptor struct {
	resolver  Resolver
	directory page.Directory
	log       zerolog.Logger
	observer  Observer
	links     LinkBuilder
}

// LinkBuilder renders the URL of a page
type LinkBuilder func(id page.Identity) string

// DefaultLinks links to /wiki/<title>
func DefaultLinks(id page.Identity) string {
	return "/wiki/" + url.PathEscape(id.String())
}

// Option configures an Interceptor
type Option func(*Interceptor)

// WithLogger sets the interception logger
func WithLogger(log zerolog.Logger) Option {
	return func(i *Interceptor) { i.log = log }
}

// WithObserver sets the metrics observer
func WithObserver(o Observer) Option {
	return func(i *Interceptor) { i.observer = o }
}

// WithLinks overrides DefaultLinks
func WithLinks(lb LinkBuilder) Option {
	return func(i *Interceptor) { i.links = lb }
}

// NewInterceptor creates an interceptor. directory turns a move source page
// id into the identity to render.
func NewInterceptor(resolver Resolver, directory page.Directory, opts ...Option) *Interceptor {
	i := &Interceptor{
		resolver:  resolver,
		directory: directory,
		log:       zerolog.Nop(),
		links:     DefaultLinks,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Decide runs the interception state machine for req using the target in
// ctx. The outcome is also recorded in the request state, if any.
func (i *Interceptor) Decide(ctx context.Context, req Request) (Decision, error) {
	d, err := i.decide(ctx, req)
	if err != nil {
		return Decision{}, err
	}
	if st := StateFrom(ctx); st != nil {
		st.record(d)
	}
	if i.observer != nil {
		i.observer.ViewDecided(d.State.String(), d.ServedByMove)
	}
	i.log.Debug().
		Str("title", req.Identity.String()).
		Str("state", d.State.String()).
		Int64("revision", d.RevisionID).
		Bool("served_by_move", d.ServedByMove).
		Msg("view decided")
	return d, nil
}

func (i *Interceptor) decide(ctx context.Context, req Request) (Decision, error) {
	d := Decision{State: PassThrough, Identity: req.Identity, Original: req.Identity}

	tgt, ok := target.FromContext(ctx)
	if !ok {
		return d, nil
	}
	d.Target = tgt
	d.Travelling = true

	if req.OldID > 0 {
		d.RevisionID = req.OldID
		return d, nil
	}

	at := tgt.Instant()

	source, ok, err := i.resolver.MoveSourceAfter(ctx, req.Identity, at)
	if err != nil {
		return Decision{}, fmt.Errorf("move source of %s: %w", req.Identity, err)
	}
	if ok && i.directory != nil {
		held, found, err := i.directory.ByID(ctx, source)
		if err != nil {
			return Decision{}, fmt.Errorf("page %d: %w", source, err)
		}
		if found {
			d.Identity = held
			d.ServedByMove = true
		}
	}

	// the host renders files and categories itself
	switch d.Identity.Namespace {
	case page.NamespaceFile, page.NamespaceCategory:
		return d, nil
	}

	rev, found, err := i.resolver.RevisionAt(ctx, d.Identity, at)
	if err != nil {
		return Decision{}, fmt.Errorf("revision of %s: %w", d.Identity, err)
	}

	if !d.ServedByMove {
		moved, err := i.resolver.WasMovedHereAfter(ctx, req.Identity, at)
		if err != nil {
			return Decision{}, fmt.Errorf("moves to %s: %w", req.Identity, err)
		}
		if moved {
			found = false
		}
	}

	if !found {
		d.State = Missing
		d.IgnoreRedirect = true
		return d, nil
	}
	d.State = Resolved
	d.RevisionID = rev
	return d, nil
}

// TemplateRevision resolves a template transcluded while rendering a
// time travelled page to its revision at the same target
func (i *Interceptor) TemplateRevision(ctx context.Context, tmpl page.Identity) (int64, bool, error) {
	tgt, ok := target.FromContext(ctx)
	if !ok {
		return 0, false, nil
	}
	if st := StateFrom(ctx); st != nil {
		if d, decided := st.Decision(); decided && d.State != Resolved {
			return 0, false, nil
		}
	}
	return i.resolver.RevisionAt(ctx, tmpl, tgt.Instant())
}

// ReasonNoEditing is the refusal reason for edits while time travelling
const ReasonNoEditing = "timemachine-no-editing"

// CanPerform reports whether action is allowed. Edits are refused while
// time travelling.
func CanPerform(ctx context.Context, action string) (bool, string) {
	if _, ok := target.FromContext(ctx); !ok {
		return true, ""
	}
	if action == "edit" {
		return false, ReasonNoEditing
	}
	return true, ""
}

// Banner is the notice shown above a resolved revision
type Banner struct {
	Date      string
	Link      string
	Temporary bool
	Text      string
}

// Banner builds the notice for a Resolved decision. The link points back to
// the title that was asked for, at the same date.
func (i *Interceptor) Banner(d Decision) (Banner, bool) {
	if d.State != Resolved {
		return Banner{}, false
	}
	date := d.Target.String()
	link := i.links(d.Original) + "?" + url.Values{target.ParamName: {date}}.Encode()

	text := fmt.Sprintf("You are viewing this page as it was on %s. Editing is disabled while time travelling.", date)
	if d.Target.Temporary() {
		text = fmt.Sprintf("You are temporarily viewing this page as it was on %s. Other pages are shown as they are today.", date)
	}
	return Banner{Date: date, Link: link, Temporary: d.Target.Temporary(), Text: text}, true
}

// Placeholder is the page rendered instead of content for a Missing decision
type Placeholder struct {
	Status int
	Notice string
}

// MissingPage builds the placeholder for a Missing decision
func MissingPage(d Decision) (Placeholder, bool) {
	if d.State != Missing {
		return Placeholder{}, false
	}
	return Placeholder{
		Status: http.StatusNotFound,
		Notice: fmt.Sprintf("This page did not exist yet on %s.", d.Target.String()),
	}, true
}
