// Web front end: the Special:TimeMachine form and a demo article view
package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nainya/timemachine/pkg/hooks"
	"github.com/nainya/timemachine/pkg/page"
	"github.com/nainya/timemachine/pkg/presets"
	"github.com/nainya/timemachine/pkg/target"
	"github.com/nainya/timemachine/pkg/view"
)

// SpecialPagePath is the path of the date selection form
const SpecialPagePath = "/Special:TimeMachine"

// Response headers describing how an article view was intercepted
const (
	HeaderState    = "X-TimeMachine-State"
	HeaderRevision = "X-TimeMachine-Revision"
	HeaderRedirect = "X-TimeMachine-Redirect"
)

var namespacePrefixes = map[string]int{
	"File":     page.NamespaceFile,
	"Template": page.NamespaceTemplate,
	"Category": page.NamespaceCategory,
}

// Web serves the date selection form and renders articles through the hook
// bus the way a wiki host would
type Web struct {
	app *App
	now func() time.Time
}

// NewWeb creates the web front end for app
func NewWeb(app *App) *Web {
	return &Web{app: app, now: time.Now}
}

// Handler returns the routed and instrumented web handler
func (w *Web) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+SpecialPagePath, w.specialPage)
	mux.HandleFunc("POST "+SpecialPagePath, w.setDate)
	mux.HandleFunc("GET /wiki/{title...}", w.article)

	now := func() time.Time { return w.now() }
	return w.instrument(target.Middleware(now)(withRequestState(mux)))
}

// NewWebServer wraps the web handler in an http.Server listening on addr
func NewWebServer(addr string, w *Web) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func withRequestState(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ctx, _ := view.WithState(r.Context())
		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (w *Web) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: rw, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		_, travelling := target.FromRequest(r, w.now())
		w.app.Metrics.RecordHTTPRequest(routeLabel(r.URL.Path), rec.status, travelling, duration)
		w.app.Log.LogHTTPRequest(r.Method, r.URL.Path, rec.status, duration, travelling)
	})
}

func routeLabel(path string) string {
	switch {
	case path == SpecialPagePath:
		return "special"
	case strings.HasPrefix(path, "/wiki/"):
		return "article"
	}
	return "other"
}

// ========== Special:TimeMachine ==========

type specialData struct {
	Current  string
	Notice   string
	Presets  []presets.Preset
	Warnings []presets.Warning
	Redirect string
}

func (w *Web) specialData(r *http.Request) specialData {
	data := specialData{
		Presets:  w.app.Presets,
		Warnings: w.app.PresetWarnings,
	}
	if c, err := r.Cookie(target.CookieName); err == nil {
		if day, ok := target.ParseDate(c.Value); ok {
			data.Current = day.Format(target.DateLayout)
		}
	}
	return data
}

func (w *Web) specialPage(rw http.ResponseWriter, r *http.Request) {
	data := w.specialData(r)
	if redirect := r.URL.Query().Get("redirect"); isLocalRedirect(redirect) {
		data.Redirect = redirect
	}
	w.render(rw, http.StatusOK, "special", data)
}

func (w *Web) setDate(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(rw, "malformed form", http.StatusBadRequest)
		return
	}
	data := w.specialData(r)

	// a quick-pick choice overrides the prefilled date field
	value := strings.TrimSpace(r.PostForm.Get("preset"))
	if value == "" {
		value = strings.TrimSpace(r.PostForm.Get("date"))
	}
	redirect := r.PostForm.Get("redirect")

	code := http.StatusOK
	switch day, ok := target.ParseDate(value); {
	case value == "":
		target.ClearCookie(rw, r)
		data.Current = ""
		data.Notice = "Time travel is off. You are viewing the wiki as it is today."
	case ok:
		target.SetCookie(rw, r, day)
		data.Current = day.Format(target.DateLayout)
		data.Notice = fmt.Sprintf("You are now viewing the wiki as it was on %s.", data.Current)
	default:
		target.ClearCookie(rw, r)
		data.Current = ""
		data.Notice = fmt.Sprintf("%q is not a date in YYYY-MM-DD form. Time travel is off.", value)
		code = http.StatusBadRequest
		redirect = ""
	}

	log := w.app.Log.HTTPLogger()
	log.Info().
		Str("date", data.Current).
		Bool("valid", code == http.StatusOK).
		Msg("time travel preference changed")

	if isLocalRedirect(redirect) {
		http.Redirect(rw, r, redirect, http.StatusSeeOther)
		return
	}
	w.render(rw, code, "special", data)
}

// isLocalRedirect accepts absolute paths on this host only
func isLocalRedirect(s string) bool {
	if !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") || strings.HasPrefix(s, `/\`) {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.Scheme == "" && u.Host == ""
}

// ========== Articles ==========

type articleData struct {
	Title        string
	Display      string
	RevisionID   int64
	ServedByMove bool
	Banner       *view.Banner
	Placeholder  *view.Placeholder
	Refused      string
}

func parseTitle(raw string) page.Identity {
	if prefix, name, found := strings.Cut(raw, ":"); found {
		if ns, ok := namespacePrefixes[prefix]; ok {
			return page.NewIdentity(ns, name)
		}
	}
	return page.NewIdentity(page.NamespaceMain, raw)
}

func displayTitle(id page.Identity) string {
	name := page.DisplayName(id.Name)
	for prefix, ns := range namespacePrefixes {
		if ns == id.Namespace {
			return prefix + ":" + name
		}
	}
	return name
}

func (w *Web) article(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := parseTitle(r.PathValue("title"))
	if id.Name == "" {
		http.NotFound(rw, r)
		return
	}
	query := r.URL.Query()
	oldID, _ := strconv.ParseInt(query.Get("oldid"), 10, 64)

	ev := &hooks.ArticleFromTitle{Request: view.Request{Identity: id, OldID: oldID}}
	if err := w.app.Bus.Dispatch(ctx, ev); err != nil {
		w.fail(rw, err)
		return
	}
	d := ev.Decision

	redirect := &hooks.MaybeRedirect{Title: d.Identity}
	if err := w.app.Bus.Dispatch(ctx, redirect); err != nil {
		w.fail(rw, err)
		return
	}

	data := articleData{
		Title:        displayTitle(d.Original),
		Display:      displayTitle(d.Identity),
		RevisionID:   d.RevisionID,
		ServedByMove: d.ServedByMove,
		Banner:       ev.Banner,
		Placeholder:  ev.Placeholder,
	}
	code := http.StatusOK
	if ev.Placeholder != nil {
		code = ev.Placeholder.Status
	}
	rw.Header().Set(HeaderState, d.State.String())
	if d.RevisionID > 0 {
		rw.Header().Set(HeaderRevision, strconv.FormatInt(d.RevisionID, 10))
	}
	if redirect.IgnoreRedirect {
		rw.Header().Set(HeaderRedirect, "suppressed")
	}

	if action := query.Get("action"); action != "" && action != "view" {
		perm := &hooks.PermissionCheck{Action: action}
		if err := w.app.Bus.Dispatch(ctx, perm); err != nil {
			w.fail(rw, err)
			return
		}
		if !perm.Allowed {
			data.Refused = perm.Reason
			code = http.StatusForbidden
		}
	}

	w.render(rw, code, "article", data)
}

func (w *Web) fail(rw http.ResponseWriter, err error) {
	log := w.app.Log.HTTPLogger()
	log.Error().
		Err(err).
		Bool("store_unavailable", errors.Is(err, page.ErrStoreUnavailable)).
		Msg("request failed")
	http.Error(rw, "the time machine is unavailable", http.StatusInternalServerError)
}

func (w *Web) render(rw http.ResponseWriter, code int, name string, data any) {
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.WriteHeader(code)
	if err := pageTemplates.ExecuteTemplate(rw, name, data); err != nil {
		log := w.app.Log.HTTPLogger()
		log.Error().Err(err).Str("template", name).Msg("render failed")
	}
}
