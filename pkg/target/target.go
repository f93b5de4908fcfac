// Package target extracts the visitor's time travel date from a request and
// carries it through the request context.
package target

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const (
	// CookieName persists the chosen date between requests.
	CookieName = "timemachine-date"
	// ParamName selects a date for a single navigation.
	ParamName = "timemachine-date"
	// ResetValue disables time travel wherever a date is accepted.
	ResetValue = "reset"
	// DateLayout is the external date format.
	DateLayout = "2006-01-02"

	cookieMaxAge = 365 * 24 * 60 * 60
)

// Target is the instant a request views the wiki as of. The zero value is
// not a valid target; absence is reported with a separate bool.
type Target struct {
	instant   time.Time
	temporary bool
}

// New builds a target at the start of the UTC day containing t
func New(t time.Time, temporary bool) Target {
	y, m, d := t.UTC().Date()
	return Target{instant: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), temporary: temporary}
}

// Instant returns 00:00 UTC of the chosen day. Revisions strictly before it
// are visible.
func (t Target) Instant() time.Time {
	return t.instant
}

// Temporary reports whether the target came from the URL parameter
func (t Target) Temporary() bool {
	return t.temporary
}

// String renders the target as YYYY-MM-DD
func (t Target) String() string {
	return t.instant.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD value. Empty and reset values are rejected
// like any other malformed input.
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, ResetValue) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FromRequest returns the active target. The URL parameter wins over the
// cookie; an explicit reset parameter disables travel for this request, any
// other unusable parameter falls back to the cookie. Dates at or after now
// mean no travel.
func FromRequest(r *http.Request, now time.Time) (Target, bool) {
	if r == nil {
		return Target{}, false
	}

	if r.URL != nil {
		if raw, present := r.URL.Query()[ParamName]; present && len(raw) > 0 {
			value := strings.TrimSpace(raw[0])
			if strings.EqualFold(value, ResetValue) {
				return Target{}, false
			}
			if day, ok := ParseDate(value); ok {
				return inPast(New(day, true), now)
			}
		}
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie == nil {
		return Target{}, false
	}
	day, ok := ParseDate(cookie.Value)
	if !ok {
		return Target{}, false
	}
	return inPast(New(day, false), now)
}

func inPast(t Target, now time.Time) (Target, bool) {
	if !t.instant.Before(now) {
		return Target{}, false
	}
	return t, true
}

// IsTemporary reports whether the request travels through the URL parameter
// rather than the persisted preference
func IsTemporary(r *http.Request, now time.Time) bool {
	t, ok := FromRequest(r, now)
	return ok && t.Temporary()
}

// SetCookie persists the chosen day
func SetCookie(w http.ResponseWriter, r *http.Request, day time.Time) {
	if w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    day.UTC().Format(DateLayout),
		Path:     "/",
		MaxAge:   cookieMaxAge,
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the persisted preference
func ClearCookie(w http.ResponseWriter, r *http.Request) {
	if w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func isHTTPS(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

type contextKey struct{}

// WithTarget returns a context carrying t
func WithTarget(ctx context.Context, t Target) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext returns the target installed by WithTarget or Middleware
func FromContext(ctx context.Context) (Target, bool) {
	t, ok := ctx.Value(contextKey{}).(Target)
	return t, ok
}

// Middleware resolves the target once per request and stores it in the
// request context. now may be nil to use the wall clock.
func Middleware(now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if t, ok := FromRequest(r, now()); ok {
				r = r.WithContext(WithTarget(r.Context(), t))
			}
			next.ServeHTTP(w, r)
		})
	}
}
