package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nainya/timemachine/internal/config"
	"github.com/nainya/timemachine/internal/logger"
	"github.com/nainya/timemachine/internal/metrics"
	"github.com/nainya/timemachine/pkg/hooks"
	"github.com/nainya/timemachine/pkg/page"
	"github.com/nainya/timemachine/pkg/target"
)

func setupTestWeb(t *testing.T) (*Web, http.Handler) {
	t.Helper()
	app := newTestApp(t, config.BackendPebble)
	seed(t, app)
	require.NoError(t, app.Bus.Dispatch(context.Background(), &hooks.PageMoveComplete{
		PageID:    2,
		Old:       page.NewIdentity(page.NamespaceMain, "Old"),
		New:       page.NewIdentity(page.NamespaceMain, "New"),
		Timestamp: ts("2022-01-01T10:00:00Z"),
	}))

	web := NewWeb(app)
	web.now = func() time.Time { return testNow }
	return web, web.Handler()
}

func get(h http.Handler, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func post(h http.Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, SpecialPagePath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func dateCookie(value string) *http.Cookie {
	return &http.Cookie{Name: target.CookieName, Value: value}
}

func responseCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == target.CookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", target.CookieName)
	return nil
}

func TestArticlePassThrough(t *testing.T) {
	_, h := setupTestWeb(t)

	rec := get(h, "/wiki/Foo")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pass_through", rec.Header().Get(HeaderState))
	assert.Contains(t, rec.Body.String(), "Current revision of Foo")
}

func TestArticleResolvedFromCookie(t *testing.T) {
	_, h := setupTestWeb(t)

	rec := get(h, "/wiki/Foo", dateCookie("2021-01-01"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "resolved", rec.Header().Get(HeaderState))
	assert.Equal(t, "10", rec.Header().Get(HeaderRevision))
	assert.Contains(t, rec.Body.String(), "as it was on 2021-01-01")
}

func TestArticleParamOverridesCookie(t *testing.T) {
	_, h := setupTestWeb(t)

	rec := get(h, "/wiki/Foo?timemachine-date=2021-06-02", dateCookie("2021-01-01"))
	assert.Equal(t, "11", rec.Header().Get(HeaderRevision))
	assert.Contains(t, rec.Body.String(), "temporarily")

	rec = get(h, "/wiki/Foo?timemachine-date=reset", dateCookie("2021-01-01"))
	assert.Equal(t, "pass_through", rec.Header().Get(HeaderState))
}

func TestArticleServedByMove(t *testing.T) {
	_, h := setupTestWeb(t)

	rec := get(h, "/wiki/Old", dateCookie("2021-01-01"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "20", rec.Header().Get(HeaderRevision))
	assert.Contains(t, rec.Body.String(), "has since been moved to New")
}

func TestArticleMissing(t *testing.T) {
	_, h := setupTestWeb(t)

	rec := get(h, "/wiki/New", dateCookie("2021-01-01"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "missing", rec.Header().Get(HeaderState))
	assert.Equal(t, "suppressed", rec.Header().Get(HeaderRedirect))
	assert.Contains(t, rec.Body.String(), "did not exist yet on 2021-01-01")
}

func TestArticleEditRefused(t *testing.T) {
	_, h := setupTestWeb(t)

	rec := get(h, "/wiki/Foo?action=edit", dateCookie("2021-01-01"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = get(h, "/wiki/Foo?action=edit")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSpecialPageSetsCookie(t *testing.T) {
	_, h := setupTestWeb(t)

	rec := post(h, url.Values{"date": {"2021-01-01"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	c := responseCookie(t, rec)
	assert.Equal(t, "2021-01-01", c.Value)
	assert.True(t, c.HttpOnly)
}

func TestSpecialPageClearsCookie(t *testing.T) {
	_, h := setupTestWeb(t)

	rec := post(h, url.Values{"date": {""}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, responseCookie(t, rec).MaxAge < 0)
	assert.Contains(t, rec.Body.String(), "Time travel is off")
}

func TestSpecialPageMalformedDate(t *testing.T) {
	_, h := setupTestWeb(t)

	rec := post(h, url.Values{"date": {"last tuesday"}, "redirect": {"/wiki/Foo"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, responseCookie(t, rec).MaxAge < 0)
	assert.Contains(t, rec.Body.String(), "is not a date")
}

func TestSpecialPageRedirect(t *testing.T) {
	_, h := setupTestWeb(t)

	rec := post(h, url.Values{"date": {"2021-01-01"}, "redirect": {"/wiki/Foo"}})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/wiki/Foo", rec.Header().Get("Location"))

	for _, bad := range []string{"https://evil.example/", "//evil.example/", `/\evil.example`} {
		rec = post(h, url.Values{"date": {"2021-01-01"}, "redirect": {bad}})
		assert.Equal(t, http.StatusOK, rec.Code, bad)
	}
}

func TestSpecialPagePresets(t *testing.T) {
	web, h := setupTestWeb(t)

	path := filepath.Join(t.TempDir(), "presets.txt")
	require.NoError(t, os.WriteFile(path, []byte("Launch|2020-01-01\nbroken line\n"), 0o600))
	web.app.loadPresets(path)

	rec := get(h, SpecialPagePath, dateCookie("2021-01-01"))
	body := rec.Body.String()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, `<option value="2020-01-01">Launch</option>`)
	assert.Contains(t, body, "could not be read")
	assert.Contains(t, body, `value="2021-01-01"`)

	assert.Contains(t, body, `<select name="date">`)

	rec = post(h, url.Values{"preset": {"2020-01-01"}})
	assert.Equal(t, "2020-01-01", responseCookie(t, rec).Value)
}

func TestSpecialPagePresetWinsOverPrefilledDate(t *testing.T) {
	_, h := setupTestWeb(t)

	rec := post(h, url.Values{"date": {"2020-01-01"}, "preset": {"2021-01-01"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2021-01-01", responseCookie(t, rec).Value)
}

func TestSpecialPageMissingPresetsFile(t *testing.T) {
	cfg := config.Default()
	cfg.DataPath = ":memory:"
	cfg.Cache.Backend = config.CacheNone
	cfg.PresetsFile = filepath.Join(t.TempDir(), "absent.txt")
	app, err := NewApp(cfg, logger.Nop(), metrics.NewMetrics(prometheus.NewRegistry()), noop.NewTracerProvider())
	require.NoError(t, err)
	defer app.Close()

	assert.Empty(t, app.Presets)
	require.Len(t, app.PresetWarnings, 1)

	rec := get(NewWeb(app).Handler(), SpecialPagePath)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "quick-pick file is unreadable")
}

func TestWebRecordsMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.DataPath = ":memory:"
	cfg.Cache.Backend = config.CacheNone
	m := metrics.NewMetrics(prometheus.NewRegistry())
	app, err := NewApp(cfg, logger.Nop(), m, noop.NewTracerProvider())
	require.NoError(t, err)
	defer app.Close()

	h := NewWeb(app).Handler()
	get(h, "/wiki/Foo", dateCookie("2021-01-01"))
	get(h, SpecialPagePath)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("article", "4xx", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("special", "2xx", "false")))
}

func TestObservabilityReady(t *testing.T) {
	reg := prometheus.NewRegistry()
	ready := true
	h := ObservabilityHandler(reg, func(context.Context) error {
		if !ready {
			return page.ErrStoreUnavailable
		}
		return nil
	})

	assert.Equal(t, http.StatusOK, get(h, "/ready").Code)
	assert.Equal(t, http.StatusOK, get(h, "/health").Code)
	assert.Equal(t, http.StatusOK, get(h, "/metrics").Code)

	ready = false
	assert.Equal(t, http.StatusServiceUnavailable, get(h, "/ready").Code)
}
