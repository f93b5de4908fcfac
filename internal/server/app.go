package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nainya/timemachine/internal/config"
	"github.com/nainya/timemachine/internal/logger"
	"github.com/nainya/timemachine/internal/metrics"
	"github.com/nainya/timemachine/pkg/cache"
	"github.com/nainya/timemachine/pkg/hooks"
	"github.com/nainya/timemachine/pkg/listing"
	"github.com/nainya/timemachine/pkg/presets"
	"github.com/nainya/timemachine/pkg/timetravel"
	"github.com/nainya/timemachine/pkg/view"
)

// App is the wired time machine: stores, cache, resolver and the request
// facing layers on top of it
type App struct {
	Backend     *Backend
	Cache       *cache.Cache
	Resolver    *timetravel.Resolver
	Interceptor *view.Interceptor
	Filter      *listing.Filter
	Bus         *hooks.Bus

	Presets        []presets.Preset
	PresetWarnings []presets.Warning

	Metrics *metrics.Metrics
	Log     *logger.Logger
}

// NewApp opens the configured backend and cache and wires the resolver.
// m must not be nil; pass metrics.NewMetrics(prometheus.NewRegistry()) when
// nothing scrapes it.
func NewApp(cfg config.Config, log *logger.Logger, m *metrics.Metrics, tp trace.TracerProvider) (*App, error) {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	backend, err := OpenBackend(cfg, log)
	if err != nil {
		return nil, err
	}

	store, err := OpenCacheStore(cfg.Cache, log)
	if err != nil {
		backend.Close()
		return nil, err
	}
	c := cache.New(store,
		cache.WithTTL(cfg.Cache.TTL),
		cache.WithLogger(log.CacheLogger()),
		cache.WithObserver(m),
	)

	resolver := timetravel.New(backend.Revisions, backend.Renames, backend.Directory,
		timetravel.WithCache(c),
		timetravel.WithLogger(log.ResolverLogger()),
		timetravel.WithObserver(m),
		timetravel.WithTracerProvider(tp),
	)
	interceptor := view.NewInterceptor(resolver, backend.Directory,
		view.WithLogger(log.ViewLogger()),
		view.WithObserver(m),
	)
	filter := listing.NewFilter(resolver,
		listing.WithLogger(log.ViewLogger()),
		listing.WithObserver(m),
	)
	bus := hooks.NewBus(hooks.Config{
		Interceptor: interceptor,
		Filter:      filter,
		Renames:     backend.Renames,
		Directory:   backend.Directory,
		Logger:      log.ResolverLogger(),
		Observer:    m,
	})

	app := &App{
		Backend:     backend,
		Cache:       c,
		Resolver:    resolver,
		Interceptor: interceptor,
		Filter:      filter,
		Bus:         bus,
		Metrics:     m,
		Log:         log,
	}
	app.loadPresets(cfg.PresetsFile)
	return app, nil
}

// loadPresets never fails: an unreadable file leaves the quick-pick list
// empty and shows up as a warning on the special page
func (a *App) loadPresets(path string) {
	a.Presets, a.PresetWarnings = nil, nil
	if path == "" {
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		a.PresetWarnings = []presets.Warning{{Text: path, Reason: "quick-pick file is unreadable"}}
		a.Metrics.PresetWarnings(1)
		a.Log.Warn("Presets unavailable").Str("path", path).Err(err).Send()
		return
	}
	a.Presets, a.PresetWarnings = presets.Parse(string(raw))
	a.Metrics.PresetWarnings(len(a.PresetWarnings))
	for _, w := range a.PresetWarnings {
		a.Log.Warn("Skipped preset").
			Int("line", w.Line).
			Str("text", w.Text).
			Str("reason", w.Reason).
			Send()
	}
}

// Ready reports whether the backend can serve queries
func (a *App) Ready(ctx context.Context) error {
	return a.Backend.Ping(ctx)
}

// Close releases the cache and the backend
func (a *App) Close() error {
	return errors.Join(a.Cache.Close(), a.Backend.Close())
}

// OpenCacheStore opens the configured cache backend
func OpenCacheStore(cfg config.CacheConfig, log *logger.Logger) (cache.Store, error) {
	switch cfg.Backend {
	case config.CacheMemory:
		return cache.NewMemory(cache.MemoryConfig{MaxEntries: cfg.MaxEntries})
	case config.CacheBadger:
		return cache.OpenBadger(cache.BadgerConfig{
			Path:           cfg.Path,
			GCInterval:     cfg.GCInterval,
			GCDiscardRatio: 0.5,
			Logger:         log.CacheLogger(),
		})
	case config.CacheNone, "":
		return cache.Noop{}, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// NewTracerProvider returns a provider exporting spans as JSON to w when
// enabled, and a no-op provider otherwise. shutdown flushes the exporter.
func NewTracerProvider(cfg config.TracingConfig, w io.Writer) (tp trace.TracerProvider, shutdown func(context.Context) error, err error) {
	if !cfg.Stdout {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}
	sdk := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	return sdk, sdk.Shutdown, nil
}
