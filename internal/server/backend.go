package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nainya/timemachine/internal/config"
	"github.com/nainya/timemachine/internal/logger"
	"github.com/nainya/timemachine/pkg/page"
	"github.com/nainya/timemachine/pkg/pages"
	"github.com/nainya/timemachine/pkg/renamelog"
	"github.com/nainya/timemachine/pkg/revision"
	"github.com/nainya/timemachine/pkg/sqlstore"
	"github.com/nainya/timemachine/pkg/storage"
)

// Directory is a page directory that can also register new pages
type Directory interface {
	page.Directory
	Put(ctx context.Context, id page.Identity) error
}

// Backend bundles the revision store, rename log and page directory of one
// storage engine
type Backend struct {
	Name      string
	Revisions page.RevisionStore
	Renames   page.RenameLog
	Directory Directory

	addRevision func(ctx context.Context, pageID, revID, parentID int64, ts time.Time) error
	ping        func(ctx context.Context) error
	close       func() error
}

// OpenBackend opens the storage engine named by cfg.Backend. A DataPath of
// ":memory:" keeps everything in memory.
func OpenBackend(cfg config.Config, log *logger.Logger) (*Backend, error) {
	start := time.Now()
	var (
		b   *Backend
		err error
	)
	switch cfg.Backend {
	case config.BackendPebble:
		b, err = openPebble(cfg.DataPath)
	case config.BackendSQLite:
		b, err = openSQLite(cfg.DataPath)
	default:
		err = fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	log.DbLogger("open").LogDbOperation(cfg.Backend, time.Since(start), 0, err)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func openPebble(path string) (*Backend, error) {
	kv := &storage.KV{Path: path, InMemory: path == sqlstore.MemoryPath}
	if err := kv.Open(); err != nil {
		return nil, err
	}
	revisions := revision.NewStore(kv)
	return &Backend{
		Name:      config.BackendPebble,
		Revisions: revisions,
		Renames:   renamelog.New(kv),
		Directory: pages.NewDirectory(kv),
		addRevision: func(ctx context.Context, pageID, revID, parentID int64, ts time.Time) error {
			return revisions.AddRevision(ctx, &revision.Revision{
				RevisionID: revID,
				PageID:     pageID,
				ParentID:   parentID,
				Timestamp:  ts,
			})
		},
		ping: func(context.Context) error {
			if !kv.Ready() {
				return storage.ErrClosed
			}
			return nil
		},
		close: kv.Close,
	}, nil
}

func openSQLite(path string) (*Backend, error) {
	store, err := sqlstore.Open(path)
	if err != nil {
		return nil, err
	}
	return &Backend{
		Name:        config.BackendSQLite,
		Revisions:   store,
		Renames:     store,
		Directory:   store,
		addRevision: store.AddRevision,
		ping:        store.Ping,
		close:       store.Close,
	}, nil
}

// AddRevision stores one revision of a page
func (b *Backend) AddRevision(ctx context.Context, pageID, revID, parentID int64, ts time.Time) error {
	if pageID <= 0 || revID <= 0 {
		return errors.New("page id and revision id are required")
	}
	if ts.IsZero() {
		return errors.New("revision timestamp is required")
	}
	return b.addRevision(ctx, pageID, revID, parentID, ts.UTC())
}

// Ping reports whether the storage engine is usable
func (b *Backend) Ping(ctx context.Context) error {
	return b.ping(ctx)
}

// Close releases the storage engine
func (b *Backend) Close() error {
	return b.close()
}
