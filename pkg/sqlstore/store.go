// Package sqlstore provides SQLite-backed revision, rename history and page
// directory storage.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nainya/timemachine/pkg/page"
	"github.com/nainya/timemachine/pkg/sqlstore/schema"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// ErrRevisionExists is returned when a revision id is stored twice.
var ErrRevisionExists = errors.New("revision already exists")

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store persists wiki history in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var (
	_ page.RevisionStore = (*Store)(nil)
	_ page.RenameLog     = (*Store)(nil)
	_ page.Directory     = (*Store)(nil)
)

func toUnix(value time.Time) int64 {
	return value.UTC().Unix()
}

func fromUnix(value int64) time.Time {
	return time.Unix(value, 0).UTC()
}

// Open opens a SQLite store and applies the embedded schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := MemoryPath
	if path != MemoryPath {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == MemoryPath {
		// every connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applySchema(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func applySchema(db *sql.DB) error {
	names, err := fs.Glob(schema.FS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := fs.ReadFile(schema.FS, name)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(body)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// AddRevision inserts one revision row.
func (s *Store) AddRevision(ctx context.Context, pageID, revID, parentID int64, ts time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if pageID <= 0 || revID <= 0 {
		return fmt.Errorf("page id and revision id are required")
	}
	if ts.IsZero() {
		return fmt.Errorf("revision %d: timestamp is required", revID)
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO revision (rev_id, rev_page, rev_parent_id, rev_timestamp) VALUES (?, ?, ?, ?)`,
		revID, pageID, parentID, toUnix(ts),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("revision %d: %w", revID, ErrRevisionExists)
		}
		return page.Unavailable("add revision", err)
	}
	return nil
}

// MostRecentBefore returns the latest revision strictly before the instant.
func (s *Store) MostRecentBefore(ctx context.Context, pageID int64, before time.Time) (page.RevisionRef, bool, error) {
	if err := ctx.Err(); err != nil {
		return page.RevisionRef{}, false, err
	}
	var revID, ts int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT rev_id, rev_timestamp FROM revision
		 WHERE rev_page = ? AND rev_timestamp < ?
		 ORDER BY rev_timestamp DESC, rev_id DESC
		 LIMIT 1`,
		pageID, toUnix(before),
	).Scan(&revID, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return page.RevisionRef{}, false, nil
	}
	if err != nil {
		return page.RevisionRef{}, false, page.Unavailable("most recent revision", err)
	}
	return page.RevisionRef{PageID: pageID, RevisionID: revID, Timestamp: fromUnix(ts)}, true, nil
}

// Append records a rename in timemachine_title_history.
func (s *Store) Append(ctx context.Context, ev page.RenameEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO timemachine_title_history (
		   page_id, old_namespace, old_title, new_namespace, new_title, timestamp
		 ) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.PageID, ev.Old.Namespace, ev.Old.Name, ev.New.Namespace, ev.New.Name, toUnix(ev.Timestamp),
	)
	if err != nil {
		return page.Unavailable("append rename", err)
	}
	return nil
}

const renameColumns = `page_id, old_namespace, old_title, new_namespace, new_title, timestamp`

// EarliestAfter returns the first rename strictly after the instant.
func (s *Store) EarliestAfter(ctx context.Context, match page.RenameMatch, id page.Identity, after time.Time) (page.RenameEvent, bool, error) {
	if err := ctx.Err(); err != nil {
		return page.RenameEvent{}, false, err
	}

	var where string
	var args []any
	switch match {
	case page.MatchOld:
		where = `old_namespace = ? AND old_title = ?`
		args = []any{id.Namespace, id.Name}
	case page.MatchNew:
		where = `new_namespace = ? AND new_title = ?`
		args = []any{id.Namespace, id.Name}
	case page.MatchPage:
		if !id.HasPageID() {
			return page.RenameEvent{}, false, nil
		}
		where = `page_id = ?`
		args = []any{id.PageID}
	default:
		return page.RenameEvent{}, false, fmt.Errorf("unknown rename match %d", match)
	}
	args = append(args, toUnix(after))

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+renameColumns+` FROM timemachine_title_history
		 WHERE `+where+` AND timestamp > ?
		 ORDER BY timestamp ASC, id ASC
		 LIMIT 1`,
		args...,
	)
	ev, err := scanRename(row)
	if errors.Is(err, sql.ErrNoRows) {
		return page.RenameEvent{}, false, nil
	}
	if err != nil {
		return page.RenameEvent{}, false, page.Unavailable("earliest rename", err)
	}
	return ev, true, nil
}

// History returns every rename of a page, oldest first.
func (s *Store) History(ctx context.Context, pageID int64) ([]page.RenameEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+renameColumns+` FROM timemachine_title_history
		 WHERE page_id = ?
		 ORDER BY timestamp ASC, id ASC`,
		pageID,
	)
	if err != nil {
		return nil, page.Unavailable("rename history", err)
	}
	defer rows.Close()

	var out []page.RenameEvent
	for rows.Next() {
		ev, err := scanRename(rows)
		if err != nil {
			return nil, page.Unavailable("rename history", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, page.Unavailable("rename history", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRename(row rowScanner) (page.RenameEvent, error) {
	var ev page.RenameEvent
	var ts int64
	if err := row.Scan(
		&ev.PageID,
		&ev.Old.Namespace, &ev.Old.Name,
		&ev.New.Namespace, &ev.New.Name,
		&ts,
	); err != nil {
		return page.RenameEvent{}, err
	}
	ev.Old.PageID = ev.PageID
	ev.New.PageID = ev.PageID
	ev.Timestamp = fromUnix(ts)
	return ev, nil
}

// Move points pageID at a new title. When two pages claim a title the most
// recent claim wins.
func (s *Store) Move(ctx context.Context, pageID int64, to page.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if pageID <= 0 || to.Name == "" {
		return fmt.Errorf("move page %d: page id and title are required", pageID)
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO page (page_id, page_namespace, page_title, page_seq)
		 VALUES (?, ?, ?, (SELECT COALESCE(MAX(page_seq), 0) + 1 FROM page))
		 ON CONFLICT(page_id) DO UPDATE SET
		   page_namespace = excluded.page_namespace,
		   page_title = excluded.page_title,
		   page_seq = excluded.page_seq`,
		pageID, to.Namespace, to.Name,
	)
	if err != nil {
		return page.Unavailable("move page", err)
	}
	return nil
}

// Put registers a page under its current title.
func (s *Store) Put(ctx context.Context, id page.Identity) error {
	if !id.HasPageID() {
		return fmt.Errorf("put page %s: page id is required", id)
	}
	return s.Move(ctx, id.PageID, id)
}

// ByID returns the current identity of a page.
func (s *Store) ByID(ctx context.Context, pageID int64) (page.Identity, bool, error) {
	if err := ctx.Err(); err != nil {
		return page.Identity{}, false, err
	}
	id := page.Identity{PageID: pageID}
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT page_namespace, page_title FROM page WHERE page_id = ?`, pageID,
	).Scan(&id.Namespace, &id.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return page.Identity{}, false, nil
	}
	if err != nil {
		return page.Identity{}, false, page.Unavailable("page by id", err)
	}
	return id, true, nil
}

// ByTitle returns the page currently holding a title.
func (s *Store) ByTitle(ctx context.Context, namespace int, name string) (page.Identity, bool, error) {
	if err := ctx.Err(); err != nil {
		return page.Identity{}, false, err
	}
	id := page.NewIdentity(namespace, name)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT page_id FROM page
		 WHERE page_namespace = ? AND page_title = ?
		 ORDER BY page_seq DESC
		 LIMIT 1`,
		id.Namespace, id.Name,
	).Scan(&id.PageID)
	if errors.Is(err, sql.ErrNoRows) {
		return page.Identity{}, false, nil
	}
	if err != nil {
		return page.Identity{}, false, page.Unavailable("page by title", err)
	}
	return id, true, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
