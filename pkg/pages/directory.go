// ABOUTME: Page directory mapping stable page ids to current titles
// ABOUTME: Keeps a title index in step with the primary record on every move

package pages

import (
	"context"
	"fmt"

	"github.com/nainya/timemachine/pkg/page"
	"github.com/nainya/timemachine/pkg/storage"
)

// Prefixes for page storage
const (
	PREFIX_PAGE       = uint32(7000) // (pageID) -> (namespace, name)
	PREFIX_PAGE_TITLE = uint32(7100) // (namespace, name) -> pageID
)

// Directory is the pebble-backed page directory
type Directory struct {
	kv *storage.KV
}

var _ page.Directory = (*Directory)(nil)

// NewDirectory creates a new page directory
func NewDirectory(kv *storage.KV) *Directory {
	return &Directory{kv: kv}
}

func pageKey(pageID int64) []byte {
	return storage.EncodeKey(PREFIX_PAGE, []storage.Value{storage.NewInt64Value(pageID)})
}

func titleKey(namespace int, name string) []byte {
	return storage.EncodeKey(PREFIX_PAGE_TITLE, []storage.Value{
		storage.NewInt64Value(int64(namespace)),
		storage.NewStringValue(name),
	})
}

// Put registers a page under its current title, replacing any previous title
func (d *Directory) Put(ctx context.Context, id page.Identity) error {
	if !id.HasPageID() {
		return fmt.Errorf("put page %s: page id is required", id)
	}
	return d.Move(ctx, id.PageID, id)
}

// Move points pageID at a new title. The old title index entry is dropped
// unless another page has already claimed it.
func (d *Directory) Move(ctx context.Context, pageID int64, to page.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if pageID <= 0 || to.Name == "" {
		return fmt.Errorf("move page %d: page id and title are required", pageID)
	}

	tx := d.kv.Begin()

	if raw, ok := tx.Get(pageKey(pageID)); ok {
		prev, err := decodeTitle(raw)
		if err != nil {
			tx.Abort()
			return err
		}
		if owner, ok := tx.Get(titleKey(prev.Namespace, prev.Name)); ok {
			if id, err := decodePageID(owner); err == nil && id == pageID {
				tx.Del(titleKey(prev.Namespace, prev.Name))
			}
		}
	}

	tx.Set(pageKey(pageID), storage.EncodeValues([]storage.Value{
		storage.NewInt64Value(int64(to.Namespace)),
		storage.NewStringValue(to.Name),
	}))
	tx.Set(titleKey(to.Namespace, to.Name), storage.EncodeValues([]storage.Value{
		storage.NewInt64Value(pageID),
	}))

	if err := tx.Commit(); err != nil {
		return page.Unavailable("move page", err)
	}
	return nil
}

// ByID returns the current identity of a page
func (d *Directory) ByID(ctx context.Context, pageID int64) (page.Identity, bool, error) {
	if err := ctx.Err(); err != nil {
		return page.Identity{}, false, err
	}
	raw, ok, err := d.kv.Get(pageKey(pageID))
	if err != nil {
		return page.Identity{}, false, page.Unavailable("page by id", err)
	}
	if !ok {
		return page.Identity{}, false, nil
	}
	id, err := decodeTitle(raw)
	if err != nil {
		return page.Identity{}, false, err
	}
	return id.WithPageID(pageID), true, nil
}

// ByTitle returns the page currently holding a title
func (d *Directory) ByTitle(ctx context.Context, namespace int, name string) (page.Identity, bool, error) {
	if err := ctx.Err(); err != nil {
		return page.Identity{}, false, err
	}
	name = page.NormalizeName(name)
	raw, ok, err := d.kv.Get(titleKey(namespace, name))
	if err != nil {
		return page.Identity{}, false, page.Unavailable("page by title", err)
	}
	if !ok {
		return page.Identity{}, false, nil
	}
	pageID, err := decodePageID(raw)
	if err != nil {
		return page.Identity{}, false, err
	}
	return page.Identity{Namespace: namespace, Name: name, PageID: pageID}, true, nil
}

// List returns up to limit pages of a namespace in title order. A limit of
// zero or less means no limit.
func (d *Directory) List(ctx context.Context, namespace int, limit int) ([]page.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := storage.EncodeKey(PREFIX_PAGE_TITLE, []storage.Value{storage.NewInt64Value(int64(namespace))})

	var out []page.Identity
	var decodeErr error
	err := d.kv.ScanPrefix(prefix, func(key, val []byte) bool {
		cols, err := storage.ExtractValues(key)
		if err != nil || len(cols) < 2 {
			decodeErr = fmt.Errorf("corrupt title key")
			return false
		}
		pageID, err := decodePageID(val)
		if err != nil {
			decodeErr = err
			return false
		}
		out = append(out, page.Identity{Namespace: namespace, Name: string(cols[1].Str), PageID: pageID})
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, page.Unavailable("list pages", err)
	}
	return out, decodeErr
}

func decodeTitle(raw []byte) (page.Identity, error) {
	vals, err := storage.DecodeValues(raw)
	if err != nil {
		return page.Identity{}, err
	}
	if len(vals) < 2 {
		return page.Identity{}, fmt.Errorf("incomplete page record")
	}
	return page.Identity{Namespace: int(vals[0].I64), Name: string(vals[1].Str)}, nil
}

func decodePageID(raw []byte) (int64, error) {
	vals, err := storage.DecodeValues(raw)
	if err != nil {
		return 0, err
	}
	if len(vals) < 1 {
		return 0, fmt.Errorf("incomplete title record")
	}
	return vals[0].I64, nil
}
