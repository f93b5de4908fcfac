// ABOUTME: Tests for the rename log
// ABOUTME: Covers strict "after" boundaries, side selection and same-second ordering

package renamelog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nainya/timemachine/pkg/page"
	"github.com/nainya/timemachine/pkg/storage"
)

func setupTestLog(t *testing.T) *Log {
	t.Helper()
	kv := &storage.KV{InMemory: true, NoSync: true}
	if err := kv.Open(); err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return New(kv)
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func rename(pageID int64, from, to string, at string) page.RenameEvent {
	return page.RenameEvent{
		PageID:    pageID,
		Old:       page.NewIdentity(page.NamespaceMain, from),
		New:       page.NewIdentity(page.NamespaceMain, to),
		Timestamp: ts(at),
	}
}

func TestAppendValidates(t *testing.T) {
	l := setupTestLog(t)
	ctx := context.Background()

	bad := rename(0, "A", "B", "2020-01-01T00:00:00Z")
	if err := l.Append(ctx, bad); err == nil {
		t.Error("Expected error for missing page id")
	}
	bad = rename(1, "A", "B", "2020-01-01T00:00:00Z")
	bad.Timestamp = time.Time{}
	if err := l.Append(ctx, bad); err == nil {
		t.Error("Expected error for missing timestamp")
	}
}

func TestEarliestAfterByOldTitle(t *testing.T) {
	l := setupTestLog(t)
	ctx := context.Background()

	events := []page.RenameEvent{
		rename(7, "Old", "Mid", "2020-06-01T00:00:00Z"),
		rename(7, "Mid", "New", "2021-06-01T00:00:00Z"),
		rename(9, "Old", "Other", "2022-01-01T00:00:00Z"),
	}
	for _, ev := range events {
		if err := l.Append(ctx, ev); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	old := page.NewIdentity(page.NamespaceMain, "Old")

	tests := []struct {
		name     string
		after    string
		wantPage int64
		wantOK   bool
	}{
		{"before all", "2019-01-01T00:00:00Z", 7, true},
		{"exact timestamp is excluded", "2020-06-01T00:00:00Z", 9, true},
		{"between", "2021-01-01T00:00:00Z", 9, true},
		{"after all", "2023-01-01T00:00:00Z", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok, err := l.EarliestAfter(ctx, page.MatchOld, old, ts(tt.after))
			if err != nil {
				t.Fatalf("EarliestAfter failed: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("Expected ok=%v, got %v", tt.wantOK, ok)
			}
			if ok && ev.PageID != tt.wantPage {
				t.Errorf("Expected page %d, got %d", tt.wantPage, ev.PageID)
			}
		})
	}
}

func TestEarliestAfterByNewTitleAndPage(t *testing.T) {
	l := setupTestLog(t)
	ctx := context.Background()

	for _, ev := range []page.RenameEvent{
		rename(7, "Old", "Mid", "2020-06-01T00:00:00Z"),
		rename(7, "Mid", "New", "2021-06-01T00:00:00Z"),
	} {
		if err := l.Append(ctx, ev); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	ev, ok, err := l.EarliestAfter(ctx, page.MatchNew, page.NewIdentity(page.NamespaceMain, "New"), ts("2020-01-01T00:00:00Z"))
	if err != nil || !ok {
		t.Fatalf("Expected match on new title: ok=%v err=%v", ok, err)
	}
	if ev.Old.Name != "Mid" {
		t.Errorf("Expected old name Mid, got %s", ev.Old.Name)
	}

	ev, ok, err = l.EarliestAfter(ctx, page.MatchPage, page.Identity{PageID: 7}, ts("2020-01-01T00:00:00Z"))
	if err != nil || !ok {
		t.Fatalf("Expected match on page: ok=%v err=%v", ok, err)
	}
	if ev.New.Name != "Mid" {
		t.Errorf("Expected first rename to Mid, got %s", ev.New.Name)
	}
	if ev.Old.PageID != 7 || ev.New.PageID != 7 {
		t.Errorf("Expected decoded identities to carry the page id: %+v", ev)
	}

	if _, ok, _ := l.EarliestAfter(ctx, page.MatchPage, page.Identity{}, ts("2020-01-01T00:00:00Z")); ok {
		t.Error("Expected no match for unknown page id")
	}
}

func TestNamespacesAndPrefixTitlesDoNotCollide(t *testing.T) {
	l := setupTestLog(t)
	ctx := context.Background()

	ev := page.RenameEvent{
		PageID:    3,
		Old:       page.NewIdentity(page.NamespaceTemplate, "Foo"),
		New:       page.NewIdentity(page.NamespaceTemplate, "Bar"),
		Timestamp: ts("2020-06-01T00:00:00Z"),
	}
	if err := l.Append(ctx, ev); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := l.Append(ctx, rename(4, "Foo bar", "Baz", "2020-06-01T00:00:00Z")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if _, ok, _ := l.EarliestAfter(ctx, page.MatchOld, page.NewIdentity(page.NamespaceMain, "Foo"), ts("2019-01-01T00:00:00Z")); ok {
		t.Error("Main:Foo must not match Template:Foo or Foo_bar")
	}
	got, ok, _ := l.EarliestAfter(ctx, page.MatchOld, page.NewIdentity(page.NamespaceMain, "Foo bar"), ts("2019-01-01T00:00:00Z"))
	if !ok || got.PageID != 4 {
		t.Errorf("Expected Foo_bar rename of page 4, got ok=%v %+v", ok, got)
	}
}

func TestSameSecondKeepsInsertionOrder(t *testing.T) {
	l := setupTestLog(t)
	ctx := context.Background()

	at := "2020-06-01T12:00:00Z"
	if err := l.Append(ctx, rename(5, "A", "B", at)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := l.Append(ctx, rename(5, "B", "C", at)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	hist, err := l.History(ctx, 5)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(hist) != 2 || hist[0].New.Name != "B" || hist[1].New.Name != "C" {
		t.Errorf("Unexpected history order: %+v", hist)
	}
}

func TestConcurrentAppend(t *testing.T) {
	l := setupTestLog(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := rename(11, "P", "Q", "2020-01-01T00:00:00Z")
			ev.Timestamp = ev.Timestamp.Add(time.Duration(i) * time.Second)
			if err := l.Append(ctx, ev); err != nil {
				t.Errorf("Append failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	hist, err := l.History(ctx, 11)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(hist) != 20 {
		t.Errorf("Expected 20 events, got %d", len(hist))
	}
}
