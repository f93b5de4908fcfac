package view

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/timemachine/pkg/page"
	"github.com/nainya/timemachine/pkg/pages"
	"github.com/nainya/timemachine/pkg/renamelog"
	"github.com/nainya/timemachine/pkg/revision"
	"github.com/nainya/timemachine/pkg/storage"
	"github.com/nainya/timemachine/pkg/target"
	"github.com/nainya/timemachine/pkg/timetravel"
)

type wiki struct {
	revisions *revision.Store
	renames   *renamelog.Log
	directory *pages.Directory
}

func setupWiki(t *testing.T) *wiki {
	t.Helper()
	kv := &storage.KV{InMemory: true, NoSync: true}
	require.NoError(t, kv.Open())
	t.Cleanup(func() { kv.Close() })
	return &wiki{
		revisions: revision.NewStore(kv),
		renames:   renamelog.New(kv),
		directory: pages.NewDirectory(kv),
	}
}

func (w *wiki) interceptor() *Interceptor {
	r := timetravel.New(w.revisions, w.renames, w.directory)
	return NewInterceptor(r, w.directory)
}

func (w *wiki) create(t *testing.T, id page.Identity, revs map[int64]string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, w.directory.Put(ctx, id))
	for revID, ts := range revs {
		require.NoError(t, w.revisions.AddRevision(ctx, &revision.Revision{
			RevisionID: revID, PageID: id.PageID, Timestamp: day(ts),
		}))
	}
}

func (w *wiki) move(t *testing.T, pageID int64, from, to page.Identity, ts string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, w.renames.Append(ctx, page.RenameEvent{PageID: pageID, Old: from, New: to, Timestamp: day(ts)}))
	require.NoError(t, w.directory.Move(ctx, pageID, to))
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func travel(date string) context.Context {
	return target.WithTarget(context.Background(), target.New(day(date), false))
}

func article(name string) page.Identity {
	return page.NewIdentity(page.NamespaceMain, name)
}

func TestFooEndToEnd(t *testing.T) {
	w := setupWiki(t)
	w.create(t, article("Foo").WithPageID(1), map[int64]string{100: "2019-01-01", 200: "2020-06-01"})
	ic := w.interceptor()

	d, err := ic.Decide(travel("2020-01-01"), Request{Identity: article("Foo")})
	require.NoError(t, err)
	assert.Equal(t, Resolved, d.State)
	assert.EqualValues(t, 100, d.RevisionID)

	d, err = ic.Decide(travel("2018-01-01"), Request{Identity: article("Foo")})
	require.NoError(t, err)
	assert.Equal(t, Missing, d.State)
	assert.True(t, d.IgnoreRedirect)

	d, err = ic.Decide(travel("2023-01-01"), Request{Identity: article("Foo")})
	require.NoError(t, err)
	assert.Equal(t, Resolved, d.State)
	assert.EqualValues(t, 200, d.RevisionID, "a target after every edit shows the latest revision")
}

func TestNoTargetPassesThrough(t *testing.T) {
	w := setupWiki(t)
	d, err := w.interceptor().Decide(context.Background(), Request{Identity: article("Foo")})
	require.NoError(t, err)
	assert.Equal(t, PassThrough, d.State)
	assert.False(t, d.Travelling)
}

func TestExplicitRevisionWins(t *testing.T) {
	w := setupWiki(t)
	w.create(t, article("Foo").WithPageID(1), map[int64]string{100: "2019-01-01"})

	d, err := w.interceptor().Decide(travel("2018-01-01"), Request{Identity: article("Foo"), OldID: 100})
	require.NoError(t, err)
	assert.Equal(t, PassThrough, d.State)
	assert.EqualValues(t, 100, d.RevisionID)
	assert.True(t, d.Travelling)
}

func TestRenameEndToEnd(t *testing.T) {
	w := setupWiki(t)
	w.create(t, article("Old").WithPageID(5), map[int64]string{50: "2019-05-01"})
	w.move(t, 5, article("Old"), article("New"), "2021-01-01")
	ic := w.interceptor()

	d, err := ic.Decide(travel("2020-01-01"), Request{Identity: article("New")})
	require.NoError(t, err)
	assert.Equal(t, Missing, d.State, "New was not a title yet")

	ctx, st := WithState(travel("2020-06-01"))
	d, err = ic.Decide(ctx, Request{Identity: article("Old")})
	require.NoError(t, err)
	assert.Equal(t, Resolved, d.State)
	assert.EqualValues(t, 50, d.RevisionID)
	assert.True(t, d.ServedByMove)
	assert.Equal(t, "New", d.Identity.Name)
	assert.Equal(t, "Old", d.Original.Name)
	assert.True(t, st.ServedByMove())

	d, err = ic.Decide(travel("2022-01-01"), Request{Identity: article("New")})
	require.NoError(t, err)
	assert.Equal(t, Resolved, d.State)
}

func TestTitleReusedByAnotherPage(t *testing.T) {
	w := setupWiki(t)
	// page 1 was "Topic" until 2020, then moved to "Topic (old)"; page 2 now holds "Topic"
	w.create(t, article("Topic").WithPageID(1), map[int64]string{10: "2015-01-01"})
	w.move(t, 1, article("Topic"), article("Topic (old)"), "2020-01-01")
	w.create(t, article("Topic").WithPageID(2), map[int64]string{20: "2020-02-01"})

	d, err := w.interceptor().Decide(travel("2018-01-01"), Request{Identity: article("Topic")})
	require.NoError(t, err)
	assert.Equal(t, Resolved, d.State)
	assert.EqualValues(t, 10, d.RevisionID)
	assert.EqualValues(t, 1, d.Identity.PageID)
}

func TestFileAndCategoryPassThrough(t *testing.T) {
	w := setupWiki(t)
	file := page.NewIdentity(page.NamespaceFile, "Logo.png").WithPageID(3)
	w.create(t, file, map[int64]string{30: "2021-01-01"})

	d, err := w.interceptor().Decide(travel("2019-01-01"), Request{Identity: page.NewIdentity(page.NamespaceFile, "Logo.png")})
	require.NoError(t, err)
	assert.Equal(t, PassThrough, d.State)

	cat := page.NewIdentity(page.NamespaceCategory, "People")
	d, err = w.interceptor().Decide(travel("2019-01-01"), Request{Identity: cat})
	require.NoError(t, err)
	assert.Equal(t, PassThrough, d.State)
}

func TestTemplateRevision(t *testing.T) {
	w := setupWiki(t)
	w.create(t, article("Foo").WithPageID(1), map[int64]string{100: "2019-01-01"})
	infobox := page.NewIdentity(page.NamespaceTemplate, "Infobox").WithPageID(2)
	w.create(t, infobox, map[int64]string{200: "2018-01-01", 201: "2021-01-01"})
	ic := w.interceptor()

	ctx, _ := WithState(travel("2020-01-01"))
	_, err := ic.Decide(ctx, Request{Identity: article("Foo")})
	require.NoError(t, err)

	rev, ok, err := ic.TemplateRevision(ctx, page.NewIdentity(page.NamespaceTemplate, "Infobox"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 200, rev)

	// a missing page renders no templates at the target
	ctx, _ = WithState(travel("2018-06-01"))
	d, err := ic.Decide(ctx, Request{Identity: article("Foo")})
	require.NoError(t, err)
	require.Equal(t, Missing, d.State)
	_, ok, err = ic.TemplateRevision(ctx, infobox)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = ic.TemplateRevision(context.Background(), infobox)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBannerAndPlaceholder(t *testing.T) {
	ic := NewInterceptor(nil, nil)

	d := Decision{
		State:        Resolved,
		Original:     article("Old"),
		Identity:     article("New"),
		ServedByMove: true,
		Target:       target.New(day("2020-06-01"), true),
	}
	b, ok := ic.Banner(d)
	require.True(t, ok)
	assert.Equal(t, "2020-06-01", b.Date)
	assert.Equal(t, "/wiki/Old?timemachine-date=2020-06-01", b.Link)
	assert.True(t, b.Temporary)
	assert.Contains(t, b.Text, "temporarily")

	_, ok = MissingPage(d)
	assert.False(t, ok)

	d.State = Missing
	_, ok = ic.Banner(d)
	assert.False(t, ok)
	p, ok := MissingPage(d)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, p.Status)
	assert.Contains(t, p.Notice, "2020-06-01")
}

func TestCanPerform(t *testing.T) {
	ok, _ := CanPerform(context.Background(), "edit")
	assert.True(t, ok)

	ok, reason := CanPerform(travel("2020-01-01"), "edit")
	assert.False(t, ok)
	assert.Equal(t, ReasonNoEditing, reason)

	ok, _ = CanPerform(travel("2020-01-01"), "view")
	assert.True(t, ok)
}

type failingResolver struct{}

func (failingResolver) RevisionAt(context.Context, page.Identity, time.Time) (int64, bool, error) {
	return 0, false, nil
}

func (failingResolver) MoveSourceAfter(context.Context, page.Identity, time.Time) (int64, bool, error) {
	return 0, false, page.Unavailable("earliest rename", errors.New("timeout"))
}

func (failingResolver) WasMovedHereAfter(context.Context, page.Identity, time.Time) (bool, error) {
	return false, nil
}

func TestStoreFailureIsNotMissing(t *testing.T) {
	ic := NewInterceptor(failingResolver{}, nil)
	_, err := ic.Decide(travel("2020-01-01"), Request{Identity: article("Foo")})
	assert.ErrorIs(t, err, page.ErrStoreUnavailable)
}
