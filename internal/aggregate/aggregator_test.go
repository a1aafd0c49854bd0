package aggregate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norelock.dev/listenify/providerhost/internal/host"
	"norelock.dev/listenify/providerhost/internal/loader"
	"norelock.dev/listenify/providerhost/internal/models"
	"norelock.dev/listenify/providerhost/internal/provider"
	"norelock.dev/listenify/providerhost/internal/registry"
	"norelock.dev/listenify/providerhost/internal/utils"
)

// pagedUnit serves a fixed page table and counts calls per page.
type pagedUnit struct {
	provider.Base
	platform string
	pages    map[int]*models.SearchResult
	err      error

	mu    sync.Mutex
	calls map[int]int
}

func newPagedUnit(platform string, pages map[int]*models.SearchResult) *pagedUnit {
	return &pagedUnit{platform: platform, pages: pages, calls: map[int]int{}}
}

func (u *pagedUnit) Info() models.ProviderInfo {
	return models.ProviderInfo{Platform: u.platform, Version: "1.0.0"}
}

func (u *pagedUnit) Capabilities() provider.Capabilities {
	return provider.Capabilities(provider.CapSearch)
}

func (u *pagedUnit) Search(_ context.Context, _ string, page int, _ models.MediaType) (*models.SearchResult, error) {
	u.mu.Lock()
	u.calls[page]++
	u.mu.Unlock()
	if u.err != nil {
		return nil, u.err
	}
	r, ok := u.pages[page]
	if !ok {
		return models.EmptyResult(), nil
	}
	return &models.SearchResult{Data: append([]models.MediaItem(nil), r.Data...), IsEnd: r.IsEnd}, nil
}

func (u *pagedUnit) callsFor(page int) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[page]
}

func newAggregator(t *testing.T, units ...provider.Unit) (*Aggregator, *registry.Registry) {
	t.Helper()
	storage, err := registry.NewSourceStorage(afero.NewMemMapFs(), "/providers")
	require.NoError(t, err)
	ld, err := loader.New(loader.Options{HostVersion: "1.0.0"}, utils.NewNopLogger())
	require.NoError(t, err)
	reg := registry.New(ld, storage, registry.NewMemoryStore(), utils.NewNopLogger(), registry.WithBuiltins(units...))
	require.NoError(t, reg.Init(context.Background()))
	t.Cleanup(func() { _ = reg.Close() })

	m := host.New(reg, utils.NewNopLogger(), host.Options{})
	return New(m, NewSessionStore(), utils.NewNopLogger()), reg
}

func TestSearchWithFailingProvider(t *testing.T) {
	a := newPagedUnit("A", map[int]*models.SearchResult{
		1: {Data: []models.MediaItem{{ID: "1", Platform: "B"}, {ID: "2"}}, IsEnd: models.Bool(false)},
	})
	b := newPagedUnit("B", map[int]*models.SearchResult{1: {Data: []models.MediaItem{}}})
	c := newPagedUnit("C", nil)
	c.err = errors.New("exploded")
	agg, _ := newAggregator(t, a, b, c)

	page := agg.Search(context.Background(), "q", 1, models.MediaTypeMusic)
	require.Len(t, page.Items, 2)
	for _, item := range page.Items {
		assert.Equal(t, "A", item.Platform)
	}
	assert.True(t, page.HasMore)
}

func TestSearchSessionPaging(t *testing.T) {
	a := newPagedUnit("A", map[int]*models.SearchResult{
		1: {Data: []models.MediaItem{{ID: "1"}, {ID: "2"}}, IsEnd: models.Bool(false)},
		2: {Data: []models.MediaItem{{ID: "2"}, {ID: "3"}}, IsEnd: models.Bool(true)},
	})
	b := newPagedUnit("B", map[int]*models.SearchResult{
		1: {Data: []models.MediaItem{{ID: "x"}}},
	})
	agg, _ := newAggregator(t, a, b)
	ctx := context.Background()

	first := agg.StartSession(ctx, "q", models.MediaTypeMusic)
	require.NotEmpty(t, first.SessionID)
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, []string{"A/1", "A/2", "B/x"}, ids(first.Page))
	assert.True(t, first.HasMore)

	second, err := agg.NextPage(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Number)
	assert.Equal(t, []string{"A/3"}, ids(second.Page))
	assert.False(t, second.HasMore)
	assert.Equal(t, 1, a.callsFor(2))
	assert.Zero(t, b.callsFor(2), "providers without isEnd=false are not asked again")

	third, err := agg.NextPage(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Empty(t, third.Items)
	assert.False(t, third.HasMore)
	assert.Equal(t, 1, a.callsFor(2))

	_, err = agg.NextPage(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionSkipsProviderDisabledMidway(t *testing.T) {
	a := newPagedUnit("A", map[int]*models.SearchResult{
		1: {Data: []models.MediaItem{{ID: "1"}}, IsEnd: models.Bool(false)},
		2: {Data: []models.MediaItem{{ID: "2"}}, IsEnd: models.Bool(false)},
	})
	agg, reg := newAggregator(t, a)
	ctx := context.Background()

	first := agg.StartSession(ctx, "q", models.MediaTypeMusic)
	require.NoError(t, reg.SetEnabled(ctx, "A", false))

	next, err := agg.NextPage(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Empty(t, next.Items)
	assert.False(t, next.HasMore)
	assert.Zero(t, a.callsFor(2))
}

func TestSessionStoreExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewSessionStore(WithSessionTTL(time.Minute), WithMaxSessions(2))
	store.now = func() time.Time { return now }

	s1 := store.create("a", models.MediaTypeMusic)
	now = now.Add(30 * time.Second)
	_, ok := store.get(s1.id)
	require.True(t, ok, "access extends the session")

	now = now.Add(45 * time.Second)
	_, ok = store.get(s1.id)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = store.get(s1.id)
	assert.False(t, ok)
	assert.Zero(t, store.Len())
}

func TestSessionStoreEvictsOldest(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewSessionStore(WithSessionTTL(time.Hour), WithMaxSessions(2))
	store.now = func() time.Time { return now }

	s1 := store.create("a", models.MediaTypeMusic)
	now = now.Add(time.Second)
	s2 := store.create("b", models.MediaTypeMusic)
	now = now.Add(time.Second)
	s3 := store.create("c", models.MediaTypeMusic)

	assert.Equal(t, 2, store.Len())
	_, ok := store.get(s1.id)
	assert.False(t, ok)
	_, ok = store.get(s2.id)
	assert.True(t, ok)
	_, ok = store.get(s3.id)
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 2, store.Purge())
}
