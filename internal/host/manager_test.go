package host

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norelock.dev/listenify/providerhost/internal/loader"
	"norelock.dev/listenify/providerhost/internal/models"
	"norelock.dev/listenify/providerhost/internal/provider"
	"norelock.dev/listenify/providerhost/internal/registry"
	"norelock.dev/listenify/providerhost/internal/utils"
)

// fakeUnit is a Go provider whose behavior is set per test.
type fakeUnit struct {
	provider.Base
	info  models.ProviderInfo
	caps  provider.Capabilities
	delay time.Duration

	result *models.SearchResult
	err    error
	panics bool

	source *models.MediaSource
	tags   *models.RecommendTags
	charts []models.ChartGroup
	item   *models.MediaItem
	sheet  []models.MediaItem

	mu       sync.Mutex
	lastPage int
	lastTag  models.Tag
}

func (f *fakeUnit) Info() models.ProviderInfo           { return f.info }
func (f *fakeUnit) Capabilities() provider.Capabilities { return f.caps }

func (f *fakeUnit) wait(ctx context.Context) error {
	if f.panics {
		panic("provider exploded")
	}
	if f.delay == 0 {
		return nil
	}
	select {
	case <-time.After(f.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeUnit) Search(ctx context.Context, _ string, page int, _ models.MediaType) (*models.SearchResult, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.lastPage = page
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	// copy so stamping never leaks between rounds
	out := &models.SearchResult{IsEnd: f.result.IsEnd, Data: append([]models.MediaItem(nil), f.result.Data...)}
	return out, nil
}

func (f *fakeUnit) GetMediaSource(ctx context.Context, _ models.MediaItem, _ models.Quality) (*models.MediaSource, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.source, f.err
}

func (f *fakeUnit) GetRecommendTags(ctx context.Context) (*models.RecommendTags, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.tags, f.err
}

func (f *fakeUnit) GetTopLists(ctx context.Context) ([]models.ChartGroup, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.charts, f.err
}

func (f *fakeUnit) ImportMusicItem(context.Context, string) (*models.MediaItem, error) {
	return f.item, f.err
}

func (f *fakeUnit) ImportSheet(context.Context, string) ([]models.MediaItem, error) {
	return f.sheet, f.err
}

func (f *fakeUnit) GetSheetsByTag(_ context.Context, tag models.Tag, _ int) (*models.SearchResult, error) {
	f.mu.Lock()
	f.lastTag = tag
	f.mu.Unlock()
	return f.result, f.err
}

func searchUnit(platform string, result *models.SearchResult) *fakeUnit {
	return &fakeUnit{
		info:   models.ProviderInfo{Platform: platform, Version: "1.0.0"},
		caps:   provider.Capabilities(provider.CapSearch),
		result: result,
	}
}

type recorder struct {
	mu      sync.Mutex
	calls   map[string]string
	fanOuts map[string]int
}

func newRecorder() *recorder {
	return &recorder{calls: map[string]string{}, fanOuts: map[string]int{}}
}

func (r *recorder) ObserveCall(platform, method, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[platform+"."+method] = outcome
}

func (r *recorder) ObserveFanOut(method string, providers int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fanOuts[method] = providers
}

func newRegistry(t *testing.T, units ...provider.Unit) *registry.Registry {
	t.Helper()
	storage, err := registry.NewSourceStorage(afero.NewMemMapFs(), "/providers")
	require.NoError(t, err)
	ld, err := loader.New(loader.Options{HostVersion: "1.0.0"}, utils.NewNopLogger())
	require.NoError(t, err)
	reg := registry.New(ld, storage, registry.NewMemoryStore(), utils.NewNopLogger(), registry.WithBuiltins(units...))
	require.NoError(t, reg.Init(context.Background()))
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func threeProviders() (a, b, c *fakeUnit) {
	a = searchUnit("A", &models.SearchResult{
		Data:  []models.MediaItem{{ID: "1", Platform: "spoofed", Title: "one"}, {ID: "2", Title: "two"}},
		IsEnd: models.Bool(false),
	})
	b = searchUnit("B", &models.SearchResult{Data: []models.MediaItem{}})
	c = searchUnit("C", nil)
	c.err = errors.New("upstream 500")
	return a, b, c
}

func TestSearchIsolatesFailingProviders(t *testing.T) {
	a, b, c := threeProviders()
	rec := newRecorder()
	m := New(newRegistry(t, a, b, c), utils.NewNopLogger(), Options{Recorder: rec})

	round := m.Search(context.Background(), "q", 1, models.MediaTypeMusic)

	assert.Equal(t, []string{"A", "B", "C"}, round.Platforms)
	require.Len(t, round.Results["A"].Data, 2)
	for _, item := range round.Results["A"].Data {
		assert.Equal(t, "A", item.Platform)
	}
	assert.Empty(t, round.Results["B"].Data)
	assert.Empty(t, round.Results["C"].Data)

	assert.Equal(t, OutcomeOK, rec.calls["A.search"])
	assert.Equal(t, OutcomeError, rec.calls["C.search"])
	assert.Equal(t, 3, rec.fanOuts["search"])
}

func TestSearchRecoversPanics(t *testing.T) {
	a, _, _ := threeProviders()
	bad := searchUnit("bad", nil)
	bad.panics = true
	rec := newRecorder()
	m := New(newRegistry(t, bad, a), utils.NewNopLogger(), Options{Recorder: rec})

	var round *SearchRound
	require.NotPanics(t, func() {
		round = m.Search(context.Background(), "q", 1, models.MediaTypeMusic)
	})
	assert.Equal(t, []string{"bad", "A"}, round.Platforms)
	assert.Empty(t, round.Results["bad"].Data)
	assert.Len(t, round.Results["A"].Data, 2)
	assert.Equal(t, OutcomePanic, rec.calls["bad.search"])
}

func TestSearchKeepsEnumerationOrder(t *testing.T) {
	slow := searchUnit("slow", &models.SearchResult{Data: []models.MediaItem{{ID: "s"}}})
	slow.delay = 50 * time.Millisecond
	fast := searchUnit("fast", &models.SearchResult{Data: []models.MediaItem{{ID: "f"}}})
	m := New(newRegistry(t, slow, fast), utils.NewNopLogger(), Options{FanOutConcurrency: 2})

	round := m.Search(context.Background(), "q", 1, models.MediaTypeMusic)
	assert.Equal(t, []string{"slow", "fast"}, round.Platforms)
}

func TestSearchFiltersBySupportedType(t *testing.T) {
	musicOnly := searchUnit("music", &models.SearchResult{Data: []models.MediaItem{{ID: "1"}}})
	musicOnly.info.SupportedSearchType = []models.MediaType{models.MediaTypeMusic}
	anything := searchUnit("any", &models.SearchResult{Data: []models.MediaItem{{ID: "1"}}})
	noSearch := &fakeUnit{info: models.ProviderInfo{Platform: "none"}}
	m := New(newRegistry(t, musicOnly, anything, noSearch), utils.NewNopLogger(), Options{})

	assert.Equal(t, []string{"music", "any"}, m.Search(context.Background(), "q", 1, models.MediaTypeMusic).Platforms)
	assert.Equal(t, []string{"any"}, m.Search(context.Background(), "q", 1, models.MediaTypeAlbum).Platforms)
}

func TestDisablingRemovesContributionImmediately(t *testing.T) {
	a, b, c := threeProviders()
	reg := newRegistry(t, a, b, c)
	m := New(reg, utils.NewNopLogger(), Options{})

	require.NoError(t, reg.SetEnabled(context.Background(), "A", false))
	round := m.Search(context.Background(), "q", 1, models.MediaTypeMusic)
	assert.Equal(t, []string{"B", "C"}, round.Platforms)
	assert.NotContains(t, round.Results, "A")

	require.NoError(t, reg.SetEnabled(context.Background(), "A", true))
	round = m.Search(context.Background(), "q", 1, models.MediaTypeMusic)
	assert.Equal(t, []string{"A", "B", "C"}, round.Platforms)
}

func TestSearchEachUsesPerProviderPages(t *testing.T) {
	a, b, c := threeProviders()
	m := New(newRegistry(t, a, b, c), utils.NewNopLogger(), Options{})

	round := m.SearchEach(context.Background(), "q", models.MediaTypeMusic, map[string]int{"A": 3, "C": 1})
	assert.Equal(t, []string{"A", "C"}, round.Platforms)
	assert.Equal(t, 3, a.lastPage)
	assert.Zero(t, b.lastPage)
}

func TestCallTimeout(t *testing.T) {
	slow := searchUnit("slow", &models.SearchResult{Data: []models.MediaItem{{ID: "1"}}})
	slow.delay = time.Minute
	fast := searchUnit("fast", &models.SearchResult{Data: []models.MediaItem{{ID: "2"}}})
	rec := newRecorder()
	m := New(newRegistry(t, slow, fast), utils.NewNopLogger(), Options{CallTimeout: 20 * time.Millisecond, Recorder: rec})

	start := time.Now()
	round := m.Search(context.Background(), "q", 1, models.MediaTypeMusic)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Empty(t, round.Results["slow"].Data)
	assert.Len(t, round.Results["fast"].Data, 1)
	assert.Equal(t, OutcomeTimeout, rec.calls["slow.search"])
}

func TestGetMediaSource(t *testing.T) {
	withSource := &fakeUnit{
		info:   models.ProviderInfo{Platform: "src"},
		caps:   provider.Capabilities(provider.CapMediaSource),
		source: &models.MediaSource{URL: "https://cdn/1.mp3"},
	}
	failing := &fakeUnit{
		info: models.ProviderInfo{Platform: "fail"},
		caps: provider.Capabilities(provider.CapMediaSource),
		err:  errors.New("boom"),
	}
	bare := &fakeUnit{info: models.ProviderInfo{Platform: "bare"}}
	reg := newRegistry(t, withSource, failing, bare)
	m := New(reg, utils.NewNopLogger(), Options{})
	ctx := context.Background()

	src := m.GetMediaSource(ctx, models.MediaItem{ID: "1", Platform: "src"}, models.QualityStandard)
	require.NotNil(t, src)
	assert.Equal(t, "https://cdn/1.mp3", src.URL)

	assert.Nil(t, m.GetMediaSource(ctx, models.MediaItem{ID: "1", Platform: "fail", URL: "https://x"}, models.QualityStandard))

	src = m.GetMediaSource(ctx, models.MediaItem{ID: "1", Platform: "bare", URL: "https://own/1.mp3"}, models.QualityHigh)
	require.NotNil(t, src)
	assert.Equal(t, "https://own/1.mp3", src.URL)
	assert.Nil(t, m.GetMediaSource(ctx, models.MediaItem{ID: "1", Platform: "bare"}, models.QualityHigh))

	assert.Nil(t, m.GetMediaSource(ctx, models.MediaItem{ID: "1", Platform: "missing", URL: "https://x"}, models.QualityStandard))

	require.NoError(t, reg.SetEnabled(ctx, "src", false))
	assert.Nil(t, m.GetMediaSource(ctx, models.MediaItem{ID: "1", Platform: "src"}, models.QualityStandard))
}

func TestGetRecommendTagsAndTopListsAreStamped(t *testing.T) {
	x := &fakeUnit{
		info: models.ProviderInfo{Platform: "x"},
		caps: provider.Capabilities(provider.CapRecommendTags).With(provider.CapTopLists),
		tags: &models.RecommendTags{
			Pinned: []models.Tag{{ID: "rock", Title: "Rock"}},
			Groups: []models.TagGroup{{Title: "Mood", Data: []models.Tag{{ID: "calm", Title: "Calm"}}}},
		},
		charts: []models.ChartGroup{{Title: "Official", Data: []models.MediaItem{{ID: "top"}}}},
	}
	broken := &fakeUnit{
		info: models.ProviderInfo{Platform: "broken"},
		caps: provider.Capabilities(provider.CapRecommendTags).With(provider.CapTopLists),
		err:  errors.New("nope"),
	}
	m := New(newRegistry(t, x, broken), utils.NewNopLogger(), Options{})
	ctx := context.Background()

	tags := m.GetRecommendTags(ctx)
	require.Len(t, tags, 2)
	assert.Equal(t, "x", tags[0].Tags.Pinned[0].Platform)
	assert.Equal(t, "x", tags[0].Tags.Groups[0].Platform)
	assert.Equal(t, "x", tags[0].Tags.Groups[0].Data[0].Platform)
	assert.Equal(t, "broken", tags[1].Platform)
	assert.Empty(t, tags[1].Tags.Pinned)

	charts := m.GetTopLists(ctx)
	require.Len(t, charts, 2)
	assert.Equal(t, "x", charts[0].Groups[0].Platform)
	assert.Equal(t, "x", charts[0].Groups[0].Data[0].Platform)
	assert.Empty(t, charts[1].Groups)
}

func TestImportsAndTagRouting(t *testing.T) {
	u := &fakeUnit{
		info: models.ProviderInfo{Platform: "imp"},
		caps: provider.Capabilities(provider.CapImportMusicItem).
			With(provider.CapImportSheet).
			With(provider.CapSheetsByTag),
		item:   &models.MediaItem{ID: "9", Title: "nine"},
		sheet:  []models.MediaItem{{ID: "a"}, {ID: "b", Platform: "other"}},
		result: &models.SearchResult{Data: []models.MediaItem{{ID: "sheet1"}}, IsEnd: models.Bool(true)},
	}
	m := New(newRegistry(t, u), utils.NewNopLogger(), Options{})
	ctx := context.Background()

	item := m.ImportMusicItem(ctx, "imp", "https://imp/9")
	require.NotNil(t, item)
	assert.Equal(t, "imp", item.Platform)

	items := m.ImportSheet(ctx, "imp", "https://imp/list")
	require.Len(t, items, 2)
	assert.Equal(t, "imp", items[0].Platform)
	assert.Equal(t, "imp", items[1].Platform)

	sheets := m.GetSheetsByTag(ctx, "imp", models.Tag{ID: "rock"}, 1)
	require.NotNil(t, sheets)
	assert.Equal(t, "imp", sheets.Data[0].Platform)
	assert.Equal(t, "imp", u.lastTag.Platform)

	assert.Nil(t, m.ImportMusicItem(ctx, "missing", "x"))
	assert.Nil(t, m.GetLyric(ctx, models.MediaItem{ID: "1", Platform: "imp"}))
}
