package host

import (
	"context"

	"github.com/samber/lo"

	"norelock.dev/listenify/providerhost/internal/models"
	"norelock.dev/listenify/providerhost/internal/provider"
	"norelock.dev/listenify/providerhost/internal/registry"
)

// SearchRound is one unmerged search fan-out. Platforms is in registry
// enumeration order; every platform has an entry in Results, empty for
// providers that failed.
type SearchRound struct {
	Platforms []string
	Results   map[string]*models.SearchResult
}

// PlatformCharts is one provider's top lists.
type PlatformCharts struct {
	Platform string              `json:"platform"`
	Groups   []models.ChartGroup `json:"groups"`
}

// PlatformTags is one provider's recommendation tags.
type PlatformTags struct {
	Platform string                `json:"platform"`
	Tags     *models.RecommendTags `json:"tags"`
}

// Search asks every enabled provider that supports t for one page.
func (m *Manager) Search(ctx context.Context, query string, page int, t models.MediaType) *SearchRound {
	targets := m.searchTargets(t)
	return m.searchRound(ctx, targets, t, func(string) int { return page }, query)
}

// SearchEach asks the providers named in pages for their own page number.
// Providers not named, disabled or not supporting t are skipped.
func (m *Manager) SearchEach(ctx context.Context, query string, t models.MediaType, pages map[string]int) *SearchRound {
	targets := lo.Filter(m.searchTargets(t), func(s registry.Snapshot, _ int) bool {
		_, ok := pages[s.Info.Platform]
		return ok
	})
	return m.searchRound(ctx, targets, t, func(platform string) int { return pages[platform] }, query)
}

func (m *Manager) searchTargets(t models.MediaType) []registry.Snapshot {
	return lo.Filter(m.capable(provider.CapSearch), func(s registry.Snapshot, _ int) bool {
		return s.Info.SupportsSearchType(t)
	})
}

func (m *Manager) searchRound(ctx context.Context, targets []registry.Snapshot, t models.MediaType, pageFor func(string) int, query string) *SearchRound {
	results := fanOut(ctx, m, targets, "search", func(ctx context.Context, u provider.Unit) (*models.SearchResult, error) {
		platform := u.Info().Platform
		r, err := u.Search(ctx, query, pageFor(platform), t)
		return stampResult(r, platform), err
	})

	round := &SearchRound{
		Platforms: make([]string, len(targets)),
		Results:   make(map[string]*models.SearchResult, len(targets)),
	}
	for i, snap := range targets {
		r := results[i]
		if r == nil {
			r = models.EmptyResult()
		}
		if r.Data == nil {
			r.Data = []models.MediaItem{}
		}
		round.Platforms[i] = snap.Info.Platform
		round.Results[snap.Info.Platform] = r
	}
	return round
}

// GetTopLists collects every capable provider's charts, stamped with their platform.
func (m *Manager) GetTopLists(ctx context.Context) []PlatformCharts {
	targets := m.capable(provider.CapTopLists)
	groups := fanOut(ctx, m, targets, "getTopLists", func(ctx context.Context, u provider.Unit) ([]models.ChartGroup, error) {
		return u.GetTopLists(ctx)
	})

	out := make([]PlatformCharts, 0, len(targets))
	for i, snap := range targets {
		platform := snap.Info.Platform
		gs := groups[i]
		for j := range gs {
			gs[j].Platform = platform
			models.StampPlatform(gs[j].Data, platform)
		}
		if gs == nil {
			gs = []models.ChartGroup{}
		}
		out = append(out, PlatformCharts{Platform: platform, Groups: gs})
	}
	return out
}

// GetRecommendTags collects every capable provider's tags, stamped with their platform.
func (m *Manager) GetRecommendTags(ctx context.Context) []PlatformTags {
	targets := m.capable(provider.CapRecommendTags)
	all := fanOut(ctx, m, targets, "getRecommendSheetTags", func(ctx context.Context, u provider.Unit) (*models.RecommendTags, error) {
		return u.GetRecommendTags(ctx)
	})

	out := make([]PlatformTags, 0, len(targets))
	for i, snap := range targets {
		platform := snap.Info.Platform
		tags := all[i]
		if tags == nil {
			tags = &models.RecommendTags{}
		}
		stampTags(tags.Pinned, platform)
		for j := range tags.Groups {
			tags.Groups[j].Platform = platform
			stampTags(tags.Groups[j].Data, platform)
		}
		out = append(out, PlatformTags{Platform: platform, Tags: tags})
	}
	return out
}

func stampTags(tags []models.Tag, platform string) {
	for i := range tags {
		tags[i].Platform = platform
	}
}

// GetMediaSource resolves a playable source for item from its own provider.
// A provider without the capability yields the item's own url, if any.
func (m *Manager) GetMediaSource(ctx context.Context, item models.MediaItem, quality models.Quality) *models.MediaSource {
	snap, ok := m.resolve(item.Platform)
	if !ok {
		return nil
	}
	if !snap.Unit.Capabilities().Has(provider.CapMediaSource) {
		if item.URL == "" {
			return nil
		}
		return &models.MediaSource{URL: item.URL, Quality: quality}
	}
	src, _ := invoke(ctx, m, snap, "getMediaSource", func(ctx context.Context, u provider.Unit) (*models.MediaSource, error) {
		return u.GetMediaSource(ctx, item, quality)
	})
	return src
}

// GetMusicInfo returns extra details for item.
func (m *Manager) GetMusicInfo(ctx context.Context, item models.MediaItem) *models.MediaItem {
	snap, ok := m.single(item.Platform, provider.CapMusicInfo)
	if !ok {
		return nil
	}
	info, _ := invoke(ctx, m, snap, "getMusicInfo", func(ctx context.Context, u provider.Unit) (*models.MediaItem, error) {
		return u.GetMusicInfo(ctx, item)
	})
	return stampItem(info, snap.Info.Platform)
}

// GetLyric returns the lyric of item.
func (m *Manager) GetLyric(ctx context.Context, item models.MediaItem) *models.Lyric {
	snap, ok := m.single(item.Platform, provider.CapLyric)
	if !ok {
		return nil
	}
	lyric, _ := invoke(ctx, m, snap, "getLyric", func(ctx context.Context, u provider.Unit) (*models.Lyric, error) {
		return u.GetLyric(ctx, item)
	})
	return lyric
}

// GetAlbumInfo returns one page of album.
func (m *Manager) GetAlbumInfo(ctx context.Context, album models.MediaItem, page int) *models.AlbumInfo {
	snap, ok := m.single(album.Platform, provider.CapAlbumInfo)
	if !ok {
		return nil
	}
	info, _ := invoke(ctx, m, snap, "getAlbumInfo", func(ctx context.Context, u provider.Unit) (*models.AlbumInfo, error) {
		return u.GetAlbumInfo(ctx, album, page)
	})
	if info != nil {
		stampItem(info.Album, snap.Info.Platform)
		models.StampPlatform(info.Items, snap.Info.Platform)
	}
	return info
}

// GetSheetInfo returns one page of sheet.
func (m *Manager) GetSheetInfo(ctx context.Context, sheet models.MediaItem, page int) *models.SheetInfo {
	snap, ok := m.single(sheet.Platform, provider.CapSheetInfo)
	if !ok {
		return nil
	}
	info, _ := invoke(ctx, m, snap, "getMusicSheetInfo", func(ctx context.Context, u provider.Unit) (*models.SheetInfo, error) {
		return u.GetSheetInfo(ctx, sheet, page)
	})
	return stampSheet(info, snap.Info.Platform)
}

// GetArtistWorks returns one page of an artist's works of type t.
func (m *Manager) GetArtistWorks(ctx context.Context, artist models.MediaItem, page int, t models.MediaType) *models.SearchResult {
	snap, ok := m.single(artist.Platform, provider.CapArtistWorks)
	if !ok {
		return nil
	}
	works, _ := invoke(ctx, m, snap, "getArtistWorks", func(ctx context.Context, u provider.Unit) (*models.SearchResult, error) {
		return u.GetArtistWorks(ctx, artist, page, t)
	})
	return stampResult(works, snap.Info.Platform)
}

// GetTopListDetail returns one page of a chart, routed by the chart's platform.
func (m *Manager) GetTopListDetail(ctx context.Context, chart models.MediaItem, page int) *models.SheetInfo {
	snap, ok := m.single(chart.Platform, provider.CapTopListDetail)
	if !ok {
		return nil
	}
	detail, _ := invoke(ctx, m, snap, "getTopListDetail", func(ctx context.Context, u provider.Unit) (*models.SheetInfo, error) {
		return u.GetTopListDetail(ctx, chart, page)
	})
	return stampSheet(detail, snap.Info.Platform)
}

// GetSheetsByTag returns one page of sheets for tag from platform.
func (m *Manager) GetSheetsByTag(ctx context.Context, platform string, tag models.Tag, page int) *models.SearchResult {
	snap, ok := m.single(platform, provider.CapSheetsByTag)
	if !ok {
		return nil
	}
	tag.Platform = platform
	sheets, _ := invoke(ctx, m, snap, "getRecommendSheetsByTag", func(ctx context.Context, u provider.Unit) (*models.SearchResult, error) {
		return u.GetSheetsByTag(ctx, tag, page)
	})
	return stampResult(sheets, platform)
}

// ImportMusicItem resolves urlLike to one item on platform.
func (m *Manager) ImportMusicItem(ctx context.Context, platform, urlLike string) *models.MediaItem {
	snap, ok := m.single(platform, provider.CapImportMusicItem)
	if !ok {
		return nil
	}
	item, _ := invoke(ctx, m, snap, "importMusicItem", func(ctx context.Context, u provider.Unit) (*models.MediaItem, error) {
		return u.ImportMusicItem(ctx, urlLike)
	})
	return stampItem(item, platform)
}

// ImportSheet resolves urlLike to the items of a sheet on platform.
func (m *Manager) ImportSheet(ctx context.Context, platform, urlLike string) []models.MediaItem {
	snap, ok := m.single(platform, provider.CapImportSheet)
	if !ok {
		return nil
	}
	items, _ := invoke(ctx, m, snap, "importMusicSheet", func(ctx context.Context, u provider.Unit) ([]models.MediaItem, error) {
		return u.ImportSheet(ctx, urlLike)
	})
	return models.StampPlatform(items, platform)
}
