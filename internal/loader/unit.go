package loader

import (
	"context"

	"norelock.dev/listenify/providerhost/internal/models"
	"norelock.dev/listenify/providerhost/internal/provider"
)

// ScriptUnit is a provider implemented by an interpreted module.
type ScriptUnit struct {
	info models.ProviderInfo
	caps provider.Capabilities
	path string
	pool *runtimePool
}

var _ provider.Unit = (*ScriptUnit)(nil)

// Info returns the identity read at load time.
func (u *ScriptUnit) Info() models.ProviderInfo {
	return u.info
}

// Capabilities returns the methods the module exported.
func (u *ScriptUnit) Capabilities() provider.Capabilities {
	return u.caps
}

// Path returns the diagnostic path the unit was loaded from.
func (u *ScriptUnit) Path() string {
	return u.path
}

// Close makes the unit refuse further calls.
func (u *ScriptUnit) Close() error {
	u.pool.close()
	return nil
}

// call runs method on a pooled runtime, waiting for one to be free.
func (u *ScriptUnit) call(ctx context.Context, c provider.Capability, args ...any) (any, error) {
	if !u.caps.Has(c) {
		return nil, provider.ErrUnsupported
	}
	rt, err := u.pool.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer u.pool.release(rt)
	return rt.invoke(ctx, c.MethodName(), args...)
}

func (u *ScriptUnit) Search(ctx context.Context, query string, page int, t models.MediaType) (*models.SearchResult, error) {
	v, err := u.call(ctx, provider.CapSearch, query, page, string(t))
	if err != nil {
		return nil, err
	}
	return toSearchResult(v), nil
}

func (u *ScriptUnit) GetMediaSource(ctx context.Context, item models.MediaItem, quality models.Quality) (*models.MediaSource, error) {
	v, err := u.call(ctx, provider.CapMediaSource, item.ToMap(), string(quality))
	if err != nil {
		return nil, err
	}
	return toMediaSource(v), nil
}

func (u *ScriptUnit) GetMusicInfo(ctx context.Context, item models.MediaItem) (*models.MediaItem, error) {
	v, err := u.call(ctx, provider.CapMusicInfo, item.ToMap())
	if err != nil {
		return nil, err
	}
	return toItem(v), nil
}

func (u *ScriptUnit) GetLyric(ctx context.Context, item models.MediaItem) (*models.Lyric, error) {
	v, err := u.call(ctx, provider.CapLyric, item.ToMap())
	if err != nil {
		return nil, err
	}
	return toLyric(v), nil
}

func (u *ScriptUnit) GetAlbumInfo(ctx context.Context, album models.MediaItem, page int) (*models.AlbumInfo, error) {
	v, err := u.call(ctx, provider.CapAlbumInfo, album.ToMap(), page)
	if err != nil {
		return nil, err
	}
	return toAlbumInfo(v), nil
}

func (u *ScriptUnit) GetSheetInfo(ctx context.Context, sheet models.MediaItem, page int) (*models.SheetInfo, error) {
	v, err := u.call(ctx, provider.CapSheetInfo, sheet.ToMap(), page)
	if err != nil {
		return nil, err
	}
	return toSheetInfo(v), nil
}

func (u *ScriptUnit) GetArtistWorks(ctx context.Context, artist models.MediaItem, page int, t models.MediaType) (*models.SearchResult, error) {
	v, err := u.call(ctx, provider.CapArtistWorks, artist.ToMap(), page, string(t))
	if err != nil {
		return nil, err
	}
	return toSearchResult(v), nil
}

func (u *ScriptUnit) ImportMusicItem(ctx context.Context, urlLike string) (*models.MediaItem, error) {
	v, err := u.call(ctx, provider.CapImportMusicItem, urlLike)
	if err != nil {
		return nil, err
	}
	return toItem(v), nil
}

func (u *ScriptUnit) ImportSheet(ctx context.Context, urlLike string) ([]models.MediaItem, error) {
	v, err := u.call(ctx, provider.CapImportSheet, urlLike)
	if err != nil || v == nil {
		return nil, err
	}
	return toItems(v), nil
}

func (u *ScriptUnit) GetTopLists(ctx context.Context) ([]models.ChartGroup, error) {
	v, err := u.call(ctx, provider.CapTopLists)
	if err != nil {
		return nil, err
	}
	return toChartGroups(v), nil
}

func (u *ScriptUnit) GetTopListDetail(ctx context.Context, chart models.MediaItem, page int) (*models.SheetInfo, error) {
	v, err := u.call(ctx, provider.CapTopListDetail, chart.ToMap(), page)
	if err != nil {
		return nil, err
	}
	return toSheetInfo(v, "topListItem"), nil
}

func (u *ScriptUnit) GetRecommendTags(ctx context.Context) (*models.RecommendTags, error) {
	v, err := u.call(ctx, provider.CapRecommendTags)
	if err != nil {
		return nil, err
	}
	return toRecommendTags(v), nil
}

func (u *ScriptUnit) GetSheetsByTag(ctx context.Context, tag models.Tag, page int) (*models.SearchResult, error) {
	tagArg := map[string]any{"id": tag.ID, "title": tag.Title}
	v, err := u.call(ctx, provider.CapSheetsByTag, tagArg, page)
	if err != nil {
		return nil, err
	}
	return toSearchResult(v), nil
}
