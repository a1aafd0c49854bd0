// Package provider defines the capability contract every media provider implements.
package provider

import (
	"context"
	"errors"

	"norelock.dev/listenify/providerhost/internal/models"
)

// ErrUnsupported is returned when a unit is asked for a capability it does not have.
var ErrUnsupported = errors.New("capability not supported by provider")

// Unit is a loaded, callable provider.
// Only Info is required to be meaningful; every other method may return
// ErrUnsupported, in which case the matching bit is absent from Capabilities.
type Unit interface {
	// Info returns the immutable identity and declarative metadata.
	Info() models.ProviderInfo

	// Capabilities returns the set of methods this unit actually implements.
	Capabilities() Capabilities

	Search(ctx context.Context, query string, page int, t models.MediaType) (*models.SearchResult, error)
	GetMediaSource(ctx context.Context, item models.MediaItem, quality models.Quality) (*models.MediaSource, error)
	GetMusicInfo(ctx context.Context, item models.MediaItem) (*models.MediaItem, error)
	GetLyric(ctx context.Context, item models.MediaItem) (*models.Lyric, error)
	GetAlbumInfo(ctx context.Context, album models.MediaItem, page int) (*models.AlbumInfo, error)
	GetSheetInfo(ctx context.Context, sheet models.MediaItem, page int) (*models.SheetInfo, error)
	GetArtistWorks(ctx context.Context, artist models.MediaItem, page int, t models.MediaType) (*models.SearchResult, error)
	ImportMusicItem(ctx context.Context, urlLike string) (*models.MediaItem, error)
	ImportSheet(ctx context.Context, urlLike string) ([]models.MediaItem, error)
	GetTopLists(ctx context.Context) ([]models.ChartGroup, error)
	GetTopListDetail(ctx context.Context, chart models.MediaItem, page int) (*models.SheetInfo, error)
	GetRecommendTags(ctx context.Context) (*models.RecommendTags, error)
	GetSheetsByTag(ctx context.Context, tag models.Tag, page int) (*models.SearchResult, error)
}

// Closer is implemented by units holding resources that must be released
// when the unit is removed or replaced.
type Closer interface {
	Close() error
}

// Release closes u if it holds resources.
func Release(u Unit) error {
	if c, ok := u.(Closer); ok {
		return c.Close()
	}
	return nil
}

// Base implements every capability as unsupported. Built-in units embed it
// and override the methods they provide.
type Base struct{}

func (Base) Search(context.Context, string, int, models.MediaType) (*models.SearchResult, error) {
	return nil, ErrUnsupported
}

func (Base) GetMediaSource(context.Context, models.MediaItem, models.Quality) (*models.MediaSource, error) {
	return nil, ErrUnsupported
}

func (Base) GetMusicInfo(context.Context, models.MediaItem) (*models.MediaItem, error) {
	return nil, ErrUnsupported
}

func (Base) GetLyric(context.Context, models.MediaItem) (*models.Lyric, error) {
	return nil, ErrUnsupported
}

func (Base) GetAlbumInfo(context.Context, models.MediaItem, int) (*models.AlbumInfo, error) {
	return nil, ErrUnsupported
}

func (Base) GetSheetInfo(context.Context, models.MediaItem, int) (*models.SheetInfo, error) {
	return nil, ErrUnsupported
}

func (Base) GetArtistWorks(context.Context, models.MediaItem, int, models.MediaType) (*models.SearchResult, error) {
	return nil, ErrUnsupported
}

func (Base) ImportMusicItem(context.Context, string) (*models.MediaItem, error) {
	return nil, ErrUnsupported
}

func (Base) ImportSheet(context.Context, string) ([]models.MediaItem, error) {
	return nil, ErrUnsupported
}

func (Base) GetTopLists(context.Context) ([]models.ChartGroup, error) {
	return nil, ErrUnsupported
}

func (Base) GetTopListDetail(context.Context, models.MediaItem, int) (*models.SheetInfo, error) {
	return nil, ErrUnsupported
}

func (Base) GetRecommendTags(context.Context) (*models.RecommendTags, error) {
	return nil, ErrUnsupported
}

func (Base) GetSheetsByTag(context.Context, models.Tag, int) (*models.SearchResult, error) {
	return nil, ErrUnsupported
}
