package provider

import (
	"context"

	"norelock.dev/listenify/providerhost/internal/models"
)

// Stub is the identity-only unit handed out when a load fails, so callers
// only ever check for missing capabilities, never for a missing unit.
type Stub struct {
	Base
	info models.ProviderInfo
}

// NewStub returns a stub carrying whatever identity could be recovered.
func NewStub(info models.ProviderInfo) *Stub {
	return &Stub{info: info}
}

// Info returns the recovered identity.
func (s *Stub) Info() models.ProviderInfo {
	return s.info
}

// Capabilities is always empty for a stub.
func (s *Stub) Capabilities() Capabilities {
	return 0
}

// Search returns a finished, empty page.
func (s *Stub) Search(context.Context, string, int, models.MediaType) (*models.SearchResult, error) {
	return models.EmptyResult(), nil
}

// GetMediaSource returns nil.
func (s *Stub) GetMediaSource(context.Context, models.MediaItem, models.Quality) (*models.MediaSource, error) {
	return nil, nil
}

// GetAlbumInfo returns nil.
func (s *Stub) GetAlbumInfo(context.Context, models.MediaItem, int) (*models.AlbumInfo, error) {
	return nil, nil
}
