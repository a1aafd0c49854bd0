package handlers

import (
	"net/http"

	"norelock.dev/listenify/providerhost/internal/aggregate"
	"norelock.dev/listenify/providerhost/internal/host"
	"norelock.dev/listenify/providerhost/internal/models"
	"norelock.dev/listenify/providerhost/internal/utils"
)

// CatalogueHandler handles single-provider lookups, charts, tags and imports.
type CatalogueHandler struct {
	host       *host.Manager
	aggregator *aggregate.Aggregator
	logger     *utils.Logger
}

// NewCatalogueHandler creates a new catalogue handler.
func NewCatalogueHandler(m *host.Manager, aggregator *aggregate.Aggregator, logger *utils.Logger) *CatalogueHandler {
	return &CatalogueHandler{
		host:       m,
		aggregator: aggregator,
		logger:     logger.Named("catalogue_handler"),
	}
}

// ItemRequest addresses a provider through one of its items.
type ItemRequest struct {
	Item    models.MediaItem `json:"item"`
	Page    int              `json:"page" validate:"omitempty,min=1"`
	Quality models.Quality   `json:"quality" validate:"omitempty,oneof=low standard high super"`
	Type    models.MediaType `json:"type" validate:"omitempty,oneof=music album artist sheet lyric"`
}

// TagRequest lists sheets under a recommendation tag.
type TagRequest struct {
	Tag  models.Tag `json:"tag"`
	Page int        `json:"page" validate:"omitempty,min=1"`
}

// ImportRequest imports from a URL-like string.
type ImportRequest struct {
	Platform string `json:"platform" validate:"required,platform"`
	URL      string `json:"url" validate:"required,max=2048"`
}

// decodeItem reads an ItemRequest and applies defaults.
func decodeItem(w http.ResponseWriter, r *http.Request) (ItemRequest, bool) {
	var req ItemRequest
	if !decode(w, r, &req) || !validPlatform(w, req.Item.Platform) {
		return req, false
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.Quality == "" {
		req.Quality = models.QualityStandard
	}
	if req.Type == "" {
		req.Type = models.MediaTypeMusic
	}
	return req, true
}

// MediaSource handles requests for a playable source.
func (h *CatalogueHandler) MediaSource(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeItem(w, r)
	if !ok {
		return
	}
	respondResult(w, h.host.GetMediaSource(r.Context(), req.Item, req.Quality))
}

// MusicInfo handles requests for extra item details.
func (h *CatalogueHandler) MusicInfo(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeItem(w, r)
	if !ok {
		return
	}
	respondResult(w, h.host.GetMusicInfo(r.Context(), req.Item))
}

// Lyric handles requests for lyrics.
func (h *CatalogueHandler) Lyric(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeItem(w, r)
	if !ok {
		return
	}
	respondResult(w, h.host.GetLyric(r.Context(), req.Item))
}

// AlbumInfo handles requests for one page of an album.
func (h *CatalogueHandler) AlbumInfo(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeItem(w, r)
	if !ok {
		return
	}
	respondResult(w, h.host.GetAlbumInfo(r.Context(), req.Item, req.Page))
}

// SheetInfo handles requests for one page of a sheet.
func (h *CatalogueHandler) SheetInfo(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeItem(w, r)
	if !ok {
		return
	}
	respondResult(w, h.host.GetSheetInfo(r.Context(), req.Item, req.Page))
}

// ArtistWorks handles requests for one page of an artist's works.
func (h *CatalogueHandler) ArtistWorks(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeItem(w, r)
	if !ok {
		return
	}
	respondResult(w, h.host.GetArtistWorks(r.Context(), req.Item, req.Page, req.Type))
}

// TopLists handles requests for every provider's charts.
func (h *CatalogueHandler) TopLists(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithData(w, h.aggregator.TopLists(r.Context()))
}

// TopListDetail handles requests for one page of a chart.
func (h *CatalogueHandler) TopListDetail(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeItem(w, r)
	if !ok {
		return
	}
	respondResult(w, h.aggregator.TopListDetail(r.Context(), req.Item, req.Page))
}

// RecommendTags handles requests for merged recommendation tags.
func (h *CatalogueHandler) RecommendTags(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithData(w, h.aggregator.RecommendTags(r.Context()))
}

// SheetsByTag handles requests for sheets under a tag.
func (h *CatalogueHandler) SheetsByTag(w http.ResponseWriter, r *http.Request) {
	var req TagRequest
	if !decode(w, r, &req) || !validPlatform(w, req.Tag.Platform) {
		return
	}
	if req.Page == 0 {
		req.Page = 1
	}
	respondResult(w, h.aggregator.SheetsByTag(r.Context(), req.Tag, req.Page))
}

// ImportItem handles requests to import a single item.
func (h *CatalogueHandler) ImportItem(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !decode(w, r, &req) {
		return
	}
	respondResult(w, h.aggregator.ImportItem(r.Context(), req.Platform, req.URL))
}

// ImportSheet handles requests to import a sheet. An empty list means nothing was imported.
func (h *CatalogueHandler) ImportSheet(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !decode(w, r, &req) {
		return
	}
	utils.RespondWithData(w, h.aggregator.ImportSheet(r.Context(), req.Platform, req.URL))
}
