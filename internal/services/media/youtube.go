// Package media holds the built-in Go providers registered alongside
// script providers.
package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ytget/ytdlp/v2"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"norelock.dev/listenify/providerhost/internal/models"
	"norelock.dev/listenify/providerhost/internal/provider"
	"norelock.dev/listenify/providerhost/internal/utils"
)

// YouTubePlatform is the platform key of the built-in YouTube provider.
const YouTubePlatform = "youtube"

const (
	youtubeWatchURL   = "https://www.youtube.com/watch?v=%s"
	youtubeMusicTopic = "10"
	searchPageSize    = 20
	maxPageTokens     = 1000
)

// PlaylistFetcher lists the videos of a playlist.
type PlaylistFetcher func(ctx context.Context, playlistID string) ([]models.MediaItem, error)

// YouTubeProvider is a built-in provider backed by the YouTube Data API.
// Playlist imports go through ytdlp and need no API quota.
type YouTubeProvider struct {
	provider.Base

	service   *youtube.Service
	playlists PlaylistFetcher
	logger    *utils.Logger

	mu     sync.Mutex
	tokens map[string]string
}

// YouTubeOption configures the provider.
type YouTubeOption func(*youtubeConfig)

type youtubeConfig struct {
	clientOptions []option.ClientOption
	playlists     PlaylistFetcher
}

// WithClientOptions passes extra options to the API client.
func WithClientOptions(opts ...option.ClientOption) YouTubeOption {
	return func(c *youtubeConfig) {
		c.clientOptions = append(c.clientOptions, opts...)
	}
}

// WithPlaylistFetcher replaces the ytdlp playlist lookup.
func WithPlaylistFetcher(f PlaylistFetcher) YouTubeOption {
	return func(c *youtubeConfig) {
		c.playlists = f
	}
}

// NewYouTubeProvider creates the provider.
func NewYouTubeProvider(ctx context.Context, apiKey string, logger *utils.Logger, opts ...YouTubeOption) (*YouTubeProvider, error) {
	cfg := youtubeConfig{playlists: ytdlpPlaylist}
	for _, opt := range opts {
		opt(&cfg)
	}

	service, err := youtube.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, cfg.clientOptions...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}

	return &YouTubeProvider{
		service:   service,
		playlists: cfg.playlists,
		logger:    logger.Named("youtube_provider"),
		tokens:    make(map[string]string),
	}, nil
}

// Info implements provider.Unit.
func (p *YouTubeProvider) Info() models.ProviderInfo {
	return models.ProviderInfo{
		Platform:            YouTubePlatform,
		Version:             "1.0.0",
		Author:              "listenify",
		Description:         "YouTube videos and playlists",
		CacheControl:        models.CacheControlNoCache,
		SupportedSearchType: []models.MediaType{models.MediaTypeMusic, models.MediaTypeSheet},
		DefaultSearchType:   models.MediaTypeMusic,
	}
}

// Capabilities implements provider.Unit.
func (p *YouTubeProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities(provider.CapSearch).
		With(provider.CapMediaSource).
		With(provider.CapMusicInfo).
		With(provider.CapImportMusicItem).
		With(provider.CapImportSheet)
}

// Search searches videos, or playlists for the sheet type. Pages past the
// first follow the API's page tokens from earlier calls.
func (p *YouTubeProvider) Search(ctx context.Context, query string, page int, t models.MediaType) (*models.SearchResult, error) {
	p.logger.Debug("Searching YouTube", "query", query, "page", page, "type", string(t))

	kind := "video"
	if t == models.MediaTypeSheet {
		kind = "playlist"
	}

	call := p.service.Search.List([]string{"id", "snippet"}).
		Q(query).
		Type(kind).
		MaxResults(searchPageSize)
	if kind == "video" {
		call = call.VideoCategoryId(youtubeMusicTopic)
	}
	if page > 1 {
		token, ok := p.pageToken(query, kind, page)
		if !ok {
			return models.EmptyResult(), nil
		}
		call = call.PageToken(token)
	}

	response, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to search YouTube: %w", err)
	}

	items := make([]models.MediaItem, 0, len(response.Items))
	for _, item := range response.Items {
		if item.Id == nil || item.Snippet == nil {
			continue
		}
		switch item.Id.Kind {
		case "youtube#video":
			items = append(items, models.MediaItem{
				ID:          item.Id.VideoId,
				Title:       item.Snippet.Title,
				Artist:      item.Snippet.ChannelTitle,
				Artwork:     getBestThumbnail(item.Snippet.Thumbnails),
				Description: item.Snippet.Description,
				URL:         fmt.Sprintf(youtubeWatchURL, item.Id.VideoId),
			})
		case "youtube#playlist":
			items = append(items, models.MediaItem{
				ID:          item.Id.PlaylistId,
				Title:       item.Snippet.Title,
				Artist:      item.Snippet.ChannelTitle,
				Artwork:     getBestThumbnail(item.Snippet.Thumbnails),
				Description: item.Snippet.Description,
			})
		}
	}

	if response.NextPageToken != "" {
		p.setPageToken(query, kind, page+1, response.NextPageToken)
	}
	return &models.SearchResult{Data: items, IsEnd: models.Bool(response.NextPageToken == "")}, nil
}

// GetMediaSource returns the watch page of the video.
func (p *YouTubeProvider) GetMediaSource(_ context.Context, item models.MediaItem, quality models.Quality) (*models.MediaSource, error) {
	if item.ID == "" {
		return nil, nil
	}
	return &models.MediaSource{URL: fmt.Sprintf(youtubeWatchURL, item.ID), Quality: quality}, nil
}

// GetMusicInfo fetches the video's snippet and duration.
func (p *YouTubeProvider) GetMusicInfo(ctx context.Context, item models.MediaItem) (*models.MediaItem, error) {
	return p.video(ctx, item.ID)
}

// ImportMusicItem resolves a watch, short or youtu.be URL, or a bare id.
func (p *YouTubeProvider) ImportMusicItem(ctx context.Context, urlLike string) (*models.MediaItem, error) {
	id, ok := ExtractVideoID(urlLike)
	if !ok {
		return nil, fmt.Errorf("not a YouTube video: %s", urlLike)
	}
	return p.video(ctx, id)
}

// ImportSheet lists every video of a playlist URL or id.
func (p *YouTubeProvider) ImportSheet(ctx context.Context, urlLike string) ([]models.MediaItem, error) {
	id, ok := ExtractPlaylistID(urlLike)
	if !ok {
		return nil, fmt.Errorf("not a YouTube playlist: %s", urlLike)
	}
	items, err := p.playlists(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist items: %w", err)
	}
	p.logger.Debug("Imported YouTube playlist", "playlist", id, "items", len(items))
	return items, nil
}

func (p *YouTubeProvider) video(ctx context.Context, id string) (*models.MediaItem, error) {
	response, err := p.service.Videos.List([]string{"snippet", "contentDetails"}).
		Id(id).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get video details: %w", err)
	}
	if len(response.Items) == 0 || response.Items[0].Snippet == nil {
		return nil, fmt.Errorf("video not found: %s", id)
	}

	video := response.Items[0]
	item := &models.MediaItem{
		ID:          id,
		Title:       video.Snippet.Title,
		Artist:      video.Snippet.ChannelTitle,
		Artwork:     getBestThumbnail(video.Snippet.Thumbnails),
		Description: video.Snippet.Description,
		URL:         fmt.Sprintf(youtubeWatchURL, id),
	}
	if video.ContentDetails != nil {
		duration, err := parseDuration(video.ContentDetails.Duration)
		if err != nil {
			p.logger.Warn("Failed to parse duration", "duration", video.ContentDetails.Duration, "error", err)
		}
		item.Duration = float64(duration)
	}
	return item, nil
}

func tokenKey(query, kind string, page int) string {
	return kind + "\x00" + strconv.Itoa(page) + "\x00" + query
}

func (p *YouTubeProvider) pageToken(query, kind string, page int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	token, ok := p.tokens[tokenKey(query, kind, page)]
	return token, ok
}

func (p *YouTubeProvider) setPageToken(query, kind string, page int, token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tokens) >= maxPageTokens {
		clear(p.tokens)
	}
	p.tokens[tokenKey(query, kind, page)] = token
}

// ytdlpPlaylist fetches playlist entries without the Data API.
func ytdlpPlaylist(ctx context.Context, playlistID string) ([]models.MediaItem, error) {
	entries, err := ytdlp.New().GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, err
	}
	items := make([]models.MediaItem, 0, len(entries))
	for _, it := range entries {
		items = append(items, models.MediaItem{
			ID:    it.VideoID,
			Title: it.Title,
			URL:   fmt.Sprintf(youtubeWatchURL, it.VideoID),
		})
	}
	return items, nil
}

// parseDuration parses an ISO 8601 duration string into seconds.
func parseDuration(isoDuration string) (int, error) {
	duration := strings.TrimPrefix(isoDuration, "PT")

	var hours, minutes, seconds int

	if idx := strings.Index(duration, "H"); idx != -1 {
		h, err := strconv.Atoi(duration[:idx])
		if err != nil {
			return 0, err
		}
		hours = h
		duration = duration[idx+1:]
	}

	if idx := strings.Index(duration, "M"); idx != -1 {
		m, err := strconv.Atoi(duration[:idx])
		if err != nil {
			return 0, err
		}
		minutes = m
		duration = duration[idx+1:]
	}

	if idx := strings.Index(duration, "S"); idx != -1 {
		s, err := strconv.Atoi(duration[:idx])
		if err != nil {
			return 0, err
		}
		seconds = s
	}

	return hours*3600 + minutes*60 + seconds, nil
}

// getBestThumbnail returns the best quality thumbnail URL.
func getBestThumbnail(thumbnails *youtube.ThumbnailDetails) string {
	if thumbnails == nil {
		return ""
	}
	for _, t := range []*youtube.Thumbnail{
		thumbnails.Maxres,
		thumbnails.High,
		thumbnails.Medium,
		thumbnails.Standard,
		thumbnails.Default,
	} {
		if t != nil && t.Url != "" {
			return t.Url
		}
	}
	return ""
}
