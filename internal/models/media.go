// Package models contains the data structures used throughout the application.
package models

import (
	"fmt"
	"maps"
	"strconv"
)

// MediaType selects which kind of entity a search or listing returns.
type MediaType string

const (
	MediaTypeMusic  MediaType = "music"
	MediaTypeAlbum  MediaType = "album"
	MediaTypeArtist MediaType = "artist"
	MediaTypeSheet  MediaType = "sheet"
	MediaTypeLyric  MediaType = "lyric"
)

// Quality is the requested media source quality.
type Quality string

const (
	QualityLow      Quality = "low"
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
	QualitySuper    Quality = "super"
)

// MediaItem is the minimal cross-provider shape shared by music items,
// albums, artists, sheets and chart entries. Only ID, Platform and one
// display field are expected to be set; everything else is optional and
// anything a provider returns beyond the known fields is kept in Extra.
type MediaItem struct {
	// ID is opaque and provider-defined.
	ID string `json:"id"`

	// Platform is stamped by the host and never trusted from provider output.
	Platform string `json:"platform"`

	Title       string  `json:"title,omitempty"`
	Name        string  `json:"name,omitempty"`
	Artist      string  `json:"artist,omitempty"`
	Album       string  `json:"album,omitempty"`
	Artwork     string  `json:"artwork,omitempty"`
	Description string  `json:"description,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	URL         string  `json:"url,omitempty"`

	// Extra is the provider-specific extension bag.
	Extra map[string]any `json:"extra,omitempty"`
}

// knownItemKeys are the keys decoded into typed MediaItem fields.
var knownItemKeys = map[string]struct{}{
	"id": {}, "platform": {}, "title": {}, "name": {}, "artist": {}, "album": {},
	"artwork": {}, "description": {}, "duration": {}, "url": {},
}

// DisplayName returns the first non-empty display field.
func (m MediaItem) DisplayName() string {
	if m.Title != "" {
		return m.Title
	}
	return m.Name
}

// Key identifies an item across providers: the same id from two providers is two items.
func (m MediaItem) Key() ItemKey {
	return ItemKey{ID: m.ID, Platform: m.Platform}
}

// ItemKey is the (id, platform) identity pair.
type ItemKey struct {
	ID       string
	Platform string
}

// ToMap flattens the item back into the loose object shape providers consume.
func (m MediaItem) ToMap() map[string]any {
	out := make(map[string]any, len(m.Extra)+10)
	maps.Copy(out, m.Extra)
	out["id"] = m.ID
	out["platform"] = m.Platform
	setIfNotEmpty(out, "title", m.Title)
	setIfNotEmpty(out, "name", m.Name)
	setIfNotEmpty(out, "artist", m.Artist)
	setIfNotEmpty(out, "album", m.Album)
	setIfNotEmpty(out, "artwork", m.Artwork)
	setIfNotEmpty(out, "description", m.Description)
	setIfNotEmpty(out, "url", m.URL)
	if m.Duration > 0 {
		out["duration"] = m.Duration
	}
	return out
}

// ItemFromMap decodes a loose provider object. Numeric ids are formatted as
// strings; unknown keys land in Extra.
func ItemFromMap(raw map[string]any) MediaItem {
	item := MediaItem{
		ID:          AnyToString(raw["id"]),
		Platform:    AnyToString(raw["platform"]),
		Title:       AnyToString(raw["title"]),
		Name:        AnyToString(raw["name"]),
		Artist:      AnyToString(raw["artist"]),
		Album:       AnyToString(raw["album"]),
		Artwork:     AnyToString(raw["artwork"]),
		Description: AnyToString(raw["description"]),
		Duration:    AnyToFloat(raw["duration"]),
		URL:         AnyToString(raw["url"]),
	}
	for k, v := range raw {
		if _, known := knownItemKeys[k]; known {
			continue
		}
		if item.Extra == nil {
			item.Extra = make(map[string]any)
		}
		item.Extra[k] = v
	}
	return item
}

// StampPlatform overwrites the platform of every item.
func StampPlatform(items []MediaItem, platform string) []MediaItem {
	for i := range items {
		items[i].Platform = platform
	}
	return items
}

// AnyToString renders scalar provider values as strings.
func AnyToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// AnyToFloat converts numeric or numeric-string provider values.
func AnyToFloat(v any) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func setIfNotEmpty(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// Bool returns a pointer to b, for the tri-state isEnd fields.
func Bool(b bool) *bool {
	return &b
}

// SearchResult is one provider's page of results.
// IsEnd is nil when the provider did not report it.
type SearchResult struct {
	Data  []MediaItem `json:"data"`
	IsEnd *bool       `json:"isEnd,omitempty"`
}

// ReportsMore is true only when the provider returned data and explicitly said isEnd=false.
func (r *SearchResult) ReportsMore() bool {
	return r != nil && len(r.Data) > 0 && r.IsEnd != nil && !*r.IsEnd
}

// EmptyResult is a finished, empty page.
func EmptyResult() *SearchResult {
	return &SearchResult{Data: []MediaItem{}, IsEnd: Bool(true)}
}

// MediaSource is a playable location for an item.
type MediaSource struct {
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
	Quality   Quality           `json:"quality,omitempty"`
}

// Lyric is the raw lyric text of an item.
type Lyric struct {
	RawLrc      string `json:"rawLrc"`
	Translation string `json:"translation,omitempty"`
}

// AlbumInfo is one page of an album.
type AlbumInfo struct {
	Album *MediaItem  `json:"albumItem,omitempty"`
	Items []MediaItem `json:"musicList"`
	IsEnd *bool       `json:"isEnd,omitempty"`
}

// SheetInfo is one page of a sheet (playlist) or chart detail.
type SheetInfo struct {
	Sheet *MediaItem  `json:"sheetItem,omitempty"`
	Items []MediaItem `json:"musicList"`
	IsEnd *bool       `json:"isEnd,omitempty"`
}

// ChartGroup is a titled group of charts (top lists).
type ChartGroup struct {
	Title    string      `json:"title"`
	Platform string      `json:"platform,omitempty"`
	Data     []MediaItem `json:"data"`
}

// Tag is a recommendation tag. Identity is (Platform, ID).
type Tag struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Platform string `json:"platform,omitempty"`
}

// TagGroup is a titled group of tags.
type TagGroup struct {
	Title    string `json:"title"`
	Platform string `json:"platform,omitempty"`
	Data     []Tag  `json:"data"`
}

// RecommendTags is what a provider offers for sheet discovery.
type RecommendTags struct {
	Pinned []Tag      `json:"pinned"`
	Groups []TagGroup `json:"data"`
}
