package loader

import (
	"norelock.dev/listenify/providerhost/internal/models"
)

// Provider output is untrusted: every converter tolerates missing or
// mistyped fields and returns nil when nothing usable came back.

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []map[string]any:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out
	default:
		return nil
	}
}

func asBoolPtr(v any) *bool {
	b, ok := v.(bool)
	if !ok {
		return nil
	}
	return &b
}

func toItems(v any) []models.MediaItem {
	raw := asSlice(v)
	items := make([]models.MediaItem, 0, len(raw))
	for _, r := range raw {
		if m, ok := asMap(r); ok {
			items = append(items, models.ItemFromMap(m))
		}
	}
	return items
}

func toItem(v any) *models.MediaItem {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	item := models.ItemFromMap(m)
	return &item
}

func toSearchResult(v any) *models.SearchResult {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	return &models.SearchResult{
		Data:  toItems(m["data"]),
		IsEnd: asBoolPtr(m["isEnd"]),
	}
}

func toMediaSource(v any) *models.MediaSource {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	src := &models.MediaSource{
		URL:       models.AnyToString(m["url"]),
		UserAgent: models.AnyToString(m["userAgent"]),
		Quality:   models.Quality(models.AnyToString(m["quality"])),
	}
	if src.URL == "" {
		return nil
	}
	if headers, ok := asMap(m["headers"]); ok {
		src.Headers = make(map[string]string, len(headers))
		for k, h := range headers {
			src.Headers[k] = models.AnyToString(h)
		}
	}
	return src
}

func toLyric(v any) *models.Lyric {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	raw := models.AnyToString(m["rawLrc"])
	if raw == "" {
		raw = models.AnyToString(m["rawText"])
	}
	if raw == "" {
		return nil
	}
	return &models.Lyric{RawLrc: raw, Translation: models.AnyToString(m["translation"])}
}

func toAlbumInfo(v any) *models.AlbumInfo {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	return &models.AlbumInfo{
		Album: toItem(m["albumItem"]),
		Items: toItems(m["musicList"]),
		IsEnd: asBoolPtr(m["isEnd"]),
	}
}

func toSheetInfo(v any, headerKeys ...string) *models.SheetInfo {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	info := &models.SheetInfo{
		Items: toItems(m["musicList"]),
		IsEnd: asBoolPtr(m["isEnd"]),
	}
	for _, k := range append([]string{"sheetItem"}, headerKeys...) {
		if item := toItem(m[k]); item != nil {
			info.Sheet = item
			break
		}
	}
	return info
}

func toChartGroups(v any) []models.ChartGroup {
	raw := asSlice(v)
	groups := make([]models.ChartGroup, 0, len(raw))
	for _, r := range raw {
		m, ok := asMap(r)
		if !ok {
			continue
		}
		groups = append(groups, models.ChartGroup{
			Title: models.AnyToString(m["title"]),
			Data:  toItems(m["data"]),
		})
	}
	return groups
}

func toTags(v any) []models.Tag {
	raw := asSlice(v)
	tags := make([]models.Tag, 0, len(raw))
	for _, r := range raw {
		m, ok := asMap(r)
		if !ok {
			continue
		}
		tags = append(tags, models.Tag{
			ID:    models.AnyToString(m["id"]),
			Title: models.AnyToString(m["title"]),
		})
	}
	return tags
}

func toRecommendTags(v any) *models.RecommendTags {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	out := &models.RecommendTags{Pinned: toTags(m["pinned"])}
	for _, r := range asSlice(m["data"]) {
		g, ok := asMap(r)
		if !ok {
			continue
		}
		out.Groups = append(out.Groups, models.TagGroup{
			Title: models.AnyToString(g["title"]),
			Data:  toTags(g["data"]),
		})
	}
	return out
}

func toStrings(v any) []string {
	raw := asSlice(v)
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// toInfo reads identity and declarative metadata off the module exports.
// User variable definitions without a key are dropped.
func toInfo(m map[string]any) models.ProviderInfo {
	info := models.ProviderInfo{
		Platform:          stringField(m, "platform"),
		Version:           stringField(m, "version"),
		Author:            stringField(m, "author"),
		SrcURL:            stringField(m, "srcUrl"),
		Description:       stringField(m, "description"),
		AppVersion:        stringField(m, "appVersion"),
		PrimaryKey:        toStrings(m["primaryKey"]),
		CacheControl:      models.CacheControl(stringField(m, "cacheControl")),
		DefaultSearchType: models.MediaType(stringField(m, "defaultSearchType")),
	}
	for _, t := range toStrings(m["supportedSearchType"]) {
		info.SupportedSearchType = append(info.SupportedSearchType, models.MediaType(t))
	}
	for _, r := range asSlice(m["userVariables"]) {
		def, ok := asMap(r)
		if !ok {
			continue
		}
		key := stringField(def, "key")
		if key == "" {
			continue
		}
		info.UserVariables = append(info.UserVariables, models.UserVariableDef{
			Key:  key,
			Name: stringField(def, "name"),
			Hint: stringField(def, "hint"),
		})
	}
	return info
}

// stringField only accepts real strings, unlike AnyToString.
func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
