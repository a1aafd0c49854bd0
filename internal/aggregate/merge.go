// Package aggregate builds merged pages out of per-provider host results.
package aggregate

import (
	"github.com/samber/lo"

	"norelock.dev/listenify/providerhost/internal/host"
	"norelock.dev/listenify/providerhost/internal/models"
)

// Page is one merged page of items.
type Page struct {
	Items   []models.MediaItem `json:"data"`
	HasMore bool               `json:"hasMore"`
}

// MergeSearch concatenates results in enumeration order and drops repeated
// (id, platform) pairs, keeping the first. HasMore is true only when some
// provider returned data and explicitly reported isEnd=false.
func MergeSearch(round *host.SearchRound) Page {
	return mergeSeen(round, make(map[models.ItemKey]struct{}))
}

// mergeSeen is MergeSearch with a dedupe set that outlives the round.
func mergeSeen(round *host.SearchRound, seen map[models.ItemKey]struct{}) Page {
	page := Page{Items: []models.MediaItem{}}
	if round == nil {
		return page
	}
	for _, platform := range round.Platforms {
		r := round.Results[platform]
		if r == nil {
			continue
		}
		for _, item := range r.Data {
			key := item.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			page.Items = append(page.Items, item)
		}
		if r.ReportsMore() {
			page.HasMore = true
		}
	}
	return page
}

// MergedTags is every provider's tags, each namespaced by its platform.
type MergedTags struct {
	Pinned []models.Tag      `json:"pinned"`
	Groups []models.TagGroup `json:"data"`
}

// MergeTags carries tags through in enumeration order. Tags are only
// deduplicated by (platform, id); equal titles from two providers stay apart.
func MergeTags(all []host.PlatformTags) MergedTags {
	out := MergedTags{Pinned: []models.Tag{}, Groups: []models.TagGroup{}}
	for _, pt := range all {
		if pt.Tags == nil {
			continue
		}
		out.Pinned = append(out.Pinned, pt.Tags.Pinned...)
		out.Groups = append(out.Groups, pt.Tags.Groups...)
	}
	out.Pinned = lo.UniqBy(out.Pinned, func(t models.Tag) [2]string {
		return [2]string{t.Platform, t.ID}
	})
	return out
}

// MergeCharts flattens every provider's chart groups in enumeration order.
func MergeCharts(all []host.PlatformCharts) []models.ChartGroup {
	out := []models.ChartGroup{}
	for _, pc := range all {
		out = append(out, pc.Groups...)
	}
	return out
}
