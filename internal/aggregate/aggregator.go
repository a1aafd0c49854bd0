package aggregate

import (
	"context"
	"maps"

	"norelock.dev/listenify/providerhost/internal/host"
	"norelock.dev/listenify/providerhost/internal/models"
	"norelock.dev/listenify/providerhost/internal/utils"
)

// Aggregator turns host fan-outs into merged pages.
type Aggregator struct {
	host     *host.Manager
	sessions *SessionStore
	logger   *utils.Logger
}

// SessionPage is one page of a search session.
type SessionPage struct {
	SessionID string `json:"sessionId"`
	Number    int    `json:"page"`
	Page
}

// New creates an aggregator over m.
func New(m *host.Manager, sessions *SessionStore, logger *utils.Logger) *Aggregator {
	if sessions == nil {
		sessions = NewSessionStore()
	}
	return &Aggregator{host: m, sessions: sessions, logger: logger.Named("aggregate")}
}

// Sessions returns the session store.
func (a *Aggregator) Sessions() *SessionStore {
	return a.sessions
}

// Search returns one merged page across every enabled provider.
func (a *Aggregator) Search(ctx context.Context, query string, page int, t models.MediaType) Page {
	return MergeSearch(a.host.Search(ctx, query, page, t))
}

// StartSession runs the first page of query and keeps per-provider paging
// state for NextPage.
func (a *Aggregator) StartSession(ctx context.Context, query string, t models.MediaType) SessionPage {
	sess := a.sessions.create(query, t)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	round := a.host.Search(ctx, query, 1, t)
	page := a.advance(sess, round, func(string) int { return 1 })
	a.logger.Debug("Search session started", "session", sess.id, "query", query, "providers", len(round.Platforms))
	return page
}

// NextPage fetches the next page of a session. Only providers that
// reported isEnd=false on their previous page are asked again; items seen
// on earlier pages are dropped.
func (a *Aggregator) NextPage(ctx context.Context, id string) (SessionPage, error) {
	sess, ok := a.sessions.get(id)
	if !ok {
		return SessionPage{}, ErrSessionNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if len(sess.pending) == 0 {
		return SessionPage{SessionID: sess.id, Number: sess.pages, Page: Page{Items: []models.MediaItem{}}}, nil
	}

	asked := maps.Clone(sess.pending)
	round := a.host.SearchEach(ctx, sess.query, sess.kind, asked)
	return a.advance(sess, round, func(platform string) int { return asked[platform] }), nil
}

// advance merges round into the session and schedules the next page of
// every provider that reported more.
func (a *Aggregator) advance(sess *session, round *host.SearchRound, askedPage func(string) int) SessionPage {
	page := mergeSeen(round, sess.seen)
	sess.pending = make(map[string]int)
	for _, platform := range round.Platforms {
		if round.Results[platform].ReportsMore() {
			sess.pending[platform] = askedPage(platform) + 1
		}
	}
	sess.pages++
	return SessionPage{SessionID: sess.id, Number: sess.pages, Page: page}
}

// RecommendTags merges every provider's recommendation tags.
func (a *Aggregator) RecommendTags(ctx context.Context) MergedTags {
	return MergeTags(a.host.GetRecommendTags(ctx))
}

// TopLists merges every provider's charts.
func (a *Aggregator) TopLists(ctx context.Context) []models.ChartGroup {
	return MergeCharts(a.host.GetTopLists(ctx))
}

// TopListDetail fetches one chart from the provider stamped on it.
func (a *Aggregator) TopListDetail(ctx context.Context, chart models.MediaItem, page int) *models.SheetInfo {
	return a.host.GetTopListDetail(ctx, chart, page)
}

// SheetsByTag fetches sheets for tag from the provider stamped on it.
func (a *Aggregator) SheetsByTag(ctx context.Context, tag models.Tag, page int) *models.SearchResult {
	return a.host.GetSheetsByTag(ctx, tag.Platform, tag, page)
}

// ImportItem imports one item from the explicitly selected platform.
func (a *Aggregator) ImportItem(ctx context.Context, platform, urlLike string) *models.MediaItem {
	return a.host.ImportMusicItem(ctx, platform, urlLike)
}

// ImportSheet imports a sheet from the explicitly selected platform.
func (a *Aggregator) ImportSheet(ctx context.Context, platform, urlLike string) []models.MediaItem {
	items := a.host.ImportSheet(ctx, platform, urlLike)
	if items == nil {
		return []models.MediaItem{}
	}
	return items
}
