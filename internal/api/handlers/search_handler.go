package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"norelock.dev/listenify/providerhost/internal/aggregate"
	"norelock.dev/listenify/providerhost/internal/models"
	"norelock.dev/listenify/providerhost/internal/utils"
)

const mediaTypes = "music album artist sheet lyric"

// SearchHandler handles aggregated search requests.
type SearchHandler struct {
	aggregator *aggregate.Aggregator
	logger     *utils.Logger
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(aggregator *aggregate.Aggregator, logger *utils.Logger) *SearchHandler {
	return &SearchHandler{
		aggregator: aggregator,
		logger:     logger.Named("search_handler"),
	}
}

// SessionRequest starts a paged search session.
type SessionRequest struct {
	Query string           `json:"query" validate:"required,max=512"`
	Type  models.MediaType `json:"type" validate:"omitempty,oneof=music album artist sheet lyric"`
}

// searchType reads the type parameter, defaulting to music.
func searchType(w http.ResponseWriter, raw string) (models.MediaType, bool) {
	if raw == "" {
		return models.MediaTypeMusic, true
	}
	if err := utils.ValidateVar(raw, "oneof="+mediaTypes); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Query parameter 'type' must be one of: "+mediaTypes)
		return "", false
	}
	return models.MediaType(raw), true
}

// Search handles one merged page across every enabled provider.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Query parameter 'q' is required")
		return
	}
	t, ok := searchType(w, r.URL.Query().Get("type"))
	if !ok {
		return
	}

	utils.RespondWithData(w, h.aggregator.Search(r.Context(), query, utils.GetPage(r), t))
}

// StartSession handles requests to start a paged search.
func (h *SearchHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = models.MediaTypeMusic
	}
	utils.RespondWithJSON(w, http.StatusCreated, utils.APIResponse{
		Success: true,
		Data:    h.aggregator.StartSession(r.Context(), req.Query, req.Type),
	})
}

// NextPage handles requests for the next page of a session.
func (h *SearchHandler) NextPage(w http.ResponseWriter, r *http.Request) {
	page, err := h.aggregator.NextPage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, aggregate.ErrSessionNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("Failed to fetch next page", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to fetch next page")
		return
	}
	utils.RespondWithData(w, page)
}

// EndSession handles requests to drop a session early.
func (h *SearchHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	h.aggregator.Sessions().Delete(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}
