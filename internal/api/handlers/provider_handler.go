package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"norelock.dev/listenify/providerhost/internal/models"
	"norelock.dev/listenify/providerhost/internal/registry"
	"norelock.dev/listenify/providerhost/internal/utils"
)

// ProviderHandler handles HTTP requests that manage the provider registry.
type ProviderHandler struct {
	registry *registry.Registry
	logger   *utils.Logger
}

// NewProviderHandler creates a new provider handler.
func NewProviderHandler(reg *registry.Registry, logger *utils.Logger) *ProviderHandler {
	return &ProviderHandler{
		registry: reg,
		logger:   logger.Named("provider_handler"),
	}
}

// InstallRequest installs a provider from inline source or a URL.
type InstallRequest struct {
	Source           string `json:"source" validate:"required_without=URL"`
	URL              string `json:"url" validate:"omitempty,url"`
	SkipVersionCheck bool   `json:"skipVersionCheck"`
}

// EnabledRequest toggles a provider.
type EnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// VariablesRequest sets provider user variables.
type VariablesRequest struct {
	Variables map[string]string `json:"variables" validate:"required,min=1,dive,keys,required,max=128,endkeys,max=4096"`
}

// List handles requests to list every provider.
func (h *ProviderHandler) List(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithData(w, h.registry.List())
}

// Get handles requests for one provider.
func (h *ProviderHandler) Get(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	snap, ok := h.registry.Get(platform)
	if !ok {
		respondDomainError(w, models.ErrProviderNotFound, platform)
		return
	}
	utils.RespondWithData(w, snap)
}

// Install handles requests to install or upgrade a provider.
func (h *ProviderHandler) Install(w http.ResponseWriter, r *http.Request) {
	var req InstallRequest
	if !decode(w, r, &req) {
		return
	}

	opts := registry.InstallOptions{SkipVersionCheck: req.SkipVersionCheck}
	var res registry.InstallResult
	if req.Source != "" {
		res = h.registry.Install(r.Context(), req.Source, inlineSourcePath(r), opts)
	} else {
		res = h.registry.InstallFromURL(r.Context(), req.URL, opts)
	}

	if !res.Success {
		h.logger.Info("Provider install rejected", "platform", res.Platform, "message", res.Message)
		utils.RespondWithJSON(w, models.MapErrorToHTTPStatus(res.Err), utils.APIResponse{
			Success: false,
			Data:    res,
			Error:   map[string]string{"message": res.Message},
		})
		return
	}
	utils.RespondWithData(w, res)
}

// inlineSourcePath labels a source posted in the request body so load
// failures can be traced back to the request.
func inlineSourcePath(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return "inline:" + id
	}
	return "inline"
}

// Remove handles requests to uninstall a provider.
func (h *ProviderHandler) Remove(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	if err := h.registry.Remove(r.Context(), platform); err != nil {
		respondDomainError(w, err, platform)
		return
	}
	utils.RespondWithData(w, map[string]string{"platform": platform})
}

// SetEnabled handles requests to enable or disable a provider.
func (h *ProviderHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	var req EnabledRequest
	if !decode(w, r, &req) {
		return
	}
	platform := chi.URLParam(r, "platform")
	if err := h.registry.SetEnabled(r.Context(), platform, *req.Enabled); err != nil {
		respondDomainError(w, err, platform)
		return
	}
	snap, _ := h.registry.Get(platform)
	utils.RespondWithData(w, snap)
}

// SetVariables handles requests to set provider user variables.
func (h *ProviderHandler) SetVariables(w http.ResponseWriter, r *http.Request) {
	var req VariablesRequest
	if !decode(w, r, &req) {
		return
	}
	platform := chi.URLParam(r, "platform")
	if err := h.registry.SetUserVariables(r.Context(), platform, req.Variables); err != nil {
		respondDomainError(w, err, platform)
		return
	}
	utils.RespondWithData(w, h.registry.UserVariables(platform))
}
