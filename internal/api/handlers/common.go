// Package handlers contains HTTP handlers for the API.
package handlers

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"norelock.dev/listenify/providerhost/internal/models"
	"norelock.dev/listenify/providerhost/internal/utils"
)

// decode reads and validates a JSON body, answering the request itself on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := utils.DecodeAndValidate(r, dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			utils.RespondWithValidationError(w, err)
		} else {
			utils.RespondWithAppError(w, err)
		}
		return false
	}
	return true
}

// respondDomainError answers with the status the domain error maps to.
func respondDomainError(w http.ResponseWriter, err error, platform string) {
	appErr := utils.NewAppError(err, err.Error(), models.MapErrorToHTTPStatus(err))
	if platform != "" {
		appErr.AddDetail("platform", platform)
	}
	utils.RespondWithAppError(w, appErr)
}

// respondResult answers with data, or 404 when the provider produced nothing.
func respondResult[T any](w http.ResponseWriter, data *T) {
	if data == nil {
		utils.RespondWithError(w, http.StatusNotFound, "No result from provider")
		return
	}
	utils.RespondWithData(w, data)
}

// validPlatform reports whether platform is a usable provider key, answering 400 if not.
func validPlatform(w http.ResponseWriter, platform string) bool {
	if err := utils.ValidateVar(platform, "required,platform"); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "A valid provider platform is required")
		return false
	}
	return true
}
