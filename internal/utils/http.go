// Package utils provides utility functions used throughout the application.
package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxRequestBody bounds JSON request bodies; provider sources are the largest payload.
const maxRequestBody = 8 << 20

// APIResponse represents a standard API response.
type APIResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Error   any  `json:"error,omitempty"`
}

// ValidationErrorItem represents a single validation error.
type ValidationErrorItem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RespondWithJSON sends a JSON response with the given status code and data.
func RespondWithJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			GetLogger().Error("Failed to encode JSON response", err)
		}
	}
}

// RespondWithData wraps data into a successful APIResponse.
func RespondWithData(w http.ResponseWriter, data any) {
	RespondWithJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

// RespondWithError sends an error response with the given status code and message.
func RespondWithError(w http.ResponseWriter, statusCode int, message string) {
	response := APIResponse{
		Success: false,
		Error: map[string]string{
			"message": message,
		},
	}
	RespondWithJSON(w, statusCode, response)
}

// RespondWithAppError maps err to its status code and writes the standard error body.
func RespondWithAppError(w http.ResponseWriter, err error) {
	RespondWithJSON(w, StatusCode(err), APIResponse{Success: false, Error: ErrorResponse(err)})
}

// RespondWithValidationError sends a validation error response.
func RespondWithValidationError(w http.ResponseWriter, err error) {
	var validationErrors []ValidationErrorItem

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		for _, e := range validationErrs {
			var message string
			switch e.Tag() {
			case "required":
				message = e.Field() + " is required"
			case "url":
				message = e.Field() + " must be a valid URL"
			case "platform":
				message = e.Field() + " must be a valid provider platform"
			case "oneof":
				message = e.Field() + " must be one of: " + e.Param()
			case "max":
				message = e.Field() + " must be at most " + e.Param() + " characters long"
			default:
				message = e.Field() + " failed validation: " + e.Tag()
			}

			validationErrors = append(validationErrors, ValidationErrorItem{
				Field:   e.Field(),
				Message: message,
			})
		}
	} else {
		validationErrors = append(validationErrors, ValidationErrorItem{
			Field:   "general",
			Message: err.Error(),
		})
	}

	RespondWithJSON(w, http.StatusBadRequest, APIResponse{
		Success: false,
		Error: map[string]any{
			"message": "Validation failed",
			"errors":  validationErrors,
		},
	})
}

// DecodeAndValidate decodes a JSON body into dst and runs struct validation on it.
func DecodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		return BadRequestError("Invalid request body", err)
	}
	return Validate(dst)
}

// ExtractBearerToken extracts the Bearer token from the Authorization header.
func ExtractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("no token provided")
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", fmt.Errorf("invalid token format")
	}

	return token, nil
}
