// Package utils provides utility functions used throughout the application.
package utils

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	// platformRegex bounds provider platform names to printable characters without path separators
	platformRegex = regexp.MustCompile(`^[^/\\\x00-\x1f]{1,64}$`)
)

func init() {
	validate = validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation("platform", validatePlatform)
}

// Validate performs validation on the given struct and returns validation errors.
func Validate(s any) error {
	return validate.Struct(s)
}

// ValidateVar validates a single variable with the given tag and returns errors.
func ValidateVar(field any, tag string) error {
	return validate.Var(field, tag)
}

// validatePlatform checks that a string can serve as a provider platform key.
func validatePlatform(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return strings.TrimSpace(s) != "" && platformRegex.MatchString(s)
}

// GetValidator returns the validator instance.
func GetValidator() *validator.Validate {
	return validate
}
