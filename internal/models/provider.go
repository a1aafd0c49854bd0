// Package models contains the data structures used throughout the application.
package models

// CacheControl is the caching policy a provider declares for its items.
type CacheControl string

const (
	CacheControlCache   CacheControl = "cache"
	CacheControlNoCache CacheControl = "no-cache"
	CacheControlNoStore CacheControl = "no-store"
)

// UserVariableDef is a declarative form descriptor for a provider setting.
// It carries no value; values live on the registry entry.
type UserVariableDef struct {
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
	Hint string `json:"hint,omitempty"`
}

// ProviderInfo is the identity and declarative metadata of a loaded provider.
// It is immutable once loaded.
type ProviderInfo struct {
	// Platform is the unique key of the provider.
	Platform string `json:"platform"`
	Version  string `json:"version,omitempty"`
	Author   string `json:"author,omitempty"`
	SrcURL   string `json:"srcUrl,omitempty"`

	Description string `json:"description,omitempty"`

	// AppVersion is the declared host compatibility range, if any.
	AppVersion string `json:"appVersion,omitempty"`

	PrimaryKey          []string          `json:"primaryKey,omitempty"`
	CacheControl        CacheControl      `json:"cacheControl,omitempty"`
	SupportedSearchType []MediaType       `json:"supportedSearchType,omitempty"`
	DefaultSearchType   MediaType         `json:"defaultSearchType,omitempty"`
	UserVariables       []UserVariableDef `json:"userVariables,omitempty"`
}

// SupportsSearchType reports whether t is searchable. An undeclared set means all types.
func (p ProviderInfo) SupportsSearchType(t MediaType) bool {
	if len(p.SupportedSearchType) == 0 {
		return true
	}
	for _, s := range p.SupportedSearchType {
		if s == t {
			return true
		}
	}
	return false
}
