// Package utils provides utility functions used throughout the application.
package utils

import (
	"net/http"
	"strconv"
	"strings"
)

// ParseInt parses a string to an int64, returning defaultValue on failure.
func ParseInt(s string, defaultValue int64) int64 {
	if s == "" {
		return defaultValue
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return defaultValue
	}
	return v
}

// GetRequestIP gets the client IP address from the request
func GetRequestIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
	}

	if strings.Contains(ip, ",") {
		ip = strings.TrimSpace(strings.Split(ip, ",")[0])
	}

	if host, _, ok := strings.Cut(ip, ":"); ok && !strings.Contains(host, "[") {
		ip = host
	}

	return ip
}

// GetPage extracts the 1-based page query parameter from an HTTP request.
func GetPage(r *http.Request) int {
	return max(int(ParseInt(r.URL.Query().Get("page"), 1)), 1)
}
