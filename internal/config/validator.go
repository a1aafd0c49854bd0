// Package config provides functionality for loading and accessing application configuration.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// ValidateAndFixConfig validates the configuration and fixes any issues
func ValidateAndFixConfig(config *Config) []string {
	var warnings []string

	// Check JWT secret
	if config.Auth.JWTSecret == "" {
		warnings = append(warnings, "JWT secret is not set, generating a random one; issued admin tokens will not survive a restart")
		secret, err := generateRandomSecret(32)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to generate JWT secret: %v", err))
		} else {
			config.Auth.JWTSecret = secret
		}
	} else if len(config.Auth.JWTSecret) < 16 {
		warnings = append(warnings, "JWT secret is too short, should be at least 16 characters")
	}

	// Check server timeouts
	minTimeout := 1 * time.Second
	maxTimeout := 5 * time.Minute

	if config.Server.ReadTimeout < minTimeout {
		warnings = append(warnings, fmt.Sprintf("Server read timeout is too short (%v), setting to %v", config.Server.ReadTimeout, minTimeout))
		config.Server.ReadTimeout = minTimeout
	} else if config.Server.ReadTimeout > maxTimeout {
		warnings = append(warnings, fmt.Sprintf("Server read timeout is too long (%v), setting to %v", config.Server.ReadTimeout, maxTimeout))
		config.Server.ReadTimeout = maxTimeout
	}

	if config.Server.WriteTimeout < minTimeout {
		warnings = append(warnings, fmt.Sprintf("Server write timeout is too short (%v), setting to %v", config.Server.WriteTimeout, minTimeout))
		config.Server.WriteTimeout = minTimeout
	} else if config.Server.WriteTimeout > maxTimeout {
		warnings = append(warnings, fmt.Sprintf("Server write timeout is too long (%v), setting to %v", config.Server.WriteTimeout, maxTimeout))
		config.Server.WriteTimeout = maxTimeout
	}

	if config.Server.IdleTimeout < minTimeout {
		warnings = append(warnings, fmt.Sprintf("Server idle timeout is too short (%v), setting to %v", config.Server.IdleTimeout, minTimeout))
		config.Server.IdleTimeout = minTimeout
	}

	// Provider calls outliving the response are wasted work
	if config.Providers.CallTimeout > config.Server.WriteTimeout {
		warnings = append(warnings, fmt.Sprintf("Provider call timeout (%v) exceeds server write timeout (%v)", config.Providers.CallTimeout, config.Server.WriteTimeout))
	}

	if _, err := semver.NewVersion(config.Providers.HostVersion); err != nil {
		warnings = append(warnings, fmt.Sprintf("Host version %q is not a semantic version, setting to 1.0.0", config.Providers.HostVersion))
		config.Providers.HostVersion = "1.0.0"
	}

	if config.Providers.MaxRuntimes < 1 {
		warnings = append(warnings, fmt.Sprintf("Provider max runtimes must be positive (%d), setting to 1", config.Providers.MaxRuntimes))
		config.Providers.MaxRuntimes = 1
	}

	if config.Providers.FanOutConcurrency < 0 {
		warnings = append(warnings, "Fan-out concurrency is negative, removing the limit")
		config.Providers.FanOutConcurrency = 0
	}

	if config.Search.SessionTTL < time.Minute {
		warnings = append(warnings, fmt.Sprintf("Search session TTL is too short (%v), setting to 1m", config.Search.SessionTTL))
		config.Search.SessionTTL = time.Minute
	}

	// Check backend specific settings
	switch config.Store.Backend {
	case StoreMongoDB:
		if !strings.HasPrefix(config.Database.MongoDB.URI, "mongodb://") && !strings.HasPrefix(config.Database.MongoDB.URI, "mongodb+srv://") {
			warnings = append(warnings, "MongoDB URI is invalid, must start with mongodb:// or mongodb+srv://")
		}
	case StoreRedis:
		for _, addr := range config.Database.Redis.Addresses {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid Redis address: %s", addr))
				continue
			}
			if host == "" {
				warnings = append(warnings, fmt.Sprintf("Redis address has empty host: %s", addr))
			}
			if port == "" {
				warnings = append(warnings, fmt.Sprintf("Redis address has empty port: %s", addr))
			}
		}
	case StoreMemory:
		warnings = append(warnings, "Provider config store is in memory; enabled flags and user variables will not survive a restart")
	}

	// Check logging configuration
	validLevels := map[string]bool{
		"debug":  true,
		"info":   true,
		"warn":   true,
		"error":  true,
		"dpanic": true,
		"panic":  true,
		"fatal":  true,
	}

	if !validLevels[strings.ToLower(config.Logging.Level)] {
		warnings = append(warnings, fmt.Sprintf("Invalid logging level: %s, setting to 'info'", config.Logging.Level))
		config.Logging.Level = "info"
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[strings.ToLower(config.Logging.Format)] {
		warnings = append(warnings, fmt.Sprintf("Invalid logging format: %s, setting to 'json'", config.Logging.Format))
		config.Logging.Format = "json"
	}

	for _, path := range config.Logging.OutputPaths {
		if path != "stdout" && path != "stderr" {
			dir := filepath.Dir(path)
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				warnings = append(warnings, fmt.Sprintf("Log output directory does not exist: %s", dir))
			}
		}
	}

	return warnings
}

// generateRandomSecret generates a random secret string of the specified length
func generateRandomSecret(length int) (string, error) {
	bytes := make([]byte, length)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", err
	}

	return base64.URLEncoding.EncodeToString(bytes)[:length], nil
}
