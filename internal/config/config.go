// Package config provides functionality for loading and accessing application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends for the durable provider config store.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreMongoDB  = "mongodb"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config represents the application configuration
type Config struct {
	// Environment is the current running environment (development, staging, production)
	Environment string `mapstructure:"environment"`

	// Server configuration
	Server struct {
		// Port is the HTTP server port
		Port int `mapstructure:"port"`
		// Host is the HTTP server host
		Host string `mapstructure:"host"`
		// ReadTimeout is the maximum duration for reading the entire request
		ReadTimeout time.Duration `mapstructure:"read_timeout"`
		// WriteTimeout is the maximum duration before timing out writes of the response
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		// IdleTimeout is the maximum amount of time to wait for the next request
		IdleTimeout time.Duration `mapstructure:"idle_timeout"`
		// ShutdownTimeout bounds graceful shutdown
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		// AllowedOrigins is the list of allowed CORS origins
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"server"`

	// Providers configures loading and calling provider units
	Providers struct {
		// Dir is the provider storage directory scanned at startup
		Dir string `mapstructure:"dir"`
		// HostVersion is the version provider appVersion ranges are checked against
		HostVersion string `mapstructure:"host_version"`
		// Lang is exposed to providers as env.lang
		Lang string `mapstructure:"lang"`
		// MaxRuntimes bounds interpreter instances per provider
		MaxRuntimes int `mapstructure:"max_runtimes"`
		// CallTimeout bounds each provider call; zero means no limit
		CallTimeout time.Duration `mapstructure:"call_timeout"`
		// FanOutConcurrency bounds concurrent providers per fan-out; zero means all at once
		FanOutConcurrency int `mapstructure:"fan_out_concurrency"`
		// HTTPTimeout bounds requests made by providers through the http module
		HTTPTimeout time.Duration `mapstructure:"http_timeout"`
		// InstallTimeout bounds fetching provider source from a URL
		InstallTimeout time.Duration `mapstructure:"install_timeout"`
		// MaxSourceSize caps the size of provider source fetched from a URL
		MaxSourceSize int64 `mapstructure:"max_source_size"`
		// YouTubeAPIKey enables the built-in YouTube provider when set
		YouTubeAPIKey string `mapstructure:"youtube_api_key"`
	} `mapstructure:"providers"`

	// Search configures aggregated search sessions
	Search struct {
		// SessionTTL is how long an idle search session is kept
		SessionTTL time.Duration `mapstructure:"session_ttl"`
		// MaxSessions caps live search sessions
		MaxSessions int `mapstructure:"max_sessions"`
	} `mapstructure:"search"`

	// Store selects the durable provider config backend
	Store struct {
		// Backend is one of memory, redis, mongodb, postgres, sqlite
		Backend string `mapstructure:"backend"`
		// Namespace prefixes keys in shared backends
		Namespace string `mapstructure:"namespace"`
	} `mapstructure:"store"`

	// Database configuration
	Database struct {
		// MongoDB configuration
		MongoDB struct {
			// URI is the MongoDB connection URI
			URI string `mapstructure:"uri"`
			// Database is the MongoDB database name
			Database string `mapstructure:"database"`
			// Collection holds provider config documents
			Collection string `mapstructure:"collection"`
			// Timeout is the MongoDB operation timeout
			Timeout time.Duration `mapstructure:"timeout"`
			// MaxPoolSize is the maximum number of connections in the connection pool
			MaxPoolSize uint64 `mapstructure:"max_pool_size"`
			// MinPoolSize is the minimum number of connections in the connection pool
			MinPoolSize uint64 `mapstructure:"min_pool_size"`
			// MaxIdleTime is the maximum idle time for a connection
			MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
		} `mapstructure:"mongodb"`

		// Redis configuration
		Redis struct {
			// Addresses is the list of Redis server addresses
			Addresses []string `mapstructure:"addresses"`
			// Username is the Redis username
			Username string `mapstructure:"username"`
			// Password is the Redis password
			Password string `mapstructure:"password"`
			// Database is the Redis database index
			Database int `mapstructure:"database"`
			// MaxRetries is the maximum number of retries for Redis operations
			MaxRetries int `mapstructure:"max_retries"`
			// PoolSize is the Redis connection pool size
			PoolSize int `mapstructure:"pool_size"`
			// MinIdleConns is the minimum number of idle connections
			MinIdleConns int `mapstructure:"min_idle_conns"`
			// DialTimeout is the timeout for establishing new connections
			DialTimeout time.Duration `mapstructure:"dial_timeout"`
			// ReadTimeout is the timeout for Redis reads
			ReadTimeout time.Duration `mapstructure:"read_timeout"`
			// WriteTimeout is the timeout for Redis writes
			WriteTimeout time.Duration `mapstructure:"write_timeout"`
			// IdleTimeout is the timeout for idle connections
			IdleTimeout time.Duration `mapstructure:"idle_timeout"`
			// EventsChannel receives registry change events when set
			EventsChannel string `mapstructure:"events_channel"`
		} `mapstructure:"redis"`

		// SQL configuration, used by the postgres and sqlite backends
		SQL struct {
			// DSN is the driver-specific data source name
			DSN string `mapstructure:"dsn"`
			// Table holds provider config rows
			Table string `mapstructure:"table"`
			// MaxOpenConns bounds the connection pool
			MaxOpenConns int `mapstructure:"max_open_conns"`
		} `mapstructure:"sql"`
	} `mapstructure:"database"`

	// Authentication configuration
	Auth struct {
		// JWTSecret is the secret key for signing admin tokens
		JWTSecret string `mapstructure:"jwt_secret"`
		// Issuer is set on and required of admin tokens
		Issuer string `mapstructure:"issuer"`
		// AdminTokenExpiry is the lifetime of issued admin tokens
		AdminTokenExpiry time.Duration `mapstructure:"admin_token_expiry"`
	} `mapstructure:"auth"`

	// WebSocket configuration
	WebSocket struct {
		// MaxMessageSize is the maximum message size
		MaxMessageSize int64 `mapstructure:"max_message_size"`
		// WriteWait is the time allowed to write a message to the peer
		WriteWait time.Duration `mapstructure:"write_wait"`
		// PongWait is the time allowed to read the next pong message from the peer
		PongWait time.Duration `mapstructure:"pong_wait"`
		// PingPeriod is the time between ping messages
		PingPeriod time.Duration `mapstructure:"ping_period"`
	} `mapstructure:"websocket"`

	// Logging configuration
	Logging struct {
		// Level is the logging level
		Level string `mapstructure:"level"`
		// Format is the logging format (json or console)
		Format string `mapstructure:"format"`
		// OutputPaths is the list of output paths for logs
		OutputPaths []string `mapstructure:"output_paths"`
		// ErrorOutputPaths is the list of output paths for error logs
		ErrorOutputPaths []string `mapstructure:"error_output_paths"`
	} `mapstructure:"logging"`

	// Maintenance configures periodic housekeeping
	Maintenance struct {
		// Enabled runs the housekeeping loop
		Enabled bool `mapstructure:"enabled"`
		// SessionPurgeInterval is how often expired search sessions are dropped
		SessionPurgeInterval time.Duration `mapstructure:"session_purge_interval"`
		// TempCleanupInterval is how often stale partial provider writes are removed
		TempCleanupInterval time.Duration `mapstructure:"temp_cleanup_interval"`
		// TempFileMaxAge is the age after which a partial write is stale
		TempFileMaxAge time.Duration `mapstructure:"temp_file_max_age"`
	} `mapstructure:"maintenance"`

	// Metrics configuration
	Metrics struct {
		// Enabled exposes the Prometheus endpoint
		Enabled bool `mapstructure:"enabled"`
		// Path is where metrics are served
		Path string `mapstructure:"path"`
	} `mapstructure:"metrics"`
}

// LoadConfig loads the configuration from file and environment variables.
// A .env file in the working directory is applied first, if present.
// It looks for a configuration file in the following locations:
// 1. Path specified in the CONFIG_FILE environment variable
// 2. ./configs directory
// 3. ../configs directory
// 4. /etc/providerhost directory
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()

	// Set default values
	setDefaults(v)

	// Configuration file name and type
	v.SetConfigName("app")
	v.SetConfigType("yaml")

	configFile := os.Getenv("CONFIG_FILE")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("/etc/providerhost")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	// Try to merge the environment-specific configuration file
	if configFile == "" {
		v.SetConfigName(fmt.Sprintf("app.%s", env))
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to merge environment config file: %w", err)
			}
		}
	}

	return unmarshal(v, env)
}

// unmarshal applies environment overrides and validates the result.
func unmarshal(v *viper.Viper, env string) (*Config, error) {
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.Environment = env

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets the default values for the configuration
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Provider defaults
	v.SetDefault("providers.dir", "./data/providers")
	v.SetDefault("providers.host_version", "1.0.0")
	v.SetDefault("providers.lang", "en")
	v.SetDefault("providers.max_runtimes", 4)
	v.SetDefault("providers.call_timeout", "0s")
	v.SetDefault("providers.fan_out_concurrency", 0)
	v.SetDefault("providers.http_timeout", "20s")
	v.SetDefault("providers.install_timeout", "30s")
	v.SetDefault("providers.max_source_size", 5<<20)

	// Search defaults
	v.SetDefault("search.session_ttl", "10m")
	v.SetDefault("search.max_sessions", 10000)

	// Store defaults
	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.namespace", "providerhost")

	// Database defaults
	v.SetDefault("database.mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("database.mongodb.database", "providerhost")
	v.SetDefault("database.mongodb.collection", "provider_configs")
	v.SetDefault("database.mongodb.timeout", "10s")
	v.SetDefault("database.mongodb.max_pool_size", 20)
	v.SetDefault("database.mongodb.min_pool_size", 1)
	v.SetDefault("database.mongodb.max_idle_time", "60s")

	v.SetDefault("database.redis.addresses", []string{"localhost:6379"})
	v.SetDefault("database.redis.database", 0)
	v.SetDefault("database.redis.max_retries", 3)
	v.SetDefault("database.redis.pool_size", 20)
	v.SetDefault("database.redis.min_idle_conns", 2)
	v.SetDefault("database.redis.dial_timeout", "5s")
	v.SetDefault("database.redis.read_timeout", "3s")
	v.SetDefault("database.redis.write_timeout", "3s")
	v.SetDefault("database.redis.idle_timeout", "300s")
	v.SetDefault("database.redis.events_channel", "")

	v.SetDefault("database.sql.dsn", "")
	v.SetDefault("database.sql.table", "provider_configs")
	v.SetDefault("database.sql.max_open_conns", 10)

	// Authentication defaults
	v.SetDefault("auth.issuer", "providerhost")
	v.SetDefault("auth.admin_token_expiry", "720h")

	// WebSocket defaults
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.ping_period", "54s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	// Maintenance defaults
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.session_purge_interval", "1m")
	v.SetDefault("maintenance.temp_cleanup_interval", "1h")
	v.SetDefault("maintenance.temp_file_max_age", "1h")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return errors.New("server port must be between 1 and 65535")
	}

	if config.Providers.Dir == "" {
		return errors.New("provider directory must be set")
	}

	if config.Providers.HostVersion == "" {
		return errors.New("host version must be set")
	}

	if config.Providers.CallTimeout < 0 {
		return errors.New("provider call timeout must not be negative")
	}

	switch config.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if len(config.Database.Redis.Addresses) == 0 {
			return errors.New("at least one Redis address must be provided")
		}
	case StoreMongoDB:
		if config.Database.MongoDB.URI == "" {
			return errors.New("MongoDB URI must be set")
		}
	case StorePostgres, StoreSQLite:
		if config.Database.SQL.DSN == "" {
			return fmt.Errorf("database DSN must be set for the %s store", config.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", config.Store.Backend)
	}

	return nil
}

// GetConfigString returns a formatted string with the current configuration
func GetConfigString(config *Config) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Environment: %s\n", config.Environment))
	sb.WriteString(fmt.Sprintf("Server: %s:%d\n", config.Server.Host, config.Server.Port))
	sb.WriteString(fmt.Sprintf("Provider Dir: %s\n", config.Providers.Dir))
	sb.WriteString(fmt.Sprintf("Host Version: %s\n", config.Providers.HostVersion))
	sb.WriteString(fmt.Sprintf("Store Backend: %s\n", config.Store.Backend))
	sb.WriteString(fmt.Sprintf("Call Timeout: %s\n", config.Providers.CallTimeout))
	sb.WriteString(fmt.Sprintf("YouTube Built-in: %t\n", config.Providers.YouTubeAPIKey != ""))

	return sb.String()
}
