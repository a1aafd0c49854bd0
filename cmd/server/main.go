package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	"norelock.dev/listenify/providerhost/internal/aggregate"
	"norelock.dev/listenify/providerhost/internal/api"
	"norelock.dev/listenify/providerhost/internal/auth"
	"norelock.dev/listenify/providerhost/internal/config"
	"norelock.dev/listenify/providerhost/internal/db/redis"
	"norelock.dev/listenify/providerhost/internal/host"
	"norelock.dev/listenify/providerhost/internal/loader"
	"norelock.dev/listenify/providerhost/internal/provider"
	"norelock.dev/listenify/providerhost/internal/registry"
	"norelock.dev/listenify/providerhost/internal/services/media"
	"norelock.dev/listenify/providerhost/internal/services/system"
	"norelock.dev/listenify/providerhost/internal/utils"
	"norelock.dev/listenify/providerhost/pkg/websocket"
)

// version is set at build time.
var version = "dev"

func main() {
	printToken := flag.Bool("print-admin-token", false, "print a signed admin token and exit")
	tokenSubject := flag.String("token-subject", "admin", "subject of the printed admin token")
	flag.Parse()

	// Create a context that will be canceled on interrupt signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := utils.NewLogger(utils.LoggerOptions{
		Development:      cfg.Environment == "development",
		Level:            utils.ParseLevel(cfg.Logging.Level),
		Format:           cfg.Logging.Format,
		OutputPaths:      cfg.Logging.OutputPaths,
		ErrorOutputPaths: cfg.Logging.ErrorOutputPaths,
	})
	defer logger.Sync()

	secretConfigured := cfg.Auth.JWTSecret != ""
	for _, warning := range config.ValidateAndFixConfig(cfg) {
		logger.Warn("Configuration adjusted", "warning", warning)
	}

	tokens, err := auth.NewJWTProvider(auth.JWTConfig{
		Secret:        cfg.Auth.JWTSecret,
		Issuer:        cfg.Auth.Issuer,
		TokenDuration: cfg.Auth.AdminTokenExpiry,
	}, logger)
	if err != nil {
		logger.Warn("Admin routes disabled", "reason", err.Error())
	}

	if *printToken {
		if !secretConfigured {
			logger.Fatal("Cannot issue admin token", errors.New("auth.jwt_secret must be configured"))
		}
		if tokens == nil {
			logger.Fatal("Cannot issue admin token", err)
		}
		token, err := tokens.GenerateToken(*tokenSubject, auth.RoleAdmin)
		if err != nil {
			logger.Fatal("Cannot issue admin token", err)
		}
		fmt.Println(token)
		return
	}

	logger.Info("Starting provider host", "environment", cfg.Environment, "version", version)
	logger.Debug("Effective configuration\n" + config.GetConfigString(cfg))

	if err := run(ctx, cfg, tokens, logger); err != nil {
		logger.Fatal("Provider host stopped", err)
	}
	logger.Info("Server shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, tokens *auth.JWTProvider, logger *utils.Logger) error {
	store, redisClient, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	storage, err := registry.NewSourceStorage(afero.NewOsFs(), cfg.Providers.Dir)
	if err != nil {
		_ = store.Close()
		return err
	}

	ld, err := loader.New(loader.Options{
		HostVersion: cfg.Providers.HostVersion,
		MaxRuntimes: cfg.Providers.MaxRuntimes,
		HTTPClient:  &http.Client{Timeout: cfg.Providers.HTTPTimeout},
		Lang:        cfg.Providers.Lang,
	}, logger)
	if err != nil {
		_ = store.Close()
		return err
	}

	metrics := system.NewMetricsService(logger)

	var builtins []provider.Unit
	if cfg.Providers.YouTubeAPIKey != "" {
		yt, err := media.NewYouTubeProvider(ctx, cfg.Providers.YouTubeAPIKey, logger)
		if err != nil {
			_ = store.Close()
			return fmt.Errorf("youtube provider: %w", err)
		}
		builtins = append(builtins, yt)
	}

	reg := registry.New(ld, storage, store, logger,
		registry.WithBuiltins(builtins...),
		registry.WithMetrics(metrics),
		registry.WithHTTPClient(&http.Client{Timeout: cfg.Providers.InstallTimeout}),
		registry.WithMaxSourceSize(cfg.Providers.MaxSourceSize),
	)
	// Close also closes the config store and with it any shared redis client
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Error("Failed to close registry", err)
		}
	}()

	if err := reg.Init(ctx); err != nil {
		return fmt.Errorf("registry init: %w", err)
	}

	if redisClient != nil && cfg.Database.Redis.EventsChannel != "" {
		events, unsubscribe := reg.Subscribe(256)
		defer unsubscribe()
		go redisClient.ForwardEvents(ctx, cfg.Database.Redis.EventsChannel, events)
	}

	manager := host.New(reg, logger, host.Options{
		CallTimeout:       cfg.Providers.CallTimeout,
		FanOutConcurrency: cfg.Providers.FanOutConcurrency,
		Recorder:          metrics,
	})
	sessions := aggregate.NewSessionStore(
		aggregate.WithSessionTTL(cfg.Search.SessionTTL),
		aggregate.WithMaxSessions(cfg.Search.MaxSessions),
	)
	aggregator := aggregate.New(manager, sessions, logger)

	healthService := system.NewHealthService(
		healthCheckers(cfg, reg, redisClient),
		providerSummary(reg),
		logger,
		system.HealthServiceConfig{Version: version, Environment: cfg.Environment},
	)
	healthService.Start(ctx)

	maintenanceConfig := system.DefaultMaintenanceConfig()
	maintenanceConfig.Enabled = cfg.Maintenance.Enabled
	maintenanceConfig.SessionPurgeInterval = cfg.Maintenance.SessionPurgeInterval
	maintenanceConfig.TempCleanupInterval = cfg.Maintenance.TempCleanupInterval
	maintenanceConfig.TempFileMaxAge = cfg.Maintenance.TempFileMaxAge
	maintenanceService := system.NewMaintenanceService(maintenanceConfig, sessions, storage, metrics, logger)
	if err := maintenanceService.Start(ctx); err != nil {
		logger.Error("Failed to start maintenance service", err)
	}
	defer maintenanceService.Stop()

	deps := api.Dependencies{
		Registry:       reg,
		Host:           manager,
		Aggregator:     aggregator,
		Health:         healthService,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WebSocket: websocket.Config{
			MaxMessageSize: cfg.WebSocket.MaxMessageSize,
			WriteWait:      cfg.WebSocket.WriteWait,
			PongWait:       cfg.WebSocket.PongWait,
			PingPeriod:     cfg.WebSocket.PingPeriod,
		},
	}
	if tokens != nil {
		deps.Tokens = tokens
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics
		deps.MetricsPath = cfg.Metrics.Path
	}
	router := api.NewRouter(deps, logger)

	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         apiAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "address", apiAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", err)
	}
	return nil
}

// healthCheckers lists the components /health probes.
func healthCheckers(cfg *config.Config, reg *registry.Registry, redisClient *redis.Client) []system.Checker {
	checkers := []system.Checker{{Name: "config_store_" + cfg.Store.Backend, Critical: true, Pinger: reg}}
	if redisClient != nil && cfg.Database.Redis.EventsChannel != "" {
		checkers = append(checkers, system.Checker{Name: "redis_events", Pinger: redisClient})
	}
	return checkers
}

// providerSummary counts catalogue entries for /health.
func providerSummary(reg *registry.Registry) system.ProviderCounter {
	return func() system.ProviderSummary {
		var s system.ProviderSummary
		for _, snap := range reg.List() {
			s.Total++
			if snap.Enabled {
				s.Enabled++
			}
			if !snap.Mounted() {
				s.Broken++
			}
		}
		return s
	}
}
