package system

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"norelock.dev/listenify/providerhost/internal/utils"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	// StatusUp indicates the component is healthy.
	StatusUp HealthStatus = "up"
	// StatusDown indicates the component is unhealthy.
	StatusDown HealthStatus = "down"
	// StatusDegraded indicates the component is functioning but with issues.
	StatusDegraded HealthStatus = "degraded"
)

// ComponentHealth represents the health of a system component.
type ComponentHealth struct {
	Name        string       `json:"name"`
	Status      HealthStatus `json:"status"`
	Description string       `json:"description,omitempty"`
	Latency     int64        `json:"latency_ms"`
	LastChecked time.Time    `json:"last_checked"`
}

// SystemHealth represents the overall health of the system.
type SystemHealth struct {
	Status      HealthStatus      `json:"status"`
	Components  []ComponentHealth `json:"components"`
	Providers   ProviderSummary   `json:"providers"`
	Version     string            `json:"version"`
	Environment string            `json:"environment"`
	Uptime      int64             `json:"uptime_seconds"`
	StartTime   time.Time         `json:"start_time"`
	GoVersion   string            `json:"go_version"`
	GoRoutines  int               `json:"go_routines"`
	MemStats    MemoryStats       `json:"memory_stats"`
}

// ProviderSummary counts catalogue entries by state.
type ProviderSummary struct {
	Total   int `json:"total"`
	Enabled int `json:"enabled"`
	Broken  int `json:"broken"`
}

// MemoryStats represents memory usage statistics.
type MemoryStats struct {
	Alloc     uint64 `json:"alloc_bytes"`
	Sys       uint64 `json:"sys_bytes"`
	NumGC     uint32 `json:"num_gc"`
	HeapAlloc uint64 `json:"heap_alloc_bytes"`
}

// Pinger is anything that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker probes one named component.
type Checker struct {
	Name string
	// Critical components mark the whole system down when they fail;
	// others only degrade it.
	Critical bool
	Pinger   Pinger
}

// ProviderCounter reports catalogue totals for the health summary.
type ProviderCounter func() ProviderSummary

// HealthServiceConfig contains configuration for the health service.
type HealthServiceConfig struct {
	Version     string
	Environment string
	// CheckInterval is the period of background checks.
	CheckInterval time.Duration
	// CheckTimeout bounds a single component probe.
	CheckTimeout time.Duration
}

// HealthService probes the configured components and caches the results.
type HealthService struct {
	checkers       []Checker
	providers      ProviderCounter
	logger         *utils.Logger
	startTime      time.Time
	config         HealthServiceConfig
	componentCache map[string]ComponentHealth
	cacheMutex     sync.RWMutex
}

// NewHealthService creates a new health service.
func NewHealthService(checkers []Checker, providers ProviderCounter, logger *utils.Logger, config HealthServiceConfig) *HealthService {
	if config.CheckInterval <= 0 {
		config.CheckInterval = 30 * time.Second
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = 5 * time.Second
	}
	return &HealthService{
		checkers:       checkers,
		providers:      providers,
		logger:         logger.Named("health_service"),
		startTime:      time.Now(),
		config:         config,
		componentCache: make(map[string]ComponentHealth),
	}
}

// Start runs an initial check and then checks periodically until ctx ends.
func (s *HealthService) Start(ctx context.Context) {
	s.logger.Info("Starting health service", "components", len(s.checkers))

	s.CheckHealth(ctx)

	go func() {
		ticker := time.NewTicker(s.config.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Stopping health service")
				return
			case <-ticker.C:
				s.CheckHealth(ctx)
			}
		}
	}()
}

// CheckHealth probes every component once.
func (s *HealthService) CheckHealth(ctx context.Context) {
	s.logger.Debug("Performing health check")
	for _, c := range s.checkers {
		s.check(ctx, c)
	}
}

func (s *HealthService) check(ctx context.Context, c Checker) {
	start := time.Now()

	pingCtx, cancel := context.WithTimeout(ctx, s.config.CheckTimeout)
	defer cancel()

	err := c.Pinger.Ping(pingCtx)
	latency := time.Since(start).Milliseconds()

	status := StatusUp
	description := c.Name + " is healthy"
	if err != nil {
		status = StatusDegraded
		if c.Critical {
			status = StatusDown
		}
		description = c.Name + " check failed: " + err.Error()
		s.logger.Error("Health check failed", err, "component", c.Name)
	}

	s.updateComponentHealth(c.Name, status, description, latency)
}

// GetHealth returns the cached component health with runtime details.
func (s *HealthService) GetHealth() SystemHealth {
	s.cacheMutex.RLock()
	components := make([]ComponentHealth, 0, len(s.componentCache))
	for _, component := range s.componentCache {
		components = append(components, component)
	}
	s.cacheMutex.RUnlock()

	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	status := StatusUp
	for _, component := range components {
		if component.Status == StatusDown {
			status = StatusDown
			break
		} else if component.Status == StatusDegraded {
			status = StatusDegraded
		}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	health := SystemHealth{
		Status:      status,
		Components:  components,
		Version:     s.config.Version,
		Environment: s.config.Environment,
		Uptime:      int64(time.Since(s.startTime).Seconds()),
		StartTime:   s.startTime,
		GoVersion:   runtime.Version(),
		GoRoutines:  runtime.NumGoroutine(),
		MemStats: MemoryStats{
			Alloc:     memStats.Alloc,
			Sys:       memStats.Sys,
			NumGC:     memStats.NumGC,
			HeapAlloc: memStats.HeapAlloc,
		},
	}
	if s.providers != nil {
		health.Providers = s.providers()
	}
	return health
}

// updateComponentHealth updates the health status of a component in the cache.
func (s *HealthService) updateComponentHealth(name string, status HealthStatus, description string, latency int64) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	s.componentCache[name] = ComponentHealth{
		Name:        name,
		Status:      status,
		Description: description,
		Latency:     latency,
		LastChecked: time.Now(),
	}
}
