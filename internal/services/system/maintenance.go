package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"norelock.dev/listenify/providerhost/internal/utils"
)

// MaintenanceTask represents a maintenance task to be executed.
type MaintenanceTask struct {
	Name     string
	Interval time.Duration
	LastRun  time.Time
	Fn       func(context.Context) error
}

// MaintenanceConfig contains configuration for the maintenance service.
type MaintenanceConfig struct {
	// Whether to enable automatic maintenance tasks
	Enabled bool
	// How often due tasks are looked for
	TickInterval time.Duration
	// Interval for purging expired search sessions
	SessionPurgeInterval time.Duration
	// Interval for removing partial provider source writes
	TempCleanupInterval time.Duration
	// Maximum age of partial writes before cleanup
	TempFileMaxAge time.Duration
	// Maximum number of concurrent maintenance tasks
	MaxConcurrentTasks int
	// Timeout for individual maintenance tasks
	TaskTimeout time.Duration
}

// DefaultMaintenanceConfig returns the default maintenance configuration.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		Enabled:              true,
		TickInterval:         time.Minute,
		SessionPurgeInterval: time.Minute,
		TempCleanupInterval:  time.Hour,
		TempFileMaxAge:       time.Hour,
		MaxConcurrentTasks:   2,
		TaskTimeout:          5 * time.Minute,
	}
}

// SessionPurger drops expired search sessions.
type SessionPurger interface {
	Purge() int
	Len() int
}

// TempCleaner removes stale partial writes from provider storage.
type TempCleaner interface {
	CleanupTemp(maxAge time.Duration) (int, error)
}

// MaintenanceMetrics receives maintenance measurements.
type MaintenanceMetrics interface {
	RecordMaintenanceRun(task string, err error)
	SetSearchSessions(count int)
}

// MaintenanceService runs periodic housekeeping tasks.
type MaintenanceService struct {
	config   MaintenanceConfig
	metrics  MaintenanceMetrics
	logger   *utils.Logger
	tasks    []*MaintenanceTask
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewMaintenanceService creates a maintenance service with the session purge
// and temp file cleanup tasks registered. Nil dependencies skip their task.
func NewMaintenanceService(config MaintenanceConfig, sessions SessionPurger, storage TempCleaner, metrics MaintenanceMetrics, logger *utils.Logger) *MaintenanceService {
	s := &MaintenanceService{
		config:  config,
		metrics: metrics,
		logger:  logger.Named("maintenance_service"),
		stopCh:  make(chan struct{}),
	}

	if sessions != nil {
		s.RegisterTask("search_session_purge", config.SessionPurgeInterval, func(context.Context) error {
			if removed := sessions.Purge(); removed > 0 {
				s.logger.Debug("Purged search sessions", "count", removed)
			}
			if s.metrics != nil {
				s.metrics.SetSearchSessions(sessions.Len())
			}
			return nil
		})
	}
	if storage != nil {
		s.RegisterTask("temp_file_cleanup", config.TempCleanupInterval, func(context.Context) error {
			removed, err := storage.CleanupTemp(config.TempFileMaxAge)
			if removed > 0 {
				s.logger.Info("Removed stale provider temp files", "count", removed)
			}
			return err
		})
	}

	return s
}

// RegisterTask registers a new maintenance task. It first runs on the next tick.
func (s *MaintenanceService) RegisterTask(name string, interval time.Duration, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = append(s.tasks, &MaintenanceTask{
		Name:     name,
		Interval: interval,
		LastRun:  time.Now().Add(-interval),
		Fn:       fn,
	})
	s.logger.Info("Registered maintenance task", "name", name, "interval", interval)
}

// Start runs due tasks on every tick until Stop is called or ctx ends.
func (s *MaintenanceService) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Maintenance service is disabled")
		return nil
	}
	tick := s.config.TickInterval
	if tick <= 0 {
		tick = time.Minute
	}

	s.logger.Info("Starting maintenance service", "tick", tick)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.runDueTasks(ctx); err != nil {
					s.logger.Warn("Some maintenance tasks failed", "error", err.Error())
				}
			case <-s.stopCh:
				s.logger.Info("Stopping maintenance service")
				return
			case <-ctx.Done():
				s.logger.Info("Context cancelled, stopping maintenance service")
				return
			}
		}
	}()

	return nil
}

// Stop stops the maintenance service and waits for the loop to exit.
func (s *MaintenanceService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// RunAllTasks runs every task immediately regardless of its schedule.
func (s *MaintenanceService) RunAllTasks(ctx context.Context) error {
	s.mu.Lock()
	tasks := append([]*MaintenanceTask(nil), s.tasks...)
	s.mu.Unlock()
	return s.run(ctx, tasks)
}

// runDueTasks runs the tasks whose interval has elapsed.
func (s *MaintenanceService) runDueTasks(ctx context.Context) error {
	s.mu.Lock()
	var dueTasks []*MaintenanceTask
	now := time.Now()
	for _, task := range s.tasks {
		if now.Sub(task.LastRun) >= task.Interval {
			dueTasks = append(dueTasks, task)
		}
	}
	s.mu.Unlock()

	if len(dueTasks) == 0 {
		return nil
	}
	s.logger.Debug("Running due maintenance tasks", "count", len(dueTasks))
	return s.run(ctx, dueTasks)
}

func (s *MaintenanceService) run(ctx context.Context, tasks []*MaintenanceTask) error {
	workers := s.config.MaxConcurrentTasks
	if workers <= 0 {
		workers = 1
	}
	p := pool.New().WithMaxGoroutines(workers).WithContext(ctx)
	for _, task := range tasks {
		p.Go(func(ctx context.Context) error {
			return s.runTask(ctx, task)
		})
	}
	return p.Wait()
}

// runTask runs one task under the task timeout, turning panics into errors.
func (s *MaintenanceService) runTask(ctx context.Context, task *MaintenanceTask) (err error) {
	if s.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.TaskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in task %s: %v", task.Name, r)
			s.logger.Error("Task panic recovered", err, "name", task.Name)
		}
		if s.metrics != nil {
			s.metrics.RecordMaintenanceRun(task.Name, err)
		}
	}()

	if err = task.Fn(ctx); err != nil {
		s.logger.Error("Task failed", err, "name", task.Name)
		return fmt.Errorf("task %s failed: %w", task.Name, err)
	}

	s.mu.Lock()
	task.LastRun = time.Now()
	s.mu.Unlock()
	return nil
}
