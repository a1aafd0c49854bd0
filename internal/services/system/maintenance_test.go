package system

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norelock.dev/listenify/providerhost/internal/utils"
)

type fakeSessions struct {
	mu     sync.Mutex
	live   int
	purged int
}

func (f *fakeSessions) Purge() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged++
	f.live = 1
	return 2
}

func (f *fakeSessions) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

type fakeCleaner struct {
	maxAge time.Duration
	err    error
}

func (f *fakeCleaner) CleanupTemp(maxAge time.Duration) (int, error) {
	f.maxAge = maxAge
	return 1, f.err
}

type fakeMaintenanceMetrics struct {
	mu       sync.Mutex
	runs     map[string]error
	sessions int
}

func (f *fakeMaintenanceMetrics) RecordMaintenanceRun(task string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runs == nil {
		f.runs = map[string]error{}
	}
	f.runs[task] = err
}

func (f *fakeMaintenanceMetrics) SetSearchSessions(count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = count
}

func TestMaintenanceRunAllTasks(t *testing.T) {
	sessions := &fakeSessions{}
	cleaner := &fakeCleaner{}
	metrics := &fakeMaintenanceMetrics{}
	cfg := DefaultMaintenanceConfig()
	cfg.TempFileMaxAge = 42 * time.Minute

	s := NewMaintenanceService(cfg, sessions, cleaner, metrics, utils.NewNopLogger())
	require.NoError(t, s.RunAllTasks(context.Background()))

	assert.Equal(t, 1, sessions.purged)
	assert.Equal(t, 42*time.Minute, cleaner.maxAge)
	assert.Equal(t, 1, metrics.sessions)
	assert.Contains(t, metrics.runs, "search_session_purge")
	assert.Contains(t, metrics.runs, "temp_file_cleanup")
	assert.NoError(t, metrics.runs["temp_file_cleanup"])
}

func TestMaintenanceTaskFailuresAreReported(t *testing.T) {
	metrics := &fakeMaintenanceMetrics{}
	s := NewMaintenanceService(DefaultMaintenanceConfig(), nil, &fakeCleaner{err: errors.New("disk gone")}, metrics, utils.NewNopLogger())
	s.RegisterTask("explodes", time.Hour, func(context.Context) error { panic("kaboom") })

	err := s.RunAllTasks(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
	assert.Contains(t, err.Error(), "kaboom")
	assert.Error(t, metrics.runs["temp_file_cleanup"])
	assert.Error(t, metrics.runs["explodes"])
}

func TestMaintenanceRunsOnlyDueTasks(t *testing.T) {
	s := NewMaintenanceService(DefaultMaintenanceConfig(), nil, nil, nil, utils.NewNopLogger())

	var mu sync.Mutex
	runs := map[string]int{}
	count := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			runs[name]++
			return nil
		}
	}
	s.RegisterTask("often", 0, count("often"))
	s.RegisterTask("rarely", time.Hour, count("rarely"))

	ctx := context.Background()
	require.NoError(t, s.runDueTasks(ctx))
	require.NoError(t, s.runDueTasks(ctx))

	assert.Equal(t, 2, runs["often"])
	assert.Equal(t, 1, runs["rarely"])
}

func TestMaintenanceStartStop(t *testing.T) {
	ran := make(chan struct{}, 1)
	cfg := DefaultMaintenanceConfig()
	cfg.TickInterval = 5 * time.Millisecond

	s := NewMaintenanceService(cfg, nil, nil, nil, utils.NewNopLogger())
	s.RegisterTask("tick", 0, func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})

	require.NoError(t, s.Start(context.Background()))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	s.Stop()
	s.Stop()
}

func TestMaintenanceDisabled(t *testing.T) {
	cfg := DefaultMaintenanceConfig()
	cfg.Enabled = false
	s := NewMaintenanceService(cfg, nil, nil, nil, utils.NewNopLogger())
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
