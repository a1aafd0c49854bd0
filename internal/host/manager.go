// Package host is the single call-in point for provider capabilities. It
// resolves units through the registry, isolates provider failures and fans
// multi-provider calls out concurrently.
package host

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sourcegraph/conc/iter"

	"norelock.dev/listenify/providerhost/internal/models"
	"norelock.dev/listenify/providerhost/internal/provider"
	"norelock.dev/listenify/providerhost/internal/registry"
	"norelock.dev/listenify/providerhost/internal/utils"
)

// Call outcomes reported to the Recorder.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomePanic       = "panic"
	OutcomeTimeout     = "timeout"
	OutcomeUnsupported = "unsupported"
)

// Recorder receives per-call and per-fan-out measurements.
type Recorder interface {
	ObserveCall(platform, method, outcome string, d time.Duration)
	ObserveFanOut(method string, providers int, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCall(string, string, string, time.Duration) {}
func (nopRecorder) ObserveFanOut(string, int, time.Duration)          {}

// Catalogue is the registry surface the manager reads.
type Catalogue interface {
	Get(platform string) (registry.Snapshot, bool)
	Enabled() []registry.Snapshot
}

// Options tunes the manager.
type Options struct {
	// CallTimeout bounds each provider call; zero means none.
	CallTimeout time.Duration
	// FanOutConcurrency bounds providers called at once; zero means all.
	FanOutConcurrency int
	Recorder          Recorder
}

// Manager is a stateless facade over the registry. Provider failures never
// escape it: they are logged with the provider's platform and turned into
// nil or empty results.
type Manager struct {
	catalogue Catalogue
	opts      Options
	logger    *utils.Logger
}

// New creates a manager reading from catalogue.
func New(catalogue Catalogue, logger *utils.Logger, opts Options) *Manager {
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Manager{
		catalogue: catalogue,
		opts:      opts,
		logger:    logger.Named("host"),
	}
}

// resolve returns the unit for platform when it is present, mounted and enabled.
func (m *Manager) resolve(platform string) (registry.Snapshot, bool) {
	snap, ok := m.catalogue.Get(platform)
	if !ok || !snap.Enabled || snap.Unit == nil {
		return registry.Snapshot{}, false
	}
	return snap, true
}

// invoke runs one provider call with panic recovery, the optional call
// timeout, logging and metrics. ok is false on any failure.
func invoke[T any](ctx context.Context, m *Manager, snap registry.Snapshot, method string, fn func(context.Context, provider.Unit) (T, error)) (out T, ok bool) {
	platform := snap.Info.Platform
	if m.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	outcome := OutcomeOK
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomePanic
			ok = false
			m.logger.Error("Provider panicked", fmt.Errorf("%v", r),
				"platform", platform,
				"method", method,
				"stack", string(debug.Stack()),
			)
		}
		m.opts.Recorder.ObserveCall(platform, method, outcome, time.Since(start))
	}()

	out, err := fn(ctx, snap.Unit)
	if err != nil {
		var zero T
		switch {
		case errors.Is(err, provider.ErrUnsupported):
			outcome = OutcomeUnsupported
			m.logger.Debug("Provider capability unsupported", "platform", platform, "method", method)
		case errors.Is(err, context.DeadlineExceeded):
			outcome = OutcomeTimeout
			m.logger.Warn("Provider call timed out", "platform", platform, "method", method)
		default:
			outcome = OutcomeError
			m.logger.Error("Provider call failed", &models.ProviderCallError{Platform: platform, Method: method, Err: err},
				"platform", platform,
				"method", method,
			)
		}
		return zero, false
	}
	return out, true
}

// fanOut calls fn on every target concurrently and returns outputs in
// target order, whatever the completion order.
func fanOut[T any](ctx context.Context, m *Manager, targets []registry.Snapshot, method string, fn func(context.Context, provider.Unit) (T, error)) []T {
	start := time.Now()
	mapper := iter.Mapper[registry.Snapshot, T]{MaxGoroutines: m.opts.FanOutConcurrency}
	out := mapper.Map(targets, func(snap *registry.Snapshot) T {
		v, _ := invoke(ctx, m, *snap, method, fn)
		return v
	})
	m.opts.Recorder.ObserveFanOut(method, len(targets), time.Since(start))
	return out
}

// capable returns enabled units that have c, in enumeration order.
func (m *Manager) capable(c provider.Capability) []registry.Snapshot {
	var out []registry.Snapshot
	for _, snap := range m.catalogue.Enabled() {
		if snap.Unit != nil && snap.Unit.Capabilities().Has(c) {
			out = append(out, snap)
		}
	}
	return out
}

// single resolves platform and checks it has c.
func (m *Manager) single(platform string, c provider.Capability) (registry.Snapshot, bool) {
	snap, ok := m.resolve(platform)
	if !ok || !snap.Unit.Capabilities().Has(c) {
		return registry.Snapshot{}, false
	}
	return snap, true
}

func stampItem(item *models.MediaItem, platform string) *models.MediaItem {
	if item != nil {
		item.Platform = platform
	}
	return item
}

func stampResult(r *models.SearchResult, platform string) *models.SearchResult {
	if r != nil {
		models.StampPlatform(r.Data, platform)
	}
	return r
}

func stampSheet(s *models.SheetInfo, platform string) *models.SheetInfo {
	if s != nil {
		stampItem(s.Sheet, platform)
		models.StampPlatform(s.Items, platform)
	}
	return s
}
