// Package registry keeps the authoritative catalogue of provider units:
// built-ins, installed providers, their enabled state and user variables.
package registry

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cespare/xxhash/v2"
	"github.com/samber/lo"

	"norelock.dev/listenify/providerhost/internal/loader"
	"norelock.dev/listenify/providerhost/internal/models"
	"norelock.dev/listenify/providerhost/internal/provider"
	"norelock.dev/listenify/providerhost/internal/utils"
)

// Install outcomes reported to Metrics.
const (
	OutcomeInstalled           = "installed"
	OutcomeUpdated             = "updated"
	OutcomeAlreadyInstalled    = "already_installed"
	OutcomeCannotParse         = "cannot_parse"
	OutcomeVersionIncompatible = "version_incompatible"
	OutcomeNewerVersionPresent = "newer_version_present"
	OutcomeFailed              = "failed"
)

// Metrics receives registry measurements.
type Metrics interface {
	RecordInstall(outcome string)
	SetProviderCounts(installed, enabled int)
}

type nopMetrics struct{}

func (nopMetrics) RecordInstall(string)       {}
func (nopMetrics) SetProviderCounts(int, int) {}

// InstallOptions tunes Install.
type InstallOptions struct {
	// SkipVersionCheck replaces an existing entry even when it is newer.
	SkipVersionCheck bool `json:"skipVersionCheck"`
}

// InstallResult is the structured outcome of an install.
// Failures are reported here rather than returned as errors.
type InstallResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Platform string `json:"platform,omitempty"`
	Hash     string `json:"hash,omitempty"`

	// Err classifies the outcome; ErrAlreadyInstalled accompanies a success.
	Err error `json:"-"`
}

// Snapshot is a consistent copy of one entry.
type Snapshot struct {
	Info          models.ProviderInfo `json:"info"`
	Unit          provider.Unit       `json:"-"`
	Builtin       bool                `json:"builtin"`
	Enabled       bool                `json:"enabled"`
	Order         int                 `json:"order"`
	UserVariables map[string]string   `json:"userVariables"`
	Hash          string              `json:"hash,omitempty"`
	SourcePath    string              `json:"sourcePath,omitempty"`
	Capabilities  []string            `json:"capabilities"`
	State         string              `json:"state"`
	Error         string              `json:"error,omitempty"`
}

// Mounted reports whether the entry has a working unit.
func (s Snapshot) Mounted() bool {
	return s.State == loader.StateMounted.String()
}

type entry struct {
	unit    provider.Unit
	builtin bool
	enabled bool
	order   int
	vars    map[string]string
	hash    string
	path    string
	state   loader.State
	loadErr error
}

func (e *entry) platform() string {
	return e.unit.Info().Platform
}

func (e *entry) config() entryConfig {
	return entryConfig{Enabled: e.enabled, UserVariables: maps.Clone(e.vars), Order: e.order}
}

func (e *entry) snapshot() Snapshot {
	s := Snapshot{
		Info:          e.unit.Info(),
		Unit:          e.unit,
		Builtin:       e.builtin,
		Enabled:       e.enabled && e.state == loader.StateMounted,
		Order:         e.order,
		UserVariables: maps.Clone(e.vars),
		Hash:          e.hash,
		SourcePath:    e.path,
		Capabilities:  e.unit.Capabilities().Names(),
		State:         e.state.String(),
	}
	if s.UserVariables == nil {
		s.UserVariables = map[string]string{}
	}
	if e.loadErr != nil {
		s.Error = e.loadErr.Error()
	}
	return s
}

// Option configures a Registry.
type Option func(*Registry)

// WithBuiltins registers units that are always present and cannot be removed.
func WithBuiltins(units ...provider.Unit) Option {
	return func(r *Registry) {
		for _, u := range units {
			r.builtins = append(r.builtins, &entry{
				unit:    u,
				builtin: true,
				enabled: true,
				order:   len(r.builtins),
				vars:    map[string]string{},
				state:   loader.StateMounted,
			})
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithHTTPClient sets the client used by InstallFromURL.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) {
		r.httpClient = c
	}
}

// WithMaxSourceSize caps the size of sources fetched by InstallFromURL.
func WithMaxSourceSize(n int64) Option {
	return func(r *Registry) {
		r.maxSourceSize = n
	}
}

// Registry is the single catalogue of provider units for the process.
// Reads take a shared lock; every mutation is serialized.
type Registry struct {
	mu        sync.RWMutex
	builtins  []*entry
	installed map[string]*entry
	byHash    map[string]string
	broken    map[string]*entry
	nextOrder int

	loader  *loader.Loader
	storage *SourceStorage
	store   ConfigStore
	events  *eventBus
	metrics Metrics
	logger  *utils.Logger

	httpClient    *http.Client
	maxSourceSize int64
}

// New creates a registry and binds the loader's user variable lookups to it.
func New(ld *loader.Loader, storage *SourceStorage, store ConfigStore, logger *utils.Logger, opts ...Option) *Registry {
	r := &Registry{
		installed:     make(map[string]*entry),
		byHash:        make(map[string]string),
		broken:        make(map[string]*entry),
		loader:        ld,
		storage:       storage,
		store:         store,
		events:        newEventBus(),
		metrics:       nopMetrics{},
		logger:        logger.Named("registry"),
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		maxSourceSize: 5 << 20,
	}
	for _, opt := range opts {
		opt(r)
	}
	ld.BindVariables(r.UserVariables)
	return r
}

// Init loads every stored provider source and restores persisted state.
// Among stored copies of the same platform the newest version wins and
// the other files are deleted.
func (r *Registry) Init(ctx context.Context) error {
	paths, err := r.storage.List()
	if err != nil {
		return fmt.Errorf("%w: list provider dir: %v", models.ErrStorageFailed, err)
	}

	type loaded struct {
		res  *loader.Result
		hash string
		path string
	}
	var mounted []loaded
	var broken []*entry
	for _, path := range paths {
		source, err := r.storage.Read(path)
		if err != nil {
			r.logger.Error("Failed to read provider source", err, "path", path)
			continue
		}
		res := r.loader.Load(ctx, source, path)
		hash := hashSource(source)
		if !res.Mounted() {
			broken = append(broken, &entry{unit: res.Unit, hash: hash, path: path, state: res.State, loadErr: res.Err, vars: map[string]string{}})
			continue
		}
		mounted = append(mounted, loaded{res: res, hash: hash, path: path})
	}

	// Newest version of each platform wins.
	winners := make(map[string]loaded)
	var losers []loaded
	for _, l := range mounted {
		platform := l.res.Unit.Info().Platform
		if r.isBuiltin(platform) {
			r.logger.Warn("Stored provider shadows a built-in, ignoring", "platform", platform, "path", l.path)
			losers = append(losers, l)
			continue
		}
		cur, ok := winners[platform]
		if !ok {
			winners[platform] = l
			continue
		}
		if isStrictlyNewer(l.res.Unit.Info().Version, cur.res.Unit.Info().Version) {
			losers = append(losers, cur)
			winners[platform] = l
		} else {
			losers = append(losers, l)
		}
	}
	for _, l := range losers {
		r.logger.Info("Removing superseded provider copy", "platform", l.res.Unit.Info().Platform, "version", l.res.Unit.Info().Version, "path", l.path)
		_ = provider.Release(l.res.Unit)
		if err := r.storage.Remove(l.path); err != nil {
			r.logger.Error("Failed to remove provider copy", err, "path", l.path)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.builtins {
		cfg, _ := r.readConfig(ctx, e.platform(), e.order)
		e.enabled = cfg.Enabled
		e.vars = cfg.UserVariables
	}

	for _, platform := range lo.Keys(winners) {
		l := winners[platform]
		cfg, fresh := r.readConfig(ctx, platform, -1)
		e := &entry{
			unit:    l.res.Unit,
			enabled: cfg.Enabled,
			order:   cfg.Order,
			vars:    cfg.UserVariables,
			hash:    l.hash,
			path:    l.path,
			state:   loader.StateMounted,
		}
		r.installed[platform] = e
		r.byHash[l.hash] = platform
		if fresh {
			e.order = -1
		}
	}

	// Entries without a stored order go last, in platform order.
	for _, e := range r.sortedInstalled() {
		if e.order >= r.nextOrder {
			r.nextOrder = e.order + 1
		}
	}
	for _, e := range r.sortedInstalled() {
		if e.order < 0 {
			e.order = r.nextOrder
			r.nextOrder++
			if err := r.writeConfig(ctx, e.platform(), e.config()); err != nil {
				r.logger.Error("Failed to persist provider config", err, "platform", e.platform())
			}
		}
	}

	for _, e := range broken {
		r.broken[e.hash] = e
	}
	for platform := range winners {
		r.dropBrokenCopies(platform, "")
	}

	r.logger.Info("Provider registry initialized",
		"builtins", len(r.builtins),
		"installed", len(r.installed),
		"broken", len(r.broken),
	)
	r.updateCounts()
	return nil
}

// readConfig returns the stored config or defaults. Corrupted values are
// replaced by defaults; fresh reports that nothing usable was stored.
func (r *Registry) readConfig(ctx context.Context, platform string, order int) (cfg entryConfig, fresh bool) {
	raw, ok, err := r.store.Get(ctx, ConfigKey(platform))
	if err != nil {
		r.logger.Error("Failed to read provider config", err, "platform", platform)
		return defaultConfig(order), true
	}
	if !ok {
		return defaultConfig(order), true
	}
	cfg, hasOrder, err := unmarshalConfig(raw)
	if err != nil {
		r.logger.Warn("Discarding corrupted provider config", "platform", platform, "error", err)
		cfg = defaultConfig(order)
		if order >= 0 {
			if err := r.writeConfig(ctx, platform, cfg); err != nil {
				r.logger.Error("Failed to rewrite provider config", err, "platform", platform)
			}
		}
		return cfg, true
	}
	if !hasOrder {
		cfg.Order = order
		return cfg, true
	}
	return cfg, false
}

func (r *Registry) writeConfig(ctx context.Context, platform string, cfg entryConfig) error {
	raw, err := cfg.marshal()
	if err != nil {
		return err
	}
	return r.store.Set(ctx, ConfigKey(platform), raw)
}

// Install loads source and adds it to the registry, replacing an older
// copy of the same platform. The previous entry's order is kept, as are
// its enabled flag and user variables.
func (r *Registry) Install(ctx context.Context, source, sourcePath string, opts InstallOptions) InstallResult {
	res := r.loader.Load(ctx, source, sourcePath)
	if !res.Mounted() {
		outcome := OutcomeCannotParse
		if res.Reason == models.ReasonVersionIncompatible {
			outcome = OutcomeVersionIncompatible
		}
		r.metrics.RecordInstall(outcome)
		return InstallResult{
			Success:  false,
			Message:  res.Err.Error(),
			Platform: res.Unit.Info().Platform,
			Err:      res.Err,
		}
	}

	hash := hashSource(source)
	info := res.Unit.Info()

	r.mu.Lock()
	defer r.mu.Unlock()

	if platform, ok := r.byHash[hash]; ok {
		_ = provider.Release(res.Unit)
		r.metrics.RecordInstall(OutcomeAlreadyInstalled)
		return InstallResult{
			Success:  true,
			Message:  "already installed",
			Platform: platform,
			Hash:     hash,
			Err:      models.ErrAlreadyInstalled,
		}
	}

	if r.isBuiltin(info.Platform) {
		_ = provider.Release(res.Unit)
		r.metrics.RecordInstall(OutcomeFailed)
		return InstallResult{
			Message:  "platform is reserved by a built-in provider",
			Platform: info.Platform,
			Err:      models.ErrBuiltinProvider,
		}
	}

	old, exists := r.installed[info.Platform]
	if exists && !opts.SkipVersionCheck && isStrictlyNewer(old.unit.Info().Version, info.Version) {
		_ = provider.Release(res.Unit)
		r.metrics.RecordInstall(OutcomeNewerVersionPresent)
		return InstallResult{
			Message:  "newer version already installed",
			Platform: info.Platform,
			Hash:     old.hash,
			Err:      models.ErrNewerVersionPresent,
		}
	}

	path, err := r.storage.Write(hash, source)
	if err != nil {
		_ = provider.Release(res.Unit)
		r.logger.Error("Failed to store provider source", err, "platform", info.Platform)
		r.metrics.RecordInstall(OutcomeFailed)
		return InstallResult{
			Message:  "failed to store provider source",
			Platform: info.Platform,
			Err:      fmt.Errorf("%w: %v", models.ErrStorageFailed, err),
		}
	}

	cfg := defaultConfig(r.nextOrder)
	if exists {
		cfg = old.config()
	}
	if err := r.writeConfig(ctx, info.Platform, cfg); err != nil {
		_ = provider.Release(res.Unit)
		if rmErr := r.storage.Remove(path); rmErr != nil {
			r.logger.Error("Failed to remove provider source", rmErr, "path", path)
		}
		r.logger.Error("Failed to persist provider config", err, "platform", info.Platform)
		r.metrics.RecordInstall(OutcomeFailed)
		return InstallResult{
			Message:  "failed to persist provider config",
			Platform: info.Platform,
			Err:      fmt.Errorf("%w: %v", models.ErrPersistFailed, err),
		}
	}

	if exists {
		delete(r.byHash, old.hash)
		if err := r.storage.Remove(old.path); err != nil {
			r.logger.Error("Failed to remove replaced provider source", err, "platform", info.Platform, "path", old.path)
		}
		_ = provider.Release(old.unit)
	} else {
		r.nextOrder++
	}

	r.installed[info.Platform] = &entry{
		unit:    res.Unit,
		enabled: cfg.Enabled,
		order:   cfg.Order,
		vars:    cfg.UserVariables,
		hash:    hash,
		path:    path,
		state:   loader.StateMounted,
	}
	r.byHash[hash] = info.Platform
	delete(r.broken, hash)
	r.dropBrokenCopies(info.Platform, path)

	eventType, outcome := EventInstalled, OutcomeInstalled
	if exists {
		eventType, outcome = EventUpdated, OutcomeUpdated
	}
	r.metrics.RecordInstall(outcome)
	r.updateCounts()
	r.emit(eventType, info)

	r.logger.Info("Provider installed",
		"platform", info.Platform,
		"version", info.Version,
		"hash", hash,
		"replaced", exists,
	)

	return InstallResult{
		Success:  true,
		Message:  "installed",
		Platform: info.Platform,
		Hash:     hash,
	}
}

// SetEnabled flips an entry's enabled flag. The unit stays loaded.
// The flag only changes after it has been persisted.
func (r *Registry) SetEnabled(ctx context.Context, platform string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.lookup(platform)
	if !ok {
		return models.ErrProviderNotFound
	}
	if e.enabled == enabled {
		return nil
	}

	cfg := e.config()
	cfg.Enabled = enabled
	if err := r.writeConfig(ctx, platform, cfg); err != nil {
		r.logger.Error("Failed to persist enabled flag", err, "platform", platform)
		return fmt.Errorf("%w: %v", models.ErrPersistFailed, err)
	}
	e.enabled = enabled

	eventType := EventDisabled
	if enabled {
		eventType = EventEnabled
	}
	r.updateCounts()
	r.emit(eventType, e.unit.Info())
	return nil
}

// SetUserVariable merges one value into the entry's user variables.
func (r *Registry) SetUserVariable(ctx context.Context, platform, key, value string) error {
	return r.SetUserVariables(ctx, platform, map[string]string{key: value})
}

// SetUserVariables merges values into the entry's user variables. On a
// failed durable write the previous values stay in effect.
func (r *Registry) SetUserVariables(ctx context.Context, platform string, values map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.lookup(platform)
	if !ok {
		return models.ErrProviderNotFound
	}

	cfg := e.config()
	if cfg.UserVariables == nil {
		cfg.UserVariables = make(map[string]string, len(values))
	}
	maps.Copy(cfg.UserVariables, values)
	if err := r.writeConfig(ctx, platform, cfg); err != nil {
		r.logger.Error("Failed to persist user variables", err, "platform", platform)
		return fmt.Errorf("%w: %v", models.ErrPersistFailed, err)
	}
	e.vars = cfg.UserVariables

	r.emit(EventVariables, e.unit.Info())
	return nil
}

// Remove deletes an installed provider's source and persisted config.
// Broken copies can be removed by platform or by hash.
func (r *Registry) Remove(ctx context.Context, platform string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isBuiltin(platform) {
		return models.ErrBuiltinProvider
	}

	e, ok := r.installed[platform]
	if !ok {
		return r.removeBroken(platform)
	}

	if err := r.storage.Remove(e.path); err != nil {
		r.logger.Error("Failed to remove provider source", err, "platform", platform, "path", e.path)
		return fmt.Errorf("%w: %v", models.ErrStorageFailed, err)
	}
	if err := r.store.Delete(ctx, ConfigKey(platform)); err != nil {
		r.logger.Warn("Failed to delete provider config", "platform", platform, "error", err)
	}

	delete(r.installed, platform)
	delete(r.byHash, e.hash)
	_ = provider.Release(e.unit)

	r.updateCounts()
	r.emit(EventRemoved, e.unit.Info())
	r.logger.Info("Provider removed", "platform", platform)
	return nil
}

// dropBrokenCopies forgets broken copies of platform and deletes their
// files, except the file at keep. Callers hold r.mu.
func (r *Registry) dropBrokenCopies(platform, keep string) {
	for key, e := range r.broken {
		if e.platform() != platform {
			continue
		}
		delete(r.broken, key)
		if e.path == keep {
			continue
		}
		r.logger.Info("Removing broken provider copy", "platform", platform, "path", e.path)
		if err := r.storage.Remove(e.path); err != nil {
			r.logger.Error("Failed to remove broken provider copy", err, "path", e.path)
		}
	}
}

func (r *Registry) removeBroken(key string) error {
	for hash, e := range r.broken {
		if hash != key && e.platform() != key {
			continue
		}
		if err := r.storage.Remove(e.path); err != nil {
			return fmt.Errorf("%w: %v", models.ErrStorageFailed, err)
		}
		delete(r.broken, hash)
		return nil
	}
	return models.ErrProviderNotFound
}

// List returns built-ins first, then installed entries by order, then
// copies that failed to load.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.builtins)+len(r.installed)+len(r.broken))
	for _, e := range r.builtins {
		out = append(out, e.snapshot())
	}
	for _, e := range r.sortedInstalled() {
		out = append(out, e.snapshot())
	}
	broken := lo.Values(r.broken)
	sort.Slice(broken, func(i, j int) bool { return broken[i].path < broken[j].path })
	for _, e := range broken {
		out = append(out, e.snapshot())
	}
	return out
}

// Enabled returns the enabled, mounted entries in enumeration order.
func (r *Registry) Enabled() []Snapshot {
	return lo.Filter(r.List(), func(s Snapshot, _ int) bool {
		return s.Enabled
	})
}

// Get returns the entry for platform.
func (r *Registry) Get(platform string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.lookup(platform)
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// UserVariables returns a copy of the stored user variable values.
func (r *Registry) UserVariables(platform string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.lookup(platform)
	if !ok {
		return map[string]string{}
	}
	vars := maps.Clone(e.vars)
	if vars == nil {
		vars = map[string]string{}
	}
	return vars
}

// Subscribe returns a channel of committed changes and a func to stop receiving.
func (r *Registry) Subscribe(buffer int) (<-chan Event, func()) {
	return r.events.subscribe(buffer)
}

// Ping checks the durable store.
func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Close releases every unit and closes the durable store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.installed {
		_ = provider.Release(e.unit)
	}
	for _, e := range r.builtins {
		_ = provider.Release(e.unit)
	}
	r.events.close()
	return r.store.Close()
}

func (r *Registry) lookup(platform string) (*entry, bool) {
	for _, e := range r.builtins {
		if e.platform() == platform {
			return e, true
		}
	}
	e, ok := r.installed[platform]
	return e, ok
}

func (r *Registry) isBuiltin(platform string) bool {
	return lo.ContainsBy(r.builtins, func(e *entry) bool {
		return e.platform() == platform
	})
}

// sortedInstalled orders by order, then platform for a stable tie break.
func (r *Registry) sortedInstalled() []*entry {
	entries := lo.Values(r.installed)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].order != entries[j].order {
			return entries[i].order < entries[j].order
		}
		return entries[i].platform() < entries[j].platform()
	})
	return entries
}

func (r *Registry) updateCounts() {
	enabled := 0
	for _, e := range r.builtins {
		if e.enabled {
			enabled++
		}
	}
	for _, e := range r.installed {
		if e.enabled {
			enabled++
		}
	}
	r.metrics.SetProviderCounts(len(r.installed), enabled)
}

func (r *Registry) emit(t EventType, info models.ProviderInfo) {
	dropped := r.events.publish(Event{
		Type:      t,
		Platform:  info.Platform,
		Version:   info.Version,
		Timestamp: time.Now(),
	})
	if dropped > 0 {
		r.logger.Warn("Registry event dropped for slow subscribers", "type", string(t), "dropped", dropped)
	}
}

// hashSource identifies one concrete installed copy.
func hashSource(source string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(source))
}

// isStrictlyNewer compares semantic versions. Unparsable versions never win.
func isStrictlyNewer(a, b string) bool {
	va, err := semver.NewVersion(a)
	if err != nil {
		return false
	}
	vb, err := semver.NewVersion(b)
	if err != nil {
		return true
	}
	return va.GreaterThan(vb)
}
