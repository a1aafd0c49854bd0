// Package loader turns provider source text into callable provider units.
package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/dop251/goja"

	"norelock.dev/listenify/providerhost/internal/models"
	"norelock.dev/listenify/providerhost/internal/provider"
	"norelock.dev/listenify/providerhost/internal/utils"
)

// State is the lifecycle state of a load.
type State int

const (
	StateLoading State = iota
	StateMounted
	StateError
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateMounted:
		return "mounted"
	default:
		return "error"
	}
}

// Result is the outcome of loading one provider source.
// Unit is never nil: failed loads carry a stub unit with whatever
// identity could be read.
type Result struct {
	State  State
	Reason models.LoadErrorReason
	Err    error
	Unit   provider.Unit
}

// Mounted reports whether the unit loaded successfully.
func (r *Result) Mounted() bool {
	return r.State == StateMounted
}

// VariableSource returns the stored user variable values of a platform.
type VariableSource func(platform string) map[string]string

// Options configures a Loader.
type Options struct {
	// HostVersion is matched against each provider's appVersion range.
	HostVersion string
	// MaxRuntimes bounds the interpreter instances per unit.
	MaxRuntimes int
	// HTTPClient serves the http host module.
	HTTPClient *http.Client
	// Lang is exposed to providers as env.lang.
	Lang string
}

// Loader compiles provider sources into script units.
type Loader struct {
	opts        Options
	hostVersion *semver.Version
	variables   atomic.Pointer[VariableSource]
	logger      *utils.Logger
}

// New creates a loader. The host version must be a valid semantic version.
func New(opts Options, logger *utils.Logger) (*Loader, error) {
	v, err := semver.NewVersion(opts.HostVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid host version %q: %w", opts.HostVersion, err)
	}
	if opts.MaxRuntimes < 1 {
		opts.MaxRuntimes = 4
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Lang == "" {
		opts.Lang = "en"
	}
	return &Loader{
		opts:        opts,
		hostVersion: v,
		logger:      logger.Named("loader"),
	}, nil
}

// HostVersion returns the version providers are checked against.
func (l *Loader) HostVersion() *semver.Version {
	return l.hostVersion
}

// BindVariables sets where env.getUserVariables reads from.
func (l *Loader) BindVariables(src VariableSource) {
	l.variables.Store(&src)
}

func (l *Loader) userVariables(platform string) map[string]string {
	src := l.variables.Load()
	if platform == "" || src == nil || *src == nil {
		return map[string]string{}
	}
	vars := (*src)(platform)
	if vars == nil {
		return map[string]string{}
	}
	return vars
}

// Load evaluates source and validates the exported module.
// Evaluation runs until the module returns or ctx ends.
func (l *Loader) Load(ctx context.Context, source, path string) *Result {
	program, err := goja.Compile(path, source, false)
	if err != nil {
		return l.fail(path, models.ReasonCannotParse, err, models.ProviderInfo{})
	}

	rt, err := l.newRuntime(ctx, program, path)
	if err != nil {
		return l.fail(path, models.ReasonCannotParse, err, models.ProviderInfo{})
	}

	info, caps, err := l.inspect(ctx, rt)
	if err != nil {
		return l.fail(path, models.ReasonCannotParse, err, info)
	}
	if info.Platform == "" {
		return l.fail(path, models.ReasonCannotParse, errors.New("platform is missing"), info)
	}

	if info.AppVersion != "" {
		c, err := semver.NewConstraint(info.AppVersion)
		if err != nil {
			return l.fail(path, models.ReasonVersionIncompatible, fmt.Errorf("invalid appVersion %q: %w", info.AppVersion, err), info)
		}
		if !c.Check(l.hostVersion) {
			return l.fail(path, models.ReasonVersionIncompatible,
				fmt.Errorf("host %s does not satisfy %q", l.hostVersion, info.AppVersion), info)
		}
	}

	rt.platform = info.Platform
	rt.logger = rt.logger.With("platform", info.Platform)

	unit := &ScriptUnit{
		info: info,
		caps: caps,
		path: path,
	}
	unit.pool = newRuntimePool(l.opts.MaxRuntimes, rt, func() (*jsRuntime, error) {
		next, err := l.newRuntime(context.Background(), program, path)
		if err != nil {
			return nil, err
		}
		next.platform = info.Platform
		next.logger = next.logger.With("platform", info.Platform)
		return next, nil
	})

	l.logger.Debug("Provider mounted",
		"platform", info.Platform,
		"version", info.Version,
		"path", path,
		"capabilities", caps.String(),
	)

	return &Result{State: StateMounted, Unit: unit}
}

// inspect reads identity metadata and capability methods off the exports.
// Reading runs exported getters, so a throwing getter fails the load.
func (l *Loader) inspect(ctx context.Context, rt *jsRuntime) (info models.ProviderInfo, caps provider.Capabilities, err error) {
	cleanup := interruptOnDone(ctx, rt.vm)
	defer cleanup()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading module exports: %v", r)
		}
	}()

	exported, ok := rt.exports.Export().(map[string]any)
	if !ok {
		return info, 0, errors.New("module did not export an object")
	}
	info = toInfo(exported)

	for _, c := range provider.AllCapabilities() {
		if _, ok := goja.AssertFunction(rt.exports.Get(c.MethodName())); ok {
			caps = caps.With(c)
		}
	}
	return info, caps, nil
}

// newRuntime evaluates the compiled program in a fresh interpreter.
func (l *Loader) newRuntime(ctx context.Context, program *goja.Program, path string) (rt *jsRuntime, err error) {
	vm := goja.New()
	rt = &jsRuntime{
		vm:     vm,
		logger: l.logger.With("path", path),
		ctx:    ctx,
	}

	module := vm.NewObject()
	if err := module.Set("exports", vm.NewObject()); err != nil {
		return nil, err
	}
	if err := l.installGlobals(rt, module); err != nil {
		return nil, err
	}

	cleanup := interruptOnDone(ctx, vm)
	defer cleanup()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider module panicked: %v", r)
		}
	}()

	if _, err := vm.RunProgram(program); err != nil {
		return nil, err
	}

	exports, ok := module.Get("exports").(*goja.Object)
	if !ok {
		return nil, errors.New("module.exports is not an object")
	}
	rt.exports = exports
	rt.ctx = context.Background()
	return rt, nil
}

func (l *Loader) fail(path string, reason models.LoadErrorReason, cause error, info models.ProviderInfo) *Result {
	loadErr := &models.LoadError{Reason: reason, Path: path, Err: cause}
	l.logger.Warn("Provider load failed",
		"path", path,
		"reason", string(reason),
		"platform", info.Platform,
		"error", cause,
	)
	return &Result{
		State:  StateError,
		Reason: reason,
		Err:    loadErr,
		Unit:   provider.NewStub(info),
	}
}
