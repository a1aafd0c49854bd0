package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"norelock.dev/listenify/providerhost/internal/provider"
	"norelock.dev/listenify/providerhost/internal/utils"
)

// ErrUnitClosed is returned for calls on a unit that was removed or replaced.
var ErrUnitClosed = errors.New("provider unit closed")

// errUnsettled is returned when a provider method returns a promise that never settles.
var errUnsettled = errors.New("provider promise did not settle")

// jsRuntime is one interpreter instance with the provider module evaluated in it.
// A goja.Runtime is not goroutine safe, so each runtime serves one call at a time.
type jsRuntime struct {
	vm       *goja.Runtime
	exports  *goja.Object
	logger   *utils.Logger
	platform string

	// ctx is the context of the call currently running, read by host functions.
	ctx context.Context
}

// invoke calls an exported method and settles its result.
func (rt *jsRuntime) invoke(ctx context.Context, method string, args ...any) (any, error) {
	fn, ok := goja.AssertFunction(rt.exports.Get(method))
	if !ok {
		return nil, provider.ErrUnsupported
	}

	rt.ctx = ctx
	cleanup := interruptOnDone(ctx, rt.vm)
	defer func() {
		cleanup()
		rt.ctx = context.Background()
	}()

	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = rt.vm.ToValue(a)
	}

	res, err := fn(rt.exports, jsArgs...)
	if err != nil {
		var interrupt *goja.InterruptedError
		if errors.As(err, &interrupt) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return settle(res)
}

// interruptOnDone interrupts vm when ctx ends. The returned func detaches
// the hook and leaves vm reusable.
func interruptOnDone(ctx context.Context, vm *goja.Runtime) func() {
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
		close(interrupted)
	})
	return func() {
		if !stop() {
			<-interrupted
		}
		vm.ClearInterrupt()
	}
}

// settle unwraps a returned promise. Jobs queued by the call have already
// run by the time the outermost call returns.
func settle(v goja.Value) (any, error) {
	if v == nil {
		return nil, nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v.Export(), nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		if p.Result() == nil {
			return nil, nil
		}
		return p.Result().Export(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("promise rejected: %s", p.Result().String())
	default:
		return nil, errUnsettled
	}
}

// runtimePool hands out runtimes, creating them lazily up to max.
type runtimePool struct {
	slots chan struct{}
	idle  chan *jsRuntime
	spawn func() (*jsRuntime, error)

	mu     sync.RWMutex
	closed bool
}

func newRuntimePool(max int, first *jsRuntime, spawn func() (*jsRuntime, error)) *runtimePool {
	if max < 1 {
		max = 1
	}
	p := &runtimePool{
		slots: make(chan struct{}, max),
		idle:  make(chan *jsRuntime, max),
		spawn: spawn,
	}
	if first != nil {
		p.idle <- first
	}
	return p
}

func (p *runtimePool) acquire(ctx context.Context) (*jsRuntime, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrUnitClosed
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case rt := <-p.idle:
		return rt, nil
	default:
	}

	rt, err := p.spawn()
	if err != nil {
		<-p.slots
		return nil, err
	}
	return rt, nil
}

func (p *runtimePool) release(rt *jsRuntime) {
	p.idle <- rt
	<-p.slots
}

func (p *runtimePool) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
