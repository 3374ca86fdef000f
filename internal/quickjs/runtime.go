// Package quickjs adapts modernc.org/quickjs to core.JSRuntime and adds the
// lifecycle controls a tenant context needs.
package quickjs

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"modernc.org/quickjs"

	"github.com/cryguy/tickrun/internal/core"
)

// Runtime implements core.JSRuntime for one QuickJS VM with its own heap.
type Runtime struct {
	vm   *quickjs.VM
	jobs *jobQueue

	mu          sync.Mutex // guards vm lifetime against Interrupt
	closed      bool
	interrupted atomic.Bool
}

var _ core.JSRuntime = (*Runtime)(nil)

// New creates a VM whose heap may not grow past memoryLimit bytes.
func New(memoryLimit uintptr) (*Runtime, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if memoryLimit > 0 {
		vm.SetMemoryLimit(memoryLimit)
	}
	return &Runtime{vm: vm, jobs: newJobQueue(vm)}, nil
}

// Eval evaluates JavaScript and discards the result.
func (r *Runtime) Eval(js string) error {
	v, err := r.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (r *Runtime) EvalString(js string) (string, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	if s, ok := result.(string); ok {
		return s, nil
	}
	return fmt.Sprint(result), nil
}

// EvalBool evaluates JavaScript and returns the result as a Go bool.
func (r *Runtime) EvalBool(js string) (bool, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", result)
	}
	return b, nil
}

// EvalInt evaluates JavaScript and returns the result as a Go int.
func (r *Runtime) EvalInt(js string) (int, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return 0, err
	}
	switch v := result.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("expected int, got %T", result)
	}
}

// RegisterFunc registers a Go function as a global JavaScript function.
// Multi-value Go returns (T, error) are automatically unwrapped: on success
// returns T, on error throws a TypeError. This is necessary because the
// QuickJS Go wrapper returns multi-value results as JS arrays.
func (r *Runtime) RegisterFunc(name string, fn any) error {
	rawName := "__raw_" + name
	if err := r.vm.RegisterFunc(rawName, fn, false); err != nil {
		return err
	}
	wrapJS := fmt.Sprintf(`(function() {
		var raw = globalThis[%q], isArray = Array.isArray, TE = TypeError, str = String;
		globalThis[%q] = function() {
			var r = raw.apply(this, arguments);
			if (isArray(r)) {
				if (r[1] !== null && r[1] !== undefined) throw new TE(str(r[1]));
				return r[0];
			}
			return r;
		};
		delete globalThis[%q];
	})()`, rawName, name, rawName)
	return r.Eval(wrapJS)
}

// SetGlobal sets a global property on the VM's global object.
func (r *Runtime) SetGlobal(name string, value any) error {
	atom, err := r.vm.NewAtom(name)
	if err != nil {
		return fmt.Errorf("creating atom %q: %w", name, err)
	}
	glob := r.vm.GlobalObject()
	defer glob.Free()
	return glob.SetProperty(atom, value)
}

// RunMicrotasks pumps the QuickJS microtask queue. It stops early once the
// runtime has been interrupted.
func (r *Runtime) RunMicrotasks() {
	r.jobs.drain(r.interrupted.Load)
}

// Interrupt forces running JavaScript to unwind with an error. It is safe
// to call from any goroutine, repeatedly, and after Close.
func (r *Runtime) Interrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.interrupted.Store(true)
	r.vm.Interrupt()
}

// Interrupted reports whether Interrupt was ever called.
func (r *Runtime) Interrupted() bool { return r.interrupted.Load() }

// Close releases the VM and its heap. Callers must not close a runtime
// that is still evaluating. Close is idempotent.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.vm.Close()
}

// Closed reports whether Close has run.
func (r *Runtime) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// IsOutOfMemory reports whether err is QuickJS running out of heap.
func IsOutOfMemory(err error) bool {
	return err != nil && strings.Contains(err.Error(), "out of memory")
}

// IsInterrupted reports whether err is the unwind caused by Interrupt.
func IsInterrupted(err error) bool {
	return err != nil && strings.Contains(err.Error(), "interrupted")
}
