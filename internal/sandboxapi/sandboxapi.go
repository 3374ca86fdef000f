// Package sandboxapi installs the tenant-facing surface of a context:
// console, Game, RawMemory, Memory, PathFinder and the CommonJS module
// system, plus the host operations that start, run and collect a tick.
package sandboxapi

import (
	"fmt"

	"github.com/cryguy/tickrun/internal/compiler"
	"github.com/cryguy/tickrun/internal/core"
)

// Host is the Go side of one context. Its methods back the native
// functions the JavaScript surface calls.
type Host interface {
	Log(message string)
	Intent(op, id, name, data string, maxLen int) (bool, error)
	CPUUsed() float64
	Halt()
	Terrain(room string, x, y int) int
	FindPath(argsJSON string) (string, error)
}

// Setup installs one piece of the surface.
type Setup func(rt core.JSRuntime, h Host) error

// SetupFuncs returns every setup in installation order. SetupSystem must
// come first and SetupTick last.
func SetupFuncs() []Setup {
	return []Setup{
		SetupSystem,
		SetupConsole,
		SetupIntents,
		SetupCPU,
		SetupWorldMap,
		SetupPathFinder,
		SetupMemory,
		SetupModules,
		SetupTick,
	}
}

// Install runs every setup against rt.
func Install(rt core.JSRuntime, h Host) error {
	for _, setup := range SetupFuncs() {
		if err := setup(rt, h); err != nil {
			return err
		}
	}
	return nil
}

func evalBootstrap(rt core.JSRuntime, what, src string) error {
	code, err := compiler.Bootstrap(src)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if err := rt.Eval(code); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// systemJS creates the private registry shared by the setup scripts. The
// builtins are captured before anything else can observe them.
const systemJS = `(function () {
	'use strict';
	var sys = Object.create(null);
	sys.ops = Object.create(null);
	sys.builtins = {
		stringify: JSON.stringify,
		parse: JSON.parse,
		keys: Object.keys,
		create: Object.create,
		freeze: Object.freeze,
		defineProperty: Object.defineProperty,
		isArray: Array.isArray,
		String: String,
		Error: Error,
		parseInt: parseInt,
		isNaN: isNaN,
		eval: globalThis.eval
	};
	sys.tick = null;
	Object.defineProperty(globalThis, '__sys', { value: sys, writable: false, enumerable: false, configurable: true });
})();`

// SetupSystem creates the registry every other setup hangs its state on.
func SetupSystem(rt core.JSRuntime, _ Host) error {
	return evalBootstrap(rt, "system", systemJS)
}
