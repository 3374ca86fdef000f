package sandboxapi

import (
	"fmt"

	"github.com/cryguy/tickrun/internal/core"
)

const cpuJS = `(function () {
	'use strict';
	var sys = globalThis.__sys, b = sys.builtins;
	var nativeCPU = globalThis.__native_cpu;
	var nativeHalt = globalThis.__native_halt;

	sys.makeCPU = function (info) {
		var unlimited = info.limit < 0;
		return b.freeze({
			limit: unlimited ? Infinity : info.limit,
			tickLimit: unlimited ? Infinity : info.tickLimit,
			bucket: info.bucket,
			getUsed: function () { return nativeCPU(); },
			halt: function () {
				nativeHalt();
				throw new b.Error('CPU halted');
			}
		});
	};
})();`

// SetupCPU installs the factory for Game.cpu. halt interrupts the context;
// the run unwinds and the context is discarded.
func SetupCPU(rt core.JSRuntime, h Host) error {
	if err := rt.RegisterFunc("__native_cpu", func() float64 {
		return h.CPUUsed()
	}); err != nil {
		return fmt.Errorf("registering __native_cpu: %w", err)
	}
	if err := rt.RegisterFunc("__native_halt", func() {
		h.Halt()
	}); err != nil {
		return fmt.Errorf("registering __native_halt: %w", err)
	}
	return evalBootstrap(rt, "cpu", cpuJS)
}
