package sandboxapi

import (
	"github.com/cryguy/tickrun/internal/core"
)

// modulesJS is the CommonJS loader. Module factories are registered by the
// host through the define op and instantiated on first require; exports
// persist for the life of the context.
const modulesJS = `(function () {
	'use strict';
	var sys = globalThis.__sys, b = sys.builtins;
	var registry = b.create(null);
	var cache = b.create(null);

	function require(name) {
		name = b.String(name);
		if (name.indexOf('./') === 0) {
			name = name.slice(2);
		}
		var cached = cache[name];
		if (cached) {
			return cached.exports;
		}
		var entry = registry[name];
		if (!entry) {
			throw new b.Error("Unknown module '" + name + "'");
		}
		if (entry.error) {
			throw new b.Error(entry.error);
		}
		var module = { exports: {} };
		cache[name] = module;
		try {
			entry.factory.call(globalThis, module, module.exports, require);
		} catch (e) {
			delete cache[name];
			throw e;
		}
		return module.exports;
	}

	sys.require = require;
	sys.hasModule = function (name) {
		return !!registry[name];
	};
	sys.ops.define = function __host_define(name, factory, error) {
		registry[name] = { factory: factory, error: error || '' };
		delete cache[name];
	};
	sys.ops.reset = function __host_reset() {
		registry = b.create(null);
		cache = b.create(null);
	};
	globalThis.require = require;
})();`

// SetupModules installs require and the define op.
func SetupModules(rt core.JSRuntime, _ Host) error {
	return evalBootstrap(rt, "modules", modulesJS)
}
