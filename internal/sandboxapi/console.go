package sandboxapi

import (
	"fmt"

	"github.com/cryguy/tickrun/internal/core"
)

const consoleJS = `(function () {
	'use strict';
	var sys = globalThis.__sys, b = sys.builtins;
	var nativeLog = globalThis.__native_log;

	function format(args) {
		var parts = [];
		for (var i = 0; i < args.length; i++) {
			parts.push(b.String(args[i]));
		}
		return parts.join(' ');
	}
	function visuals() {
		var t = sys.tick;
		if (!t) {
			throw new b.Error('Visuals are only available during a tick');
		}
		return t.visual;
	}

	var console = {
		log: function () { nativeLog(format(arguments)); },
		addVisual: function (roomName, data) {
			var v = visuals(), key = roomName ? b.String(roomName) : '';
			v[key] = (v[key] || '') + b.stringify(data) + '\n';
		},
		getVisualSize: function (roomName) {
			var v = visuals(), key = roomName ? b.String(roomName) : '';
			return v[key] ? v[key].length : 0;
		},
		clearVisual: function (roomName) {
			var v = visuals(), key = roomName ? b.String(roomName) : '';
			delete v[key];
		}
	};
	console.info = console.log;
	console.warn = console.log;
	console.error = console.log;
	console.debug = console.log;
	globalThis.console = console;
})();`

// SetupConsole installs console. Log lines go straight to the host so
// they survive a run that dies; visuals are kept per tick in the sandbox.
func SetupConsole(rt core.JSRuntime, h Host) error {
	if err := rt.RegisterFunc("__native_log", func(msg string) {
		h.Log(msg)
	}); err != nil {
		return fmt.Errorf("registering __native_log: %w", err)
	}
	return evalBootstrap(rt, "console", consoleJS)
}
