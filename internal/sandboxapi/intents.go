package sandboxapi

import (
	"fmt"

	"github.com/cryguy/tickrun/internal/core"
)

const intentsJS = `(function () {
	'use strict';
	var sys = globalThis.__sys, b = sys.builtins;
	var nativeIntent = globalThis.__native_intent;

	function encode(data) {
		var s = b.stringify(data);
		return s === undefined ? 'null' : s;
	}

	sys.intents = b.freeze({
		set: function (id, name, data) {
			nativeIntent('set', b.String(id), b.String(name), encode(data), 0);
		},
		push: function (name, data, maxLen) {
			return nativeIntent('push', '', b.String(name), encode(data), maxLen | 0) === 1;
		},
		pushByName: function (id, name, data, maxLen) {
			return nativeIntent('pushByName', b.String(id), b.String(name), encode(data), maxLen | 0) === 1;
		},
		remove: function (id, name) {
			return nativeIntent('remove', b.String(id), b.String(name), '', 0) === 1;
		}
	});
})();`

// SetupIntents installs the intent recorder exposed as Game.intents.
func SetupIntents(rt core.JSRuntime, h Host) error {
	if err := rt.RegisterFunc("__native_intent", func(op, id, name, data string, maxLen int) (int, error) {
		ok, err := h.Intent(op, id, name, data, maxLen)
		if err != nil {
			return 0, err
		}
		return core.BoolToInt(ok), nil
	}); err != nil {
		return fmt.Errorf("registering __native_intent: %w", err)
	}
	return evalBootstrap(rt, "intents", intentsJS)
}
