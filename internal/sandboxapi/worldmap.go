package sandboxapi

import (
	"fmt"

	"github.com/cryguy/tickrun/internal/core"
)

const worldMapJS = `(function () {
	'use strict';
	var sys = globalThis.__sys, b = sys.builtins;
	var nativeTerrain = globalThis.__native_terrain;

	sys.map = b.freeze({
		getRoomTerrain: function (roomName) {
			var room = b.String(roomName);
			if (nativeTerrain(room, 0, 0) < 0) {
				throw new b.Error('Could not access room ' + room);
			}
			return b.freeze({
				get: function (x, y) {
					var v = nativeTerrain(room, x | 0, y | 0);
					return v < 0 ? undefined : v;
				}
			});
		},
		getWorldSize: function () { return 255; }
	});
})();`

// SetupWorldMap installs Game.map. Terrain is read from the shared world
// data, never copied into the context.
func SetupWorldMap(rt core.JSRuntime, h Host) error {
	if err := rt.RegisterFunc("__native_terrain", func(room string, x, y int) (int, error) {
		return h.Terrain(room, x, y), nil
	}); err != nil {
		return fmt.Errorf("registering __native_terrain: %w", err)
	}
	return evalBootstrap(rt, "world map", worldMapJS)
}
