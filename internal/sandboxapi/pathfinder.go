package sandboxapi

import (
	"fmt"

	"github.com/cryguy/tickrun/internal/core"
)

const pathFinderJS = `(function () {
	'use strict';
	var sys = globalThis.__sys, b = sys.builtins;
	var nativePath = globalThis.__native_path;

	function pos(p) {
		if (!p) {
			throw new b.Error('Invalid position');
		}
		return { x: +p.x, y: +p.y, roomName: b.String(p.roomName) };
	}
	function goal(g) {
		if (g && g.pos) {
			return { pos: pos(g.pos), range: +g.range || 0 };
		}
		return { pos: pos(g), range: 0 };
	}

	globalThis.PathFinder = b.freeze({
		search: function (origin, goals, options) {
			var list = b.isArray(goals) ? goals : [goals];
			var normalized = [];
			for (var i = 0; i < list.length; i++) {
				normalized.push(goal(list[i]));
			}
			options = options || {};
			var args = {
				origin: pos(origin),
				goals: normalized,
				options: {
					plainCost: +options.plainCost,
					swampCost: +options.swampCost,
					heuristicWeight: +options.heuristicWeight,
					maxOps: +options.maxOps,
					maxCost: +options.maxCost,
					maxRooms: +options.maxRooms,
					flee: !!options.flee
				}
			};
			return b.parse(nativePath(b.stringify(args)));
		}
	});
})();`

// SetupPathFinder installs PathFinder.search. Options that are missing or
// not numbers reach the host as null and take their defaults.
func SetupPathFinder(rt core.JSRuntime, h Host) error {
	if err := rt.RegisterFunc("__native_path", func(argsJSON string) (string, error) {
		return h.FindPath(argsJSON)
	}); err != nil {
		return fmt.Errorf("registering __native_path: %w", err)
	}
	return evalBootstrap(rt, "path finder", pathFinderJS)
}
