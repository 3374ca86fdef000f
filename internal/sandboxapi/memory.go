package sandboxapi

import "github.com/cryguy/tickrun/internal/core"

// memoryJS builds RawMemory and the lazily parsed Memory global over the
// tick record. Every id check mirrors internal/segments so tenant code sees
// bad input at the call site; the host validates again before persisting.
const memoryJS = `(function () {
	'use strict';
	var sys = globalThis.__sys, b = sys.builtins;
	var MAX_MEMORY = 2 * 1024 * 1024;

	function segmentID(id) {
		var n = b.parseInt(id);
		if (b.isNaN(n) || n > 99 || n < 0) {
			throw new b.Error('"' + id + '" is not a valid segment ID');
		}
		return n;
	}
	function segmentList(ids) {
		if (!b.isArray(ids)) {
			throw new b.Error('"' + ids + '" is not an array');
		}
		var out = [];
		for (var i = 0; i < ids.length; i++) {
			out.push(segmentID(ids[i]));
		}
		return out;
	}

	sys.makeRawMemory = function (t) {
		var raw = b.create(null);
		raw.segments = t.segments;
		raw.interShardSegment = '';
		if (t.foreign) {
			raw.foreignSegment = { username: t.foreign.username, id: t.foreign.id, data: t.foreign.data };
		}
		raw.get = function () {
			return t.memory;
		};
		raw.set = function (value) {
			if (typeof value !== 'string') {
				throw new b.Error('Raw memory value is not a string');
			}
			if (value.length > MAX_MEMORY) {
				throw new b.Error('Raw memory length exceeded 2 MB limit');
			}
			t.memory = value;
			t.parsed = false;
			t.parsedValue = undefined;
		};
		raw.setActiveSegments = function (ids) {
			var list = segmentList(ids);
			if (list.length > 10) {
				throw new b.Error('Only 10 memory segments can be active at the same time');
			}
			t.activeSegments = list;
		};
		raw.setPublicSegments = function (ids) {
			t.publicSegments = segmentList(ids);
		};
		raw.setDefaultPublicSegment = function (id) {
			t.defaultPublic = id === null ? null : segmentID(id);
			t.hasDefaultPublic = true;
		};
		raw.setActiveForeignSegment = function (username, id) {
			if (username === null) {
				t.foreignRequest = null;
			} else {
				t.foreignRequest = { username: b.String(username) };
				if (id !== undefined) {
					t.foreignRequest.id = segmentID(id);
				}
			}
			t.hasForeignRequest = true;
		};
		return raw;
	};

	b.defineProperty(globalThis, 'Memory', {
		configurable: false,
		enumerable: true,
		get: function () {
			var t = sys.tick;
			if (!t) {
				return undefined;
			}
			if (!t.parsed) {
				t.parsedValue = t.memory ? b.parse(t.memory) : {};
				t.parsed = true;
			}
			return t.parsedValue;
		},
		set: function (v) {
			var t = sys.tick;
			if (t) {
				t.parsedValue = v;
				t.parsed = true;
			}
		}
	});

	sys.flushMemory = function (t) {
		if (t.parsed) {
			var s = b.stringify(t.parsedValue);
			t.memory = s === undefined ? '' : s;
		}
	};
})();`

// SetupMemory installs the RawMemory factory and the Memory global.
func SetupMemory(rt core.JSRuntime, _ Host) error {
	return evalBootstrap(rt, "memory", memoryJS)
}
