package sandboxapi

import (
	"encoding/json"
	"fmt"

	"github.com/cryguy/tickrun/internal/core"
)

// tickJS defines the host ops that drive one tick:
//
//	start   parses the tick input and builds Game, RawMemory and Memory
//	run     runs main.loop and the console commands with code generation armed
//	finish  serializes Memory and the segment requests, then disarms
//	collect returns the tick's outcome as JSON
const tickJS = `(function () {
	'use strict';
	var sys = globalThis.__sys, b = sys.builtins;
	var indirectEval = b.eval;
	var current = b.create(null);

	// The per-tick globals are fixed accessors so tenant code can rebind
	// them within a tick but never replace what the host reads or writes.
	function tickGlobal(name) {
		b.defineProperty(globalThis, name, {
			get: function () { return current[name]; },
			set: function (v) { current[name] = v; },
			enumerable: true,
			configurable: false
		});
	}
	tickGlobal('Game');
	tickGlobal('RawMemory');

	function describe(e) {
		try {
			var s = b.String(e);
			if (e !== null && typeof e === 'object' && typeof e.stack === 'string' && e.stack) {
				s += '\n' + e.stack;
			}
			return s;
		} catch (x) {
			return 'Error';
		}
	}
	function fail(t, e) {
		if (t.status === 'done') {
			t.status = 'error';
			t.error = describe(e);
		}
	}
	function formatResult(r) {
		if (r !== null && typeof r === 'object') {
			try {
				var s = b.stringify(r);
				if (s !== undefined) {
					return s;
				}
			} catch (e) {}
		}
		return b.String(r);
	}

	sys.ops.start = function __host_start(payload) {
		var input = b.parse(payload);

		var segments = b.create(null);
		var given = input.segments || {};
		var ids = b.keys(given);
		for (var i = 0; i < ids.length; i++) {
			segments[ids[i]] = given[ids[i]];
		}
		var t = {
			input: input,
			memory: input.memory || '',
			parsed: false,
			parsedValue: undefined,
			segments: segments,
			foreign: input.foreignSegment || null,
			activeSegments: undefined,
			publicSegments: undefined,
			defaultPublic: undefined,
			hasDefaultPublic: false,
			foreignRequest: undefined,
			hasForeignRequest: false,
			visual: b.create(null),
			results: [],
			status: 'done',
			error: '',
			out: null
		};
		t.raw = sys.makeRawMemory(t);
		sys.tick = t;

		current.Game = {
			time: input.time,
			cpu: sys.makeCPU(input.cpu),
			map: sys.map,
			intents: sys.intents,
			rooms: input.rooms || {},
			objects: input.objects || {},
			users: input.users || {},
			market: input.market || {}
		};
		current.RawMemory = t.raw;
	};

	sys.ops.run = function __host_run() {
		var t = sys.tick;
		sys.arm();
		try {
			if (sys.hasModule('main')) {
				var main = sys.require('main');
				if (main && typeof main.loop === 'function') {
					main.loop();
				}
			}
		} catch (e) {
			fail(t, e);
		}
		var commands = t.input.consoleCommands || [];
		for (var i = 0; i < commands.length; i++) {
			try {
				t.results.push(formatResult(indirectEval(commands[i])));
			} catch (e) {
				t.results.push(describe(e));
			}
		}
	};

	sys.ops.finish = function __host_finish() {
		var t = sys.tick;
		try {
			sys.flushMemory(t);
		} catch (e) {
			fail(t, e);
		}
		var out = {
			status: t.status,
			error: t.error,
			memory: t.memory,
			results: t.results,
			visual: t.visual,
			segments: b.create(null),
			invalidSegments: []
		};
		try {
			var segs = t.raw.segments;
			if (segs !== null && typeof segs === 'object') {
				var keys = b.keys(segs);
				for (var i = 0; i < keys.length; i++) {
					var v = segs[keys[i]];
					if (typeof v === 'string') {
						out.segments[keys[i]] = v;
					} else {
						out.invalidSegments.push(keys[i]);
					}
				}
			}
		} catch (e) {
			fail(t, e);
			out.status = t.status;
			out.error = t.error;
		}
		if (t.activeSegments !== undefined) {
			out.activeSegments = t.activeSegments;
		}
		if (t.publicSegments !== undefined) {
			out.publicSegments = t.publicSegments;
		}
		if (t.hasDefaultPublic) {
			out.defaultPublicSegment = t.defaultPublic;
		}
		if (t.hasForeignRequest) {
			out.activeForeignSegment = t.foreignRequest;
		}
		t.out = out;
		sys.disarm();
	};

	sys.ops.collect = function __host_collect() {
		var t = sys.tick;
		sys.tick = null;
		current.Game = undefined;
		current.RawMemory = undefined;
		if (!t || !t.out) {
			return '';
		}
		return b.stringify(t.out);
	};
})();`

// SetupTick installs the tick ops.
func SetupTick(rt core.JSRuntime, _ Host) error {
	return evalBootstrap(rt, "tick", tickJS)
}

// CPUInfo is Game.cpu as seen by the tenant. A negative Limit means the
// tenant is unmetered.
type CPUInfo struct {
	Limit     int `json:"limit"`
	TickLimit int `json:"tickLimit"`
	Bucket    int `json:"bucket"`
}

// TickInput is the JSON handed to the start op.
type TickInput struct {
	Time            int64                `json:"time"`
	Memory          string               `json:"memory"`
	Segments        map[int]string       `json:"segments,omitempty"`
	ForeignSegment  *core.ForeignSegment `json:"foreignSegment,omitempty"`
	ConsoleCommands []string             `json:"consoleCommands,omitempty"`
	Rooms           json.RawMessage      `json:"rooms,omitempty"`
	Objects         json.RawMessage      `json:"objects,omitempty"`
	Users           json.RawMessage      `json:"users,omitempty"`
	Market          json.RawMessage      `json:"market,omitempty"`
	CPU             CPUInfo              `json:"cpu"`
}

// NewTickInput builds the start payload from loaded tick data.
func NewTickInput(td *core.TickData, cpu CPUInfo) *TickInput {
	return &TickInput{
		Time:            td.Time,
		Memory:          td.Memory,
		Segments:        td.Segments,
		ForeignSegment:  td.ForeignSegment,
		ConsoleCommands: td.ConsoleCommands,
		Rooms:           td.Rooms,
		Objects:         td.Objects,
		Users:           td.Users,
		Market:          td.Market,
		CPU:             cpu,
	}
}

// Encode returns the payload as a JSON string.
func (in *TickInput) Encode() (string, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("encoding tick input: %w", err)
	}
	return string(b), nil
}

// ForeignRequest is a call to RawMemory.setActiveForeignSegment.
type ForeignRequest struct {
	Username string `json:"username"`
	ID       *int   `json:"id,omitempty"`
}

// Collected is what the collect op returns.
type Collected struct {
	Status          string            `json:"status"`
	Error           string            `json:"error"`
	Memory          string            `json:"memory"`
	Results         []string          `json:"results"`
	Visual          map[string]string `json:"visual"`
	Segments        map[string]string `json:"segments"`
	InvalidSegments []string          `json:"invalidSegments"`
	ActiveSegments  []int             `json:"activeSegments"`
	PublicSegments  *[]int            `json:"publicSegments"`

	// Raw so that an explicit null can be told apart from no call.
	DefaultPublicSegment json.RawMessage `json:"defaultPublicSegment"`
	ActiveForeignSegment json.RawMessage `json:"activeForeignSegment"`
}

// DecodeCollected parses the collect op's output.
func DecodeCollected(s string) (*Collected, error) {
	if s == "" {
		return nil, fmt.Errorf("tick was not finished")
	}
	var c Collected
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, fmt.Errorf("decoding tick outcome: %w", err)
	}
	return &c, nil
}

// DefaultPublic reports whether setDefaultPublicSegment was called and with
// what. A nil id means it was cleared.
func (c *Collected) DefaultPublic() (called bool, id *int, err error) {
	if len(c.DefaultPublicSegment) == 0 {
		return false, nil, nil
	}
	if string(c.DefaultPublicSegment) == "null" {
		return true, nil, nil
	}
	var v int
	if err := json.Unmarshal(c.DefaultPublicSegment, &v); err != nil {
		return true, nil, fmt.Errorf("decoding default public segment: %w", err)
	}
	return true, &v, nil
}

// ForeignSegment reports whether setActiveForeignSegment was called. A nil
// request means it was cleared.
func (c *Collected) ForeignSegment() (called bool, req *ForeignRequest, err error) {
	if len(c.ActiveForeignSegment) == 0 {
		return false, nil, nil
	}
	if string(c.ActiveForeignSegment) == "null" {
		return true, nil, nil
	}
	var r ForeignRequest
	if err := json.Unmarshal(c.ActiveForeignSegment, &r); err != nil {
		return true, nil, fmt.Errorf("decoding foreign segment request: %w", err)
	}
	return true, &r, nil
}
