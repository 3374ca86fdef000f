package security

import "fmt"

// ctorJS routes every way of reaching the Function constructor through one
// slot. The slot holds a factory that always throws, except while the
// tenant's main loop is running, when it holds the vetted factory.
// Async, generator and async generator constructors are always forbidden.
const ctorJS = `(function () {
	'use strict';
	var sys = globalThis.__sys;
	var defineProperty = Object.defineProperty;
	var getPrototypeOf = Object.getPrototypeOf;
	var apply = Reflect.apply;
	var OriginalFunction = Function;
	var FunctionPrototype = Function.prototype;
	var originalEval = globalThis.eval;
	var TE = TypeError, EE = EvalError;
	var violate = globalThis.__native_violation;

	var slot, evalSlot;
	var forbidden = function Function() {
		throw new EE('Code generation from strings is disallowed');
	};
	var vetted = function Function() {
		if (slot !== vetted) {
			throw new EE('Code generation from strings is disallowed');
		}
		return apply(OriginalFunction, undefined, arguments);
	};
	var forbiddenEval = function () {
		throw new EE('Code generation from strings is disallowed');
	};
	slot = forbidden;
	evalSlot = forbiddenEval;

	defineProperty(forbidden, 'prototype', { value: FunctionPrototype, writable: false });
	defineProperty(vetted, 'prototype', { value: FunctionPrototype, writable: false });

	function isObject(v) {
		return v !== null && (typeof v === 'object' || typeof v === 'function');
	}
	function shadowSetter(owner, key) {
		return function (v) {
			if (this === owner) {
				violate("assignment to protected property '" + String(key) + "'");
				throw new TE("Cannot assign to read only property '" + String(key) + "' of a protected object");
			}
			if (!isObject(this)) {
				return;
			}
			defineProperty(this, key, { value: v, writable: true, enumerable: true, configurable: true });
		};
	}
	function readonly(name) {
		return function () {
			violate("assignment to global '" + name + "'");
			throw new TE("Cannot assign to read only property '" + name + "'");
		};
	}
	sys.shadowSetter = shadowSetter;
	sys.violate = violate;

	defineProperty(FunctionPrototype, 'constructor', {
		get: function () { return slot; },
		set: shadowSetter(FunctionPrototype, 'constructor'),
		enumerable: false,
		configurable: false
	});
	defineProperty(globalThis, 'Function', {
		get: function () { return slot; },
		set: readonly('Function'),
		enumerable: false,
		configurable: false
	});
	defineProperty(globalThis, 'eval', {
		get: function () { return evalSlot; },
		set: readonly('eval'),
		enumerable: false,
		configurable: false
	});

	var hidden = [
		getPrototypeOf(async function () {}),
		getPrototypeOf(function* () {}),
		getPrototypeOf(async function* () {})
	];
	for (var i = 0; i < hidden.length; i++) {
		defineProperty(hidden[i], 'constructor', { value: forbidden, writable: false, enumerable: false, configurable: false });
	}

	sys.intrinsics = { Function: OriginalFunction, eval: originalEval };
	sys.hiddenPrototypes = hidden;
	sys.factories = [forbidden, vetted, forbiddenEval];
	sys.arm = function () {
		slot = vetted;
		evalSlot = originalEval;
	};
	sys.disarm = function () {
		slot = forbidden;
		evalSlot = forbiddenEval;
	};
	sys.armed = function () {
		return slot === vetted;
	};
	sys.ops.arm = function __host_arm() { sys.arm(); };
	sys.ops.disarm = function __host_disarm() { sys.disarm(); };
	sys.ops.ctorState = function __host_ctor_state() {
		return slot === vetted ? 'armed' : 'disarmed';
	};
})();`

// protectJS turns every configurable data property of the protected objects
// into a non-configurable accessor. Reading returns the original value.
// Writing through the protected object itself throws and is reported, and
// writing through an inheriting object defines an own property on it.
// The reflective definers report any call that targets a protected object.
func protectJS(globals, namespaces []string) string {
	return fmt.Sprintf(`(function (names, namespaces) {
	'use strict';
	var sys = globalThis.__sys;
	var ownKeys = Reflect.ownKeys;
	var getOwnPropertyDescriptor = Object.getOwnPropertyDescriptor;
	var defineProperty = Object.defineProperty;
	var preventExtensions = Object.preventExtensions;
	var apply = Reflect.apply;
	var shadowSetter = sys.shadowSetter;
	var violate = sys.violate;

	var targets = [];
	function add(label, obj) {
		if (obj === null || (typeof obj !== 'object' && typeof obj !== 'function')) {
			return;
		}
		for (var i = 0; i < targets.length; i++) {
			if (targets[i].obj === obj) {
				return;
			}
		}
		targets.push({ label: label, obj: obj });
	}
	for (var i = 0; i < names.length; i++) {
		var ctor = names[i] === 'Function' ? sys.intrinsics.Function : globalThis[names[i]];
		add(names[i], ctor);
		add(names[i] + '.prototype', ctor.prototype);
	}
	for (var j = 0; j < namespaces.length; j++) {
		add(namespaces[j], globalThis[namespaces[j]]);
	}
	add('AsyncFunction.prototype', sys.hiddenPrototypes[0]);
	add('GeneratorFunction.prototype', sys.hiddenPrototypes[1]);
	add('AsyncGeneratorFunction.prototype', sys.hiddenPrototypes[2]);
	add('Function.forbidden', sys.factories[0]);
	add('Function.vetted', sys.factories[1]);
	add('eval.forbidden', sys.factories[2]);

	function isProtected(obj) {
		for (var i = 0; i < targets.length; i++) {
			if (targets[i].obj === obj) {
				return true;
			}
		}
		return false;
	}
	function guard(owner, name) {
		var original = owner[name];
		var label = (owner === Reflect ? 'Reflect.' : 'Object.') + name;
		owner[name] = function (target) {
			if (isProtected(target)) {
				violate(label + ' on a protected object');
			}
			return apply(original, undefined, arguments);
		};
	}
	guard(Object, 'defineProperty');
	guard(Object, 'defineProperties');
	guard(Object, 'setPrototypeOf');
	guard(Reflect, 'defineProperty');
	guard(Reflect, 'setPrototypeOf');
	guard(Reflect, 'deleteProperty');

	function protect(obj) {
		var keys = ownKeys(obj);
		for (var k = 0; k < keys.length; k++) {
			var key = keys[k];
			var d = getOwnPropertyDescriptor(obj, key);
			if (!d.configurable) {
				continue;
			}
			if ('value' in d) {
				defineProperty(obj, key, {
					get: (function (value) {
						return function () { return value; };
					})(d.value),
					set: shadowSetter(obj, key),
					enumerable: d.enumerable,
					configurable: false
				});
			} else {
				defineProperty(obj, key, {
					get: d.get,
					set: d.set,
					enumerable: d.enumerable,
					configurable: false
				});
			}
		}
		preventExtensions(obj);
	}
	for (var t = 0; t < targets.length; t++) {
		protect(targets[t].obj);
	}
	sys.protectedTargets = targets;
})(%s, %s);`, jsList(globals), jsList(namespaces))
}

// auditJS snapshots the global bindings and every property descriptor of the
// protected objects, and registers the audit op that diffs against it. The
// op returns the path of the first difference, or "".
func auditJS(globals, namespaces []string) string {
	return fmt.Sprintf(`(function (names, namespaces) {
	'use strict';
	var sys = globalThis.__sys;
	var ownKeys = Reflect.ownKeys;
	var gopd = Object.getOwnPropertyDescriptor;
	var getPrototypeOf = Object.getPrototypeOf;
	var isExtensible = Object.isExtensible;
	var is = Object.is;
	var str = String;
	var targets = sys.protectedTargets;
	var bindings = names.concat(namespaces, ['eval', '__host']);

	function snapshot() {
		var out = [];
		function push(path, v) {
			out.push(path, v);
		}
		for (var i = 0; i < bindings.length; i++) {
			var p = 'globalThis.' + bindings[i];
			var d = gopd(globalThis, bindings[i]);
			if (!d) {
				push(p, undefined);
				continue;
			}
			push(p, d.value);
			push(p + ' getter', d.get);
			push(p + ' setter', d.set);
		}
		for (var t = 0; t < targets.length; t++) {
			var obj = targets[t].obj, label = targets[t].label;
			push(label + ' prototype', getPrototypeOf(obj));
			push(label + ' extensibility', isExtensible(obj));
			var keys = ownKeys(obj);
			push(label + ' keys', keys.length);
			for (var k = 0; k < keys.length; k++) {
				var key = keys[k];
				var kd = gopd(obj, key);
				var kp = label + '.' + (typeof key === 'symbol' ? '[' + str(key) + ']' : key);
				push(kp, key);
				push(kp, kd.value);
				push(kp + ' getter', kd.get);
				push(kp + ' setter', kd.set);
				push(kp + ' writability', kd.writable);
				push(kp + ' configurability', kd.configurable);
			}
		}
		return out;
	}

	var baseline = null;
	sys.ops.audit = function __host_audit() {
		var current = snapshot();
		if (baseline === null) {
			baseline = current;
			return '';
		}
		var n = baseline.length < current.length ? baseline.length : current.length;
		for (var i = 1; i < n; i += 2) {
			if (!is(baseline[i], current[i])) {
				return baseline[i - 1];
			}
		}
		if (baseline.length !== current.length) {
			return 'protected surface';
		}
		if (sys.armed()) {
			return 'Function constructor slot';
		}
		return '';
	};
})(%s, %s);`, jsList(globals), jsList(namespaces))
}

// sealJS installs the token-checked host entry point and removes every
// setup-only global. The baseline audit runs here, after __host exists.
const sealJS = `globalThis.__seal = function (token) {
	'use strict';
	var sys = globalThis.__sys;
	var ops = sys.ops;
	var violate = globalThis.__native_violation;
	var defineProperty = Object.defineProperty;
	var freeze = Object.freeze;
	var names = Object.getOwnPropertyNames(globalThis);
	var E = Error;

	var host = function __host_call(t, op, a, b, c, d) {
		if (t !== token) {
			violate('host entry point called without a valid token');
			throw new E('Security policy violation');
		}
		var fn = ops[op];
		if (typeof fn !== 'function') {
			throw new E('unknown host operation ' + op);
		}
		return fn(a, b, c, d);
	};
	freeze(host);
	defineProperty(globalThis, '__host', { value: host, writable: false, enumerable: false, configurable: false });

	delete globalThis.__seal;
	delete globalThis.__sys;
	for (var i = 0; i < names.length; i++) {
		if (names[i].indexOf('__native_') === 0) {
			delete globalThis[names[i]];
		}
	}
	ops.audit();
};`
