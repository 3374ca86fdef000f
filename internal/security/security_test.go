package security

import (
	"errors"
	"strings"
	"testing"

	"github.com/cryguy/tickrun/internal/core"
	"github.com/cryguy/tickrun/internal/quickjs"
	"github.com/cryguy/tickrun/internal/sandboxapi"
)

type fakeHost struct {
	violations []string
}

func (h *fakeHost) Log(string)                                               {}
func (h *fakeHost) Intent(string, string, string, string, int) (bool, error) { return true, nil }
func (h *fakeHost) CPUUsed() float64                                         { return 0 }
func (h *fakeHost) Halt()                                                    {}
func (h *fakeHost) Terrain(string, int, int) int                             { return -1 }
func (h *fakeHost) FindPath(string) (string, error)                          { return "", errors.New("unavailable") }
func (h *fakeHost) Violation(detail string)                                  { h.violations = append(h.violations, detail) }

func newProtected(t *testing.T) (*quickjs.Runtime, *fakeHost, string) {
	t.Helper()
	rt, err := quickjs.New(64 << 20)
	if err != nil {
		t.Fatalf("quickjs.New: %v", err)
	}
	t.Cleanup(rt.Close)
	h := &fakeHost{}
	if err := sandboxapi.Install(rt, h); err != nil {
		t.Fatalf("sandboxapi.Install: %v", err)
	}
	token, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if err := Install(rt, h, token); err != nil {
		t.Fatalf("Install: %v", err)
	}
	return rt, h, token
}

func evalString(t *testing.T, rt *quickjs.Runtime, js string) string {
	t.Helper()
	s, err := rt.EvalString(js)
	if err != nil {
		t.Fatalf("eval %q: %v", js, err)
	}
	return s
}

func TestCleanAuditPasses(t *testing.T) {
	rt, _, token := newProtected(t)
	if err := Audit(rt, token); err != nil {
		t.Fatalf("Audit: %v", err)
	}
}

func TestBuiltinsStillWork(t *testing.T) {
	rt, _, token := newProtected(t)
	got := evalString(t, rt, `(function () {
		class A extends Array {}
		var a = new A();
		a.push(1, 2);
		var m = new Map([[1, 'x']]);
		return [1, 2, 3].map(function (x) { return x * 2; }).join(',') + '|' + m.get(1) + '|' + a.length + '|' + JSON.stringify({k: [1]});
	})()`)
	if got != "2,4,6|x|2|{\"k\":[1]}" {
		t.Fatalf("got %q", got)
	}
	if err := Audit(rt, token); err != nil {
		t.Fatalf("Audit: %v", err)
	}
}

func TestSetupGlobalsRemoved(t *testing.T) {
	rt, _, _ := newProtected(t)
	got := evalString(t, rt, `typeof __sys + ',' + typeof __native_log + ',' + typeof __native_violation + ',' + typeof __seal`)
	if got != "undefined,undefined,undefined,undefined" {
		t.Fatalf("got %q", got)
	}
}

func TestProtectedWriteThrowsTypeError(t *testing.T) {
	rt, h, token := newProtected(t)
	got := evalString(t, rt, `(function () {
		try { Array.prototype.push = null; return 'assigned'; }
		catch (e) { return e instanceof TypeError ? 'TypeError' : String(e); }
	})()`)
	if got != "TypeError" {
		t.Fatalf("got %q", got)
	}
	if err := Audit(rt, token); err != nil {
		t.Fatalf("Audit after rejected write: %v", err)
	}
	if len(h.violations) != 1 || !strings.Contains(h.violations[0], "push") {
		t.Fatalf("violations = %v", h.violations)
	}
}

func TestReflectiveTamperingReported(t *testing.T) {
	cases := map[string]string{
		"defineProperty":         `Object.defineProperty(Array.prototype, 'push', { value: 1 });`,
		"defineProperties":       `Object.defineProperties(String.prototype, { trim: { value: 1 } });`,
		"setPrototypeOf":         `Object.setPrototypeOf(Map.prototype, null);`,
		"Reflect.defineProperty": `Reflect.defineProperty(Math, 'max', { value: 1 });`,
		"Reflect.deleteProperty": `Reflect.deleteProperty(JSON, 'parse');`,
		"Reflect.set":            `Reflect.set(Object.prototype, 'toString', null);`,
	}
	for name, js := range cases {
		t.Run(name, func(t *testing.T) {
			rt, h, _ := newProtected(t)
			if err := rt.Eval(`try { ` + js + ` } catch (e) {}`); err != nil {
				t.Fatalf("eval: %v", err)
			}
			if len(h.violations) == 0 {
				t.Fatal("tampering was not reported")
			}
		})
	}
}

func TestOrdinaryReflectionNotReported(t *testing.T) {
	rt, h, _ := newProtected(t)
	got := evalString(t, rt, `(function () {
		var o = {};
		Object.defineProperty(o, 'x', { value: 1, enumerable: true });
		var p = Object.setPrototypeOf({}, Array.prototype);
		Reflect.defineProperty(o, 'y', { value: 2 });
		return o.x + o.y + ',' + (p instanceof Array);
	})()`)
	if got != "3,true" {
		t.Fatalf("got %q", got)
	}
	if len(h.violations) != 0 {
		t.Fatalf("violations = %v", h.violations)
	}
}

func TestInheritedWriteShadows(t *testing.T) {
	rt, h, token := newProtected(t)
	got := evalString(t, rt, `(function () {
		var o = {};
		o.toString = function () { return 'mine'; };
		function F() {}
		F.prototype = Object.create(Object.prototype);
		F.prototype.constructor = F;
		return String(o) + ',' + String({}) + ',' + (new F().constructor === F);
	})()`)
	if got != "mine,[object Object],true" {
		t.Fatalf("got %q", got)
	}
	if err := Audit(rt, token); err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if len(h.violations) != 0 {
		t.Fatalf("violations = %v", h.violations)
	}
}

func TestNewPrototypePropertyIgnored(t *testing.T) {
	rt, _, token := newProtected(t)
	got := evalString(t, rt, `Object.prototype.evil = 1; String(({}).evil)`)
	if got != "undefined" {
		t.Fatalf("got %q", got)
	}
	if err := Audit(rt, token); err != nil {
		t.Fatalf("Audit: %v", err)
	}
}

func TestRebindingGlobalIsViolation(t *testing.T) {
	cases := map[string]string{
		"assignment":     `Map = function () {};`,
		"defineProperty": `Object.defineProperty(globalThis, 'Array', { value: 1 });`,
		"namespace":      `JSON = {};`,
	}
	for name, js := range cases {
		t.Run(name, func(t *testing.T) {
			rt, _, token := newProtected(t)
			if err := rt.Eval(js); err != nil {
				t.Fatalf("eval: %v", err)
			}
			err := Audit(rt, token)
			if !errors.Is(err, core.ErrSecurity) {
				t.Fatalf("Audit = %v, want SecurityViolation", err)
			}
		})
	}
}

func TestAuditNamesTamperedBinding(t *testing.T) {
	rt, _, token := newProtected(t)
	if err := rt.Eval(`Promise = null;`); err != nil {
		t.Fatalf("eval: %v", err)
	}
	err := Audit(rt, token)
	var sv *core.SecurityViolation
	if !errors.As(err, &sv) || !strings.Contains(sv.Detail, "globalThis.Promise") {
		t.Fatalf("Audit = %v", err)
	}
}

func TestFunctionConstructorForbiddenUnlessArmed(t *testing.T) {
	rt, _, token := newProtected(t)
	probe := `(function () {
		try { return String(Function('return 7')()); }
		catch (e) { return e.name; }
	})()`
	if got := evalString(t, rt, probe); got != "EvalError" {
		t.Fatalf("disarmed: got %q", got)
	}
	if got := evalString(t, rt, `(function () {
		try { (function () {}).constructor('return 1'); return 'built'; }
		catch (e) { return e.name; }
	})()`); got != "EvalError" {
		t.Fatalf("via prototype: got %q", got)
	}

	if err := rt.Eval(Call(token, "arm")); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if got := evalString(t, rt, probe); got != "7" {
		t.Fatalf("armed: got %q", got)
	}
	if err := Audit(rt, token); !errors.Is(err, core.ErrSecurity) {
		t.Fatalf("Audit while armed = %v", err)
	}
	if err := rt.Eval(Call(token, "disarm")); err != nil {
		t.Fatalf("disarm: %v", err)
	}
	if err := Audit(rt, token); err != nil {
		t.Fatalf("Audit after disarm: %v", err)
	}
}

func TestHiddenConstructorsAlwaysForbidden(t *testing.T) {
	rt, _, token := newProtected(t)
	if err := rt.Eval(Call(token, "arm")); err != nil {
		t.Fatalf("arm: %v", err)
	}
	got := evalString(t, rt, `(function () {
		var out = [];
		var protos = [
			Object.getPrototypeOf(async function () {}),
			Object.getPrototypeOf(function* () {}),
			Object.getPrototypeOf(async function* () {})
		];
		for (var i = 0; i < protos.length; i++) {
			try { protos[i].constructor('return 1'); out.push('built'); }
			catch (e) { out.push(e.name); }
		}
		return out.join(',');
	})()`)
	if got != "EvalError,EvalError,EvalError" {
		t.Fatalf("got %q", got)
	}
}

func TestCapturedVettedFactoryDiesWhenDisarmed(t *testing.T) {
	rt, _, token := newProtected(t)
	if err := rt.Eval(Call(token, "arm")); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if err := rt.Eval(`var kept = Function;`); err != nil {
		t.Fatalf("eval: %v", err)
	}
	if err := rt.Eval(Call(token, "disarm")); err != nil {
		t.Fatalf("disarm: %v", err)
	}
	got := evalString(t, rt, `(function () { try { kept('return 1'); return 'built'; } catch (e) { return e.name; } })()`)
	if got != "EvalError" {
		t.Fatalf("got %q", got)
	}
}

func TestInstanceofFunctionStillWorks(t *testing.T) {
	rt, _, _ := newProtected(t)
	got := evalString(t, rt, `String((function () {}) instanceof Function) + ',' + String(Function.prototype === Object.getPrototypeOf(function () {}))`)
	if got != "true,true" {
		t.Fatalf("got %q", got)
	}
}

func TestHostEntryPointRequiresToken(t *testing.T) {
	rt, h, _ := newProtected(t)
	got := evalString(t, rt, `(function () { try { __host('guess', 'audit'); return 'called'; } catch (e) { return e.message; } })()`)
	if got != "Security policy violation" {
		t.Fatalf("got %q", got)
	}
	if len(h.violations) != 1 {
		t.Fatalf("violations = %v", h.violations)
	}
}

func TestHostEntryPointIsSealed(t *testing.T) {
	rt, _, token := newProtected(t)
	got := evalString(t, rt, `__host = 1; delete globalThis.__host; typeof __host`)
	if got != "function" {
		t.Fatalf("got %q", got)
	}
	if err := Audit(rt, token); err != nil {
		t.Fatalf("Audit: %v", err)
	}
}

func TestNewTokenUnique(t *testing.T) {
	a, err := NewToken()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewToken()
	if err != nil {
		t.Fatal(err)
	}
	if a == b || len(a) != 48 {
		t.Fatalf("tokens %q %q", a, b)
	}
}
