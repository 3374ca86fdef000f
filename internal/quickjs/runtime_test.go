package quickjs

import (
	"fmt"
	"testing"
	"time"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := New(64 * 1024 * 1024)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rt.Close)
	return rt
}

func TestEvalHelpers(t *testing.T) {
	rt := newTestRuntime(t)

	if s, err := rt.EvalString(`"a" + "b"`); err != nil || s != "ab" {
		t.Errorf("EvalString = %q, %v", s, err)
	}
	if n, err := rt.EvalInt(`6 * 7`); err != nil || n != 42 {
		t.Errorf("EvalInt = %d, %v", n, err)
	}
	if b, err := rt.EvalBool(`1 < 2`); err != nil || !b {
		t.Errorf("EvalBool = %v, %v", b, err)
	}
	if err := rt.Eval(`throw new Error("boom")`); err == nil {
		t.Error("Eval swallowed exception")
	}
}

func TestRegisterFuncUnwrapsErrors(t *testing.T) {
	rt := newTestRuntime(t)
	if err := rt.RegisterFunc("__half", func(n int) (int, error) {
		if n%2 != 0 {
			return 0, fmt.Errorf("odd input %d", n)
		}
		return n / 2, nil
	}); err != nil {
		t.Fatal(err)
	}

	if n, err := rt.EvalInt(`__half(8)`); err != nil || n != 4 {
		t.Errorf("__half(8) = %d, %v", n, err)
	}
	msg, err := rt.EvalString(`(function(){ try { __half(3); return "no"; } catch (e) { return (e instanceof TypeError) + ":" + (e.message.indexOf("odd input 3") >= 0); } })()`)
	if err != nil || msg != "true:true" {
		t.Errorf("error path = %q, %v", msg, err)
	}
	if ok, _ := rt.EvalBool(`typeof __raw___half === "undefined"`); !ok {
		t.Error("raw registration left on globalThis")
	}
}

func TestSetGlobal(t *testing.T) {
	rt := newTestRuntime(t)
	if err := rt.SetGlobal("__input", `{"a":1}`); err != nil {
		t.Fatal(err)
	}
	if n, err := rt.EvalInt(`JSON.parse(__input).a`); err != nil || n != 1 {
		t.Errorf("global = %d, %v", n, err)
	}
}

func TestRunMicrotasks(t *testing.T) {
	rt := newTestRuntime(t)
	if err := rt.Eval(`globalThis.done = false; Promise.resolve().then(function(){ globalThis.done = true; });`); err != nil {
		t.Fatal(err)
	}
	rt.RunMicrotasks()
	if ok, _ := rt.EvalBool(`done`); !ok {
		t.Error("microtask did not run")
	}
}

func TestInterruptStopsInfiniteLoop(t *testing.T) {
	rt := newTestRuntime(t)
	timer := time.AfterFunc(50*time.Millisecond, rt.Interrupt)
	defer timer.Stop()

	done := make(chan error, 1)
	go func() { done <- rt.Eval(`for (;;) {}`) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("infinite loop returned without error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt did not stop the loop")
	}
	if !rt.Interrupted() {
		t.Error("Interrupted() = false")
	}
}

func TestCloseIdempotent(t *testing.T) {
	rt, err := New(0)
	if err != nil {
		t.Fatal(err)
	}
	rt.Close()
	rt.Close()
	rt.Interrupt()
	if !rt.Closed() {
		t.Error("Closed() = false after Close")
	}
}

func TestMemoryLimit(t *testing.T) {
	rt, err := New(8 * 1024 * 1024)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()
	err = rt.Eval(`var a = []; for (;;) { a.push(new Array(100000).fill(1)); }`)
	if !IsOutOfMemory(err) {
		t.Errorf("err = %v, want out of memory", err)
	}
}
