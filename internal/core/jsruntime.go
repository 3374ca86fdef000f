package core

import "encoding/json"

// JSRuntime abstracts the JavaScript engine behind the interface used by
// the setup functions in internal/sandboxapi and internal/security.
type JSRuntime interface {
	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	EvalString(js string) (string, error)

	// EvalBool evaluates JavaScript and returns the result as a Go bool.
	EvalBool(js string) (bool, error)

	// EvalInt evaluates JavaScript and returns the result as a Go int.
	EvalInt(js string) (int, error)

	// RegisterFunc registers a Go function as a global JavaScript function.
	// The function's Go types are automatically marshaled to/from JS types.
	// On error return, the JS wrapper throws a TypeError instead of
	// returning an array.
	RegisterFunc(name string, fn any) error

	// SetGlobal sets a global variable on the JS context. Basic Go types
	// (string, int, float64, bool) are auto-converted to JS types.
	SetGlobal(name string, value any) error

	// RunMicrotasks pumps the microtask queue (Promise callbacks, etc.).
	RunMicrotasks()
}

// BoolToInt converts a bool to 1 (true) or 0 (false) for JS interop,
// since some JS engines cannot marshal Go bool return values directly.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// JsEscape escapes a string for safe embedding in JavaScript source code.
func JsEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
