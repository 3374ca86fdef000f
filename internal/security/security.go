// Package security freezes the shared global surface of a sandbox before
// tenant code runs and audits it after every run.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cryguy/tickrun/internal/compiler"
	"github.com/cryguy/tickrun/internal/core"
)

// ProtectedGlobals are the constructors whose static and prototype
// properties are frozen, and whose global bindings are audited.
var ProtectedGlobals = []string{
	"Object", "Function", "Array", "Number", "String", "Boolean", "Symbol",
	"Date", "RegExp", "Error", "EvalError", "RangeError", "ReferenceError",
	"SyntaxError", "TypeError", "URIError", "Map", "Set", "WeakMap",
	"WeakSet", "Promise", "ArrayBuffer", "DataView",
}

// ProtectedNamespaces are plain objects frozen the same way.
var ProtectedNamespaces = []string{"Math", "JSON", "Reflect"}

// Reporter receives policy breaches detected inside the sandbox.
type Reporter interface {
	Violation(detail string)
}

// NewToken returns the secret that authenticates host calls into one
// sandbox.
func NewToken() (string, error) {
	var b [24]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating host token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// Install runs the protection pass, installs the constructor indirection
// and the auditor, seals the host entry point behind token and deletes every
// setup-only global. It must run after all other setup functions.
func Install(rt core.JSRuntime, r Reporter, token string) error {
	if err := rt.RegisterFunc("__native_violation", func(detail string) {
		r.Violation(detail)
	}); err != nil {
		return fmt.Errorf("registering violation reporter: %w", err)
	}

	steps := []struct {
		name string
		src  string
	}{
		{"constructor indirection", ctorJS},
		{"protection pass", protectJS(ProtectedGlobals, ProtectedNamespaces)},
		{"auditor", auditJS(ProtectedGlobals, ProtectedNamespaces)},
	}
	for _, step := range steps {
		if err := evalBootstrap(rt, step.src); err != nil {
			return fmt.Errorf("installing %s: %w", step.name, err)
		}
	}

	seal, err := compiler.Bootstrap(sealJS)
	if err != nil {
		return err
	}
	// The token is passed as an argument so it never appears inside a
	// function body tenant code could stringify.
	if err := rt.Eval(seal + "\n;__seal(" + core.JsEscape(token) + ");"); err != nil {
		return fmt.Errorf("sealing host entry point: %w", err)
	}
	return nil
}

// Call builds the source of a host call.
func Call(token, op string, args ...string) string {
	var sb strings.Builder
	sb.WriteString("__host(")
	sb.WriteString(core.JsEscape(token))
	sb.WriteString(",")
	sb.WriteString(core.JsEscape(op))
	for _, a := range args {
		sb.WriteString(",")
		sb.WriteString(a)
	}
	sb.WriteString(")")
	return sb.String()
}

// Audit compares the protected surface against the snapshot taken at
// install time.
func Audit(rt core.JSRuntime, token string) error {
	path, err := rt.EvalString(Call(token, "audit"))
	if err != nil {
		return &core.SecurityViolation{Detail: "auditor failed: " + err.Error()}
	}
	if path != "" {
		return &core.SecurityViolation{Detail: path + " was modified"}
	}
	return nil
}

func evalBootstrap(rt core.JSRuntime, src string) error {
	code, err := compiler.Bootstrap(src)
	if err != nil {
		return err
	}
	return rt.Eval(code)
}

func jsList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = core.JsEscape(n)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
