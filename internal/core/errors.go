package core

import (
	"errors"
	"fmt"
)

// User-facing messages attached to failed runs.
const (
	MsgCPULimit       = "Script execution timed out: CPU time limit reached"
	MsgHardTimeout    = "Script execution timed out ungracefully, restarting virtual machine"
	MsgHalted         = "CPU halted"
	MsgDisposed       = "Script execution has been terminated: your isolate disposed unexpectedly, restarting virtual machine"
	MsgAllocFailed    = "Script execution has been terminated: unable to allocate memory, restarting virtual machine"
	MsgSecurity       = "Security policy violation"
	MsgBlocked        = "Your script is temporary blocked due to a hard reset inflicted to the runtime process.\nPlease try to change your code in order to prevent causing hard timeout resets."
	MsgNoLiveObjects  = "User has no live objects"
	MsgInternalFailed = "Internal runtime error, restarting virtual machine"
)

var (
	// ErrTimeout matches every TimeoutError.
	ErrTimeout = errors.New("script execution timed out")
	// ErrHalted is the sentinel a run unwinds with after Halt.
	ErrHalted = errors.New("cpu halted")
	// ErrContextDisposed is returned when a context was torn down under the caller.
	ErrContextDisposed = errors.New("context disposed unexpectedly")
	// ErrHeapExhausted is returned when a context ran out of heap.
	ErrHeapExhausted = errors.New("heap exhausted")
	// ErrAllocFailed is returned when a context could not be allocated.
	ErrAllocFailed = errors.New("unable to allocate memory")
	// ErrNoLiveObjects means the tenant has nothing to run for.
	ErrNoLiveObjects = errors.New("tenant has no live objects")
	// ErrBlocked means the tenant is serving a skip-ticks penalty.
	ErrBlocked = errors.New("tenant is temporarily blocked")
	// ErrAborted means the watchdog fired before execution began.
	ErrAborted = errors.New("run aborted")
	// ErrSecurity matches every SecurityViolation.
	ErrSecurity = errors.New("security policy violation")
)

// ErrorKind classifies a failed run.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindScript        ErrorKind = "script"
	KindTimeout       ErrorKind = "timeout"
	KindHalted        ErrorKind = "halted"
	KindSecurity      ErrorKind = "security"
	KindHostFatal     ErrorKind = "host_fatal"
	KindValidation    ErrorKind = "validation"
	KindNoLiveObjects ErrorKind = "no_live_objects"
	KindBlocked       ErrorKind = "blocked"
	KindAborted       ErrorKind = "aborted"
)

// ScriptError is an uncaught exception raised by tenant code, or a module
// that failed to compile.
type ScriptError struct {
	Module  string
	Message string
}

func (e *ScriptError) Error() string {
	if e.Module != "" {
		return fmt.Sprintf("%s: %s", e.Module, e.Message)
	}
	return e.Message
}

// TimeoutError is returned when a run exceeded its CPU limit or the
// wall-clock ceiling. Hard is set when the watchdog fired.
type TimeoutError struct {
	Hard bool
}

func (e *TimeoutError) Error() string {
	if e.Hard {
		return MsgHardTimeout
	}
	return MsgCPULimit
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// SecurityViolation is returned when the auditor found a tampered global or
// the sandbox breached the host call policy.
type SecurityViolation struct {
	Detail string
}

func (e *SecurityViolation) Error() string {
	if e.Detail == "" {
		return MsgSecurity
	}
	return MsgSecurity + ": " + e.Detail
}

func (e *SecurityViolation) Is(target error) bool { return target == ErrSecurity }

// HostFatal wraps a failure of the runtime itself.
type HostFatal struct {
	Op  string
	Err error
}

func (e *HostFatal) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *HostFatal) Unwrap() error { return e.Err }

// ValidationError reports tenant data that cannot be persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// KindOf classifies err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		se *ScriptError
		ve *ValidationError
		hf *HostFatal
	)
	switch {
	case errors.Is(err, ErrSecurity):
		return KindSecurity
	case errors.Is(err, ErrHalted):
		return KindHalted
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrNoLiveObjects):
		return KindNoLiveObjects
	case errors.Is(err, ErrBlocked):
		return KindBlocked
	case errors.Is(err, ErrAborted):
		return KindAborted
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &se):
		return KindScript
	case errors.As(err, &hf),
		errors.Is(err, ErrContextDisposed),
		errors.Is(err, ErrHeapExhausted),
		errors.Is(err, ErrAllocFailed):
		return KindHostFatal
	}
	return KindHostFatal
}

// UserMessage returns the text shown to the tenant for err.
func UserMessage(err error) string {
	var se *ScriptError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSecurity):
		return MsgSecurity
	case errors.Is(err, ErrHalted):
		return MsgHalted
	case errors.Is(err, ErrTimeout):
		return err.Error()
	case errors.Is(err, ErrBlocked):
		return MsgBlocked
	case errors.Is(err, ErrNoLiveObjects):
		return MsgNoLiveObjects
	case errors.Is(err, ErrAllocFailed), errors.Is(err, ErrHeapExhausted):
		return MsgAllocFailed
	case errors.Is(err, ErrContextDisposed):
		return MsgDisposed
	case errors.Is(err, ErrAborted):
		return MsgHardTimeout
	case errors.As(err, &se):
		return se.Error()
	}
	return MsgInternalFailed
}
