package tickrun

import (
	"github.com/cryguy/tickrun/internal/core"
	"github.com/cryguy/tickrun/internal/orchestrator"
	"github.com/cryguy/tickrun/internal/sandbox"
)

// Type aliases re-exporting internal types so downstream code can use
// tickrun.RunResult, tickrun.DataSource, etc. without importing the
// internal packages directly.

type EngineConfig = core.EngineConfig
type Tenant = core.Tenant
type CodeBundle = core.CodeBundle
type ForeignSegment = core.ForeignSegment
type TickData = core.TickData
type RunRequest = core.RunRequest
type RunResult = core.RunResult
type Status = core.Status
type ErrorKind = core.ErrorKind
type MemoryPayload = core.MemoryPayload
type ConsoleOutput = core.ConsoleOutput
type ForeignSegmentUpdate = core.ForeignSegmentUpdate
type DefaultPublicUpdate = core.DefaultPublicUpdate
type CPUNotice = core.CPUNotice
type WorldBlob = core.WorldBlob
type WorldPos = core.WorldPos
type PathGoal = core.PathGoal
type PathOptions = core.PathOptions
type PathRequest = core.PathRequest
type PathResult = core.PathResult

type DataSource = core.DataSource
type Persister = core.Persister
type Notifier = core.Notifier
type WorldSource = core.WorldSource
type PathFinder = core.PathFinder

type ScriptError = core.ScriptError
type TimeoutError = core.TimeoutError
type SecurityViolation = core.SecurityViolation
type HostFatal = core.HostFatal
type ValidationError = core.ValidationError

type Stage = orchestrator.Stage
type Run = orchestrator.Run
type ContextInfo = sandbox.Info

// Statuses and error kinds re-exported from core.
const (
	StatusDone  = core.StatusDone
	StatusError = core.StatusError

	KindNone          = core.KindNone
	KindScript        = core.KindScript
	KindTimeout       = core.KindTimeout
	KindHalted        = core.KindHalted
	KindSecurity      = core.KindSecurity
	KindHostFatal     = core.KindHostFatal
	KindValidation    = core.KindValidation
	KindNoLiveObjects = core.KindNoLiveObjects
	KindBlocked       = core.KindBlocked
	KindAborted       = core.KindAborted
)

// Sentinel errors re-exported from core.
var (
	ErrTimeout         = core.ErrTimeout
	ErrHalted          = core.ErrHalted
	ErrContextDisposed = core.ErrContextDisposed
	ErrHeapExhausted   = core.ErrHeapExhausted
	ErrAllocFailed     = core.ErrAllocFailed
	ErrNoLiveObjects   = core.ErrNoLiveObjects
	ErrBlocked         = core.ErrBlocked
	ErrAborted         = core.ErrAborted
	ErrSecurity        = core.ErrSecurity
)

// Functions re-exported from core.
var (
	DefaultEngineConfig = core.DefaultEngineConfig
	KindOf              = core.KindOf
	UserMessage         = core.UserMessage
	CPUChannel          = core.CPUChannel
)
