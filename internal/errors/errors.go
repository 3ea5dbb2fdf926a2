// Package errors provides centralized error definitions and classification
// for the turn engine. It defines domain-specific error types, constructors
// with context wrapping, and the classification helpers the orchestrator's
// failure policy is built on.
//
// The engine distinguishes five failure classes:
//
//   - fatal: disposed-orchestrator calls and max-depth breaches abort the
//     turn entirely (IsFatal).
//   - tool failure: recoverable; recorded against the council and fed into
//     the recursion policy (ToolError with Retryable).
//   - malformed tool arguments: mended once, then skipped with a warning
//     (ErrMalformedArguments).
//   - agent failure: advisory or isolated-stream errors are contained per
//     agent (AgentError).
//   - resource exhaustion: gas/buffer breaches force early finalization
//     instead of propagating (ExhaustionError, IsExhaustion).
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience so callers can
// import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Turn-related sentinel errors
var (
	// ErrOrchestratorDisposed indicates RunTurn was called after Dispose.
	ErrOrchestratorDisposed = New("orchestrator is disposed")
	// ErrMaxDepthExceeded indicates the turn recursion limit was breached.
	ErrMaxDepthExceeded = New("maximum turn depth exceeded")
	// ErrTurnCollision indicates a caller abandoned its wait on the
	// active-turn handle before the running turn released it.
	ErrTurnCollision = New("another turn is active")
)

// Tool-related sentinel errors
var (
	// ErrToolNotFound indicates the named tool is absent from the registry.
	ErrToolNotFound = New("tool not found")
	// ErrToolHalted indicates a tool signalled an unrecoverable outcome.
	ErrToolHalted = New("tool halted")
	// ErrApprovalDenied indicates the approval collaborator rejected a call.
	ErrApprovalDenied = New("tool approval denied")
	// ErrMalformedArguments indicates tool arguments failed JSON mending.
	ErrMalformedArguments = New("malformed tool arguments")
)

// Exhaustion sentinel errors
var (
	// ErrGasExhausted indicates the per-turn tool-call budget was spent.
	ErrGasExhausted = New("tool-call gas limit reached")
	// ErrBufferExceeded indicates a governed buffer hit its hard ceiling.
	ErrBufferExceeded = New("buffer size ceiling reached")
)

// Stream and agent sentinel errors
var (
	// ErrStreamTimeout indicates an isolated stream ran past its deadline.
	ErrStreamTimeout = New("stream timed out")
	// ErrStreamCancelled indicates an isolated stream was cancelled.
	ErrStreamCancelled = New("stream cancelled")
	// ErrAgentUnavailable indicates an advisory agent could not run.
	ErrAgentUnavailable = New("agent unavailable")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity { return e.severity }

// IsRetryable returns whether the error is transient.
func (e *baseError) IsRetryable() bool { return e.retryable }

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool { return e.userFacing }

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// TurnError represents a failure of the turn state machine itself.
//
// Example:
//
//	err := errors.NewTurnError("recursion limit", errors.ErrMaxDepthExceeded).WithDepth(16)
type TurnError struct {
	baseError
	Depth int
}

// NewTurnError creates a new TurnError.
func NewTurnError(message string, cause error) *TurnError {
	return &TurnError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityCritical,
			retryable:  false,
			userFacing: false,
		},
	}
}

// WithDepth adds the turn depth to the error context.
func (e *TurnError) WithDepth(depth int) *TurnError {
	e.Depth = depth
	return e
}

// Error returns the formatted error message.
func (e *TurnError) Error() string {
	prefix := "turn error"
	if e.Depth > 0 {
		prefix = fmt.Sprintf("turn error [depth=%d]", e.Depth)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *TurnError) Is(target error) bool {
	if _, ok := target.(*TurnError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ToolError represents a tool execution failure. Tool errors are recoverable
// by default: the orchestrator records them and recurses rather than failing
// the turn.
//
// Example:
//
//	err := errors.NewToolError("write failed", cause).WithTool("edit_file").WithTarget("pkg/a.go")
type ToolError struct {
	baseError
	Tool   string
	CallID string
	Target string
}

// NewToolError creates a new ToolError.
func NewToolError(message string, cause error) *ToolError {
	return &ToolError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
	}
}

// WithTool adds the tool name to the error context.
func (e *ToolError) WithTool(name string) *ToolError {
	e.Tool = name
	return e
}

// WithCallID adds the tool-call ID to the error context.
func (e *ToolError) WithCallID(id string) *ToolError {
	e.CallID = id
	return e
}

// WithTarget adds the resolved lock target to the error context.
func (e *ToolError) WithTarget(target string) *ToolError {
	e.Target = target
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *ToolError) WithRetryable(r bool) *ToolError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *ToolError) Error() string {
	var parts []string
	if e.Tool != "" {
		parts = append(parts, fmt.Sprintf("tool=%s", e.Tool))
	}
	if e.CallID != "" {
		parts = append(parts, fmt.Sprintf("call=%s", e.CallID))
	}
	if e.Target != "" {
		parts = append(parts, fmt.Sprintf("target=%s", e.Target))
	}

	prefix := "tool error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("tool error [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ToolError) Is(target error) bool {
	if _, ok := target.(*ToolError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AgentError represents an advisory-agent or isolated-stream failure.
// Agent errors are contained: they surface as a failed stream status and
// never abort the turn.
type AgentError struct {
	baseError
	Agent    string
	StreamID string
}

// NewAgentError creates a new AgentError.
func NewAgentError(message string, cause error) *AgentError {
	return &AgentError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: false,
		},
	}
}

// WithAgent adds the agent name to the error context.
func (e *AgentError) WithAgent(name string) *AgentError {
	e.Agent = name
	return e
}

// WithStreamID adds the stream ID to the error context.
func (e *AgentError) WithStreamID(id string) *AgentError {
	e.StreamID = id
	return e
}

// Error returns the formatted error message.
func (e *AgentError) Error() string {
	var parts []string
	if e.Agent != "" {
		parts = append(parts, fmt.Sprintf("agent=%s", e.Agent))
	}
	if e.StreamID != "" {
		parts = append(parts, fmt.Sprintf("stream=%s", e.StreamID))
	}

	prefix := "agent error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("agent error [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *AgentError) Is(target error) bool {
	if _, ok := target.(*AgentError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ExhaustionError represents a resource budget breach: gas limit, buffer
// ceiling, or spawn budget. Exhaustion forces early finalization with a
// stability notice rather than propagating as a crash.
type ExhaustionError struct {
	baseError
	Resource string
	Limit    int
}

// NewExhaustionError creates a new ExhaustionError.
func NewExhaustionError(resource string, limit int, cause error) *ExhaustionError {
	return &ExhaustionError{
		baseError: baseError{
			message:    fmt.Sprintf("%s limit %d reached", resource, limit),
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		Resource: resource,
		Limit:    limit,
	}
}

// Is checks if this error matches the target.
func (e *ExhaustionError) Is(target error) bool {
	if _, ok := target.(*ExhaustionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsFatal reports whether the error must abort the turn with no retry.
// Only disposed-orchestrator calls and max-depth breaches are fatal.
func IsFatal(err error) bool {
	return Is(err, ErrOrchestratorDisposed) || Is(err, ErrMaxDepthExceeded)
}

// IsExhaustion reports whether the error is a resource budget breach that
// should force early finalization instead of propagating.
func IsExhaustion(err error) bool {
	var ex *ExhaustionError
	if As(err, &ex) {
		return true
	}
	return Is(err, ErrGasExhausted) || Is(err, ErrBufferExceeded)
}

// IsRetryable reports whether the operation may succeed on retry.
func IsRetryable(err error) bool {
	type retryable interface{ IsRetryable() bool }
	var r retryable
	if As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// IsUserFacing reports whether the error message is safe to surface as
// inline advisory text in the assistant's output.
func IsUserFacing(err error) bool {
	type userFacing interface{ IsUserFacing() bool }
	var u userFacing
	if As(err, &u) {
		return u.IsUserFacing()
	}
	return false
}

// SeverityOf returns the severity of an error, defaulting to SeverityError
// for errors that carry no severity of their own.
func SeverityOf(err error) Severity {
	type leveled interface{ Severity() Severity }
	var l leveled
	if As(err, &l) {
		return l.Severity()
	}
	return SeverityError
}
