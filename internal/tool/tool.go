// Package tool defines the contract between the turn engine and the tool
// registry, plus the argument-buffer utilities the orchestrator needs while
// assembling calls from streamed deltas: a JSON completeness scanner, a
// best-effort mender for malformed payloads, and outcome classification of
// tool results.
package tool

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mfalcier/conclave/internal/provider"
	"github.com/mfalcier/conclave/internal/reslock"
)

// HaltPrefix on a result string signals an unrecoverable tool outcome.
const HaltPrefix = "HALT:"

// errorPrefix on a result string signals a recoverable failure eligible
// for repair and recursion.
const errorPrefix = "Error"

// Result is a tool's output: a string, a structured value, or both.
type Result struct {
	Text       string
	Structured any
}

// Tool is one callable tool implementation.
type Tool interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage

	// Writes reports whether the tool mutates its target, which decides
	// the lock mode taken before dispatch.
	Writes() bool

	// AutoApproved tools skip the approval collaborator.
	AutoApproved() bool

	// ResolveTarget maps an input payload to the lock target the call
	// affects. Tools whose effect cannot be scoped to one file return
	// reslock.GlobalTarget.
	ResolveTarget(input json.RawMessage) string

	Execute(ctx context.Context, input json.RawMessage) (Result, error)
}

// Registry resolves tool names to implementations.
type Registry interface {
	GetTool(name string) (Tool, bool)
	Schemas() []provider.ToolSchema
}

// ApprovalFunc is the approval collaborator consulted for tools that are
// not auto-approved. A false return records the call as denied.
type ApprovalFunc func(ctx context.Context, name string, input json.RawMessage) (bool, error)

// Outcome classifies a tool result string.
type Outcome int

const (
	// OutcomeSuccess is a normal result.
	OutcomeSuccess Outcome = iota

	// OutcomeError is a recoverable failure eligible for repair.
	OutcomeError

	// OutcomeHalt is an unrecoverable outcome that ends the turn's
	// willingness to keep dispatching.
	OutcomeHalt
)

// String returns a human-readable name for an outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeError:
		return "error"
	case OutcomeHalt:
		return "halt"
	default:
		return "unknown"
	}
}

// Classify inspects a result string for the distinguished prefixes.
func Classify(result string) Outcome {
	trimmed := strings.TrimSpace(result)
	if strings.HasPrefix(trimmed, HaltPrefix) {
		return OutcomeHalt
	}
	if strings.HasPrefix(trimmed, errorPrefix) {
		return OutcomeError
	}
	return OutcomeSuccess
}

// ResolveTargetOrGlobal extracts a best-effort lock target from a raw
// payload for tools that scope by a conventional "path" or "file" field.
// Anything unscopable falls back to the global sentinel.
func ResolveTargetOrGlobal(input json.RawMessage) string {
	var fields struct {
		Path     string `json:"path"`
		File     string `json:"file"`
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(input, &fields); err != nil {
		return reslock.GlobalTarget
	}
	switch {
	case fields.Path != "":
		return fields.Path
	case fields.File != "":
		return fields.File
	case fields.FilePath != "":
		return fields.FilePath
	}
	return reslock.GlobalTarget
}
