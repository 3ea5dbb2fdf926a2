// Package provider defines the contract between the turn engine and a
// language-model backend. A backend turns a message list plus a tool schema
// into an ordered stream of deltas and usage counters. Transport is the
// backend's concern; the engine only consumes the closed set of stream
// event variants defined here.
package provider

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one conversation entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCallID links a RoleTool message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// Name carries the tool name on RoleTool messages.
	Name string `json:"name,omitempty"`
}

// ToolSchema describes one callable tool to the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is one streaming completion request.
type Request struct {
	Messages  []Message
	Tools     []ToolSchema
	MaxTokens int
}

// Usage reports token consumption for a completed stream.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// StreamEvent is the closed set of events a backend stream yields.
// Exactly one concrete variant implements each event kind; consumers
// switch on the concrete type.
type StreamEvent interface {
	isStreamEvent()
}

// TextDelta carries a chunk of assistant text.
type TextDelta struct {
	Text string
}

// ToolCallDelta carries an incremental piece of one tool call. Deltas for
// the same call share an Index; ID and Name arrive on the first delta and
// are empty afterwards.
type ToolCallDelta struct {
	Index         int
	ID            string
	Name          string
	ArgumentDelta string
}

// UsageDelta carries token counters, typically once near stream end.
type UsageDelta struct {
	Usage Usage
}

// Done terminates the stream. Reason is the backend's stop reason
// (e.g. "end_turn", "tool_use", "max_tokens").
type Done struct {
	Reason string
}

func (TextDelta) isStreamEvent()     {}
func (ToolCallDelta) isStreamEvent() {}
func (UsageDelta) isStreamEvent()    {}
func (Done) isStreamEvent()          {}

// Stream yields events in order. Recv blocks until the next event, the
// stream ends (io.EOF after Done), or the context passed to Stream is
// cancelled. Close releases backend resources and is idempotent.
type Stream interface {
	Recv() (StreamEvent, error)
	Close() error
}

// Client is a model backend. Implementations must honor context
// cancellation by failing Recv on the returned stream.
type Client interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Completer is the reduced contract advisory agents use: one prompt in,
// one text out. Backends typically implement it by draining a stream.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
