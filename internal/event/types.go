// Package event defines the typed lifecycle events the engine emits and a
// synchronous pub-sub bus for delivering them. Events decouple the turn
// orchestrator, council, and stream scheduler from whatever client is
// observing progress: the bus never blocks the publisher and a misbehaving
// subscriber cannot abort a turn.
package event

import "time"

// Event is the interface all emitted events implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g. "turn.started", "tool.failed").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides the common fields for all events.
// Embed it in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Turn lifecycle
// -----------------------------------------------------------------------------

// TurnStartedEvent is emitted when the orchestrator begins a turn pass.
type TurnStartedEvent struct {
	baseEvent
	Depth     int // Recursion depth of this pass (0 = top level)
	ErrorRun  int // Consecutive all-failed turns leading into this pass
	Messages  int // Messages in the conversation at turn start
	Objective string
}

// NewTurnStartedEvent creates a TurnStartedEvent.
func NewTurnStartedEvent(depth, errorRun, messages int, objective string) TurnStartedEvent {
	return TurnStartedEvent{
		baseEvent: newBaseEvent("turn.started"),
		Depth:     depth,
		ErrorRun:  errorRun,
		Messages:  messages,
		Objective: objective,
	}
}

// TurnCompletedEvent is emitted when a turn pass finalizes without recursing.
type TurnCompletedEvent struct {
	baseEvent
	Depth     int
	ToolCalls int
	TextLen   int  // Length of the accumulated assistant text
	Truncated bool // Whether the text buffer hit its cap
}

// NewTurnCompletedEvent creates a TurnCompletedEvent.
func NewTurnCompletedEvent(depth, toolCalls, textLen int, truncated bool) TurnCompletedEvent {
	return TurnCompletedEvent{
		baseEvent: newBaseEvent("turn.completed"),
		Depth:     depth,
		ToolCalls: toolCalls,
		TextLen:   textLen,
		Truncated: truncated,
	}
}

// TurnRecursedEvent is emitted when a turn pass decides to run another pass.
type TurnRecursedEvent struct {
	baseEvent
	Depth  int    // Depth of the pass about to run
	Reason string // "tools_ran", "panic", "corrective", "audit_rejected"
}

// NewTurnRecursedEvent creates a TurnRecursedEvent.
func NewTurnRecursedEvent(depth int, reason string) TurnRecursedEvent {
	return TurnRecursedEvent{
		baseEvent: newBaseEvent("turn.recursed"),
		Depth:     depth,
		Reason:    reason,
	}
}

// ReasoningTextEvent carries a streamed chunk of assistant text.
type ReasoningTextEvent struct {
	baseEvent
	Text string
}

// NewReasoningTextEvent creates a ReasoningTextEvent.
func NewReasoningTextEvent(text string) ReasoningTextEvent {
	return ReasoningTextEvent{
		baseEvent: newBaseEvent("turn.reasoning"),
		Text:      text,
	}
}

// -----------------------------------------------------------------------------
// Tool lifecycle
// -----------------------------------------------------------------------------

// ToolDispatchedEvent is emitted when a tool call's arguments complete and
// the call is handed to the executor.
type ToolDispatchedEvent struct {
	baseEvent
	CallID string
	Tool   string
	Target string // Resolved lock target ("GLOBAL" when unscoped)
	Write  bool   // Whether the call takes an exclusive lock
}

// NewToolDispatchedEvent creates a ToolDispatchedEvent.
func NewToolDispatchedEvent(callID, tool, target string, write bool) ToolDispatchedEvent {
	return ToolDispatchedEvent{
		baseEvent: newBaseEvent("tool.dispatched"),
		CallID:    callID,
		Tool:      tool,
		Target:    target,
		Write:     write,
	}
}

// ToolCompletedEvent is emitted when a tool call finishes.
type ToolCompletedEvent struct {
	baseEvent
	CallID    string
	Tool      string
	Success   bool
	Truncated bool
	Duration  time.Duration
}

// NewToolCompletedEvent creates a ToolCompletedEvent.
func NewToolCompletedEvent(callID, tool string, success, truncated bool, d time.Duration) ToolCompletedEvent {
	return ToolCompletedEvent{
		baseEvent: newBaseEvent("tool.completed"),
		CallID:    callID,
		Tool:      tool,
		Success:   success,
		Truncated: truncated,
		Duration:  d,
	}
}

// ApprovalRequestedEvent is emitted when a tool call awaits user approval.
type ApprovalRequestedEvent struct {
	baseEvent
	CallID  string
	Tool    string
	Granted bool
}

// NewApprovalRequestedEvent creates an ApprovalRequestedEvent.
func NewApprovalRequestedEvent(callID, tool string, granted bool) ApprovalRequestedEvent {
	return ApprovalRequestedEvent{
		baseEvent: newBaseEvent("tool.approval"),
		CallID:    callID,
		Tool:      tool,
		Granted:   granted,
	}
}

// -----------------------------------------------------------------------------
// Council
// -----------------------------------------------------------------------------

// VoteRegisteredEvent is emitted when an advisory agent casts a vote.
type VoteRegisteredEvent struct {
	baseEvent
	Agent      string
	Strategy   string
	Confidence float64
	Reason     string
}

// NewVoteRegisteredEvent creates a VoteRegisteredEvent.
func NewVoteRegisteredEvent(agent, strategy string, confidence float64, reason string) VoteRegisteredEvent {
	return VoteRegisteredEvent{
		baseEvent:  newBaseEvent("council.vote"),
		Agent:      agent,
		Strategy:   strategy,
		Confidence: confidence,
		Reason:     reason,
	}
}

// StrategyChangedEvent is emitted when the derived consensus strategy moves.
type StrategyChangedEvent struct {
	baseEvent
	Previous string
	Current  string
	Entropy  float64
}

// NewStrategyChangedEvent creates a StrategyChangedEvent.
func NewStrategyChangedEvent(previous, current string, entropy float64) StrategyChangedEvent {
	return StrategyChangedEvent{
		baseEvent: newBaseEvent("council.strategy_changed"),
		Previous:  previous,
		Current:   current,
		Entropy:   entropy,
	}
}

// ConsensusFracturedEvent is emitted when vote entropy crosses the fracture
// threshold and consensus is forced back to research, or would have been
// but for an override-authority directive.
type ConsensusFracturedEvent struct {
	baseEvent
	Entropy    float64
	Suppressed bool // True when an override-authority vote held course
}

// NewConsensusFracturedEvent creates a ConsensusFracturedEvent.
func NewConsensusFracturedEvent(entropy float64, suppressed bool) ConsensusFracturedEvent {
	return ConsensusFracturedEvent{
		baseEvent:  newBaseEvent("council.fractured"),
		Entropy:    entropy,
		Suppressed: suppressed,
	}
}

// MoodChangedEvent is emitted when the council mood shifts.
type MoodChangedEvent struct {
	baseEvent
	Previous string
	Current  string
}

// NewMoodChangedEvent creates a MoodChangedEvent.
func NewMoodChangedEvent(previous, current string) MoodChangedEvent {
	return MoodChangedEvent{
		baseEvent: newBaseEvent("council.mood_changed"),
		Previous:  previous,
		Current:   current,
	}
}

// -----------------------------------------------------------------------------
// Isolated streams
// -----------------------------------------------------------------------------

// StreamSpawnedEvent is emitted when an isolated agent stream starts.
type StreamSpawnedEvent struct {
	baseEvent
	StreamID string
	Agent    string
	Intent   string
	Mode     string // "shadow" or "live"
	Budget   int    // Token budget
}

// NewStreamSpawnedEvent creates a StreamSpawnedEvent.
func NewStreamSpawnedEvent(streamID, agent, intent, mode string, budget int) StreamSpawnedEvent {
	return StreamSpawnedEvent{
		baseEvent: newBaseEvent("stream.spawned"),
		StreamID:  streamID,
		Agent:     agent,
		Intent:    intent,
		Mode:      mode,
		Budget:    budget,
	}
}

// StreamFinishedEvent is emitted when an isolated stream reaches a terminal
// state: completed, failed, timed_out, or cancelled.
type StreamFinishedEvent struct {
	baseEvent
	StreamID string
	Agent    string
	Status   string
	Reason   string // Cancellation reason, empty otherwise
	Duration time.Duration
}

// NewStreamFinishedEvent creates a StreamFinishedEvent.
func NewStreamFinishedEvent(streamID, agent, status, reason string, d time.Duration) StreamFinishedEvent {
	return StreamFinishedEvent{
		baseEvent: newBaseEvent("stream.finished"),
		StreamID:  streamID,
		Agent:     agent,
		Status:    status,
		Reason:    reason,
		Duration:  d,
	}
}

// EnvelopeMergedEvent is emitted for each envelope the merge arbiter
// accepts or rejects.
type EnvelopeMergedEvent struct {
	baseEvent
	Agent      string
	Intent     string
	Decision   string
	Confidence float64
	Accepted   bool
	Reason     string // Rejection reason, empty when accepted
}

// NewEnvelopeMergedEvent creates an EnvelopeMergedEvent.
func NewEnvelopeMergedEvent(agent, intent, decision string, confidence float64, accepted bool, reason string) EnvelopeMergedEvent {
	return EnvelopeMergedEvent{
		baseEvent:  newBaseEvent("arbiter.envelope"),
		Agent:      agent,
		Intent:     intent,
		Decision:   decision,
		Confidence: confidence,
		Accepted:   accepted,
		Reason:     reason,
	}
}

// -----------------------------------------------------------------------------
// Stability
// -----------------------------------------------------------------------------

// PressureChangedEvent is emitted when the system pressure tier changes.
type PressureChangedEvent struct {
	baseEvent
	Previous string
	Current  string
}

// NewPressureChangedEvent creates a PressureChangedEvent.
func NewPressureChangedEvent(previous, current string) PressureChangedEvent {
	return PressureChangedEvent{
		baseEvent: newBaseEvent("stability.pressure_changed"),
		Previous:  previous,
		Current:   current,
	}
}

// BufferTruncatedEvent is emitted when a governed buffer hits its ceiling.
type BufferTruncatedEvent struct {
	baseEvent
	Buffer  string // "turn_text", "tool_stream", "tool_result"
	Limit   int
	Dropped int
}

// NewBufferTruncatedEvent creates a BufferTruncatedEvent.
func NewBufferTruncatedEvent(buffer string, limit, dropped int) BufferTruncatedEvent {
	return BufferTruncatedEvent{
		baseEvent: newBaseEvent("stability.buffer_truncated"),
		Buffer:    buffer,
		Limit:     limit,
		Dropped:   dropped,
	}
}

// WatchdogFiredEvent is emitted when the turn watchdog force-releases a
// stuck active-turn handle.
type WatchdogFiredEvent struct {
	baseEvent
	HeldFor time.Duration
}

// NewWatchdogFiredEvent creates a WatchdogFiredEvent.
func NewWatchdogFiredEvent(heldFor time.Duration) WatchdogFiredEvent {
	return WatchdogFiredEvent{
		baseEvent: newBaseEvent("stability.watchdog_fired"),
		HeldFor:   heldFor,
	}
}
