package council

import "time"

// Strategy is the council's consensus posture for the next turn.
type Strategy string

const (
	// StrategyResearch gathers more context before acting.
	StrategyResearch Strategy = "RESEARCH"

	// StrategyExecute proceeds with the current plan.
	StrategyExecute Strategy = "EXECUTE"

	// StrategyDebug investigates failures before continuing.
	StrategyDebug Strategy = "DEBUG"

	// StrategyHype pushes to finish; momentum is healthy.
	StrategyHype Strategy = "HYPE"

	// StrategyPanic aborts the current approach and forces re-planning.
	StrategyPanic Strategy = "PANIC"
)

// Valid reports whether s is one of the defined strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyResearch, StrategyExecute, StrategyDebug, StrategyHype, StrategyPanic:
		return true
	}
	return false
}

// Mood is the council's derived emotional register. It is advisory
// telemetry: agents read it to modulate their votes.
type Mood string

const (
	MoodNeutral  Mood = "NEUTRAL"
	MoodFriction Mood = "FRICTION"
	MoodEuphoria Mood = "EUPHORIA"
	MoodDoubt    Mood = "DOUBT"
	MoodPanic    Mood = "PANIC"
)

// Vote is one agent's strategy proposal. Votes are append-only: a later
// vote supersedes an earlier one in derivation weight but never mutates it.
type Vote struct {
	Agent      string
	Strategy   Strategy
	Reason     string
	Confidence float64 // roughly 0-3
	At         time.Time
}

// Snapshot is an immutable read of council state at a point in time.
// All derived fields (strategy, entropy, mood, override authority) are
// computed from the vote log at snapshot time, never cached destructively.
type Snapshot struct {
	Strategy       Strategy
	Entropy        float64
	FrictionBand   float64 // configured entropy band where disagreement counts as friction
	Mood           Mood
	FlowState      float64 // 0-100 rolling health score
	SuccessStreak  int
	Hotspots       map[string]int // file -> recorded error count
	TouchedFiles   []string       // files any tool read or wrote this turn
	WrittenFiles   []string       // files written this turn
	ToolCalls      int            // tool calls recorded this turn
	ToolFailures   int            // failed tool calls recorded this turn
	PanicCooldown  bool
	OverrideActive bool  // founder holds a high-confidence directive
	OverrideVote   *Vote // the authoritative vote when OverrideActive
	VoteCount      int   // total votes in the log
	TakenAt        time.Time
}

// FounderAgent is the name of the override-authority voter. Its
// high-confidence vote can suppress non-critical dissent without erasing
// it, and it is exempt from panic-cooldown silencing.
const FounderAgent = "founder"

// Blackboard keys used by the engine's own components. The blackboard is a
// generic side-channel; these constants just keep the spellings aligned.
const (
	KeyVetoReason     = "veto_reason"
	KeySpecialization = "specialization_snapshot"
	KeyLastDirective  = "last_directive"
)
