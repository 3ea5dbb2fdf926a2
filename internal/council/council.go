// Package council maintains the shared consensus state the advisory agents
// vote into and the orchestrator reads strategy from. The vote log is
// append-only; strategy, entropy and mood are pure functions over the log,
// recomputed at read time. A key-value blackboard is the side-channel other
// components use to pass short-lived facts without coupling to council
// internals.
package council

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mfalcier/conclave/internal/config"
	"github.com/mfalcier/conclave/internal/event"
	"github.com/mfalcier/conclave/internal/logging"
)

// Persister saves council snapshots asynchronously. Failures are logged,
// never fatal to a turn.
type Persister interface {
	SaveAsync(Snapshot)
}

// Council is the consensus blackboard. All methods are safe for concurrent
// use; by convention callers never interleave a read-modify-write on the
// same blackboard key across synchronous steps.
type Council struct {
	mu  sync.RWMutex
	cfg config.CouncilConfig
	bus *event.Bus
	log *logging.Logger

	votes      []Vote
	flow       float64
	streak     int
	hotspots   map[string]int
	touched    map[string]struct{}
	written    map[string]struct{}
	toolCalls  int
	toolFails  int
	mood       Mood
	cooldown   int // remaining panic-cooldown cycles
	blackboard map[string]string
	flowTouch  time.Time

	lastStrategy Strategy
	persister    Persister
}

// Option configures a Council.
type Option func(*Council)

// WithPersister sets the async snapshot persister.
func WithPersister(p Persister) Option {
	return func(c *Council) { c.persister = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Council) { c.log = l }
}

// New creates a Council with a neutral flow-state of 70.
func New(cfg config.CouncilConfig, bus *event.Bus, opts ...Option) *Council {
	c := &Council{
		cfg:          cfg,
		bus:          bus,
		log:          logging.NopLogger(),
		flow:         70,
		hotspots:     make(map[string]int),
		touched:      make(map[string]struct{}),
		written:      make(map[string]struct{}),
		mood:         MoodNeutral,
		blackboard:   make(map[string]string),
		flowTouch:    time.Now(),
		lastStrategy: StrategyExecute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterVote appends a vote to the log. During panic cooldown all agents
// except the founder are silenced; their votes are dropped with a log line
// rather than an error. Strategy transitions and fractures publish events.
func (c *Council) RegisterVote(agent string, strategy Strategy, reason string, confidence float64) {
	if !strategy.Valid() {
		c.log.Warn("vote with unknown strategy dropped", "agent", agent, "strategy", string(strategy))
		return
	}

	c.mu.Lock()
	if c.cooldown > 0 && agent != FounderAgent {
		c.mu.Unlock()
		c.log.Debug("vote suppressed during panic cooldown", "agent", agent)
		return
	}

	c.votes = append(c.votes, Vote{
		Agent:      agent,
		Strategy:   strategy,
		Reason:     reason,
		Confidence: confidence,
		At:         time.Now(),
	})

	prev := c.lastStrategy
	derived, entropy, fractured, suppressed := c.deriveLocked()
	c.lastStrategy = derived
	bus := c.bus
	c.mu.Unlock()

	if bus == nil {
		return
	}
	bus.Publish(event.NewVoteRegisteredEvent(agent, string(strategy), confidence, reason))
	if fractured {
		bus.Publish(event.NewConsensusFracturedEvent(entropy, suppressed))
	}
	if derived != prev {
		bus.Publish(event.NewStrategyChangedEvent(string(prev), string(derived), entropy))
	}
}

// Strategy returns the consensus strategy derived from recent votes.
func (c *Council) Strategy() Strategy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, _, _, _ := c.deriveLocked()
	return s
}

// Entropy returns the disagreement measure across recent votes: near zero
// when agents agree, at or above the fracture threshold when votes split
// evenly across distinct strategies with comparable confidence.
func (c *Council) Entropy() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, e, _, _ := c.deriveLocked()
	return e
}

// Mood returns the current derived mood.
func (c *Council) Mood() Mood {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.moodLocked()
}

// SetMood explicitly sets the mood (e.g. the auditor marking DOUBT).
// Band-derived moods (FRICTION, EUPHORIA) take precedence at read time.
func (c *Council) SetMood(m Mood) {
	c.mu.Lock()
	prev := c.mood
	c.mood = m
	bus := c.bus
	c.mu.Unlock()

	if bus != nil && prev != m {
		bus.Publish(event.NewMoodChangedEvent(string(prev), string(m)))
	}
}

// deriveLocked computes (strategy, entropy, fractured, overrideSuppressed)
// from the vote window. Caller holds at least the read lock.
func (c *Council) deriveLocked() (Strategy, float64, bool, bool) {
	window := c.windowLocked()
	if len(window) == 0 {
		return c.lastStrategy, 0, false, false
	}

	weights := make(map[Strategy]float64)
	var total float64
	for _, v := range window {
		conf := v.Confidence
		if conf <= 0 {
			conf = 0.01
		}
		weights[v.Strategy] += conf
		total += conf
	}

	entropy := scaledEntropy(weights, total)

	// Weighted winner; ties broken by a fixed strategy order for
	// determinism.
	winner := c.lastStrategy
	best := -1.0
	for _, s := range []Strategy{StrategyPanic, StrategyDebug, StrategyResearch, StrategyExecute, StrategyHype} {
		if w, ok := weights[s]; ok && w > best {
			best = w
			winner = s
		}
	}

	override := c.overrideVoteLocked(window)

	if entropy >= c.cfg.EntropyFracture {
		// Fractured consensus is forced back to RESEARCH unless the
		// founder holds a high-confidence, non-DEBUG directive.
		if override != nil && override.Strategy != StrategyDebug {
			return override.Strategy, entropy, true, true
		}
		return StrategyResearch, entropy, true, false
	}

	return winner, entropy, false, false
}

// scaledEntropy computes Shannon entropy over the confidence-weighted
// strategy distribution, scaled so an even three-way split reads as 100.
func scaledEntropy(weights map[Strategy]float64, total float64) float64 {
	if total <= 0 || len(weights) < 2 {
		return 0
	}
	var h float64
	for _, w := range weights {
		p := w / total
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h * 100 / math.Log(3)
}

// overrideVoteLocked returns the founder's most recent vote in the window
// when it carries override-level confidence.
func (c *Council) overrideVoteLocked(window []Vote) *Vote {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Agent == FounderAgent {
			if window[i].Confidence >= c.cfg.OverrideConfidence {
				v := window[i]
				return &v
			}
			return nil
		}
	}
	return nil
}

// windowLocked returns the most recent VoteWindow votes.
func (c *Council) windowLocked() []Vote {
	n := c.cfg.VoteWindow
	if n <= 0 || n > len(c.votes) {
		n = len(c.votes)
	}
	return c.votes[len(c.votes)-n:]
}

// moodLocked derives the effective mood. Caller holds at least the read lock.
func (c *Council) moodLocked() Mood {
	if c.cooldown > 0 {
		return MoodPanic
	}

	_, entropy, _, _ := c.deriveLocked()
	override := c.overrideVoteLocked(c.windowLocked())

	if entropy >= c.cfg.EntropyFriction && entropy < c.cfg.EntropyFracture && override == nil {
		return MoodFriction
	}
	if c.streak >= c.cfg.EuphoriaStreak && override != nil {
		return MoodEuphoria
	}
	return c.mood
}

// RecordError registers a failure against a file, marking it a hotspot and
// eroding flow-state. An empty file records an unscoped failure.
func (c *Council) RecordError(file string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if file != "" {
		c.hotspots[file]++
	}
	c.toolFails++
	c.streak = 0
	c.adjustFlowLocked(-8)
}

// RecordToolCall registers a completed tool call against council state.
func (c *Council) RecordToolCall(file string, write, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.toolCalls++
	if file != "" {
		c.touched[file] = struct{}{}
		if write {
			c.written[file] = struct{}{}
		}
	}
	if success {
		c.streak++
		c.adjustFlowLocked(+3)
	} else {
		c.streak = 0
		c.adjustFlowLocked(-5)
	}
}

// UpdateFlowState nudges the flow-state health score by delta, clamped to
// [0, 100].
func (c *Council) UpdateFlowState(delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adjustFlowLocked(delta)
}

func (c *Council) adjustFlowLocked(delta float64) {
	c.flow = math.Max(0, math.Min(100, c.flow+delta))
	c.flowTouch = time.Now()
}

// DecayFlowIfStale relaxes flow-state toward neutral (50) when it has not
// been touched for the configured span.
func (c *Council) DecayFlowIfStale() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.flowTouch) < c.cfg.FlowDecayAfter() {
		return
	}

	step := c.cfg.FlowDecayStep
	switch {
	case c.flow > 50:
		c.flow = math.Max(50, c.flow-step)
	case c.flow < 50:
		c.flow = math.Min(50, c.flow+step)
	}
	c.flowTouch = time.Now()
}

// ActivatePanicCooldown suppresses non-founder voting for n cycles.
func (c *Council) ActivatePanicCooldown(n int) {
	if n <= 0 {
		n = c.cfg.PanicCooldownCycles
	}
	c.mu.Lock()
	c.cooldown = n
	prev := c.mood
	c.mood = MoodPanic
	bus := c.bus
	c.mu.Unlock()

	if bus != nil && prev != MoodPanic {
		bus.Publish(event.NewMoodChangedEvent(string(prev), string(MoodPanic)))
	}
}

// ClearTurnState resets per-turn fields at the start of a turn and burns
// one panic-cooldown cycle. Persistent history (votes, hotspots, flow) is
// untouched.
func (c *Council) ClearTurnState() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.touched = make(map[string]struct{})
	c.written = make(map[string]struct{})
	c.toolCalls = 0
	c.toolFails = 0
	if c.cooldown > 0 {
		c.cooldown--
		if c.cooldown == 0 && c.mood == MoodPanic {
			c.mood = MoodNeutral
		}
	}
}

// Read returns a blackboard value.
func (c *Council) Read(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.blackboard[key]
	return v, ok
}

// Write stores a blackboard value. An empty value deletes the key.
func (c *Council) Write(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == "" {
		delete(c.blackboard, key)
		return
	}
	c.blackboard[key] = value
}

// Snapshot returns an immutable copy of current state with all derived
// fields computed.
func (c *Council) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	strategy, entropy, _, _ := c.deriveLocked()
	override := c.overrideVoteLocked(c.windowLocked())

	snap := Snapshot{
		Strategy:       strategy,
		Entropy:        entropy,
		FrictionBand:   c.cfg.EntropyFriction,
		Mood:           c.moodLocked(),
		FlowState:      c.flow,
		SuccessStreak:  c.streak,
		Hotspots:       make(map[string]int, len(c.hotspots)),
		ToolCalls:      c.toolCalls,
		ToolFailures:   c.toolFails,
		PanicCooldown:  c.cooldown > 0,
		OverrideActive: override != nil,
		OverrideVote:   override,
		VoteCount:      len(c.votes),
		TakenAt:        time.Now(),
	}
	for f, n := range c.hotspots {
		snap.Hotspots[f] = n
	}
	for f := range c.touched {
		snap.TouchedFiles = append(snap.TouchedFiles, f)
	}
	for f := range c.written {
		snap.WrittenFiles = append(snap.WrittenFiles, f)
	}
	sort.Strings(snap.TouchedFiles)
	sort.Strings(snap.WrittenFiles)
	return snap
}

// Votes returns a copy of the full vote log.
func (c *Council) Votes() []Vote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Vote, len(c.votes))
	copy(out, c.votes)
	return out
}

// SeedVotes restores a persisted vote-log tail, used when resuming a
// session. It does not publish events.
func (c *Council) SeedVotes(votes []Vote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.votes = append(c.votes, votes...)
	if s, _, _, _ := c.deriveLocked(); s.Valid() {
		c.lastStrategy = s
	}
}

// PersistAsync hands the current snapshot to the persister, if any.
// Persistence failures are the persister's to log; the turn never waits.
func (c *Council) PersistAsync(ctx context.Context) {
	c.mu.RLock()
	p := c.persister
	c.mu.RUnlock()
	if p == nil {
		return
	}
	snap := c.Snapshot()
	select {
	case <-ctx.Done():
	default:
		p.SaveAsync(snap)
	}
}
