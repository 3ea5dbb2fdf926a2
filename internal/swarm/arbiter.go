package swarm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mfalcier/conclave/internal/config"
	"github.com/mfalcier/conclave/internal/council"
	"github.com/mfalcier/conclave/internal/event"
	"github.com/mfalcier/conclave/internal/logging"
)

// Verdict is the arbiter's ruling on one staged envelope.
type Verdict struct {
	Envelope AgentEnvelope
	Accepted bool
	Reason   string
}

// Voter bridges accepted reviewer envelopes into council votes.
// *council.Council satisfies it.
type Voter interface {
	RegisterVote(agent string, strategy council.Strategy, reason string, confidence float64)
}

// reviewerAgent is the one agent whose accepted envelopes bridge into
// council votes.
const reviewerAgent = "quality-reviewer"

// Arbiter stages the turn's envelopes and evaluates them deterministically:
// the same staged set always yields the same accepted sequence, regardless
// of staging order.
type Arbiter struct {
	cfg config.SchedulerConfig
	bus *event.Bus
	log *logging.Logger

	mu       sync.Mutex
	staged   []AgentEnvelope
	lastVote string // fingerprint of the previous bridged vote, for dedup
}

// NewArbiter creates a merge Arbiter.
func NewArbiter(cfg config.SchedulerConfig, bus *event.Bus, log *logging.Logger) *Arbiter {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Arbiter{cfg: cfg, bus: bus, log: log}
}

// Stage adds an envelope to the current merge set.
func (a *Arbiter) Stage(env AgentEnvelope) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.staged = append(a.staged, env)
}

// StagedCount returns the number of envelopes awaiting evaluation.
func (a *Arbiter) StagedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.staged)
}

// Evaluate drains the staged set and rules on every envelope:
//
//  1. Envelopes with no decision or negative confidence are rejected.
//  2. Confidence above the evidence threshold without evidence references
//     is rejected as unsubstantiated.
//  3. Survivors sort by confidence descending, then intent priority, then
//     creation time.
//  4. If any survivor carries a blocking condition, every non-blocking
//     survivor is rejected as dominated.
//  5. Duplicate (agent, intent) pairs after the first are rejected as
//     redundant.
//
// Verdicts are returned in ruling order and published as events.
func (a *Arbiter) Evaluate() []Verdict {
	a.mu.Lock()
	staged := a.staged
	a.staged = nil
	a.mu.Unlock()

	var verdicts []Verdict
	var survivors []AgentEnvelope

	for _, env := range staged {
		switch {
		case env.Decision == "":
			verdicts = append(verdicts, Verdict{env, false, "no decision"})
		case env.Confidence < 0:
			verdicts = append(verdicts, Verdict{env, false, "negative confidence"})
		case env.Confidence > a.cfg.EvidenceConfidence && len(env.Evidence) == 0:
			verdicts = append(verdicts, Verdict{env, false,
				fmt.Sprintf("confidence %.2f above %.2f without evidence", env.Confidence, a.cfg.EvidenceConfidence)})
		default:
			survivors = append(survivors, env)
		}
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		if survivors[i].Confidence != survivors[j].Confidence {
			return survivors[i].Confidence > survivors[j].Confidence
		}
		pi, pj := priorityOf(survivors[i].Intent), priorityOf(survivors[j].Intent)
		if pi != pj {
			return pi < pj
		}
		return survivors[i].CreatedAt.Before(survivors[j].CreatedAt)
	})

	blocking := false
	for _, env := range survivors {
		if env.Blocking {
			blocking = true
			break
		}
	}

	type pairKey struct {
		agent  string
		intent Intent
	}
	seen := make(map[pairKey]bool)

	for _, env := range survivors {
		if blocking && !env.Blocking {
			verdicts = append(verdicts, Verdict{env, false, "dominated by blocking envelope"})
			continue
		}
		key := pairKey{env.Agent, env.Intent}
		if seen[key] {
			verdicts = append(verdicts, Verdict{env, false, "redundant (agent, intent) pair"})
			continue
		}
		seen[key] = true
		verdicts = append(verdicts, Verdict{env, true, "accepted"})
	}

	if a.bus != nil {
		for _, v := range verdicts {
			a.bus.Publish(event.NewEnvelopeMergedEvent(
				v.Envelope.Agent, string(v.Envelope.Intent), string(v.Envelope.Decision),
				v.Envelope.Confidence, v.Accepted, v.Reason))
		}
	}
	return verdicts
}

// BridgeVotes registers a council vote for each accepted quality-reviewer
// envelope whose decision warrants one, deduplicated against the
// immediately preceding identical stream.
func (a *Arbiter) BridgeVotes(voter Voter, verdicts []Verdict) int {
	bridged := 0
	for _, v := range verdicts {
		if !v.Accepted || v.Envelope.Agent != reviewerAgent {
			continue
		}
		env := v.Envelope
		if env.Decision != DecisionDebug && env.Decision != DecisionCritical {
			continue
		}
		if env.Confidence < a.cfg.VoteMinConfidence {
			continue
		}

		fingerprint := fmt.Sprintf("%s|%s|%s", env.Agent, env.Decision, env.Summary)
		a.mu.Lock()
		duplicate := fingerprint == a.lastVote
		if !duplicate {
			a.lastVote = fingerprint
		}
		a.mu.Unlock()
		if duplicate {
			a.log.Debug("reviewer vote deduplicated", "agent", env.Agent, "decision", string(env.Decision))
			continue
		}

		voter.RegisterVote(env.Agent, council.StrategyDebug, env.Summary, env.Confidence)
		bridged++
	}
	return bridged
}
