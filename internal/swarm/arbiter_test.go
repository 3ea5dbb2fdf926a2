package swarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfalcier/conclave/internal/config"
	"github.com/mfalcier/conclave/internal/council"
	"github.com/mfalcier/conclave/internal/event"
)

func testSchedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		SpawnCapPerTurn:    3,
		ConcurrencyCap:     4,
		TokenBudget:        2000,
		StreamTimeoutMs:    8000,
		EvidenceConfidence: 2.0,
		VoteMinConfidence:  1.2,
		ShedOnHighPressure: true,
	}
}

func env(agent string, intent Intent, decision Decision, confidence float64, at time.Time) AgentEnvelope {
	return AgentEnvelope{
		StreamID:   agent + "-" + string(intent),
		Agent:      agent,
		Intent:     intent,
		Decision:   decision,
		Confidence: confidence,
		Summary:    string(decision) + " from " + agent,
		CreatedAt:  at,
	}
}

func accepted(verdicts []Verdict) []AgentEnvelope {
	var out []AgentEnvelope
	for _, v := range verdicts {
		if v.Accepted {
			out = append(out, v.Envelope)
		}
	}
	return out
}

func TestEvaluateRejectsMalformedEnvelopes(t *testing.T) {
	a := NewArbiter(testSchedulerConfig(), nil, nil)
	now := time.Now()

	a.Stage(env("x", IntentResearch, "", 1.0, now))
	negative := env("y", IntentResearch, DecisionDebug, -0.5, now)
	a.Stage(negative)

	verdicts := a.Evaluate()
	require.Len(t, verdicts, 2)
	for _, v := range verdicts {
		assert.False(t, v.Accepted)
	}
	assert.Equal(t, "no decision", verdicts[0].Reason)
	assert.Equal(t, "negative confidence", verdicts[1].Reason)
}

func TestEvaluateRejectsHighConfidenceWithoutEvidence(t *testing.T) {
	a := NewArbiter(testSchedulerConfig(), nil, nil)
	now := time.Now()

	bare := env("x", IntentQualityReview, DecisionCritical, 2.1, now)
	a.Stage(bare)

	backed := env("y", IntentQualityReview, DecisionCritical, 2.1, now)
	backed.Evidence = []string{"pkg/a.go:42"}
	a.Stage(backed)

	verdicts := a.Evaluate()
	require.Len(t, verdicts, 2)

	byAgent := map[string]Verdict{}
	for _, v := range verdicts {
		byAgent[v.Envelope.Agent] = v
	}
	assert.False(t, byAgent["x"].Accepted)
	assert.Contains(t, byAgent["x"].Reason, "without evidence")
	assert.True(t, byAgent["y"].Accepted)
}

func TestEvaluateOrderIsDeterministic(t *testing.T) {
	now := time.Now()
	envelopes := []AgentEnvelope{
		env("a", IntentSummarize, DecisionNoAction, 0.8, now),
		env("b", IntentRiskScan, DecisionDebug, 1.6, now.Add(time.Millisecond)),
		env("c", IntentQualityReview, DecisionDebug, 1.6, now),
		env("d", IntentResearch, DecisionNoAction, 0.8, now.Add(-time.Millisecond)),
	}

	run := func(order []int) []AgentEnvelope {
		a := NewArbiter(testSchedulerConfig(), nil, nil)
		for _, i := range order {
			a.Stage(envelopes[i])
		}
		return accepted(a.Evaluate())
	}

	first := run([]int{0, 1, 2, 3})
	second := run([]int{3, 2, 1, 0})
	require.Equal(t, first, second, "acceptance order must not depend on staging order")

	// Confidence desc, then intent priority: quality-review before
	// risk-scan at 1.6, research before summarize at 0.8.
	require.Len(t, first, 4)
	assert.Equal(t, "c", first[0].Agent)
	assert.Equal(t, "b", first[1].Agent)
	assert.Equal(t, "d", first[2].Agent)
	assert.Equal(t, "a", first[3].Agent)
}

func TestEvaluateBlockingDominates(t *testing.T) {
	a := NewArbiter(testSchedulerConfig(), nil, nil)
	now := time.Now()

	blocker := env("reviewer", IntentQualityReview, DecisionCritical, 2.1, now)
	blocker.Blocking = true
	blocker.Evidence = []string{"pkg/a.go"}
	a.Stage(blocker)
	a.Stage(env("scout", IntentResearch, DecisionNoAction, 0.8, now))
	a.Stage(env("scanner", IntentRiskScan, DecisionDebug, 1.6, now))

	verdicts := a.Evaluate()
	acc := accepted(verdicts)
	require.Len(t, acc, 1)
	assert.Equal(t, "reviewer", acc[0].Agent)

	dominated := 0
	for _, v := range verdicts {
		if v.Reason == "dominated by blocking envelope" {
			dominated++
		}
	}
	assert.Equal(t, 2, dominated)
}

func TestEvaluateRejectsDuplicatePairs(t *testing.T) {
	a := NewArbiter(testSchedulerConfig(), nil, nil)
	now := time.Now()

	a.Stage(env("x", IntentRiskScan, DecisionDebug, 1.6, now))
	a.Stage(env("x", IntentRiskScan, DecisionDebug, 1.4, now.Add(time.Millisecond)))

	verdicts := a.Evaluate()
	acc := accepted(verdicts)
	require.Len(t, acc, 1)
	assert.Equal(t, 1.6, acc[0].Confidence, "the higher-confidence duplicate wins")
}

func TestEvaluatePublishesVerdictEvents(t *testing.T) {
	bus := event.NewBus()
	a := NewArbiter(testSchedulerConfig(), bus, nil)

	var published int
	bus.Subscribe("arbiter.envelope", func(event.Event) { published++ })

	a.Stage(env("x", IntentRiskScan, DecisionDebug, 1.6, time.Now()))
	a.Stage(env("y", IntentResearch, "", 1.0, time.Now()))
	a.Evaluate()

	assert.Equal(t, 2, published)
}

type bridgeVoter struct {
	votes []council.Vote
}

func (b *bridgeVoter) RegisterVote(agent string, strategy council.Strategy, reason string, confidence float64) {
	b.votes = append(b.votes, council.Vote{Agent: agent, Strategy: strategy, Reason: reason, Confidence: confidence})
}

func TestBridgeVotes(t *testing.T) {
	a := NewArbiter(testSchedulerConfig(), nil, nil)
	voter := &bridgeVoter{}
	now := time.Now()

	reviewer := env(reviewerAgent, IntentQualityReview, DecisionDebug, 1.6, now)
	other := env("scout", IntentResearch, DecisionDebug, 1.6, now)
	weak := env(reviewerAgent, IntentRiskScan, DecisionDebug, 1.0, now)
	weak.Summary = "weak finding"

	a.Stage(reviewer)
	a.Stage(other)
	a.Stage(weak)

	n := a.BridgeVotes(voter, a.Evaluate())
	assert.Equal(t, 1, n)
	require.Len(t, voter.votes, 1)
	assert.Equal(t, reviewerAgent, voter.votes[0].Agent)
	assert.Equal(t, council.StrategyDebug, voter.votes[0].Strategy)
}

func TestBridgeVotesDeduplicatesConsecutiveIdenticalStreams(t *testing.T) {
	a := NewArbiter(testSchedulerConfig(), nil, nil)
	voter := &bridgeVoter{}

	stage := func() []Verdict {
		a.Stage(env(reviewerAgent, IntentQualityReview, DecisionDebug, 1.6, time.Now()))
		return a.Evaluate()
	}

	assert.Equal(t, 1, a.BridgeVotes(voter, stage()))
	assert.Equal(t, 0, a.BridgeVotes(voter, stage()), "identical consecutive stream must not double-vote")

	// A different finding votes again.
	different := env(reviewerAgent, IntentQualityReview, DecisionDebug, 1.6, time.Now())
	different.Summary = "a new finding"
	a.Stage(different)
	assert.Equal(t, 1, a.BridgeVotes(voter, a.Evaluate()))
}
