// Package swarm runs isolated agent streams: scoring and gating spawn
// requests into per-turn plans, executing the admitted plans as
// cancellable, budgeted evaluations, and merging the resulting envelopes
// deterministically so the turn sees one coherent verdict regardless of
// completion order.
package swarm

import (
	"strings"
	"time"
)

// Intent classifies what a spawn request wants from its stream.
type Intent string

const (
	IntentQualityReview Intent = "quality-review"
	IntentRiskScan      Intent = "risk-scan"
	IntentResearch      Intent = "research"
	IntentSummarize     Intent = "summarize"
)

// intentPriority fixes the tie-break order in the merge arbiter; lower
// ranks first. Unknown intents sort last.
var intentPriority = map[Intent]int{
	IntentQualityReview: 0,
	IntentRiskScan:      1,
	IntentResearch:      2,
	IntentSummarize:     3,
}

func priorityOf(i Intent) int {
	if p, ok := intentPriority[i]; ok {
		return p
	}
	return 100
}

// Decision labels an envelope's conclusion.
type Decision string

const (
	DecisionCritical Decision = "critical"
	DecisionDebug    Decision = "debug"
	DecisionNoAction Decision = "no-action"
)

// Mode is how an admitted plan executes.
type Mode string

const (
	// ModeShadow validates the plan without performing real work; the
	// envelope is a placeholder.
	ModeShadow Mode = "SHADOW"

	// ModeLive runs the isolated evaluation for real.
	ModeLive Mode = "LIVE"
)

// IntentRequest asks the scheduler for one isolated stream. All scoring
// inputs are normalized to [0, 1] except TokenCost.
type IntentRequest struct {
	Intent        Intent
	Agents        []string
	Urgency       float64
	Risk          float64
	ExpectedValue float64
	TokenCost     int
	Contention    float64
}

// Critical requests survive high-pressure shedding.
func (r IntentRequest) Critical() bool {
	return r.Urgency >= 0.8 || r.Risk >= 0.8
}

// SpawnPlan is the scheduler's verdict on one request for one agent.
type SpawnPlan struct {
	Request        IntentRequest
	Agent          string
	Score          float64
	PolicyApproved bool
	ExecApproved   bool
	Mode           Mode
	Reason         string
}

// Admitted reports whether both gates passed.
func (p SpawnPlan) Admitted() bool { return p.PolicyApproved && p.ExecApproved }

// AgentEnvelope is the terminal output of one isolated stream: staged into
// the merge arbiter and either accepted or rejected.
type AgentEnvelope struct {
	StreamID           string
	Agent              string
	Intent             Intent
	Decision           Decision
	Confidence         float64
	Evidence           []string
	Blocking           bool
	RecommendedActions []string
	Summary            string
	CreatedAt          time.Time
}

// ClassifyVerdict maps an evaluation's free-text result to a decision and
// confidence pair by keyword. Critical markers dominate risk markers.
func ClassifyVerdict(text string) (Decision, float64) {
	upper := strings.ToUpper(text)
	for _, marker := range []string{"CRITICAL", "DATA LOSS", "SECURITY"} {
		if strings.Contains(upper, marker) {
			return DecisionCritical, 2.1
		}
	}
	for _, marker := range []string{"RISK", "FAILURE", "ERROR", "BROKEN"} {
		if strings.Contains(upper, marker) {
			return DecisionDebug, 1.6
		}
	}
	return DecisionNoAction, 0.8
}

// evidencePrefix marks evaluator output lines carried as evidence
// references on the envelope.
const evidencePrefix = "EVIDENCE:"

// extractEvidence pulls evidence references out of an evaluation result.
func extractEvidence(text string) []string {
	var refs []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, evidencePrefix); ok {
			if ref := strings.TrimSpace(rest); ref != "" {
				refs = append(refs, ref)
			}
		}
	}
	return refs
}
