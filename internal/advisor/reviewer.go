package advisor

import (
	"context"
	"strings"

	"github.com/mfalcier/conclave/internal/council"
	"github.com/mfalcier/conclave/internal/errors"
	"github.com/mfalcier/conclave/internal/provider"
)

// Finding classifies a quality-review result.
type Finding int

const (
	// FindingNoAction means the review found nothing worth a vote.
	FindingNoAction Finding = iota

	// FindingRiskHigh is an advisory finding, suppressible under founder
	// conviction.
	FindingRiskHigh

	// FindingCritical always votes and vetoes, conviction or not.
	FindingCritical
)

// String returns a human-readable name for a finding.
func (f Finding) String() string {
	switch f {
	case FindingNoAction:
		return "NO_ACTION"
	case FindingRiskHigh:
		return "RISK:HIGH"
	case FindingCritical:
		return "CRITICAL"
	default:
		return "unknown"
	}
}

// ClassifyFinding maps a free-text review result to a finding class by
// keyword. CRITICAL markers dominate RISK markers.
func ClassifyFinding(text string) Finding {
	upper := strings.ToUpper(text)
	for _, marker := range []string{"CRITICAL", "DATA LOSS", "SECURITY"} {
		if strings.Contains(upper, marker) {
			return FindingCritical
		}
	}
	if strings.Contains(upper, "RISK:HIGH") || strings.Contains(upper, "RISK: HIGH") {
		return FindingRiskHigh
	}
	return FindingNoAction
}

// QualityReviewer evaluates the turn's recent changes. A CRITICAL finding
// always registers a DEBUG vote and a blackboard veto, with confidence
// raised further under founder conviction; advisory RISK:HIGH findings are
// suppressed when the founder holds course, to avoid noisy disagreement.
type QualityReviewer struct {
	completer provider.Completer
	board     Blackboard
}

// NewQualityReviewer creates the quality reviewer.
func NewQualityReviewer(completer provider.Completer, board Blackboard) *QualityReviewer {
	return &QualityReviewer{completer: completer, board: board}
}

// Name returns the agent's vote-log name.
func (q *QualityReviewer) Name() string { return QualityAgent }

// Advise evaluates the turn's written files. With no tool activity there is
// nothing to review and the agent abstains.
func (q *QualityReviewer) Advise(ctx context.Context, snap council.Snapshot, msgs []provider.Message) (*council.Vote, error) {
	if snap.ToolCalls == 0 || q.completer == nil {
		return nil, nil
	}

	out, err := q.completer.Complete(ctx, reviewPrompt(snap, msgs))
	if err != nil {
		return nil, errors.NewAgentError("review failed", err).WithAgent(q.Name())
	}
	return q.voteFor(ClassifyFinding(out), firstLine(out), snap), nil
}

// voteFor maps a finding to a vote under the override-suppression rules.
func (q *QualityReviewer) voteFor(f Finding, detail string, snap council.Snapshot) *council.Vote {
	switch f {
	case FindingCritical:
		q.board.Write(council.KeyVetoReason, detail)
		conf := 1.8
		if snap.OverrideActive {
			// Critical findings are never suppressed; conviction makes
			// them louder, not quieter.
			conf = 2.2
		}
		return &council.Vote{
			Strategy:   council.StrategyDebug,
			Reason:     "critical finding: " + detail,
			Confidence: conf,
		}
	case FindingRiskHigh:
		if snap.OverrideActive {
			return nil
		}
		return &council.Vote{
			Strategy:   council.StrategyDebug,
			Reason:     "high-risk finding: " + detail,
			Confidence: 1.2,
		}
	default:
		return nil
	}
}

func reviewPrompt(snap council.Snapshot, msgs []provider.Message) string {
	var b strings.Builder
	b.WriteString("Evaluate the changes just made. Classify as NO_ACTION, RISK:HIGH, or CRITICAL ")
	b.WriteString("(use CRITICAL for data loss, security, or correctness regressions) and explain briefly.\n")
	if len(snap.WrittenFiles) > 0 {
		b.WriteString("Files written: ")
		b.WriteString(strings.Join(snap.WrittenFiles, ", "))
		b.WriteString("\n")
	}
	for _, m := range tailMessages(msgs, 4) {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// ReadinessReviewer checks whether the work is ready to stop. It triggers
// only after a file write; votes HYPE on an affirmative stop signal and
// DEBUG on a negative one or flagged build risk.
type ReadinessReviewer struct {
	completer provider.Completer
}

// NewReadinessReviewer creates the readiness reviewer.
func NewReadinessReviewer(completer provider.Completer) *ReadinessReviewer {
	return &ReadinessReviewer{completer: completer}
}

// Name returns the agent's vote-log name.
func (r *ReadinessReviewer) Name() string { return ReadinessAgent }

// Advise abstains unless the turn wrote files.
func (r *ReadinessReviewer) Advise(ctx context.Context, snap council.Snapshot, msgs []provider.Message) (*council.Vote, error) {
	if len(snap.WrittenFiles) == 0 || r.completer == nil {
		return nil, nil
	}

	out, err := r.completer.Complete(ctx, readinessPrompt(snap, msgs))
	if err != nil {
		return nil, errors.NewAgentError("readiness check failed", err).WithAgent(r.Name())
	}

	upper := strings.ToUpper(out)
	switch {
	case strings.Contains(upper, "NOT_READY") || strings.Contains(upper, "NOT READY") ||
		strings.Contains(upper, "BUILD RISK") || strings.Contains(upper, "FAIL"):
		return &council.Vote{
			Strategy:   council.StrategyDebug,
			Reason:     "readiness check negative: " + firstLine(out),
			Confidence: 1.4,
		}, nil
	case strings.Contains(upper, "READY") || strings.Contains(upper, "SHIP") || strings.Contains(upper, "DONE"):
		return &council.Vote{
			Strategy:   council.StrategyHype,
			Reason:     "readiness check affirmative",
			Confidence: 1.5,
		}, nil
	}
	return nil, nil
}

func readinessPrompt(snap council.Snapshot, msgs []provider.Message) string {
	var b strings.Builder
	b.WriteString("Files were just written: ")
	b.WriteString(strings.Join(snap.WrittenFiles, ", "))
	b.WriteString("\nIs the work ready to stop? Answer READY or NOT_READY, noting any build risk.\n")
	for _, m := range tailMessages(msgs, 2) {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
