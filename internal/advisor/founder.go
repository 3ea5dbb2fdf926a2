package advisor

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/mfalcier/conclave/internal/config"
	"github.com/mfalcier/conclave/internal/council"
	"github.com/mfalcier/conclave/internal/errors"
	"github.com/mfalcier/conclave/internal/logging"
	"github.com/mfalcier/conclave/internal/provider"
)

// Decision is the founder's full telemetry for one advised turn: the raw
// directive plus every adjustment applied on the way to the final vote.
type Decision struct {
	Strategy          council.Strategy
	Confidence        float64
	Reason            string
	RiskLevel         float64
	Profile           string
	RiskDampened      bool
	MomentumApplied   bool
	UncertaintyCapped bool
}

// Founder is the override-authority agent. It computes a directive from a
// provider call, then shapes the confidence through risk dampening, profile
// adjustment, and momentum, all capped by configuration. Its vote is exempt
// from panic-cooldown silencing; the council derives override authority
// from its confidence.
type Founder struct {
	cfg       config.FounderConfig
	completer provider.Completer
	board     Blackboard
	log       *logging.Logger

	mu   sync.Mutex
	last Decision
}

// NewFounder creates the founder agent.
func NewFounder(cfg config.FounderConfig, completer provider.Completer, board Blackboard, log *logging.Logger) *Founder {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Founder{cfg: cfg, completer: completer, board: board, log: log}
}

// Name returns the agent's vote-log name.
func (f *Founder) Name() string { return council.FounderAgent }

// LastDecision returns the telemetry of the most recent advised turn.
func (f *Founder) LastDecision() Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Advise asks the provider for a directive, applies the confidence-shaping
// pipeline, records the decision telemetry, and returns the vote.
func (f *Founder) Advise(ctx context.Context, snap council.Snapshot, msgs []provider.Message) (*council.Vote, error) {
	if f.completer == nil {
		return nil, nil
	}
	out, err := f.completer.Complete(ctx, founderPrompt(snap, msgs))
	if err != nil {
		return nil, errors.NewAgentError("directive failed", err).WithAgent(f.Name())
	}

	strategy, confidence, reason, uncertain := ParseDirective(out)
	d := f.Shape(strategy, confidence, uncertain, snap)
	d.Reason = reason

	f.mu.Lock()
	f.last = d
	f.mu.Unlock()

	f.log.Debug("founder decision",
		"strategy", string(d.Strategy),
		"confidence", d.Confidence,
		"risk", d.RiskLevel,
		"profile", d.Profile,
		"dampened", d.RiskDampened,
		"momentum", d.MomentumApplied,
		"uncertainty_capped", d.UncertaintyCapped)

	return &council.Vote{
		Strategy:   d.Strategy,
		Reason:     d.Reason,
		Confidence: d.Confidence,
	}, nil
}

// highRisk is the risk level above which dampening applies.
const highRisk = 0.5

// Shape runs the confidence pipeline over a raw directive: structural
// uncertainty caps and redirects first; otherwise risk dampening, profile
// adjustment, and momentum apply in that order. The final confidence never
// exceeds the configured cap.
func (f *Founder) Shape(strategy council.Strategy, confidence float64, uncertain bool, snap council.Snapshot) Decision {
	d := Decision{
		Strategy:   strategy,
		Confidence: confidence,
		RiskLevel:  AssessRisk(snap),
		Profile:    f.cfg.Profile,
	}

	if uncertain {
		// Structural uncertainty overrides everything: no profile can buy
		// conviction about a codebase the founder does not understand.
		d.UncertaintyCapped = true
		d.Confidence = math.Min(d.Confidence, f.cfg.UncertaintyCap)
		if d.Strategy != council.StrategyResearch && d.Strategy != council.StrategyDebug {
			d.Strategy = council.StrategyResearch
		}
		return f.finalize(d)
	}

	if d.RiskLevel >= highRisk {
		d.RiskDampened = true
		d.Confidence *= f.cfg.RiskDampening
		if d.Strategy == council.StrategyHype {
			d.Strategy = council.StrategyDebug
		}
	}

	switch f.cfg.Profile {
	case "recovery":
		d.Confidence *= 0.8
	case "demo":
		if d.RiskLevel < 0.25 {
			d.Confidence *= 1.15
		}
	}

	if boost := f.momentum(snap); boost > 0 {
		d.MomentumApplied = true
		d.Confidence += boost
	}

	return f.finalize(d)
}

// momentum returns the confidence boost earned from healthy streaks and an
// explicit continue-directive on the blackboard.
func (f *Founder) momentum(snap council.Snapshot) float64 {
	var boost float64
	if snap.SuccessStreak >= 3 {
		steps := math.Min(float64(snap.SuccessStreak), 6)
		boost += f.cfg.MomentumBoost * steps
	}
	if f.board != nil {
		if directive, ok := f.board.Read(council.KeyLastDirective); ok {
			if strings.Contains(strings.ToLower(directive), "continue") {
				boost += f.cfg.MomentumBoost
			}
		}
	}
	return boost
}

func (f *Founder) finalize(d Decision) Decision {
	d.Confidence = math.Max(0, math.Min(d.Confidence, f.cfg.ConfidenceCap))
	return d
}

// AssessRisk scores the turn context in [0, 1] from flow-state, failure
// counts, hotspot spread, and council entropy against the snapshot's
// configured friction band.
func AssessRisk(snap council.Snapshot) float64 {
	var risk float64
	if snap.FlowState < 35 {
		risk += 0.3
	}
	if snap.ToolFailures >= 2 {
		risk += 0.25
	}
	if len(snap.Hotspots) >= 3 {
		risk += 0.25
	}
	if snap.FrictionBand > 0 && snap.Entropy >= snap.FrictionBand {
		risk += 0.2
	}
	return math.Min(risk, 1)
}

// directiveStrategies is the recognition order when a directive names more
// than one strategy; the first occurrence in the text wins.
var directiveStrategies = []council.Strategy{
	council.StrategyPanic,
	council.StrategyDebug,
	council.StrategyResearch,
	council.StrategyExecute,
	council.StrategyHype,
}

var confidencePattern = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\b`)

// uncertaintyMarkers flag a structural-uncertainty signal in the directive.
var uncertaintyMarkers = []string{"UNCERTAIN", "UNFAMILIAR", "UNKNOWN STRUCTURE", "UNKNOWN ARCHITECTURE"}

// ParseDirective extracts (strategy, confidence, reason, uncertain) from a
// free-text founder directive. The earliest strategy token in the text wins;
// a missing strategy defaults to EXECUTE and a missing confidence to 1.5.
func ParseDirective(text string) (council.Strategy, float64, string, bool) {
	upper := strings.ToUpper(text)

	strategy := council.StrategyExecute
	bestIdx := len(upper) + 1
	for _, s := range directiveStrategies {
		if idx := strings.Index(upper, string(s)); idx >= 0 && idx < bestIdx {
			bestIdx = idx
			strategy = s
		}
	}

	confidence := 1.5
	if m := confidencePattern.FindString(text); m != "" {
		if v, err := strconv.ParseFloat(m, 64); err == nil && v >= 0 && v <= 10 {
			confidence = v
		}
	}

	uncertain := false
	for _, marker := range uncertaintyMarkers {
		if strings.Contains(upper, marker) {
			uncertain = true
			break
		}
	}

	return strategy, confidence, firstLine(text), uncertain
}

func founderPrompt(snap council.Snapshot, msgs []provider.Message) string {
	var b strings.Builder
	b.WriteString("As the final authority, pick one strategy for the next turn: ")
	b.WriteString("RESEARCH, EXECUTE, DEBUG, HYPE, or PANIC, with a confidence 0-3 and a one-line reason. ")
	b.WriteString("Say UNCERTAIN if the codebase structure is unclear.\n")
	b.WriteString("Flow-state: ")
	b.WriteString(strconv.FormatFloat(snap.FlowState, 'f', 0, 64))
	b.WriteString(", failures this turn: ")
	b.WriteString(strconv.Itoa(snap.ToolFailures))
	b.WriteString(", entropy: ")
	b.WriteString(strconv.FormatFloat(snap.Entropy, 'f', 0, 64))
	b.WriteString("\n")
	for _, m := range tailMessages(msgs, 4) {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
