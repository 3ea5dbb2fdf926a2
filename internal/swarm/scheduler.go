package swarm

import (
	"fmt"
	"sort"

	"github.com/mfalcier/conclave/internal/config"
	"github.com/mfalcier/conclave/internal/logging"
	"github.com/mfalcier/conclave/internal/stability"
)

// TurnContext is the slice of turn state spawn scoring reads.
type TurnContext struct {
	FlowState      float64
	ErrorCount     int
	HotspotCount   int
	ObjectiveCount int
	Pressure       stability.Pressure
}

// policyFloor is the minimum score a request must reach to pass the policy
// gate.
const policyFloor = 0.3

// Scheduler turns intent requests into gated spawn plans. It is stateless
// between turns; capacity is consulted through the inFlight callback so the
// execution gate sees live occupancy, not a stale count.
type Scheduler struct {
	cfg      config.SchedulerConfig
	log      *logging.Logger
	inFlight func() int
	dryRun   bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the structured logger.
func WithSchedulerLogger(l *logging.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = l }
}

// WithDryRun validates plans without admitting real work: every approved
// plan is produced in SHADOW mode.
func WithDryRun() SchedulerOption {
	return func(s *Scheduler) { s.dryRun = true }
}

// NewScheduler creates a Scheduler. inFlight reports current live streams
// and may be nil when no manager exists yet.
func NewScheduler(cfg config.SchedulerConfig, inFlight func() int, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		log:      logging.NopLogger(),
		inFlight: inFlight,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Budget is the per-turn spawn ceiling: the smaller of the policy
// concurrency cap and the configured per-turn spawn cap.
func (s *Scheduler) Budget() int {
	budget := s.cfg.ConcurrencyCap
	if s.cfg.SpawnCapPerTurn < budget {
		budget = s.cfg.SpawnCapPerTurn
	}
	return budget
}

// Plan scores every request against the turn context and gates each through
// policy (affordability and sanity) and execution (spare capacity right
// now). One plan is produced per request for its first candidate agent;
// requests without candidates are dropped. Under HIGH pressure, non-critical
// requests are refused at the execution gate.
func (s *Scheduler) Plan(tc TurnContext, requests []IntentRequest) []SpawnPlan {
	// Highest-value requests claim the budget first; ties resolve by
	// intent priority so planning is deterministic.
	ordered := make([]IntentRequest, len(requests))
	copy(ordered, requests)
	sort.SliceStable(ordered, func(i, j int) bool {
		si, sj := s.score(tc, ordered[i]), s.score(tc, ordered[j])
		if si != sj {
			return si > sj
		}
		return priorityOf(ordered[i].Intent) < priorityOf(ordered[j].Intent)
	})

	occupied := 0
	if s.inFlight != nil {
		occupied = s.inFlight()
	}
	budget := s.Budget()

	var plans []SpawnPlan
	admitted := 0
	for _, req := range ordered {
		if len(req.Agents) == 0 {
			s.log.Debug("spawn request without candidate agents dropped", "intent", string(req.Intent))
			continue
		}
		plan := SpawnPlan{
			Request: req,
			Agent:   req.Agents[0],
			Score:   s.score(tc, req),
		}

		plan.PolicyApproved, plan.Reason = s.policyGate(plan)
		if plan.PolicyApproved {
			plan.ExecApproved, plan.Reason = s.execGate(tc, req, admitted, occupied, budget)
		}

		if plan.Admitted() {
			admitted++
			plan.Mode = ModeLive
			if s.dryRun {
				plan.Mode = ModeShadow
			}
		}
		plans = append(plans, plan)
	}
	return plans
}

// score folds the request's own fields and the turn context into one spawn
// score. Context raises the stakes: errors and hotspots make review-class
// intents more valuable.
func (s *Scheduler) score(tc TurnContext, req IntentRequest) float64 {
	score := 0.35*req.Urgency + 0.25*req.Risk + 0.4*req.ExpectedValue - 0.2*req.Contention

	if tc.ErrorCount > 0 && (req.Intent == IntentQualityReview || req.Intent == IntentRiskScan) {
		score += 0.15
	}
	if tc.FlowState < 35 && req.Intent == IntentRiskScan {
		score += 0.1
	}
	return score
}

// policyGate checks global affordability and sanity.
func (s *Scheduler) policyGate(plan SpawnPlan) (bool, string) {
	if plan.Request.TokenCost > s.cfg.TokenBudget {
		return false, fmt.Sprintf("token cost %d exceeds budget %d", plan.Request.TokenCost, s.cfg.TokenBudget)
	}
	if plan.Score < policyFloor {
		return false, fmt.Sprintf("score %.2f below policy floor", plan.Score)
	}
	return true, ""
}

// execGate checks spare capacity right now.
func (s *Scheduler) execGate(tc TurnContext, req IntentRequest, admitted, occupied, budget int) (bool, string) {
	if tc.Pressure == stability.PressureHigh && s.cfg.ShedOnHighPressure && !req.Critical() {
		return false, "non-critical request refused under high pressure"
	}
	if admitted >= budget {
		return false, fmt.Sprintf("spawn budget %d spent", budget)
	}
	if occupied+admitted >= s.cfg.ConcurrencyCap {
		return false, fmt.Sprintf("concurrency cap %d occupied", s.cfg.ConcurrencyCap)
	}
	return true, ""
}
