// Package coordination schedules the advisory agents within a turn. It
// tracks per-turn agent contexts (priority, dependencies, recommended
// strategy), computes a dependency-respecting execution order as parallel
// groups, feeds completed runs back into an adaptive priority signal, and
// learns per-agent task specialization across turns.
package coordination

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mfalcier/conclave/internal/config"
	"github.com/mfalcier/conclave/internal/council"
	"github.com/mfalcier/conclave/internal/logging"
)

// AgentContext is one agent's per-turn scheduling hint. Contexts are
// rebuilt every turn; nothing in them persists.
type AgentContext struct {
	Agent               string
	Priority            float64
	Dependencies        []string
	RecommendedStrategy council.Strategy
}

// ExecutionPlan is the ordered schedule for a turn's agents: each group
// runs concurrently, groups run in sequence. Conflicts carry detected
// scheduling problems; Recommendations are advisory notes.
type ExecutionPlan struct {
	Groups          [][]string
	Conflicts       []string
	Recommendations []string
}

// perfRecord is an agent's persistent performance history.
type perfRecord struct {
	runs      int
	successes int
	avgMs     float64
}

func (p *perfRecord) successRate() float64 {
	if p.runs == 0 {
		return 1.0
	}
	return float64(p.successes) / float64(p.runs)
}

// Coordinator owns agent scheduling state. Per-turn contexts are cleared
// by ResetTurn; performance and specialization history persist.
type Coordinator struct {
	mu  sync.RWMutex
	cfg config.SpecializationConfig
	log *logging.Logger

	contexts map[string]AgentContext
	perf     map[string]*perfRecord
	profiles map[string]*agentProfile
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// New creates a Coordinator, seeding specialization profiles from config.
func New(cfg config.SpecializationConfig, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		log:      logging.NopLogger(),
		contexts: make(map[string]AgentContext),
		perf:     make(map[string]*perfRecord),
		profiles: make(map[string]*agentProfile),
	}
	for _, opt := range opts {
		opt(c)
	}
	for agent, types := range cfg.Seed {
		p := c.profileLocked(agent)
		for _, t := range types {
			p.specialized[TaskType(t)] = true
		}
	}
	return c
}

// RegisterAgentContext records one agent's scheduling hint for this turn.
// A second registration for the same agent replaces the first.
func (c *Coordinator) RegisterAgentContext(agent string, ctx AgentContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx.Agent = agent
	if ctx.Priority <= 0 {
		ctx.Priority = 1.0
	}
	c.contexts[agent] = ctx
}

// ResetTurn drops all per-turn contexts.
func (c *Coordinator) ResetTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contexts = make(map[string]AgentContext)
}

// Contexts returns a copy of the current per-turn contexts.
func (c *Coordinator) Contexts() []AgentContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]AgentContext, 0, len(c.contexts))
	for _, ctx := range c.contexts {
		out = append(out, ctx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out
}

// CalculateExecutionOrder levels the requested agents into parallel groups
// such that an agent never runs before its declared dependencies. Unknown
// or unscheduled dependencies are reported as conflicts and ignored;
// dependency cycles are reported and the cycle members appended as a final
// group so no agent is silently dropped.
func (c *Coordinator) CalculateExecutionOrder(agents []string) ExecutionPlan {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var plan ExecutionPlan
	requested := make(map[string]bool, len(agents))
	for _, a := range agents {
		requested[a] = true
	}

	// Effective dependency set per agent, filtered to scheduled agents.
	deps := make(map[string]map[string]bool, len(agents))
	for _, a := range agents {
		deps[a] = make(map[string]bool)
		ctx, ok := c.contexts[a]
		if !ok {
			continue
		}
		for _, d := range ctx.Dependencies {
			if d == a {
				plan.Conflicts = append(plan.Conflicts, fmt.Sprintf("%s depends on itself", a))
				continue
			}
			if !requested[d] {
				plan.Conflicts = append(plan.Conflicts, fmt.Sprintf("%s depends on unscheduled agent %s", a, d))
				continue
			}
			deps[a][d] = true
		}
	}

	remaining := make(map[string]bool, len(agents))
	for _, a := range agents {
		remaining[a] = true
	}

	for len(remaining) > 0 {
		var group []string
		for a := range remaining {
			ready := true
			for d := range deps[a] {
				if remaining[d] {
					ready = false
					break
				}
			}
			if ready {
				group = append(group, a)
			}
		}

		if len(group) == 0 {
			// Every remaining agent waits on another remaining agent.
			var cycle []string
			for a := range remaining {
				cycle = append(cycle, a)
			}
			sort.Strings(cycle)
			plan.Conflicts = append(plan.Conflicts,
				fmt.Sprintf("dependency cycle among: %v", cycle))
			plan.Groups = append(plan.Groups, cycle)
			break
		}

		sort.Strings(group)
		plan.Groups = append(plan.Groups, group)
		for _, a := range group {
			delete(remaining, a)
		}
	}

	plan.Recommendations = c.recommendationsLocked(agents)
	return plan
}

// recommendationsLocked derives advisory notes from performance history and
// the contexts' recommended strategies. Caller holds at least the read lock.
func (c *Coordinator) recommendationsLocked(agents []string) []string {
	var recs []string

	sorted := make([]string, len(agents))
	copy(sorted, agents)
	sort.Strings(sorted)

	for _, a := range sorted {
		if p, ok := c.perf[a]; ok && p.runs >= 3 && p.successRate() < 0.5 {
			recs = append(recs, fmt.Sprintf("%s success rate %.2f over %d runs; consider deprioritizing", a, p.successRate(), p.runs))
		}
	}

	// Strategy consensus across contexts.
	counts := make(map[council.Strategy]int)
	for _, a := range sorted {
		if ctx, ok := c.contexts[a]; ok && ctx.RecommendedStrategy.Valid() {
			counts[ctx.RecommendedStrategy]++
		}
	}
	for _, s := range []council.Strategy{council.StrategyPanic, council.StrategyDebug, council.StrategyResearch, council.StrategyExecute, council.StrategyHype} {
		if counts[s] > len(agents)/2 {
			recs = append(recs, fmt.Sprintf("majority of agents recommend %s", s))
			break
		}
	}
	return recs
}

// RecordAgentPerformance feeds a completed run back into the adaptive
// priority signal.
func (c *Coordinator) RecordAgentPerformance(agent string, success bool, durationMs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.perf[agent]
	if !ok {
		p = &perfRecord{}
		c.perf[agent] = p
	}
	p.runs++
	if success {
		p.successes++
	}
	// Running mean keeps the record compact; exact history is not needed.
	p.avgMs += (durationMs - p.avgMs) / float64(p.runs)
}

// AdjustedPriority scales a base priority by the agent's historical success
// rate: a perfect record yields 1.5x, a failing one approaches 0.5x. Agents
// with no history pass through at 1.5x of base (benefit of the doubt).
func (c *Coordinator) AdjustedPriority(agent string, base float64) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.perf[agent]
	if !ok {
		return base * 1.5
	}
	return base * (0.5 + p.successRate())
}
