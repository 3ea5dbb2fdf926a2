package coordination

import (
	"sort"
	"strings"
	"time"

	"github.com/mfalcier/conclave/internal/council"
)

// TaskType classifies a turn's intent.
type TaskType string

const (
	TaskRefactor     TaskType = "refactor"
	TaskFeature      TaskType = "feature"
	TaskBugFix       TaskType = "bug-fix"
	TaskArchitecture TaskType = "architecture"
	TaskTesting      TaskType = "testing"
	TaskDocs         TaskType = "docs"
	TaskDependency   TaskType = "dependency-management"
	TaskPerformance  TaskType = "performance"
	TaskSecurity     TaskType = "security"
	TaskUnknown      TaskType = "unknown"
)

// Complexity is the heuristic effort tier of a task.
type Complexity string

const (
	ComplexityLow    Complexity = "LOW"
	ComplexityMedium Complexity = "MEDIUM"
	ComplexityHigh   Complexity = "HIGH"
)

// TaskProfile is the classification of one turn's intent.
type TaskProfile struct {
	Type                TaskType
	Confidence          float64 // normalized share of keyword hits, 0-1
	Complexity          Complexity
	EstimatedDuration   time.Duration
	RecommendedStrategy council.Strategy
}

// taskKeywords scores the classification. Substring matching is deliberate:
// "profiling" hits "profil", "fixed" hits "fix".
var taskKeywords = map[TaskType][]string{
	TaskRefactor:     {"refactor", "restructure", "clean up", "cleanup", "simplify", "extract", "rename"},
	TaskFeature:      {"add ", "implement", "create", "new feature", "build ", "support for"},
	TaskBugFix:       {"fix", "bug", "broken", "crash", "regression", "fails", "failing", "wrong output"},
	TaskArchitecture: {"architecture", "redesign", "structure", "layering", "module boundary", "decouple"},
	TaskTesting:      {"test", "coverage", "assert", "flaky", "integration suite"},
	TaskDocs:         {"document", "docs", "readme", "comment", "changelog"},
	TaskDependency:   {"dependency", "dependencies", "upgrade", "bump", "go.mod", "vendored", "version pin"},
	TaskPerformance:  {"performance", "slow", "optimize", "latency", "memory", "profil", "allocation"},
	TaskSecurity:     {"security", "vulnerab", "cve", "sanitize", "injection", "credential", "auth"},
}

var complexityKeywords = []string{"entire", "every", "across", "migrate", "rewrite", "overhaul", "major", "end-to-end"}
var simplicityKeywords = []string{"typo", "small", "minor", "quick", "simple", "one-line", "trivial"}

// taskTraits maps a task type to its recommended strategy and baseline
// duration estimate at MEDIUM complexity.
var taskTraits = map[TaskType]struct {
	strategy council.Strategy
	base     time.Duration
}{
	TaskRefactor:     {council.StrategyExecute, 8 * time.Minute},
	TaskFeature:      {council.StrategyExecute, 10 * time.Minute},
	TaskBugFix:       {council.StrategyDebug, 6 * time.Minute},
	TaskArchitecture: {council.StrategyResearch, 12 * time.Minute},
	TaskTesting:      {council.StrategyExecute, 5 * time.Minute},
	TaskDocs:         {council.StrategyExecute, 3 * time.Minute},
	TaskDependency:   {council.StrategyExecute, 4 * time.Minute},
	TaskPerformance:  {council.StrategyDebug, 9 * time.Minute},
	TaskSecurity:     {council.StrategyDebug, 9 * time.Minute},
	TaskUnknown:      {council.StrategyResearch, 5 * time.Minute},
}

// classifyOrder fixes the tie-break between task types with equal scores.
var classifyOrder = []TaskType{
	TaskSecurity, TaskBugFix, TaskPerformance, TaskArchitecture,
	TaskRefactor, TaskTesting, TaskDependency, TaskDocs, TaskFeature,
}

// ClassifyTask scores the latest user message and the active objective
// against the keyword tables and returns the winning task profile. No hits
// at all yields TaskUnknown with zero confidence.
func ClassifyTask(userMessage, objective string) TaskProfile {
	text := strings.ToLower(userMessage + " " + objective)

	scores := make(map[TaskType]int)
	total := 0
	for taskType, words := range taskKeywords {
		for _, w := range words {
			if strings.Contains(text, w) {
				scores[taskType]++
				total++
			}
		}
	}

	winner := TaskUnknown
	best := 0
	for _, taskType := range classifyOrder {
		if scores[taskType] > best {
			best = scores[taskType]
			winner = taskType
		}
	}

	confidence := 0.0
	if total > 0 && winner != TaskUnknown {
		confidence = float64(best) / float64(total)
	}

	complexity := classifyComplexity(text)
	traits := taskTraits[winner]

	return TaskProfile{
		Type:                winner,
		Confidence:          confidence,
		Complexity:          complexity,
		EstimatedDuration:   scaleDuration(traits.base, complexity),
		RecommendedStrategy: traits.strategy,
	}
}

func classifyComplexity(text string) Complexity {
	net := 0
	for _, w := range complexityKeywords {
		if strings.Contains(text, w) {
			net++
		}
	}
	for _, w := range simplicityKeywords {
		if strings.Contains(text, w) {
			net--
		}
	}
	switch {
	case net >= 2:
		return ComplexityHigh
	case net <= -1:
		return ComplexityLow
	default:
		return ComplexityMedium
	}
}

func scaleDuration(base time.Duration, c Complexity) time.Duration {
	switch c {
	case ComplexityLow:
		return base / 2
	case ComplexityHigh:
		return base * 2
	default:
		return base
	}
}

// agentProfile is an agent's learned task affinity: an expertise score in
// [0, 1] and an average completion time per task type, both maintained as
// exponential moving averages, plus the sticky specialized set.
type agentProfile struct {
	expertise   map[TaskType]float64
	avgDuration map[TaskType]time.Duration
	specialized map[TaskType]bool
}

// profileLocked returns the agent's profile, creating it if needed. Caller
// holds the write lock.
func (c *Coordinator) profileLocked(agent string) *agentProfile {
	p, ok := c.profiles[agent]
	if !ok {
		p = &agentProfile{
			expertise:   make(map[TaskType]float64),
			avgDuration: make(map[TaskType]time.Duration),
			specialized: make(map[TaskType]bool),
		}
		c.profiles[agent] = p
	}
	return p
}

// ApplySpecialization scales each context's priority by the agent's fit for
// the classified task: an expertise bonus for profiled specialists, a
// success-rate factor from history, and a complexity penalty for
// non-experts on HIGH-complexity work.
func (c *Coordinator) ApplySpecialization(contexts []AgentContext, profile TaskProfile) []AgentContext {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]AgentContext, len(contexts))
	for i, ctx := range contexts {
		bonus := 1.0
		expert := false
		if p, ok := c.profiles[ctx.Agent]; ok {
			if p.specialized[profile.Type] {
				expert = true
				bonus *= c.cfg.ExpertiseBonus
			}
			if score, ok := p.expertise[profile.Type]; ok {
				bonus *= 0.5 + score
			}
		}
		if profile.Complexity == ComplexityHigh && !expert {
			bonus *= c.cfg.ComplexityPenalty
		}
		ctx.Priority *= bonus
		out[i] = ctx
	}
	return out
}

// RecordTaskCompletion folds one completed run into the acting agent's
// profile: the expertise score and the average duration for the task type
// both move by exponential moving average, and a success that lifts the
// score past the promotion threshold promotes the type into the agent's
// specialized set. Demotion never happens; specialization is sticky.
func (c *Coordinator) RecordTaskCompletion(agent string, taskType TaskType, success bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.profileLocked(agent)

	sample := 0.0
	if success {
		sample = 1.0
	}
	old, seen := p.expertise[taskType]
	if !seen {
		// A cold profile starts at neutral so one lucky sample cannot
		// promote on its own.
		old = 0.5
	}
	score := c.cfg.EMAWeight*sample + (1-c.cfg.EMAWeight)*old
	p.expertise[taskType] = score

	if prev, seen := p.avgDuration[taskType]; seen {
		p.avgDuration[taskType] = time.Duration(
			c.cfg.EMAWeight*float64(duration) + (1-c.cfg.EMAWeight)*float64(prev))
	} else {
		p.avgDuration[taskType] = duration
	}

	if success && score >= c.cfg.PromotionThreshold && !p.specialized[taskType] {
		p.specialized[taskType] = true
		c.log.Info("agent promoted to specialist",
			"agent", agent, "task_type", string(taskType), "score", score)
	}
}

// TaskStats reports an agent's learned expertise score and average
// completion time for a task type. ok is false before the first recorded
// completion.
func (c *Coordinator) TaskStats(agent string, taskType TaskType) (expertise float64, avg time.Duration, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, found := c.profiles[agent]
	if !found {
		return 0, 0, false
	}
	expertise, ok = p.expertise[taskType]
	if !ok {
		return 0, 0, false
	}
	return expertise, p.avgDuration[taskType], true
}

// SpecializationSummary returns each agent's specialized task types, sorted,
// for blackboard publication and status display.
func (c *Coordinator) SpecializationSummary() map[string][]TaskType {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string][]TaskType, len(c.profiles))
	for agent, p := range c.profiles {
		var types []TaskType
		for t := range p.specialized {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
		if len(types) > 0 {
			out[agent] = types
		}
	}
	return out
}
