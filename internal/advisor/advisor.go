// Package advisor implements the council's advisory agents: the strategist,
// the auditor, the quality and readiness reviewers, and the founder. Each
// agent reads a council snapshot plus the conversation and proposes at most
// one vote; the Panel convenes them, contains their failures, and registers
// whatever they propose. No agent ever mutates council state directly except
// through votes, mood, and the blackboard.
package advisor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mfalcier/conclave/internal/council"
	"github.com/mfalcier/conclave/internal/errors"
	"github.com/mfalcier/conclave/internal/logging"
	"github.com/mfalcier/conclave/internal/provider"
)

// Agent names as they appear in the vote log.
const (
	StrategistAgent = "strategist"
	AuditorAgent    = "auditor"
	QualityAgent    = "quality-reviewer"
	ReadinessAgent  = "readiness-reviewer"
)

// Agent proposes at most one strategy vote per turn. A nil vote with a nil
// error is an abstention.
type Agent interface {
	Name() string
	Advise(ctx context.Context, snap council.Snapshot, msgs []provider.Message) (*council.Vote, error)
}

// Blackboard is the council side-channel agents read and write.
// *council.Council satisfies it.
type Blackboard interface {
	Read(key string) (string, bool)
	Write(key, value string)
}

// Voter accepts votes and mood updates. *council.Council satisfies it.
type Voter interface {
	RegisterVote(agent string, strategy council.Strategy, reason string, confidence float64)
	SetMood(m council.Mood)
}

// Panel convenes the advisory agents against a snapshot and registers their
// votes. Agent failures are contained: logged, counted, never propagated.
type Panel struct {
	voter  Voter
	agents []Agent
	log    *logging.Logger
}

// NewPanel creates a Panel over the given agents.
func NewPanel(voter Voter, log *logging.Logger, agents ...Agent) *Panel {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Panel{voter: voter, agents: agents, log: log}
}

// AgentRun is one agent's convene outcome: whether it voted, its contained
// error if it failed, and how long it advised for.
type AgentRun struct {
	Agent    string
	Voted    bool
	Err      error
	Duration time.Duration
}

// AgentNames returns the panel's agent names in convene order.
func (p *Panel) AgentNames() []string {
	names := make([]string, len(p.agents))
	for i, a := range p.agents {
		names[i] = a.Name()
	}
	return names
}

// Convene runs every agent in order and registers each proposed vote.
// It returns the number of votes registered.
func (p *Panel) Convene(ctx context.Context, snap council.Snapshot, msgs []provider.Message) int {
	registered := 0
	for _, a := range p.agents {
		if ctx.Err() != nil {
			return registered
		}
		if p.runAgent(ctx, a, snap, msgs).Voted {
			registered++
		}
	}
	return registered
}

// ConveneGroups runs the agents by scheduled groups: members of one group
// advise concurrently, groups run in sequence. A scheduled name with no
// matching panel agent is logged and skipped. The returned runs feed the
// coordinator's performance and specialization history.
func (p *Panel) ConveneGroups(ctx context.Context, snap council.Snapshot, msgs []provider.Message, groups [][]string) []AgentRun {
	byName := make(map[string]Agent, len(p.agents))
	for _, a := range p.agents {
		byName[a.Name()] = a
	}

	var mu sync.Mutex
	var runs []AgentRun
	for _, group := range groups {
		if ctx.Err() != nil {
			return runs
		}
		var wg sync.WaitGroup
		for _, name := range group {
			a, ok := byName[name]
			if !ok {
				p.log.Warn("scheduled agent not on the panel", "agent", name)
				continue
			}
			wg.Add(1)
			go func(a Agent) {
				defer wg.Done()
				run := p.runAgent(ctx, a, snap, msgs)
				mu.Lock()
				runs = append(runs, run)
				mu.Unlock()
			}(a)
		}
		wg.Wait()
	}
	return runs
}

// runAgent advises one agent and registers its vote. Failures are contained
// here: logged, carried on the run, never propagated.
func (p *Panel) runAgent(ctx context.Context, a Agent, snap council.Snapshot, msgs []provider.Message) AgentRun {
	run := AgentRun{Agent: a.Name()}
	start := time.Now()
	vote, err := a.Advise(ctx, snap, msgs)
	run.Duration = time.Since(start)
	if err != nil {
		aerr := errors.NewAgentError("advise failed", err).WithAgent(a.Name())
		p.log.Warn("advisory agent failed", "agent", a.Name(), "error", aerr.Error())
		run.Err = aerr
		return run
	}
	if vote == nil {
		return run
	}
	p.voter.RegisterVote(a.Name(), vote.Strategy, vote.Reason, vote.Confidence)
	run.Voted = true
	return run
}

// critiquer is implemented by agents that can review recent messages in the
// background.
type critiquer interface {
	Critique(ctx context.Context, msgs []provider.Message) error
}

// StartCritiques launches a background critique for every agent that offers
// one. Critiques never block the turn; their votes land on the council
// whenever they finish, and failures are only logged.
func (p *Panel) StartCritiques(ctx context.Context, msgs []provider.Message) {
	for _, a := range p.agents {
		c, ok := a.(critiquer)
		if !ok {
			continue
		}
		go func(name string, c critiquer) {
			if err := c.Critique(ctx, msgs); err != nil {
				p.log.Warn("critique failed", "agent", name, "error", err.Error())
			}
		}(a.Name(), c)
	}
}

// Strategist is the default-forward agent: EXECUTE unless the turn saw tool
// failures, and the first consumer of any pending veto note.
type Strategist struct {
	board Blackboard
}

// NewStrategist creates the strategist over the council blackboard.
func NewStrategist(board Blackboard) *Strategist {
	return &Strategist{board: board}
}

// Name returns the agent's vote-log name.
func (s *Strategist) Name() string { return StrategistAgent }

// Advise acknowledges a pending veto (consuming the note), votes DEBUG when
// the turn recorded failures, and otherwise holds EXECUTE.
func (s *Strategist) Advise(_ context.Context, snap council.Snapshot, _ []provider.Message) (*council.Vote, error) {
	if reason, ok := s.board.Read(council.KeyVetoReason); ok {
		s.board.Write(council.KeyVetoReason, "")
		return &council.Vote{
			Strategy:   council.StrategyDebug,
			Reason:     "acknowledging veto: " + reason,
			Confidence: 1.6,
		}, nil
	}
	if snap.ToolFailures > 0 {
		return &council.Vote{
			Strategy:   council.StrategyDebug,
			Reason:     "tool failures this turn",
			Confidence: 1.4,
		}, nil
	}
	return &council.Vote{
		Strategy:   council.StrategyExecute,
		Reason:     "plan holds",
		Confidence: 1.0,
	}, nil
}

// Auditor votes from flow-state and streak signals, and can run an
// asynchronous critique pass over recent messages that raises a DEBUG vote
// and marks the council mood DOUBT.
type Auditor struct {
	completer  provider.Completer
	voter      Voter
	lowFlow    float64
	longStreak int
}

// NewAuditor creates the auditor. The completer may be nil, in which case
// Critique is a no-op.
func NewAuditor(completer provider.Completer, voter Voter) *Auditor {
	return &Auditor{
		completer:  completer,
		voter:      voter,
		lowFlow:    40,
		longStreak: 5,
	}
}

// Name returns the agent's vote-log name.
func (a *Auditor) Name() string { return AuditorAgent }

// Advise votes DEBUG on low flow-state, EXECUTE on a long success streak,
// and abstains in between.
func (a *Auditor) Advise(_ context.Context, snap council.Snapshot, _ []provider.Message) (*council.Vote, error) {
	if snap.FlowState < a.lowFlow {
		return &council.Vote{
			Strategy:   council.StrategyDebug,
			Reason:     "flow-state is low",
			Confidence: 1.3,
		}, nil
	}
	if snap.SuccessStreak >= a.longStreak {
		return &council.Vote{
			Strategy:   council.StrategyExecute,
			Reason:     "sustained success streak",
			Confidence: 1.2,
		}, nil
	}
	return nil, nil
}

// critiqueMarkers are the concern phrases that turn a critique pass into a
// DEBUG vote.
var critiqueMarkers = []string{"CONCERN", "REGRESSION", "INCONSISTEN", "WRONG", "BROKEN"}

// Critique runs an asynchronous review pass over recent messages. A flagged
// concern registers a DEBUG vote and sets mood DOUBT. Errors are returned
// for the caller to log; the critique never blocks a turn.
func (a *Auditor) Critique(ctx context.Context, msgs []provider.Message) error {
	if a.completer == nil {
		return nil
	}
	out, err := a.completer.Complete(ctx, critiquePrompt(msgs))
	if err != nil {
		return errors.NewAgentError("critique failed", err).WithAgent(a.Name())
	}
	upper := strings.ToUpper(out)
	for _, marker := range critiqueMarkers {
		if strings.Contains(upper, marker) {
			a.voter.RegisterVote(a.Name(), council.StrategyDebug, "critique flagged: "+firstLine(out), 1.5)
			a.voter.SetMood(council.MoodDoubt)
			return nil
		}
	}
	return nil
}

func critiquePrompt(msgs []provider.Message) string {
	var b strings.Builder
	b.WriteString("Review the recent exchange for regressions, inconsistencies, or concerns. ")
	b.WriteString("Answer OK if none, otherwise state the concern.\n\n")
	for _, m := range tailMessages(msgs, 6) {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// tailMessages returns the last n messages.
func tailMessages(msgs []provider.Message, n int) []provider.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// firstLine returns the first non-empty line of s, trimmed.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return strings.TrimSpace(s)
}
