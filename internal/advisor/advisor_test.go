package advisor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mfalcier/conclave/internal/council"
	"github.com/mfalcier/conclave/internal/provider"
)

type stubCompleter struct {
	out string
	err error
}

func (s stubCompleter) Complete(context.Context, string) (string, error) {
	return s.out, s.err
}

type recordingVoter struct {
	mu    sync.Mutex
	votes []council.Vote
	moods []council.Mood
}

func (r *recordingVoter) RegisterVote(agent string, strategy council.Strategy, reason string, confidence float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.votes = append(r.votes, council.Vote{Agent: agent, Strategy: strategy, Reason: reason, Confidence: confidence})
}

func (r *recordingVoter) SetMood(m council.Mood) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moods = append(r.moods, m)
}

func (r *recordingVoter) voteCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.votes)
}

func (r *recordingVoter) snapshot() ([]council.Vote, []council.Mood) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]council.Vote(nil), r.votes...), append([]council.Mood(nil), r.moods...)
}

type memBoard map[string]string

func (b memBoard) Read(key string) (string, bool) {
	v, ok := b[key]
	return v, ok
}

func (b memBoard) Write(key, value string) {
	if value == "" {
		delete(b, key)
		return
	}
	b[key] = value
}

func TestStrategistConsumesVeto(t *testing.T) {
	board := memBoard{council.KeyVetoReason: "regression in parser"}
	s := NewStrategist(board)

	vote, err := s.Advise(t.Context(), council.Snapshot{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if vote.Strategy != council.StrategyDebug {
		t.Errorf("Strategy = %v, want DEBUG on a pending veto", vote.Strategy)
	}
	if !strings.Contains(vote.Reason, "regression in parser") {
		t.Errorf("Reason = %q, want the veto note echoed", vote.Reason)
	}
	if _, ok := board.Read(council.KeyVetoReason); ok {
		t.Error("veto note not consumed")
	}
}

func TestStrategistVotes(t *testing.T) {
	s := NewStrategist(memBoard{})

	vote, _ := s.Advise(t.Context(), council.Snapshot{ToolFailures: 1}, nil)
	if vote.Strategy != council.StrategyDebug {
		t.Errorf("Strategy = %v, want DEBUG with failures this turn", vote.Strategy)
	}

	vote, _ = s.Advise(t.Context(), council.Snapshot{}, nil)
	if vote.Strategy != council.StrategyExecute {
		t.Errorf("Strategy = %v, want EXECUTE by default", vote.Strategy)
	}
}

func TestAuditorAdvise(t *testing.T) {
	a := NewAuditor(nil, &recordingVoter{})

	vote, _ := a.Advise(t.Context(), council.Snapshot{FlowState: 20}, nil)
	if vote == nil || vote.Strategy != council.StrategyDebug {
		t.Errorf("vote = %+v, want DEBUG on low flow-state", vote)
	}

	vote, _ = a.Advise(t.Context(), council.Snapshot{FlowState: 70, SuccessStreak: 6}, nil)
	if vote == nil || vote.Strategy != council.StrategyExecute {
		t.Errorf("vote = %+v, want EXECUTE on a long streak", vote)
	}

	vote, _ = a.Advise(t.Context(), council.Snapshot{FlowState: 70, SuccessStreak: 1}, nil)
	if vote != nil {
		t.Errorf("vote = %+v, want abstention in the neutral band", vote)
	}
}

func TestAuditorCritiqueFlagsConcern(t *testing.T) {
	voter := &recordingVoter{}
	a := NewAuditor(stubCompleter{out: "CONCERN: the refactor dropped error handling"}, voter)

	if err := a.Critique(t.Context(), nil); err != nil {
		t.Fatal(err)
	}
	if len(voter.votes) != 1 || voter.votes[0].Strategy != council.StrategyDebug {
		t.Fatalf("votes = %+v, want one DEBUG vote", voter.votes)
	}
	if len(voter.moods) != 1 || voter.moods[0] != council.MoodDoubt {
		t.Errorf("moods = %v, want DOUBT", voter.moods)
	}
}

func TestAuditorCritiqueCleanResultIsSilent(t *testing.T) {
	voter := &recordingVoter{}
	a := NewAuditor(stubCompleter{out: "OK"}, voter)

	if err := a.Critique(t.Context(), nil); err != nil {
		t.Fatal(err)
	}
	if len(voter.votes) != 0 || len(voter.moods) != 0 {
		t.Errorf("clean critique registered votes=%v moods=%v", voter.votes, voter.moods)
	}
}

func TestPanelContainsAgentFailures(t *testing.T) {
	voter := &recordingVoter{}
	failing := NewQualityReviewer(stubCompleter{err: context.DeadlineExceeded}, memBoard{})
	p := NewPanel(voter, nil, NewStrategist(memBoard{}), failing)

	n := p.Convene(t.Context(), council.Snapshot{ToolCalls: 2}, nil)
	if n != 1 {
		t.Errorf("Convene registered %d votes, want 1: failure contained, strategist still voted", n)
	}
	if len(voter.votes) != 1 || voter.votes[0].Agent != StrategistAgent {
		t.Errorf("votes = %+v", voter.votes)
	}
}

// orderedAgent records its completion order into a shared slice, with an
// optional delay to expose scheduling mistakes.
type orderedAgent struct {
	name  string
	delay time.Duration
	mu    *sync.Mutex
	order *[]string
}

func (a orderedAgent) Name() string { return a.name }

func (a orderedAgent) Advise(context.Context, council.Snapshot, []provider.Message) (*council.Vote, error) {
	time.Sleep(a.delay)
	a.mu.Lock()
	*a.order = append(*a.order, a.name)
	a.mu.Unlock()
	return &council.Vote{Strategy: council.StrategyExecute, Reason: "ok", Confidence: 1}, nil
}

func TestConveneGroupsRunsGroupsInSequence(t *testing.T) {
	var mu sync.Mutex
	var order []string
	voter := &recordingVoter{}
	p := NewPanel(voter, nil,
		orderedAgent{name: "slow", delay: 30 * time.Millisecond, mu: &mu, order: &order},
		orderedAgent{name: "quick", mu: &mu, order: &order},
		orderedAgent{name: "closer", mu: &mu, order: &order},
	)

	runs := p.ConveneGroups(t.Context(), council.Snapshot{}, nil,
		[][]string{{"quick", "slow"}, {"closer"}})

	if len(runs) != 3 {
		t.Fatalf("runs = %d, want 3", len(runs))
	}
	for _, r := range runs {
		if !r.Voted || r.Err != nil {
			t.Errorf("run %+v, want a clean vote", r)
		}
	}
	if last := order[len(order)-1]; last != "closer" {
		t.Errorf("last completion = %q, want the second group to wait for the first", last)
	}
	if voter.voteCount() != 3 {
		t.Errorf("votes = %d, want 3", voter.voteCount())
	}
}

func TestConveneGroupsSkipsUnknownNames(t *testing.T) {
	voter := &recordingVoter{}
	p := NewPanel(voter, nil, NewStrategist(memBoard{}))

	runs := p.ConveneGroups(t.Context(), council.Snapshot{}, nil,
		[][]string{{StrategistAgent, "ghost"}})

	if len(runs) != 1 || runs[0].Agent != StrategistAgent {
		t.Fatalf("runs = %+v, want the strategist only", runs)
	}
}

func TestStartCritiquesVotesInBackground(t *testing.T) {
	voter := &recordingVoter{}
	auditor := NewAuditor(stubCompleter{out: "CONCERN: the merge lost a file"}, voter)
	p := NewPanel(voter, nil, NewStrategist(memBoard{}), auditor)

	p.StartCritiques(t.Context(), nil)

	deadline := time.Now().Add(2 * time.Second)
	for voter.voteCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("critique never registered its vote")
		}
		time.Sleep(5 * time.Millisecond)
	}

	votes, moods := voter.snapshot()
	if votes[0].Strategy != council.StrategyDebug {
		t.Errorf("vote = %+v, want DEBUG from the flagged concern", votes[0])
	}
	if len(moods) != 1 || moods[0] != council.MoodDoubt {
		t.Errorf("moods = %v, want DOUBT", moods)
	}
}
