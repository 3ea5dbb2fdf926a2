// Package approval holds tool calls that need a human decision. The gate
// sits between the orchestrator and the tool registry as an ApprovalFunc:
// policy-listed tools resolve immediately, everything else parks in a
// pending set until Approve or Reject releases it. The dispatching
// goroutine blocks on its own call only; the turn's other calls proceed.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/mfalcier/conclave/internal/errors"
	"github.com/mfalcier/conclave/internal/tool"
)

// Sentinel errors returned by gate operations.
var (
	// ErrNotPending is returned when resolving a call the gate is not
	// holding.
	ErrNotPending = errors.New("call is not awaiting approval")
)

// Mode is the gate's default posture for tools on neither list.
type Mode string

const (
	// ModeAsk parks unlisted tools until a human resolves them.
	ModeAsk Mode = "ask"
	// ModeAllow approves unlisted tools immediately.
	ModeAllow Mode = "allow"
	// ModeDeny rejects unlisted tools immediately.
	ModeDeny Mode = "deny"
)

// Policy lists the tools that bypass the human decision.
type Policy struct {
	// Allow tools are approved without asking.
	Allow []string
	// Deny tools are rejected without asking.
	Deny []string
	// Default applies to tools on neither list.
	Default Mode
}

// PendingCall describes one held call.
type PendingCall struct {
	ID    string
	Tool  string
	Input json.RawMessage
}

// Gate implements the approval collaborator. All methods are safe for
// concurrent use.
type Gate struct {
	mu      sync.Mutex
	policy  Policy
	seq     int
	pending map[string]*heldCall
}

type heldCall struct {
	call    PendingCall
	decided chan bool // closed-over decision; buffered so resolvers never block
}

// NewGate creates a Gate with the given policy. An empty Default means
// ModeAsk.
func NewGate(policy Policy) *Gate {
	if policy.Default == "" {
		policy.Default = ModeAsk
	}
	return &Gate{
		policy:  policy,
		pending: make(map[string]*heldCall),
	}
}

// Func returns the ApprovalFunc the orchestrator consumes.
func (g *Gate) Func() tool.ApprovalFunc {
	return g.decide
}

// decide resolves one call per policy, parking it when the policy says ask.
// A cancelled context counts as denial.
func (g *Gate) decide(ctx context.Context, name string, input json.RawMessage) (bool, error) {
	if contains(g.policy.Deny, name) {
		return false, nil
	}
	if contains(g.policy.Allow, name) {
		return true, nil
	}

	switch g.policy.Default {
	case ModeAllow:
		return true, nil
	case ModeDeny:
		return false, nil
	}

	g.mu.Lock()
	g.seq++
	id := fmt.Sprintf("approval-%d", g.seq)
	held := &heldCall{
		call:    PendingCall{ID: id, Tool: name, Input: input},
		decided: make(chan bool, 1),
	}
	g.pending[id] = held
	g.mu.Unlock()

	select {
	case granted := <-held.decided:
		return granted, nil
	case <-ctx.Done():
		g.mu.Lock()
		delete(g.pending, id)
		g.mu.Unlock()
		return false, ctx.Err()
	}
}

// Approve releases a held call as granted.
func (g *Gate) Approve(id string) error {
	return g.resolve(id, true)
}

// Reject releases a held call as denied.
func (g *Gate) Reject(id string) error {
	return g.resolve(id, false)
}

func (g *Gate) resolve(id string, granted bool) error {
	g.mu.Lock()
	held, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotPending, id)
	}
	held.decided <- granted
	return nil
}

// Pending returns a snapshot of held calls, sorted by ID.
func (g *Gate) Pending() []PendingCall {
	g.mu.Lock()
	defer g.mu.Unlock()

	calls := make([]PendingCall, 0, len(g.pending))
	for _, held := range g.pending {
		calls = append(calls, held.call)
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].ID < calls[j].ID })
	return calls
}

// IsPending reports whether the given call is currently held.
func (g *Gate) IsPending(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[id]
	return ok
}

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}
