// Package turn drives one reasoning turn to completion: it opens a model
// stream, assembles and dispatches tool calls under per-target locks and
// resource budgets, convenes the advisory council, and decides whether to
// recurse into another pass. The orchestrator is non-reentrant; a second
// concurrent RunTurn waits on the active-turn handle until the first turn
// finalizes or the guard's watchdog force-releases it.
package turn

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/mfalcier/conclave/internal/advisor"
	"github.com/mfalcier/conclave/internal/config"
	"github.com/mfalcier/conclave/internal/coordination"
	"github.com/mfalcier/conclave/internal/council"
	"github.com/mfalcier/conclave/internal/errors"
	"github.com/mfalcier/conclave/internal/event"
	"github.com/mfalcier/conclave/internal/logging"
	"github.com/mfalcier/conclave/internal/provider"
	"github.com/mfalcier/conclave/internal/reslock"
	"github.com/mfalcier/conclave/internal/stability"
	"github.com/mfalcier/conclave/internal/swarm"
	"github.com/mfalcier/conclave/internal/tool"
)

// Request is one turn's input.
type Request struct {
	Messages  []provider.Message
	Objective string
}

// Result is the finalized turn.
type Result struct {
	Text      string
	Messages  []provider.Message
	Depth     int
	ToolCalls int
	Truncated bool
	Strategy  council.Strategy
	Usage     provider.Usage
}

// AuditFunc is the post-turn audit collaborator. A true rejection triggers
// one more recursive pass with the reason fed back as context.
type AuditFunc func(ctx context.Context, msgs []provider.Message) (rejected bool, reason string)

// ProposedCall is a proactively planned tool call injected ahead of the
// model stream.
type ProposedCall struct {
	Name string
	Args []byte
}

// ProactiveFunc plans tool calls before the stream opens. It races a
// bounded timeout; a slow planner never blocks the turn.
type ProactiveFunc func(ctx context.Context) []ProposedCall

// RepairFunc attempts to fix a failed tool call's arguments. Returning true
// retries the call once with the corrected arguments; returning false lets
// the failure stand.
type RepairFunc func(ctx context.Context, toolName string, args json.RawMessage, errText string) (json.RawMessage, bool)

// Orchestrator owns the turn state machine and every collaborator a pass
// touches.
type Orchestrator struct {
	cfg      *config.Config
	bus      *event.Bus
	log      *logging.Logger
	client   provider.Client
	registry tool.Registry

	council   *council.Council
	panel     *advisor.Panel
	coord     *coordination.Coordinator
	scheduler *swarm.Scheduler
	streams   *swarm.Manager
	arbiter   *swarm.Arbiter
	locks     *reslock.Manager
	pressure  *stability.Controller
	guard     *stability.TurnGuard

	approval  tool.ApprovalFunc
	audit     AuditFunc
	proactive ProactiveFunc
	repair    RepairFunc

	mu       sync.Mutex
	disposed bool
	cancels  map[int]context.CancelFunc
	cancelID int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithPanel sets the advisory panel convened after each pass.
func WithPanel(p *advisor.Panel) Option {
	return func(o *Orchestrator) { o.panel = p }
}

// WithCoordinator sets the agent coordination scheduler.
func WithCoordinator(c *coordination.Coordinator) Option {
	return func(o *Orchestrator) { o.coord = c }
}

// WithSwarm wires the isolated-stream scheduler, manager, and arbiter.
func WithSwarm(s *swarm.Scheduler, m *swarm.Manager, a *swarm.Arbiter) Option {
	return func(o *Orchestrator) {
		o.scheduler = s
		o.streams = m
		o.arbiter = a
	}
}

// WithPressure sets the stability controller consulted before dispatch.
func WithPressure(p *stability.Controller) Option {
	return func(o *Orchestrator) { o.pressure = p }
}

// WithApproval sets the approval collaborator for non-auto-approved tools.
func WithApproval(fn tool.ApprovalFunc) Option {
	return func(o *Orchestrator) { o.approval = fn }
}

// WithAudit sets the post-turn audit collaborator.
func WithAudit(fn AuditFunc) Option {
	return func(o *Orchestrator) { o.audit = fn }
}

// WithProactive sets the proactive tool planner.
func WithProactive(fn ProactiveFunc) Option {
	return func(o *Orchestrator) { o.proactive = fn }
}

// WithRepair sets the argument-repair collaborator consulted once per
// failed tool call before the failure is recorded.
func WithRepair(fn RepairFunc) Option {
	return func(o *Orchestrator) { o.repair = fn }
}

// New creates an Orchestrator over the given provider client and tool
// registry. The council, lock manager, and turn guard are owned by the
// orchestrator; everything else is optional wiring.
func New(cfg *config.Config, bus *event.Bus, client provider.Client, registry tool.Registry, cncl *council.Council, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		bus:      bus,
		log:      logging.NopLogger(),
		client:   client,
		registry: registry,
		council:  cncl,
		locks:    reslock.NewManager(),
		guard:    stability.NewTurnGuard(cfg.Turn.WatchdogTimeout(), bus),
		cancels:  make(map[int]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// lowOutputBytes is the text length below which a tool-less pass with an
// open objective is considered evasive and recursed with a corrective
// directive.
const lowOutputBytes = 120

// correctiveDirective is injected when a file-action request produced only
// prose.
const correctiveDirective = "The request requires acting on files. Use the available tools to make the changes instead of describing them."

// planningDirective is injected on a PANIC short-circuit.
const planningDirective = "Stop. The current approach is aborted. Re-plan from the beginning before taking any further action."

// RunTurn executes one logical turn, recursing internally until the
// recursion policy finalizes or a fatal error aborts. The returned Result
// always reflects the last successfully finalized state, even alongside a
// non-nil error.
func (o *Orchestrator) RunTurn(ctx context.Context, req Request) (*Result, error) {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return nil, errors.NewTurnError("run after dispose", errors.ErrOrchestratorDisposed)
	}
	o.mu.Unlock()

	if err := o.guard.Acquire(ctx); err != nil {
		return nil, errors.NewTurnError("gave up waiting for the active turn", errors.ErrTurnCollision)
	}
	defer o.guard.Release()

	ctx, cancel := context.WithCancel(ctx)
	id := o.registerCancel(cancel)
	defer o.unregisterCancel(id)

	msgs := make([]provider.Message, len(req.Messages))
	copy(msgs, req.Messages)

	// The founder's momentum signal reads the latest directive from the
	// blackboard; record it before any pass runs.
	if last := lastUserMessage(msgs); last != "" {
		o.council.Write(council.KeyLastDirective, last)
	}

	result := &Result{Strategy: o.council.Strategy()}
	depth := 1
	errorRun := 0
	forcedPlanning := false
	directive := ""
	audited := false

	for {
		if depth > o.cfg.Turn.MaxDepth {
			err := errors.NewTurnError("recursion limit", errors.ErrMaxDepthExceeded).WithDepth(depth)
			o.log.Error("turn aborted at depth limit", "depth", depth)
			return result, err
		}

		o.council.ClearTurnState()
		o.council.DecayFlowIfStale()
		if o.coord != nil {
			o.coord.ResetTurn()
		}

		if o.bus != nil {
			o.bus.Publish(event.NewTurnStartedEvent(depth, errorRun, len(msgs), req.Objective))
		}

		if directive != "" {
			msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: directive})
			directive = ""
		}
		if forcedPlanning {
			msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: planningDirective})
			forcedPlanning = false
		}

		out, err := o.executePass(ctx, depth, req.Objective, msgs)
		if err != nil {
			return result, err
		}

		msgs = out.appendTo(msgs)
		if out.text != "" {
			result.Text = out.text
		}
		result.Messages = msgs
		result.Depth = depth
		result.ToolCalls += len(out.results)
		result.Truncated = result.Truncated || out.truncated
		result.Usage.InputTokens += out.usage.InputTokens
		result.Usage.OutputTokens += out.usage.OutputTokens

		o.convene(ctx, req, msgs)
		o.mergeStreams()
		result.Strategy = o.council.Strategy()

		next, nextErrorRun, nextForced, nextDirective := o.decide(ctx, out, errorRun, req, &audited, msgs)
		if !next {
			o.finalize(ctx, result)
			return result, nil
		}

		if o.bus != nil {
			reason := "tool activity"
			if nextForced {
				reason = "panic short-circuit"
			} else if nextDirective != "" {
				reason = "corrective directive"
			}
			o.bus.Publish(event.NewTurnRecursedEvent(depth+1, reason))
		}

		depth++
		errorRun = nextErrorRun
		forcedPlanning = nextForced
		directive = nextDirective
	}
}

// decide applies the recursion policy to a finished pass. It returns
// whether to recurse and the carried state for the next pass.
func (o *Orchestrator) decide(ctx context.Context, out passOutcome, errorRun int, req Request, audited *bool, msgs []provider.Message) (recurse bool, nextErrorRun int, forced bool, directive string) {
	strategy := o.council.Strategy()

	if len(out.results) > 0 {
		// The error counter resets unless every tool call this pass failed.
		if out.allFailed() {
			errorRun++
		} else {
			errorRun = 0
		}

		if strategy == council.StrategyPanic {
			o.council.ActivatePanicCooldown(0)
			return true, 0, true, ""
		}
		if out.halted {
			o.log.Warn("turn stopped by tool halt")
			return false, errorRun, false, ""
		}
		if errorRun >= o.cfg.Turn.MaxErrorRun {
			o.log.Warn("corrective recursion exhausted", "error_run", errorRun)
			return false, errorRun, false, ""
		}
		return true, errorRun, false, ""
	}

	// No tool ran.
	if errorRun < o.cfg.Turn.MaxErrorRun {
		if req.Objective != "" && len(out.text) < lowOutputBytes {
			return true, errorRun + 1, false, correctiveDirective
		}
		if wantsFileAction(req.Messages) {
			return true, errorRun + 1, false, correctiveDirective
		}
	}

	if o.cfg.Turn.AuditEnabled && o.audit != nil && !*audited {
		*audited = true
		snap := o.council.Snapshot()
		forward := strategy == council.StrategyExecute || strategy == council.StrategyHype
		if snap.OverrideActive && forward {
			o.log.Debug("audit pass skipped under founder conviction")
		} else if rejected, reason := o.audit(ctx, msgs); rejected {
			return true, errorRun, false, "A review pass rejected this result: " + reason + " Address the rejection."
		}
	}

	return false, errorRun, false, ""
}

// convene runs the advisory panel; failures are contained inside the panel.
// With a coordinator wired, the pass is classified, the agents are scheduled
// into parallel groups, and every run feeds the coordinator's performance
// and specialization history. Background critiques launch alongside.
func (o *Orchestrator) convene(ctx context.Context, req Request, msgs []provider.Message) {
	if o.panel == nil {
		return
	}
	snap := o.council.Snapshot()
	defer o.panel.StartCritiques(ctx, msgs)

	if o.coord == nil {
		o.panel.Convene(ctx, snap, msgs)
		return
	}

	profile := coordination.ClassifyTask(lastUserMessage(msgs), req.Objective)
	names := o.panel.AgentNames()

	contexts := make([]coordination.AgentContext, 0, len(names))
	for _, name := range names {
		ac := coordination.AgentContext{
			Agent:               name,
			Priority:            o.coord.AdjustedPriority(name, 1.0),
			RecommendedStrategy: profile.RecommendedStrategy,
		}
		if name == council.FounderAgent {
			// The founder rules last, after every other voice is in.
			for _, other := range names {
				if other != name {
					ac.Dependencies = append(ac.Dependencies, other)
				}
			}
		}
		contexts = append(contexts, ac)
	}
	contexts = o.coord.ApplySpecialization(contexts, profile)
	for _, ac := range contexts {
		o.coord.RegisterAgentContext(ac.Agent, ac)
	}

	plan := o.coord.CalculateExecutionOrder(names)
	for _, conflict := range plan.Conflicts {
		o.log.Warn("agent scheduling conflict", "conflict", conflict)
	}
	for _, rec := range plan.Recommendations {
		o.log.Debug("agent scheduling note", "note", rec)
	}

	for _, run := range o.panel.ConveneGroups(ctx, snap, msgs, plan.Groups) {
		o.coord.RecordAgentPerformance(run.Agent, run.Err == nil, float64(run.Duration.Milliseconds()))
		o.coord.RecordTaskCompletion(run.Agent, profile.Type, run.Err == nil, run.Duration)
	}

	if summary := o.coord.SpecializationSummary(); len(summary) > 0 {
		o.council.Write(council.KeySpecialization, formatSpecialization(summary))
	}
}

// mergeStreams evaluates whatever envelopes the isolated streams have
// staged so far and bridges reviewer verdicts into votes. Late envelopes
// are picked up by the next pass or the finalization merge.
func (o *Orchestrator) mergeStreams() {
	if o.arbiter == nil {
		return
	}
	verdicts := o.arbiter.Evaluate()
	o.arbiter.BridgeVotes(o.council, verdicts)
}

// finalize closes out the turn: a last merge, persistence, completion event.
func (o *Orchestrator) finalize(ctx context.Context, result *Result) {
	o.mergeStreams()
	o.council.PersistAsync(ctx)
	if o.bus != nil {
		o.bus.Publish(event.NewTurnCompletedEvent(result.Depth, result.ToolCalls, len(result.Text), result.Truncated))
	}
}

// Dispose cancels all in-flight work and rejects future turns.
func (o *Orchestrator) Dispose() {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return
	}
	o.disposed = true
	cancels := make([]context.CancelFunc, 0, len(o.cancels))
	for _, c := range o.cancels {
		cancels = append(cancels, c)
	}
	o.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	o.locks.Close()
	o.log.Info("orchestrator disposed")
}

// Locks exposes the lock manager for status display.
func (o *Orchestrator) Locks() *reslock.Manager { return o.locks }

func (o *Orchestrator) registerCancel(c context.CancelFunc) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelID++
	o.cancels[o.cancelID] = c
	return o.cancelID
}

func (o *Orchestrator) unregisterCancel(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cancels, id)
}

// lastUserMessage returns the most recent user message's content.
func lastUserMessage(msgs []provider.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == provider.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// formatSpecialization flattens the specialization summary for the
// blackboard: "agent:type1,type2;agent2:type3", agents sorted.
func formatSpecialization(summary map[string][]coordination.TaskType) string {
	agents := make([]string, 0, len(summary))
	for a := range summary {
		agents = append(agents, a)
	}
	sort.Strings(agents)

	var b strings.Builder
	for i, a := range agents {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(a)
		b.WriteByte(':')
		for j, t := range summary[a] {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(string(t))
		}
	}
	return b.String()
}

// fileActionVerbs mark a user request as asking for file changes.
var fileActionVerbs = []string{"write ", "edit ", "create ", "modify ", "rename ", "delete ", "refactor ", "implement "}

// wantsFileAction reports whether the latest user message asks for file
// changes, meaning a prose-only answer is evasive.
func wantsFileAction(msgs []provider.Message) bool {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != provider.RoleUser {
			continue
		}
		lower := strings.ToLower(msgs[i].Content)
		for _, verb := range fileActionVerbs {
			if strings.Contains(lower, verb) {
				return true
			}
		}
		return false
	}
	return false
}
