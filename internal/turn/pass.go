package turn

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/mfalcier/conclave/internal/advisor"
	"github.com/mfalcier/conclave/internal/council"
	"github.com/mfalcier/conclave/internal/errors"
	"github.com/mfalcier/conclave/internal/event"
	"github.com/mfalcier/conclave/internal/provider"
	"github.com/mfalcier/conclave/internal/stability"
	"github.com/mfalcier/conclave/internal/swarm"
	"github.com/mfalcier/conclave/internal/tool"
)

// passOutcome is everything one pass produced.
type passOutcome struct {
	text      string
	truncated bool
	results   []toolResult
	usage     provider.Usage
	halted    bool
}

// allFailed reports whether every tool call in the pass failed. An empty
// pass did not fail.
func (p passOutcome) allFailed() bool {
	if len(p.results) == 0 {
		return false
	}
	for _, r := range p.results {
		if r.outcome == tool.OutcomeSuccess {
			return false
		}
	}
	return true
}

// appendTo extends the conversation with this pass's assistant text and
// tool results, in dispatch order.
func (p passOutcome) appendTo(msgs []provider.Message) []provider.Message {
	if p.text != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleAssistant, Content: p.text})
	}
	for _, r := range p.results {
		msgs = append(msgs, provider.Message{
			Role:       provider.RoleTool,
			Content:    r.text,
			ToolCallID: r.callID,
			Name:       r.name,
		})
	}
	return msgs
}

// callBuffer assembles one tool call from streamed argument deltas.
type callBuffer struct {
	index      int
	id         string
	name       string
	args       []byte
	overflow   bool
	dispatched bool
}

// append grows the argument buffer up to the soft cap. Past the cap the
// buffer is marked overflowed and further deltas are dropped; an overflowed
// call is never dispatched.
func (c *callBuffer) append(delta string, softCap int) {
	if c.overflow {
		return
	}
	if len(c.args)+len(delta) > softCap {
		c.overflow = true
		return
	}
	c.args = append(c.args, delta...)
}

// executePass runs one model stream to completion: text and tool-call
// deltas are buffered under governed caps, complete calls dispatch as soon
// as their arguments close, and the pass drains every lock before
// returning. The returned error is fatal only for provider-open failures
// and context cancellation; everything downstream is contained.
func (o *Orchestrator) executePass(ctx context.Context, depth int, objective string, msgs []provider.Message) (passOutcome, error) {
	var out passOutcome

	d := newDispatcher(o, ctx)

	o.spawnStreams(ctx, objective, msgs)

	// Proactive calls belong to turn start only; a recursive pass already
	// has real tool activity to react to.
	if depth == 1 {
		for i, pc := range o.proactivePlan(ctx) {
			call := pendingCall{
				id:   fmt.Sprintf("proactive-1-%d", i+1),
				name: pc.Name,
				args: string(pc.Args),
			}
			if err := d.dispatch(call); err != nil {
				break
			}
		}
	}

	stream, err := o.client.Stream(ctx, provider.Request{
		Messages: msgs,
		Tools:    o.registry.Schemas(),
	})
	if err != nil {
		d.wait()
		return out, errors.NewTurnError("opening provider stream", err).WithDepth(depth)
	}
	defer stream.Close()

	text := stability.NewBoundedBuffer("turn_text", o.cfg.Turn.TextBufferBytes, o.bus)
	calls := make(map[int]*callBuffer)

recv:
	for {
		ev, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				break
			}
			if ctx.Err() != nil {
				d.wait()
				return out, ctx.Err()
			}
			o.log.Warn("provider stream ended abnormally", "error", err)
			break
		}

		switch e := ev.(type) {
		case provider.TextDelta:
			if !text.Append(e.Text) {
				o.log.Warn("turn text ceiling reached, finalizing early",
					"limit", o.cfg.Turn.TextBufferBytes)
				break recv
			}
			if o.bus != nil {
				o.bus.Publish(event.NewReasoningTextEvent(e.Text))
			}

		case provider.ToolCallDelta:
			cb := calls[e.Index]
			if cb == nil {
				cb = &callBuffer{index: e.Index}
				calls[e.Index] = cb
			}
			if e.ID != "" {
				cb.id = e.ID
			}
			if e.Name != "" {
				cb.name = e.Name
			}
			cb.append(e.ArgumentDelta, o.cfg.Turn.ToolStreamSoftBytes)

			if !cb.dispatched && !cb.overflow && cb.name != "" && tool.Complete(string(cb.args)) {
				cb.dispatched = true
				if err := d.dispatch(o.pendingFrom(cb, depth)); errors.Is(err, errors.ErrGasExhausted) {
					o.log.Warn("tool-call gas spent, terminating stream", "limit", o.cfg.Turn.GasLimit)
					break recv
				}
			}

		case provider.UsageDelta:
			out.usage.InputTokens += e.Usage.InputTokens
			out.usage.OutputTokens += e.Usage.OutputTokens

		case provider.Done:
			break recv
		}
	}

	o.flushIncomplete(d, calls, depth)
	d.wait()

	drainCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := o.locks.WaitForAll(drainCtx); err != nil {
		o.log.Warn("lock drain incomplete at pass end", "error", err)
	}

	out.text = text.String()
	out.truncated = text.Exhausted()
	out.results = d.take()
	out.halted = d.halted()
	return out, nil
}

// flushIncomplete mends and dispatches buffers the stream left open.
// Unrepairable or overflowed payloads are skipped with a warning, never
// dispatched.
func (o *Orchestrator) flushIncomplete(d *dispatcher, calls map[int]*callBuffer, depth int) {
	indices := make([]int, 0, len(calls))
	for idx := range calls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	for _, idx := range indices {
		cb := calls[idx]
		if cb.dispatched || cb.name == "" {
			continue
		}
		if cb.overflow {
			o.log.Warn("tool arguments past soft cap skipped", "tool", cb.name, "call", cb.id)
			continue
		}
		mended, ok := tool.Mend(string(cb.args))
		if !ok {
			o.log.Warn("unrepairable tool arguments skipped",
				"tool", cb.name, "call", cb.id, "error", errors.ErrMalformedArguments)
			continue
		}
		cb.dispatched = true
		call := o.pendingFrom(cb, depth)
		call.args = mended
		if err := d.dispatch(call); err != nil {
			return
		}
	}
}

// pendingFrom builds a dispatchable call, synthesizing an ID when the
// backend never sent one.
func (o *Orchestrator) pendingFrom(cb *callBuffer, depth int) pendingCall {
	id := cb.id
	if id == "" {
		id = fmt.Sprintf("call-%d-%d", depth, cb.index)
	}
	return pendingCall{id: id, name: cb.name, args: string(cb.args)}
}

// proactivePlan races the proactive planner against its timeout. A slow or
// absent planner contributes nothing.
func (o *Orchestrator) proactivePlan(ctx context.Context) []ProposedCall {
	if o.proactive == nil {
		return nil
	}

	ch := make(chan []ProposedCall, 1)
	go func() { ch <- o.proactive(ctx) }()

	select {
	case calls := <-ch:
		return calls
	case <-time.After(o.cfg.Turn.ProactiveTimeout()):
		o.log.Warn("proactive planning timed out", "timeout", o.cfg.Turn.ProactiveTimeout())
		return nil
	case <-ctx.Done():
		return nil
	}
}

// spawnStreams plans isolated streams for the current council state and
// launches them in the background. Envelopes stage into the arbiter as
// streams finish; the pass never waits on them.
func (o *Orchestrator) spawnStreams(ctx context.Context, objective string, msgs []provider.Message) {
	if o.scheduler == nil || o.streams == nil || o.arbiter == nil {
		return
	}

	snap := o.council.Snapshot()
	tc := swarm.TurnContext{
		FlowState:    snap.FlowState,
		ErrorCount:   snap.ToolFailures,
		HotspotCount: len(snap.Hotspots),
		Pressure:     o.currentPressure(),
	}
	if objective != "" {
		tc.ObjectiveCount = 1
	}

	requests := buildIntentRequests(snap)
	if len(requests) == 0 {
		return
	}

	if tc.Pressure == stability.PressureHigh && o.cfg.Scheduler.ShedOnHighPressure {
		if shed := o.streams.Shed(); shed > 0 {
			o.log.Info("streams shed before planning", "count", shed)
		}
	}

	plans := o.scheduler.Plan(tc, requests)
	go func() {
		for _, env := range o.streams.Run(ctx, plans, msgs) {
			o.arbiter.Stage(env)
		}
	}()
}

// buildIntentRequests derives spawn requests from council state: review
// after failures or writes, a risk scan when flow is eroded, research when
// disagreement climbs.
func buildIntentRequests(snap council.Snapshot) []swarm.IntentRequest {
	var reqs []swarm.IntentRequest

	if snap.ToolFailures > 0 || len(snap.WrittenFiles) > 0 {
		urgency := 0.7
		if snap.ToolFailures >= 2 {
			urgency = 0.85
		}
		reqs = append(reqs, swarm.IntentRequest{
			Intent:        swarm.IntentQualityReview,
			Agents:        []string{advisor.QualityAgent},
			Urgency:       urgency,
			Risk:          0.6,
			ExpectedValue: 0.8,
			TokenCost:     600,
		})
	}

	if snap.FlowState < 35 {
		reqs = append(reqs, swarm.IntentRequest{
			Intent:        swarm.IntentRiskScan,
			Agents:        []string{"risk-scanner"},
			Urgency:       0.6,
			Risk:          0.7,
			ExpectedValue: 0.7,
			TokenCost:     500,
		})
	}

	if snap.FrictionBand > 0 && snap.Entropy >= snap.FrictionBand {
		reqs = append(reqs, swarm.IntentRequest{
			Intent:        swarm.IntentResearch,
			Agents:        []string{"researcher"},
			Urgency:       0.4,
			Risk:          0.3,
			ExpectedValue: 0.6,
			TokenCost:     800,
		})
	}
	return reqs
}

// currentPressure reads the stability controller, defaulting to LOW when
// none is wired.
func (o *Orchestrator) currentPressure() stability.Pressure {
	if o.pressure == nil {
		return stability.PressureLow
	}
	return o.pressure.Pressure()
}
