package turn

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mfalcier/conclave/internal/errors"
	"github.com/mfalcier/conclave/internal/event"
	"github.com/mfalcier/conclave/internal/stability"
	"github.com/mfalcier/conclave/internal/tool"
)

// pendingCall is one assembled tool call awaiting dispatch.
type pendingCall struct {
	id   string
	name string
	args string
}

// toolResult is one dispatched call's recorded outcome, ordered by seq.
type toolResult struct {
	seq     int
	callID  string
	name    string
	target  string
	text    string
	outcome tool.Outcome
}

// dispatcher runs a pass's tool calls under the gas limit and the current
// pressure posture: concurrent by default, strictly sequential with pacing
// under HIGH pressure.
type dispatcher struct {
	o          *Orchestrator
	ctx        context.Context
	sequential bool

	mu      sync.Mutex
	wg      sync.WaitGroup
	results []toolResult
	seq     int
	gasUsed int
	stopped bool // a HALT outcome refuses further dispatch
}

func newDispatcher(o *Orchestrator, ctx context.Context) *dispatcher {
	return &dispatcher{
		o:          o,
		ctx:        ctx,
		sequential: o.currentPressure() == stability.PressureHigh,
	}
}

// dispatch admits one call against the gas budget and runs it. Under HIGH
// pressure calls run inline with a pacing delay and a full drain between
// them; otherwise each call runs on its own goroutine.
func (d *dispatcher) dispatch(call pendingCall) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return errors.ErrToolHalted
	}
	if d.gasUsed >= d.o.cfg.Turn.GasLimit {
		d.mu.Unlock()
		d.o.log.Warn("tool call refused, gas spent",
			"tool", call.name, "call", call.id, "limit", d.o.cfg.Turn.GasLimit)
		return errors.NewExhaustionError("gas", d.o.cfg.Turn.GasLimit, errors.ErrGasExhausted)
	}
	d.gasUsed++
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	if d.sequential {
		if err := d.o.locks.WaitForAll(d.ctx); err != nil {
			d.o.log.Warn("pre-dispatch drain interrupted", "error", err)
		}
		d.run(seq, call)
		time.Sleep(d.o.cfg.Turn.PacingDelay())
		return nil
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(seq, call)
	}()
	return nil
}

// run executes one call end to end: registry lookup, approval, target lock,
// execution, classification, council bookkeeping, events. Every path
// records a result; failures become error results, never panics or aborts.
func (d *dispatcher) run(seq int, call pendingCall) {
	t, ok := d.o.registry.GetTool(call.name)
	if !ok {
		d.o.log.Warn("unknown tool requested", "tool", call.name, "call", call.id)
		d.record(toolResult{
			seq: seq, callID: call.id, name: call.name,
			text:    "Error: tool not found: " + call.name,
			outcome: tool.OutcomeError,
		})
		d.o.council.RecordError("")
		return
	}

	args := []byte(call.args)

	if !t.AutoApproved() && d.o.approval != nil {
		granted, err := d.o.approval(d.ctx, call.name, args)
		if err != nil {
			granted = false
		}
		if d.o.bus != nil {
			d.o.bus.Publish(event.NewApprovalRequestedEvent(call.id, call.name, granted))
		}
		if !granted {
			d.record(toolResult{
				seq: seq, callID: call.id, name: call.name,
				text:    "Error: " + errors.ErrApprovalDenied.Error(),
				outcome: tool.OutcomeError,
			})
			d.o.council.RecordToolCall("", t.Writes(), false)
			return
		}
	}

	target := t.ResolveTarget(args)
	release, err := d.o.locks.Acquire(d.ctx, target, t.Writes(), call.id)
	if err != nil {
		terr := errors.NewToolError("lock acquisition failed", err).
			WithTool(call.name).WithCallID(call.id).WithTarget(target)
		d.o.log.Warn("tool dispatch abandoned", "error", terr.Error())
		d.record(toolResult{
			seq: seq, callID: call.id, name: call.name, target: target,
			text:    "Error: " + terr.Error(),
			outcome: tool.OutcomeError,
		})
		d.o.council.RecordError(target)
		return
	}
	defer release()

	if d.o.bus != nil {
		d.o.bus.Publish(event.NewToolDispatchedEvent(call.id, call.name, target, t.Writes()))
	}

	started := time.Now()
	text := d.execute(t, args, call, target)
	outcome := tool.Classify(text)

	// One repair attempt per failed call. The retry runs under the original
	// target lock; whatever it produces is the recorded result.
	if outcome == tool.OutcomeError && d.o.repair != nil {
		if fixed, ok := d.o.repair(d.ctx, call.name, args, text); ok {
			d.o.log.Info("retrying tool with repaired arguments",
				"tool", call.name, "call", call.id)
			text = d.execute(t, fixed, call, target)
			outcome = tool.Classify(text)
		}
	}
	elapsed := time.Since(started)

	var truncated bool
	text, truncated = stability.Truncate(text, d.o.cfg.Turn.ToolResultBytes)

	success := outcome == tool.OutcomeSuccess
	d.o.council.RecordToolCall(target, t.Writes(), success)
	if outcome == tool.OutcomeError {
		d.o.council.RecordError(target)
	}
	if outcome == tool.OutcomeHalt {
		d.o.log.Warn("tool signalled halt", "tool", call.name, "call", call.id)
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
	}

	if d.o.bus != nil {
		d.o.bus.Publish(event.NewToolCompletedEvent(call.id, call.name, success, truncated, elapsed))
	}

	d.record(toolResult{
		seq: seq, callID: call.id, name: call.name, target: target,
		text: text, outcome: outcome,
	})
}

// execute runs the tool once, folding an execution error into the result
// text so classification sees it.
func (d *dispatcher) execute(t tool.Tool, args []byte, call pendingCall, target string) string {
	res, err := t.Execute(d.ctx, args)
	if err != nil {
		terr := errors.NewToolError("execution failed", err).
			WithTool(call.name).WithCallID(call.id).WithTarget(target)
		return "Error: " + terr.Error()
	}
	return res.Text
}

func (d *dispatcher) record(r toolResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, r)
}

// wait blocks until every concurrent dispatch has recorded its result.
func (d *dispatcher) wait() {
	d.wg.Wait()
}

// take returns the recorded results in dispatch order.
func (d *dispatcher) take() []toolResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]toolResult, len(d.results))
	copy(out, d.results)
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// halted reports whether any call produced a HALT outcome.
func (d *dispatcher) halted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}
