package swarm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mfalcier/conclave/internal/config"
	"github.com/mfalcier/conclave/internal/errors"
	"github.com/mfalcier/conclave/internal/event"
	"github.com/mfalcier/conclave/internal/logging"
	"github.com/mfalcier/conclave/internal/provider"
)

// Evaluator runs one isolated evaluation and returns its free-text result.
// The context carries the stream's timeout and cancellation.
type Evaluator func(ctx context.Context, agent string, intent Intent, msgs []provider.Message) (string, error)

// streamRec tracks one live stream for shedding and drain.
type streamRec struct {
	cancel   context.CancelFunc
	critical bool
}

// Manager executes admitted spawn plans as isolated, cancellable streams.
// Every stream is bounded by the configured timeout; failures and timeouts
// become failed stream statuses, never turn aborts.
type Manager struct {
	cfg  config.SchedulerConfig
	bus  *event.Bus
	log  *logging.Logger
	eval Evaluator

	mu       sync.Mutex
	inflight map[string]*streamRec
	seq      atomic.Uint64
}

// NewManager creates a stream Manager.
func NewManager(cfg config.SchedulerConfig, bus *event.Bus, eval Evaluator, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Manager{
		cfg:      cfg,
		bus:      bus,
		log:      log,
		eval:     eval,
		inflight: make(map[string]*streamRec),
	}
}

// InFlight returns the number of live streams.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// Shed cancels all non-critical in-flight streams and returns how many were
// cancelled. Called before admitting new work under HIGH pressure.
func (m *Manager) Shed() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	shed := 0
	for id, rec := range m.inflight {
		if rec.critical {
			continue
		}
		rec.cancel()
		delete(m.inflight, id)
		shed++
		m.log.Info("stream shed under pressure", "stream", id)
	}
	return shed
}

// Run executes the admitted plans concurrently and returns their envelopes
// once all have finished. Skipped plans (either gate closed) produce no
// envelope; SHADOW plans produce a placeholder without real work. Run never
// returns an error: per-stream failures are contained as failed statuses.
func (m *Manager) Run(ctx context.Context, plans []SpawnPlan, msgs []provider.Message) []AgentEnvelope {
	var (
		envMu     sync.Mutex
		envelopes []AgentEnvelope
	)

	g, gctx := errgroup.WithContext(ctx)

	for _, plan := range plans {
		if !plan.Admitted() {
			m.log.Debug("spawn plan skipped", "agent", plan.Agent, "intent", string(plan.Request.Intent), "reason", plan.Reason)
			continue
		}

		if plan.Mode == ModeShadow {
			envMu.Lock()
			envelopes = append(envelopes, m.shadowEnvelope(plan))
			envMu.Unlock()
			continue
		}

		plan := plan
		g.Go(func() error {
			env, ok := m.runLive(gctx, plan, msgs)
			if ok {
				envMu.Lock()
				envelopes = append(envelopes, env)
				envMu.Unlock()
			}
			return nil
		})
	}

	// Errors are contained per stream; Wait only synchronizes.
	_ = g.Wait()
	return envelopes
}

// shadowEnvelope is the placeholder result of a validated-but-not-executed
// plan.
func (m *Manager) shadowEnvelope(plan SpawnPlan) AgentEnvelope {
	return AgentEnvelope{
		StreamID:   m.nextID(),
		Agent:      plan.Agent,
		Intent:     plan.Request.Intent,
		Decision:   DecisionNoAction,
		Confidence: 0,
		Summary:    "shadow plan validated; no evaluation performed",
		CreatedAt:  time.Now(),
	}
}

// runLive executes one stream under its own timeout. A false return means
// the stream failed or timed out and produced no envelope.
func (m *Manager) runLive(ctx context.Context, plan SpawnPlan, msgs []provider.Message) (AgentEnvelope, bool) {
	id := m.nextID()
	streamCtx, cancel := context.WithTimeout(ctx, m.cfg.StreamTimeout())

	m.mu.Lock()
	m.inflight[id] = &streamRec{cancel: cancel, critical: plan.Request.Critical()}
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.inflight, id)
		m.mu.Unlock()
	}()

	if m.bus != nil {
		m.bus.Publish(event.NewStreamSpawnedEvent(id, plan.Agent, string(plan.Request.Intent), string(plan.Mode), plan.Request.TokenCost))
	}

	started := time.Now()
	result, err := m.eval(streamCtx, plan.Agent, plan.Request.Intent, msgs)
	elapsed := time.Since(started)

	if err != nil {
		status, cause := "failed", err
		if streamCtx.Err() == context.DeadlineExceeded {
			status, cause = "timeout", errors.ErrStreamTimeout
		} else if streamCtx.Err() == context.Canceled {
			status, cause = "cancelled", errors.ErrStreamCancelled
		}
		aerr := errors.NewAgentError("stream evaluation failed", cause).WithAgent(plan.Agent).WithStreamID(id)
		m.log.Warn("isolated stream did not complete", "stream", id, "status", status, "error", aerr.Error())
		if m.bus != nil {
			m.bus.Publish(event.NewStreamFinishedEvent(id, plan.Agent, status, err.Error(), elapsed))
		}
		return AgentEnvelope{}, false
	}

	decision, confidence := ClassifyVerdict(result)
	env := AgentEnvelope{
		StreamID:   id,
		Agent:      plan.Agent,
		Intent:     plan.Request.Intent,
		Decision:   decision,
		Confidence: confidence,
		Evidence:   extractEvidence(result),
		Blocking:   decision == DecisionCritical,
		Summary:    firstLine(result),
		CreatedAt:  time.Now(),
	}

	if m.bus != nil {
		m.bus.Publish(event.NewStreamFinishedEvent(id, plan.Agent, "completed", string(decision), elapsed))
	}
	return env, true
}

func (m *Manager) nextID() string {
	return fmt.Sprintf("stream-%d", m.seq.Add(1))
}

// firstLine returns the first non-empty line of s, trimmed, for use as an
// envelope summary.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return strings.TrimSpace(s)
}
