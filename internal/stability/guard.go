package stability

import (
	"context"
	"sync"
	"time"

	"github.com/mfalcier/conclave/internal/event"
)

// TurnGuard is the process-wide active-turn handle. The orchestrator is
// non-reentrant: a second concurrent caller waits on the first. A watchdog
// force-releases the handle after a bounded hold so a turn that never
// finalizes cannot deadlock every later caller.
type TurnGuard struct {
	mu       sync.Mutex
	cond     *sync.Cond
	held     bool
	heldAt   time.Time
	timeout  time.Duration
	bus      *event.Bus
	watchGen int // invalidates stale watchdog timers
}

// NewTurnGuard creates a guard whose watchdog fires after timeout.
// A non-positive timeout disables the watchdog.
func NewTurnGuard(timeout time.Duration, bus *event.Bus) *TurnGuard {
	g := &TurnGuard{
		timeout: timeout,
		bus:     bus,
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Acquire blocks until the handle is free or the context is cancelled.
func (g *TurnGuard) Acquire(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			g.cond.Broadcast()
		case <-done:
		}
	}()

	for g.held {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.cond.Wait()
	}

	g.held = true
	g.heldAt = time.Now()
	g.watchGen++
	if g.timeout > 0 {
		gen := g.watchGen
		time.AfterFunc(g.timeout, func() { g.forceRelease(gen) })
	}
	return nil
}

// TryAcquire takes the handle if it is free, without blocking. The caller
// owns the handle only on a true return.
func (g *TurnGuard) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held {
		return false
	}
	g.held = true
	g.heldAt = time.Now()
	g.watchGen++
	if g.timeout > 0 {
		gen := g.watchGen
		time.AfterFunc(g.timeout, func() { g.forceRelease(gen) })
	}
	return true
}

// Release frees the handle. Safe to call after a watchdog force-release.
func (g *TurnGuard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.held {
		return
	}
	g.held = false
	g.watchGen++
	g.cond.Broadcast()
}

// Held reports whether the handle is currently taken.
func (g *TurnGuard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// forceRelease clears a handle still held by the generation the watchdog
// was armed for. A normal Release bumps the generation, disarming the timer.
func (g *TurnGuard) forceRelease(gen int) {
	g.mu.Lock()
	if !g.held || g.watchGen != gen {
		g.mu.Unlock()
		return
	}
	heldFor := time.Since(g.heldAt)
	g.held = false
	g.watchGen++
	g.cond.Broadcast()
	bus := g.bus
	g.mu.Unlock()

	if bus != nil {
		bus.Publish(event.NewWatchdogFiredEvent(heldFor))
	}
}
