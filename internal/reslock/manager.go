// Package reslock provides per-target shared/exclusive locking for tool
// dispatch. Read tools take shared holds, write tools take exclusive holds,
// and tools whose effect cannot be scoped to one file lock the GLOBAL
// sentinel. A turn must drain all holds and registered executions before it
// finalizes so that no tool write straddles a turn boundary.
package reslock

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// lockState tracks the holders of a single target.
type lockState struct {
	sharedHolders   map[string]int // holderID -> acquisition count
	exclusiveHolder string
	exclusiveDepth  int
}

func (s *lockState) idle() bool {
	return len(s.sharedHolders) == 0 && s.exclusiveHolder == ""
}

// Manager mediates all tool side effects through per-target locks.
// All methods are safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	cond       *sync.Cond
	locks      map[string]*lockState
	executions int // registered executions not yet resolved
	closed     bool
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	m := &Manager{
		locks: make(map[string]*lockState),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Acquire blocks until the target is available in the requested mode or the
// context is cancelled. The same holder may re-acquire a lock it already
// holds. Returns a release function that must be called exactly once.
func (m *Manager) Acquire(ctx context.Context, target string, exclusive bool, holderID string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Wake blocked waiters when the context is cancelled so they can
	// observe the error instead of sleeping on the condition forever.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.cond.Broadcast()
		case <-done:
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if m.closed {
			return nil, ErrManagerClosed
		}
		if m.tryAcquireLocked(target, exclusive, holderID) {
			return func() { m.release(target, exclusive, holderID) }, nil
		}
		m.cond.Wait()
	}
}

// tryAcquireLocked attempts the acquisition while the mutex is held.
func (m *Manager) tryAcquireLocked(target string, exclusive bool, holderID string) bool {
	state, ok := m.locks[target]
	if !ok {
		state = &lockState{sharedHolders: make(map[string]int)}
		m.locks[target] = state
	}

	if exclusive {
		// Re-entrant exclusive hold by the same holder.
		if state.exclusiveHolder == holderID {
			state.exclusiveDepth++
			return true
		}
		if state.exclusiveHolder != "" || len(state.sharedHolders) > 0 {
			return false
		}
		state.exclusiveHolder = holderID
		state.exclusiveDepth = 1
		return true
	}

	// Shared acquisition: blocked only by a foreign exclusive holder.
	if state.exclusiveHolder != "" && state.exclusiveHolder != holderID {
		return false
	}
	state.sharedHolders[holderID]++
	return true
}

// release drops one hold and wakes waiters.
func (m *Manager) release(target string, exclusive bool, holderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.locks[target]
	if !ok {
		return
	}

	if exclusive {
		if state.exclusiveHolder == holderID {
			state.exclusiveDepth--
			if state.exclusiveDepth <= 0 {
				state.exclusiveHolder = ""
				state.exclusiveDepth = 0
			}
		}
	} else if n, held := state.sharedHolders[holderID]; held {
		if n <= 1 {
			delete(state.sharedHolders, holderID)
		} else {
			state.sharedHolders[holderID] = n - 1
		}
	}

	if state.idle() {
		delete(m.locks, target)
	}
	m.cond.Broadcast()
}

// RegisterExecution acquires the target and runs work while holding it,
// associating the pending unit with the manager for later draining.
// The lock is released when work returns; WaitForAll observes both the
// lock and the execution.
func (m *Manager) RegisterExecution(ctx context.Context, target string, exclusive bool, holderID string, work func(context.Context) error) error {
	release, err := m.Acquire(ctx, target, exclusive, holderID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.executions++
	m.mu.Unlock()

	go func() {
		defer func() {
			release()
			m.mu.Lock()
			m.executions--
			m.mu.Unlock()
			m.cond.Broadcast()
		}()
		_ = work(ctx)
	}()
	return nil
}

// WaitForAll blocks until every outstanding lock and registered execution
// has resolved, or the context is cancelled.
func (m *Manager) WaitForAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.cond.Broadcast()
		case <-done:
		}
	}()

	for len(m.locks) > 0 || m.executions > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("drain interrupted with %d locks, %d executions pending: %w",
				len(m.locks), m.executions, err)
		}
		m.cond.Wait()
	}
	return nil
}

// Outstanding returns the number of currently locked targets.
func (m *Manager) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// Holders returns a snapshot of every held target, sorted by target.
func (m *Manager) Holders() []HoldInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]HoldInfo, 0, len(m.locks))
	for target, state := range m.locks {
		info := HoldInfo{Target: target}
		if state.exclusiveHolder != "" {
			info.Mode = ModeExclusive
			info.Holders = []string{state.exclusiveHolder}
		} else {
			info.Mode = ModeShared
			for h := range state.sharedHolders {
				info.Holders = append(info.Holders, h)
			}
			sort.Strings(info.Holders)
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Target < infos[j].Target })
	return infos
}

// Close rejects future acquisitions. Held locks may still be released and
// drained; only new entry is refused.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
}
