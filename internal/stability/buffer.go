package stability

import (
	"strings"
	"sync"

	"github.com/mfalcier/conclave/internal/event"
)

// BoundedBuffer is a thread-safe append-only text buffer with a hard byte
// ceiling. Once the ceiling is hit the buffer is sealed: further appends are
// dropped, the truncation notice is attached, and Exhausted reports true so
// the owner can force-finalize.
type BoundedBuffer struct {
	mu        sync.RWMutex
	sb        strings.Builder
	limit     int
	name      string
	bus       *event.Bus
	exhausted bool
	dropped   int
}

// NewBoundedBuffer creates a buffer with the given byte ceiling.
// The name identifies the governed buffer in truncation events
// ("turn_text", "tool_stream", "tool_result").
func NewBoundedBuffer(name string, limit int, bus *event.Bus) *BoundedBuffer {
	return &BoundedBuffer{
		limit: limit,
		name:  name,
		bus:   bus,
	}
}

// Append adds text, returning false once the ceiling is reached. The first
// breaching append writes whatever still fits plus the truncation notice
// and publishes a BufferTruncatedEvent; later appends are counted as
// dropped bytes.
func (b *BoundedBuffer) Append(s string) bool {
	b.mu.Lock()

	if b.exhausted {
		b.dropped += len(s)
		b.mu.Unlock()
		return false
	}

	if b.sb.Len()+len(s) <= b.limit {
		b.sb.WriteString(s)
		b.mu.Unlock()
		return true
	}

	fit := b.limit - b.sb.Len()
	if fit > 0 {
		b.sb.WriteString(s[:fit])
	}
	b.sb.WriteString(TruncationNotice)
	b.exhausted = true
	b.dropped = len(s) - fit
	bus, name, limit, dropped := b.bus, b.name, b.limit, b.dropped
	b.mu.Unlock()

	// Publish outside the lock; handlers may read the buffer.
	if bus != nil {
		bus.Publish(event.NewBufferTruncatedEvent(name, limit, dropped))
	}
	return false
}

// String returns the accumulated text including any truncation notice.
func (b *BoundedBuffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sb.String()
}

// Len returns the accumulated byte length.
func (b *BoundedBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sb.Len()
}

// Exhausted reports whether the ceiling has been hit.
func (b *BoundedBuffer) Exhausted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.exhausted
}

// Dropped returns how many bytes were discarded past the ceiling.
func (b *BoundedBuffer) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Reset clears the buffer for reuse by the next turn pass.
func (b *BoundedBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sb.Reset()
	b.exhausted = false
	b.dropped = 0
}
