// Package stability provides the backpressure layer of the turn engine:
// pressure-tier classification, governed buffers with explicit truncation,
// and the active-turn collision guard with its watchdog. Buffer governance
// is enforced at three independent points (the turn's running text, each
// live tool-call argument buffer, and each finalized tool result) so no
// single runaway output can exhaust memory or the event bridge.
package stability

import (
	"sync"

	"github.com/mfalcier/conclave/internal/config"
	"github.com/mfalcier/conclave/internal/event"
)

// Controller classifies sampled system load into pressure tiers and
// publishes tier transitions to the event bus.
type Controller struct {
	mu      sync.Mutex
	sampler Sampler
	bus     *event.Bus
	cfg     config.StabilityConfig
	current Pressure
}

// NewController creates a Controller. A nil sampler pins pressure to LOW.
func NewController(sampler Sampler, bus *event.Bus, cfg config.StabilityConfig) *Controller {
	return &Controller{
		sampler: sampler,
		bus:     bus,
		cfg:     cfg,
		current: PressureLow,
	}
}

// Pressure samples current load, classifies it, and returns the tier.
// A tier transition publishes a PressureChangedEvent.
func (c *Controller) Pressure() Pressure {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sampler == nil {
		return PressureLow
	}

	load := c.sampler()
	tier := PressureLow
	switch {
	case load >= c.cfg.HighLoad:
		tier = PressureHigh
	case load >= c.cfg.MediumLoad:
		tier = PressureMedium
	}

	if tier != c.current {
		prev := c.current
		c.current = tier
		if c.bus != nil {
			c.bus.Publish(event.NewPressureChangedEvent(prev.String(), tier.String()))
		}
	}
	return tier
}

// Current returns the last classified tier without re-sampling.
func (c *Controller) Current() Pressure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Truncate cuts s at limit bytes and appends the stability notice.
// Strings within the limit are returned unchanged.
func Truncate(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	return s[:limit] + TruncationNotice, true
}
