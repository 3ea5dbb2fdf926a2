package stability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mfalcier/conclave/internal/config"
	"github.com/mfalcier/conclave/internal/event"
)

func testStabilityConfig() config.StabilityConfig {
	return config.StabilityConfig{MediumLoad: 0.6, HighLoad: 0.85, SampleIntervalMs: 500}
}

func TestPressureClassification(t *testing.T) {
	tests := []struct {
		load float64
		want Pressure
	}{
		{0.0, PressureLow},
		{0.59, PressureLow},
		{0.6, PressureMedium},
		{0.84, PressureMedium},
		{0.85, PressureHigh},
		{1.0, PressureHigh},
	}

	for _, tt := range tests {
		load := tt.load
		c := NewController(func() float64 { return load }, nil, testStabilityConfig())
		if got := c.Pressure(); got != tt.want {
			t.Errorf("Pressure() at load %v = %v, want %v", tt.load, got, tt.want)
		}
	}
}

func TestPressureTransitionPublishesEvent(t *testing.T) {
	load := 0.1
	bus := event.NewBus()
	c := NewController(func() float64 { return load }, bus, testStabilityConfig())

	var got []event.PressureChangedEvent
	bus.Subscribe("stability.pressure_changed", func(e event.Event) {
		got = append(got, e.(event.PressureChangedEvent))
	})

	c.Pressure() // low -> low, no event
	load = 0.9
	c.Pressure() // low -> high
	c.Pressure() // high -> high, no event

	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if got[0].Previous != "low" || got[0].Current != "high" {
		t.Errorf("transition = %s->%s, want low->high", got[0].Previous, got[0].Current)
	}
}

func TestNilSamplerIsLow(t *testing.T) {
	c := NewController(nil, nil, testStabilityConfig())
	if got := c.Pressure(); got != PressureLow {
		t.Errorf("Pressure() = %v, want low", got)
	}
}

func TestBoundedBufferWithinLimit(t *testing.T) {
	b := NewBoundedBuffer("turn_text", 64, nil)

	if !b.Append("hello ") || !b.Append("world") {
		t.Fatal("appends within limit returned false")
	}
	if b.String() != "hello world" {
		t.Errorf("String() = %q", b.String())
	}
	if b.Exhausted() {
		t.Error("buffer exhausted below limit")
	}
}

func TestBoundedBufferTruncates(t *testing.T) {
	bus := event.NewBus()
	var truncations []event.BufferTruncatedEvent
	bus.Subscribe("stability.buffer_truncated", func(e event.Event) {
		truncations = append(truncations, e.(event.BufferTruncatedEvent))
	})

	b := NewBoundedBuffer("tool_result", 10, bus)

	if b.Append("0123456789ABCDEF") {
		t.Fatal("breaching append returned true")
	}
	if !b.Exhausted() {
		t.Fatal("buffer not exhausted after breach")
	}
	if !strings.HasPrefix(b.String(), "0123456789") {
		t.Errorf("kept prefix = %q", b.String())
	}
	if !strings.HasSuffix(b.String(), TruncationNotice) {
		t.Errorf("missing truncation notice in %q", b.String())
	}
	if b.Dropped() != 6 {
		t.Errorf("Dropped() = %d, want 6", b.Dropped())
	}
	if len(truncations) != 1 || truncations[0].Buffer != "tool_result" {
		t.Errorf("truncation events = %+v", truncations)
	}

	// Sealed: later appends are dropped entirely.
	if b.Append("more") {
		t.Error("append after exhaustion returned true")
	}
	if b.Dropped() != 10 {
		t.Errorf("Dropped() after sealed append = %d, want 10", b.Dropped())
	}
}

func TestBoundedBufferReset(t *testing.T) {
	b := NewBoundedBuffer("turn_text", 4, nil)
	b.Append("too long for four")
	b.Reset()

	if b.Exhausted() || b.Len() != 0 || b.Dropped() != 0 {
		t.Error("Reset did not clear buffer state")
	}
	if !b.Append("ok") {
		t.Error("append after Reset returned false")
	}
}

func TestTruncateHelper(t *testing.T) {
	s, cut := Truncate("short", 100)
	if cut || s != "short" {
		t.Errorf("Truncate(short) = %q, %v", s, cut)
	}

	s, cut = Truncate("0123456789", 4)
	if !cut {
		t.Fatal("Truncate did not report cut")
	}
	if s != "0123"+TruncationNotice {
		t.Errorf("Truncate result = %q", s)
	}
}

func TestTurnGuardCollision(t *testing.T) {
	g := NewTurnGuard(0, nil)
	ctx := context.Background()

	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	second := make(chan error, 1)
	go func() { second <- g.Acquire(ctx) }()

	select {
	case <-second:
		t.Fatal("second Acquire succeeded while handle held")
	case <-time.After(50 * time.Millisecond):
	}

	g.Release()

	select {
	case err := <-second:
		if err != nil {
			t.Fatalf("second Acquire after release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("second Acquire never proceeded")
	}
	g.Release()
}

func TestTurnGuardTryAcquire(t *testing.T) {
	g := NewTurnGuard(0, nil)

	if !g.TryAcquire() {
		t.Fatal("TryAcquire on a free guard returned false")
	}
	if g.TryAcquire() {
		t.Fatal("TryAcquire succeeded while handle held")
	}
	g.Release()
	if !g.TryAcquire() {
		t.Fatal("TryAcquire after release returned false")
	}
	g.Release()
}

func TestTurnGuardCancellation(t *testing.T) {
	g := NewTurnGuard(0, nil)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer g.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := g.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("blocked Acquire = %v, want DeadlineExceeded", err)
	}
}

func TestTurnGuardWatchdog(t *testing.T) {
	bus := event.NewBus()
	fired := make(chan event.Event, 1)
	bus.Subscribe("stability.watchdog_fired", func(e event.Event) { fired <- e })

	g := NewTurnGuard(40*time.Millisecond, bus)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Do not release: the watchdog should clear the stuck handle.
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("watchdog never fired")
	}
	if g.Held() {
		t.Error("handle still held after watchdog")
	}

	// A fresh acquire must proceed.
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after watchdog: %v", err)
	}
	g.Release()
}

func TestTurnGuardNormalReleaseDisarmsWatchdog(t *testing.T) {
	bus := event.NewBus()
	fired := make(chan event.Event, 1)
	bus.Subscribe("stability.watchdog_fired", func(e event.Event) { fired <- e })

	g := NewTurnGuard(30*time.Millisecond, bus)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	g.Release()

	select {
	case <-fired:
		t.Fatal("watchdog fired after normal release")
	case <-time.After(80 * time.Millisecond):
	}
}
