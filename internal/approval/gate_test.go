package approval

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestPolicyListsShortCircuit(t *testing.T) {
	g := NewGate(Policy{
		Allow:   []string{"read_file"},
		Deny:    []string{"run_shell"},
		Default: ModeAsk,
	})
	fn := g.Func()

	granted, err := fn(context.Background(), "read_file", nil)
	if err != nil || !granted {
		t.Errorf("allow-listed tool = (%v, %v), want granted", granted, err)
	}
	granted, err = fn(context.Background(), "run_shell", nil)
	if err != nil || granted {
		t.Errorf("deny-listed tool = (%v, %v), want denied", granted, err)
	}
	if len(g.Pending()) != 0 {
		t.Error("listed tools should never park")
	}
}

func TestDefaultModes(t *testing.T) {
	fn := NewGate(Policy{Default: ModeAllow}).Func()
	if granted, _ := fn(context.Background(), "anything", nil); !granted {
		t.Error("ModeAllow denied an unlisted tool")
	}

	fn = NewGate(Policy{Default: ModeDeny}).Func()
	if granted, _ := fn(context.Background(), "anything", nil); granted {
		t.Error("ModeDeny granted an unlisted tool")
	}
}

func TestAskParksUntilApproved(t *testing.T) {
	g := NewGate(Policy{Default: ModeAsk})
	fn := g.Func()

	result := make(chan bool, 1)
	go func() {
		granted, _ := fn(context.Background(), "edit_file", json.RawMessage(`{"path":"a.go"}`))
		result <- granted
	}()

	// Wait for the call to park.
	deadline := time.After(time.Second)
	for len(g.Pending()) == 0 {
		select {
		case <-deadline:
			t.Fatal("call never parked")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	pending := g.Pending()
	if pending[0].Tool != "edit_file" {
		t.Errorf("pending tool = %q", pending[0].Tool)
	}
	if !g.IsPending(pending[0].ID) {
		t.Error("IsPending = false for a held call")
	}

	if err := g.Approve(pending[0].ID); err != nil {
		t.Fatal(err)
	}
	select {
	case granted := <-result:
		if !granted {
			t.Error("approved call reported denied")
		}
	case <-time.After(time.Second):
		t.Fatal("approval never released the caller")
	}
	if g.IsPending(pending[0].ID) {
		t.Error("call still pending after approval")
	}
}

func TestRejectReleasesAsDenied(t *testing.T) {
	g := NewGate(Policy{Default: ModeAsk})
	fn := g.Func()

	result := make(chan bool, 1)
	go func() {
		granted, _ := fn(context.Background(), "delete_file", nil)
		result <- granted
	}()

	deadline := time.After(time.Second)
	for len(g.Pending()) == 0 {
		select {
		case <-deadline:
			t.Fatal("call never parked")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	if err := g.Reject(g.Pending()[0].ID); err != nil {
		t.Fatal(err)
	}
	if granted := <-result; granted {
		t.Error("rejected call reported granted")
	}
}

func TestResolveUnknownCall(t *testing.T) {
	g := NewGate(Policy{})
	if err := g.Approve("approval-99"); !errors.Is(err, ErrNotPending) {
		t.Errorf("err = %v, want ErrNotPending", err)
	}
}

func TestCancelledContextDenies(t *testing.T) {
	g := NewGate(Policy{Default: ModeAsk})
	fn := g.Func()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	granted, err := fn(ctx, "edit_file", nil)
	if granted {
		t.Error("cancelled call reported granted")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	if len(g.Pending()) != 0 {
		t.Error("cancelled call left in pending set")
	}
}
