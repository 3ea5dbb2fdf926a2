package reslock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSharedHoldersCoexist(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	rel1, err := m.Acquire(ctx, "pkg/a.go", false, "tc-1")
	if err != nil {
		t.Fatalf("first shared acquire: %v", err)
	}
	rel2, err := m.Acquire(ctx, "pkg/a.go", false, "tc-2")
	if err != nil {
		t.Fatalf("second shared acquire: %v", err)
	}

	rel1()
	rel2()
	if n := m.Outstanding(); n != 0 {
		t.Errorf("Outstanding() = %d, want 0", n)
	}
}

func TestExclusiveExcludesOthers(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	release, err := m.Acquire(ctx, "pkg/a.go", true, "tc-1")
	if err != nil {
		t.Fatalf("exclusive acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		rel, err := m.Acquire(ctx, "pkg/a.go", false, "tc-2")
		if err != nil {
			t.Errorf("blocked shared acquire: %v", err)
			close(acquired)
			return
		}
		rel()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("shared acquire succeeded while exclusive held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("shared acquire never proceeded after release")
	}
}

func TestSharedBlocksExclusive(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	release, err := m.Acquire(ctx, "pkg/a.go", false, "tc-1")
	if err != nil {
		t.Fatalf("shared acquire: %v", err)
	}

	got := make(chan error, 1)
	go func() {
		rel, err := m.Acquire(ctx, "pkg/a.go", true, "tc-2")
		if err == nil {
			rel()
		}
		got <- err
	}()

	select {
	case <-got:
		t.Fatal("exclusive acquire succeeded while shared held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	if err := <-got; err != nil {
		t.Fatalf("exclusive acquire after release: %v", err)
	}
}

func TestAcquireCancellation(t *testing.T) {
	m := NewManager()

	release, err := m.Acquire(context.Background(), GlobalTarget, true, "tc-1")
	if err != nil {
		t.Fatalf("exclusive acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan error, 1)
	go func() {
		_, err := m.Acquire(ctx, GlobalTarget, true, "tc-2")
		got <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-got:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("blocked acquire error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire never returned")
	}
}

func TestReentrantExclusive(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	rel1, err := m.Acquire(ctx, "pkg/a.go", true, "tc-1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	rel2, err := m.Acquire(ctx, "pkg/a.go", true, "tc-1")
	if err != nil {
		t.Fatalf("re-entrant acquire: %v", err)
	}

	rel2()
	if n := m.Outstanding(); n != 1 {
		t.Errorf("Outstanding() after inner release = %d, want 1", n)
	}
	rel1()
	if n := m.Outstanding(); n != 0 {
		t.Errorf("Outstanding() after outer release = %d, want 0", n)
	}
}

func TestRegisterExecutionAndWaitForAll(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	var completed atomic.Int32
	started := make(chan struct{})
	proceed := make(chan struct{})

	err := m.RegisterExecution(ctx, "pkg/a.go", true, "tc-1", func(context.Context) error {
		close(started)
		<-proceed
		completed.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("RegisterExecution: %v", err)
	}
	<-started

	drained := make(chan error, 1)
	go func() { drained <- m.WaitForAll(context.Background()) }()

	select {
	case <-drained:
		t.Fatal("WaitForAll returned while execution pending")
	case <-time.After(50 * time.Millisecond):
	}

	close(proceed)

	select {
	case err := <-drained:
		if err != nil {
			t.Fatalf("WaitForAll: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForAll never returned after execution finished")
	}
	if completed.Load() != 1 {
		t.Error("execution did not run to completion")
	}
}

func TestWaitForAllCancellation(t *testing.T) {
	m := NewManager()

	release, err := m.Acquire(context.Background(), "pkg/a.go", true, "tc-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := m.WaitForAll(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForAll error = %v, want DeadlineExceeded", err)
	}
}

func TestConcurrentDistinctTargets(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := string(rune('a' + i))
			rel, err := m.Acquire(ctx, target, true, "tc")
			if err != nil {
				t.Errorf("acquire %s: %v", target, err)
				return
			}
			rel()
		}(i)
	}
	wg.Wait()

	if err := m.WaitForAll(ctx); err != nil {
		t.Fatalf("WaitForAll: %v", err)
	}
}

func TestCloseRejectsAcquire(t *testing.T) {
	m := NewManager()
	m.Close()

	if _, err := m.Acquire(context.Background(), "pkg/a.go", false, "tc-1"); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Acquire on closed manager = %v, want ErrManagerClosed", err)
	}
}

func TestHoldersSnapshot(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	relA, _ := m.Acquire(ctx, "b.go", false, "tc-2")
	relB, _ := m.Acquire(ctx, "a.go", true, "tc-1")
	defer relA()
	defer relB()

	infos := m.Holders()
	if len(infos) != 2 {
		t.Fatalf("Holders() len = %d, want 2", len(infos))
	}
	if infos[0].Target != "a.go" || infos[0].Mode != ModeExclusive {
		t.Errorf("first hold = %+v, want exclusive a.go", infos[0])
	}
	if infos[1].Target != "b.go" || infos[1].Mode != ModeShared {
		t.Errorf("second hold = %+v, want shared b.go", infos[1])
	}
}
