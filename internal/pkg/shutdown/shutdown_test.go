package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestHandlersRunLIFO(t *testing.T) {
	mgr := NewManager(nil, time.Second)

	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}
	mgr.RegisterSimple("redis", record("redis"))
	mgr.Register("http-server", func(context.Context) error {
		record("http-server")()
		return nil
	})
	mgr.Register("failing", func(context.Context) error {
		record("failing")()
		return errors.New("close failed")
	})

	mgr.Shutdown()

	want := []string{"failing", "http-server", "redis"}
	if len(order) != len(want) {
		t.Fatalf("ran %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("ran %v, want %v", order, want)
		}
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	mgr := NewManager(nil, time.Second)
	var calls atomic.Int32
	mgr.RegisterSimple("once", func() { calls.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr.Shutdown()
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("handler ran %d times", calls.Load())
	}
	select {
	case <-mgr.Done():
	default:
		t.Error("Done not closed after Shutdown")
	}
}

func TestUnitsDrainBeforeHandlers(t *testing.T) {
	mgr := NewManager(nil, time.Second)

	var unitDone atomic.Bool
	mgr.Go("monitor", func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		unitDone.Store(true)
	})

	var sawUnitDone atomic.Bool
	mgr.Register("job-store", func(context.Context) error {
		sawUnitDone.Store(unitDone.Load())
		return nil
	})

	mgr.Shutdown()
	if !sawUnitDone.Load() {
		t.Error("cleanup ran before the background unit returned")
	}
}

func TestUnitGetsRootContext(t *testing.T) {
	mgr := NewManager(nil, time.Second)
	got := make(chan context.Context, 1)
	mgr.Go("probe", func(ctx context.Context) { got <- ctx })

	select {
	case ctx := <-got:
		if ctx != mgr.Context() {
			t.Error("unit did not receive the root context")
		}
	case <-time.After(time.Second):
		t.Fatal("unit never started")
	}

	mgr.Shutdown()
	if mgr.Context().Err() == nil {
		t.Error("root context not canceled by Shutdown")
	}
}

func TestDeadlineBoundsShutdown(t *testing.T) {
	t.Run("stuck unit", func(t *testing.T) {
		mgr := NewManager(nil, 50*time.Millisecond)
		release := make(chan struct{})
		defer close(release)
		mgr.Go("stuck", func(context.Context) { <-release })

		start := time.Now()
		mgr.Shutdown()
		if d := time.Since(start); d > time.Second {
			t.Errorf("shutdown took %v", d)
		}
	})

	t.Run("slow handler sees deadline", func(t *testing.T) {
		mgr := NewManager(nil, 50*time.Millisecond)
		var sawDeadline atomic.Bool
		mgr.Register("slow", func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				sawDeadline.Store(true)
			case <-time.After(5 * time.Second):
			}
			return nil
		})

		start := time.Now()
		mgr.Shutdown()
		if d := time.Since(start); d > time.Second {
			t.Errorf("shutdown took %v", d)
		}
		time.Sleep(20 * time.Millisecond)
		if !sawDeadline.Load() {
			t.Error("handler context had no deadline")
		}
	})
}

func TestWaitWithContext(t *testing.T) {
	mgr := NewManager(nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	returned := make(chan struct{})
	go func() {
		mgr.WaitWithContext(ctx)
		close(returned)
	}()
	cancel()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("WaitWithContext did not return after cancel")
	}
	select {
	case <-mgr.Done():
	default:
		t.Error("Done not closed")
	}
}
