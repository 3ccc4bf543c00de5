package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyIsOrderInsensitive(t *testing.T) {
	a, err := Key("post", "/notifications/send", map[string]any{"title": "x", "severity": "high"})
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	b, err := Key("POST", "/notifications/send", []byte(`{"severity":"high","title":"x"}`))
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if a != b {
		t.Fatalf("expected equal keys:\n%s\n%s", a, b)
	}
	c, _ := Key("POST", "/notifications/send", map[string]any{"title": "y"})
	if a == c {
		t.Fatalf("different bodies must not collide")
	}
	if k, _ := Key("GET", "/x", nil); k != "GET /x " {
		t.Fatalf("unexpected nil-body key %q", k)
	}
}

func TestConcurrentIdenticalCallsShareOneExecution(t *testing.T) {
	g := New(nil)
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "sent", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := g.Do(context.Background(), "POST", "/notifications/send", map[string]string{"title": "x"}, fn)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = v
		}(i)
	}
	waitFor(t, func() bool { return len(g.InFlight()) == 1 })
	// Give the other callers time to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected one execution, got %d", calls.Load())
	}
	for i, r := range results {
		if r != "sent" {
			t.Fatalf("caller %d got %v", i, r)
		}
	}
	if len(g.InFlight()) != 0 {
		t.Fatalf("key not cleared after settlement")
	}
}

func TestFailureClearsKey(t *testing.T) {
	g := New(nil)
	boom := errors.New("boom")
	_, _, err := g.Do(context.Background(), "POST", "/x", nil, func(context.Context) (any, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(g.InFlight()) != 0 {
		t.Fatalf("key not cleared after failure")
	}
	v, _, err := g.Do(context.Background(), "POST", "/x", nil, func(context.Context) (any, error) { return 1, nil })
	if err != nil || v != 1 {
		t.Fatalf("expected fresh execution, got %v %v", v, err)
	}
}

func TestCallerCancelDoesNotCancelSharedCall(t *testing.T) {
	g := New(nil)
	release := make(chan struct{})
	done := make(chan error, 1)
	fn := func(ctx context.Context) (any, error) {
		<-release
		done <- ctx.Err()
		return nil, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := g.Do(ctx, "GET", "/slow", nil, fn)
		errCh <- err
	}()
	waitFor(t, func() bool { return len(g.InFlight()) == 1 })
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("caller should see its own cancellation, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("shared call context was cancelled: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
