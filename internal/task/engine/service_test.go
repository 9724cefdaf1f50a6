package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tubebot/internal/eventbus"
	logx "tubebot/pkg/logx"
)

func startService(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestSameKeyRunsInOrderOneAtATime(t *testing.T) {
	s := startService(t, Config{Workers: 8, QueueSize: 64}, nil)

	var (
		mu      sync.Mutex
		order   []int
		running atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		i := i
		err := s.Enqueue(Task{Key: "chat-1", Name: "step", Run: func(ctx context.Context) error {
			defer wg.Done()
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			running.Add(-1)
			return nil
		}})
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	wg.Wait()

	if overlap.Load() {
		t.Fatalf("tasks with the same key overlapped")
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d]=%d, want %d (order=%v)", i, v, i, order)
		}
	}
}

func TestDistinctKeysRunInParallel(t *testing.T) {
	const n = 4
	s := startService(t, Config{Workers: n, QueueSize: 16}, nil)

	var arrived sync.WaitGroup
	arrived.Add(n)
	release := make(chan struct{})
	var done sync.WaitGroup
	done.Add(n)
	for i := 0; i < n; i++ {
		if err := s.Enqueue(Task{Key: fmt.Sprintf("chat-%d", i), Run: func(ctx context.Context) error {
			defer done.Done()
			arrived.Done()
			<-release
			return nil
		}}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ok := make(chan struct{})
	go func() { arrived.Wait(); close(ok) }()
	select {
	case <-ok:
	case <-time.After(2 * time.Second):
		t.Fatalf("distinct keys did not run concurrently")
	}
	close(release)
	done.Wait()
}

func TestQueueFullRejects(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	s := startService(t, Config{Workers: 1, QueueSize: 2}, bus)

	block := make(chan struct{})
	started := make(chan struct{})
	if err := s.Enqueue(Task{Key: "a", Run: func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-started
	noop := func(ctx context.Context) error { return nil }
	for i := 0; i < 2; i++ {
		if err := s.Enqueue(Task{Key: "b", Run: noop}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if err := s.Enqueue(Task{Key: "c", Run: noop}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	close(block)

	select {
	case e := <-events:
		if e.Type != eventbus.TaskDropped {
			t.Fatalf("event type=%q", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("no drop event")
	}
	if got := s.Snapshot().Dropped; got != 1 {
		t.Fatalf("dropped=%d", got)
	}
}

func TestPanicIsRecoveredAndLaneContinues(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	s := startService(t, Config{Workers: 2, QueueSize: 8}, bus)

	ran := make(chan struct{})
	if err := s.Enqueue(Task{Key: "k", Name: "boom", Run: func(ctx context.Context) error { panic("boom") }}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Enqueue(Task{Key: "k", Name: "after", Run: func(ctx context.Context) error { close(ran); return nil }}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("lane stalled after panic")
	}
	select {
	case e := <-events:
		if e.Type != eventbus.TaskPanicked {
			t.Fatalf("event type=%q", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("no panic event")
	}
	if got := s.Snapshot().Panics; got != 1 {
		t.Fatalf("panics=%d", got)
	}
}

func TestTaskTimeoutCancelsContext(t *testing.T) {
	s := startService(t, Config{Workers: 1, QueueSize: 4, DefaultTimeout: 20 * time.Millisecond}, nil)

	got := make(chan error, 1)
	if err := s.Enqueue(Task{Key: "k", Run: func(ctx context.Context) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case err := <-got:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout not applied")
	}
}

func TestStopDrainsThenRejects(t *testing.T) {
	s := New(Config{Workers: 2, QueueSize: 8}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Key: "k", Run: func(ctx context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped before Start, got %v", err)
	}
	s.Start(context.Background())

	var finished atomic.Int32
	for i := 0; i < 3; i++ {
		if err := s.Enqueue(Task{Key: "k", Run: func(ctx context.Context) error {
			time.Sleep(5 * time.Millisecond)
			finished.Add(1)
			return nil
		}}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	if finished.Load() != 3 {
		t.Fatalf("finished=%d, want 3", finished.Load())
	}
	if err := s.Enqueue(Task{Key: "k", Run: func(ctx context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after Stop, got %v", err)
	}
	if snap := s.Snapshot(); len(snap.History) != 3 {
		t.Fatalf("history=%d", len(snap.History))
	}
}
