package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tubebot/internal/task/engine"
	logx "tubebot/pkg/logx"
)

type runNow struct {
	keys atomic.Value
	err  error
}

func (r *runNow) Enqueue(t engine.Task) error {
	if r.err != nil {
		return r.err
	}
	r.keys.Store(t.Key)
	return t.Run(context.Background())
}

func TestValidSpec(t *testing.T) {
	tests := []struct {
		spec string
		ok   bool
	}{
		{"@every 1m", true},
		{"*/5 * * * *", true},
		{"0 */5 * * * *", true},
		{"@hourly", true},
		{"", false},
		{"every minute", false},
		{"@every banana", false},
	}
	for _, tt := range tests {
		if err := ValidSpec(tt.spec); (err == nil) != tt.ok {
			t.Fatalf("ValidSpec(%q) err=%v want ok=%v", tt.spec, err, tt.ok)
		}
	}
}

func TestAddRejectsDuplicatesAndBadSpecs(t *testing.T) {
	s := New(&runNow{}, logx.Nop())
	noop := func(ctx context.Context) error { return nil }
	if err := s.Add(Job{Name: "sweep", Spec: "@every 1m", Run: noop}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(Job{Name: "sweep", Spec: "@every 2m", Run: noop}); err == nil {
		t.Fatal("duplicate name accepted")
	}
	if err := s.Add(Job{Name: "bad", Spec: "nope", Run: noop}); err == nil {
		t.Fatal("bad spec accepted")
	}
	if err := s.Add(Job{Spec: "@every 1m", Run: noop}); err == nil {
		t.Fatal("unnamed job accepted")
	}
}

func TestIntervalJobFiresThroughEngine(t *testing.T) {
	eng := &runNow{}
	s := New(eng, logx.Nop())
	fired := make(chan struct{}, 1)
	if err := s.Add(Job{Name: "tick", Spec: "@every 1s", Run: func(ctx context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()
	defer s.Stop(context.Background())

	select {
	case <-fired:
	case <-time.After(4 * time.Second):
		t.Fatal("job never fired")
	}
	if got := eng.keys.Load(); got != "schedule:tick" {
		t.Fatalf("task key=%v", got)
	}
	infos := s.Schedules()
	if len(infos) != 1 || infos[0].Next.IsZero() {
		t.Fatalf("schedules=%+v", infos)
	}
}

func TestSpreadDelaysOnlyFirstRun(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, jitter := intervalWithSpread(time.Minute, now, "sweep")
	if jitter < 0 || jitter >= time.Minute {
		t.Fatalf("jitter=%s", jitter)
	}
	first := sched.Next(now)
	if want := now.Add(time.Minute + jitter); !first.Equal(want) {
		t.Fatalf("first=%s want %s", first, want)
	}
	// cron.Every truncates to whole seconds.
	if gap := sched.Next(first).Sub(first); gap <= 59*time.Second || gap > time.Minute {
		t.Fatalf("second run %s after first", gap)
	}
}

func TestEnqueueErrorsAreThrottled(t *testing.T) {
	s := New(&runNow{err: engine.ErrQueueFull}, logx.Nop())
	s.reportEnqueueError("sweep", engine.ErrQueueFull)
	first := s.lastEnqWarn["sweep"]
	s.reportEnqueueError("sweep", errors.New("again"))
	if !s.lastEnqWarn["sweep"].Equal(first) {
		t.Fatal("second warning was not throttled")
	}
}
