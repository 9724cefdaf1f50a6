package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"tubebot/internal/eventbus"
	logx "tubebot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, ready <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case key := <-ready:
			s.mu.Lock()
			qt, ok := s.take(key)
			s.mu.Unlock()
			if !ok {
				continue
			}
			s.execOne(ctx, qt)
			s.mu.Lock()
			s.done(key)
			s.mu.Unlock()
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)
	t := qt.task

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.log.Debug("task.started", logx.String("task", t.Name), logx.String("key", t.Key), logx.Duration("queue_delay", queueDelay))

	var err error
	func() {
		// A panicking task must not kill the worker or leave its lane busy.
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.panics.Add(1)
				s.log.Error("task.panic", logx.String("task", t.Name), logx.String("key", t.Key), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				if s.bus != nil {
					s.bus.Publish(eventbus.Event{Type: eventbus.TaskPanicked, Time: time.Now(), Data: TaskEvent{ID: t.ID, Key: t.Key, Name: t.Name, Started: start, QueueDelay: queueDelay, Error: err.Error()}})
				}
			}
		}()
		err = t.Run(runCtx)
	}()

	dur := time.Since(start)
	item := HistoryItem{ID: t.ID, Key: t.Key, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("task.failed", logx.String("task", t.Name), logx.String("key", t.Key), logx.Err(err), logx.Duration("dur", dur))
	} else if dur >= 750*time.Millisecond {
		s.log.Info("task.completed", logx.String("task", t.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
	} else {
		s.log.Debug("task.completed", logx.String("task", t.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
	}
	s.record(item)
}
