package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tubebot/internal/eventbus"
	rtsup "tubebot/internal/runtime/supervisor"
	logx "tubebot/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service runs tasks on a fixed worker pool with per-key FIFO lanes.
//
// A key is "active" while it sits in the ready channel or a worker runs one
// of its tasks; an active key is never handed to a second worker. Total
// pending tasks are bounded by QueueSize, and the ready channel has the same
// capacity, so handing a key to ready never blocks.
type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	mu       sync.Mutex
	lanes    map[string]*lane
	pending  int
	inFlight int
	ready    chan string
	running  bool
	stopping bool
	idle     chan struct{} // closed once drained during Stop
	sup      *rtsup.Supervisor

	hmu     sync.Mutex
	history []HistoryItem

	idSeq          atomic.Uint64
	dropped        atomic.Uint64
	panics         atomic.Uint64
	lastDropWarnAt atomic.Int64
}

type lane struct {
	q    []queuedTask
	busy bool
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{
		cfg:   cfg.withDefaults(),
		log:   log,
		bus:   bus,
		lanes: map[string]*lane{},
	}
}

// Start launches the workers. It is a no-op when already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopping = false
	s.ready = make(chan string, s.cfg.QueueSize)
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	sup, ready := s.sup, s.ready
	s.mu.Unlock()

	for i := 0; i < s.cfg.Workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, ready)
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("task engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop refuses new tasks, waits for queued and running tasks until ctx is
// done, then cancels whatever is still running.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.idle = make(chan struct{})
	if s.pending == 0 && s.inFlight == 0 {
		close(s.idle)
	}
	idle, sup := s.idle, s.sup
	s.mu.Unlock()

	drained := true
	select {
	case <-idle:
	case <-ctx.Done():
		drained = false
	}
	sup.Cancel()
	wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = sup.Wait(wctx)

	s.mu.Lock()
	abandoned := s.pending
	s.lanes = map[string]*lane{}
	s.pending = 0
	s.running = false
	s.mu.Unlock()

	if drained {
		s.log.Info("task engine stopped")
	} else {
		s.dropped.Add(uint64(abandoned))
		s.log.Warn("task engine stop timed out; in-flight tasks cancelled", logx.Int("abandoned", abandoned), logx.Err(ctx.Err()))
	}
}

// Enqueue adds t to its key's lane without blocking.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		t.Name = "task"
	}
	now := time.Now()
	if t.ID == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.idSeq.Add(1))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !s.running:
		return ErrStopped
	case s.stopping:
		return ErrStopping
	case s.pending >= s.cfg.QueueSize:
		s.onDropped(now, t)
		return ErrQueueFull
	}

	l := s.lanes[t.Key]
	if l == nil {
		l = &lane{}
		s.lanes[t.Key] = l
	}
	l.q = append(l.q, queuedTask{task: t, enqueuedAt: now})
	s.pending++
	if !l.busy {
		s.markReady(t.Key)
	}
	return nil
}

func (s *Service) markReady(key string) {
	s.lanes[key].busy = true
	select {
	case s.ready <- key:
	default:
		// Unreachable while pending <= QueueSize; never lose the lane.
		go func(ready chan string) { ready <- key }(s.ready)
	}
}

// take pops the next task of key. Caller must hold mu.
func (s *Service) take(key string) (queuedTask, bool) {
	l := s.lanes[key]
	if l == nil || len(l.q) == 0 {
		return queuedTask{}, false
	}
	qt := l.q[0]
	l.q[0] = queuedTask{}
	l.q = l.q[1:]
	s.pending--
	s.inFlight++
	return qt, true
}

// done releases key after one task. Caller must hold mu.
func (s *Service) done(key string) {
	s.inFlight--
	l := s.lanes[key]
	switch {
	case l == nil:
	case len(l.q) > 0:
		s.markReady(key)
	default:
		delete(s.lanes, key)
	}
	if s.stopping && s.pending == 0 && s.inFlight == 0 {
		select {
		case <-s.idle:
		default:
			close(s.idle)
		}
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Workers:  s.cfg.Workers,
		Pending:  s.pending,
		QueueCap: s.cfg.QueueSize,
		InFlight: s.inFlight,
		Lanes:    len(s.lanes),
	}
	s.mu.Unlock()
	snap.Dropped = s.dropped.Load()
	snap.Panics = s.panics.Load()

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if n := s.cfg.HistorySize; len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
	s.hmu.Unlock()
}

func (s *Service) onDropped(now time.Time, t Task) {
	s.dropped.Add(1)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskDropped, Time: now, Data: TaskEvent{ID: t.ID, Key: t.Key, Name: t.Name, Started: now, Error: "queue_full"}})
	}
	prev := s.lastDropWarnAt.Load()
	if prev != 0 && now.UnixNano()-prev < int64(warnThrottleEvery) {
		return
	}
	if s.lastDropWarnAt.CompareAndSwap(prev, now.UnixNano()) {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.String("key", t.Key),
			logx.Int("pending", s.pending),
			logx.Uint64("dropped", s.dropped.Load()),
		)
	}
}
