package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"tubebot/internal/task/engine"
	logx "tubebot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func newParser() cron.Parser {
	// SecondOptional allows both 5-field and 6-field (with seconds) specs.
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// ValidSpec reports whether spec can be scheduled.
func ValidSpec(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return errors.New("schedule required")
	}
	if _, err := newParser().Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

func New(eng Enqueuer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:         log,
		engine:      eng,
		parser:      newParser(),
		lastEnqWarn: map[string]time.Time{},
	}
}

// Add registers a job. Jobs added while running are scheduled immediately.
func (s *Service) Add(j Job) error {
	j.Name = strings.TrimSpace(j.Name)
	if j.Name == "" || j.Run == nil {
		return errors.New("scheduler: job needs a name and a Run func")
	}
	if err := ValidSpec(j.Spec); err != nil {
		return fmt.Errorf("scheduler: %s: %w", j.Name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.defs {
		if d.job.Name == j.Name {
			return fmt.Errorf("scheduler: duplicate job %q", j.Name)
		}
	}
	d := &scheduleDef{job: j}
	s.defs = append(s.defs, d)
	if s.c != nil {
		return s.addCronLocked(d)
	}
	return nil
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithParser(s.parser))
	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Warn("schedule not registered", logx.String("schedule", d.job.Name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering. Jobs already handed to the engine are not affected.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.job.Name, Spec: d.job.Spec, StartupSpread: d.startupSpread}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	j := d.job
	fire := cron.FuncJob(func() {
		err := s.engine.Enqueue(engine.Task{
			Key:     "schedule:" + j.Name,
			Name:    j.Name,
			Timeout: j.Timeout,
			Run:     j.Run,
		})
		if err != nil {
			s.reportEnqueueError(j.Name, err)
		}
	})

	spec := strings.TrimSpace(j.Spec)
	if rest, ok := strings.CutPrefix(spec, "@every"); ok {
		if every, err := time.ParseDuration(strings.TrimSpace(rest)); err == nil && every > 0 {
			sched, jitter := intervalWithSpread(every, time.Now(), j.Name)
			d.startupSpread = jitter
			d.entryID = s.c.Schedule(sched, fire)
			return nil
		}
	}
	d.startupSpread = 0
	id, err := s.c.AddJob(spec, fire)
	if err == nil {
		d.entryID = id
	}
	return err
}

func (s *Service) reportEnqueueError(name string, err error) {
	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	if errors.Is(err, engine.ErrStopping) || errors.Is(err, engine.ErrStopped) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.Err(err))
		return
	}
	s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
}
