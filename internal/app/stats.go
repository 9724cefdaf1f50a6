package app

import (
	"time"

	"tubebot/internal/task/engine"
	logx "tubebot/pkg/logx"
)

const statsSpec = "@every 5m"

type runtimeStats struct {
	Engine   engine.Snapshot
	Failed   int
	LastErr  string
	Slowest  time.Duration
	Fetching int
	Sessions int
	Scratch  int
}

// stats summarizes the engine history window and the live resource counters.
func (a *App) stats() runtimeStats {
	st := runtimeStats{
		Engine:   a.engine.Snapshot(),
		Fetching: a.fetcher.InFlight(),
		Sessions: a.sessions.Len(),
		Scratch:  a.scratch.Count(),
	}
	for _, h := range st.Engine.History {
		if h.Error != "" {
			st.Failed++
			st.LastErr = h.Error
		}
		st.Slowest = max(st.Slowest, h.Duration)
	}
	return st
}

func (a *App) reportStats() {
	st := a.stats()
	fields := []logx.Field{
		logx.Int("pending", st.Engine.Pending),
		logx.Int("in_flight", st.Engine.InFlight),
		logx.Int("lanes", st.Engine.Lanes),
		logx.Uint64("dropped", st.Engine.Dropped),
		logx.Uint64("panics", st.Engine.Panics),
		logx.Int("recent", len(st.Engine.History)),
		logx.Int("recent_failed", st.Failed),
		logx.Duration("slowest", st.Slowest),
		logx.Int("fetching", st.Fetching),
		logx.Int("sessions", st.Sessions),
		logx.Int("scratch_files", st.Scratch),
	}
	if st.LastErr != "" {
		fields = append(fields, logx.String("last_error", st.LastErr))
	}
	a.log.Debug("runtime stats", fields...)
}

func (a *App) logSchedules() {
	for _, s := range a.sched.Schedules() {
		a.log.Info("schedule registered",
			logx.String("name", s.Name),
			logx.String("spec", s.Spec),
			logx.Time("next", s.Next),
		)
	}
}
