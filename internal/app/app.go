package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"tubebot/internal/config"
	"tubebot/internal/delivery"
	"tubebot/internal/eventbus"
	"tubebot/internal/fetch"
	"tubebot/internal/orchestrator"
	"tubebot/internal/resolver"
	rtsup "tubebot/internal/runtime/supervisor"
	"tubebot/internal/scratch"
	"tubebot/internal/session"
	"tubebot/internal/task/engine"
	"tubebot/internal/task/scheduler"
	kit "tubebot/internal/transport"
	telegram "tubebot/internal/transport/telegram/adapter"
	"tubebot/internal/youtube"
	logx "tubebot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	adapter kit.Adapter

	engine   *engine.Service
	sched    *scheduler.Service
	sessions *session.Store
	scratch  *scratch.Workspace
	fetcher  *fetch.Engine
	orch     *orchestrator.Orchestrator

	// deliveryTimeout needs a restart to change; fetch limits reload live.
	deliveryTimeout time.Duration

	updates chan kit.Update
}

// NewApp loads and validates the config and builds every component. It
// fails before any network polling when the config is unusable.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	d := cfg.Durations()

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: d.PollTimeout,
		// The delivery gate deadline fires first; this only backs it up.
		SendTimeout: d.DeliveryTimeout + 30*time.Second,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	bus := eventbus.New()

	ws, err := scratch.New(afero.NewOsFs(), cfg.Scratch.Dir, log.With(logx.String("comp", "scratch")))
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}

	engineSvc := engine.New(mapEngineConfig(cfg), log.With(logx.String("comp", "taskengine")), bus)
	sessions := session.NewStore(d.SessionTTL)

	yt := youtube.New(newHTTPClient())
	fetchLog := log.With(logx.String("comp", "fetch"))
	fetcher := fetch.New(ws,
		newStrategy(cfg, yt, fetchLog),
		fetch.FFmpeg{Path: cfg.Fetch.FfmpegPath},
		cfg.Fetch.MaxConcurrentJobs,
		mapLimits(cfg),
		fetchLog,
	)
	gate := delivery.New(ad, func() int64 { return fetcher.Limits().MaxBytes }, d.DeliveryTimeout,
		log.With(logx.String("comp", "delivery")))

	orch := orchestrator.New(orchestrator.Deps{
		Resolver: resolver.New(yt, log.With(logx.String("comp", "resolver"))),
		Sessions: sessions,
		Fetcher:  fetcher,
		Gate:     gate,
		Out:      ad,
		Bus:      bus,
		Log:      log.With(logx.String("comp", "orchestrator")),
		Policy:   mapPolicy(cfg),
	})

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		adapter:  ad,
		engine:   engineSvc,
		sessions: sessions,
		scratch:  ws,
		fetcher:  fetcher,
		orch:     orch,

		deliveryTimeout: d.DeliveryTimeout,
		updates:         make(chan kit.Update, 256),
	}
	a.sched = scheduler.New(engineSvc, log.With(logx.String("comp", "scheduler")))
	if err := a.registerMaintenance(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// registerMaintenance schedules the session TTL sweep, the scratch janitor
// and the periodic stats line.
func (a *App) registerMaintenance(cfg *config.Config) error {
	maxAge := cfg.Durations().ScratchMaxAge
	jobs := []scheduler.Job{
		{
			Name:    "session.sweep",
			Spec:    cfg.Session.Sweep,
			Timeout: 10 * time.Second,
			Run: func(ctx context.Context) error {
				if n := a.sessions.Sweep(); n > 0 {
					a.log.Debug("expired sessions removed", logx.Int("count", n))
				}
				return nil
			},
		},
		{
			Name:    "scratch.sweep",
			Spec:    cfg.Scratch.Sweep,
			Timeout: 30 * time.Second,
			Run: func(ctx context.Context) error {
				n, err := a.scratch.Sweep(maxAge)
				if n > 0 {
					a.log.Warn("stale scratch files removed", logx.Int("count", n), logx.Duration("max_age", maxAge))
				}
				return err
			},
		},
		{
			Name:    "stats.report",
			Spec:    statsSpec,
			Timeout: 5 * time.Second,
			Run: func(ctx context.Context) error {
				a.reportStats()
				return nil
			},
		},
	}
	for _, j := range jobs {
		if err := a.sched.Add(j); err != nil {
			return err
		}
	}
	return nil
}

// taskTimeout follows the live fetch timeout.
func (a *App) taskTimeout() time.Duration {
	return taskTimeout(a.fetcher.Limits().Timeout, a.deliveryTimeout)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := scheduler.ValidSpec(cfg.Session.Sweep); err != nil {
			return fmt.Errorf("session.sweep: %w", err)
		}
		if err := scheduler.ValidSpec(cfg.Scratch.Sweep); err != nil {
			return fmt.Errorf("scratch.sweep: %w", err)
		}
		return nil
	})

	if n, err := a.scratch.Purge(); err != nil {
		a.log.Warn("scratch purge failed", logx.String("dir", a.scratch.Dir()), logx.Err(err))
	} else if n > 0 {
		a.log.Info("leftover scratch files removed", logx.Int("count", n))
	}

	// The engine outlives the run context so a shutdown signal does not
	// abort in-flight requests; Stop drains it within the grace window.
	a.engine.Start(context.WithoutCancel(ctx))
	a.sched.Start()
	a.logSchedules()

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("updates.dispatch", func(c context.Context) error {
		return dispatchLoop(c, a.updates, a.engine, a.orch, a.adapter, a.taskTimeout, a.log)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("strategy", a.cfgm.Get().Fetch.Strategy),
		logx.Int("max_jobs", a.cfgm.Get().Fetch.MaxConcurrentJobs),
		logx.String("scratch", a.scratch.Dir()),
	)
	return nil
}

// applyConfig pushes live settings to running components.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	a.logs.Apply(mapLogConfig(newCfg))
	a.fetcher.SetLimits(mapLimits(newCfg))
	a.sessions.SetTTL(newCfg.Durations().SessionTTL)

	if fields := config.RestartRequired(oldCfg, newCfg); len(fields) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Any("fields", fields))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now()})
	a.log.Info("config applied",
		logx.Int64("max_file_size", newCfg.Media.MaxFileSize),
		logx.String("max_duration", newCfg.Media.MaxDuration),
		logx.String("fetch_timeout", newCfg.Fetch.Timeout),
		logx.String("level", newCfg.Logging.Level),
	)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				limit = min(limit, max(time.Until(dl), 0))
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	grace := a.cfgm.Get().Durations().ShutdownGrace

	// No new updates, then no new triggers, then drain what is queued.
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("scheduler", time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", grace+6*time.Second, func(c context.Context) error {
		gctx, cancel := context.WithTimeout(c, grace)
		defer cancel()
		a.engine.Stop(gctx)
		return nil
	})

	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("scratch", time.Second, func(c context.Context) error {
		_, err := a.scratch.Purge()
		return err
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
