package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tubebot/internal/task/engine"
	logx "tubebot/pkg/logx"
)

// Enqueuer is the part of the task engine the scheduler needs.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

// Job is a named periodic job. Spec is a cron expression (seconds optional)
// or a descriptor such as "@every 1m" or "@hourly".
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type scheduleDef struct {
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	engine Enqueuer

	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name          string
	Spec          string
	StartupSpread time.Duration
	Next          time.Time
	Prev          time.Time
}
