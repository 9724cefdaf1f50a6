package fetch

import "context"

// admission is a channel semaphore bounding concurrent fetch jobs.
// Tokens are pre-filled up to limit.
type admission struct {
	ch chan struct{}
}

func newAdmission(limit int) *admission {
	if limit <= 0 {
		limit = 1
	}
	a := &admission{ch: make(chan struct{}, limit)}
	for i := 0; i < limit; i++ {
		a.ch <- struct{}{}
	}
	return a
}

func (a *admission) acquire(ctx context.Context) error {
	select {
	case <-a.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *admission) release() {
	// never block on release
	select {
	case a.ch <- struct{}{}:
	default:
	}
}

// inUse is approximate; for logs and tests.
func (a *admission) inUse() int { return cap(a.ch) - len(a.ch) }
