package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tubebot/internal/task/engine"
	kit "tubebot/internal/transport"
	"tubebot/pkg/tgui"
	logx "tubebot/pkg/logx"
)

const msgBusy = "Too many requests right now. Try again in a minute."

type updateHandler interface {
	Handle(ctx context.Context, u kit.Update) error
}

type enqueuer interface {
	Enqueue(t engine.Task) error
}

// laneKey serializes all events of one chat (and forum thread).
func laneKey(t kit.ChatTarget) string {
	return fmt.Sprintf("chat:%d:%d", t.ChatID, t.ThreadID)
}

// dispatchLoop hands every inbound update to the engine on its chat lane.
// Events of one chat run in arrival order; different chats run in parallel.
// timeout is read per update so live limit changes apply to the next event.
func dispatchLoop(ctx context.Context, updates <-chan kit.Update, eng enqueuer, h updateHandler, out kit.Outbound, timeout func() time.Duration, log logx.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			dest := u.Destination()
			var limit time.Duration
			if timeout != nil {
				limit = timeout()
			}
			err := eng.Enqueue(engine.Task{
				Key:     laneKey(dest),
				Name:    "update." + string(u.Kind),
				Timeout: limit,
				Run: func(c context.Context) error {
					return h.Handle(c, u)
				},
			})
			if err == nil {
				continue
			}
			log.Warn("update rejected", logx.Int64("chat_id", dest.ChatID), logx.Err(err))
			if errors.Is(err, engine.ErrQueueFull) {
				notifyBusy(ctx, out, u, log)
			}
		}
	}
}

func notifyBusy(ctx context.Context, out kit.Outbound, u kit.Update, log logx.Logger) {
	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if u.Button != nil && u.Button.ID != "" {
		_ = out.Acknowledge(c, u.Button.ID)
	}
	if _, err := out.SendText(c, u.Destination(), string(tgui.Esc(msgBusy))); err != nil {
		log.Debug("busy notice failed", logx.Err(err))
	}
}
