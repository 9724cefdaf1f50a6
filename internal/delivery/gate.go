// Package delivery hands finished artifacts to the transport.
package delivery

import (
	"context"
	"fmt"
	"time"

	"tubebot/internal/fetch"
	"tubebot/internal/media"
	"tubebot/internal/transport"
	logx "tubebot/pkg/logx"
)

// Gate re-validates an artifact and sends it. The artifact is always
// released, whatever the outcome.
type Gate struct {
	out      transport.Outbound
	maxBytes func() int64
	timeout  time.Duration
	log      logx.Logger
}

// New creates a gate. maxBytes is read per delivery so limit reloads apply.
func New(out transport.Outbound, maxBytes func() int64, timeout time.Duration, log logx.Logger) *Gate {
	return &Gate{out: out, maxBytes: maxBytes, timeout: timeout, log: log}
}

// Deliver sends art to dest as kind. Failures wrap media.ErrDeliveryFailed
// together with the specific cause.
func (g *Gate) Deliver(ctx context.Context, art *fetch.Artifact, dest transport.ChatTarget, kind media.Kind) (err error) {
	if art == nil || art.File == nil {
		return fmt.Errorf("%w: no artifact", media.ErrDeliveryFailed)
	}
	defer func() {
		if rerr := art.Release(); rerr != nil {
			g.log.Warn("artifact release failed", logx.String("path", art.File.Path()), logx.Err(rerr))
		}
	}()

	size, serr := art.File.Size()
	switch {
	case serr != nil:
		return fmt.Errorf("%w: %w: %w", media.ErrDeliveryFailed, media.ErrDownloadFailed, serr)
	case size == 0:
		return fmt.Errorf("%w: %w: empty artifact", media.ErrDeliveryFailed, media.ErrDownloadFailed)
	}
	if ceiling := g.maxBytes(); ceiling > 0 && size > ceiling {
		return fmt.Errorf("%w: %w: %d bytes", media.ErrDeliveryFailed, media.ErrTooLarge, size)
	}

	f, oerr := art.File.Open()
	if oerr != nil {
		return fmt.Errorf("%w: %w", media.ErrDeliveryFailed, oerr)
	}
	defer f.Close()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	file := transport.File{
		Name:     art.Name,
		MIME:     art.MIME,
		Size:     size,
		Reader:   f,
		Title:    art.Title,
		Duration: int(art.Duration / time.Second),
	}
	start := time.Now()
	switch kind {
	case media.KindAudio:
		err = g.out.SendAudio(ctx, dest, file)
	case media.KindVideo:
		err = g.out.SendVideo(ctx, dest, file)
	default:
		err = fmt.Errorf("unknown media kind %q", kind)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", media.ErrDeliveryFailed, err)
	}
	g.log.Debug("artifact delivered",
		logx.Int64("chat_id", dest.ChatID),
		logx.Int64("bytes", size),
		logx.Duration("took", time.Since(start)),
	)
	return nil
}
