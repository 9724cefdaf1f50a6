package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"tubebot/internal/media"
	"tubebot/internal/scratch"
)

// Request describes what a strategy must retrieve.
type Request struct {
	Source media.SourceRef
	Handle string
	Kind   media.Kind
}

// Strategy retrieves the bytes of one format into dst.
// It must respect ctx and should stop early once maxBytes is exceeded.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, req Request, dst *scratch.File, maxBytes int64) error
}

// StreamOpener opens the byte stream of a format.
type StreamOpener interface {
	OpenStream(ctx context.Context, id, handle string) (io.ReadCloser, int64, error)
}

// StreamStrategy copies the format stream straight into the scratch file.
type StreamStrategy struct {
	open StreamOpener
}

func NewStreamStrategy(open StreamOpener) *StreamStrategy {
	return &StreamStrategy{open: open}
}

func (s *StreamStrategy) Name() string { return "stream" }

func (s *StreamStrategy) Fetch(ctx context.Context, req Request, dst *scratch.File, maxBytes int64) error {
	rc, size, err := s.open.OpenStream(ctx, req.Source.ID, req.Handle)
	if err != nil {
		return err
	}
	defer rc.Close()
	// Unblock a pending Read when the deadline hits.
	stop := context.AfterFunc(ctx, func() { _ = rc.Close() })
	defer stop()

	if maxBytes > 0 && size > maxBytes {
		return fmt.Errorf("%w: advertised %d bytes", media.ErrTooLarge, size)
	}

	out, err := dst.Create()
	if err != nil {
		return err
	}
	var src io.Reader = rc
	if maxBytes > 0 {
		src = io.LimitReader(rc, maxBytes+1)
	}
	n, copyErr := io.Copy(out, src)
	closeErr := out.Close()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if copyErr != nil {
		return fmt.Errorf("stream copy: %w", copyErr)
	}
	if closeErr != nil {
		return closeErr
	}
	if maxBytes > 0 && n > maxBytes {
		return fmt.Errorf("%w: more than %d bytes", media.ErrTooLarge, maxBytes)
	}
	return nil
}

// errNoStrategy is returned when the engine has no strategy configured.
var errNoStrategy = errors.New("fetch: no strategy configured")
