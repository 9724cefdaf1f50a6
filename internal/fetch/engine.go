// Package fetch retrieves and, for audio, transcodes media into scoped
// scratch files while enforcing size, duration and time limits.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tubebot/internal/media"
	"tubebot/internal/scratch"
	logx "tubebot/pkg/logx"
)

// Limits are the live policy limits. They can be swapped at runtime.
type Limits struct {
	MaxBytes      int64
	MaxDuration   time.Duration
	MinVideoBytes int64
	MinAudioBytes int64
	Timeout       time.Duration
	// AudioTarget is the container audio artifacts are converted to ("" keeps the source container).
	AudioTarget string
}

// Job is one fetch request. It is owned by the engine for its lifetime.
type Job struct {
	ID        string
	Source    media.SourceRef
	Meta      media.Metadata
	Kind      media.Kind
	Rendition media.Rendition
}

// Artifact is the finished file, owned by the caller. Release removes it.
type Artifact struct {
	File     *scratch.File
	JobID    string
	Kind     media.Kind
	Name     string
	MIME     string
	Title    string
	Duration time.Duration
	Size     int64
}

func (a *Artifact) Release() error {
	if a == nil || a.File == nil {
		return nil
	}
	return a.File.Release()
}

type Engine struct {
	ws         *scratch.Workspace
	strategy   Strategy
	transcoder Transcoder
	adm        *admission
	limits     atomic.Pointer[Limits]
	log        logx.Logger
}

// New creates an engine admitting at most maxJobs concurrent fetches.
func New(ws *scratch.Workspace, strategy Strategy, transcoder Transcoder, maxJobs int, limits Limits, log logx.Logger) *Engine {
	e := &Engine{ws: ws, strategy: strategy, transcoder: transcoder, adm: newAdmission(maxJobs), log: log}
	e.SetLimits(limits)
	return e
}

func (e *Engine) SetLimits(l Limits) {
	if l.Timeout <= 0 {
		l.Timeout = 120 * time.Second
	}
	e.limits.Store(&l)
}

func (e *Engine) Limits() Limits { return *e.limits.Load() }

// InFlight reports how many jobs currently hold an admission slot.
func (e *Engine) InFlight() int { return e.adm.inUse() }

// CheckDuration rejects sources longer than the duration ceiling.
func (e *Engine) CheckDuration(md media.Metadata) error {
	lim := e.Limits()
	if lim.MaxDuration > 0 && md.Duration > lim.MaxDuration {
		return fmt.Errorf("%w: %s > %s", media.ErrTooLong, md.Duration, lim.MaxDuration)
	}
	return nil
}

// Preflight applies the gates that need no download.
func (e *Engine) Preflight(job Job) error {
	if err := e.CheckDuration(job.Meta); err != nil {
		return err
	}
	lim := e.Limits()
	if lim.MaxBytes > 0 && job.Rendition.ContentLength > lim.MaxBytes {
		return fmt.Errorf("%w: advertised %d bytes", media.ErrTooLarge, job.Rendition.ContentLength)
	}
	return nil
}

// Fetch runs the job. On success the returned artifact is the only file
// left behind; on any failure no file of the job remains.
func (e *Engine) Fetch(ctx context.Context, job Job) (*Artifact, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if e.strategy == nil {
		return nil, errNoStrategy
	}
	if err := e.Preflight(job); err != nil {
		return nil, err
	}
	lim := e.Limits()
	log := e.log.With(logx.String("job", job.ID), logx.String("id", job.Source.ID), logx.String("kind", string(job.Kind)))

	if err := e.adm.acquire(ctx); err != nil {
		return nil, fmt.Errorf("%w: waiting for a slot: %w", media.ErrDownloadFailed, err)
	}
	defer e.adm.release()

	fctx, cancel := context.WithTimeout(ctx, lim.Timeout)
	defer cancel()

	scope := e.ws.Scope()
	defer func() {
		if err := scope.Close(); err != nil {
			log.Warn("scratch cleanup failed", logx.Err(err))
		}
	}()

	start := time.Now()
	art, err := e.run(fctx, scope, job, lim)
	if err != nil {
		if errors.Is(fctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s: %w", media.ErrTimeout, lim.Timeout, err)
		}
		log.Debug("fetch failed", logx.Duration("took", time.Since(start)), logx.Err(err))
		return nil, err
	}
	scope.Detach(art.File)
	log.Debug("fetch done", logx.Duration("took", time.Since(start)), logx.Int64("bytes", art.Size))
	return art, nil
}

func (e *Engine) run(ctx context.Context, scope *scratch.Scope, job Job, lim Limits) (*Artifact, error) {
	ext := job.Rendition.Container
	if ext == "" {
		ext = "bin"
	}
	raw, err := scope.Acquire(string(job.Kind), ext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", media.ErrDownloadFailed, err)
	}
	req := Request{Source: job.Source, Handle: job.Rendition.Handle, Kind: job.Kind}
	if err := e.strategy.Fetch(ctx, req, raw, lim.MaxBytes); err != nil {
		return nil, downloadErr(err)
	}

	final := raw
	target := strings.ToLower(strings.TrimSpace(lim.AudioTarget))
	if job.Kind == media.KindAudio && target != "" && raw.Ext() != target && e.transcoder != nil {
		out, err := scope.Acquire("audio", target)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", media.ErrDownloadFailed, err)
		}
		if err := e.transcoder.Transcode(ctx, raw, out, target); err != nil {
			return nil, downloadErr(err)
		}
		_ = raw.Release()
		final = out
	}

	size, err := final.Size()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", media.ErrDownloadFailed, err)
	}
	minBytes := lim.MinVideoBytes
	if job.Kind == media.KindAudio {
		minBytes = lim.MinAudioBytes
	}
	if size == 0 || size < minBytes {
		return nil, fmt.Errorf("%w: artifact is %d bytes", media.ErrDownloadFailed, size)
	}
	if lim.MaxBytes > 0 && size > lim.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", media.ErrTooLarge, size)
	}

	return &Artifact{
		File:     final,
		JobID:    job.ID,
		Kind:     job.Kind,
		Name:     FileName(job.Meta.Title, job.Source.ID, final.Ext()),
		MIME:     mimeFor(job.Kind, final.Ext()),
		Title:    job.Meta.Title,
		Duration: job.Meta.Duration,
		Size:     size,
	}, nil
}

// downloadErr keeps taxonomy errors and wraps anything else as DownloadFailed.
func downloadErr(err error) error {
	switch media.Classify(err) {
	case media.KindUnknown:
		return fmt.Errorf("%w: %w", media.ErrDownloadFailed, err)
	default:
		return err
	}
}

// FileName builds a safe delivery file name from the title.
func FileName(title, fallback, ext string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`\/:*?"<>|`, r) || r < 0x20 {
			return -1
		}
		return r
	}, strings.TrimSpace(title))
	name = strings.Join(strings.Fields(name), " ")
	if r := []rune(name); len(r) > 80 {
		name = strings.TrimSpace(string(r[:80]))
	}
	if name == "" {
		name = fallback
	}
	if ext == "" {
		return name
	}
	return name + "." + ext
}

func mimeFor(kind media.Kind, ext string) string {
	switch strings.ToLower(ext) {
	case "mp3":
		return "audio/mpeg"
	case "m4a":
		return "audio/mp4"
	case "ogg", "opus":
		return "audio/ogg"
	case "webm":
		if kind == media.KindAudio {
			return "audio/webm"
		}
		return "video/webm"
	case "mp4":
		if kind == media.KindAudio {
			return "audio/mp4"
		}
		return "video/mp4"
	}
	return "application/octet-stream"
}
