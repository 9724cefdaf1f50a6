package fetch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"tubebot/internal/scratch"
)

// Transcoder converts src into dst in the target audio container.
type Transcoder interface {
	Transcode(ctx context.Context, src, dst *scratch.File, target string) error
}

// FFmpeg runs the ffmpeg binary. Like yt-dlp it needs OS file paths.
type FFmpeg struct {
	Path string
}

func audioCodecArgs(target string) []string {
	switch strings.ToLower(target) {
	case "mp3":
		return []string{"-c:a", "libmp3lame", "-b:a", "192k"}
	case "m4a", "aac":
		return []string{"-c:a", "aac", "-b:a", "192k"}
	case "ogg", "opus":
		return []string{"-c:a", "libopus", "-b:a", "128k"}
	default:
		return []string{"-c:a", "copy"}
	}
}

func (f FFmpeg) args(src, dst, target string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", src, "-vn"}
	args = append(args, audioCodecArgs(target)...)
	return append(args, dst)
}

func (f FFmpeg) Transcode(ctx context.Context, src, dst *scratch.File, target string) error {
	bin := f.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, f.args(src.Path(), dst.Path(), target)...)
	cmd.WaitDelay = 5 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
