package fetch

import (
	"context"
	"fmt"

	"github.com/lrstanley/go-ytdlp"

	"tubebot/internal/scratch"
	logx "tubebot/pkg/logx"
)

// YtdlpStrategy runs the external yt-dlp binary with an explicit format
// selection and output path. The scratch workspace must be on the OS
// filesystem for this strategy. The size ceiling is enforced by the engine
// after the process exits.
type YtdlpStrategy struct {
	executable string
	log        logx.Logger
}

func NewYtdlpStrategy(executable string, log logx.Logger) *YtdlpStrategy {
	return &YtdlpStrategy{executable: executable, log: log}
}

func (s *YtdlpStrategy) Name() string { return "ytdlp" }

func (s *YtdlpStrategy) command(req Request, dst *scratch.File) *ytdlp.Command {
	cmd := ytdlp.New().
		Format(req.Handle).
		Output(dst.Path()).
		NoPlaylist().
		NoPart().
		ForceOverwrites().
		Quiet()
	if s.executable != "" {
		cmd = cmd.SetExecutable(s.executable)
	}
	return cmd
}

func (s *YtdlpStrategy) Fetch(ctx context.Context, req Request, dst *scratch.File, maxBytes int64) error {
	res, err := s.command(req, dst).Run(ctx, req.Source.WatchURL())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stderr := ""
		if res != nil {
			stderr = res.Stderr
		}
		s.log.Debug("yt-dlp failed", logx.String("id", req.Source.ID), logx.String("stderr", stderr))
		return fmt.Errorf("yt-dlp: %w", err)
	}
	return nil
}
