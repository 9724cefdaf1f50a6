package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ApplyDefaults fills zero-valued fields. It never overwrites explicit values.
func ApplyDefaults(c *Config) {
	if strings.TrimSpace(c.Telegram.PollTimeout) == "" {
		c.Telegram.PollTimeout = "10s"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Telegram.RatePerSec <= 0 {
		c.Logging.Telegram.RatePerSec = 1
	}
	if strings.TrimSpace(c.Logging.Telegram.MinLevel) == "" {
		c.Logging.Telegram.MinLevel = "warn"
	}

	m := &c.Media
	if m.MaxFileSize <= 0 {
		m.MaxFileSize = DefaultMaxFileSize
	}
	if strings.TrimSpace(m.MaxDuration) == "" {
		m.MaxDuration = DefaultMaxDuration.String()
	}
	if m.MinVideoBytes <= 0 {
		m.MinVideoBytes = 10 * 1024
	}
	if m.MinAudioBytes <= 0 {
		m.MinAudioBytes = 1024
	}
	if strings.TrimSpace(m.DeliverableContainer) == "" {
		m.DeliverableContainer = "mp4"
	}
	if strings.TrimSpace(m.AudioTarget) == "" {
		m.AudioTarget = "mp3"
	}

	f := &c.Fetch
	if strings.TrimSpace(f.Strategy) == "" {
		f.Strategy = StrategyStream
	}
	if strings.TrimSpace(f.Timeout) == "" {
		f.Timeout = DefaultFetchTimeout.String()
	}
	if f.MaxConcurrentJobs <= 0 {
		f.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	if strings.TrimSpace(f.YtdlpPath) == "" {
		f.YtdlpPath = "yt-dlp"
	}
	if strings.TrimSpace(f.FfmpegPath) == "" {
		f.FfmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(f.DeliveryTimeout) == "" {
		f.DeliveryTimeout = "5m"
	}

	e := &c.Engine
	if e.Workers <= 0 {
		e.Workers = 16
	}
	if e.QueueSize <= 0 {
		e.QueueSize = 1024
	}
	if strings.TrimSpace(e.ShutdownGrace) == "" {
		e.ShutdownGrace = "10s"
	}
	if e.HistorySize <= 0 {
		e.HistorySize = 200
	}

	if strings.TrimSpace(c.Session.TTL) == "" {
		c.Session.TTL = DefaultSessionTTL.String()
	}
	if strings.TrimSpace(c.Session.Sweep) == "" {
		c.Session.Sweep = "@every 1m"
	}

	if strings.TrimSpace(c.Scratch.Dir) == "" {
		c.Scratch.Dir = filepath.Join(os.TempDir(), "tubebot")
	}
	if strings.TrimSpace(c.Scratch.MaxAge) == "" {
		c.Scratch.MaxAge = "1h"
	}
	if strings.TrimSpace(c.Scratch.Sweep) == "" {
		c.Scratch.Sweep = "@every 5m"
	}
}
