package config

import (
	"errors"
	"fmt"
	"strings"

	logx "tubebot/pkg/logx"
)

var ErrMissingToken = errors.New("telegram.token is required (set BOT_TOKEN)")

// Validate checks a fully assembled config (defaults and env applied).
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, ErrMissingToken)
	}
	if !logx.ValidLevel(c.Logging.Level) {
		add("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.Telegram.Enabled && !logx.ValidLevel(c.Logging.Telegram.MinLevel) {
		add("logging.telegram.min_level: unknown level %q", c.Logging.Telegram.MinLevel)
	}

	if c.Media.MaxFileSize <= 0 {
		add("media.max_file_size must be > 0")
	}
	if c.Media.MinVideoBytes < 0 || c.Media.MinAudioBytes < 0 {
		add("media.min_*_bytes must be >= 0")
	}

	switch c.Fetch.Strategy {
	case StrategyStream, StrategyYtdlp:
	default:
		add("fetch.strategy: must be %q or %q, got %q", StrategyStream, StrategyYtdlp, c.Fetch.Strategy)
	}
	if c.Fetch.MaxConcurrentJobs <= 0 {
		add("fetch.max_concurrent_jobs must be > 0")
	}
	if c.Engine.Workers <= 0 || c.Engine.QueueSize <= 0 {
		add("engine.workers and engine.queue_size must be > 0")
	}
	if strings.TrimSpace(c.Scratch.Dir) == "" {
		add("scratch.dir is required")
	}

	for path, raw := range map[string]string{
		"telegram.poll_timeout":  c.Telegram.PollTimeout,
		"media.max_duration":     c.Media.MaxDuration,
		"fetch.timeout":          c.Fetch.Timeout,
		"fetch.delivery_timeout": c.Fetch.DeliveryTimeout,
		"engine.shutdown_grace":  c.Engine.ShutdownGrace,
		"session.ttl":            c.Session.TTL,
		"scratch.max_age":        c.Scratch.MaxAge,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RestartRequired lists changed settings that only take effect after a restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		out = append(out, "telegram.token")
	}
	if oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		out = append(out, "telegram.poll_timeout")
	}
	if oldCfg.Fetch.Strategy != newCfg.Fetch.Strategy {
		out = append(out, "fetch.strategy")
	}
	if oldCfg.Fetch.MaxConcurrentJobs != newCfg.Fetch.MaxConcurrentJobs {
		out = append(out, "fetch.max_concurrent_jobs")
	}
	if oldCfg.Fetch.DeliveryTimeout != newCfg.Fetch.DeliveryTimeout {
		out = append(out, "fetch.delivery_timeout")
	}
	if oldCfg.Fetch.YtdlpPath != newCfg.Fetch.YtdlpPath || oldCfg.Fetch.FfmpegPath != newCfg.Fetch.FfmpegPath {
		out = append(out, "fetch tool paths")
	}
	if oldCfg.Media.DeliverableContainer != newCfg.Media.DeliverableContainer {
		out = append(out, "media.deliverable_container")
	}
	if oldCfg.Engine != newCfg.Engine {
		out = append(out, "engine")
	}
	if oldCfg.Scratch.Dir != newCfg.Scratch.Dir {
		out = append(out, "scratch.dir")
	}
	if oldCfg.Session.Sweep != newCfg.Session.Sweep || oldCfg.Scratch.Sweep != newCfg.Scratch.Sweep {
		out = append(out, "sweep schedules")
	}
	return out
}
