package config

import "time"

// Config is the whole process configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "15m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Media    MediaConfig    `json:"media"`
	Fetch    FetchConfig    `json:"fetch"`
	Engine   EngineConfig   `json:"engine"`
	Session  SessionConfig  `json:"session"`
	Scratch  ScratchConfig  `json:"scratch"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout (default "10s").
	PollTimeout string `json:"poll_timeout"`
	// LogChat receives warning/error log lines when logging.telegram is enabled.
	LogChat int64 `json:"log_chat,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// MediaConfig holds the delivery policy limits.
type MediaConfig struct {
	MaxFileSize          int64  `json:"max_file_size"`
	MaxDuration          string `json:"max_duration"`
	MinVideoBytes        int64  `json:"min_video_bytes"`
	MinAudioBytes        int64  `json:"min_audio_bytes"`
	DeliverableContainer string `json:"deliverable_container"`
	AudioTarget          string `json:"audio_target"`
}

// FetchConfig controls media retrieval.
//
// Strategy is "stream" (direct download) or "ytdlp" (external yt-dlp binary).
type FetchConfig struct {
	Strategy          string `json:"strategy"`
	Timeout           string `json:"timeout"`
	MaxConcurrentJobs int    `json:"max_concurrent_jobs"`
	YtdlpPath         string `json:"ytdlp_path,omitempty"`
	FfmpegPath        string `json:"ffmpeg_path,omitempty"`
	DeliveryTimeout   string `json:"delivery_timeout"`
}

// EngineConfig controls the per-chat event executor.
type EngineConfig struct {
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	ShutdownGrace string `json:"shutdown_grace"`
	HistorySize   int    `json:"history_size"`
}

type SessionConfig struct {
	TTL   string `json:"ttl"`
	Sweep string `json:"sweep"`
}

type ScratchConfig struct {
	Dir    string `json:"dir"`
	MaxAge string `json:"max_age"`
	Sweep  string `json:"sweep"`
}

const (
	StrategyStream = "stream"
	StrategyYtdlp  = "ytdlp"
)

const (
	DefaultMaxFileSize       int64 = 50 * 1024 * 1024
	DefaultMaxDuration             = 600 * time.Second
	DefaultFetchTimeout            = 120 * time.Second
	DefaultMaxConcurrentJobs       = 4
	DefaultSessionTTL              = 15 * time.Minute
)

// Durations are the parsed duration fields. Only valid after Validate succeeded.
type Durations struct {
	PollTimeout     time.Duration
	MaxDuration     time.Duration
	FetchTimeout    time.Duration
	DeliveryTimeout time.Duration
	ShutdownGrace   time.Duration
	SessionTTL      time.Duration
	ScratchMaxAge   time.Duration
}

// Durations parses every duration field. Invalid values fall back to defaults;
// call Validate first to surface them as errors.
func (c *Config) Durations() Durations {
	d := func(path, raw string, def time.Duration) time.Duration {
		v, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			return def
		}
		return v
	}
	return Durations{
		PollTimeout:     d("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second),
		MaxDuration:     d("media.max_duration", c.Media.MaxDuration, DefaultMaxDuration),
		FetchTimeout:    d("fetch.timeout", c.Fetch.Timeout, DefaultFetchTimeout),
		DeliveryTimeout: d("fetch.delivery_timeout", c.Fetch.DeliveryTimeout, 5*time.Minute),
		ShutdownGrace:   d("engine.shutdown_grace", c.Engine.ShutdownGrace, 10*time.Second),
		SessionTTL:      d("session.ttl", c.Session.TTL, DefaultSessionTTL),
		ScratchMaxAge:   d("scratch.max_age", c.Scratch.MaxAge, time.Hour),
	}
}

// Redacted returns a copy safe to print or log.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Telegram.Token != "" {
		cp.Telegram.Token = "***"
	}
	return &cp
}
