package app

import (
	"net/http"
	"strings"
	"time"

	"tubebot/internal/catalog"
	"tubebot/internal/config"
	"tubebot/internal/fetch"
	"tubebot/internal/task/engine"
	"tubebot/internal/youtube"
	logx "tubebot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && cfg.Telegram.LogChat != 0,
			ChatID:     cfg.Telegram.LogChat,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapLimits(cfg *config.Config) fetch.Limits {
	d := cfg.Durations()
	return fetch.Limits{
		MaxBytes:      cfg.Media.MaxFileSize,
		MaxDuration:   d.MaxDuration,
		MinVideoBytes: cfg.Media.MinVideoBytes,
		MinAudioBytes: cfg.Media.MinAudioBytes,
		Timeout:       d.FetchTimeout,
		AudioTarget:   cfg.Media.AudioTarget,
	}
}

// taskTimeout bounds one event by the slowest path it can take:
// metadata lookup, fetch and delivery.
func taskTimeout(fetchTimeout, deliveryTimeout time.Duration) time.Duration {
	return fetchTimeout + deliveryTimeout + time.Minute
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	d := cfg.Durations()
	return engine.Config{
		Workers:        cfg.Engine.Workers,
		QueueSize:      cfg.Engine.QueueSize,
		HistorySize:    cfg.Engine.HistorySize,
		DefaultTimeout: taskTimeout(d.FetchTimeout, d.DeliveryTimeout),
	}
}

func mapPolicy(cfg *config.Config) catalog.Policy {
	return catalog.Policy{Container: cfg.Media.DeliverableContainer}
}

// newStrategy selects the fetch strategy. The stream strategy reuses the
// metadata client; http.Client.Timeout stays unset so long downloads are
// bounded by the job deadline only.
func newStrategy(cfg *config.Config, yt *youtube.Client, log logx.Logger) fetch.Strategy {
	switch strings.ToLower(strings.TrimSpace(cfg.Fetch.Strategy)) {
	case config.StrategyYtdlp:
		return fetch.NewYtdlpStrategy(cfg.Fetch.YtdlpPath, log)
	default:
		return fetch.NewStreamStrategy(yt)
	}
}

func newHTTPClient() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = 30 * time.Second
	return &http.Client{Transport: tr}
}
