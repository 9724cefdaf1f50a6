package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment variables recognized on top of the config file.
const (
	EnvBotToken          = "BOT_TOKEN"
	EnvMaxFileSizeBytes  = "MAX_FILE_SIZE_BYTES"
	EnvMaxDurationSecs   = "MAX_DURATION_SECONDS"
	EnvFetchTimeout      = "FETCH_TIMEOUT"
	EnvMaxConcurrentJobs = "MAX_CONCURRENT_JOBS"
	EnvFetchStrategy     = "FETCH_STRATEGY"
	EnvScratchDir        = "SCRATCH_DIR"
	EnvLogLevel          = "LOG_LEVEL"
)

// ApplyEnv overlays environment variables onto cfg. Set variables win over the file.
func ApplyEnv(cfg *Config) error {
	v := viper.New()
	bind := map[string]string{
		"token":   EnvBotToken,
		"maxsize": EnvMaxFileSizeBytes,
		"maxdur":  EnvMaxDurationSecs,
		"timeout": EnvFetchTimeout,
		"jobs":    EnvMaxConcurrentJobs,
		"strat":   EnvFetchStrategy,
		"scratch": EnvScratchDir,
		"level":   EnvLogLevel,
	}
	for key, env := range bind {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	str := func(key string) (string, bool) {
		if !v.IsSet(key) {
			return "", false
		}
		s := strings.TrimSpace(v.GetString(key))
		return s, s != ""
	}

	if s, ok := str("token"); ok {
		cfg.Telegram.Token = s
	}
	if s, ok := str("maxsize"); ok {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s: invalid byte count %q", EnvMaxFileSizeBytes, s)
		}
		cfg.Media.MaxFileSize = n
	}
	if s, ok := str("maxdur"); ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s: invalid seconds %q", EnvMaxDurationSecs, s)
		}
		cfg.Media.MaxDuration = (time.Duration(n) * time.Second).String()
	}
	if s, ok := str("timeout"); ok {
		// Bare numbers are seconds.
		if n, err := strconv.Atoi(s); err == nil {
			s = (time.Duration(n) * time.Second).String()
		}
		cfg.Fetch.Timeout = s
	}
	if s, ok := str("jobs"); ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s: invalid count %q", EnvMaxConcurrentJobs, s)
		}
		cfg.Fetch.MaxConcurrentJobs = n
	}
	if s, ok := str("strat"); ok {
		cfg.Fetch.Strategy = strings.ToLower(s)
	}
	if s, ok := str("scratch"); ok {
		cfg.Scratch.Dir = s
	}
	if s, ok := str("level"); ok {
		cfg.Logging.Level = s
	}
	return nil
}
