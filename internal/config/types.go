package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"alarmd/internal/schedule"
)

type Config struct {
	Alarm    AlarmConfig    `json:"alarm"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Monitor  MonitorConfig  `json:"monitor"`
	Notifier NotifierConfig `json:"notifier,omitempty"`
	Pprof    PprofConfig    `json:"pprof,omitempty"`
}

// AlarmConfig is the user's schedule intent as written in the config file.
// It is validated at this boundary; an out-of-range time never reaches the
// store.
type AlarmConfig struct {
	Enabled bool `json:"enabled"`
	// Time is the local wall-clock alarm time, "HH:MM".
	Time string `json:"time"`
	// Recurrence is "daily" or "every-other-day".
	Recurrence string `json:"recurrence,omitempty"`
	// AnchorDate ("2006-01-02") is the parity day-0 for every-other-day.
	AnchorDate string `json:"anchor_date,omitempty"`

	SnoozeLimit int `json:"snooze_limit,omitempty"`
	// SnoozeMinutes is the default snooze length for the "snooze" alert action.
	SnoozeMinutes int `json:"snooze_minutes,omitempty"`
}

// StorageConfig controls the shared schedule store.
//
// Example:
//
//	"storage": { "path": "./alarmd.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// MonitorConfig controls the background monitor.
type MonitorConfig struct {
	// PollInterval is a Go duration string; default "30s".
	PollInterval string `json:"poll_interval,omitempty"`
}

// NotifierConfig controls the platform alert channels used when no foreground
// is reachable.
type NotifierConfig struct {
	RatePerSec int            `json:"rate_per_sec,omitempty"`
	Telegram   TelegramConfig `json:"telegram,omitempty"`
	WebPush    WebPushConfig  `json:"webpush,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type WebPushConfig struct {
	Enabled    bool   `json:"enabled"`
	Subscriber string `json:"subscriber,omitempty"` // mailto: contact for VAPID
	PublicKey  string `json:"public_key,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// PprofConfig controls the optional profiling endpoint.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token   string `json:"token,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ScheduleConfig converts the raw alarm block into the calculator's config.
func (a AlarmConfig) ScheduleConfig() (schedule.Config, error) {
	h, m, err := parseHHMM(a.Time)
	if err != nil {
		return schedule.Config{}, err
	}
	cfg := schedule.Config{
		Hour:       h,
		Minute:     m,
		Recurrence: schedule.RecurrenceDaily,
		Enabled:    a.Enabled,
	}
	if r := strings.TrimSpace(a.Recurrence); r != "" {
		cfg.Recurrence = schedule.Recurrence(r)
	}
	if cfg.Recurrence == schedule.RecurrenceEveryOtherDay {
		d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(a.AnchorDate), time.Local)
		if err != nil {
			return schedule.Config{}, fmt.Errorf("alarm.anchor_date: %w", err)
		}
		cfg.Anchor = d
	}
	if err := cfg.Validate(); err != nil {
		return schedule.Config{}, err
	}
	return cfg, nil
}

// SnoozeLimitOrDefault returns the configured limit, defaulting to 3.
func (a AlarmConfig) SnoozeLimitOrDefault() int {
	if a.SnoozeLimit > 0 {
		return a.SnoozeLimit
	}
	return 3
}

// SnoozeDuration returns the default snooze length, defaulting to 5 minutes.
func (a AlarmConfig) SnoozeDuration() time.Duration {
	if a.SnoozeMinutes > 0 {
		return time.Duration(a.SnoozeMinutes) * time.Minute
	}
	return 5 * time.Minute
}

// Validate checks everything that must never be persisted or acted on.
func (c *Config) Validate() error {
	if c.Alarm.Time != "" {
		if _, err := c.Alarm.ScheduleConfig(); err != nil {
			return err
		}
	} else if c.Alarm.Enabled {
		return fmt.Errorf("alarm.enabled requires alarm.time")
	}
	if c.Alarm.SnoozeLimit < 0 {
		return fmt.Errorf("alarm.snooze_limit must be >= 0")
	}
	if _, err := ParseDurationField("monitor.poll_interval", c.Monitor.PollInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("notifier.telegram.poll_timeout", c.Notifier.Telegram.PollTimeout); err != nil {
		return err
	}
	return nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
