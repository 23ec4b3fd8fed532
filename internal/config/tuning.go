package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Tuning holds the knobs operators may override from a TOML file.
type Tuning struct {
	DailyRecentLimit  int
	WeeklyRecentLimit int
	NotifyTimeout     time.Duration
	LockTTL           time.Duration
	DefaultSession    int
}

type tuningFile struct {
	Aggregation struct {
		DailyRecentLimit     *int `toml:"daily_recent_limit"`
		WeeklyRecentLimit    *int `toml:"weekly_recent_limit"`
		NotifyTimeoutSeconds *int `toml:"notify_timeout_seconds"`
		LockTTLSeconds       *int `toml:"lock_ttl_seconds"`
	} `toml:"aggregation"`
	Session struct {
		DefaultSize *int `toml:"default_size"`
	} `toml:"session"`
}

func DefaultTuning() Tuning {
	return Tuning{
		DailyRecentLimit:  10,
		WeeklyRecentLimit: 20,
		NotifyTimeout:     5 * time.Second,
		LockTTL:           10 * time.Second,
		DefaultSession:    3,
	}
}

// LoadTuning reads the TOML tuning file. A missing file is not an error.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return t, fmt.Errorf("failed to stat tuning file: %w", err)
	}

	var f tuningFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return t, fmt.Errorf("failed to decode tuning file: %w", err)
	}

	if v := f.Aggregation.DailyRecentLimit; v != nil && *v > 0 {
		t.DailyRecentLimit = *v
	}
	if v := f.Aggregation.WeeklyRecentLimit; v != nil && *v > 0 {
		t.WeeklyRecentLimit = *v
	}
	if v := f.Aggregation.NotifyTimeoutSeconds; v != nil && *v > 0 {
		t.NotifyTimeout = time.Duration(*v) * time.Second
	}
	if v := f.Aggregation.LockTTLSeconds; v != nil && *v > 0 {
		t.LockTTL = time.Duration(*v) * time.Second
	}
	if v := f.Session.DefaultSize; v != nil && *v > 0 {
		t.DefaultSession = *v
	}
	return t, nil
}
