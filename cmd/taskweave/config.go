package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cast"

	"github.com/rendis/taskweave/internal/mq"
	"github.com/rendis/taskweave/internal/scheduler"
	"github.com/rendis/taskweave/internal/store"
)

// Config holds all taskweave configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	BaseURL    string `json:"base_url"`
	LogLevel   string `json:"log_level"`
	Panel      bool   `json:"panel"`

	StoreDriver string `json:"store_driver"`
	StorePath   string `json:"store_path"`
	StoreDSN    string `json:"store_dsn,omitempty"`

	AMQPURL      string `json:"amqp_url,omitempty"`
	AMQPExchange string `json:"amqp_exchange,omitempty"`

	SchedulerInterval Duration `json:"scheduler_interval"`
	ExecutionTimeout  Duration `json:"execution_timeout,omitempty"`
	EventBacklog      int      `json:"event_backlog"`

	SynthesisURL   string `json:"synthesis_url,omitempty"`
	SynthesisModel string `json:"synthesis_model,omitempty"`
	// SynthesisKey is read from the environment only.
	SynthesisKey string `json:"-"`

	// Inputs seed the shared input context at startup.
	Inputs map[string]string `json:"inputs,omitempty"`
}

// Duration is a time.Duration that reads "90s" or a number of seconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// parseDuration accepts Go duration strings; bare numbers are seconds.
func parseDuration(raw any) (time.Duration, error) {
	switch v := raw.(type) {
	case float64, int, int64:
		secs, err := cast.ToFloat64E(v)
		if err != nil {
			return 0, err
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		return 0, err
	}
	if secs, err := cast.ToFloat64E(s); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return cast.ToDurationE(s)
}

func defaultConfig() Config {
	return Config{
		ListenAddr:        ":4100",
		LogLevel:          "info",
		StoreDriver:       store.DriverLibSQL,
		StorePath:         filepath.Join(taskweaveDir(), "taskweave.db"),
		AMQPExchange:      mq.DefaultExchange,
		SchedulerInterval: Duration(scheduler.DefaultInterval),
		EventBacklog:      1024,
	}
}

func taskweaveDir() string {
	if v := os.Getenv("TASKWEAVE_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskweave"
	}
	return filepath.Join(home, ".taskweave")
}

func settingsPath() string {
	return filepath.Join(taskweaveDir(), "settings.json")
}

func pidPath() string {
	return filepath.Join(taskweaveDir(), "taskweave.pid")
}

// loadConfig layers settings.json at path (settingsPath() when empty) and
// TASKWEAVE_* env vars over the defaults. A missing settings file is fine;
// a malformed one is an error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		path = settingsPath()
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	// Derive base_url from listen_addr if empty.
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost" + cfg.ListenAddr
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"TASKWEAVE_LISTEN_ADDR":     &cfg.ListenAddr,
		"TASKWEAVE_BASE_URL":        &cfg.BaseURL,
		"TASKWEAVE_LOG_LEVEL":       &cfg.LogLevel,
		"TASKWEAVE_STORE_DRIVER":    &cfg.StoreDriver,
		"TASKWEAVE_STORE_PATH":      &cfg.StorePath,
		"TASKWEAVE_STORE_DSN":       &cfg.StoreDSN,
		"TASKWEAVE_AMQP_URL":        &cfg.AMQPURL,
		"TASKWEAVE_AMQP_EXCHANGE":   &cfg.AMQPExchange,
		"TASKWEAVE_SYNTHESIS_URL":   &cfg.SynthesisURL,
		"TASKWEAVE_SYNTHESIS_MODEL": &cfg.SynthesisModel,
		"TASKWEAVE_SYNTHESIS_KEY":   &cfg.SynthesisKey,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("TASKWEAVE_PANEL"); v != "" {
		b, err := cast.ToBoolE(v)
		if err != nil {
			return fmt.Errorf("TASKWEAVE_PANEL: %w", err)
		}
		cfg.Panel = b
	}
	if v := os.Getenv("TASKWEAVE_EVENT_BACKLOG"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("TASKWEAVE_EVENT_BACKLOG: %w", err)
		}
		cfg.EventBacklog = n
	}
	durations := map[string]*Duration{
		"TASKWEAVE_SCHEDULER_INTERVAL": &cfg.SchedulerInterval,
		"TASKWEAVE_EXECUTION_TIMEOUT":  &cfg.ExecutionTimeout,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = Duration(d)
	}
	return nil
}

// storeOptions maps the store settings onto store.Open options.
func (c Config) storeOptions() store.Options {
	return store.Options{Driver: c.StoreDriver, Path: c.StorePath, DSN: c.StoreDSN}
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	PanelChanged    bool
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.Panel != new.Panel {
		d.PanelChanged = true
	}
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	restart := []struct {
		name    string
		changed bool
	}{
		{"listen_addr", old.ListenAddr != new.ListenAddr},
		{"store", old.storeOptions() != new.storeOptions()},
		{"amqp_url", old.AMQPURL != new.AMQPURL || old.AMQPExchange != new.AMQPExchange},
		{"scheduler_interval", old.SchedulerInterval != new.SchedulerInterval},
		{"execution_timeout", old.ExecutionTimeout != new.ExecutionTimeout},
		{"event_backlog", old.EventBacklog != new.EventBacklog},
		{"synthesis", old.SynthesisURL != new.SynthesisURL || old.SynthesisModel != new.SynthesisModel},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartNeeded = append(d.RestartNeeded, r.name)
		}
	}
	return d
}
