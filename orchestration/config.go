package orchestration

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-durable"
)

// DefaultMaximumTimerInterval matches the longest single timer common
// backends accept.
const DefaultMaximumTimerInterval = 3 * 24 * time.Hour

// Config tunes the replay executor.
type Config struct {
	// MaximumTimerInterval caps a single CreateTimer action. Longer timers
	// are split into a chain. Zero disables splitting.
	MaximumTimerInterval time.Duration `json:"maximum_timer_interval" yaml:"maximum_timer_interval" env:"DURABLE_MAX_TIMER_INTERVAL"`
	// LogReplayEvents logs every processed history event at trace level.
	LogReplayEvents bool `json:"log_replay_events" yaml:"log_replay_events" env:"DURABLE_LOG_REPLAY_EVENTS"`
	// MaxHistoryEvents rejects histories longer than this, zero means no limit.
	MaxHistoryEvents int `json:"max_history_events" yaml:"max_history_events" env:"DURABLE_MAX_HISTORY_EVENTS"`
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{MaximumTimerInterval: DefaultMaximumTimerInterval}
}

// Validate checks config bounds.
func (c Config) Validate() error {
	if c.MaximumTimerInterval < 0 {
		return durable.NewError(durable.ErrInvalidConfig, "maximum timer interval cannot be negative", nil,
			map[string]any{"maximum_timer_interval": c.MaximumTimerInterval.String()})
	}
	if c.MaxHistoryEvents < 0 {
		return durable.NewError(durable.ErrInvalidConfig, "max history events cannot be negative", nil,
			map[string]any{"max_history_events": c.MaxHistoryEvents})
	}
	return nil
}

// configFile mirrors Config with durations written as strings ("72h").
type configFile struct {
	MaximumTimerInterval string `yaml:"maximum_timer_interval"`
	LogReplayEvents      *bool  `yaml:"log_replay_events"`
	MaxHistoryEvents     *int   `yaml:"max_history_events"`
}

// ParseConfig decodes a YAML or JSON config on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	var raw configFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, durable.NewError(durable.ErrInvalidConfig, fmt.Sprintf("decode config: %v", err), err, nil)
	}
	if raw.MaximumTimerInterval != "" {
		d, err := time.ParseDuration(raw.MaximumTimerInterval)
		if err != nil {
			return cfg, durable.NewError(durable.ErrInvalidConfig, fmt.Sprintf("invalid maximum_timer_interval: %v", err), err, nil)
		}
		cfg.MaximumTimerInterval = d
	}
	if raw.LogReplayEvents != nil {
		cfg.LogReplayEvents = *raw.LogReplayEvents
	}
	if raw.MaxHistoryEvents != nil {
		cfg.MaxHistoryEvents = *raw.MaxHistoryEvents
	}
	return cfg, cfg.Validate()
}

// ConfigFromEnv overlays DURABLE_* environment variables on base.
func ConfigFromEnv(base Config) (Config, error) {
	cfg := base
	if err := env.Parse(&cfg); err != nil {
		return base, durable.NewError(durable.ErrInvalidConfig, fmt.Sprintf("parse env: %v", err), err, nil)
	}
	return cfg, cfg.Validate()
}
