// Package config loads supervisor configuration from a YAML file,
// environment variables, and defaults, via viper, mirroring the layered
// configuration approach used elsewhere in the retrieved example pack.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration inputs of spec §6.1.
type Config struct {
	OutputsRoot string `mapstructure:"outputs_root"`
	StorePath   string `mapstructure:"store_path"`
	MaxWorkers  int    `mapstructure:"max_workers"`

	TickPeriodSeconds            float64 `mapstructure:"tick_period_seconds"`
	HeartbeatPeriodSeconds       float64 `mapstructure:"heartbeat_period_seconds"`
	HeartbeatTimeoutSeconds      float64 `mapstructure:"heartbeat_timeout_seconds"`
	GracefulTerminationSeconds   float64 `mapstructure:"graceful_termination_seconds"`
	AbortEscalationSeconds       float64 `mapstructure:"abort_escalation_seconds"`

	LogLevel  string `mapstructure:"log_level"`
	LogJSON   bool   `mapstructure:"log_json"`
	APIListen string `mapstructure:"api_listen"`
}

// TickPeriod etc. convert the float-seconds fields into time.Duration for
// callers that drive tickers and deadlines.
func (c *Config) TickPeriod() time.Duration { return toDuration(c.TickPeriodSeconds) }
func (c *Config) HeartbeatPeriod() time.Duration {
	return toDuration(c.HeartbeatPeriodSeconds)
}
func (c *Config) HeartbeatTimeout() time.Duration {
	return toDuration(c.HeartbeatTimeoutSeconds)
}
func (c *Config) GracefulTermination() time.Duration {
	return toDuration(c.GracefulTerminationSeconds)
}
func (c *Config) AbortEscalation() time.Duration {
	return toDuration(c.AbortEscalationSeconds)
}

func toDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// Defaults mirror the "default N seconds" values named throughout spec §4.5.
func Defaults() Config {
	return Config{
		OutputsRoot:                "./data/outputs",
		StorePath:                  "./data/supervisor.db",
		MaxWorkers:                 4,
		TickPeriodSeconds:          1,
		HeartbeatPeriodSeconds:     2,
		HeartbeatTimeoutSeconds:    10,
		GracefulTerminationSeconds: 2,
		AbortEscalationSeconds:     30,
		LogLevel:                   "info",
		LogJSON:                    false,
		APIListen:                  "127.0.0.1:9090",
	}
}

// Load reads configuration from an optional YAML file at path, overlaid
// with SUPERVISOR_*-prefixed environment variables, on top of Defaults.
// path may be empty, in which case only env vars and defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	d := Defaults()
	v.SetDefault("outputs_root", d.OutputsRoot)
	v.SetDefault("store_path", d.StorePath)
	v.SetDefault("max_workers", d.MaxWorkers)
	v.SetDefault("tick_period_seconds", d.TickPeriodSeconds)
	v.SetDefault("heartbeat_period_seconds", d.HeartbeatPeriodSeconds)
	v.SetDefault("heartbeat_timeout_seconds", d.HeartbeatTimeoutSeconds)
	v.SetDefault("graceful_termination_seconds", d.GracefulTerminationSeconds)
	v.SetDefault("abort_escalation_seconds", d.AbortEscalationSeconds)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_json", d.LogJSON)
	v.SetDefault("api_listen", d.APIListen)

	v.SetEnvPrefix("SUPERVISOR")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the boundary conditions the spec calls out explicitly:
// max_workers may be zero (all jobs stay QUEUED indefinitely, per spec §8)
// but never negative, and the two path options must be set.
func (c *Config) Validate() error {
	if c.MaxWorkers < 0 {
		return fmt.Errorf("config: max_workers must be >= 0, got %d", c.MaxWorkers)
	}
	if c.OutputsRoot == "" {
		return fmt.Errorf("config: outputs_root must not be empty")
	}
	if c.StorePath == "" {
		return fmt.Errorf("config: store_path must not be empty")
	}
	if !filepath.IsAbs(c.OutputsRoot) {
		abs, err := filepath.Abs(c.OutputsRoot)
		if err != nil {
			return fmt.Errorf("config: resolve outputs_root: %w", err)
		}
		c.OutputsRoot = abs
	}
	return nil
}
