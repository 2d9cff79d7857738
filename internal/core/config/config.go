package config

import (
	"time"

	"github.com/mbergkamp/ratchet/internal/engine/backoff"
	"github.com/mbergkamp/ratchet/internal/engine/coordinator"
	"github.com/mbergkamp/ratchet/internal/engine/timeout"
	"github.com/mbergkamp/ratchet/internal/infra/httpdriver"
	redisclient "github.com/mbergkamp/ratchet/internal/infra/redis"
	"github.com/mbergkamp/ratchet/internal/infra/storage/sqldb"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Engine   EngineConfig       `yaml:"engine"`
	Storage  StorageConfig      `yaml:"storage"`
	Redis    redisclient.Config `yaml:"redis"`
	Sessions []SessionConfig    `yaml:"sessions"`
}

// ServerConfig holds HTTP status server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// StorageConfig selects the attempt journal backend.
type StorageConfig struct {
	// Driver is "memory", "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// DSN is the connection string: a file path (or :memory:) for
	// SQLite, a URL for PostgreSQL. Unused by the memory driver.
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
}

// SQL converts the storage section for the SQL journal.
func (s StorageConfig) SQL() sqldb.Config {
	return sqldb.Config{Driver: s.Driver, DSN: s.DSN, MaxConns: s.MaxConns}
}

// EngineConfig holds the retry, timeout and recovery knobs shared by all
// sessions. Durations are expressed in whole seconds in YAML.
type EngineConfig struct {
	// Zero max_retries takes the engine default; -1 disables retries.
	MaxRetries        int     `yaml:"max_retries"`
	BaseDelaySeconds  int     `yaml:"base_delay_seconds"`
	MaxDelaySeconds   int     `yaml:"max_delay_seconds"`
	ExponentialBase   float64 `yaml:"exponential_base"`
	DisableJitter     bool    `yaml:"disable_jitter"`
	FailOpenOnUnknown bool    `yaml:"fail_open_on_unknown"`

	TimeoutWindowSize  int `yaml:"timeout_window_size"`
	BaseTimeoutSeconds int `yaml:"base_timeout_seconds"`
	MinTimeoutSeconds  int `yaml:"min_timeout_seconds"`
	MaxTimeoutSeconds  int `yaml:"max_timeout_seconds"`
	BufferFloorSeconds int `yaml:"buffer_floor_seconds"`

	MaxRecoveryAttempts       int     `yaml:"max_recovery_attempts"`
	HealthCheckTimeoutSeconds int     `yaml:"health_check_timeout_seconds"`
	FailureRateThreshold      float64 `yaml:"failure_rate_threshold"`
}

// Coordinator converts the engine section into the coordinator's config.
// Zero fields stay zero; the engine packages apply their own defaults.
func (e EngineConfig) Coordinator() coordinator.Config {
	return coordinator.Config{
		Backoff: backoff.Config{
			MaxRetries:        e.MaxRetries,
			BaseDelay:         seconds(e.BaseDelaySeconds),
			MaxDelay:          seconds(e.MaxDelaySeconds),
			ExponentialBase:   e.ExponentialBase,
			DisableJitter:     e.DisableJitter,
			FailOpenOnUnknown: e.FailOpenOnUnknown,
		},
		Timeout: timeout.Config{
			WindowSize:  e.TimeoutWindowSize,
			BaseTimeout: seconds(e.BaseTimeoutSeconds),
			MinTimeout:  seconds(e.MinTimeoutSeconds),
			MaxTimeout:  seconds(e.MaxTimeoutSeconds),
			BufferFloor: seconds(e.BufferFloorSeconds),
		},
		MaxRecoveryAttempts:  e.MaxRecoveryAttempts,
		HealthCheckTimeout:   seconds(e.HealthCheckTimeoutSeconds),
		FailureRateThreshold: e.FailureRateThreshold,
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// SessionConfig declares one batch session: the agent that runs it and
// the ordered items it processes.
type SessionConfig struct {
	Name   string            `yaml:"name"`
	Driver httpdriver.Config `yaml:"driver"`
	Items  []ItemConfig      `yaml:"items"`
}

// ItemConfig declares one batch item.
type ItemConfig struct {
	Key    string            `yaml:"key"`
	Params map[string]string `yaml:"params"`
}
