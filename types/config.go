package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
}

type ServiceConfig struct {
	Name    string           `yaml:"name" json:"name" validate:"required"`
	Version string           `yaml:"version" json:"version"`
	Logger  *LoggerConfig    `yaml:"logger" json:"logger"`
	Redis   *RedisConfig     `yaml:"redis" json:"redis" validate:"required"`
	Retry   *RetryConfig     `yaml:"retry" json:"retry"`
	Stats   *StatsConfig     `yaml:"stats" json:"stats"`
	Janitor *JanitorConfig   `yaml:"janitor" json:"janitor"`
	TTL     *TTLConfig       `yaml:"ttl" json:"ttl"`
	Metrics *MetricsConfig   `yaml:"metrics" json:"metrics"`
	Server  *DiagServerConfig `yaml:"server" json:"server"`
}

type RedisConfig struct {
	Host         string        `yaml:"host" json:"host" validate:"required"`
	Port         int           `yaml:"port" json:"port" validate:"required,min=1,max=65535"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db" validate:"min=0,max=15"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size" validate:"min=1"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// Reconnect governs the connection manager's backoff loop after a
	// transport failure. Attempts exhausted means Disconnected until an
	// explicit Connect call.
	Reconnect *BackoffConfig `yaml:"reconnect" json:"reconnect"`
}

// RetryConfig bounds a single foreground operation: up to MaxAttempts tries,
// each raced against AttemptTimeout, separated by exponential backoff.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts" validate:"min=1"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" json:"attempt_timeout"`
	Backoff        *BackoffConfig `yaml:"backoff" json:"backoff"`
}

type BackoffConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts" validate:"min=1"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay" validate:"min=0"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay" validate:"min=0"`
	Factor       float64       `yaml:"factor" json:"factor" validate:"min=1"`
}

// Delay returns the backoff before the given attempt, 1-based, capped at
// MaxDelay.
func (b *BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= b.Factor
		if delay >= float64(b.MaxDelay) {
			return b.MaxDelay
		}
	}
	if delay > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(delay)
}

type StatsConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`

	// MemoryWarnThreshold is the used/limit ratio above which a memory
	// warning event is emitted. Advisory only.
	MemoryWarnThreshold float64 `yaml:"memory_warn_threshold" json:"memory_warn_threshold" validate:"gt=0,lte=1"`
}

type JanitorConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Schedule string `yaml:"schedule" json:"schedule"`
	ScanBatch int64 `yaml:"scan_batch" json:"scan_batch" validate:"min=1"`
}

type TTLConfig struct {
	Session        time.Duration `yaml:"session" json:"session" validate:"min=1"`
	HostStatus     time.Duration `yaml:"host_status" json:"host_status" validate:"min=1"`
	Docker         time.Duration `yaml:"docker" json:"docker" validate:"min=1"`
	CommandHistory time.Duration `yaml:"command_history" json:"command_history" validate:"min=1"`

	// CommandHistoryMax bounds the per-(user, host) command list length.
	CommandHistoryMax int64 `yaml:"command_history_max" json:"command_history_max" validate:"min=1"`
}

type LoggerConfig struct {
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type MetricsConfig struct {
	Enabled   bool              `yaml:"enabled" json:"enabled"`
	Namespace string            `yaml:"namespace" json:"namespace"`
	Subsystem string            `yaml:"subsystem" json:"subsystem"`
	Labels    map[string]string `yaml:"labels" json:"labels"`
}

type DiagServerConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
}
