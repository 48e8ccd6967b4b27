package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hostdash/cachetier/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(err, "file not found: "+configPath)
	}

	data, err := l.readFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	config := Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	if err := Validate(l.validator, config); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) readFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

// Validate fails fast with InvalidConfig: a misconfigured cache tier must
// never reach the connect path.
func Validate(v *validator.Validate, config *types.ServiceConfig) error {
	if config == nil {
		return types.NewInvalidConfigError("config is nil", nil)
	}

	if err := v.Struct(config); err != nil {
		return types.NewInvalidConfigError("config validation failed", err)
	}

	if err := validateBackoff(config.Redis.Reconnect); err != nil {
		return err
	}
	if config.Retry != nil {
		if err := validateBackoff(config.Retry.Backoff); err != nil {
			return err
		}
		if config.Retry.AttemptTimeout <= 0 {
			return types.NewInvalidConfigError("retry attempt timeout must be positive", nil)
		}
	}
	if config.Stats != nil && config.Stats.PollInterval <= 0 {
		return types.NewInvalidConfigError("stats poll interval must be positive", nil)
	}

	return nil
}

func validateBackoff(b *types.BackoffConfig) error {
	if b == nil {
		return types.NewInvalidConfigError("backoff config is required", nil)
	}
	if b.InitialDelay > b.MaxDelay {
		return types.NewInvalidConfigError("backoff initial delay cannot exceed max delay", nil)
	}
	return nil
}

func Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "cachetier",
		Version: "dev",
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Redis: &types.RedisConfig{
			Host:         "localhost",
			Port:         6379,
			DB:           0,
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			Reconnect: &types.BackoffConfig{
				MaxAttempts:  10,
				InitialDelay: 500 * time.Millisecond,
				MaxDelay:     30 * time.Second,
				Factor:       2.0,
			},
		},
		Retry: &types.RetryConfig{
			MaxAttempts:    3,
			AttemptTimeout: 2 * time.Second,
			Backoff: &types.BackoffConfig{
				MaxAttempts:  3,
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     5 * time.Second,
				Factor:       2.0,
			},
		},
		Stats: &types.StatsConfig{
			PollInterval:        5 * time.Second,
			MemoryWarnThreshold: 0.9,
		},
		Janitor: &types.JanitorConfig{
			Enabled:   true,
			Schedule:  "0 */10 * * * *",
			ScanBatch: 100,
		},
		TTL: &types.TTLConfig{
			Session:           time.Hour,
			HostStatus:        5 * time.Minute,
			Docker:            5 * time.Minute,
			CommandHistory:    24 * time.Hour,
			CommandHistoryMax: 100,
		},
		Metrics: &types.MetricsConfig{
			Enabled:   true,
			Namespace: "cachetier",
		},
		Server: &types.DiagServerConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    8090,
		},
	}
}
