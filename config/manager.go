package config

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hostdash/cachetier/types"
)

type ConfigurationManager struct {
	ctx         context.Context
	config      atomic.Pointer[types.ServiceConfig]
	configPath  string
	loader      *Loader
	loadTimeout time.Duration
}

func NewConfigurationManager(ctx context.Context, configPath string) (*ConfigurationManager, error) {
	cm := &ConfigurationManager{
		ctx:         ctx,
		configPath:  configPath,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	if err := cm.Load(); err != nil {
		return nil, err
	}

	return cm, nil
}

// NewStaticManager wraps an already-built config, for tests and embedding.
func NewStaticManager(config *types.ServiceConfig) (*ConfigurationManager, error) {
	if err := Validate(NewLoader().validator, config); err != nil {
		return nil, err
	}

	cm := &ConfigurationManager{ctx: context.Background()}
	cm.config.Store(config)
	return cm, nil
}

func (cm *ConfigurationManager) Load() error {
	loadCtx, cancel := context.WithTimeout(cm.ctx, cm.loadTimeout)
	defer cancel()

	config, err := cm.loader.LoadFromFile(loadCtx, cm.configPath)
	if err != nil {
		return err
	}

	cm.config.Store(config)
	return nil
}

func (cm *ConfigurationManager) GetConfig() *types.ServiceConfig {
	return cm.config.Load()
}
