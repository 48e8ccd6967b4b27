package utils

import (
	"fmt"

	"github.com/bytedance/sonic"
)

func Marshal(data interface{}) ([]byte, error) {
	return sonic.ConfigDefault.Marshal(data)
}

func Unmarshal[T any](data []byte, target *T) error {
	return sonic.ConfigDefault.Unmarshal(data, target)
}

// UnmarshalConfig re-decodes a loosely typed config subtree into a concrete
// struct. YAML unmarshals nested blocks as map[string]interface{}; the round
// trip through JSON applies the target's field tags.
func UnmarshalConfig[T any](config interface{}, target *T) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}

	if typed, ok := config.(*T); ok {
		*target = *typed
		return nil
	}

	configBytes, err := sonic.ConfigDefault.Marshal(config)
	if err != nil {
		return err
	}

	return sonic.ConfigDefault.Unmarshal(configBytes, target)
}
