package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/RetentionML/decisionflow/internal/errors"
	"github.com/RetentionML/decisionflow/pkg/logger"
	"github.com/RetentionML/decisionflow/pkg/metrics"
)

const defaultErrorLoggingPercent = 10

var (
	sConfig      *ServingConfig
	modelConfigs = make(map[string]*ModelConfig)
	configMu     sync.RWMutex
)

// ErrorLoggingPercent returns the sampled-error-log percentage from the
// serving config, or the default when no document is loaded or the field is
// unset.
func ErrorLoggingPercent() int {
	configMu.RLock()
	defer configMu.RUnlock()
	if sConfig == nil || sConfig.ServiceConfig.ErrorLoggingPercent <= 0 {
		return defaultErrorLoggingPercent
	}
	return sConfig.ServiceConfig.ErrorLoggingPercent
}

// GetModelConfig returns the serving tunables for a model name, or an error
// when the model is not configured.
func GetModelConfig(modelName string) (*ModelConfig, error) {
	configMu.RLock()
	defer configMu.RUnlock()
	if sConfig == nil {
		return nil, fmt.Errorf("serving config not initialised")
	}
	conf, ok := modelConfigs[modelName]
	if !ok {
		return nil, fmt.Errorf("model config not found for name: %s", modelName)
	}
	return conf, nil
}

// SetServingConfig swaps in a freshly parsed config document and rebuilds the
// typed per-model cache. Called at startup and from the etcd reload path.
func SetServingConfig(config *ServingConfig) error {
	if config == nil {
		return &errors.ParsingError{ErrorMsg: "serving config is nil"}
	}

	parsed := make(map[string]*ModelConfig, config.Models.Size())
	it := config.Models.Iterator()
	for it.Next() {
		modelName, ok := it.Key().(string)
		if !ok {
			return &errors.ParsingError{ErrorMsg: "model config key is not a string"}
		}
		logger.Info(fmt.Sprintf("parsing model config for model: %s", modelName))
		conf, err := decodeModelConfig(it.Value())
		if err != nil {
			metrics.Count("decisionflow_config_parsing_error", 1, []string{"model", modelName})
			return &errors.ParsingError{ErrorMsg: "failed to parse model config for " + modelName + ": " + err.Error()}
		}
		parsed[modelName] = conf
	}

	configMu.Lock()
	defer configMu.Unlock()
	sConfig = config
	modelConfigs = parsed
	return nil
}

// decodeModelConfig converts the generic map the linkedhashmap yields from
// JSON back into the typed struct.
func decodeModelConfig(value interface{}) (*ModelConfig, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var conf ModelConfig
	if err := json.Unmarshal(raw, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}
