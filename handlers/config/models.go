package config

import (
	"encoding/json"

	"github.com/RetentionML/decisionflow/handlers/decision"
	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// ServingConfig is the dynamic config document stored in etcd. Models keeps
// publication order, keyed by logical model name.
type ServingConfig struct {
	Models        linkedhashmap.Map `json:"models"`
	RuleSet       *decision.RuleSet `json:"rule_set,omitempty"`
	ServiceConfig ServiceConfig     `json:"service-config"`
}

type ServiceConfig struct {
	ErrorLoggingPercent int `json:"error-logging-percent"`
}

func (s *ServingConfig) UnmarshalJSON(data []byte) error {
	type Alias ServingConfig
	aux := &struct {
		Models json.RawMessage `json:"models"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	// Initialize the model linked hashmap.Map field
	models := linkedhashmap.New()
	if len(aux.Models) > 0 {
		if err := models.FromJSON(aux.Models); err != nil {
			return err
		}
	}
	s.Models = *models
	return nil
}

// ModelConfig carries the per-model serving tunables. Zero values fall back
// to the static environment defaults at read time.
type ModelConfig struct {
	DefaultDeadlineMs      int `json:"default_deadline_ms"`
	MaxDeadlineMs          int `json:"max_deadline_ms"`
	ResponseGraceMs        int `json:"response_grace_ms"`
	DecisionFloorMs        int `json:"decision_floor_ms"`
	FeatureBudgetPercent   int `json:"feature_budget_percent"`
	InferenceBudgetPercent int `json:"inference_budget_percent"`
}
