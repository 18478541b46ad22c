package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const servingConfigDoc = `{
	"models": {
		"churn": {
			"default_deadline_ms": 120,
			"max_deadline_ms": 2000,
			"response_grace_ms": 5,
			"decision_floor_ms": 2,
			"feature_budget_percent": 25,
			"inference_budget_percent": 70
		},
		"upsell": {
			"default_deadline_ms": 80
		}
	},
	"rule_set": {
		"version": 4,
		"rules": [{"op": "gte", "threshold": 0.75, "action": "Proactive_Retention_Offer", "confidence": "High"}],
		"default_action": "No_Action_Needed",
		"default_confidence": "Low"
	},
	"service-config": {"error-logging-percent": 20}
}`

func TestServingConfigUnmarshalIntoZeroValue(t *testing.T) {
	servingConfig := &ServingConfig{}
	require.NoError(t, json.Unmarshal([]byte(servingConfigDoc), servingConfig))

	assert.Equal(t, 2, servingConfig.Models.Size())
	require.NotNil(t, servingConfig.RuleSet)
	assert.EqualValues(t, 4, servingConfig.RuleSet.Version)
	assert.Equal(t, 20, servingConfig.ServiceConfig.ErrorLoggingPercent)
}

func TestServingConfigUnmarshalWithoutModels(t *testing.T) {
	servingConfig := &ServingConfig{}
	require.NoError(t, json.Unmarshal([]byte(`{"service-config":{}}`), servingConfig))
	assert.Equal(t, 0, servingConfig.Models.Size())
	assert.Nil(t, servingConfig.RuleSet)
}

func TestSetServingConfigBuildsModelConfigsAndLoggingPercent(t *testing.T) {
	assert.Equal(t, defaultErrorLoggingPercent, ErrorLoggingPercent())

	_, err := GetModelConfig("churn")
	require.Error(t, err)

	servingConfig := &ServingConfig{}
	require.NoError(t, json.Unmarshal([]byte(servingConfigDoc), servingConfig))
	require.NoError(t, SetServingConfig(servingConfig))

	churn, err := GetModelConfig("churn")
	require.NoError(t, err)
	assert.Equal(t, 120, churn.DefaultDeadlineMs)
	assert.Equal(t, 2000, churn.MaxDeadlineMs)
	assert.Equal(t, 25, churn.FeatureBudgetPercent)

	upsell, err := GetModelConfig("upsell")
	require.NoError(t, err)
	assert.Equal(t, 80, upsell.DefaultDeadlineMs)
	assert.Equal(t, 0, upsell.MaxDeadlineMs)

	_, err = GetModelConfig("unknown")
	require.Error(t, err)

	assert.Equal(t, 20, ErrorLoggingPercent())

	servingConfig.ServiceConfig.ErrorLoggingPercent = 0
	require.NoError(t, SetServingConfig(servingConfig))
	assert.Equal(t, defaultErrorLoggingPercent, ErrorLoggingPercent())
}
