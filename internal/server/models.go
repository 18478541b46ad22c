package server

import (
	"fmt"
	"time"

	"github.com/RetentionML/decisionflow/internal/errors"
	"github.com/RetentionML/decisionflow/pkg/featurecache"
)

type predictRequest struct {
	EntityKey  string                 `json:"entity_key"`
	Model      string                 `json:"model"`
	Overrides  map[string]interface{} `json:"overrides"`
	DeadlineMs int                    `json:"deadline_ms"`
	TrackingID string                 `json:"tracking_id"`
}

type featureNotification struct {
	Values     map[string]interface{} `json:"values"`
	ComputedAt time.Time              `json:"computed_at"`
}

type replicaRegistration struct {
	ID           string  `json:"id"`
	Model        string  `json:"model"`
	Version      string  `json:"version"`
	Endpoint     string  `json:"endpoint"`
	Canary       bool    `json:"canary"`
	CanaryWeight float64 `json:"canary_weight"`
}

type replicaView struct {
	ID           string  `json:"id"`
	Model        string  `json:"model"`
	Version      string  `json:"version"`
	Endpoint     string  `json:"endpoint"`
	Health       string  `json:"health"`
	LatencyEWMA  float64 `json:"latency_ewma_ms"`
	Canary       bool    `json:"canary"`
	CanaryWeight float64 `json:"canary_weight"`
}

// toFeatureValues converts raw JSON values into typed features. JSON numbers
// arrive as float64, so numeric is the widest bucket.
func toFeatureValues(raw map[string]interface{}) (map[string]featurecache.FeatureValue, error) {
	values := make(map[string]featurecache.FeatureValue, len(raw))
	for name, v := range raw {
		switch typed := v.(type) {
		case float64:
			values[name] = featurecache.FeatureValue{Kind: featurecache.KindNumeric, Numeric: typed}
		case bool:
			values[name] = featurecache.FeatureValue{Kind: featurecache.KindBool, Bool: typed}
		case string:
			values[name] = featurecache.FeatureValue{Kind: featurecache.KindCategorical, Categorical: typed}
		default:
			return nil, &errors.ParsingError{ErrorMsg: fmt.Sprintf("feature %q has unsupported type %T", name, v)}
		}
	}
	return values, nil
}
