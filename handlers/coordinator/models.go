package coordinator

import (
	"github.com/RetentionML/decisionflow/pkg/featurecache"
)

// RequestState names the stations of the per-request state machine. Degraded
// is terminal and reachable from any non-terminal state on budget exhaustion
// or dependency failure.
type RequestState int

const (
	StateStarted RequestState = iota
	StateFeaturesFetched
	StateInferred
	StateDecided
	StateCompleted
	StateDegraded
)

func (s RequestState) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateFeaturesFetched:
		return "features_fetched"
	case StateInferred:
		return "inferred"
	case StateDecided:
		return "decided"
	case StateCompleted:
		return "completed"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// PredictionRequest is the inbound contract: entity key, optional
// caller-supplied feature overrides and an optional deadline override.
type PredictionRequest struct {
	EntityKey  string
	Model      string
	Overrides  map[string]featurecache.FeatureValue
	DeadlineMs int
	TrackingID string
}

// PredictionResponse is the outbound contract. Degraded communicates whether
// full pipeline execution occurred; the response itself is always returned
// within the total deadline plus grace.
type PredictionResponse struct {
	TrackingID     string  `json:"tracking_id"`
	EntityKey      string  `json:"entity_key"`
	Score          float64 `json:"score"`
	Action         string  `json:"action"`
	Confidence     string  `json:"confidence"`
	RuleSetVersion uint64  `json:"rule_set_version"`
	ModelVersion   string  `json:"model_version,omitempty"`
	Degraded       bool    `json:"degraded"`
	LatencyMs      int64   `json:"latency_ms"`
}
