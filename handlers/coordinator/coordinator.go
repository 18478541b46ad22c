package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/RetentionML/decisionflow/handlers/config"
	"github.com/RetentionML/decisionflow/handlers/decision"
	"github.com/RetentionML/decisionflow/handlers/dispatch"
	"github.com/RetentionML/decisionflow/handlers/external/feedback"
	"github.com/RetentionML/decisionflow/internal/errors"
	"github.com/RetentionML/decisionflow/pkg/configs"
	"github.com/RetentionML/decisionflow/pkg/featurecache"
	"github.com/RetentionML/decisionflow/pkg/logger"
	"github.com/RetentionML/decisionflow/pkg/metrics"
	"github.com/google/uuid"
)

const defaultModelName = "churn"

var handler *PredictHandler

// PredictHandler orchestrates one prediction request end to end: feature
// fetch, inference dispatch, decision evaluation, feedback emission. It owns
// the request's working data for the duration of the call only.
type PredictHandler struct {
	cache      featurecache.FeatureCache
	dispatcher *dispatch.Dispatcher
	budget     BudgetConfig
	emit       func(*feedback.Record)
}

// InitPredictHandler wires the coordinator singleton, to be called from
// main.go after the cache, dispatcher and rule engine are up.
func InitPredictHandler(appConfigs *configs.AppConfigs) {
	cfg := appConfigs.Configs
	handler = NewPredictHandler(
		featurecache.Instance(),
		dispatch.Instance(),
		BudgetConfig{
			DefaultDeadline:  time.Duration(cfg.DefaultDeadlineMs) * time.Millisecond,
			MaxDeadline:      time.Duration(cfg.MaxDeadlineMs) * time.Millisecond,
			ResponseGrace:    time.Duration(cfg.ResponseGraceMs) * time.Millisecond,
			DecisionFloor:    time.Duration(cfg.DecisionFloorMs) * time.Millisecond,
			FeaturePercent:   cfg.FeatureBudgetPercent,
			InferencePercent: cfg.InferenceBudgetPercent,
		},
		func(record *feedback.Record) { go feedback.Emit(record) },
	)
	logger.Info("Predict coordinator initialized")
}

// Instance returns the coordinator. Ensure that InitPredictHandler is called
// before calling this function
func Instance() *PredictHandler {
	if handler == nil {
		logger.Panic("predict coordinator not initialized, call InitPredictHandler first", nil)
	}
	return handler
}

func NewPredictHandler(cache featurecache.FeatureCache, dispatcher *dispatch.Dispatcher,
	budget BudgetConfig, emit func(*feedback.Record)) *PredictHandler {
	if budget.FeaturePercent <= 0 {
		budget.FeaturePercent = 30
	}
	if budget.InferencePercent <= 0 {
		budget.InferencePercent = 69
	}
	if budget.DefaultDeadline <= 0 {
		budget.DefaultDeadline = 100 * time.Millisecond
	}
	if emit == nil {
		emit = func(*feedback.Record) {}
	}
	return &PredictHandler{cache: cache, dispatcher: dispatcher, budget: budget, emit: emit}
}

// Predict runs the request state machine. Every dependency failure folds into
// the degraded path; the only hard error is a malformed request.
func (h *PredictHandler) Predict(ctx context.Context, req *PredictionRequest) (*PredictionResponse, error) {
	startTime := time.Now()
	if req == nil || req.EntityKey == "" {
		return nil, &errors.RequestError{ErrorMsg: "entity key is required"}
	}
	modelName := req.Model
	if modelName == "" {
		modelName = defaultModelName
	}
	trackingID := req.TrackingID
	if trackingID == "" {
		trackingID = uuid.NewString()
	}

	metricTags := []string{"model", modelName}
	metrics.Count("decisionflow.predict.request.total", 1, metricTags)

	budget := h.modelBudget(modelName)
	total := budget.clampDeadline(req.DeadlineMs)
	plan := budget.plan(total)
	hardDeadline := startTime.Add(total)

	ctx, cancel := context.WithDeadline(ctx, hardDeadline.Add(plan.Grace))
	defer cancel()

	state := StateStarted
	degraded := false

	// Feature assembly under the feature sub-budget. A miss or an overrun
	// degrades the request but never fails it.
	featureStart := time.Now()
	vector, ok := h.fetchFeatures(req.EntityKey, plan.Feature)
	if ok {
		transition(&state, StateFeaturesFetched, metricTags)
	} else {
		degraded = true
	}
	featureSaved := plan.Feature - time.Since(featureStart)
	if featureSaved < 0 {
		featureSaved = 0
	}
	vector = mergeOverrides(vector, req.Overrides)

	// Whatever the feature step saved is spent on inference, keeping the
	// decision floor intact.
	result, inferErr := h.infer(ctx, modelName, vector, hardDeadline, plan, featureSaved)
	ruleSet := decision.Instance().Current()

	var dec decision.Decision
	var score float64
	var modelVersion string
	switch {
	case inferErr != nil:
		// Short-circuit to the rule set's default action.
		degraded = true
		dec = defaultDecision(ruleSet)
		logger.PercentError(fmt.Sprintf("inference degraded for entity %s", req.EntityKey), inferErr, config.ErrorLoggingPercent())
		metrics.Count("decisionflow.predict.request.degraded", 1, append(metricTags, "stage", "inference"))
	default:
		transition(&state, StateInferred, metricTags)
		score = result.Score
		modelVersion = result.ModelVersion
		if result.Fallback {
			degraded = true
		}
		dec = decision.Decide(score, ruleSet)
		transition(&state, StateDecided, metricTags)
	}

	if degraded {
		transition(&state, StateDegraded, metricTags)
	} else {
		transition(&state, StateCompleted, metricTags)
	}

	latency := time.Since(startTime)
	resp := &PredictionResponse{
		TrackingID:     trackingID,
		EntityKey:      req.EntityKey,
		Score:          score,
		Action:         dec.Action,
		Confidence:     dec.Confidence,
		RuleSetVersion: dec.RuleSetVersion,
		ModelVersion:   modelVersion,
		Degraded:       degraded,
		LatencyMs:      latency.Milliseconds(),
	}

	h.emit(feedback.BuildRecord(trackingID, req.EntityKey, modelName, vector, result, dec, degraded, latency))

	metrics.Timing("decisionflow.predict.request.latency", latency, append(metricTags, "state", state.String()))
	metrics.Count("decisionflow.predict.request.state", 1, append(metricTags, "state", state.String()))
	return resp, nil
}

// transition advances the request state machine and leaves a metric trail so
// stuck stations show up in dashboards.
func transition(state *RequestState, next RequestState, tags []string) {
	*state = next
	metrics.Count("decisionflow.predict.state.transition", 1, append(tags, "state", next.String()))
}

// fetchFeatures looks the entity up in the feature cache without ever
// blocking past the feature sub-budget: the lookup runs in its own goroutine
// and a late result is discarded.
func (h *PredictHandler) fetchFeatures(entityKey string, featureBudget time.Duration) (*featurecache.FeatureVector, bool) {
	type lookup struct {
		vector *featurecache.FeatureVector
		err    error
	}
	done := make(chan lookup, 1)
	go func() {
		vector, _, err := h.cache.Get(entityKey)
		done <- lookup{vector: vector, err: err}
	}()

	timer := time.NewTimer(featureBudget)
	defer timer.Stop()
	select {
	case res := <-done:
		if res.err != nil {
			metrics.Count("decisionflow.predict.feature.miss", 1, nil)
			return nil, false
		}
		return res.vector, true
	case <-timer.C:
		metrics.Count("decisionflow.predict.feature.timeout", 1, nil)
		return nil, false
	}
}

func (h *PredictHandler) infer(ctx context.Context, modelName string, vector *featurecache.FeatureVector,
	hardDeadline time.Time, plan BudgetPlan, featureSaved time.Duration) (*dispatch.InferenceResult, error) {
	// The planned inference share plus the feature step's unspent time, never
	// eating into the decision floor before the hard deadline.
	inferBudget := plan.Inference + featureSaved
	if ceiling := time.Until(hardDeadline) - plan.DecisionFloor; inferBudget > ceiling {
		inferBudget = ceiling
	}
	if inferBudget <= 0 {
		return nil, &errors.NoReplicaError{ErrorMsg: "no budget left for inference"}
	}
	inferCtx, cancel := context.WithTimeout(ctx, inferBudget)
	defer cancel()
	return h.dispatcher.Predict(inferCtx, modelName, vector)
}

// modelBudget overlays any dynamic per-model config onto the static budget.
func (h *PredictHandler) modelBudget(modelName string) BudgetConfig {
	budget := h.budget
	conf, err := config.GetModelConfig(modelName)
	if err != nil {
		return budget
	}
	if conf.DefaultDeadlineMs > 0 {
		budget.DefaultDeadline = time.Duration(conf.DefaultDeadlineMs) * time.Millisecond
	}
	if conf.MaxDeadlineMs > 0 {
		budget.MaxDeadline = time.Duration(conf.MaxDeadlineMs) * time.Millisecond
	}
	if conf.ResponseGraceMs > 0 {
		budget.ResponseGrace = time.Duration(conf.ResponseGraceMs) * time.Millisecond
	}
	if conf.DecisionFloorMs > 0 {
		budget.DecisionFloor = time.Duration(conf.DecisionFloorMs) * time.Millisecond
	}
	if conf.FeatureBudgetPercent > 0 {
		budget.FeaturePercent = conf.FeatureBudgetPercent
	}
	if conf.InferenceBudgetPercent > 0 {
		budget.InferencePercent = conf.InferenceBudgetPercent
	}
	return budget
}

// mergeOverrides lays caller-supplied values over the cached vector. The
// cached vector is immutable, so the merge always builds a fresh map.
func mergeOverrides(vector *featurecache.FeatureVector, overrides map[string]featurecache.FeatureValue) *featurecache.FeatureVector {
	if vector == nil && len(overrides) == 0 {
		return &featurecache.FeatureVector{Values: map[string]featurecache.FeatureValue{}}
	}
	if len(overrides) == 0 {
		return vector
	}
	merged := &featurecache.FeatureVector{Values: make(map[string]featurecache.FeatureValue)}
	if vector != nil {
		for name, value := range vector.Values {
			merged.Values[name] = value
		}
		merged.ComputedAt = vector.ComputedAt
	}
	for name, value := range overrides {
		merged.Values[name] = value
	}
	return merged
}

func defaultDecision(rs *decision.RuleSet) decision.Decision {
	return decision.Decision{
		Action:         rs.DefaultAction,
		Confidence:     rs.DefaultConfidence,
		RuleSetVersion: rs.Version,
		DefaultApplied: true,
	}
}
