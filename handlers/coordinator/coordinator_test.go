package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/RetentionML/decisionflow/handlers/decision"
	"github.com/RetentionML/decisionflow/handlers/dispatch"
	"github.com/RetentionML/decisionflow/handlers/external/feedback"
	"github.com/RetentionML/decisionflow/internal/errors"
	"github.com/RetentionML/decisionflow/pkg/featurecache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCache is an in-process feature source with injectable lookup delay.
type fakeCache struct {
	mu      sync.Mutex
	vectors map[string]*featurecache.FeatureVector
	delay   time.Duration
}

func newFakeCache() *fakeCache {
	return &fakeCache{vectors: make(map[string]*featurecache.FeatureVector)}
}

func (f *fakeCache) Get(entityKey string) (*featurecache.FeatureVector, time.Duration, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	vector, ok := f.vectors[entityKey]
	if !ok {
		return nil, 0, &errors.NotFoundError{ErrorMsg: "no vector for " + entityKey}
	}
	return vector, time.Since(vector.ComputedAt), nil
}

func (f *fakeCache) Put(entityKey string, vector *featurecache.FeatureVector) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[entityKey] = vector
	return true
}

func (f *fakeCache) Delete(entityKey string) bool { return false }
func (f *fakeCache) EntryCount() int64            { return int64(len(f.vectors)) }

// scriptedCaller implements dispatch.ModelCaller with programmable behaviour.
type scriptedCaller struct {
	fn func(ctx context.Context, replica *dispatch.Replica, vector *featurecache.FeatureVector) (float64, error)
}

func (s *scriptedCaller) Infer(ctx context.Context, replica *dispatch.Replica, vector *featurecache.FeatureVector) (float64, error) {
	return s.fn(ctx, replica, vector)
}

func churnRuleSet() *decision.RuleSet {
	return &decision.RuleSet{
		Version: 3,
		Rules: []decision.Rule{
			{Op: decision.OpGreaterThanEqual, Threshold: 0.8, Action: decision.ActionProactiveRetention, Confidence: decision.ConfidenceHigh},
			{Op: decision.OpGreaterThanEqual, Threshold: 0.5, Action: decision.ActionMonitorAccount, Confidence: decision.ConfidenceMedium},
		},
		DefaultAction:     decision.ActionNoActionNeeded,
		DefaultConfidence: decision.ConfidenceLow,
	}
}

func testBudget() BudgetConfig {
	return BudgetConfig{
		DefaultDeadline:  100 * time.Millisecond,
		MaxDeadline:      5 * time.Second,
		ResponseGrace:    5 * time.Millisecond,
		DecisionFloor:    time.Millisecond,
		FeaturePercent:   30,
		InferencePercent: 69,
	}
}

func newTestHandler(t *testing.T, cache featurecache.FeatureCache, caller dispatch.ModelCaller,
	replicas ...*dispatch.Replica) (*PredictHandler, *[]*feedback.Record) {
	t.Helper()
	decision.InitRuleEngine(churnRuleSet())
	registry := dispatch.NewRegistry()
	for _, replica := range replicas {
		require.NoError(t, registry.Register(replica))
	}
	d := dispatch.NewDispatcher(registry, caller, dispatch.Config{
		EWMAAlpha:        0.2,
		MaxRetries:       1,
		DegradedAfter:    3,
		UnavailableAfter: 10,
		CanaryRampWindow: time.Minute,
	})
	var emitted []*feedback.Record
	var mu sync.Mutex
	h := NewPredictHandler(cache, d, testBudget(), func(record *feedback.Record) {
		mu.Lock()
		defer mu.Unlock()
		emitted = append(emitted, record)
	})
	return h, &emitted
}

func healthyReplica(id, version string) *dispatch.Replica {
	return &dispatch.Replica{
		ID:           id,
		ModelName:    "churn",
		Version:      version,
		Endpoint:     id + ":9000",
		RegisteredAt: time.Now(),
	}
}

func TestPredictRejectsEmptyEntityKey(t *testing.T) {
	h, _ := newTestHandler(t, newFakeCache(), &scriptedCaller{fn: func(context.Context, *dispatch.Replica, *featurecache.FeatureVector) (float64, error) {
		return 0, fmt.Errorf("should not be called")
	}})

	_, err := h.Predict(context.Background(), &PredictionRequest{EntityKey: ""})
	require.Error(t, err)
	var reqErr *errors.RequestError
	assert.ErrorAs(t, err, &reqErr)

	_, err = h.Predict(context.Background(), nil)
	assert.Error(t, err)
}

func TestPredictHappyPathWithCachedFeatures(t *testing.T) {
	cache := newFakeCache()
	cache.Put("cust_1", &featurecache.FeatureVector{
		Values: map[string]featurecache.FeatureValue{
			"support_tickets_last_30d": {Kind: featurecache.KindNumeric, Numeric: 3},
			"tenure_months":            {Kind: featurecache.KindNumeric, Numeric: 6},
		},
		ComputedAt: time.Now(),
	})

	var seenFeatures int
	caller := &scriptedCaller{fn: func(_ context.Context, _ *dispatch.Replica, vector *featurecache.FeatureVector) (float64, error) {
		seenFeatures = len(vector.Values)
		return 0.85, nil
	}}
	h, emitted := newTestHandler(t, cache, caller, healthyReplica("r1", "v7"))

	resp, err := h.Predict(context.Background(), &PredictionRequest{EntityKey: "cust_1"})
	require.NoError(t, err)
	assert.Equal(t, decision.ActionProactiveRetention, resp.Action)
	assert.Equal(t, decision.ConfidenceHigh, resp.Confidence)
	assert.False(t, resp.Degraded)
	assert.Equal(t, 0.85, resp.Score)
	assert.Equal(t, "v7", resp.ModelVersion)
	assert.Equal(t, uint64(3), resp.RuleSetVersion)
	assert.NotEmpty(t, resp.TrackingID)
	assert.Equal(t, 2, seenFeatures)

	require.Len(t, *emitted, 1)
	record := (*emitted)[0]
	assert.Equal(t, "cust_1", record.EntityKey)
	assert.Equal(t, 0.85, record.Score)
	assert.Equal(t, decision.ActionProactiveRetention, record.Action)
}

func TestPredictFeatureMissRunsInferenceOnEmptyVector(t *testing.T) {
	var seenFeatures = -1
	caller := &scriptedCaller{fn: func(_ context.Context, _ *dispatch.Replica, vector *featurecache.FeatureVector) (float64, error) {
		seenFeatures = len(vector.Values)
		return 0.2, nil
	}}
	h, _ := newTestHandler(t, newFakeCache(), caller, healthyReplica("r1", "v7"))

	resp, err := h.Predict(context.Background(), &PredictionRequest{EntityKey: "cust_2"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, decision.ActionNoActionNeeded, resp.Action, "low score falls to the default action")
	assert.Equal(t, 0, seenFeatures, "inference still runs, on an empty vector")
	assert.Equal(t, 0.2, resp.Score)
}

func TestPredictFeatureMissUsesCallerOverrides(t *testing.T) {
	var seen map[string]featurecache.FeatureValue
	caller := &scriptedCaller{fn: func(_ context.Context, _ *dispatch.Replica, vector *featurecache.FeatureVector) (float64, error) {
		seen = vector.Values
		return 0.9, nil
	}}
	h, _ := newTestHandler(t, newFakeCache(), caller, healthyReplica("r1", "v7"))

	resp, err := h.Predict(context.Background(), &PredictionRequest{
		EntityKey: "cust_3",
		Overrides: map[string]featurecache.FeatureValue{
			"monthly_charges": {Kind: featurecache.KindNumeric, Numeric: 105.5},
		},
	})
	require.NoError(t, err)
	assert.True(t, resp.Degraded, "feature miss still marks the response degraded")
	assert.Equal(t, decision.ActionProactiveRetention, resp.Action)
	require.Contains(t, seen, "monthly_charges")
	assert.Equal(t, 105.5, seen["monthly_charges"].Numeric)
}

func TestPredictOverridesWinOverCachedValues(t *testing.T) {
	cache := newFakeCache()
	cache.Put("cust_1", &featurecache.FeatureVector{
		Values: map[string]featurecache.FeatureValue{
			"tenure_months": {Kind: featurecache.KindNumeric, Numeric: 6},
		},
		ComputedAt: time.Now(),
	})
	var seen map[string]featurecache.FeatureValue
	caller := &scriptedCaller{fn: func(_ context.Context, _ *dispatch.Replica, vector *featurecache.FeatureVector) (float64, error) {
		seen = vector.Values
		return 0.6, nil
	}}
	h, _ := newTestHandler(t, cache, caller, healthyReplica("r1", "v7"))

	resp, err := h.Predict(context.Background(), &PredictionRequest{
		EntityKey: "cust_1",
		Overrides: map[string]featurecache.FeatureValue{
			"tenure_months": {Kind: featurecache.KindNumeric, Numeric: 1},
		},
	})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	assert.Equal(t, 1.0, seen["tenure_months"].Numeric)
}

func TestPredictNoAvailableReplicaShortCircuitsToDefault(t *testing.T) {
	cache := newFakeCache()
	cache.Put("cust_1", &featurecache.FeatureVector{
		Values:     map[string]featurecache.FeatureValue{"f": {Kind: featurecache.KindNumeric, Numeric: 1}},
		ComputedAt: time.Now(),
	})
	caller := &scriptedCaller{fn: func(context.Context, *dispatch.Replica, *featurecache.FeatureVector) (float64, error) {
		return 0, fmt.Errorf("must not be called")
	}}
	h, _ := newTestHandler(t, cache, caller)

	start := time.Now()
	resp, err := h.Predict(context.Background(), &PredictionRequest{EntityKey: "cust_1"})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, decision.ActionNoActionNeeded, resp.Action)
	assert.Equal(t, decision.ConfidenceLow, resp.Confidence)
	assert.Zero(t, resp.Score)
	// The inference sub-budget is skipped entirely: only the feature step
	// and response assembly spend time.
	assert.Less(t, elapsed, 50*time.Millisecond)
}

func TestPredictLatencyBoundedUnderSlowDependencies(t *testing.T) {
	tests := []struct {
		name       string
		cacheDelay time.Duration
		callerFn   func(ctx context.Context, replica *dispatch.Replica, vector *featurecache.FeatureVector) (float64, error)
	}{
		{
			name:       "slow feature cache",
			cacheDelay: 500 * time.Millisecond,
			callerFn: func(context.Context, *dispatch.Replica, *featurecache.FeatureVector) (float64, error) {
				return 0.4, nil
			},
		},
		{
			name: "hanging inference call",
			callerFn: func(ctx context.Context, _ *dispatch.Replica, _ *featurecache.FeatureVector) (float64, error) {
				<-ctx.Done()
				return 0, ctx.Err()
			},
		},
		{
			name:       "everything slow",
			cacheDelay: 500 * time.Millisecond,
			callerFn: func(ctx context.Context, _ *dispatch.Replica, _ *featurecache.FeatureVector) (float64, error) {
				<-ctx.Done()
				return 0, ctx.Err()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newFakeCache()
			cache.delay = tt.cacheDelay
			h, _ := newTestHandler(t, cache, &scriptedCaller{fn: tt.callerFn},
				healthyReplica("r1", "v7"), healthyReplica("r2", "v7"))

			start := time.Now()
			resp, err := h.Predict(context.Background(), &PredictionRequest{EntityKey: "cust_1", DeadlineMs: 100})
			elapsed := time.Since(start)

			require.NoError(t, err, "a response is always returned")
			// Total deadline plus grace, with slack for test scheduling.
			assert.Less(t, elapsed, 150*time.Millisecond)
			assert.True(t, resp.Degraded)
			assert.Equal(t, decision.ActionNoActionNeeded, resp.Action)
		})
	}
}

func TestPredictDeadlineOverrideIsClamped(t *testing.T) {
	budget := testBudget()
	assert.Equal(t, budget.DefaultDeadline, budget.clampDeadline(0))
	assert.Equal(t, 50*time.Millisecond, budget.clampDeadline(50))
	assert.Equal(t, budget.MaxDeadline, budget.clampDeadline(60000))
}

func TestBudgetPlanSplitsRemainderAfterDecisionFloor(t *testing.T) {
	budget := testBudget()
	plan := budget.plan(100 * time.Millisecond)

	assert.Equal(t, time.Millisecond, plan.DecisionFloor)
	assert.Equal(t, 99*time.Millisecond*30/100, plan.Feature)
	assert.Equal(t, 99*time.Millisecond*69/100, plan.Inference)
	assert.Greater(t, plan.Total, plan.Feature+plan.Inference)
}

func TestInferenceBudgetAbsorbsFeatureSavings(t *testing.T) {
	observeInferShare := func(t *testing.T, cache *fakeCache) time.Duration {
		t.Helper()
		var remaining time.Duration
		caller := &scriptedCaller{fn: func(ctx context.Context, _ *dispatch.Replica, _ *featurecache.FeatureVector) (float64, error) {
			if deadline, ok := ctx.Deadline(); ok {
				remaining = time.Until(deadline)
			}
			return 0.9, nil
		}}
		h, _ := newTestHandler(t, cache, caller, healthyReplica("r1", "v7"))

		_, err := h.Predict(context.Background(), &PredictionRequest{EntityKey: "cust_1"})
		require.NoError(t, err)
		return remaining
	}

	t.Run("fast feature fetch donates its unspent budget", func(t *testing.T) {
		cache := newFakeCache()
		cache.Put("cust_1", &featurecache.FeatureVector{
			Values:     map[string]featurecache.FeatureValue{"tenure_months": {Kind: featurecache.KindNumeric, Numeric: 6}},
			ComputedAt: time.Now(),
		})
		remaining := observeInferShare(t, cache)
		assert.Greater(t, remaining, 80*time.Millisecond)
	})

	t.Run("exhausted feature budget leaves the planned share", func(t *testing.T) {
		cache := newFakeCache()
		cache.delay = 60 * time.Millisecond
		remaining := observeInferShare(t, cache)
		assert.Greater(t, remaining, 50*time.Millisecond)
		assert.Less(t, remaining, 75*time.Millisecond)
	})
}

func TestPredictKeepsCallerTrackingID(t *testing.T) {
	caller := &scriptedCaller{fn: func(context.Context, *dispatch.Replica, *featurecache.FeatureVector) (float64, error) {
		return 0.1, nil
	}}
	h, _ := newTestHandler(t, newFakeCache(), caller, healthyReplica("r1", "v7"))

	resp, err := h.Predict(context.Background(), &PredictionRequest{EntityKey: "cust_1", TrackingID: "trk-123"})
	require.NoError(t, err)
	assert.Equal(t, "trk-123", resp.TrackingID)
}
