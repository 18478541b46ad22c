package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/RetentionML/decisionflow/handlers/config"
	"github.com/RetentionML/decisionflow/internal/errors"
	"github.com/RetentionML/decisionflow/pkg/featurecache"
	"github.com/RetentionML/decisionflow/pkg/logger"
	"github.com/RetentionML/decisionflow/pkg/metrics"
)

const (
	errorType        = "error-type"
	noReplicaErr     = "no-available-replica"
	inferenceCallErr = "inference-call-error"
	minAttemptBudget = 2 * time.Millisecond
)

var dispatcher *Dispatcher

// Dispatcher load-balances inference calls across the registered replica
// pool. Selection is power-of-two-choices on rolling latency among Healthy
// replicas; a canary version's selection probability ramps linearly over the
// configured window.
type Dispatcher struct {
	registry *Registry
	caller   ModelCaller
	cfg      Config
}

// InitDispatcher wires the dispatcher singleton, to be called from main.go
func InitDispatcher(registry *Registry, caller ModelCaller, cfg Config) {
	dispatcher = NewDispatcher(registry, caller, cfg)
	logger.Info("Inference dispatcher initialized")
}

// Instance returns the dispatcher. Ensure that InitDispatcher is called
// before calling this function
func Instance() *Dispatcher {
	if dispatcher == nil {
		logger.Panic("dispatcher not initialized, call InitDispatcher first", nil)
	}
	return dispatcher
}

func NewDispatcher(registry *Registry, caller ModelCaller, cfg Config) *Dispatcher {
	if cfg.EWMAAlpha <= 0 || cfg.EWMAAlpha >= 1 {
		cfg.EWMAAlpha = 0.2
	}
	if cfg.DegradedAfter <= 0 {
		cfg.DegradedAfter = 3
	}
	if cfg.UnavailableAfter <= cfg.DegradedAfter {
		cfg.UnavailableAfter = 10
	}
	return &Dispatcher{registry: registry, caller: caller, cfg: cfg}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Predict issues one inference call for the model under the deadline carried
// by ctx. At most one retry total, always against a different replica, and
// only when the remaining budget allows. With no Healthy replica it attempts
// the least-recently-failed Degraded replica once; failing that the call
// fails with NoReplicaError.
func (d *Dispatcher) Predict(ctx context.Context, modelName string, vector *featurecache.FeatureVector) (*InferenceResult, error) {
	metricTags := []string{"model", modelName}
	metrics.Count("decisionflow.dispatch.predict.total", 1, metricTags)
	vector = vectorOrEmpty(vector)

	pool := d.registry.Snapshot(modelName)
	if len(pool) == 0 {
		metrics.Count("decisionflow.dispatch.predict.error", 1, append(metricTags, errorType, noReplicaErr))
		return nil, &errors.NoReplicaError{ErrorMsg: fmt.Sprintf("no replicas registered for model %s", modelName)}
	}

	healthy := make([]*Replica, 0, len(pool))
	for _, replica := range pool {
		if replica.Health() == Healthy {
			healthy = append(healthy, replica)
		}
	}

	if len(healthy) == 0 {
		return d.predictOnDegraded(ctx, pool, vector, metricTags)
	}

	attempts := 1
	if d.cfg.MaxRetries > 0 && len(healthy) > 1 {
		attempts = 2
	}

	first := d.pick(healthy, nil)
	result, err := d.firstAttempt(ctx, attempts, first, vector)
	if err == nil {
		return result, nil
	}
	metrics.Count("decisionflow.dispatch.predict.error", 1, append(metricTags, errorType, inferenceCallErr))

	// Abandoned or failed call: one retry against a different replica when
	// budget remains. Never retry the same replica.
	if attempts == 2 && ctx.Err() == nil && remainingBudget(ctx) > minAttemptBudget {
		second := d.pick(healthy, first)
		if second != nil {
			result, retryErr := d.callReplica(ctx, second, vector)
			if retryErr == nil {
				metrics.Count("decisionflow.dispatch.predict.retry.success", 1, metricTags)
				return result, nil
			}
			metrics.Count("decisionflow.dispatch.predict.retry.error", 1, metricTags)
		}
	}
	return nil, err
}

// predictOnDegraded is the fallback path when no Healthy replica exists: a
// single attempt against the least-recently-failed Degraded replica.
func (d *Dispatcher) predictOnDegraded(ctx context.Context, pool []*Replica, vector *featurecache.FeatureVector, metricTags []string) (*InferenceResult, error) {
	var candidate *Replica
	for _, replica := range pool {
		if replica.Health() != Degraded {
			continue
		}
		if candidate == nil || replica.lastFailureAt().Before(candidate.lastFailureAt()) {
			candidate = replica
		}
	}
	if candidate == nil {
		metrics.Count("decisionflow.dispatch.predict.error", 1, append(metricTags, errorType, noReplicaErr))
		return nil, &errors.NoReplicaError{ErrorMsg: "no healthy or degraded replica available"}
	}

	metrics.Count("decisionflow.dispatch.predict.fallback.total", 1, metricTags)
	result, err := d.callReplica(ctx, candidate, vector)
	if err != nil {
		metrics.Count("decisionflow.dispatch.predict.error", 1, append(metricTags, errorType, noReplicaErr))
		return nil, &errors.NoReplicaError{ErrorMsg: fmt.Sprintf("degraded replica %s attempt failed: %v", candidate.ID, err)}
	}
	result.Fallback = true
	return result, nil
}

func (d *Dispatcher) callReplica(ctx context.Context, replica *Replica, vector *featurecache.FeatureVector) (*InferenceResult, error) {
	start := time.Now()
	score, err := d.caller.Infer(ctx, replica, vector)
	rtt := time.Since(start)
	if err != nil {
		d.recordFailure(replica)
		logger.PercentError(fmt.Sprintf("inference call failed on replica %s", replica.ID), err, config.ErrorLoggingPercent())
		return nil, err
	}
	d.recordSuccess(replica, rtt)
	return &InferenceResult{
		ModelVersion: replica.Version,
		ReplicaID:    replica.ID,
		Score:        score,
		Latency:      rtt,
	}, nil
}

// pick selects a replica by power-of-two-choices: sample two candidates
// (weighted by canary ramp) and keep the one with the lower rolling latency.
// exclude removes one replica from consideration, used for the retry.
func (d *Dispatcher) pick(healthy []*Replica, exclude *Replica) *Replica {
	candidates := healthy
	if exclude != nil {
		candidates = make([]*Replica, 0, len(healthy))
		for _, replica := range healthy {
			if replica != exclude {
				candidates = append(candidates, replica)
			}
		}
	}
	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0]
	}

	now := time.Now()
	first := d.sampleWeighted(candidates, now)
	second := d.sampleWeighted(candidates, now)
	if first == second {
		return first
	}
	// An unobserved replica (EWMA 0) is preferred so new capacity warms up.
	if first.LatencyEWMA() <= second.LatencyEWMA() {
		return first
	}
	return second
}

// sampleWeighted draws one replica with probability proportional to its
// effective weight. Non-canary replicas weigh 1.0; a canary's weight ramps
// linearly from its registration weight to 1.0 over the ramp window.
func (d *Dispatcher) sampleWeighted(candidates []*Replica, now time.Time) *Replica {
	total := 0.0
	for _, replica := range candidates {
		total += d.effectiveWeight(replica, now)
	}
	if total <= 0 {
		return candidates[rand.Intn(len(candidates))]
	}
	target := rand.Float64() * total
	cumulative := 0.0
	for _, replica := range candidates {
		cumulative += d.effectiveWeight(replica, now)
		if target < cumulative {
			return replica
		}
	}
	return candidates[len(candidates)-1]
}

func (d *Dispatcher) effectiveWeight(replica *Replica, now time.Time) float64 {
	if !replica.Canary {
		return 1.0
	}
	base := replica.CanaryWeight
	if base < 0 {
		base = 0
	}
	if base > 1 {
		base = 1
	}
	if d.cfg.CanaryRampWindow <= 0 {
		return base
	}
	elapsed := now.Sub(replica.RegisteredAt)
	if elapsed >= d.cfg.CanaryRampWindow {
		return 1.0
	}
	fraction := float64(elapsed) / float64(d.cfg.CanaryRampWindow)
	return base + (1.0-base)*fraction
}

func (d *Dispatcher) recordSuccess(replica *Replica, rtt time.Duration) {
	replica.consecutiveFailures.Store(0)
	replica.observeLatency(rtt, d.cfg.EWMAAlpha)
	// Promote one level at a time: Unavailable replicas must prove
	// themselves as Degraded before taking full traffic again.
	for {
		current := replica.health.Load()
		var next int32
		switch HealthStatus(current) {
		case Unavailable:
			next = int32(Degraded)
		case Degraded:
			next = int32(Healthy)
		default:
			return
		}
		if replica.health.CompareAndSwap(current, next) {
			metrics.Count("decisionflow.dispatch.replica.promoted", 1,
				[]string{"model", replica.ModelName, "replica", replica.ID, "to", HealthStatus(next).String()})
			return
		}
	}
}

func (d *Dispatcher) recordFailure(replica *Replica) {
	replica.lastFailureNanos.Store(time.Now().UnixNano())
	failures := replica.consecutiveFailures.Add(1)

	var target HealthStatus
	switch {
	case failures >= d.cfg.UnavailableAfter:
		target = Unavailable
	case failures >= d.cfg.DegradedAfter:
		target = Degraded
	default:
		return
	}
	for {
		current := replica.health.Load()
		if current >= int32(target) {
			return
		}
		if replica.health.CompareAndSwap(current, int32(target)) {
			metrics.Count("decisionflow.dispatch.replica.demoted", 1,
				[]string{"model", replica.ModelName, "replica", replica.ID, "to", target.String()})
			logger.Error(fmt.Sprintf("Replica %s demoted to %s after %d consecutive failures",
				replica.ID, target.String(), failures), nil)
			return
		}
	}
}

// firstAttempt bounds the first call to half the remaining budget when a
// retry is allowed, so an abandoned call still leaves room for the second
// replica. With a single allowed attempt the caller's deadline applies
// unchanged.
func (d *Dispatcher) firstAttempt(ctx context.Context, attempts int, replica *Replica, vector *featurecache.FeatureVector) (*InferenceResult, error) {
	if attempts > 1 {
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > minAttemptBudget*2 {
				attemptCtx, cancel := context.WithTimeout(ctx, remaining/2)
				defer cancel()
				return d.callReplica(attemptCtx, replica, vector)
			}
		}
	}
	return d.callReplica(ctx, replica, vector)
}

func remainingBudget(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return time.Hour
	}
	return time.Until(deadline)
}

func vectorOrEmpty(vector *featurecache.FeatureVector) *featurecache.FeatureVector {
	if vector != nil {
		return vector
	}
	return &featurecache.FeatureVector{Values: map[string]featurecache.FeatureValue{}}
}
