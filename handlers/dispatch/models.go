package dispatch

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/RetentionML/decisionflow/pkg/featurecache"
)

// HealthStatus is the only mutable replica field visible to callers. It is
// updated exclusively by the dispatcher from call outcomes.
type HealthStatus int32

const (
	Healthy HealthStatus = iota
	Degraded
	Unavailable
)

func (h HealthStatus) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Replica is one registered instance of a deployed model version. Mutable
// state lives in atomics so concurrent callers never take a cross-replica
// lock.
type Replica struct {
	ID           string
	ModelName    string
	Version      string
	Endpoint     string
	Canary       bool
	CanaryWeight float64
	RegisteredAt time.Time

	health              atomic.Int32
	consecutiveFailures atomic.Int32
	latencyEWMABits     atomic.Uint64
	lastFailureNanos    atomic.Int64
}

func (r *Replica) Health() HealthStatus {
	return HealthStatus(r.health.Load())
}

// LatencyEWMA returns the rolling observed latency in milliseconds.
func (r *Replica) LatencyEWMA() float64 {
	return math.Float64frombits(r.latencyEWMABits.Load())
}

func (r *Replica) observeLatency(rtt time.Duration, alpha float64) {
	ms := float64(rtt.Microseconds()) / 1000.0
	if ms < 0 {
		ms = 0
	}
	for {
		oldBits := r.latencyEWMABits.Load()
		old := math.Float64frombits(oldBits)
		next := ms
		if old != 0 {
			next = alpha*ms + (1.0-alpha)*old
		}
		if r.latencyEWMABits.CompareAndSwap(oldBits, math.Float64bits(next)) {
			return
		}
	}
}

func (r *Replica) lastFailureAt() time.Time {
	nanos := r.lastFailureNanos.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// InferenceResult is the dispatcher's answer for one request. Fallback is
// true when the score came from the degraded-replica path rather than a
// healthy replica.
type InferenceResult struct {
	ModelVersion string
	ReplicaID    string
	Score        float64
	Latency      time.Duration
	Fallback     bool
}

// ModelCaller issues the actual inference call against one replica. The
// production implementation lives in handlers/external/modelserver; tests
// plug in programmable fakes.
type ModelCaller interface {
	Infer(ctx context.Context, replica *Replica, vector *featurecache.FeatureVector) (float64, error)
}

// Config carries the dispatcher tunables. Values mirror the serving config
// defaults and are swappable per deployment, not hard-coded law.
type Config struct {
	EWMAAlpha        float64
	MaxRetries       int
	DegradedAfter    int32
	UnavailableAfter int32
	CanaryRampWindow time.Duration
}
