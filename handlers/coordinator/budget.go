package coordinator

import (
	"time"
)

// BudgetConfig carries the latency-budget tunables. Percentages apply to the
// deadline remainder after the decision floor is reserved.
type BudgetConfig struct {
	DefaultDeadline  time.Duration
	MaxDeadline      time.Duration
	ResponseGrace    time.Duration
	DecisionFloor    time.Duration
	FeaturePercent   int
	InferencePercent int
}

// BudgetPlan is the split of one request's total deadline. The inference
// share is a baseline: the feature step's unspent budget is added to it, so a
// fast feature fetch donates its savings to inference.
type BudgetPlan struct {
	Total         time.Duration
	Feature       time.Duration
	Inference     time.Duration
	DecisionFloor time.Duration
	Grace         time.Duration
}

// clampDeadline resolves the caller's deadline override against the
// configured default and ceiling.
func (c BudgetConfig) clampDeadline(deadlineMs int) time.Duration {
	if deadlineMs <= 0 {
		return c.DefaultDeadline
	}
	requested := time.Duration(deadlineMs) * time.Millisecond
	if c.MaxDeadline > 0 && requested > c.MaxDeadline {
		return c.MaxDeadline
	}
	return requested
}

// plan splits a total deadline into sub-budgets: a fixed floor reserved for
// decision evaluation, then the remainder shared between feature fetch and
// inference by the configured percentages.
func (c BudgetConfig) plan(total time.Duration) BudgetPlan {
	floor := c.DecisionFloor
	if floor >= total {
		floor = total / 10
	}
	remainder := total - floor
	return BudgetPlan{
		Total:         total,
		Feature:       remainder * time.Duration(c.FeaturePercent) / 100,
		Inference:     remainder * time.Duration(c.InferencePercent) / 100,
		DecisionFloor: floor,
		Grace:         c.Grace(),
	}
}

func (c BudgetConfig) Grace() time.Duration {
	if c.ResponseGrace <= 0 {
		return 5 * time.Millisecond
	}
	return c.ResponseGrace
}
