package decision

import (
	"fmt"
	"sync/atomic"

	"github.com/RetentionML/decisionflow/internal/errors"
	"github.com/RetentionML/decisionflow/pkg/logger"
	"github.com/RetentionML/decisionflow/pkg/metrics"
)

var engine *RuleEngine

// RuleEngine holds the active RuleSet behind an atomic pointer so a publish
// swaps the whole set at once. In-flight requests keep the snapshot they
// grabbed and never observe a mix of two versions.
type RuleEngine struct {
	current atomic.Pointer[RuleSet]
}

// InitRuleEngine seeds the engine with the given RuleSet, to be called from main.go
func InitRuleEngine(seed *RuleSet) {
	engine = &RuleEngine{}
	if seed == nil {
		seed = SeedRuleSet()
	}
	if err := validateRuleSet(seed); err != nil {
		logger.Panic("invalid seed rule set", err)
	}
	engine.current.Store(seed)
	logger.Info(fmt.Sprintf("Rule engine initialized with rule set version %d", seed.Version))
}

// Instance returns the rule engine. Ensure that InitRuleEngine is called
// before calling this function
func Instance() *RuleEngine {
	if engine == nil {
		logger.Panic("rule engine not initialized, call InitRuleEngine first", nil)
	}
	return engine
}

// SeedRuleSet mirrors the original churn decision thresholds: high risk above
// 0.75, medium risk above 0.50, otherwise no action.
func SeedRuleSet() *RuleSet {
	return &RuleSet{
		Version: 1,
		Rules: []Rule{
			{Op: OpGreaterThan, Threshold: 0.75, Action: ActionProactiveRetention, Confidence: ConfidenceHigh},
			{Op: OpGreaterThan, Threshold: 0.50, Action: ActionMonitorAccount, Confidence: ConfidenceMedium},
		},
		DefaultAction:     ActionNoActionNeeded,
		DefaultConfidence: ConfidenceLow,
	}
}

// Current returns the active RuleSet snapshot.
func (e *RuleEngine) Current() *RuleSet {
	return e.current.Load()
}

// Publish atomically swaps in a new RuleSet. The publish is version-monotonic:
// a version less than or equal to the active one is rejected with
// StaleRuleSetError and the active set is untouched.
func (e *RuleEngine) Publish(rs *RuleSet) error {
	if err := validateRuleSet(rs); err != nil {
		return err
	}
	for {
		active := e.current.Load()
		if active != nil && rs.Version <= active.Version {
			metrics.Count("decisionflow.ruleset.publish.stale", 1, []string{"version", fmt.Sprintf("%d", rs.Version)})
			return &errors.StaleRuleSetError{
				ErrorMsg: fmt.Sprintf("rule set version %d is not greater than active version %d", rs.Version, active.Version),
			}
		}
		if e.current.CompareAndSwap(active, rs) {
			metrics.Count("decisionflow.ruleset.publish.total", 1, []string{"version", fmt.Sprintf("%d", rs.Version)})
			logger.Info(fmt.Sprintf("Rule set version %d published", rs.Version))
			return nil
		}
	}
}

// Decide maps a score to a Decision by evaluating the RuleSet's predicates in
// order; the first match wins, otherwise the default action applies. It is a
// pure function of its inputs.
func Decide(score float64, rs *RuleSet) Decision {
	for _, rule := range rs.Rules {
		if matches(rule, score) {
			return Decision{
				Action:         rule.Action,
				Confidence:     rule.Confidence,
				RuleSetVersion: rs.Version,
				Threshold:      rule.Threshold,
			}
		}
	}
	return Decision{
		Action:         rs.DefaultAction,
		Confidence:     rs.DefaultConfidence,
		RuleSetVersion: rs.Version,
		DefaultApplied: true,
	}
}

func matches(rule Rule, score float64) bool {
	switch rule.Op {
	case OpGreaterThan:
		return score > rule.Threshold
	case OpGreaterThanEqual:
		return score >= rule.Threshold
	case OpLessThan:
		return score < rule.Threshold
	case OpLessThanEqual:
		return score <= rule.Threshold
	default:
		return false
	}
}

func validateRuleSet(rs *RuleSet) error {
	if rs == nil {
		return &errors.ParsingError{ErrorMsg: "rule set is nil"}
	}
	if rs.Version == 0 {
		return &errors.ParsingError{ErrorMsg: "rule set version must be positive"}
	}
	if rs.DefaultAction == "" {
		return &errors.ParsingError{ErrorMsg: "rule set default action is required"}
	}
	for i, rule := range rs.Rules {
		switch rule.Op {
		case OpGreaterThan, OpGreaterThanEqual, OpLessThan, OpLessThanEqual:
		default:
			return &errors.ParsingError{ErrorMsg: fmt.Sprintf("rule %d has unknown op %q", i, rule.Op)}
		}
		if rule.Action == "" {
			return &errors.ParsingError{ErrorMsg: fmt.Sprintf("rule %d has empty action", i)}
		}
	}
	return nil
}
