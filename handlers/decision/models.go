package decision

// Action labels carried over from the churn decisioning rules. RuleSets are
// free to introduce new labels; these are the seeded defaults.
const (
	ActionProactiveRetention = "Proactive_Retention_Offer"
	ActionMonitorAccount     = "Monitor_Account"
	ActionNoActionNeeded     = "No_Action_Needed"
)

const (
	ConfidenceHigh   = "High"
	ConfidenceMedium = "Medium"
	ConfidenceLow    = "Low"
)

// Predicate operators evaluated against the model score.
const (
	OpGreaterThan      = "gt"
	OpGreaterThanEqual = "gte"
	OpLessThan         = "lt"
	OpLessThanEqual    = "lte"
)

// Rule is one (predicate-on-score, action) pair. Position in the RuleSet is
// the priority: the first matching rule wins.
type Rule struct {
	Op         string  `json:"op"`
	Threshold  float64 `json:"threshold"`
	Action     string  `json:"action"`
	Confidence string  `json:"confidence"`
}

// RuleSet is immutable once published. A new version is swapped in
// atomically, never edited in place.
type RuleSet struct {
	Version           uint64 `json:"version"`
	Rules             []Rule `json:"rules"`
	DefaultAction     string `json:"default_action"`
	DefaultConfidence string `json:"default_confidence"`
}

// Decision is fully determined by (score, RuleSet version); there is no
// hidden state behind it.
type Decision struct {
	Action         string  `json:"action"`
	Confidence     string  `json:"confidence"`
	RuleSetVersion uint64  `json:"rule_set_version"`
	Threshold      float64 `json:"threshold"`
	DefaultApplied bool    `json:"default_applied"`
}
