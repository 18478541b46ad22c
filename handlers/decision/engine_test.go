package decision

import (
	"sync"
	"testing"

	"github.com/RetentionML/decisionflow/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideFirstMatchWins(t *testing.T) {
	rs := SeedRuleSet()

	tests := []struct {
		name           string
		score          float64
		wantAction     string
		wantConfidence string
		wantDefault    bool
	}{
		{
			name:           "high risk crosses first threshold",
			score:          0.85,
			wantAction:     ActionProactiveRetention,
			wantConfidence: ConfidenceHigh,
		},
		{
			name:           "medium risk falls through to second rule",
			score:          0.60,
			wantAction:     ActionMonitorAccount,
			wantConfidence: ConfidenceMedium,
		},
		{
			name:           "boundary score does not match strict greater-than",
			score:          0.75,
			wantAction:     ActionMonitorAccount,
			wantConfidence: ConfidenceMedium,
		},
		{
			name:           "low score gets default action",
			score:          0.20,
			wantAction:     ActionNoActionNeeded,
			wantConfidence: ConfidenceLow,
			wantDefault:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.score, rs)
			assert.Equal(t, tt.wantAction, d.Action)
			assert.Equal(t, tt.wantConfidence, d.Confidence)
			assert.Equal(t, rs.Version, d.RuleSetVersion)
			assert.Equal(t, tt.wantDefault, d.DefaultApplied)
		})
	}
}

func TestDecideOrderIsPriority(t *testing.T) {
	// Both rules match 0.9; the one listed first must win even though the
	// second has the larger threshold.
	rs := &RuleSet{
		Version: 7,
		Rules: []Rule{
			{Op: OpGreaterThan, Threshold: 0.1, Action: "first", Confidence: ConfidenceLow},
			{Op: OpGreaterThan, Threshold: 0.8, Action: "second", Confidence: ConfidenceHigh},
		},
		DefaultAction:     ActionNoActionNeeded,
		DefaultConfidence: ConfidenceLow,
	}

	d := Decide(0.9, rs)
	assert.Equal(t, "first", d.Action)
	assert.Equal(t, 0.1, d.Threshold)
}

func TestDecideIsPure(t *testing.T) {
	rs := SeedRuleSet()
	first := Decide(0.65, rs)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Decide(0.65, rs))
	}
}

func TestPublishRejectsStaleVersion(t *testing.T) {
	InitRuleEngine(SeedRuleSet())
	e := Instance()

	next := SeedRuleSet()
	next.Version = 2
	require.NoError(t, e.Publish(next))

	stale := SeedRuleSet()
	stale.Version = 2
	err := e.Publish(stale)
	require.Error(t, err)
	var staleErr *errors.StaleRuleSetError
	assert.ErrorAs(t, err, &staleErr)
	assert.Equal(t, uint64(2), e.Current().Version)

	older := SeedRuleSet()
	older.Version = 1
	assert.Error(t, e.Publish(older))
}

func TestPublishValidatesRuleSet(t *testing.T) {
	InitRuleEngine(SeedRuleSet())
	e := Instance()

	tests := []struct {
		name string
		rs   *RuleSet
	}{
		{name: "nil rule set", rs: nil},
		{name: "zero version", rs: &RuleSet{DefaultAction: "x"}},
		{name: "missing default action", rs: &RuleSet{Version: 99}},
		{
			name: "unknown op",
			rs: &RuleSet{
				Version:       99,
				DefaultAction: "x",
				Rules:         []Rule{{Op: "between", Threshold: 0.5, Action: "y"}},
			},
		},
		{
			name: "empty action",
			rs: &RuleSet{
				Version:       99,
				DefaultAction: "x",
				Rules:         []Rule{{Op: OpGreaterThan, Threshold: 0.5}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, e.Publish(tt.rs))
		})
	}
}

func TestHotSwapNeverMixesVersions(t *testing.T) {
	InitRuleEngine(&RuleSet{
		Version:           10,
		Rules:             []Rule{{Op: OpGreaterThanEqual, Threshold: 0.5, Action: "v10-action", Confidence: ConfidenceHigh}},
		DefaultAction:     "v10-default",
		DefaultConfidence: ConfidenceLow,
	})
	e := Instance()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for v := uint64(11); v < 60; v++ {
			rs := &RuleSet{
				Version:           v,
				Rules:             []Rule{{Op: OpGreaterThanEqual, Threshold: 0.5, Action: "v10-action", Confidence: ConfidenceHigh}},
				DefaultAction:     "v10-default",
				DefaultConfidence: ConfidenceLow,
			}
			_ = e.Publish(rs)
		}
		close(stop)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			rs := e.Current()
			d := Decide(0.9, rs)
			// The decision must be internally consistent with the
			// snapshot it was derived from.
			assert.Equal(t, rs.Version, d.RuleSetVersion)
			assert.Equal(t, "v10-action", d.Action)
		}
	}()

	wg.Wait()
	assert.Equal(t, uint64(59), e.Current().Version)
}
