package domain

// RuleConfig defines an operator-configured listing rule.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression to evaluate against listing variables
	Expression string `json:"expression"`

	// Outcome bands for score-to-decision mapping
	Bands []RuleBand `json:"bands"`

	Weight float64 `json:"weight"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleBand maps a score range to an outcome.
type RuleBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	SubRuleRef string   `json:"subRuleRef"` // e.g., ".pass", ".fail", ".review"
	Reason     string   `json:"reason"`
}

// RuleResult is the output of a rule evaluation.
type RuleResult struct {
	RuleID     string  `json:"ruleId"`
	ListingID  string  `json:"listingId"`
	SubRuleRef string  `json:"subRuleRef"` // ".pass", ".fail", ".err"
	Score      float64 `json:"score"`      // The computed value
	Reason     string  `json:"reason"`
	Weight     float64 `json:"weight"`
	ProcessMs  int64   `json:"processMs"` // Processing time in milliseconds
}

// Predefined rule outcomes
const (
	RuleOutcomePass   = ".pass"
	RuleOutcomeFail   = ".fail"
	RuleOutcomeReview = ".review"
	RuleOutcomeError  = ".err"
)

// AnyRuleFailed reports whether any result carries the .fail outcome.
// A failed rule acts as an explicit upstream fraud flag.
func AnyRuleFailed(results []RuleResult) bool {
	for _, r := range results {
		if r.SubRuleRef == RuleOutcomeFail {
			return true
		}
	}
	return false
}

// RuleReasons extracts reasons from failed or review outcomes.
func RuleReasons(results []RuleResult) []string {
	var reasons []string
	for _, r := range results {
		if r.SubRuleRef == RuleOutcomeFail || r.SubRuleRef == RuleOutcomeReview {
			if r.Reason != "" {
				reasons = append(reasons, r.Reason)
			}
		}
	}
	return reasons
}
