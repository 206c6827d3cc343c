package domain

import "time"

// RiskLevel is a coarse risk classification.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ParseRiskLevel maps a free-form value to a RiskLevel.
// The second return value is false when the input was not a known level.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s), true
	}
	return RiskLow, false
}

// Analysis sources.
const (
	SourceNarrative = "narrative"
	SourceFallback  = "fallback"
	SourceCache     = "cache"
)

// FraudPatterns holds the four pattern sub-scores, each in [0,100].
type FraudPatterns struct {
	PriceAnomaly          float64 `json:"priceAnomaly"`
	DocumentInconsistency float64 `json:"documentInconsistency"`
	OwnershipRisk         float64 `json:"ownershipRisk"`
	MarketDeviation       float64 `json:"marketDeviation"`
}

// FraudAnalysisResult is the first-pass fraud judgment for a listing.
type FraudAnalysisResult struct {
	IsSuspicious    bool          `json:"isSuspicious"`
	SuspiciousScore float64       `json:"suspiciousScore"` // [0,1]
	Reasons         []string      `json:"reasons"`
	RiskLevel       RiskLevel     `json:"riskLevel"`
	FraudPatterns   FraudPatterns `json:"fraudPatterns"`

	// PriceAnomalyReported is false when the narrative response did not carry
	// a price anomaly score and the scorer must derive it from market context.
	PriceAnomalyReported bool `json:"priceAnomalyReported"`

	Source    string   `json:"source"`
	Coercions []string `json:"coercions,omitempty"`
}

// RiskAssessment is the composite decision for one listing.
type RiskAssessment struct {
	ID              string    `json:"id"`
	ListingID       string    `json:"listingId"`
	RiskScore       float64   `json:"riskScore"`       // [0,100]
	SuspiciousScore float64   `json:"suspiciousScore"` // [0,1]
	RiskTier        RiskLevel `json:"riskTier"`
	IsFraud         bool      `json:"isFraud"`
	Reasons         []string  `json:"reasons,omitempty"`

	Features FeatureVector       `json:"features"`
	Market   MarketContext       `json:"market"`
	Analysis FraudAnalysisResult `json:"analysis"`

	// Status is the resolved overall verification status, when documents were supplied.
	Status VerificationStatus `json:"status,omitempty"`

	RuleResults []RuleResult       `json:"ruleResults,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	Metadata    AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID       string `json:"traceId"`
	NarrativeMs   int64  `json:"narrativeMs"`
	RulesMs       int64  `json:"rulesMs"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}
