// Package scoring combines fraud analyses, market context and listing state
// into a bounded composite risk score and a binary fraud label.
package scoring

import (
	"fmt"
	"math"

	"github.com/opensource-finance/listingrisk/internal/domain"
)

// Policy holds the scoring constants. They are empirical; DefaultPolicy
// returns the production values.
type Policy struct {
	// Composite score weights.
	SuspiciousWeight   float64
	PriceAnomalyWeight float64
	DocumentWeight     float64
	OwnershipWeight    float64
	MarketWeight       float64

	// Status adjustments applied after weighting.
	FailedPenalty  float64
	VerifiedCredit float64

	// Tier boundaries on the risk score.
	HighTier   float64
	MediumTier float64

	// Single-signal fraud triggers.
	FraudSuspiciousScore float64
	FraudPriceAnomaly    float64

	// Corroborating signals: the label is set when at least
	// CorroboratingRequired of them exceed their threshold.
	CorroboratingSuspicious float64
	CorroboratingDocument   float64
	CorroboratingOwnership  float64
	CorroboratingRequired   int

	// Price anomaly derived from market context when the analysis has none.
	UnderpricedAnomaly float64
	OverpricedAnomaly  float64
}

// DefaultPolicy returns the standard scoring policy.
func DefaultPolicy() Policy {
	return Policy{
		SuspiciousWeight:        40,
		PriceAnomalyWeight:      0.2,
		DocumentWeight:          0.3,
		OwnershipWeight:         0.25,
		MarketWeight:            0.15,
		FailedPenalty:           20,
		VerifiedCredit:          10,
		HighTier:                70,
		MediumTier:              40,
		FraudSuspiciousScore:    0.7,
		FraudPriceAnomaly:       80,
		CorroboratingSuspicious: 0.5,
		CorroboratingDocument:   60,
		CorroboratingOwnership:  60,
		CorroboratingRequired:   2,
		UnderpricedAnomaly:      70,
		OverpricedAnomaly:       50,
	}
}

// Input is everything the scorer looks at for one listing.
type Input struct {
	Status   domain.VerificationStatus
	Market   domain.MarketContext
	Analysis domain.FraudAnalysisResult

	// UpstreamFlag is an explicit fraud flag from the listing source or an operator rule.
	UpstreamFlag bool
}

// Result is the scorer output.
type Result struct {
	RiskScore       float64
	SuspiciousScore float64
	RiskTier        domain.RiskLevel
	IsFraud         bool
	PriceAnomaly    float64
	Reasons         []string
}

// PriceAnomaly derives a price anomaly score from market context.
func (p Policy) PriceAnomaly(mc domain.MarketContext) float64 {
	switch {
	case mc.IsUnderpriced:
		return p.UnderpricedAnomaly
	case mc.IsOverpriced:
		return p.OverpricedAnomaly
	}
	return 0
}

// Score computes the composite risk score and fraud label.
func (p Policy) Score(in Input) Result {
	a := in.Analysis
	suspicious := Clamp(a.SuspiciousScore, 0, 1)
	priceAnomaly := p.PriceAnomaly(in.Market)
	if a.PriceAnomalyReported {
		priceAnomaly = Clamp(a.FraudPatterns.PriceAnomaly, 0, 100)
	}
	document := Clamp(a.FraudPatterns.DocumentInconsistency, 0, 100)
	ownership := Clamp(a.FraudPatterns.OwnershipRisk, 0, 100)
	deviation := Clamp(a.FraudPatterns.MarketDeviation, 0, 100)

	score := p.SuspiciousWeight*suspicious +
		p.PriceAnomalyWeight*priceAnomaly +
		p.DocumentWeight*document +
		p.OwnershipWeight*ownership +
		p.MarketWeight*deviation

	switch in.Status {
	case domain.StatusFailed:
		score += p.FailedPenalty
	case domain.StatusVerified:
		score -= p.VerifiedCredit
	}
	score = Clamp(score, 0, 100)

	var reasons []string
	isFraud := false
	if in.UpstreamFlag {
		isFraud = true
		reasons = append(reasons, "flagged as fraud upstream")
	}
	if suspicious > p.FraudSuspiciousScore {
		isFraud = true
		reasons = append(reasons, fmt.Sprintf("suspicious score %.2f exceeds %.2f", suspicious, p.FraudSuspiciousScore))
	}
	if priceAnomaly > p.FraudPriceAnomaly {
		isFraud = true
		reasons = append(reasons, fmt.Sprintf("price anomaly %.0f exceeds %.0f", priceAnomaly, p.FraudPriceAnomaly))
	}
	if in.Status == domain.StatusFailed {
		isFraud = true
		reasons = append(reasons, "verification failed")
	}

	corroborating := 0
	if suspicious > p.CorroboratingSuspicious {
		corroborating++
	}
	if document > p.CorroboratingDocument {
		corroborating++
	}
	if ownership > p.CorroboratingOwnership {
		corroborating++
	}
	if p.CorroboratingRequired > 0 && corroborating >= p.CorroboratingRequired {
		isFraud = true
		reasons = append(reasons, fmt.Sprintf("%d corroborating risk signals", corroborating))
	}

	return Result{
		RiskScore:       score,
		SuspiciousScore: suspicious,
		RiskTier:        p.Tier(score),
		IsFraud:         isFraud,
		PriceAnomaly:    priceAnomaly,
		Reasons:         reasons,
	}
}

// Tier maps a risk score to a risk level.
func (p Policy) Tier(score float64) domain.RiskLevel {
	switch {
	case score >= p.HighTier:
		return domain.RiskHigh
	case score >= p.MediumTier:
		return domain.RiskMedium
	}
	return domain.RiskLow
}

// Clamp bounds v to [lo, hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
