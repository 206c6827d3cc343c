package scoring

import (
	"fmt"
	"math"

	"github.com/opensource-finance/listingrisk/internal/domain"
)

// Document inconsistency by verification status.
var documentInconsistency = map[domain.VerificationStatus]float64{
	domain.StatusFailed:     70,
	domain.StatusSuspicious: 50,
	domain.StatusPending:    20,
	domain.StatusVerified:   0,
}

const (
	unknownOwnershipRisk = 30
	ownershipRiskScale   = 60
)

// Analyze produces a deterministic fraud analysis from listing state and
// market context alone. It backs the narrative assessor when the completion
// service is unavailable or returns something unusable.
func (p Policy) Analyze(l *domain.Listing, mc domain.MarketContext) domain.FraudAnalysisResult {
	status := domain.StatusPending
	var trust *float64
	if l != nil {
		status = l.Status()
		trust = l.OwnerTrustScore
	}

	priceAnomaly := p.PriceAnomaly(mc)
	document := documentInconsistency[status]

	ownership := float64(unknownOwnershipRisk)
	if trust != nil {
		ownership = (1 - Clamp(*trust, 0, 1)) * ownershipRiskScale
	}

	deviation := math.Min(math.Abs(mc.PriceDeviation)*100, 100)
	if math.IsNaN(deviation) {
		deviation = 0
	}

	suspicious := (0.4*priceAnomaly + 0.3*document + 0.2*ownership + 0.1*deviation) / 100
	suspicious = Clamp(suspicious, 0, 1)

	var reasons []string
	switch {
	case mc.IsUnderpriced:
		reasons = append(reasons, fmt.Sprintf("price is %.0f%% below the market expectation", -mc.PriceDeviation*100))
	case mc.IsOverpriced:
		reasons = append(reasons, fmt.Sprintf("price is %.0f%% above the market expectation", mc.PriceDeviation*100))
	}
	if document > 0 {
		reasons = append(reasons, fmt.Sprintf("verification status is %s", status))
	}
	if trust == nil {
		reasons = append(reasons, "owner trust is unknown")
	} else if ownership > ownershipRiskScale/2 {
		reasons = append(reasons, fmt.Sprintf("low owner trust score %.2f", *trust))
	}

	return domain.FraudAnalysisResult{
		IsSuspicious:    suspicious > 0.5,
		SuspiciousScore: suspicious,
		Reasons:         reasons,
		RiskLevel:       fallbackLevel(suspicious),
		FraudPatterns: domain.FraudPatterns{
			PriceAnomaly:          priceAnomaly,
			DocumentInconsistency: document,
			OwnershipRisk:         ownership,
			MarketDeviation:       deviation,
		},
		PriceAnomalyReported: true,
		Source:               domain.SourceFallback,
	}
}

func fallbackLevel(suspicious float64) domain.RiskLevel {
	switch {
	case suspicious > 0.7:
		return domain.RiskHigh
	case suspicious > 0.4:
		return domain.RiskMedium
	}
	return domain.RiskLow
}
