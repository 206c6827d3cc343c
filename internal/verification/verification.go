// Package verification resolves the overall verification status of a
// listing from its document results and fraud analysis.
package verification

import "github.com/opensource-finance/listingrisk/internal/domain"

const (
	// RejectConfidence is the confidence above which an unverified document fails the listing.
	RejectConfidence = 0.7

	// AcceptConfidence is the confidence every verified document must exceed.
	AcceptConfidence = 0.6
)

// Resolve applies the status rules in priority order:
//
//  1. any unverified document with confidence > 0.7 → failed
//  2. suspicious fraud result with high risk → suspicious
//  3. all documents verified with confidence > 0.6, and the fraud result is
//     not suspicious or low risk → verified
//  4. otherwise pending
//
// An empty document list never verifies a listing. A nil fraud result is
// treated as not suspicious.
func Resolve(docs []domain.DocumentResult, fraud *domain.FraudAnalysisResult) domain.VerificationStatus {
	for _, d := range docs {
		if !d.IsVerified && d.Confidence > RejectConfidence {
			return domain.StatusFailed
		}
	}

	suspicious := fraud != nil && fraud.IsSuspicious
	level := domain.RiskLow
	if fraud != nil {
		level = fraud.RiskLevel
	}

	if suspicious && level == domain.RiskHigh {
		return domain.StatusSuspicious
	}

	if len(docs) > 0 && allAccepted(docs) && (!suspicious || level == domain.RiskLow) {
		return domain.StatusVerified
	}

	return domain.StatusPending
}

func allAccepted(docs []domain.DocumentResult) bool {
	for _, d := range docs {
		if !d.IsVerified || !(d.Confidence > AcceptConfidence) {
			return false
		}
	}
	return true
}
