package training

import (
	"time"

	"github.com/opensource-finance/listingrisk/internal/domain"
)

// NewExample builds a labeled training example from a listing and its assessment.
func NewExample(l *domain.Listing, a *domain.RiskAssessment) *domain.TrainingExample {
	features := make(domain.FeatureVector, domain.FeatureCount)
	copy(features, a.Features)

	return &domain.TrainingExample{
		ListingID:          l.ID,
		Features:           features,
		IsFraud:            a.IsFraud,
		RiskScore:          a.RiskScore,
		VerificationStatus: string(l.Status()),
		DocumentScores:     DocumentScoresFor(l),
		CreatedAt:          time.Now().UTC(),
	}
}
