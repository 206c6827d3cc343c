package training

import (
	"encoding/json"
	"math"

	"github.com/opensource-finance/listingrisk/internal/domain"
)

// PriorVerification is a previously stored AI-verification payload, classified
// by shape. Each variant maps to document sub-scores on its own.
type PriorVerification interface {
	DocumentScores() domain.DocumentScores
}

// ImageAnalysisPayload carries only an image authenticity score.
type ImageAnalysisPayload struct {
	Authenticity float64
	Overall      *float64
}

// DescriptionAnalysisPayload carries only description accuracy and coherence.
type DescriptionAnalysisPayload struct {
	Accuracy  float64
	Coherence float64
	Overall   *float64
}

// FullAnalysisPayload carries both image and description analyses.
type FullAnalysisPayload struct {
	Authenticity float64
	Accuracy     float64
	Coherence    float64
}

// LegacyOverallScoreOnly is the early payload shape with a single overall score.
type LegacyOverallScoreOnly struct {
	Overall float64
}

func (p ImageAnalysisPayload) DocumentScores() domain.DocumentScores {
	return domain.DocumentScores{
		Authenticity: p.Authenticity,
		Completeness: overallOrNeutral(p.Overall),
		Consistency:  overallOrNeutral(p.Overall),
	}
}

func (p DescriptionAnalysisPayload) DocumentScores() domain.DocumentScores {
	authenticity := domain.NeutralDocumentScores.Authenticity
	if p.Overall != nil {
		authenticity = scaledOverall(*p.Overall)
	}
	return domain.DocumentScores{
		Authenticity: authenticity,
		Completeness: p.Accuracy,
		Consistency:  p.Coherence,
	}
}

func (p FullAnalysisPayload) DocumentScores() domain.DocumentScores {
	return domain.DocumentScores{
		Authenticity: p.Authenticity,
		Completeness: p.Accuracy,
		Consistency:  p.Coherence,
	}
}

func (p LegacyOverallScoreOnly) DocumentScores() domain.DocumentScores {
	return domain.DocumentScores{
		Authenticity: scaledOverall(p.Overall),
		Completeness: p.Overall,
		Consistency:  p.Overall,
	}
}

// scaledOverall stands in for a missing authenticity score.
func scaledOverall(overall float64) float64 {
	return math.Min(1.2*overall, 100)
}

func overallOrNeutral(overall *float64) float64 {
	if overall == nil {
		return domain.NeutralDocumentScores.Completeness
	}
	return *overall
}

type priorPayload struct {
	ImageAnalysis *struct {
		Authenticity *float64 `json:"authenticity"`
	} `json:"imageAnalysis"`
	DescriptionAnalysis *struct {
		Accuracy  *float64 `json:"accuracy"`
		Coherence *float64 `json:"coherence"`
	} `json:"descriptionAnalysis"`
	OverallScore *float64 `json:"overallScore"`
}

// ParsePriorVerification classifies a raw payload. It returns false when the
// payload is empty or has no recognised shape.
func ParsePriorVerification(raw json.RawMessage) (PriorVerification, bool) {
	if len(raw) == 0 {
		return nil, false
	}

	var p priorPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false
	}

	var overall *float64
	if p.OverallScore != nil {
		v := clampScore(*p.OverallScore)
		overall = &v
	}

	var authenticity, accuracy, coherence *float64
	if p.ImageAnalysis != nil && p.ImageAnalysis.Authenticity != nil {
		authenticity = p.ImageAnalysis.Authenticity
	}
	if p.DescriptionAnalysis != nil {
		accuracy = p.DescriptionAnalysis.Accuracy
		coherence = p.DescriptionAnalysis.Coherence
	}
	hasDescription := accuracy != nil || coherence != nil

	switch {
	case authenticity != nil && hasDescription:
		return FullAnalysisPayload{
			Authenticity: clampScore(*authenticity),
			Accuracy:     orFallback(accuracy, overall),
			Coherence:    orFallback(coherence, overall),
		}, true
	case authenticity != nil:
		return ImageAnalysisPayload{Authenticity: clampScore(*authenticity), Overall: overall}, true
	case hasDescription:
		return DescriptionAnalysisPayload{
			Accuracy:  orFallback(accuracy, overall),
			Coherence: orFallback(coherence, overall),
			Overall:   overall,
		}, true
	case overall != nil:
		return LegacyOverallScoreOnly{Overall: *overall}, true
	}
	return nil, false
}

// DocumentScoresFor returns the document sub-scores of a listing, neutral
// when it has no usable prior verification.
func DocumentScoresFor(l *domain.Listing) domain.DocumentScores {
	prior, ok := ParsePriorVerification(l.AIVerificationResults)
	if !ok {
		return domain.NeutralDocumentScores
	}
	return prior.DocumentScores()
}

func orFallback(v, overall *float64) float64 {
	if v != nil {
		return clampScore(*v)
	}
	return overallOrNeutral(overall)
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
