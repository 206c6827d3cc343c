package domain

import (
	"context"
	"errors"
	"time"
)

// ErrModelNotFound is returned when no classifier model has been persisted yet.
// It is a state, not a technical failure.
var ErrModelNotFound = errors.New("classifier model not found")

// ModelTypeThreshold is the only supported classifier type.
const ModelTypeThreshold = "threshold"

// DocumentScores are the document sub-scores of a training example, each in [0,100].
type DocumentScores struct {
	Authenticity float64 `json:"authenticity"`
	Completeness float64 `json:"completeness"`
	Consistency  float64 `json:"consistency"`
}

// NeutralDocumentScores is used when no prior verification payload exists.
var NeutralDocumentScores = DocumentScores{Authenticity: 50, Completeness: 50, Consistency: 50}

// TrainingExample is one labeled row of the classifier dataset.
type TrainingExample struct {
	ListingID          string         `json:"listingId"`
	Features           FeatureVector  `json:"features"`
	IsFraud            bool           `json:"isFraud"`
	RiskScore          float64        `json:"riskScore"`
	VerificationStatus string         `json:"verificationStatus"`
	DocumentScores     DocumentScores `json:"documentScores"`
	CreatedAt          time.Time      `json:"createdAt"`
}

// Thresholds are the decision thresholds of a threshold classifier.
type Thresholds struct {
	RiskScore              float64 `json:"riskScore"`
	PriceDeviationFactor   float64 `json:"priceDeviationFactor"`
	DocumentScoreThreshold float64 `json:"documentScoreThreshold"`
}

// DefaultThresholds returns the thresholds used for new models.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RiskScore:              70,
		PriceDeviationFactor:   0.3,
		DocumentScoreThreshold: 40,
	}
}

// ClassifierModel is the persisted threshold classifier artifact.
type ClassifierModel struct {
	ID               string     `json:"id"`
	Type             string     `json:"type"`
	Thresholds       Thresholds `json:"thresholds"`
	FeatureWeights   []float64  `json:"featureWeights"`
	TrainingAccuracy float64    `json:"trainingAccuracy"`
	FraudRate        float64    `json:"fraudRate"`
	SampleSize       int        `json:"sampleSize"`
	Seed             int64      `json:"seed"`
	TrainedAt        time.Time  `json:"trainedAt"`
	Version          string     `json:"version"`
}

// Key identifies a model generation in a versioned store.
func (m *ClassifierModel) Key() string {
	return m.Version + "-" + m.TrainedAt.UTC().Format("20060102T150405.000000000Z")
}

// ConfusionMatrix is ordered [[TN, FP], [FN, TP]].
type ConfusionMatrix [2][2]int

// Total returns the number of predictions counted.
func (c ConfusionMatrix) Total() int {
	return c[0][0] + c[0][1] + c[1][0] + c[1][1]
}

// EvaluationMetrics summarize classifier performance on the held-out split.
type EvaluationMetrics struct {
	Accuracy        float64         `json:"accuracy"`
	Precision       float64         `json:"precision"`
	Recall          float64         `json:"recall"`
	F1              float64         `json:"f1"`
	ConfusionMatrix ConfusionMatrix `json:"confusionMatrix"`
	TestSize        int             `json:"testSize"`
}

// Prediction is the output of the offline prediction path.
type Prediction struct {
	Probability  float64 `json:"probability"`
	Prediction   bool    `json:"prediction"`
	ModelVersion string  `json:"modelVersion,omitempty"`
}

// ModelStore persists the current classifier model.
// Save replaces the current model atomically; Load returns ErrModelNotFound
// when nothing has been saved.
type ModelStore interface {
	SaveModel(ctx context.Context, model *ClassifierModel) error
	LoadModel(ctx context.Context) (*ClassifierModel, error)
}

// ModelStoreConfig holds configuration for model store initialization.
type ModelStoreConfig struct {
	// Type is the store type: "file" or "sql"
	Type string `koanf:"type"`

	// Dir is the artifact directory for the file store.
	Dir string `koanf:"dir"`

	// Retain is the number of superseded model generations to keep.
	Retain int `koanf:"retain"`
}
