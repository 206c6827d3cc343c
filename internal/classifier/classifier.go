// Package classifier serves predictions from a stored threshold classifier
// without calling the narrative service.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/opensource-finance/listingrisk/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// ProbabilityThreshold is the cut-off for a positive prediction.
const ProbabilityThreshold = 0.7

// NoModelProbability is returned when no model is available.
const NoModelProbability = 0.5

// Predict scores a feature vector against a model. With no model it returns
// the uninformative {0.5, false}.
func Predict(features domain.FeatureVector, model *domain.ClassifierModel) domain.Prediction {
	if model == nil {
		return domain.Prediction{Probability: NoModelProbability}
	}

	n := len(features)
	if len(model.FeatureWeights) < n {
		n = len(model.FeatureWeights)
	}
	weighted := floats.Dot(features[:n], model.FeatureWeights[:n])

	probability := weighted / 100
	switch {
	case math.IsNaN(probability) || probability < 0:
		probability = 0
	case probability > 1:
		probability = 1
	}

	return domain.Prediction{
		Probability:  probability,
		Prediction:   probability > ProbabilityThreshold,
		ModelVersion: model.Version,
	}
}

// Predictor holds the current model for concurrent readers.
// Reload swaps in the stored model; readers never see a partial model.
type Predictor struct {
	store domain.ModelStore
	model atomic.Pointer[domain.ClassifierModel]
}

// NewPredictor creates a predictor backed by store. No model is loaded until Reload.
func NewPredictor(store domain.ModelStore) *Predictor {
	return &Predictor{store: store}
}

// Reload loads the current model from the store. When nothing is stored the
// predictor is cleared and domain.ErrModelNotFound is returned.
func (p *Predictor) Reload(ctx context.Context) (*domain.ClassifierModel, error) {
	model, err := p.store.LoadModel(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrModelNotFound) {
			p.model.Store(nil)
		}
		return nil, fmt.Errorf("failed to load classifier model: %w", err)
	}

	p.model.Store(model)
	slog.Info("classifier model loaded",
		"model_id", model.ID,
		"version", model.Version,
		"trained_at", model.TrainedAt,
	)
	return model, nil
}

// Set installs a model directly, e.g. right after training.
func (p *Predictor) Set(model *domain.ClassifierModel) {
	p.model.Store(model)
}

// Model returns the current model, or nil.
func (p *Predictor) Model() *domain.ClassifierModel {
	return p.model.Load()
}

// Predict scores features against the current model.
func (p *Predictor) Predict(features domain.FeatureVector) domain.Prediction {
	return Predict(features, p.model.Load())
}
