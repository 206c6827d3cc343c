// Package training builds the labeled dataset and trains and evaluates the
// threshold classifier.
package training

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/listingrisk/internal/domain"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientData is returned when there are too few examples to train.
var ErrInsufficientData = errors.New("insufficient training data")

// MinExamples is the smallest dataset Train accepts.
const MinExamples = 10

// DefaultTrainFraction is the share of examples used for calibration.
const DefaultTrainFraction = 0.8

// Weighting assigns a weight to each feature index.
type Weighting interface {
	Weights(train []*domain.TrainingExample) []float64
}

// HandSpecifiedWeights is the fixed weight vector used in production.
type HandSpecifiedWeights struct{}

// Weights returns the hand-specified vector; the training set is ignored.
func (HandSpecifiedWeights) Weights([]*domain.TrainingExample) []float64 {
	w := make([]float64, domain.FeatureCount)
	w[domain.FeaturePrice] = 0.3
	w[domain.FeatureBedrooms] = 0.1
	w[domain.FeatureBathrooms] = 0.1
	w[domain.FeatureFloorArea] = 0.2
	w[domain.FeatureLocationTier] = 0.15
	w[domain.FeatureAmenityCount] = 0.05
	w[domain.FeatureVerified] = 0.1
	return w
}

// Trainer trains threshold classifiers.
type Trainer struct {
	Weighting     Weighting
	Thresholds    domain.Thresholds
	TrainFraction float64
	Version       string

	// Now stamps TrainedAt.
	Now func() time.Time
}

// NewTrainer returns a trainer with hand-specified weights and default thresholds.
func NewTrainer(version string) *Trainer {
	return &Trainer{
		Weighting:     HandSpecifiedWeights{},
		Thresholds:    domain.DefaultThresholds(),
		TrainFraction: DefaultTrainFraction,
		Version:       version,
		Now:           time.Now,
	}
}

// Train shuffles the examples with seed, splits them into train and test
// sets, calibrates a model on the train set and evaluates it on the test set.
// The input slice is not modified.
func (t *Trainer) Train(examples []*domain.TrainingExample, seed int64) (*domain.ClassifierModel, *domain.EvaluationMetrics, error) {
	if len(examples) < MinExamples {
		return nil, nil, fmt.Errorf("%w: have %d examples, need at least %d", ErrInsufficientData, len(examples), MinExamples)
	}

	train, test := Split(examples, seed, t.trainFraction())

	model := t.Calibrate(train)
	model.Seed = seed

	metrics := Evaluate(test, model)
	return model, metrics, nil
}

func (t *Trainer) trainFraction() float64 {
	if t.TrainFraction <= 0 || t.TrainFraction >= 1 {
		return DefaultTrainFraction
	}
	return t.TrainFraction
}

// Split shuffles a copy of examples with seed and cuts it at floor(fraction*n).
func Split(examples []*domain.TrainingExample, seed int64, fraction float64) (train, test []*domain.TrainingExample) {
	shuffled := make([]*domain.TrainingExample, len(examples))
	copy(shuffled, examples)

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	cut := int(fraction * float64(len(shuffled)))
	return shuffled[:cut], shuffled[cut:]
}

// Calibrate derives the model statistics from the training split.
func (t *Trainer) Calibrate(train []*domain.TrainingExample) *domain.ClassifierModel {
	weighting := t.Weighting
	if weighting == nil {
		weighting = HandSpecifiedWeights{}
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}

	labels := make([]float64, len(train))
	hits := make([]float64, len(train))
	for i, ex := range train {
		if ex.IsFraud {
			labels[i] = 1
		}
		if (ex.RiskScore > t.Thresholds.RiskScore) == ex.IsFraud {
			hits[i] = 1
		}
	}

	var fraudRate, accuracy float64
	if len(train) > 0 {
		fraudRate = stat.Mean(labels, nil)
		accuracy = floats.Sum(hits) / float64(len(train))
	}

	return &domain.ClassifierModel{
		ID:               uuid.New().String(),
		Type:             domain.ModelTypeThreshold,
		Thresholds:       t.Thresholds,
		FeatureWeights:   weighting.Weights(train),
		TrainingAccuracy: accuracy,
		FraudRate:        fraudRate,
		SampleSize:       len(train),
		TrainedAt:        now().UTC(),
		Version:          t.Version,
	}
}

// Evaluate scores the test split: an example is predicted fraudulent when its
// risk score exceeds the model's risk threshold.
func Evaluate(test []*domain.TrainingExample, model *domain.ClassifierModel) *domain.EvaluationMetrics {
	var cm domain.ConfusionMatrix
	for _, ex := range test {
		predicted := ex.RiskScore > model.Thresholds.RiskScore
		actual, pred := 0, 0
		if ex.IsFraud {
			actual = 1
		}
		if predicted {
			pred = 1
		}
		cm[actual][pred]++
	}

	tn, fp, fn, tp := float64(cm[0][0]), float64(cm[0][1]), float64(cm[1][0]), float64(cm[1][1])

	precision := ratio(tp, tp+fp)
	recall := ratio(tp, tp+fn)

	return &domain.EvaluationMetrics{
		Accuracy:        ratio(tp+tn, float64(len(test))),
		Precision:       precision,
		Recall:          recall,
		F1:              ratio(2*precision*recall, precision+recall),
		ConfusionMatrix: cm,
		TestSize:        len(test),
	}
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
