// Package jobs runs classifier training, on demand or on a cron schedule.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opensource-finance/listingrisk/internal/classifier"
	"github.com/opensource-finance/listingrisk/internal/domain"
	"github.com/opensource-finance/listingrisk/internal/metrics"
	"github.com/opensource-finance/listingrisk/internal/training"
)

// ExampleSource lists the labeled dataset.
type ExampleSource interface {
	ListTrainingExamples(ctx context.Context) ([]*domain.TrainingExample, error)
}

// Result is the outcome of one training run.
type Result struct {
	Model   *domain.ClassifierModel   `json:"model"`
	Metrics *domain.EvaluationMetrics `json:"metrics"`
}

// TrainingRunner trains one model at a time and installs it as current.
type TrainingRunner struct {
	mu        sync.Mutex
	examples  ExampleSource
	store     domain.ModelStore
	predictor *classifier.Predictor
	trainer   *training.Trainer
	bus       domain.EventBus
	seed      int64
	now       func() time.Time

	cron *cron.Cron
}

// NewTrainingRunner creates a runner. A zero seed derives one from the clock per run.
func NewTrainingRunner(examples ExampleSource, store domain.ModelStore, predictor *classifier.Predictor, trainer *training.Trainer, bus domain.EventBus, seed int64) *TrainingRunner {
	return &TrainingRunner{
		examples:  examples,
		store:     store,
		predictor: predictor,
		trainer:   trainer,
		bus:       bus,
		seed:      seed,
		now:       time.Now,
	}
}

// Run trains a model on the stored dataset and saves it. When saving fails
// the trained model is still returned alongside the error, and the predictor
// keeps its previous model.
func (r *TrainingRunner) Run(ctx context.Context) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	examples, err := r.examples.ListTrainingExamples(ctx)
	if err != nil {
		metrics.TrainingRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to list training examples: %w", err)
	}

	seed := r.seed
	if seed == 0 {
		seed = r.now().UnixNano()
	}

	model, evaluation, err := r.trainer.Train(examples, seed)
	if err != nil {
		metrics.TrainingRunsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	res := &Result{Model: model, Metrics: evaluation}

	if err := r.store.SaveModel(ctx, model); err != nil {
		metrics.TrainingRunsTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("failed to save classifier model: %w", err)
	}
	if r.predictor != nil {
		r.predictor.Set(model)
	}

	metrics.TrainingRunsTotal.WithLabelValues("success").Inc()
	metrics.ModelAccuracy.Set(evaluation.Accuracy)
	metrics.TrainingExamples.Set(float64(len(examples)))

	slog.Info("classifier trained",
		"model_id", model.ID,
		"version", model.Version,
		"seed", seed,
		"examples", len(examples),
		"accuracy", evaluation.Accuracy,
		"f1", evaluation.F1,
	)

	r.publish(ctx, res)
	return res, nil
}

// Schedule runs training on a standard five-field cron expression.
func (r *TrainingRunner) Schedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid training schedule %q: %w", spec, err)
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := r.Run(context.Background()); err != nil {
			slog.Warn("scheduled training failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule training: %w", err)
	}

	r.mu.Lock()
	if r.cron != nil {
		r.cron.Stop()
	}
	r.cron = c
	r.mu.Unlock()

	c.Start()
	slog.Info("training schedule started", "schedule", spec)
	return nil
}

// Stop halts the schedule, waiting for a running job to finish.
func (r *TrainingRunner) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

func (r *TrainingRunner) publish(ctx context.Context, res *Result) {
	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		slog.Error("failed to encode training result", "error", err)
		return
	}
	if err := r.bus.Publish(ctx, domain.TopicModelTrained, payload); err != nil {
		slog.Warn("failed to publish training result", "error", err)
	}
}
