// Package worker assesses listings asynchronously as they arrive on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/listingrisk/internal/domain"
)

// Assessor runs and persists one listing assessment. *assessment.Service implements it.
type Assessor interface {
	Assess(ctx context.Context, l *domain.Listing, docs []domain.DocumentResult) (*domain.RiskAssessment, error)
}

// Worker consumes listing ingest events and assesses each listing.
type Worker struct {
	bus      domain.EventBus
	assessor Assessor

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           chan struct{}
	stopped       bool
	stopCh        chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount bounds concurrent assessments.
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, assessor Assessor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		assessor: assessor,
		stopCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the listing ingest topic.
func (w *Worker) Start(cfg Config) error {
	count := cfg.WorkerCount
	if count <= 0 {
		count = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.sem = make(chan struct{}, count)
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicListingIngested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicListingIngested, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicListingIngested,
		"worker_count", count,
	)
	return nil
}

// handleMessage decodes the listing and hands it to the pool. It blocks while
// every worker is busy, which applies backpressure to the subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var l domain.Listing
	if err := json.Unmarshal(msg.Payload, &l); err != nil {
		slog.Error("failed to parse listing message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if l.ID == "" {
		return fmt.Errorf("listing message %s has no listing id", msg.ID)
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return fmt.Errorf("worker stopped")
	}
	w.wg.Add(1)
	w.mu.Unlock()

	select {
	case w.sem <- struct{}{}:
	case <-w.stopCh:
		w.wg.Done()
		return fmt.Errorf("worker stopped")
	}

	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.processListing(w.ctx, &l, msg.ID)
	}()
	return nil
}

func (w *Worker) processListing(ctx context.Context, l *domain.Listing, messageID string) {
	start := time.Now()

	slog.Debug("processing listing",
		"listing_id", l.ID,
		"message_id", messageID,
	)

	a, err := w.assessor.Assess(ctx, l, nil)
	if err != nil {
		slog.Error("listing assessment failed",
			"listing_id", l.ID,
			"error", err,
		)
		return
	}

	slog.Info("listing processed",
		"listing_id", l.ID,
		"risk_score", a.RiskScore,
		"tier", a.RiskTier,
		"fraud", a.IsFraud,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop unsubscribes and waits for in-flight assessments.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()
	w.cancel()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	InFlight          int      `json:"inFlight"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		InFlight:          len(w.sem),
	}
}
