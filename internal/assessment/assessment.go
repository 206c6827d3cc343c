// Package assessment runs the listing risk pipeline: market context and
// features, operator rules, narrative analysis, composite scoring and
// verification status resolution.
package assessment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/listingrisk/internal/domain"
	"github.com/opensource-finance/listingrisk/internal/features"
	"github.com/opensource-finance/listingrisk/internal/market"
	"github.com/opensource-finance/listingrisk/internal/metrics"
	"github.com/opensource-finance/listingrisk/internal/rules"
	"github.com/opensource-finance/listingrisk/internal/scoring"
	"github.com/opensource-finance/listingrisk/internal/training"
	"github.com/opensource-finance/listingrisk/internal/verification"
)

var tracer = otel.Tracer("listingrisk-assessment")

// EngineVersion is stamped on every assessment.
const EngineVersion = "listingrisk-1.0"

// DefaultMaxConcurrency bounds batch fan-out when no limit is configured.
const DefaultMaxConcurrency = 8

// Analyzer produces the first-pass fraud analysis. *narrative.Assessor implements it.
type Analyzer interface {
	Assess(ctx context.Context, l *domain.Listing, mc domain.MarketContext) domain.FraudAnalysisResult
}

// Service assesses listings and accumulates the training dataset.
type Service struct {
	repo      domain.Repository
	bus       domain.EventBus
	market    *market.Analyzer
	extractor *features.Extractor
	analyzer  Analyzer
	engine    *rules.Engine
	policy    scoring.Policy

	maxConcurrency int
	velocityWindow time.Duration
	onIngest       func(ctx context.Context, l *domain.Listing)
}

// Option configures a Service.
type Option func(*Service)

// WithBus publishes pipeline events.
func WithBus(bus domain.EventBus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithRules evaluates operator rules; a .fail outcome raises the upstream flag.
func WithRules(engine *rules.Engine, velocityWindow time.Duration) Option {
	return func(s *Service) {
		s.engine = engine
		s.velocityWindow = velocityWindow
	}
}

// WithPolicy overrides the default scoring policy.
func WithPolicy(p scoring.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithMaxConcurrency bounds concurrent assessments in AssessBatch.
func WithMaxConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

// WithExtractor overrides the feature extractor, e.g. to pin the clock.
func WithExtractor(e *features.Extractor) Option {
	return func(s *Service) { s.extractor = e }
}

// OnIngest registers a hook run after a listing is stored.
func OnIngest(fn func(ctx context.Context, l *domain.Listing)) Option {
	return func(s *Service) { s.onIngest = fn }
}

// NewService creates an assessment service.
func NewService(repo domain.Repository, analyzer *market.Analyzer, narrative Analyzer, opts ...Option) *Service {
	s := &Service{
		repo:           repo,
		market:         analyzer,
		extractor:      features.New(analyzer),
		analyzer:       narrative,
		policy:         scoring.DefaultPolicy(),
		maxConcurrency: DefaultMaxConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest stores a listing and announces it on the bus.
func (s *Service) Ingest(ctx context.Context, l *domain.Listing) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if err := s.repo.SaveListing(ctx, l); err != nil {
		return fmt.Errorf("failed to save listing %s: %w", l.ID, err)
	}
	if s.onIngest != nil {
		s.onIngest(ctx, l)
	}
	s.publish(ctx, domain.TopicListingIngested, l)
	return nil
}

// Evaluate runs the pipeline for one listing without persisting anything.
// docs may be empty; the resolved status is then left unset.
func (s *Service) Evaluate(ctx context.Context, l *domain.Listing, docs []domain.DocumentResult) *domain.RiskAssessment {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "assessment.evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("listing.id", l.ID))

	mc := s.market.Analyze(l)
	fv := s.extractor.Extract(l)

	var ruleResults []domain.RuleResult
	rulesStart := time.Now()
	if s.engine != nil && s.engine.RulesCount() > 0 {
		results, err := s.engine.EvaluateAll(ctx, &rules.EvaluateInput{
			Listing:        l,
			Market:         mc,
			VelocityWindow: s.velocityWindow,
		})
		if err != nil {
			slog.Warn("rule evaluation failed", "listing_id", l.ID, "error", err)
		}
		ruleResults = results
	}
	rulesMs := time.Since(rulesStart).Milliseconds()

	narrativeStart := time.Now()
	analysis := s.analyzer.Assess(ctx, l, mc)
	narrativeMs := time.Since(narrativeStart).Milliseconds()

	result := s.policy.Score(scoring.Input{
		Status:       l.Status(),
		Market:       mc,
		Analysis:     analysis,
		UpstreamFlag: l.FlaggedFraud || domain.AnyRuleFailed(ruleResults),
	})

	reasons := append([]string{}, result.Reasons...)
	reasons = append(reasons, domain.RuleReasons(ruleResults)...)
	reasons = append(reasons, analysis.Reasons...)

	a := &domain.RiskAssessment{
		ID:              uuid.New().String(),
		ListingID:       l.ID,
		RiskScore:       result.RiskScore,
		SuspiciousScore: result.SuspiciousScore,
		RiskTier:        result.RiskTier,
		IsFraud:         result.IsFraud,
		Reasons:         reasons,
		Features:        fv,
		Market:          mc,
		Analysis:        analysis,
		RuleResults:     ruleResults,
		Timestamp:       time.Now().UTC(),
		Metadata: domain.AssessmentMetadata{
			TraceID:       traceID(ctx),
			NarrativeMs:   narrativeMs,
			RulesMs:       rulesMs,
			EngineVersion: EngineVersion,
		},
	}
	if len(docs) > 0 {
		a.Status = verification.Resolve(docs, &analysis)
	}
	a.Metadata.TotalMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.Float64("assessment.risk_score", a.RiskScore),
		attribute.String("assessment.tier", string(a.RiskTier)),
		attribute.Bool("assessment.fraud", a.IsFraud),
		attribute.String("assessment.source", analysis.Source),
	)
	metrics.AssessmentsTotal.WithLabelValues(string(a.RiskTier), strconv.FormatBool(a.IsFraud)).Inc()
	metrics.AssessmentDurationSeconds.Observe(time.Since(start).Seconds())

	return a
}

// Assess evaluates a listing, persists the assessment and its training
// example, writes back a resolved status, and publishes the outcome.
// On a persistence error the assessment is still returned.
func (s *Service) Assess(ctx context.Context, l *domain.Listing, docs []domain.DocumentResult) (*domain.RiskAssessment, error) {
	a := s.Evaluate(ctx, l, docs)

	if err := s.repo.SaveAssessment(ctx, a); err != nil {
		return a, fmt.Errorf("failed to save assessment for listing %s: %w", l.ID, err)
	}
	if err := s.repo.SaveTrainingExample(ctx, training.NewExample(l, a)); err != nil {
		return a, fmt.Errorf("failed to save training example for listing %s: %w", l.ID, err)
	}
	if a.Status != "" && a.Status != l.Status() {
		if err := s.repo.UpdateListingStatus(ctx, l.ID, a.Status, nil); err != nil {
			return a, fmt.Errorf("failed to update status for listing %s: %w", l.ID, err)
		}
		l.VerificationStatus = a.Status
	}

	slog.Info("listing assessed",
		"listing_id", l.ID,
		"assessment_id", a.ID,
		"risk_score", a.RiskScore,
		"tier", a.RiskTier,
		"fraud", a.IsFraud,
		"source", a.Analysis.Source,
	)

	s.publish(ctx, domain.TopicAssessmentCompleted, a)
	if a.IsFraud {
		s.publish(ctx, domain.TopicListingFlagged, a)
	}
	return a, nil
}

// AssessByID loads a stored listing and assesses it.
func (s *Service) AssessByID(ctx context.Context, listingID string, docs []domain.DocumentResult) (*domain.RiskAssessment, error) {
	l, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load listing %s: %w", listingID, err)
	}
	return s.Assess(ctx, l, docs)
}

// BatchResult is the outcome for one listing of a batch.
type BatchResult struct {
	ListingID  string                 `json:"listingId"`
	Assessment *domain.RiskAssessment `json:"assessment,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// AssessBatch assesses listings with at most maxConcurrency in flight.
// Results keep the input order.
func (s *Service) AssessBatch(ctx context.Context, listings []*domain.Listing) []BatchResult {
	results := make([]BatchResult, len(listings))
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.maxConcurrency)

	for i, l := range listings {
		wg.Add(1)
		go func(idx int, l *domain.Listing) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			res := BatchResult{ListingID: l.ID}
			if err := ctx.Err(); err != nil {
				res.Error = err.Error()
				results[idx] = res
				return
			}

			a, err := s.Assess(ctx, l, nil)
			res.Assessment = a
			if err != nil {
				res.Error = err.Error()
			}
			results[idx] = res
		}(i, l)
	}

	wg.Wait()
	return results
}

// BuildTrainingExample runs the pipeline for a listing and stores the
// labeled example without recording an assessment.
func (s *Service) BuildTrainingExample(ctx context.Context, l *domain.Listing) (*domain.TrainingExample, error) {
	a := s.Evaluate(ctx, l, nil)
	ex := training.NewExample(l, a)
	if err := s.repo.SaveTrainingExample(ctx, ex); err != nil {
		return ex, fmt.Errorf("failed to save training example for listing %s: %w", l.ID, err)
	}
	return ex, nil
}

// BuildTrainingExamples builds examples for the newest limit stored listings,
// or for every stored listing when limit <= 0. It returns the number of
// examples stored.
func (s *Service) BuildTrainingExamples(ctx context.Context, limit int) (int, error) {
	var (
		listings []*domain.Listing
		err      error
	)
	if limit > 0 {
		listings, err = s.repo.ListListings(ctx, limit)
	} else {
		listings, err = s.repo.ListAllListings(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list listings: %w", err)
	}

	var (
		mu       sync.Mutex
		built    int
		firstErr error
		wg       sync.WaitGroup
	)
	sem := make(chan struct{}, s.maxConcurrency)

	for _, l := range listings {
		wg.Add(1)
		go func(l *domain.Listing) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			_, err := s.BuildTrainingExample(ctx, l)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			built++
		}(l)
	}

	wg.Wait()
	return built, firstErr
}

// Market exposes the market analyzer for read-only endpoints.
func (s *Service) Market() *market.Analyzer { return s.market }

// Features exposes the feature extractor for read-only endpoints.
func (s *Service) Features() *features.Extractor { return s.extractor }

func (s *Service) publish(ctx context.Context, topic string, v any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
