package narrative

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-finance/listingrisk/internal/domain"
	"github.com/opensource-finance/listingrisk/internal/metrics"
	"github.com/opensource-finance/listingrisk/internal/scoring"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("listingrisk-narrative")

// DefaultTimeout bounds a single completion call.
const DefaultTimeout = 20 * time.Second

// Assessor produces fraud analyses. It never fails: service errors,
// timeouts and unusable responses all resolve to the rule-based analysis.
type Assessor struct {
	client   Client
	cache    domain.Cache
	policy   scoring.Policy
	timeout  time.Duration
	cacheTTL time.Duration
}

// Option configures an Assessor.
type Option func(*Assessor)

// WithCache caches narrative results under a hash of the listing and market context.
func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(a *Assessor) {
		a.cache = c
		a.cacheTTL = ttl
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Assessor) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithPolicy sets the policy used by the rule-based fallback.
func WithPolicy(p scoring.Policy) Option {
	return func(a *Assessor) { a.policy = p }
}

// NewAssessor creates an assessor around a completion client.
func NewAssessor(client Client, opts ...Option) *Assessor {
	a := &Assessor{
		client:  client,
		policy:  scoring.DefaultPolicy(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assess returns the fraud analysis for a listing.
func (a *Assessor) Assess(ctx context.Context, l *domain.Listing, mc domain.MarketContext) domain.FraudAnalysisResult {
	ctx, span := tracer.Start(ctx, "narrative.assess")
	defer span.End()
	span.SetAttributes(attribute.String("listing.id", l.ID))

	key := CacheKey(l, mc)
	if a.cache != nil {
		cached, err := a.cache.GetAnalysis(ctx, key)
		if err != nil {
			slog.Warn("narrative cache read failed", "listing_id", l.ID, "error", err)
		} else if cached != nil {
			cached.Source = domain.SourceCache
			span.SetAttributes(attribute.String("narrative.source", domain.SourceCache))
			metrics.NarrativeTotal.WithLabelValues(domain.SourceCache).Inc()
			return *cached
		}
	}

	result, err := a.complete(ctx, l, mc)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			slog.Debug("no completion service, using rule-based analysis", "listing_id", l.ID)
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, "narrative fallback")
			slog.Warn("narrative assessment unavailable, using rule-based analysis",
				"listing_id", l.ID,
				"provider", a.client.SourceName(),
				"error", err,
			)
		}
		fallback := a.policy.Analyze(l, mc)
		span.SetAttributes(attribute.String("narrative.source", domain.SourceFallback))
		metrics.NarrativeTotal.WithLabelValues(domain.SourceFallback).Inc()
		return fallback
	}

	if len(result.Coercions) > 0 {
		slog.Info("narrative response coerced", "listing_id", l.ID, "coercions", result.Coercions)
	}
	span.SetAttributes(attribute.String("narrative.source", domain.SourceNarrative))
	metrics.NarrativeTotal.WithLabelValues(domain.SourceNarrative).Inc()

	if a.cache != nil {
		if err := a.cache.SetAnalysis(ctx, key, result, a.cacheTTL); err != nil {
			slog.Warn("narrative cache write failed", "listing_id", l.ID, "error", err)
		}
	}
	return *result
}

func (a *Assessor) complete(ctx context.Context, l *domain.Listing, mc domain.MarketContext) (*domain.FraudAnalysisResult, error) {
	system, user, err := BuildPrompt(l, mc)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	text, err := a.client.Complete(callCtx, system, user)
	metrics.NarrativeDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	return Parse(text)
}

// CacheKey identifies an analysis by the listing content and market context it was made from.
func CacheKey(l *domain.Listing, mc domain.MarketContext) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(struct {
		ID                 string
		OwnerID            string
		OwnerTrustScore    *float64
		Title              string
		Description        string
		Price              float64
		Bedrooms           float64
		Bathrooms          float64
		FloorArea          float64
		Location           string
		Amenities          []string
		YearBuilt          int
		VerificationStatus domain.VerificationStatus
		FlaggedFraud       bool
		PriorVerification  string
		Market             domain.MarketContext
	}{
		l.ID, l.OwnerID, l.OwnerTrustScore, l.Title, l.Description, l.Price,
		l.Bedrooms, l.Bathrooms, l.FloorArea, l.Location, l.Amenities, l.YearBuilt,
		l.Status(), l.FlaggedFraud, string(l.AIVerificationResults), mc,
	})
	return "narrative:" + hex.EncodeToString(h.Sum(nil))
}
