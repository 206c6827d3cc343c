// Package rules evaluates operator-defined CEL rules against listings.
// A rule ending in the .fail band acts as an upstream fraud flag.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/listingrisk/internal/domain"
)

// DefaultVelocityWindow is the owner activity window used when the input sets none.
const DefaultVelocityWindow = 24 * time.Hour

// Engine is the CEL-based listing rule engine.
type Engine struct {
	mu             sync.RWMutex
	env            *cel.Env
	compiledRules  map[string]*CompiledRule
	velocityGetter VelocityGetter
	maxWorkers     int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// VelocityGetter returns how many listings an owner created within window.
type VelocityGetter func(ctx context.Context, ownerID string, window time.Duration) (int64, error)

// NewEngine creates a new rule evaluation engine.
func NewEngine(velocityGetter VelocityGetter, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("listing", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("price", cel.DoubleType),
		cel.Variable("bedrooms", cel.DoubleType),
		cel.Variable("bathrooms", cel.DoubleType),
		cel.Variable("floor_area", cel.DoubleType),
		cel.Variable("price_per_sqft", cel.DoubleType),
		cel.Variable("location", cel.StringType),
		cel.Variable("amenity_count", cel.IntType),
		cel.Variable("year_built", cel.IntType),
		cel.Variable("owner_id", cel.StringType),
		cel.Variable("owner_trust", cel.DoubleType),
		cel.Variable("has_owner_trust", cel.BoolType),
		cel.Variable("verification_status", cel.StringType),
		cel.Variable("description_length", cel.IntType),
		// Market context
		cel.Variable("expected_price", cel.DoubleType),
		cel.Variable("price_deviation", cel.DoubleType),
		cel.Variable("is_underpriced", cel.BoolType),
		cel.Variable("is_overpriced", cel.BoolType),
		cel.Variable("location_tier", cel.IntType),
		cel.Variable("base_fraud_risk", cel.DoubleType),
		// Owner activity
		cel.Variable("owner_listing_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:            env,
		compiledRules:  make(map[string]*CompiledRule),
		velocityGetter: velocityGetter,
		maxWorkers:     maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled
	return nil
}

// EvaluateInput holds the listing data for rule evaluation.
type EvaluateInput struct {
	Listing        *domain.Listing
	Market         domain.MarketContext
	VelocityWindow time.Duration
}

// EvaluateAll evaluates all loaded rules in parallel. Results are ordered by rule ID.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) ([]domain.RuleResult, error) {
	if input == nil || input.Listing == nil {
		return nil, fmt.Errorf("listing is required")
	}

	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.ID < rules[j].Config.ID })

	var ownerCount int64
	if e.velocityGetter != nil && input.Listing.OwnerID != "" {
		window := input.VelocityWindow
		if window <= 0 {
			window = DefaultVelocityWindow
		}
		count, err := e.velocityGetter(ctx, input.Listing.OwnerID, window)
		if err != nil {
			slog.Warn("owner velocity unavailable",
				"listing_id", input.Listing.ID,
				"owner_id", input.Listing.OwnerID,
				"error", err,
			)
		} else {
			ownerCount = count
		}
	}

	activation := buildActivation(input, ownerCount)

	results := make([]domain.RuleResult, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = e.evaluateRule(r, activation, input.Listing.ID)
		}(i, rule)
	}

	wg.Wait()

	return results, nil
}

func buildActivation(input *EvaluateInput, ownerCount int64) map[string]any {
	l := input.Listing
	mc := input.Market

	var pricePerSqft float64
	if l.FloorArea > 0 {
		pricePerSqft = l.Price / l.FloorArea
	}

	trust := 0.0
	if l.OwnerTrustScore != nil {
		trust = *l.OwnerTrustScore
	}

	amenities := make([]any, len(l.Amenities))
	for i, a := range l.Amenities {
		amenities[i] = strings.ToLower(a)
	}

	status := string(l.Status())

	return map[string]any{
		"listing": map[string]any{
			"id":                  l.ID,
			"owner_id":            l.OwnerID,
			"title":               l.Title,
			"description":         l.Description,
			"price":               l.Price,
			"location":            l.Location,
			"amenities":           amenities,
			"verification_status": status,
			"flagged_fraud":       l.FlaggedFraud,
		},
		"price":               l.Price,
		"bedrooms":            l.Bedrooms,
		"bathrooms":           l.Bathrooms,
		"floor_area":          l.FloorArea,
		"price_per_sqft":      pricePerSqft,
		"location":            l.Location,
		"amenity_count":       int64(len(l.Amenities)),
		"year_built":          int64(l.YearBuilt),
		"owner_id":            l.OwnerID,
		"owner_trust":         trust,
		"has_owner_trust":     l.OwnerTrustScore != nil,
		"verification_status": status,
		"description_length":  int64(len(l.Description)),
		"expected_price":      mc.ExpectedPrice,
		"price_deviation":     mc.PriceDeviation,
		"is_underpriced":      mc.IsUnderpriced,
		"is_overpriced":       mc.IsOverpriced,
		"location_tier":       int64(mc.LocationTier),
		"base_fraud_risk":     mc.BaseFraudRisk,
		"owner_listing_count": ownerCount,
	}
}

// evaluateRule evaluates a single rule and returns the result.
func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any, listingID string) domain.RuleResult {
	start := time.Now()

	result := domain.RuleResult{
		RuleID:    rule.Config.ID,
		ListingID: listingID,
		Weight:    rule.Config.Weight,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.SubRuleRef = domain.RuleOutcomeError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	result.Score = toScore(out)
	result.SubRuleRef, result.Reason = matchBand(result.Score, rule.Config.Bands)
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the first band with lower <= score < upper.
// A nil lower limit is 0 and a nil upper limit is unbounded.
// Rules without bands treat a positive score as a failure.
func matchBand(score float64, bands []domain.RuleBand) (string, string) {
	if len(bands) == 0 {
		if score > 0 {
			return domain.RuleOutcomeFail, "rule matched"
		}
		return domain.RuleOutcomePass, "rule not matched"
	}

	for _, band := range bands {
		lower := 0.0
		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if score < lower {
			continue
		}
		if band.UpperLimit == nil || score < *band.UpperLimit {
			return band.SubRuleRef, band.Reason
		}
	}

	return domain.RuleOutcomePass, "no matching band"
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules replaces the loaded rules with the enabled ones in configs.
// On a compile error the current rules stay in place.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// GetLoadedRules returns the currently loaded rule configurations ordered by ID.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
