// Package market compares listing prices against static market baselines.
package market

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/opensource-finance/listingrisk/internal/domain"
	"gopkg.in/yaml.v3"
)

// SqftToSqm converts listing floor area (square feet) to the baseline unit.
const SqftToSqm = 0.09290304

// Pricing thresholds relative to the expected price.
const (
	UnderpricedFactor = 0.7
	OverpricedFactor  = 1.5
)

//go:embed baselines.yaml
var embeddedBaselines []byte

// DefaultBaseline applies to locations that match no table entry.
var DefaultBaseline = domain.MarketBaseline{
	Name:           "default",
	AvgPricePerSqm: 100000,
	MinPricePerSqm: 50000,
	MaxPricePerSqm: 200000,
	FraudRisk:      0.10,
	RiskTier:       2,
}

// Table is the on-disk layout of a baseline file.
type Table struct {
	Default   *domain.MarketBaseline  `yaml:"default"`
	Baselines []domain.MarketBaseline `yaml:"baselines"`
}

// Analyzer maps listings to market baselines. It is immutable after
// construction and safe for concurrent use.
type Analyzer struct {
	fallback  domain.MarketBaseline
	baselines []domain.MarketBaseline // longest match first
}

// New creates an analyzer over the given table.
func New(table Table) *Analyzer {
	fallback := DefaultBaseline
	if table.Default != nil {
		fallback = *table.Default
	}

	baselines := make([]domain.MarketBaseline, 0, len(table.Baselines))
	for _, b := range table.Baselines {
		b.Match = strings.ToLower(strings.TrimSpace(b.Match))
		if b.Match == "" {
			continue
		}
		baselines = append(baselines, b)
	}
	sort.SliceStable(baselines, func(i, j int) bool {
		if len(baselines[i].Match) != len(baselines[j].Match) {
			return len(baselines[i].Match) > len(baselines[j].Match)
		}
		return baselines[i].Match < baselines[j].Match
	})

	return &Analyzer{fallback: fallback, baselines: baselines}
}

// ParseTable decodes a YAML baseline table.
func ParseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("failed to parse baseline table: %w", err)
	}
	return t, nil
}

// DefaultTable returns the embedded baseline table.
func DefaultTable() Table {
	t, err := ParseTable(embeddedBaselines)
	if err != nil {
		panic(err)
	}
	return t
}

// NewDefault creates an analyzer over the embedded table, or over path when non-empty.
func NewDefault(path string) (*Analyzer, error) {
	if path == "" {
		return New(DefaultTable()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline file: %w", err)
	}
	t, err := ParseTable(data)
	if err != nil {
		return nil, err
	}
	return New(t), nil
}

// Baseline returns the baseline for a free-text location.
func (a *Analyzer) Baseline(location string) domain.MarketBaseline {
	loc := strings.ToLower(location)
	for _, b := range a.baselines {
		if strings.Contains(loc, b.Match) {
			return b
		}
	}
	return a.fallback
}

// LocationTier returns the risk tier for a location.
func (a *Analyzer) LocationTier(location string) int {
	return a.Baseline(location).RiskTier
}

// Analyze computes the market context for a listing. It is pure and total.
func (a *Analyzer) Analyze(l *domain.Listing) domain.MarketContext {
	if l == nil {
		l = &domain.Listing{}
	}
	b := a.Baseline(l.Location)

	areaSqm := nonNegative(l.FloorArea) * SqftToSqm
	expected := areaSqm * b.AvgPricePerSqm
	actual := nonNegative(l.Price)

	var deviation float64
	if actual > 0 && expected > 0 {
		deviation = (actual - expected) / expected
	}

	return domain.MarketContext{
		Baseline:       b.Name,
		LocationTier:   b.RiskTier,
		ExpectedPrice:  expected,
		ActualPrice:    actual,
		PriceDeviation: deviation,
		IsUnderpriced:  actual > 0 && actual < UnderpricedFactor*expected,
		IsOverpriced:   actual > OverpricedFactor*expected,
		BaseFraudRisk:  b.FraudRisk,
	}
}

func nonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
