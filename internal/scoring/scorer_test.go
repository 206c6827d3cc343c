package scoring

import (
	"math"
	"testing"

	"github.com/opensource-finance/listingrisk/internal/domain"
	"github.com/opensource-finance/listingrisk/internal/market"
)

func analysis(suspicious, document, ownership float64) domain.FraudAnalysisResult {
	return domain.FraudAnalysisResult{
		SuspiciousScore: suspicious,
		FraudPatterns: domain.FraudPatterns{
			DocumentInconsistency: document,
			OwnershipRisk:         ownership,
		},
		PriceAnomalyReported: true,
	}
}

func TestScoreFraudLabel(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name  string
		input Input
		want  bool
	}{
		{
			name:  "SingleCorroboratingSignal",
			input: Input{Status: domain.StatusPending, Analysis: analysis(0.45, 65, 10)},
			want:  false,
		},
		{
			name:  "TwoCorroboratingSignals",
			input: Input{Status: domain.StatusPending, Analysis: analysis(0.45, 65, 65)},
			want:  true,
		},
		{
			name:  "SuspiciousAndDocument",
			input: Input{Status: domain.StatusPending, Analysis: analysis(0.55, 65, 10)},
			want:  true,
		},
		{
			name:  "StrongSuspiciousScore",
			input: Input{Status: domain.StatusPending, Analysis: analysis(0.71, 0, 0)},
			want:  true,
		},
		{
			name:  "SuspiciousAtBoundary",
			input: Input{Status: domain.StatusPending, Analysis: analysis(0.7, 0, 0)},
			want:  false,
		},
		{
			name: "StrongPriceAnomaly",
			input: Input{Status: domain.StatusPending, Analysis: domain.FraudAnalysisResult{
				FraudPatterns:        domain.FraudPatterns{PriceAnomaly: 81},
				PriceAnomalyReported: true,
			}},
			want: true,
		},
		{
			name:  "FailedStatus",
			input: Input{Status: domain.StatusFailed},
			want:  true,
		},
		{
			name:  "UpstreamFlag",
			input: Input{Status: domain.StatusVerified, UpstreamFlag: true},
			want:  true,
		},
		{
			name:  "Clean",
			input: Input{Status: domain.StatusVerified, Analysis: analysis(0.1, 0, 5)},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Score(tt.input)
			if got.IsFraud != tt.want {
				t.Errorf("expected isFraud=%v, got %v (reasons %v)", tt.want, got.IsFraud, got.Reasons)
			}
			if got.IsFraud && len(got.Reasons) == 0 {
				t.Error("fraud label without reasons")
			}
		})
	}
}

func TestScoreCorroboratingRequired(t *testing.T) {
	// Requiring all three corroborating signals.
	p := DefaultPolicy()
	p.CorroboratingRequired = 3

	if p.Score(Input{Analysis: analysis(0.55, 65, 10)}).IsFraud {
		t.Error("expected no label with two of three signals")
	}
	if !p.Score(Input{Analysis: analysis(0.55, 65, 65)}).IsFraud {
		t.Error("expected label with all three signals")
	}
}

func TestScoreBounds(t *testing.T) {
	p := DefaultPolicy()

	t.Run("UpperClamp", func(t *testing.T) {
		in := Input{
			Status: domain.StatusFailed,
			Analysis: domain.FraudAnalysisResult{
				SuspiciousScore: 3,
				FraudPatterns: domain.FraudPatterns{
					PriceAnomaly:          500,
					DocumentInconsistency: 500,
					OwnershipRisk:         500,
					MarketDeviation:       500,
				},
				PriceAnomalyReported: true,
			},
		}
		got := p.Score(in)
		if got.RiskScore != 100 {
			t.Errorf("expected 100, got %f", got.RiskScore)
		}
		if got.SuspiciousScore != 1 {
			t.Errorf("expected suspicious score clamped to 1, got %f", got.SuspiciousScore)
		}
		if got.RiskTier != domain.RiskHigh {
			t.Errorf("expected high tier, got %s", got.RiskTier)
		}
	})

	t.Run("LowerClamp", func(t *testing.T) {
		got := p.Score(Input{Status: domain.StatusVerified, Analysis: analysis(-1, -50, math.NaN())})
		if got.RiskScore != 0 {
			t.Errorf("expected 0, got %f", got.RiskScore)
		}
		if got.RiskTier != domain.RiskLow {
			t.Errorf("expected low tier, got %s", got.RiskTier)
		}
	})

	t.Run("Composite", func(t *testing.T) {
		in := Input{
			Status: domain.StatusPending,
			Analysis: domain.FraudAnalysisResult{
				SuspiciousScore: 0.5,
				FraudPatterns: domain.FraudPatterns{
					PriceAnomaly:          50,
					DocumentInconsistency: 20,
					OwnershipRisk:         40,
					MarketDeviation:       60,
				},
				PriceAnomalyReported: true,
			},
		}
		// 20 + 10 + 6 + 10 + 9
		want := 55.0
		got := p.Score(in)
		if math.Abs(got.RiskScore-want) > 1e-9 {
			t.Errorf("expected %f, got %f", want, got.RiskScore)
		}
		if got.RiskTier != domain.RiskMedium {
			t.Errorf("expected medium tier, got %s", got.RiskTier)
		}
	})

	t.Run("FuzzRange", func(t *testing.T) {
		statuses := []domain.VerificationStatus{domain.StatusPending, domain.StatusVerified, domain.StatusFailed, domain.StatusSuspicious}
		values := []float64{-1000, -1, 0, 0.3, 0.9, 1, 42, 99, 100, 1e9, math.Inf(1), math.Inf(-1)}
		for _, s := range statuses {
			for _, v := range values {
				in := Input{
					Status: s,
					Analysis: domain.FraudAnalysisResult{
						SuspiciousScore: v,
						FraudPatterns: domain.FraudPatterns{
							PriceAnomaly:          v,
							DocumentInconsistency: v,
							OwnershipRisk:         v,
							MarketDeviation:       v,
						},
						PriceAnomalyReported: true,
					},
				}
				got := p.Score(in)
				if got.RiskScore < 0 || got.RiskScore > 100 || math.IsNaN(got.RiskScore) {
					t.Fatalf("risk score %f out of range for status %s value %v", got.RiskScore, s, v)
				}
			}
		}
	})
}

func TestPriceAnomaly(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name string
		mc   domain.MarketContext
		want float64
	}{
		{"Underpriced", domain.MarketContext{IsUnderpriced: true}, 70},
		{"Overpriced", domain.MarketContext{IsOverpriced: true}, 50},
		{"Fair", domain.MarketContext{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.PriceAnomaly(tt.mc); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	t.Run("DerivedWhenNotReported", func(t *testing.T) {
		got := p.Score(Input{
			Market:   domain.MarketContext{IsUnderpriced: true},
			Analysis: domain.FraudAnalysisResult{FraudPatterns: domain.FraudPatterns{PriceAnomaly: 99}},
		})
		if got.PriceAnomaly != 70 {
			t.Errorf("expected derived anomaly 70, got %v", got.PriceAnomaly)
		}
	})
}

func TestAnalyzeUnderpricedScenario(t *testing.T) {
	analyzer := market.New(market.DefaultTable())
	p := DefaultPolicy()

	b := analyzer.Baseline("Lavington")
	expected := 1000 * market.SqftToSqm * b.AvgPricePerSqm
	l := &domain.Listing{
		OwnerID:   "7",
		FloorArea: 1000,
		Location:  "Lavington",
		Price:     0.5 * expected,
	}

	mc := analyzer.Analyze(l)
	if !mc.IsUnderpriced {
		t.Fatal("expected underpriced market context")
	}

	result := p.Analyze(l, mc)
	if result.FraudPatterns.PriceAnomaly != 70 {
		t.Errorf("expected price anomaly 70, got %v", result.FraudPatterns.PriceAnomaly)
	}
	if result.Source != domain.SourceFallback {
		t.Errorf("expected fallback source, got %s", result.Source)
	}
	// pending 20, unknown owner 30, deviation 50
	want := (0.4*70 + 0.3*20 + 0.2*30 + 0.1*50) / 100
	if math.Abs(result.SuspiciousScore-want) > 1e-9 {
		t.Errorf("expected suspicious score %f, got %f", want, result.SuspiciousScore)
	}
	if result.RiskLevel != domain.RiskMedium {
		t.Errorf("expected medium risk level, got %s", result.RiskLevel)
	}
	if result.IsSuspicious {
		t.Error("0.45 is below the suspicious threshold")
	}
	if len(result.Reasons) == 0 {
		t.Error("expected reasons")
	}
}

func TestAnalyzeFallback(t *testing.T) {
	p := DefaultPolicy()

	t.Run("DocumentInconsistencyByStatus", func(t *testing.T) {
		want := map[domain.VerificationStatus]float64{
			domain.StatusFailed:     70,
			domain.StatusSuspicious: 50,
			domain.StatusPending:    20,
			domain.StatusVerified:   0,
			"unknown":               20,
		}
		for status, expected := range want {
			got := p.Analyze(&domain.Listing{VerificationStatus: status}, domain.MarketContext{})
			if got.FraudPatterns.DocumentInconsistency != expected {
				t.Errorf("%s: expected %v, got %v", status, expected, got.FraudPatterns.DocumentInconsistency)
			}
		}
	})

	t.Run("OwnershipRisk", func(t *testing.T) {
		trust := 0.25
		got := p.Analyze(&domain.Listing{OwnerTrustScore: &trust}, domain.MarketContext{})
		if got.FraudPatterns.OwnershipRisk != 45 {
			t.Errorf("expected 45, got %v", got.FraudPatterns.OwnershipRisk)
		}
		got = p.Analyze(&domain.Listing{}, domain.MarketContext{})
		if got.FraudPatterns.OwnershipRisk != 30 {
			t.Errorf("expected 30 for unknown trust, got %v", got.FraudPatterns.OwnershipRisk)
		}
	})

	t.Run("MarketDeviationCapped", func(t *testing.T) {
		got := p.Analyze(&domain.Listing{}, domain.MarketContext{PriceDeviation: 4.2, IsOverpriced: true})
		if got.FraudPatterns.MarketDeviation != 100 {
			t.Errorf("expected 100, got %v", got.FraudPatterns.MarketDeviation)
		}
	})

	t.Run("FailedUnderpricedUntrusted", func(t *testing.T) {
		trust := 0.0
		l := &domain.Listing{OwnerTrustScore: &trust, VerificationStatus: domain.StatusFailed}
		got := p.Analyze(l, domain.MarketContext{IsUnderpriced: true, PriceDeviation: -0.5})
		// (28 + 21 + 12 + 5) / 100
		if math.Abs(got.SuspiciousScore-0.66) > 1e-9 {
			t.Errorf("expected 0.66, got %f", got.SuspiciousScore)
		}
		if !got.IsSuspicious {
			t.Error("expected suspicious")
		}
		if got.RiskLevel != domain.RiskMedium {
			t.Errorf("expected medium, got %s", got.RiskLevel)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		l := &domain.Listing{OwnerID: "x", Price: 10, FloorArea: 10}
		mc := domain.MarketContext{PriceDeviation: -0.2}
		a := p.Analyze(l, mc)
		b := p.Analyze(l, mc)
		if a.SuspiciousScore != b.SuspiciousScore || len(a.Reasons) != len(b.Reasons) {
			t.Error("fallback analysis is not deterministic")
		}
	})

	t.Run("NilListing", func(t *testing.T) {
		got := p.Analyze(nil, domain.MarketContext{})
		if got.FraudPatterns.DocumentInconsistency != 20 {
			t.Errorf("expected pending inconsistency, got %v", got.FraudPatterns.DocumentInconsistency)
		}
	})
}
