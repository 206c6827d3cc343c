package narrative

import (
	"errors"
	"strings"
	"testing"

	"github.com/opensource-finance/listingrisk/internal/domain"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "JSONFence",
			in:   "Here you go:\n```json\n{\"a\": 1}\n```\nThanks",
			want: `{"a": 1}`,
		},
		{
			name: "JSONFencePreferredOverEarlierFence",
			in:   "```text\nnot it\n```\n```json\n{\"b\": 2}\n```",
			want: `{"b": 2}`,
		},
		{
			name: "PlainFence",
			in:   "```\n{\"c\": 3}\n```",
			want: `{"c": 3}`,
		},
		{
			name: "UnlabelledFenceSameLine",
			in:   "```{\"d\": 4}```",
			want: `{"d": 4}`,
		},
		{
			name: "BalancedObject",
			in:   `The answer is {"e": {"nested": "}"}} and then {"f": 6}`,
			want: `{"e": {"nested": "}"}}`,
		},
		{
			name: "EscapedQuoteInString",
			in:   `prefix {"g": "say \"}\" now"} suffix`,
			want: `{"g": "say \"}\" now"}`,
		},
		{
			name: "FullText",
			in:   "  no json here  ",
			want: "no json here",
		},
		{
			name: "UnbalancedFallsBackToText",
			in:   `{"h": 1`,
			want: `{"h": 1`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.in); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParse(t *testing.T) {
	t.Run("WellFormed", func(t *testing.T) {
		text := "```json\n" + `{
			"isSuspicious": true,
			"suspiciousScore": 0.82,
			"reasons": ["price 60% below market", "owner has no history"],
			"riskLevel": "high",
			"fraudPatterns": {
				"priceAnomaly": 90,
				"documentInconsistency": 30,
				"ownershipRisk": 70,
				"marketDeviation": 60
			}
		}` + "\n```"

		got, err := Parse(text)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if !got.IsSuspicious || got.SuspiciousScore != 0.82 || got.RiskLevel != domain.RiskHigh {
			t.Errorf("unexpected result: %+v", got)
		}
		if len(got.Reasons) != 2 {
			t.Errorf("expected 2 reasons, got %v", got.Reasons)
		}
		if !got.PriceAnomalyReported || got.FraudPatterns.PriceAnomaly != 90 {
			t.Errorf("expected reported price anomaly 90, got %+v", got.FraudPatterns)
		}
		if got.Source != domain.SourceNarrative {
			t.Errorf("expected narrative source, got %s", got.Source)
		}
		if len(got.Coercions) != 0 {
			t.Errorf("expected no coercions, got %v", got.Coercions)
		}
	})

	t.Run("ClampsOutOfRange", func(t *testing.T) {
		got, err := Parse(`{"suspiciousScore": 1.5, "riskLevel": "medium",
			"fraudPatterns": {"priceAnomaly": 150, "ownershipRisk": -20}}`)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if got.SuspiciousScore != 1.0 {
			t.Errorf("expected suspiciousScore clamped to 1.0, got %v", got.SuspiciousScore)
		}
		if got.FraudPatterns.PriceAnomaly != 100 {
			t.Errorf("expected priceAnomaly clamped to 100, got %v", got.FraudPatterns.PriceAnomaly)
		}
		if got.FraudPatterns.OwnershipRisk != 0 {
			t.Errorf("expected ownershipRisk clamped to 0, got %v", got.FraudPatterns.OwnershipRisk)
		}
		if len(got.Coercions) != 3 {
			t.Errorf("expected 3 coercions, got %v", got.Coercions)
		}
	})

	t.Run("MissingOptionalFields", func(t *testing.T) {
		got, err := Parse(`{"suspiciousScore": 0.3, "riskLevel": "low"}`)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if got.IsSuspicious {
			t.Error("expected isSuspicious to default to false")
		}
		if got.Reasons == nil || len(got.Reasons) != 0 {
			t.Errorf("expected empty reasons, got %v", got.Reasons)
		}
		if got.PriceAnomalyReported {
			t.Error("price anomaly must not be reported when absent")
		}
	})

	t.Run("UnknownRiskLevel", func(t *testing.T) {
		got, err := Parse(`{"riskLevel": "catastrophic"}`)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if got.RiskLevel != domain.RiskLow {
			t.Errorf("expected low, got %s", got.RiskLevel)
		}
		if !containsSubstring(got.Coercions, "catastrophic") {
			t.Errorf("expected coercion for unknown risk level, got %v", got.Coercions)
		}
	})

	t.Run("NonStringRiskLevel", func(t *testing.T) {
		for _, in := range []string{`{"riskLevel": 3}`, `{"riskLevel": ["high"]}`, `{"riskLevel": true}`} {
			got, err := Parse(in)
			if err != nil {
				t.Fatalf("Parse(%s) failed: %v", in, err)
			}
			if got.RiskLevel != domain.RiskLow {
				t.Errorf("Parse(%s): expected low, got %s", in, got.RiskLevel)
			}
			if !containsSubstring(got.Coercions, "non-string riskLevel") {
				t.Errorf("Parse(%s): expected coercion, got %v", in, got.Coercions)
			}
		}
	})

	t.Run("RiskLevelCaseInsensitive", func(t *testing.T) {
		got, err := Parse(`{"riskLevel": " HIGH "}`)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if got.RiskLevel != domain.RiskHigh {
			t.Errorf("expected high, got %s", got.RiskLevel)
		}
	})

	t.Run("UnknownFieldsDropped", func(t *testing.T) {
		got, err := Parse(`{"riskLevel": "low", "confidence": 0.9, "fraudPatterns": {"titleFraud": 10}}`)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if !containsSubstring(got.Coercions, `"confidence"`) {
			t.Errorf("expected coercion for confidence, got %v", got.Coercions)
		}
		if !containsSubstring(got.Coercions, `"fraudPatterns.titleFraud"`) {
			t.Errorf("expected coercion for nested field, got %v", got.Coercions)
		}
	})

	t.Run("NullTreatedAsMissing", func(t *testing.T) {
		got, err := Parse(`{"isSuspicious": null, "reasons": null, "riskLevel": "low"}`)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if got.IsSuspicious || len(got.Reasons) != 0 {
			t.Errorf("unexpected result %+v", got)
		}
	})

	rejected := []struct {
		name string
		in   string
	}{
		{"NotJSON", "I think this listing looks fine."},
		{"Array", "```json\n[1, 2]\n```"},
		{"Null", `null`},
		{"StringScore", `{"suspiciousScore": "0.9"}`},
		{"NumericBool", `{"isSuspicious": 1}`},
		{"ReasonsNotArray", `{"reasons": "cheap"}`},
		{"ReasonsMixed", `{"reasons": ["a", 2]}`},
		{"PatternsNotObject", `{"fraudPatterns": [1, 2]}`},
		{"PatternString", `{"fraudPatterns": {"priceAnomaly": "high"}}`},
		{"TrailingGarbage", "```json\n{\"riskLevel\": \"low\"} extra\n```"},
	}
	for _, tt := range rejected {
		t.Run("Rejects"+tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("expected ErrMalformedResponse, got %v", err)
			}
		})
	}
}

func containsSubstring(items []string, sub string) bool {
	for _, s := range items {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
