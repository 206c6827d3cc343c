package narrative

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/opensource-finance/listingrisk/internal/domain"
)

// ErrMalformedResponse is returned when a completion cannot be turned into a fraud analysis.
var ErrMalformedResponse = errors.New("malformed narrative response")

// ExtractJSON returns the most likely JSON candidate in a completion:
// a ```json fenced block, else any fenced block, else the first balanced
// top-level {...} span, else the trimmed text.
func ExtractJSON(text string) string {
	if s, ok := fenced(text, "```json"); ok {
		return s
	}
	if s, ok := fenced(text, "```"); ok {
		return s
	}
	if s, ok := balancedObject(text); ok {
		return s
	}
	return strings.TrimSpace(text)
}

func fenced(text, marker string) (string, bool) {
	start := strings.Index(text, marker)
	if start == -1 {
		return "", false
	}
	body := text[start+len(marker):]
	end := strings.Index(body, "```")
	if end == -1 {
		return "", false
	}
	body = body[:end]

	// Drop a language tag on the opening line, e.g. ```JSON or ```javascript.
	if nl := strings.IndexByte(body, '\n'); nl != -1 {
		if tag := strings.TrimSpace(body[:nl]); tag != "" && !strings.ContainsAny(tag, "{[") {
			body = body[nl+1:]
		}
	}
	return strings.TrimSpace(body), true
}

// balancedObject finds the first top-level {...} span, skipping braces inside strings.
func balancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

var topLevelFields = map[string]bool{
	"isSuspicious":    true,
	"suspiciousScore": true,
	"reasons":         true,
	"riskLevel":       true,
	"fraudPatterns":   true,
}

var patternFields = map[string]bool{
	"priceAnomaly":          true,
	"documentInconsistency": true,
	"ownershipRisk":         true,
	"marketDeviation":       true,
}

// Parse converts a raw completion into a fraud analysis. Values outside their
// range are clamped, unknown fields are dropped and an unknown or non-string
// risk level becomes low; each such adjustment is listed in Coercions. Any
// other field of the wrong JSON type makes the whole response unusable.
func Parse(text string) (*domain.FraudAnalysisResult, error) {
	candidate := ExtractJSON(text)

	var raw map[string]json.RawMessage
	if err := decodeStrict(candidate, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedResponse)
	}

	result := &domain.FraudAnalysisResult{
		Reasons: []string{},
		Source:  domain.SourceNarrative,
	}
	var coercions []string

	for _, name := range sortedKeys(raw) {
		if !topLevelFields[name] {
			coercions = append(coercions, fmt.Sprintf("dropped unknown field %q", name))
		}
	}

	if v, ok := present(raw, "isSuspicious"); ok {
		if err := decodeStrict(string(v), &result.IsSuspicious); err != nil {
			return nil, fieldError("isSuspicious", err)
		}
	}

	if v, ok := present(raw, "suspiciousScore"); ok {
		var score float64
		if err := decodeStrict(string(v), &score); err != nil {
			return nil, fieldError("suspiciousScore", err)
		}
		result.SuspiciousScore = clamp("suspiciousScore", score, 1, &coercions)
	}

	if v, ok := present(raw, "reasons"); ok {
		var reasons []string
		if err := decodeStrict(string(v), &reasons); err != nil {
			return nil, fieldError("reasons", err)
		}
		if reasons != nil {
			result.Reasons = reasons
		}
	}

	result.RiskLevel = domain.RiskLow
	if v, ok := present(raw, "riskLevel"); ok {
		var level string
		if err := decodeStrict(string(v), &level); err != nil {
			coercions = append(coercions, fmt.Sprintf("non-string riskLevel %s treated as low", v))
		} else {
			normalized := strings.ToLower(strings.TrimSpace(level))
			parsed, known := domain.ParseRiskLevel(normalized)
			if !known {
				coercions = append(coercions, fmt.Sprintf("unknown riskLevel %q treated as low", level))
			}
			result.RiskLevel = parsed
		}
	} else {
		coercions = append(coercions, "missing riskLevel treated as low")
	}

	if v, ok := present(raw, "fraudPatterns"); ok {
		var patterns map[string]json.RawMessage
		if err := decodeStrict(string(v), &patterns); err != nil {
			return nil, fieldError("fraudPatterns", err)
		}
		for _, name := range sortedKeys(patterns) {
			if !patternFields[name] {
				coercions = append(coercions, fmt.Sprintf("dropped unknown field %q", "fraudPatterns."+name))
			}
		}

		targets := []struct {
			name string
			dst  *float64
		}{
			{"priceAnomaly", &result.FraudPatterns.PriceAnomaly},
			{"documentInconsistency", &result.FraudPatterns.DocumentInconsistency},
			{"ownershipRisk", &result.FraudPatterns.OwnershipRisk},
			{"marketDeviation", &result.FraudPatterns.MarketDeviation},
		}
		for _, target := range targets {
			pv, ok := present(patterns, target.name)
			if !ok {
				continue
			}
			var score float64
			if err := decodeStrict(string(pv), &score); err != nil {
				return nil, fieldError("fraudPatterns."+target.name, err)
			}
			*target.dst = clamp("fraudPatterns."+target.name, score, 100, &coercions)
			if target.name == "priceAnomaly" {
				result.PriceAnomalyReported = true
			}
		}
	}

	result.Coercions = coercions
	return result, nil
}

// decodeStrict decodes exactly one JSON value with no trailing data.
func decodeStrict(data string, v any) error {
	dec := json.NewDecoder(strings.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

// present returns a field value unless it is absent or null.
func present(m map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	v, ok := m[name]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

func clamp(name string, v, hi float64, coercions *[]string) float64 {
	switch {
	case v < 0:
		*coercions = append(*coercions, fmt.Sprintf("%s %g clamped to 0", name, v))
		return 0
	case v > hi:
		*coercions = append(*coercions, fmt.Sprintf("%s %g clamped to %g", name, v, hi))
		return hi
	}
	return v
}

func fieldError(name string, err error) error {
	return fmt.Errorf("%w: field %s: %v", ErrMalformedResponse, name, err)
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
