// Package narrative obtains a first-pass fraud judgment for a listing from a
// chat-completion service and falls back to deterministic heuristics when the
// service is unavailable or its answer cannot be used.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/listingrisk/internal/domain"
)

// Client abstracts a completion provider.
// Implementations must be safe for concurrent use.
type Client interface {
	// Complete sends a system and user prompt and returns the raw completion text.
	Complete(ctx context.Context, system, user string) (string, error)

	// SourceName returns a short provider label (e.g. "openai", "stub").
	SourceName() string
}

// ErrNotConfigured is returned by the client used when no completion service is configured.
var ErrNotConfigured = errors.New("no completion service configured")

// NewClient creates a completion client based on configuration.
// Without a provider every assessment uses the rule-based analysis.
func NewClient(cfg domain.NarrativeConfig) (Client, error) {
	switch cfg.Provider {
	case "", "none":
		return unconfiguredClient{}, nil
	case "stub":
		return NewStubClient(), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("narrative provider openai requires an api key")
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		return NewOpenAIClient(cfg.Endpoint, cfg.APIKey, cfg.Model, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported narrative provider: %s", cfg.Provider)
	}
}

type unconfiguredClient struct{}

func (unconfiguredClient) SourceName() string { return "none" }

func (unconfiguredClient) Complete(ctx context.Context, system, user string) (string, error) {
	return "", ErrNotConfigured
}
