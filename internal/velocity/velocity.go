// Package velocity measures how fast an owner is posting listings.
package velocity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/listingrisk/internal/domain"
)

// ListingCounter is the slice of the repository the service needs.
type ListingCounter interface {
	CountListingsByOwner(ctx context.Context, ownerID string, since time.Time) (int64, error)
}

// Service counts listings per owner within a time window.
type Service struct {
	repo     ListingCounter
	cache    domain.Cache
	cacheTTL time.Duration
	now      func() time.Time
}

// NewService creates a velocity service. Counts are cached for cacheTTL
// when a cache is given and cacheTTL is positive.
func NewService(repo ListingCounter, cache domain.Cache, cacheTTL time.Duration) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// OwnerListingCount returns the number of listings ownerID created within window.
// It satisfies rules.VelocityGetter.
func (s *Service) OwnerListingCount(ctx context.Context, ownerID string, window time.Duration) (int64, error) {
	if ownerID == "" {
		return 0, fmt.Errorf("ownerID is required")
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	key := cacheKey(ownerID, window)
	if s.useCache() {
		if cached, err := s.cache.Get(ctx, key); err == nil && cached != nil {
			if n, err := strconv.ParseInt(string(cached), 10, 64); err == nil {
				return n, nil
			}
		}
	}

	since := s.now().UTC().Add(-window)
	count, err := s.repo.CountListingsByOwner(ctx, ownerID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count listings for owner %s: %w", ownerID, err)
	}

	if s.useCache() {
		_ = s.cache.Set(ctx, key, []byte(strconv.FormatInt(count, 10)), s.cacheTTL)
	}
	return count, nil
}

// Invalidate drops cached counts for an owner, e.g. after a new listing is ingested.
func (s *Service) Invalidate(ctx context.Context, ownerID string, windows ...time.Duration) {
	if !s.useCache() {
		return
	}
	for _, w := range windows {
		_ = s.cache.Delete(ctx, cacheKey(ownerID, w))
	}
}

func (s *Service) useCache() bool {
	return s.cache != nil && s.cacheTTL > 0
}

func cacheKey(ownerID string, window time.Duration) string {
	return fmt.Sprintf("velocity:owner:%s:%d", ownerID, int64(window.Seconds()))
}
