// Package features converts listings into fixed-order numeric feature vectors.
package features

import (
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/listingrisk/internal/domain"
	"github.com/opensource-finance/listingrisk/internal/market"
)

// Amenity substrings, matched case-insensitively.
var (
	parkingTerms  = []string{"parking", "garage"}
	securityTerms = []string{"security", "guard"}
	poolTerms     = []string{"pool"}
)

// Extractor builds feature vectors. The zero value is not usable; use New.
type Extractor struct {
	market *market.Analyzer

	// Now supplies the reference date for property age.
	Now func() time.Time
}

// New creates an extractor that resolves location tiers through analyzer.
func New(analyzer *market.Analyzer) *Extractor {
	return &Extractor{
		market: analyzer,
		Now:    time.Now,
	}
}

// Extract returns the feature vector for a listing. It is total: missing or
// invalid inputs encode as zero and the result always has domain.FeatureCount entries.
func (e *Extractor) Extract(l *domain.Listing) domain.FeatureVector {
	fv := make(domain.FeatureVector, domain.FeatureCount)
	if l == nil {
		return fv
	}

	price := finite(l.Price)
	area := finite(l.FloorArea)

	fv[domain.FeaturePrice] = price
	fv[domain.FeatureBedrooms] = finite(l.Bedrooms)
	fv[domain.FeatureBathrooms] = finite(l.Bathrooms)
	fv[domain.FeatureFloorArea] = area
	fv[domain.FeatureLocationTier] = float64(e.market.LocationTier(l.Location))
	fv[domain.FeatureAmenityCount] = float64(len(l.Amenities))
	fv[domain.FeatureHasParking] = flag(hasAmenity(l.Amenities, parkingTerms))
	fv[domain.FeatureHasSecurity] = flag(hasAmenity(l.Amenities, securityTerms))
	fv[domain.FeatureHasPool] = flag(hasAmenity(l.Amenities, poolTerms))

	if area > 0 {
		fv[domain.FeaturePricePerArea] = price / area
	}

	fv[domain.FeaturePropertyAge] = float64(e.age(l.YearBuilt))
	fv[domain.FeatureVerified] = flag(l.Status() == domain.StatusVerified)

	if l.OwnerTrustScore != nil {
		fv[domain.FeatureOwnerTrust] = finite(*l.OwnerTrustScore)
	}
	fv[domain.FeatureOwnerID] = OwnerCode(l.OwnerID)

	return fv
}

func (e *Extractor) age(yearBuilt int) int {
	if yearBuilt <= 0 {
		return 0
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	if age := now().Year() - yearBuilt; age > 0 {
		return age
	}
	return 0
}

// OwnerCode encodes an owner identifier numerically: non-negative integer ids
// are used as-is, anything else is hashed with FNV-1a.
func OwnerCode(ownerID string) float64 {
	id := strings.TrimSpace(ownerID)
	if id == "" {
		return 0
	}
	if n, err := strconv.ParseUint(id, 10, 53); err == nil {
		return float64(n)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return float64(h.Sum32())
}

func hasAmenity(amenities []string, terms []string) bool {
	for _, a := range amenities {
		a = strings.ToLower(a)
		for _, term := range terms {
			if strings.Contains(a, term) {
				return true
			}
		}
	}
	return false
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// finite maps NaN, infinities and negatives to zero.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
