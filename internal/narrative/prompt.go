package narrative

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opensource-finance/listingrisk/internal/domain"
)

const systemPrompt = `You are a real-estate fraud analyst. You review one property listing together
with market statistics for its location and judge how likely the listing is fraudulent.

Respond with a single JSON object and nothing else, using exactly this schema:
{
  "isSuspicious": <true | false>,
  "suspiciousScore": <0.0-1.0>,
  "reasons": ["<short reason>", ...],
  "riskLevel": "<low | medium | high>",
  "fraudPatterns": {
    "priceAnomaly": <0-100>,
    "documentInconsistency": <0-100>,
    "ownershipRisk": <0-100>,
    "marketDeviation": <0-100>
  }
}

Signals to weigh: prices far below the market expectation, missing or failed
verification, owners without an established trust record, and descriptions
that do not match the listed attributes.`

// listingView is the listing as presented to the completion service.
type listingView struct {
	ID                 string   `json:"id"`
	OwnerID            string   `json:"ownerId"`
	OwnerTrustScore    *float64 `json:"ownerTrustScore"`
	Title              string   `json:"title,omitempty"`
	Description        string   `json:"description,omitempty"`
	Price              float64  `json:"price"`
	Bedrooms           float64  `json:"bedrooms"`
	Bathrooms          float64  `json:"bathrooms"`
	FloorAreaSqft      float64  `json:"floorAreaSqft"`
	Location           string   `json:"location"`
	Amenities          []string `json:"amenities"`
	YearBuilt          int      `json:"yearBuilt,omitempty"`
	VerificationStatus string   `json:"verificationStatus"`
	FlaggedFraud       bool     `json:"flaggedFraud"`

	AIVerificationResults json.RawMessage `json:"aiVerificationResults,omitempty"`
}

// BuildPrompt returns the system and user prompts for a listing.
func BuildPrompt(l *domain.Listing, mc domain.MarketContext) (string, string, error) {
	view := listingView{
		ID:                 l.ID,
		OwnerID:            l.OwnerID,
		OwnerTrustScore:    l.OwnerTrustScore,
		Title:              l.Title,
		Description:        l.Description,
		Price:              l.Price,
		Bedrooms:           l.Bedrooms,
		Bathrooms:          l.Bathrooms,
		FloorAreaSqft:      l.FloorArea,
		Location:           l.Location,
		Amenities:          l.Amenities,
		YearBuilt:          l.YearBuilt,
		VerificationStatus: string(l.Status()),
		FlaggedFraud:       l.FlaggedFraud,
	}
	if view.Amenities == nil {
		view.Amenities = []string{}
	}
	if len(l.AIVerificationResults) > 0 && json.Valid(l.AIVerificationResults) {
		view.AIVerificationResults = l.AIVerificationResults
	}

	listingJSON, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal listing: %w", err)
	}
	marketJSON, err := json.MarshalIndent(mc, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal market context: %w", err)
	}

	var b strings.Builder
	b.WriteString("Listing:\n")
	b.Write(listingJSON)
	b.WriteString("\n\nMarket context:\n")
	b.Write(marketJSON)
	fmt.Fprintf(&b, "\n\nThe expected price is %.0f and the asking price is %.0f (deviation %+.1f%%).",
		mc.ExpectedPrice, mc.ActualPrice, mc.PriceDeviation*100)
	if mc.IsUnderpriced {
		b.WriteString(" The listing is priced well below the market.")
	}
	if mc.IsOverpriced {
		b.WriteString(" The listing is priced well above the market.")
	}

	return systemPrompt, b.String(), nil
}
