package domain

// MarketBaseline is the static pricing reference for one city or area.
type MarketBaseline struct {
	Name           string  `json:"name" yaml:"name"`
	Match          string  `json:"match" yaml:"match"` // case-insensitive substring of the listing location
	AvgPricePerSqm float64 `json:"avgPricePerSqm" yaml:"avgPricePerSqm"`
	MinPricePerSqm float64 `json:"minPricePerSqm" yaml:"minPricePerSqm"`
	MaxPricePerSqm float64 `json:"maxPricePerSqm" yaml:"maxPricePerSqm"`
	FraudRisk      float64 `json:"fraudRisk" yaml:"fraudRisk"` // base fraud-risk rate, 0-1
	RiskTier       int     `json:"riskTier" yaml:"riskTier"`   // 1 (low) to 3 (high)
}

// MarketContext compares a listing price against its market baseline.
type MarketContext struct {
	Baseline       string  `json:"baseline"`
	LocationTier   int     `json:"locationTier"`
	ExpectedPrice  float64 `json:"expectedPrice"`
	ActualPrice    float64 `json:"actualPrice"`
	PriceDeviation float64 `json:"priceDeviation"` // (actual - expected) / expected
	IsUnderpriced  bool    `json:"isUnderpriced"`
	IsOverpriced   bool    `json:"isOverpriced"`
	BaseFraudRisk  float64 `json:"baseFraudRisk"`
}
