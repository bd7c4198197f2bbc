package models

import "time"

// PriceSource tags where a price sample came from.
type PriceSource string

const (
	// PriceSourceMarket is the primary market-data API.
	PriceSourceMarket PriceSource = "market"

	// PriceSourceSynthetic is the deterministic fallback generator used
	// when the primary source is unavailable.
	PriceSourceSynthetic PriceSource = "synthetic"
)

// PriceSample is one observed USD price for a token. Samples are cached per
// token with a TTL; a cache hit returns the same ObservedAt until the TTL
// elapses or a caller forces a refresh.
type PriceSample struct {
	Token       string      `json:"token"`
	PriceUSD    float64     `json:"price_usd"`
	Source      PriceSource `json:"source"`
	ObservedAt  time.Time   `json:"observed_at"`
	Change24Pct *float64    `json:"change_24h_pct,omitempty"`
}

// PriceConditionResult is the outcome of evaluating one price condition.
type PriceConditionResult struct {
	Token        string      `json:"token"`
	Comparator   Comparator  `json:"comparator"`
	TargetPrice  float64     `json:"target_price"`
	CurrentPrice float64     `json:"current_price"`
	Source       PriceSource `json:"source"`
	ConditionMet bool        `json:"condition_met"`
	Message      string      `json:"message"`
	EvaluatedAt  time.Time   `json:"evaluated_at"`
}
