package pricefeed

import (
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/triggerfi/chainflow/pkg/models"
)

// jitterPct bounds the random walk applied on top of a token's base price.
const jitterPct = 0.02

// SyntheticSource produces plausible prices when the market source is
// unavailable. The base price is seeded deterministically from the token
// symbol so repeated runs see consistent magnitudes; each sample adds a
// small random jitter.
type SyntheticSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticSource creates a generator. A zero seed uses the current
// time, the deterministic per-token base is unaffected either way.
func NewSyntheticSource(seed int64) *SyntheticSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &SyntheticSource{rng: rand.New(rand.NewSource(seed))}
}

// basePrice maps a token symbol onto a stable price in (0.01, 100].
func basePrice(token string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))

	// Spread hashes over two decades of magnitude.
	bucket := h.Sum64() % 10000

	return 0.01 + float64(bucket)/100.0
}

// Sample produces one synthetic price observation for the token.
func (s *SyntheticSource) Sample(token string) models.PriceSample {
	s.mu.Lock()
	jitter := (s.rng.Float64()*2 - 1) * jitterPct
	s.mu.Unlock()

	price := basePrice(token) * (1 + jitter)
	if price <= 0 {
		price = basePrice(token)
	}

	return models.PriceSample{
		Token:      token,
		PriceUSD:   price,
		Source:     models.PriceSourceSynthetic,
		ObservedAt: time.Now().UTC(),
	}
}
