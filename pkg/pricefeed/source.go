// Package pricefeed supplies cached per-token USD prices and evaluates
// price trigger conditions. The primary market-data source degrades to a
// deterministic synthetic generator when unreachable; price lookups never
// fail, they degrade.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/triggerfi/chainflow/pkg/models"
)

// Source fetches prices from the primary market-data API.
type Source interface {
	FetchPrice(ctx context.Context, token string) (models.PriceSample, error)
	FetchAllPrices(ctx context.Context) (map[string]models.PriceSample, error)
}

var ErrTokenNotListed = errors.New("token not listed by market source")

const defaultSourceTimeout = 10 * time.Second

// MarketSource is an HTTP client for the market-data price API. One GET
// returns every listed token's USD price.
type MarketSource struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewMarketSource creates a market source. A zero timeout applies the
// default.
func NewMarketSource(baseURL string, timeout time.Duration, logger *slog.Logger) *MarketSource {
	if timeout <= 0 {
		timeout = defaultSourceTimeout
	}

	return &MarketSource{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger.With("module", "market_source"),
	}
}

type marketPriceEntry struct {
	Symbol      string   `json:"symbol"`
	USDPrice    float64  `json:"usd_price"`
	Change24Pct *float64 `json:"change_24h_pct,omitempty"`
}

// FetchAllPrices fetches the full listing in one round trip.
func (s *MarketSource) FetchAllPrices(ctx context.Context) (map[string]models.PriceSample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/prices", nil)
	if err != nil {
		return nil, fmt.Errorf("build price request: %w", err)
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch prices: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read price response: %w", err)
	}

	var entries []marketPriceEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode price response: %w", err)
	}

	observed := time.Now().UTC()
	samples := make(map[string]models.PriceSample, len(entries))

	for _, entry := range entries {
		if entry.USDPrice <= 0 {
			continue
		}

		token := strings.ToUpper(entry.Symbol)
		samples[token] = models.PriceSample{
			Token:       token,
			PriceUSD:    entry.USDPrice,
			Source:      models.PriceSourceMarket,
			ObservedAt:  observed,
			Change24Pct: entry.Change24Pct,
		}
	}

	return samples, nil
}

// FetchPrice fetches the listing and selects one token from it.
func (s *MarketSource) FetchPrice(ctx context.Context, token string) (models.PriceSample, error) {
	samples, err := s.FetchAllPrices(ctx)
	if err != nil {
		return models.PriceSample{}, err
	}

	sample, ok := samples[strings.ToUpper(token)]
	if !ok {
		return models.PriceSample{}, fmt.Errorf("%w: %s", ErrTokenNotListed, token)
	}

	return sample, nil
}
