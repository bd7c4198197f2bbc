package pricefeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/triggerfi/chainflow/pkg/models"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCacheTTL     = 30 * time.Second
	defaultPollInterval = 10 * time.Second
)

// Config tunes the monitor's caching and background polling.
type Config struct {
	CacheTTL     time.Duration
	PollInterval time.Duration
}

// ConditionCallback receives one evaluation result per poll tick of a
// background monitor.
type ConditionCallback func(result models.PriceConditionResult)

// Monitor caches per-token prices with a TTL and evaluates price
// conditions. Concurrent cache misses for the same token are collapsed
// into a single upstream fetch. Lookups never fail: on any source error
// the monitor degrades to the synthetic generator.
type Monitor struct {
	source    Source
	synthetic *SyntheticSource
	tokens    []string
	ttl       time.Duration
	poll      time.Duration
	logger    *slog.Logger

	mu     sync.RWMutex
	cache  map[string]models.PriceSample
	flight singleflight.Group

	taskMu sync.Mutex
	tasks  map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a price monitor over the given market source.
// supportedTokens bounds GetAllPrices; zero config fields apply defaults.
func NewMonitor(source Source, supportedTokens []string, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	return &Monitor{
		source:    source,
		synthetic: NewSyntheticSource(0),
		tokens:    supportedTokens,
		ttl:       cfg.CacheTTL,
		poll:      cfg.PollInterval,
		logger:    logger.With("module", "price_monitor"),
		cache:     make(map[string]models.PriceSample),
		tasks:     make(map[string]context.CancelFunc),
	}
}

// GetPrice returns the cached sample while it is younger than the TTL,
// otherwise fetches a fresh one. It never returns an error: a failed fetch
// degrades to a synthetic sample tagged accordingly.
func (m *Monitor) GetPrice(ctx context.Context, token string, forceRefresh bool) models.PriceSample {
	if !forceRefresh {
		if sample, ok := m.cached(token); ok {
			return sample
		}
	}

	// Single-flight: concurrent misses for one token issue one fetch.
	v, _, _ := m.flight.Do(token, func() (any, error) {
		if !forceRefresh {
			if sample, ok := m.cached(token); ok {
				return sample, nil
			}
		}

		sample, err := m.source.FetchPrice(ctx, token)
		if err != nil {
			m.logger.Warn("Market source failed, degrading to synthetic price",
				"token", token, "error", err)

			sample = m.synthetic.Sample(token)
		}

		m.store(sample)

		return sample, nil
	})

	sample, ok := v.(models.PriceSample)
	if !ok {
		// Unreachable: the flight function always returns a sample.
		return m.synthetic.Sample(token)
	}

	return sample
}

// GetAllPrices returns a sample for every supported token. Partial source
// failures degrade per token, a total failure degrades all of them.
func (m *Monitor) GetAllPrices(ctx context.Context) map[string]models.PriceSample {
	fetched, err := m.source.FetchAllPrices(ctx)
	if err != nil {
		m.logger.Warn("Market source failed for full listing, degrading to synthetic prices", "error", err)

		fetched = nil
	}

	out := make(map[string]models.PriceSample, len(m.tokens))

	for _, token := range m.tokens {
		sample, ok := fetched[token]
		if !ok {
			sample = m.synthetic.Sample(token)
		}

		m.store(sample)
		out[token] = sample
	}

	return out
}

// CheckCondition evaluates a comparator against the latest cached-or-fresh
// price. It never fails; when the source is unreachable the result is
// evaluated against the synthetic price and tagged with its source.
func (m *Monitor) CheckCondition(ctx context.Context, token string, comparator models.Comparator, targetPrice float64) models.PriceConditionResult {
	sample := m.GetPrice(ctx, token, false)
	met := comparator.Evaluate(sample.PriceUSD, targetPrice)

	verb := "is not"
	if met {
		verb = "is"
	}

	return models.PriceConditionResult{
		Token:        token,
		Comparator:   comparator,
		TargetPrice:  targetPrice,
		CurrentPrice: sample.PriceUSD,
		Source:       sample.Source,
		ConditionMet: met,
		Message: fmt.Sprintf("%s at %.6f %s %s target %.6f (source: %s)",
			token, sample.PriceUSD, verb, comparator, targetPrice, sample.Source),
		EvaluatedAt: time.Now().UTC(),
	}
}

// StartMonitoring launches a background evaluation loop that invokes the
// callback once per poll tick with a freshly evaluated result. The
// returned id cancels the loop via StopMonitoring.
func (m *Monitor) StartMonitoring(ctx context.Context, token string, comparator models.Comparator, targetPrice float64, callback ConditionCallback) string {
	id := uuid.New().String()
	taskCtx, cancel := context.WithCancel(ctx)

	m.taskMu.Lock()
	m.tasks[id] = cancel
	m.taskMu.Unlock()

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.poll)
		defer ticker.Stop()

		m.logger.Debug("Started price monitoring", "monitor_id", id, "token", token)

		for {
			select {
			case <-taskCtx.Done():
				m.logger.Debug("Stopped price monitoring", "monitor_id", id, "token", token)

				return
			case <-ticker.C:
				callback(m.CheckCondition(taskCtx, token, comparator, targetPrice))
			}
		}
	}()

	return id
}

// StopMonitoring cancels a background monitor. It is idempotent and
// reports whether a running monitor was actually stopped.
func (m *Monitor) StopMonitoring(id string) bool {
	m.taskMu.Lock()
	defer m.taskMu.Unlock()

	cancel, ok := m.tasks[id]
	if !ok {
		return false
	}

	cancel()
	delete(m.tasks, id)

	return true
}

// Close stops every background monitor and waits for their loops to exit.
func (m *Monitor) Close() {
	m.taskMu.Lock()
	for id, cancel := range m.tasks {
		cancel()
		delete(m.tasks, id)
	}
	m.taskMu.Unlock()

	m.wg.Wait()
}

func (m *Monitor) cached(token string) (models.PriceSample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sample, ok := m.cache[token]
	if !ok || time.Since(sample.ObservedAt) >= m.ttl {
		return models.PriceSample{}, false
	}

	return sample, true
}

func (m *Monitor) store(sample models.PriceSample) {
	m.mu.Lock()
	m.cache[sample.Token] = sample
	m.mu.Unlock()
}
