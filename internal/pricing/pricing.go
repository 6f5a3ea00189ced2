// Package pricing implements the price catalog and cost tracker (C10):
// background price refresh and per-call cost computation.
package pricing

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mmeerrkkaa/openrouter-kit/internal/metrics"
	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

// DefaultRefreshInterval is used when a non-positive interval is
// configured.
const DefaultRefreshInterval = 6 * time.Hour

// Fetcher retrieves the current model price list from the remote
// gateway, implemented by internal/transport in production and by a
// fake in tests.
type Fetcher interface {
	FetchModelPrices(ctx context.Context) ([]orkit.ModelPrice, error)
}

// Tracker maintains modelId -> ModelPrice and computes per-call cost.
type Tracker struct {
	mu      sync.RWMutex
	catalog map[string]orkit.ModelPrice
	fetcher Fetcher
	metrics *metrics.Metrics
	logger  *slog.Logger

	refreshInterval time.Duration
	stopCh          chan struct{}
	stopped         bool
	wg              sync.WaitGroup

	refreshErrors int64
}

// New constructs a Tracker. If initial is non-empty, it seeds the
// catalog and no initial fetch is performed; otherwise the catalog is
// populated by an immediate fetch (best-effort — a failure here is
// logged, not fatal, since a config may start degraded and heal on the
// next refresh). If refreshInterval is non-positive, DefaultRefreshInterval
// is used. A background refresh goroutine runs whenever fetcher is
// non-nil; with a nil fetcher the catalog holds only initial and is never
// refreshed.
func New(ctx context.Context, initial []orkit.ModelPrice, fetcher Fetcher, refreshInterval time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}
	t := &Tracker{
		catalog:         make(map[string]orkit.ModelPrice),
		fetcher:         fetcher,
		logger:          logger,
		refreshInterval: refreshInterval,
		stopCh:          make(chan struct{}),
	}

	if len(initial) > 0 {
		t.setCatalog(initial)
	} else if fetcher != nil {
		if prices, err := fetcher.FetchModelPrices(ctx); err != nil {
			t.logger.Warn("initial model price fetch failed", "error", err)
		} else {
			t.setCatalog(prices)
		}
	}

	if fetcher != nil {
		t.wg.Add(1)
		go t.refreshLoop()
	}
	return t
}

// SetMetrics attaches a metrics tracker that subsequent catalog updates
// and refresh failures are reported against. Safe to call once, before
// the tracker is shared across goroutines.
func (t *Tracker) SetMetrics(m *metrics.Metrics) {
	t.mu.Lock()
	t.metrics = m
	n := len(t.catalog)
	t.mu.Unlock()
	m.SetPriceCatalogModels(n)
}

func (t *Tracker) setCatalog(prices []orkit.ModelPrice) {
	t.mu.Lock()
	t.catalog = make(map[string]orkit.ModelPrice, len(prices))
	for _, p := range prices {
		t.catalog[p.ModelID] = p
	}
	m := t.metrics
	n := len(t.catalog)
	t.mu.Unlock()
	m.SetPriceCatalogModels(n)
}

func (t *Tracker) refreshLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.refreshOnce(context.Background())
		}
	}
}

func (t *Tracker) refreshOnce(ctx context.Context) {
	prices, err := t.fetcher.FetchModelPrices(ctx)
	if err != nil {
		t.mu.Lock()
		t.refreshErrors++
		t.mu.Unlock()
		t.metrics.RecordPriceRefreshError()
		t.logger.Warn("model price refresh failed; keeping existing catalog", "error", err)
		return
	}
	t.setCatalog(prices)
}

// Get returns the price for modelID, if known. The catalog is readable
// throughout a refresh (readers never block on an in-flight fetch).
func (t *Tracker) Get(modelID string) (orkit.ModelPrice, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.catalog[modelID]
	return p, ok
}

// ComputeCost returns the dollar cost of usage against modelID's known
// price, rounded to 8 decimal places, or nil if the model's price is
// unknown. The result is never negative.
func (t *Tracker) ComputeCost(modelID string, usage orkit.Usage) *float64 {
	price, ok := t.Get(modelID)
	if !ok {
		return nil
	}
	cost := float64(usage.PromptTokens)*price.PromptCostPerMillionTokens/1e6 +
		float64(usage.CompletionTokens)*price.CompletionCostPerMillionTokens/1e6
	if cost < 0 {
		cost = 0
	}
	rounded := math.Round(cost*1e8) / 1e8
	return &rounded
}

// CreditBalanceFetcher retrieves the account's remaining gateway credit.
type CreditBalanceFetcher interface {
	FetchCreditBalance(ctx context.Context) (orkit.CreditBalance, error)
}

// GetCreditBalance performs a single read of the gateway's credits
// endpoint via fetcher.
func GetCreditBalance(ctx context.Context, fetcher CreditBalanceFetcher) (orkit.CreditBalance, error) {
	return fetcher.FetchCreditBalance(ctx)
}

// RefreshErrors reports how many background refresh attempts have
// failed, for diagnostics/metrics.
func (t *Tracker) RefreshErrors() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.refreshErrors
}

// ModelCount reports how many models the catalog currently knows about.
func (t *Tracker) ModelCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.catalog)
}

// Refresh forces an immediate catalog refresh outside the background
// timer, used by Client.RefreshModelPrices.
func (t *Tracker) Refresh(ctx context.Context) error {
	if t.fetcher == nil {
		return nil
	}
	prices, err := t.fetcher.FetchModelPrices(ctx)
	if err != nil {
		t.mu.Lock()
		t.refreshErrors++
		t.mu.Unlock()
		t.metrics.RecordPriceRefreshError()
		return err
	}
	t.setCatalog(prices)
	return nil
}

// Close stops the background refresh goroutine, if any.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()
	close(t.stopCh)
	t.wg.Wait()
}
