// Package metrics exposes the Prometheus counters and histograms the
// orchestrator records against: completion latency and token usage,
// tool execution outcomes, and normalized error counts.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

// Metrics holds every counter/histogram the client records. Construct
// once per process with New; registering the same metric names twice
// against the default registry panics.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestCounter  *prometheus.CounterVec
	TokensUsed      *prometheus.CounterVec
	CostUSD         *prometheus.CounterVec

	ToolExecutionCounter  *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	ErrorCounter *prometheus.CounterVec

	PriceCatalogModels prometheus.Gauge
	PriceRefreshErrors prometheus.Counter
}

var (
	instance     *Metrics
	instanceOnce sync.Once
)

// New returns the process-wide Metrics instance, registering it against
// the Prometheus default registry on first call. Later calls return the
// same instance, since promauto panics on duplicate registration.
func New() *Metrics {
	instanceOnce.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orkit_request_duration_seconds",
				Help:    "Duration of chat completion requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model"},
		),
		RequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orkit_requests_total",
				Help: "Total number of chat completion requests by model and status",
			},
			[]string{"model", "status"},
		),
		TokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orkit_tokens_total",
				Help: "Total number of tokens used by model and type",
			},
			[]string{"model", "type"},
		),
		CostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orkit_cost_usd_total",
				Help: "Estimated request cost in USD by model",
			},
			[]string{"model"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orkit_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orkit_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),
		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orkit_errors_total",
				Help: "Total number of normalized errors by code",
			},
			[]string{"code"},
		),
		PriceCatalogModels: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orkit_price_catalog_models",
				Help: "Number of models currently known to the price catalog",
			},
		),
		PriceRefreshErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "orkit_price_refresh_errors_total",
				Help: "Total number of failed price catalog refresh attempts",
			},
		),
	}
}

// RecordRequest records one completion round's latency, status, and
// token usage.
func (m *Metrics) RecordRequest(model, status string, duration time.Duration, usage orkit.Usage) {
	if m == nil {
		return
	}
	m.RequestCounter.WithLabelValues(model, status).Inc()
	m.RequestDuration.WithLabelValues(model).Observe(duration.Seconds())
	if usage.PromptTokens > 0 {
		m.TokensUsed.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		m.TokensUsed.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
	}
}

// RecordCost adds cost (USD) to the running total for model.
func (m *Metrics) RecordCost(model string, cost float64) {
	if m == nil {
		return
	}
	m.CostUSD.WithLabelValues(model).Add(cost)
}

// RecordToolExecution records one tool invocation's outcome and latency.
func (m *Metrics) RecordToolExecution(toolName, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}

// RecordError increments the error counter for code.
func (m *Metrics) RecordError(code orkit.Code) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(string(code)).Inc()
}

// SetPriceCatalogModels reports the price catalog's current model count.
func (m *Metrics) SetPriceCatalogModels(n int) {
	if m == nil {
		return
	}
	m.PriceCatalogModels.Set(float64(n))
}

// RecordPriceRefreshError increments the price refresh failure counter.
func (m *Metrics) RecordPriceRefreshError() {
	if m == nil {
		return
	}
	m.PriceRefreshErrors.Inc()
}
