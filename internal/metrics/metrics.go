// Package metrics exposes the trader's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "krakenbot"

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Trading metrics
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	decisions     *prometheus.CounterVec
	orders        *prometheus.CounterVec
	ledgerAppends *prometheus.CounterVec
	positionSize  prometheus.Gauge
	quoteBalance  prometheus.Gauge
	lastPrice     prometheus.Gauge

	// Research metrics
	backtestsTotal   *prometheus.CounterVec
	backtestDuration prometheus.Histogram
	optimizerTested  prometheus.Gauge
	optimizerTotal   prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	r.cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of trading cycles by result",
		},
		[]string{"result"},
	)
	r.cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Trading cycle duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
	r.decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of evaluator decisions",
		},
		[]string{"action"},
	)
	r.orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Total number of order submissions",
		},
		[]string{"side", "type", "status"},
	)
	r.ledgerAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_appends_total",
			Help:      "Total number of trade ledger appends",
		},
		[]string{"status"},
	)
	r.positionSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_size",
			Help:      "Base asset balance held",
		},
	)
	r.quoteBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quote_balance",
			Help:      "Quote asset balance available",
		},
	)
	r.lastPrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_price",
			Help:      "Close of the latest evaluated bar",
		},
	)
	r.backtestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backtests_total",
			Help:      "Total number of backtests",
		},
		[]string{"status"},
	)
	r.backtestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backtest_duration_seconds",
			Help:      "Backtest duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)
	r.optimizerTested = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "optimizer_combinations_tested",
			Help:      "Parameter combinations tested by the running optimization",
		},
	)
	r.optimizerTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "optimizer_combinations",
			Help:      "Parameter combinations in the running optimization",
		},
	)

	reg.MustRegister(r.cycles)
	reg.MustRegister(r.cycleDuration)
	reg.MustRegister(r.decisions)
	reg.MustRegister(r.orders)
	reg.MustRegister(r.ledgerAppends)
	reg.MustRegister(r.positionSize)
	reg.MustRegister(r.quoteBalance)
	reg.MustRegister(r.lastPrice)
	reg.MustRegister(r.backtestsTotal)
	reg.MustRegister(r.backtestDuration)
	reg.MustRegister(r.optimizerTested)
	reg.MustRegister(r.optimizerTotal)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	r.httpRequestsInFlight.Dec()
}

// RecordCycle records a trading cycle completion. A nil error counts as ok.
func (r *Registry) RecordCycle(err error, duration float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.cycles.WithLabelValues(result).Inc()
	r.cycleDuration.Observe(duration)
}

// RecordDecision records an evaluator decision.
func (r *Registry) RecordDecision(action string) {
	r.decisions.WithLabelValues(action).Inc()
}

// RecordOrder records an order submission.
func (r *Registry) RecordOrder(side, orderType string, err error) {
	r.orders.WithLabelValues(side, orderType, outcome(err)).Inc()
}

// RecordLedgerAppend records a ledger append attempt.
func (r *Registry) RecordLedgerAppend(err error) {
	r.ledgerAppends.WithLabelValues(outcome(err)).Inc()
}

// SetAccount sets the position and balance gauges.
func (r *Registry) SetAccount(position, quote float64) {
	r.positionSize.Set(position)
	r.quoteBalance.Set(quote)
}

// SetLastPrice sets the latest evaluated close.
func (r *Registry) SetLastPrice(price float64) {
	r.lastPrice.Set(price)
}

// RecordBacktest records a backtest completion.
func (r *Registry) RecordBacktest(status string, duration float64) {
	r.backtestsTotal.WithLabelValues(status).Inc()
	r.backtestDuration.Observe(duration)
}

// SetOptimizerProgress sets the optimizer progress gauges.
func (r *Registry) SetOptimizerProgress(tested, total int) {
	r.optimizerTested.Set(float64(tested))
	r.optimizerTotal.Set(float64(total))
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
