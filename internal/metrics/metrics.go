// Package metrics provides Prometheus instrumentation for the economy core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts economy operations by kind and outcome.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_operations_total",
		Help: "Economy operations by operation and status",
	}, []string{"operation", "status"})

	// PriceRefreshTotal counts full price refresh attempts by outcome.
	PriceRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_price_refresh_total",
		Help: "Full price cache refreshes by status",
	}, []string{"status"})

	// PriceLastRefresh records the unix time of the last successful refresh.
	PriceLastRefresh = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treasury_price_last_refresh_timestamp_seconds",
		Help: "Unix timestamp of the last successful price refresh",
	})

	// QuoteEventsTotal counts price ticks applied from the quote stream.
	QuoteEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "treasury_quote_events_total",
		Help: "Streamed price events applied to the cache",
	})

	// AccountsTotal tracks the number of known accounts.
	AccountsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treasury_accounts_total",
		Help: "Number of accounts",
	})

	// CurrencyTotal tracks the sum of all account balances.
	CurrencyTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treasury_currency_total",
		Help: "Sum of all account balances",
	})

	// OpenPositions tracks the number of open positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treasury_open_positions",
		Help: "Number of open positions",
	})

	// OpenNotional tracks the remaining notional across open positions.
	OpenNotional = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treasury_open_notional",
		Help: "Remaining notional across open positions",
	})

	// OpenMargin tracks the margin still reserved by open positions.
	OpenMargin = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treasury_open_margin",
		Help: "Margin reserved by open positions",
	})

	// RemindersDue records how many accounts the last scan found due.
	RemindersDue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treasury_reminders_due",
		Help: "Accounts due a daily-claim reminder at the last scan",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
