// Package services – upstream metrics
//
// Prometheus collectors for calls to the content API and the xAI API. Label
// values are a small fixed set so cardinality stays bounded.
package services

import "github.com/prometheus/client_golang/prometheus"

// Outcome label values.
const (
	outcomeOK          = "ok"
	outcomeRateLimited = "rate_limited"
	outcomeClientError = "client_error"
	outcomeServerError = "server_error"
	outcomeTransport   = "transport_error"
	outcomeError       = "error"
)

var (
	// xapiRequests counts content API attempts by outcome.
	xapiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xapi_requests_total",
			Help: "Content API attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// xapiMonthlyUsage mirrors the local monthly call counter.
	xapiMonthlyUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xapi_monthly_usage",
			Help: "Content API calls counted against the monthly quota.",
		},
	)

	// xaiRequests counts xAI calls by step (search, analysis, image) and outcome.
	xaiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xai_requests_total",
			Help: "xAI API calls by step and outcome.",
		},
		[]string{"call", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(xapiRequests, xapiMonthlyUsage, xaiRequests)
}
