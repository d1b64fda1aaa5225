package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_http_requests_total",
		Help: "Local API requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_http_request_duration_seconds",
		Help:    "Local API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_upstream_requests_total",
		Help: "Commerce API calls made through the request pipeline, by attached role and outcome.",
	}, []string{"role", "outcome"})

	refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_session_refresh_total",
		Help: "Customer token refresh attempts by result.",
	}, []string{"result"})

	cartSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_cart_sync_total",
		Help: "Background cart reconciliation calls by operation and result.",
	}, []string{"op", "result"})

	priceChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_cart_price_changes_total",
		Help: "Cart lines whose unit price was updated by price reconciliation.",
	})
)

// PrometheusMiddleware records request count and latency per route.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveUpstream counts one pipeline call. role is "none" for unauthenticated calls.
func ObserveUpstream(role, outcome string) {
	upstreamRequests.WithLabelValues(role, outcome).Inc()
}

// ObserveRefresh counts one refresh attempt.
func ObserveRefresh(ok bool) {
	if ok {
		refreshes.WithLabelValues("success").Inc()
		return
	}
	refreshes.WithLabelValues("failure").Inc()
}

// ObserveCartSync counts one background cart call ("push" or "load").
func ObserveCartSync(op, result string) {
	cartSyncs.WithLabelValues(op, result).Inc()
}

// ObservePriceChanges counts lines repriced by one reconciliation run.
func ObservePriceChanges(n int) {
	priceChanges.Add(float64(n))
}
