// Package metrics defines the process-wide prometheus collectors served by
// the daemon's /metrics listener.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Send results.
const (
	SendConfirmed = "confirmed"
	SendFailed    = "failed"
	SendRejected  = "rejected"
)

// Load sources.
const (
	SourceCache   = "cache"
	SourceNetwork = "network"
)

var (
	sends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_sends_total",
		Help: "Message submissions by result.",
	}, []string{"result"})

	messagesLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_messages_loaded_total",
		Help: "Messages materialized into a store, by source.",
	}, []string{"source"})

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_cache_evictions_total",
		Help: "Cache entries discarded for staleness or corruption.",
	})

	feedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_feed_events_total",
		Help: "Events received on the backend feed, by type.",
	}, []string{"type"})

	sessionInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_session_invalidations_total",
		Help: "Sessions invalidated by credential rejection or logout.",
	})

	apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_api_requests_total",
		Help: "Backend API requests by endpoint and status code.",
	}, []string{"endpoint", "code"})
)

func ObserveSend(result string) { sends.WithLabelValues(result).Inc() }

func ObserveLoad(source string, n int) {
	messagesLoaded.WithLabelValues(source).Add(float64(n))
}

func ObserveCacheEviction() { cacheEvictions.Inc() }

func ObserveFeedEvent(typ string) { feedEvents.WithLabelValues(typ).Inc() }

func ObserveSessionInvalidation() { sessionInvalidations.Inc() }

func ObserveAPIRequest(endpoint string, status int) {
	apiRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}
