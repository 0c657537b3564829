// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memechat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memechat_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Auth metrics
	ChallengesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memechat_auth_challenges_issued_total",
			Help: "Challenges issued by purpose",
		},
		[]string{"purpose"},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memechat_auth_failures_total",
			Help: "Authentication failures by kind",
		},
		[]string{"kind"},
	)

	SessionsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memechat_sessions_issued_total",
			Help: "Sessions issued",
		},
	)

	// Messaging metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memechat_messages_sent_total",
			Help: "Encrypted messages accepted",
		},
	)

	KeysPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memechat_keys_published_total",
			Help: "Encryption key publications that changed the key",
		},
	)

	NotifyFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memechat_notify_failures_total",
			Help: "New-message notifications that could not be dispatched",
		},
	)
)
