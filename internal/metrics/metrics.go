package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CompletionResult labels for the completions counter.
const (
	ResultOK          = "ok"
	ResultUnavailable = "unavailable"
	ResultTimeout     = "timeout"
	ResultError       = "error"
)

var (
	// CompletionsTotal counts inference calls by outcome.
	CompletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatdeck_completions_total",
		Help: "Inference completion calls by result.",
	}, []string{"result"})

	// CompletionDuration observes wall time of inference calls.
	CompletionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatdeck_completion_duration_seconds",
		Help:    "Duration of inference completion calls.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// SessionsCreatedTotal counts new chat sessions.
	SessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatdeck_sessions_created_total",
		Help: "Chat sessions created.",
	})
)
