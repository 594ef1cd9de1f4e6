package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// chatTurnsTotal counts started chat turns.
	chatTurnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cinechat_turns_total",
		Help: "Total number of chat turns started",
	})

	// chatTurnErrors counts turns that ended with an error event.
	chatTurnErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cinechat_turn_errors_total",
		Help: "Total number of chat turns that terminated with an error",
	})

	// chatTurnDuration measures wall time from question to end event.
	chatTurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cinechat_turn_duration_seconds",
		Help:    "Chat turn duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// chatTokensStreamed counts tokens forwarded to clients.
	chatTokensStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cinechat_tokens_streamed_total",
		Help: "Total number of generated tokens forwarded to clients",
	})
)
