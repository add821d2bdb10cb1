package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicechat_commands_total",
			Help: "Commands handled by the engine",
		},
		[]string{"kind"},
	)

	TurnsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voicechat_turns_total",
			Help: "Chat turns that completed synthesis",
		},
	)

	TurnErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicechat_turn_errors_total",
			Help: "Errors reported to the front end",
		},
		[]string{"kind"},
	)

	CompletionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voicechat_completion_latency_seconds",
			Help:    "Chat completion latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
	)

	IntakeBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voicechat_intake_bytes_total",
			Help: "Compressed audio bytes received from the synthesis stream",
		},
	)

	DecodedSamples = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voicechat_decoded_samples_total",
			Help: "PCM samples produced by the decoder",
		},
	)

	Running = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voicechat_running",
			Help: "1 when the engine accepts chat commands",
		},
	)
)
