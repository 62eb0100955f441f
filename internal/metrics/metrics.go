// Package metrics exposes prometheus collectors for the voice controller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saathi_messages_total",
			Help: "Messages appended to conversation logs",
		},
		[]string{"role", "via"},
	)

	SubmissionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saathi_submissions_rejected_total",
			Help: "Submissions ignored by the conversation state machine",
		},
		[]string{"reason"},
	)

	IntentMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saathi_intent_matches_total",
			Help: "Replies resolved per intent topic",
		},
		[]string{"topic"},
	)

	Utterances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saathi_utterances_total",
			Help: "Text-to-speech utterances by outcome",
		},
		[]string{"outcome"},
	)

	RecognitionSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saathi_recognition_sessions_total",
			Help: "Speech recognition sessions by outcome",
		},
		[]string{"outcome"},
	)

	ReplyLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "saathi_reply_latency_seconds",
			Help:    "Time from submission to the assistant reply being appended",
			Buckets: []float64{0.25, 0.5, 1, 1.5, 2, 3, 5},
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "saathi_active_sessions",
			Help: "Number of connected presentation shells",
		},
	)

	LogEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saathi_log_entries_total",
			Help: "Log entries written, by level",
		},
		[]string{"level"},
	)
)
