// Package metrics exposes the orchestrator's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voiceloop_sessions_active",
		Help: "Currently connected sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceloop_sessions_total",
		Help: "Total sessions accepted",
	})

	AudioChunksIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceloop_audio_chunks_ingested_total",
		Help: "Inbound audio chunks accepted by a session",
	})

	EchoDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceloop_echo_chunks_discarded_total",
		Help: "Inbound chunks discarded as self-echo",
	})

	TurnsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceloop_turns_finalized_total",
		Help: "Finalized turns by reason",
	}, []string{"reason"})

	RunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voiceloop_pipeline_runs_active",
		Help: "Pipeline runs not yet in a terminal state",
	})

	RunsTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceloop_pipeline_runs_terminal_total",
		Help: "Pipeline runs reaching a terminal state, by state",
	}, []string{"state"})

	RunsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceloop_pipeline_runs_rejected_total",
		Help: "Runs rejected because the concurrency cap was saturated",
	})

	BargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceloop_barge_ins_total",
		Help: "In-flight runs cancelled by a newly finalized turn",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voiceloop_stage_duration_seconds",
		Help:    "Per-stage model latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	ModeSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceloop_mode_switches_total",
		Help: "Capture mode transitions, by resulting mode",
	}, []string{"mode"})

	MalformedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceloop_malformed_messages_total",
		Help: "Inbound messages dropped by protocol validation",
	})
)
