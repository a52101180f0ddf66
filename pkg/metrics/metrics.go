// Package metrics exposes Prometheus metrics for the voice pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Call lifecycle
	CallsActive  prometheus.Gauge
	CallsTotal   *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec

	// Conversation flow
	TurnsTotal         *prometheus.CounterVec
	BargeInsTotal      *prometheus.CounterVec
	EscalationsTotal   *prometheus.CounterVec
	InvalidAttempts    *prometheus.CounterVec
	BookingsTotal      *prometheus.CounterVec
	TranscriptsTotal   *prometheus.CounterVec
	AudioChunksDropped *prometheus.CounterVec

	// Stage latency
	ASRLatency *prometheus.HistogramVec
	LLMLatency *prometheus.HistogramVec
	TTSLatency *prometheus.HistogramVec
)

// Init registers all metrics. Safe to call more than once.
func Init() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		CallsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voiceline_calls_active",
			Help: "Number of calls currently in progress",
		})

		CallsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceline_calls_total",
				Help: "Total number of calls by final state",
			},
			[]string{"tenant", "outcome"},
		)

		CallDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voiceline_call_duration_seconds",
				Help:    "Duration of completed calls",
				Buckets: prometheus.ExponentialBuckets(5, 2, 10),
			},
			[]string{"tenant"},
		)

		TurnsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceline_turns_total",
				Help: "Total number of conversation turns",
			},
			[]string{"tenant"},
		)

		BargeInsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceline_barge_ins_total",
				Help: "Total number of caller interruptions during agent speech",
			},
			[]string{"tenant"},
		)

		EscalationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceline_escalations_total",
				Help: "Total number of calls escalated to a human",
			},
			[]string{"tenant", "reason"},
		)

		InvalidAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceline_invalid_attempts_total",
				Help: "Total number of unusable intent extraction attempts",
			},
			[]string{"tenant"},
		)

		BookingsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceline_bookings_total",
				Help: "Total number of bookings created",
			},
			[]string{"tenant"},
		)

		TranscriptsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceline_transcripts_total",
				Help: "Total number of transcripts received from ASR",
			},
			[]string{"tenant", "kind"},
		)

		AudioChunksDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceline_audio_chunks_dropped_total",
				Help: "Total number of synthesized audio chunks dropped before reaching the caller",
			},
			[]string{"tenant"},
		)

		ASRLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voiceline_asr_latency_seconds",
				Help:    "Time from last audio frame to final transcript",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"tenant"},
		)

		LLMLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voiceline_llm_latency_seconds",
				Help:    "Intent extraction round-trip time",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"tenant"},
		)

		TTSLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voiceline_tts_latency_seconds",
				Help:    "Time from synthesis request to first audio chunk",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"tenant"},
		)

		registry.MustRegister(
			CallsActive, CallsTotal, CallDuration,
			TurnsTotal, BargeInsTotal, EscalationsTotal,
			InvalidAttempts, BookingsTotal, TranscriptsTotal,
			AudioChunksDropped,
			ASRLatency, LLMLatency, TTSLatency,
		)
	})
}

// Handler returns the scrape endpoint handler. Init must have been called.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveStageLatency records one stage sample given a millisecond value.
func ObserveStageLatency(h *prometheus.HistogramVec, tenant string, ms float64) {
	if h == nil {
		return
	}
	h.WithLabelValues(tenant).Observe(ms / 1000)
}

// IncCounter increments a counter, tolerating an uninitialized registry.
func IncCounter(c *prometheus.CounterVec, labels ...string) {
	if c == nil {
		return
	}
	c.WithLabelValues(labels...).Inc()
}

// AddGauge adds delta to a gauge, tolerating an uninitialized registry.
func AddGauge(g prometheus.Gauge, delta float64) {
	if g == nil {
		return
	}
	g.Add(delta)
}

// ObserveHistogram records one sample, tolerating an uninitialized registry.
func ObserveHistogram(h *prometheus.HistogramVec, value float64, labels ...string) {
	if h == nil {
		return
	}
	h.WithLabelValues(labels...).Observe(value)
}
