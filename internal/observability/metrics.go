package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_relay_active_sessions",
		Help: "Number of active conversation sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_relay_sessions_total",
		Help: "Total number of sessions served",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_relay_session_duration_seconds",
		Help:    "Duration of conversation sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	turnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_relay_turns_total",
		Help: "Total number of completed conversation turns",
	})

	// Transcription metrics
	transcriptionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_transcription_requests_total",
		Help: "Total number of transcription requests",
	}, []string{"status"})

	transcriptionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_relay_transcription_latency_seconds",
		Help:    "Transcription latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Completion metrics
	completionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_completion_requests_total",
		Help: "Total number of streaming completion requests",
	}, []string{"status"})

	completionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_relay_completion_latency_seconds",
		Help:    "Streaming completion latency in seconds, start to stream end",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Synthesis metrics
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_synthesis_requests_total",
		Help: "Total number of synthesis requests",
	}, []string{"status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_relay_synthesis_latency_seconds",
		Help:    "Synthesis latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	utterancesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_relay_utterances_emitted_total",
		Help: "Total number of utterances emitted by the segmenter",
	})

	utterancesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_relay_utterances_dropped_total",
		Help: "Total number of utterances dropped due to synthesis failure",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks per-stage timings for a single session.
type Metrics struct {
	startTime          time.Time
	transcriptionStart time.Time
	completionStart    time.Time
	synthesisStart     time.Time
	mu                 sync.Mutex
}

// NewSessionMetrics creates a metrics tracker for one session.
func NewSessionMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordSessionStart records the start of a session.
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session.
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTurn records one completed conversation turn.
func (m *Metrics) RecordTurn() {
	turnsTotal.Inc()
}

// RecordTranscriptionStart marks the start of a transcription call.
func (m *Metrics) RecordTranscriptionStart() {
	m.mu.Lock()
	m.transcriptionStart = time.Now()
	m.mu.Unlock()
}

// RecordTranscriptionEnd records the result of a transcription call.
func (m *Metrics) RecordTranscriptionEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.transcriptionStart.IsZero() {
		transcriptionLatency.Observe(time.Since(m.transcriptionStart).Seconds())
	}
	transcriptionRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordCompletionStart marks the start of a streaming completion.
func (m *Metrics) RecordCompletionStart() {
	m.mu.Lock()
	m.completionStart = time.Now()
	m.mu.Unlock()
}

// RecordCompletionEnd records the result of a streaming completion.
func (m *Metrics) RecordCompletionEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.completionStart.IsZero() {
		completionLatency.Observe(time.Since(m.completionStart).Seconds())
	}
	completionRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordSynthesisStart marks the start of a synthesis call.
func (m *Metrics) RecordSynthesisStart() {
	m.mu.Lock()
	m.synthesisStart = time.Now()
	m.mu.Unlock()
}

// RecordSynthesisEnd records the result of a synthesis call.
func (m *Metrics) RecordSynthesisEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.synthesisStart.IsZero() {
		synthesisLatency.Observe(time.Since(m.synthesisStart).Seconds())
	}
	synthesisRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordUtteranceEmitted counts one utterance emitted by the segmenter.
func (m *Metrics) RecordUtteranceEmitted() {
	utterancesEmitted.Inc()
}

// RecordUtteranceDropped counts one utterance dropped by a failed synthesis.
func (m *Metrics) RecordUtteranceDropped() {
	utterancesDropped.Inc()
}

// RecordError records an error by type and component.
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed in a direction.
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
