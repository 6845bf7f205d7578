package observability

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livescribe_sessions_started_total",
		Help: "Total number of recording sessions started",
	})

	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livescribe_state_transitions_total",
		Help: "Session state transitions by target state",
	}, []string{"state"})

	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livescribe_frames_sent_total",
		Help: "Audio frames forwarded to the channel",
	})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livescribe_frames_dropped_total",
		Help: "Audio frames dropped before reaching the channel",
	}, []string{"reason"})

	audioBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livescribe_audio_bytes_sent_total",
		Help: "Encoded audio bytes written to the channel",
	})

	staleEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livescribe_stale_events_total",
		Help: "Events suppressed because their session identity was superseded",
	}, []string{"source"})

	teardowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livescribe_teardowns_total",
		Help: "Teardown requests by outcome",
	}, []string{"outcome"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livescribe_errors_total",
		Help: "User-visible errors by kind",
	}, []string{"kind"})

	closeCodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livescribe_channel_close_codes_total",
		Help: "Channel close events by close code",
	}, []string{"code"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livescribe_recording_duration_seconds",
		Help:    "Time spent in the recording state",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 3600},
	})
)

// Metrics records session telemetry. The zero value is usable.
type Metrics struct{}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) SessionStarted() {
	sessionsStarted.Inc()
}

func (m *Metrics) StateChanged(state string) {
	stateTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) FrameDropped(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) StaleEvent(source string) {
	staleEvents.WithLabelValues(source).Inc()
}

func (m *Metrics) Teardown(outcome string) {
	teardowns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Error(kind string) {
	errorsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) ChannelClosed(code int) {
	closeCodes.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) RecordingEnded(d time.Duration) {
	sessionDuration.Observe(d.Seconds())
}

// FrameSent records one forwarded frame of n encoded bytes.
func (m *Metrics) FrameSent(n int) {
	framesSent.Inc()
	audioBytesSent.Add(float64(n))
}

// ServeMetrics exposes /metrics on addr until ctx ends.
func ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
