package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "voicerelay_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "server"},
		},
		[]string{"date", "sha", "version"},
	)

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicerelay_requests_total",
			Help: "Number of relay requests",
		},
		[]string{"endpoint", "outcome"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voicerelay_request_duration_seconds",
			Help:    "Request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	fragments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voicerelay_fragments_total",
			Help: "Streamed text fragments relayed to clients",
		},
	)

	transcriptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicerelay_transcriptions_total",
			Help: "Speech transcription attempts by outcome",
		},
		[]string{"outcome"},
	)

	audioDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voicerelay_audio_duration_seconds",
			Help:    "Duration of normalized audio uploads",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, requests, requestDuration, fragments, transcriptions, audioDuration)
}

// SetServerBuildInfo sets the build info metric for the server.
func SetServerBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RecordRequest increments the request counter for an endpoint.
func RecordRequest(endpoint string, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	requests.WithLabelValues(endpoint, outcome).Inc()
}

// ObserveRequestDuration records the duration of a request.
func ObserveRequestDuration(endpoint string, d time.Duration) {
	requestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RecordFragments adds to the relayed fragment counter.
func RecordFragments(n int) {
	if n > 0 {
		fragments.Add(float64(n))
	}
}

// RecordTranscription increments the transcription counter for an outcome
// (ok, no_match, unavailable, too_short, malformed).
func RecordTranscription(outcome string) {
	transcriptions.WithLabelValues(outcome).Inc()
}

// ObserveAudioDuration records the duration of a normalized upload.
func ObserveAudioDuration(seconds float64) {
	audioDuration.Observe(seconds)
}
