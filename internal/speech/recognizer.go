// Package speech submits normalized waveforms to a remote recognition
// service. Recognition outcomes are values, not errors: the relay always
// has something to answer with, whatever the service does.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gaspardpetit/voicerelay/internal/audio"
	"github.com/gaspardpetit/voicerelay/internal/logx"
)

// Status tags a recognition outcome.
type Status int

const (
	// StatusOK means speech was recognized.
	StatusOK Status = iota
	// StatusNoMatch means the audio was valid but contained no speech.
	StatusNoMatch
	// StatusUnavailable means the remote service could not be reached or
	// answered with something unusable.
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoMatch:
		return "no_match"
	case StatusUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// Result is the outcome of one transcription attempt.
type Result struct {
	Text   string
	Status Status
}

// Recognizer converts a normalized mono 16 kHz WAV into text.
type Recognizer interface {
	Transcribe(ctx context.Context, wav []byte) Result
}

// HTTPRecognizer posts waveforms to a remote recognition endpoint as a
// multipart upload and expects a JSON reply carrying a "text" field.
type HTTPRecognizer struct {
	Endpoint string
	APIKey   string
	// CalibrationSeconds of leading audio establish the ambient noise
	// floor; shorter is faster, longer is more robust to noisy rooms.
	CalibrationSeconds float64
	// SpeechFactor is how far above the noise floor a window must rise
	// to count as speech.
	SpeechFactor float64

	httpClient *http.Client
}

func NewHTTPRecognizer(endpoint, apiKey string, calibrationSeconds float64) *HTTPRecognizer {
	return &HTTPRecognizer{
		Endpoint:           endpoint,
		APIKey:             apiKey,
		CalibrationSeconds: calibrationSeconds,
		SpeechFactor:       3,
		httpClient:         &http.Client{Timeout: 30 * time.Second},
	}
}

// Transcribe runs the ambient-noise calibration pass and, if the waveform
// carries anything above the noise floor, submits it for recognition.
func (r *HTTPRecognizer) Transcribe(ctx context.Context, wav []byte) Result {
	if r.Endpoint == "" {
		return Result{Status: StatusUnavailable}
	}

	samples, rate, err := audio.Samples(wav)
	if err != nil {
		logx.Log.Debug().Err(err).Msg("undecodable waveform")
		return Result{Status: StatusNoMatch}
	}
	calib := int(r.CalibrationSeconds * float64(rate))
	floor := audio.NoiseFloor(samples, calib)
	if calib > len(samples) {
		calib = len(samples)
	}
	if !audio.HasSpeech(samples[calib:], floor, r.SpeechFactor) {
		return Result{Status: StatusNoMatch}
	}

	text, ok := r.recognize(ctx, wav)
	if !ok {
		return Result{Status: StatusUnavailable}
	}
	if text == "" {
		return Result{Status: StatusNoMatch}
	}
	return Result{Text: text, Status: StatusOK}
}

func (r *HTTPRecognizer) recognize(ctx context.Context, wav []byte) (string, bool) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", false
	}
	if _, err := part.Write(wav); err != nil {
		return "", false
	}
	if err := writer.Close(); err != nil {
		return "", false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, &buf)
	if err != nil {
		return "", false
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if r.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.APIKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		logx.Log.Warn().Err(err).Msg("recognizer request failed")
		return "", false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logx.Log.Warn().Int("status", resp.StatusCode).Str("body", string(body)).Msg("recognizer error response")
		return "", false
	}
	var v struct {
		Text *string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil || v.Text == nil {
		logx.Log.Warn().Err(err).Msg("recognizer response missing text")
		return "", false
	}
	return *v.Text, true
}
