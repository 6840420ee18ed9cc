// Package relay adapts inbound HTTP requests to the inference and
// transcription clients. Expected failures never surface as 5xx; the
// boundary answers 200 with a fixed user-facing message instead.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/gaspardpetit/voicerelay/internal/audio"
	"github.com/gaspardpetit/voicerelay/internal/config"
	"github.com/gaspardpetit/voicerelay/internal/logx"
	"github.com/gaspardpetit/voicerelay/internal/metrics"
	"github.com/gaspardpetit/voicerelay/internal/ollama"
	"github.com/gaspardpetit/voicerelay/internal/speech"
	"github.com/gaspardpetit/voicerelay/internal/tokenstream"
)

// Fixed user-visible strings for the expected failure modes.
const (
	MsgEmptyPrompt    = "Please say something."
	MsgBackendDown    = "It looks like the local AI engine isn't running. Please start it first."
	MsgTimeout        = "The AI took too long to respond. Try again in a moment."
	MsgRecognizerDown = "Speech API unavailable"
)

// Generator is the narrow inference surface the relay needs.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string) (*tokenstream.Stream, error)
}

// Deps carries the collaborators for the relay handlers. Each request
// owns its own backend connection and temp files; nothing here is
// mutated after startup.
type Deps struct {
	Gen  Generator
	Rec  speech.Recognizer
	Conv audio.Converter
	Cfg  config.ServerConfig
}

// fastPrompt prefixes a concise-reply instruction so answers stay short
// enough to speak promptly.
func fastPrompt(text string) string {
	return "Reply briefly in simple, clear language. Use 1-2 short sentences.\n\nUser: " + text
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, ollama.ErrUnreachable):
		return MsgBackendDown
	case errors.Is(err, ollama.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return MsgTimeout
	default:
		return ollama.DefaultFaultMessage
	}
}

// ProcessHandler handles POST /process. Depending on deployment it
// either streams the reply as a chunked text/plain body or answers with
// a single {"response": ...} object.
func ProcessHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			metrics.RecordRequest("process", false)
			return
		}
		text := strings.TrimSpace(req.Text)

		var success bool
		if d.Cfg.StreamReplies {
			success = processStream(w, r, d, text)
		} else {
			success = processBuffered(w, r, d, text)
		}
		metrics.RecordRequest("process", success)
		metrics.ObserveRequestDuration("process", time.Since(start))
	}
}

func processStream(w http.ResponseWriter, r *http.Request, d Deps, text string) bool {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	if text == "" {
		_, _ = io.WriteString(w, MsgEmptyPrompt)
		return true
	}

	reqID := chiMiddleware.GetReqID(r.Context())
	st, err := d.Gen.GenerateStream(r.Context(), fastPrompt(text))
	if err != nil {
		logx.Log.Warn().Str("request_id", reqID).Err(err).Msg("generate stream")
		_, _ = io.WriteString(w, errorMessage(err))
		return false
	}
	defer func() {
		_ = st.Close()
	}()

	flusher, _ := w.(http.Flusher)
	n := 0
	for {
		frag, ok := st.Next()
		if !ok {
			break
		}
		if _, err := io.WriteString(w, frag); err != nil {
			// Client went away; Close tears down the upstream connection.
			logx.Log.Debug().Str("request_id", reqID).Err(err).Msg("client disconnected")
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
		n++
	}
	metrics.RecordFragments(n)
	if err := st.Err(); err != nil {
		logx.Log.Warn().Str("request_id", reqID).Int("fragments", n).Err(err).Msg("stream faulted")
		return false
	}
	logx.Log.Info().Str("request_id", reqID).Int("fragments", n).Msg("stream complete")
	return true
}

func processBuffered(w http.ResponseWriter, r *http.Request, d Deps, text string) bool {
	if text == "" {
		writeJSON(w, map[string]string{"response": MsgEmptyPrompt})
		return true
	}

	ctx, cancel := context.WithTimeout(r.Context(), d.Cfg.RequestTimeout)
	defer cancel()

	reqID := chiMiddleware.GetReqID(r.Context())
	res, err := d.Gen.Generate(ctx, fastPrompt(text))
	if err != nil {
		logx.Log.Warn().Str("request_id", reqID).Err(err).Msg("generate")
		writeJSON(w, map[string]string{"response": errorMessage(err)})
		return false
	}
	logx.Log.Info().Str("request_id", reqID).Msg("generate complete")
	writeJSON(w, map[string]string{"response": res})
	return true
}

// SpeechHandler handles POST /speech: persist the upload, normalize it
// with the external codec, and transcribe. Every exit path answers 200
// with a {"text": ...} object and removes the transient files.
func SpeechHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := chiMiddleware.GetReqID(r.Context())

		text, outcome := transcribeUpload(r, d, reqID)
		metrics.RecordTranscription(outcome)
		metrics.RecordRequest("speech", outcome == "ok" || outcome == "no_match" || outcome == "too_short")
		metrics.ObserveRequestDuration("speech", time.Since(start))
		writeJSON(w, map[string]string{"text": text})
	}
}

func transcribeUpload(r *http.Request, d Deps, reqID string) (text, outcome string) {
	file, header, err := r.FormFile("file")
	if err != nil {
		logx.Log.Warn().Str("request_id", reqID).Err(err).Msg("missing audio upload")
		return "", "malformed"
	}
	defer func() {
		_ = file.Close()
	}()

	id := uuid.NewString()
	src := filepath.Join(os.TempDir(), "voicerelay-"+id+uploadExt(header.Filename))
	dst := filepath.Join(os.TempDir(), "voicerelay-"+id+".wav")
	defer func() {
		_ = os.Remove(src)
		_ = os.Remove(dst)
	}()

	if err := saveUpload(file, src); err != nil {
		logx.Log.Warn().Str("request_id", reqID).Err(err).Msg("persist upload")
		return "", "malformed"
	}
	if err := d.Conv.Normalize(r.Context(), src, dst); err != nil {
		logx.Log.Warn().Str("request_id", reqID).Err(err).Msg("normalize upload")
		return "", "malformed"
	}
	wav, err := os.ReadFile(dst)
	if err != nil {
		logx.Log.Warn().Str("request_id", reqID).Err(err).Msg("read normalized audio")
		return "", "malformed"
	}
	dur, err := audio.Duration(wav)
	if err != nil {
		logx.Log.Warn().Str("request_id", reqID).Err(err).Msg("inspect normalized audio")
		return "", "malformed"
	}
	metrics.ObserveAudioDuration(dur)
	if dur < d.Cfg.MinAudioSeconds {
		logx.Log.Debug().Str("request_id", reqID).Float64("seconds", dur).Msg("upload too short for speech")
		return "", "too_short"
	}

	res := d.Rec.Transcribe(r.Context(), wav)
	switch res.Status {
	case speech.StatusOK:
		logx.Log.Info().Str("request_id", reqID).Float64("seconds", dur).Msg("transcription complete")
		return res.Text, "ok"
	case speech.StatusUnavailable:
		logx.Log.Warn().Str("request_id", reqID).Msg("recognizer unavailable")
		return MsgRecognizerDown, "unavailable"
	default:
		return "", "no_match"
	}
}

func saveUpload(src io.Reader, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// uploadExt keeps the original container extension for ffmpeg's format
// probing, rejecting anything that does not look like a plain extension.
func uploadExt(filename string) string {
	ext := filepath.Ext(filepath.Base(filename))
	if len(ext) < 2 || len(ext) > 8 {
		return ".webm"
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return ".webm"
		}
	}
	return ext
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Log.Error().Err(err).Msg("encode response")
	}
}
