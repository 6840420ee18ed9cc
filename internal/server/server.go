package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/voicerelay/internal/logx"
	"github.com/gaspardpetit/voicerelay/internal/relay"
)

// Build metadata, set by main from linker flags.
var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

// SetBuildInfo records the binary's build metadata for /status.
func SetBuildInfo(v, sha, date string) {
	version, buildSHA, buildDate = v, sha, date
}

// BackendProber reports whether the inference backend answers and which
// models it serves.
type BackendProber interface {
	Health(ctx context.Context) ([]string, error)
}

// New constructs the HTTP handler for the server.
func New(d relay.Deps, probe BackendProber) http.Handler {
	r := chi.NewRouter()
	if len(d.Cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.Cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}
	for _, m := range relay.MiddlewareChain() {
		r.Use(m)
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "AI service is running"})
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", statusHandler(d, probe))
	r.Post("/process", relay.ProcessHandler(d))
	r.Post("/speech", relay.SpeechHandler(d))
	r.Get("/ws", relay.WSHandler(d))
	r.Handle("/metrics", promhttp.Handler())

	return r
}

type statusResponse struct {
	Version          string   `json:"version"`
	BuildSHA         string   `json:"build_sha"`
	BuildDate        string   `json:"build_date"`
	Model            string   `json:"model"`
	BackendReachable bool     `json:"backend_reachable"`
	BackendModels    []string `json:"backend_models,omitempty"`
}

func statusHandler(d relay.Deps, probe BackendProber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := statusResponse{
			Version:   version,
			BuildSHA:  buildSHA,
			BuildDate: buildDate,
			Model:     d.Cfg.Model,
		}
		if probe != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			models, err := probe.Health(ctx)
			if err != nil {
				logx.Log.Debug().Err(err).Msg("backend probe failed")
			} else {
				st.BackendReachable = true
				st.BackendModels = models
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	}
}
