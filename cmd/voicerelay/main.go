package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gaspardpetit/voicerelay/internal/audio"
	"github.com/gaspardpetit/voicerelay/internal/config"
	"github.com/gaspardpetit/voicerelay/internal/logx"
	"github.com/gaspardpetit/voicerelay/internal/metrics"
	"github.com/gaspardpetit/voicerelay/internal/ollama"
	"github.com/gaspardpetit/voicerelay/internal/relay"
	"github.com/gaspardpetit/voicerelay/internal/server"
	"github.com/gaspardpetit/voicerelay/internal/speech"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")

	// Resolve config with precedence: defaults < file < env < args.
	var cfg config.ServerConfig
	cfg.SetDefaults()
	cfg.ApplyEnv() // allows CONFIG_FILE from env
	for i := 1; i < len(os.Args); i++ {
		a := os.Args[i]
		if a == "--config" && i+1 < len(os.Args) {
			cfg.ConfigFile = os.Args[i+1]
			break
		}
		if strings.HasPrefix(a, "--config=") {
			cfg.ConfigFile = strings.TrimPrefix(a, "--config=")
			break
		}
	}
	if cfg.ConfigFile == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			cfg.ConfigFile = "config.yaml"
		}
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	cfg.ApplyEnv()
	cfg.BindFlagsFromCurrent()
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (%s, %s)\n", version, buildSHA, buildDate)
		return
	}
	logx.Configure(cfg.LogLevel)

	metrics.Register(prometheus.DefaultRegisterer)
	metrics.SetServerBuildInfo(version, buildSHA, buildDate)
	server.SetBuildInfo(version, buildSHA, buildDate)

	client := ollama.New(cfg.OllamaURL, cfg.Model)
	client.NumPredict = cfg.NumPredict
	client.Timeout = cfg.RequestTimeout
	rec := speech.NewHTTPRecognizer(cfg.RecognizerURL, cfg.RecognizerKey, cfg.CalibrationSeconds)

	deps := relay.Deps{
		Gen:  client,
		Rec:  rec,
		Conv: &audio.FFmpeg{Path: cfg.FFmpegPath},
		Cfg:  cfg,
	}
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: server.New(deps, client)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logx.Log.Info().Int("port", cfg.Port).Str("model", cfg.Model).Bool("stream", cfg.StreamReplies).Msg("voicerelay starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
}
