package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the voicerelay server. It is built
// once at startup (defaults, then config file, then environment, then
// flags) and treated as read-only afterwards.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// Inference backend.
	OllamaURL      string        `yaml:"ollama_url"`
	Model          string        `yaml:"model"`
	NumPredict     int           `yaml:"num_predict"`
	RequestTimeout time.Duration `yaml:"-"`
	StreamReplies  bool          `yaml:"stream_replies"`

	// Speech recognition.
	RecognizerURL      string  `yaml:"recognizer_url"`
	RecognizerKey      string  `yaml:"recognizer_key"`
	MinAudioSeconds    float64 `yaml:"min_audio_seconds"`
	CalibrationSeconds float64 `yaml:"calibration_seconds"`
	FFmpegPath         string  `yaml:"ffmpeg_path"`

	AllowedOrigins []string `yaml:"allowed_origins"`
	ConfigFile     string   `yaml:"-"`
}

// SetDefaults initializes c with built-in defaults.
func (c *ServerConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 9000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.OllamaURL == "" {
		c.OllamaURL = "http://localhost:11434"
	}
	if c.Model == "" {
		c.Model = "llama3:instruct"
	}
	if c.NumPredict == 0 {
		c.NumPredict = 80
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}
	c.StreamReplies = true
	if c.MinAudioSeconds == 0 {
		c.MinAudioSeconds = 0.3
	}
	if c.CalibrationSeconds == 0 {
		c.CalibrationSeconds = 0.1
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = []string{"*"}
	}
}

// LoadFile overlays values from a YAML config file.
func (c *ServerConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *ServerConfig) ApplyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		c.OllamaURL = v
	}
	if v := os.Getenv("MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("NUM_PREDICT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.NumPredict = n
		}
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RequestTimeout = time.Duration(f * float64(time.Second))
		}
	}
	if v := os.Getenv("STREAM_REPLIES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.StreamReplies = b
		}
	}
	if v := os.Getenv("RECOGNIZER_URL"); v != "" {
		c.RecognizerURL = v
	}
	if v := os.Getenv("RECOGNIZER_KEY"); v != "" {
		c.RecognizerKey = v
	}
	if v := os.Getenv("MIN_AUDIO_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.MinAudioSeconds = f
		}
	}
	if v := os.Getenv("CALIBRATION_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.CalibrationSeconds = f
		}
	}
	if v := os.Getenv("FFMPEG_PATH"); v != "" {
		c.FFmpegPath = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
	if v := os.Getenv("CONFIG_FILE"); v != "" {
		c.ConfigFile = v
	}
}

// BindFlagsFromCurrent binds command line flags using the current config
// values as defaults so main can call flag.Parse().
func (c *ServerConfig) BindFlagsFromCurrent() {
	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "server config file path")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	flag.IntVar(&c.Port, "port", c.Port, "HTTP listen port for the public API")
	flag.StringVar(&c.OllamaURL, "ollama-url", c.OllamaURL, "base URL of the local Ollama inference backend")
	flag.StringVar(&c.Model, "model", c.Model, "model identifier sent with every generate request")
	flag.IntVar(&c.NumPredict, "num-predict", c.NumPredict, "default max-token hint for generation")
	flag.BoolVar(&c.StreamReplies, "stream-replies", c.StreamReplies, "stream /process replies chunk by chunk instead of buffering")
	flag.StringVar(&c.RecognizerURL, "recognizer-url", c.RecognizerURL, "speech recognition service endpoint; empty disables recognition")
	flag.StringVar(&c.RecognizerKey, "recognizer-key", c.RecognizerKey, "bearer key for the speech recognition service")
	flag.Float64Var(&c.MinAudioSeconds, "min-audio-seconds", c.MinAudioSeconds, "uploads shorter than this are treated as silence")
	flag.Float64Var(&c.CalibrationSeconds, "calibration-seconds", c.CalibrationSeconds, "ambient noise calibration window before recognition")
	flag.StringVar(&c.FFmpegPath, "ffmpeg-path", c.FFmpegPath, "path to the ffmpeg binary used for audio normalization")
	flag.Func("request-timeout", "buffered generation timeout in seconds", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.RequestTimeout = time.Duration(f * float64(time.Second))
		return nil
	})
	flag.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
