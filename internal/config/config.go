// Package config provides the configuration schema and loader for censorbot.
//
// Values are layered: [Default] < YAML file < CENSORBOT_* environment
// variables (with an optional .env file) < command-line flags. [Resolve]
// applies all layers and validates the result.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to an [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
type Config struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level" split_words:"true"`

	// ListenAddr serves /healthz, /readyz and /metrics. Empty disables the
	// listener.
	ListenAddr string `yaml:"listen_addr" split_words:"true"`

	OBS         OBSConfig         `yaml:"obs" envconfig:"OBS"`
	Microphone  MicrophoneConfig  `yaml:"microphone" envconfig:"MIC"`
	Overlay     OverlayConfig     `yaml:"overlay" envconfig:"OVERLAY"`
	Recognition RecognitionConfig `yaml:"recognition" envconfig:"RECOGNITION"`
	Words       WordsConfig       `yaml:"words" envconfig:"WORDS"`
	Queue       QueueConfig       `yaml:"queue" envconfig:"QUEUE"`
}

// OBSConfig locates the OBS WebSocket server.
type OBSConfig struct {
	Host     string `yaml:"host" split_words:"true"`
	Port     int    `yaml:"port" split_words:"true"`
	Password string `yaml:"password" split_words:"true"`

	// RequestTimeout bounds each WebSocket request.
	RequestTimeout time.Duration `yaml:"request_timeout" split_words:"true"`
}

// MicrophoneConfig selects the capture device and the OBS input to mute.
type MicrophoneConfig struct {
	// Device is matched case-insensitively as a substring of the capture
	// device name. Empty selects the system default input.
	Device string `yaml:"device" split_words:"true"`

	// InputName is the OBS input muted while censoring.
	InputName string `yaml:"input_name" split_words:"true"`

	SampleRate int `yaml:"sample_rate" split_words:"true"`

	// BlockSize is the number of samples per captured frame.
	BlockSize int `yaml:"block_size" split_words:"true"`
}

// OverlayConfig describes the media source shown while censoring.
type OverlayConfig struct {
	SourceName string        `yaml:"source_name" split_words:"true"`
	AssetDir   string        `yaml:"asset_dir" split_words:"true"`
	Hold       time.Duration `yaml:"hold" split_words:"true"`
}

// RecognitionConfig selects and tunes the speech engine. At least one of
// ModelPath and ServerURL must be set; with both, the server is used when the
// local model fails.
type RecognitionConfig struct {
	// ModelPath is a whisper.cpp ggml model file.
	ModelPath string `yaml:"model_path" split_words:"true"`

	// ServerURL is a whisper.cpp server base URL, e.g. http://localhost:8080.
	ServerURL string `yaml:"server_url" split_words:"true"`

	Language string `yaml:"language" split_words:"true"`

	// RMSThreshold is the 16-bit RMS level above which a block counts as
	// speech.
	RMSThreshold float64 `yaml:"rms_threshold" split_words:"true"`

	// SilenceMs of trailing silence end an utterance.
	SilenceMs int `yaml:"silence_ms" split_words:"true"`

	// MaxUtteranceMs caps an utterance during continuous speech.
	MaxUtteranceMs int `yaml:"max_utterance_ms" split_words:"true"`
}

// WordsConfig points at an optional custom word list.
type WordsConfig struct {
	// File holds one word per line; its words are added to the built-in
	// list.
	File string `yaml:"file" split_words:"true"`
}

// QueueConfig tunes the capture-to-recognition hand-off.
type QueueConfig struct {
	Capacity    int           `yaml:"capacity" split_words:"true"`
	PollTimeout time.Duration `yaml:"poll_timeout" split_words:"true"`
}

// Default returns the configuration used when no file, environment variable
// or flag overrides a value.
func Default() *Config {
	return &Config{
		LogLevel:   LogInfo,
		ListenAddr: ":9464",
		OBS: OBSConfig{
			Host:           "localhost",
			Port:           4455,
			RequestTimeout: 5 * time.Second,
		},
		Microphone: MicrophoneConfig{
			InputName:  "Mic/Aux",
			SampleRate: 16000,
			BlockSize:  8000,
		},
		Overlay: OverlayConfig{
			SourceName: "SneezeCat",
			AssetDir:   "./cats",
			Hold:       4 * time.Second,
		},
		Recognition: RecognitionConfig{
			ModelPath:      "models/ggml-base.en.bin",
			Language:       "en",
			RMSThreshold:   300,
			SilenceMs:      500,
			MaxUtteranceMs: 10000,
		},
		Queue: QueueConfig{
			Capacity:    64,
			PollTimeout: 200 * time.Millisecond,
		},
	}
}
