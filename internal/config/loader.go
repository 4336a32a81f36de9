package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CENSORBOT_OBS_PASSWORD.
const EnvPrefix = "CENSORBOT"

// Load reads the YAML configuration file at path over [Default] and returns
// the validated result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg from CENSORBOT_* environment variables. The dotenv
// files are loaded first without replacing variables that are already set;
// with none given, ./.env is tried. Missing dotenv files are ignored.
func ApplyEnv(cfg *Config, dotenvFiles ...string) error {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", f, err)
		}
		slog.Debug("loaded environment file", "path", f)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Resolve builds the effective configuration: defaults, then the YAML file
// at path (skipped when path is empty), then the environment, then the flags
// that were set explicitly. flags may be nil.
func Resolve(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		err = decode(f, cfg)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if flags != nil {
		if err := ApplyFlags(cfg, flags); err != nil {
			return nil, err
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.OBS.Host == "" {
		errs = append(errs, errors.New("obs.host is required"))
	}
	if cfg.OBS.Port < 1 || cfg.OBS.Port > 65535 {
		errs = append(errs, fmt.Errorf("obs.port %d is out of range [1, 65535]", cfg.OBS.Port))
	}
	if cfg.OBS.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("obs.request_timeout %v must not be negative", cfg.OBS.RequestTimeout))
	}

	if cfg.Microphone.InputName == "" {
		errs = append(errs, errors.New("microphone.input_name is required"))
	}
	if cfg.Microphone.SampleRate < 8000 || cfg.Microphone.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("microphone.sample_rate %d is out of range [8000, 192000]", cfg.Microphone.SampleRate))
	}
	if cfg.Microphone.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("microphone.block_size %d must be positive", cfg.Microphone.BlockSize))
	}

	if cfg.Overlay.SourceName == "" {
		errs = append(errs, errors.New("overlay.source_name is required"))
	}
	if cfg.Overlay.AssetDir == "" {
		errs = append(errs, errors.New("overlay.asset_dir is required"))
	}
	if cfg.Overlay.Hold <= 0 {
		errs = append(errs, fmt.Errorf("overlay.hold %v must be positive", cfg.Overlay.Hold))
	}

	if cfg.Recognition.ModelPath == "" && cfg.Recognition.ServerURL == "" {
		errs = append(errs, errors.New("recognition: one of model_path and server_url is required"))
	}
	if cfg.Recognition.RMSThreshold < 0 {
		errs = append(errs, fmt.Errorf("recognition.rms_threshold %v must not be negative", cfg.Recognition.RMSThreshold))
	}
	if cfg.Recognition.SilenceMs < 0 || cfg.Recognition.MaxUtteranceMs < 0 {
		errs = append(errs, errors.New("recognition.silence_ms and max_utterance_ms must not be negative"))
	}

	if cfg.Queue.Capacity < 1 {
		errs = append(errs, fmt.Errorf("queue.capacity %d must be at least 1", cfg.Queue.Capacity))
	}
	if cfg.Queue.PollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("queue.poll_timeout %v must be positive", cfg.Queue.PollTimeout))
	}

	// A hold longer than the queue can buffer stalls the capture callback.
	if cfg.Microphone.SampleRate > 0 && cfg.Microphone.BlockSize > 0 && cfg.Queue.Capacity > 0 {
		frame := time.Duration(cfg.Microphone.BlockSize) * time.Second / time.Duration(cfg.Microphone.SampleRate)
		if buffered := frame * time.Duration(cfg.Queue.Capacity); buffered < cfg.Overlay.Hold {
			slog.Warn("queue cannot buffer a full hold; capture will stall while censoring",
				"buffered", buffered, "hold", cfg.Overlay.Hold)
		}
	}

	return errors.Join(errs...)
}
