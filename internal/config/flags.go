package config

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
)

// RegisterFlags defines the override flags on fs. Their defaults come from
// [Default] and only appear in help output; [ApplyFlags] applies a flag only
// when the user set it.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP("config", "c", "", "path to a YAML config file")
	fs.String("log-level", string(d.LogLevel), "log level: debug, info, warn, error")
	fs.String("listen-addr", d.ListenAddr, "address for /healthz, /readyz and /metrics (empty disables)")

	fs.String("obs-host", d.OBS.Host, "OBS WebSocket host")
	fs.Int("obs-port", d.OBS.Port, "OBS WebSocket port")
	fs.String("obs-password", "", "OBS WebSocket password")

	fs.String("mic-input", d.Microphone.InputName, "OBS input muted while censoring")
	fs.String("device", "", "capture device name or part of it (default: system input)")
	fs.Int("sample-rate", d.Microphone.SampleRate, "capture sample rate in Hz")

	fs.String("overlay-source", d.Overlay.SourceName, "OBS media source that plays the overlay video")
	fs.String("asset-dir", d.Overlay.AssetDir, "directory of overlay videos (.mp4, .mov, .mkv, .webm)")
	fs.Duration("hold", d.Overlay.Hold, "how long the overlay stays visible")

	fs.String("model", d.Recognition.ModelPath, "whisper.cpp model file")
	fs.String("whisper-server", "", "whisper.cpp server URL, used alone or as fallback for --model")
	fs.String("word-list", "", "file of extra words to censor, one per line")
}

// ApplyFlags copies every flag registered by [RegisterFlags] that was set on
// the command line into cfg.
func ApplyFlags(cfg *Config, fs *pflag.FlagSet) error {
	var errs []error
	str := func(name string, dst *string) {
		if !fs.Changed(name) {
			return
		}
		v, err := fs.GetString(name)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}
	integer := func(name string, dst *int) {
		if !fs.Changed(name) {
			return
		}
		v, err := fs.GetInt(name)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}

	var level string
	str("log-level", &level)
	if level != "" {
		cfg.LogLevel = LogLevel(level)
	}
	str("listen-addr", &cfg.ListenAddr)
	str("obs-host", &cfg.OBS.Host)
	integer("obs-port", &cfg.OBS.Port)
	str("obs-password", &cfg.OBS.Password)
	str("mic-input", &cfg.Microphone.InputName)
	str("device", &cfg.Microphone.Device)
	integer("sample-rate", &cfg.Microphone.SampleRate)
	str("overlay-source", &cfg.Overlay.SourceName)
	str("asset-dir", &cfg.Overlay.AssetDir)
	str("model", &cfg.Recognition.ModelPath)
	str("whisper-server", &cfg.Recognition.ServerURL)
	str("word-list", &cfg.Words.File)

	if fs.Changed("hold") {
		v, err := fs.GetDuration("hold")
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.Overlay.Hold = v
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: flags: %w", err)
	}
	return nil
}
