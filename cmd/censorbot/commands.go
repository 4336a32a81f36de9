package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/censorbot/internal/app"
	"github.com/MrWong99/censorbot/internal/config"
	"github.com/MrWong99/censorbot/internal/observe"
	"github.com/MrWong99/censorbot/pkg/audio/microphone"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "censorbot",
		Short: "Live profanity censor for OBS Studio",
		Long: `censorbot transcribes your microphone with whisper.cpp and, when it hears
a word from its list, mutes the OBS microphone input and shows a random video
from the asset directory on an OBS media source for a few seconds.

OBS must have the WebSocket server enabled (Tools > WebSocket Server Settings),
an audio input for the microphone and a media source for the overlay placed in
the current scene.

Examples:
  censorbot --obs-password secret --asset-dir ./cats
  censorbot -c censorbot.yaml --hold 2s
  CENSORBOT_OBS_PASSWORD=secret censorbot --whisper-server http://localhost:8080`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCensor,
	}
	config.RegisterFlags(root.Flags())
	root.AddCommand(newDevicesCmd())
	return root
}

func runCensor(cmd *cobra.Command, _ []string) error {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Resolve(path, cmd.Flags())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found: %w", path, err)
		}
		return err
	}

	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.LogLevel))
	printStartupSummary(cmd.OutOrStdout(), cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}

	runErr := application.Run(ctx)
	if runErr == nil {
		slog.Info("shutdown signal received, stopping")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(sctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	return runErr
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		Long: `List every input-capable audio device. Pass a device name, or any part of
it, to --device to capture from it instead of the system default input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			release, err := microphone.Init()
			if err != nil {
				return err
			}
			defer release()
			devices, err := microphone.Devices()
			if err != nil {
				return err
			}
			return printDevices(cmd.OutOrStdout(), devices)
		},
	}
}

func printDevices(w io.Writer, devices []microphone.Device) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "no input devices found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEFAULT\tNAME\tHOST API\tCHANNELS\tSAMPLE RATE")
	for _, d := range devices {
		def := ""
		if d.Default {
			def = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.0f\n", def, d.Name, d.HostAPI, d.MaxInputChannels, d.DefaultSampleRate)
	}
	return tw.Flush()
}

func printStartupSummary(w io.Writer, cfg *config.Config) {
	recognition := cfg.Recognition.ModelPath
	switch {
	case recognition == "":
		recognition = cfg.Recognition.ServerURL
	case cfg.Recognition.ServerURL != "":
		recognition += " (fallback " + cfg.Recognition.ServerURL + ")"
	}
	device := cfg.Microphone.Device
	if device == "" {
		device = "(system default)"
	}
	listen := cfg.ListenAddr
	if listen == "" {
		listen = "(disabled)"
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "censorbot "+version)
	fmt.Fprintf(tw, "  OBS\t%s:%d\n", cfg.OBS.Host, cfg.OBS.Port)
	fmt.Fprintf(tw, "  Capture device\t%s @ %d Hz\n", device, cfg.Microphone.SampleRate)
	fmt.Fprintf(tw, "  Mic input\t%s\n", cfg.Microphone.InputName)
	fmt.Fprintf(tw, "  Overlay\t%s (%s, hold %s)\n", cfg.Overlay.SourceName, cfg.Overlay.AssetDir, cfg.Overlay.Hold)
	fmt.Fprintf(tw, "  Recognition\t%s\n", recognition)
	if cfg.Words.File != "" {
		fmt.Fprintf(tw, "  Extra words\t%s\n", cfg.Words.File)
	}
	fmt.Fprintf(tw, "  Listen addr\t%s\n", listen)
	_ = tw.Flush()
}

func newLogger(w io.Writer, level config.LogLevel) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.Level()}))
}
