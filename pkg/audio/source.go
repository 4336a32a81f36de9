// Package audio defines the capture side of the censorbot pipeline.
//
// The primary abstractions are:
//
//   - [Opener] / [Stream] is a scoped capture stream on a named input device.
//   - [Source] is the capture stage that turns stream reads into [AudioFrame]
//     values and pushes them onto a [FrameQueue].
//   - [FrameQueue] is the bounded hand-off to the recognition stage.
//   - [Endpointer] is energy-based utterance segmentation used by recognizers
//     that have no built-in endpoint detection.
//
// Device-specific implementations live in sub-packages (audio/microphone).
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Stream is an open capture stream. Implementations release the underlying
// device on Close; Close is safe to call more than once.
type Stream interface {
	// Read blocks until the next block of PCM samples is available and returns
	// it as 16-bit little-endian bytes. The returned slice is owned by the
	// caller.
	Read() ([]byte, error)

	// Close stops capture and releases the device.
	Close() error
}

// Opener opens capture streams. It is the seam between [Source] and the
// platform audio API.
type Opener interface {
	Open(cfg StreamConfig) (Stream, error)
}

// CaptureError reports a device-level capture failure. It is fatal to the
// capture stage.
type CaptureError struct {
	Device string
	Err    error
}

func (e *CaptureError) Error() string {
	dev := e.Device
	if dev == "" {
		dev = "default input"
	}
	return fmt.Sprintf("audio: capture on %q failed: %v", dev, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Source is the capture stage. It owns the input device for the duration of
// [Source.Run].
type Source struct {
	opener Opener
	cfg    StreamConfig

	// onFrame, if set, is invoked after every successful push.
	onFrame func(AudioFrame)
}

// SourceOption configures a [Source].
type SourceOption func(*Source)

// WithFrameHook registers fn to be called after each frame is enqueued. It runs
// on the capture goroutine and must not block.
func WithFrameHook(fn func(AudioFrame)) SourceOption {
	return func(s *Source) { s.onFrame = fn }
}

// NewSource creates a capture stage reading from opener with the given format.
// Channels defaults to 1.
func NewSource(opener Opener, cfg StreamConfig, opts ...SourceOption) *Source {
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	s := &Source{opener: opener, cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run opens the stream and pushes one frame per read onto q until ctx is
// cancelled or the device fails. A full queue blocks the loop; no frame is
// dropped. The stream is closed on every return path.
//
// Run returns nil after cancellation and a [*CaptureError] on device failure.
func (s *Source) Run(ctx context.Context, q *FrameQueue) error {
	stream, err := s.opener.Open(s.cfg)
	if err != nil {
		return &CaptureError{Device: s.cfg.Device, Err: err}
	}
	defer func() {
		if err := stream.Close(); err != nil {
			slog.Warn("audio: closing capture stream", "device", s.cfg.Device, "err", err)
		}
	}()

	slog.Info("audio capture started",
		"device", s.cfg.Device,
		"sample_rate", s.cfg.SampleRate,
		"block_size", s.cfg.BlockSize,
	)

	start := time.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}

		data, err := stream.Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &CaptureError{Device: s.cfg.Device, Err: err}
		}

		frame := AudioFrame{
			Data:       data,
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
			Timestamp:  time.Since(start),
		}
		if err := q.Push(ctx, frame); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if s.onFrame != nil {
			s.onFrame(frame)
		}
	}
}
