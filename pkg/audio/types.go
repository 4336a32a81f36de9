package audio

import "time"

// AudioFrame is a single fixed-duration block of captured audio. Frames are the
// atomic unit of transport between the capture and recognition stages.
//
// A frame is immutable once captured: the producer allocates a fresh Data slice
// per frame and never touches it again after handing the frame to a
// [FrameQueue].
type AudioFrame struct {
	// PCM audio data, 16-bit signed little-endian samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for STT).
	SampleRate int

	// Channels is always 1 for microphone capture.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame. Returns 0 when the format
// fields are unset.
func (f AudioFrame) Duration() time.Duration {
	return time.Duration(DurationMs(f.Data, f.SampleRate, f.Channels)) * time.Millisecond
}

// StreamConfig describes the capture format requested from an [Opener].
type StreamConfig struct {
	// Device is the capture device name. Empty selects the system default
	// input device.
	Device string

	// SampleRate in Hz.
	SampleRate int

	// BlockSize is the number of samples per channel delivered by one read.
	BlockSize int

	// Channels is the number of input channels. 1 = mono.
	Channels int
}

// bitsPerSample is fixed at 16 for all PCM handled by censorbot.
const bitsPerSample = 16
