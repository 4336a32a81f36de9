package audio

import (
	"encoding/binary"
	"math"
)

// Default endpointing parameters.
const (
	// DefaultRMSThreshold is the root-mean-square energy level (in 16-bit PCM
	// units) below which audio is considered silent. The maximum possible value
	// for 16-bit audio is 32 767; 300 corresponds to near-silence.
	DefaultRMSThreshold = 300.0

	DefaultSilenceMs      = 500
	DefaultMaxUtteranceMs = 10_000
)

// EndpointConfig tunes an [Endpointer]. Zero values select the defaults above.
type EndpointConfig struct {
	SampleRate     int
	Channels       int
	RMSThreshold   float64
	SilenceMs      int
	MaxUtteranceMs int
}

// Endpointer segments a PCM stream into utterances with an energy detector.
// Speech chunks are buffered; an utterance ends once SilenceMs of trailing
// silence has accumulated after speech, or when the buffer reaches
// MaxUtteranceMs. Leading silence is never buffered.
//
// An Endpointer is not safe for concurrent use.
type Endpointer struct {
	cfg      EndpointConfig
	maxBytes int

	buffer    []byte
	hadSpeech bool
	silenceMs int
}

// NewEndpointer creates an Endpointer for the given stream format.
func NewEndpointer(cfg EndpointConfig) *Endpointer {
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.RMSThreshold <= 0 {
		cfg.RMSThreshold = DefaultRMSThreshold
	}
	if cfg.SilenceMs <= 0 {
		cfg.SilenceMs = DefaultSilenceMs
	}
	if cfg.MaxUtteranceMs <= 0 {
		cfg.MaxUtteranceMs = DefaultMaxUtteranceMs
	}
	bytesPerMs := cfg.SampleRate * cfg.Channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32
	}
	return &Endpointer{cfg: cfg, maxBytes: cfg.MaxUtteranceMs * bytesPerMs}
}

// Feed adds one chunk and reports whether it completed an utterance. After a
// true result the caller should collect the audio with [Endpointer.Take].
func (e *Endpointer) Feed(chunk []byte) bool {
	if RMS(chunk) < e.cfg.RMSThreshold {
		if !e.hadSpeech {
			return false
		}
		e.silenceMs += DurationMs(chunk, e.cfg.SampleRate, e.cfg.Channels)
		e.buffer = append(e.buffer, chunk...)
		return e.silenceMs >= e.cfg.SilenceMs
	}

	e.hadSpeech = true
	e.silenceMs = 0
	e.buffer = append(e.buffer, chunk...)
	return len(e.buffer) >= e.maxBytes
}

// Take returns the buffered utterance and resets the endpointer. It returns nil
// when no speech has been buffered.
func (e *Endpointer) Take() []byte {
	pcm := e.buffer
	hadSpeech := e.hadSpeech
	e.Reset()
	if !hadSpeech {
		return nil
	}
	return pcm
}

// Reset discards any buffered audio.
func (e *Endpointer) Reset() {
	e.buffer = nil
	e.hadSpeech = false
	e.silenceMs = 0
}

// Buffered returns the number of PCM bytes currently held.
func (e *Endpointer) Buffered() int { return len(e.buffer) }

// RMS returns the root-mean-square energy of 16-bit little-endian PCM.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// DurationMs returns the duration of a PCM chunk in milliseconds. Returns 0 for
// invalid format parameters.
func DurationMs(chunk []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (bitsPerSample / 8)
	return len(chunk) * 1000 / bytesPerSec
}
