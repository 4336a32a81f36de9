package audio

import (
	"fmt"
	"log/slog"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// FormatConverter converts a stream of frames to a mono target rate. Stereo
// input is downmixed before resampling. The underlying resampler keeps filter
// state between frames, so one converter must be used per stream and never
// shared across goroutines.
type FormatConverter struct {
	Target Format

	src            Format
	rs             resampling.Resampler
	warnedMismatch sync.Once
}

// Convert returns frame in the target format. A frame already in the target
// format is returned unchanged. Frames with an odd byte count are rejected.
func (c *FormatConverter) Convert(frame AudioFrame) (AudioFrame, error) {
	if len(frame.Data)%2 != 0 {
		return AudioFrame{}, fmt.Errorf("audio: convert: odd byte count %d in 16-bit PCM", len(frame.Data))
	}
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame, nil
	}

	from := Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting", "from", from, "to", c.Target)
	})

	pcm := frame.Data
	if frame.Channels == 2 && c.Target.Channels == 1 {
		pcm = StereoToMono(pcm)
	} else if frame.Channels != c.Target.Channels {
		return AudioFrame{}, fmt.Errorf("audio: convert: unsupported channel conversion %s -> %s", from, c.Target)
	}

	if frame.SampleRate != c.Target.SampleRate {
		if c.rs == nil || c.src != from {
			rs, err := newResampler(frame.SampleRate, c.Target.SampleRate)
			if err != nil {
				return AudioFrame{}, err
			}
			c.rs, c.src = rs, from
		}
		out, err := c.rs.Process(pcmToFloat(pcm))
		if err != nil {
			return AudioFrame{}, fmt.Errorf("audio: resample: %w", err)
		}
		pcm = floatToPCM(out)
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}, nil
}

func newResampler(srcRate, dstRate int) (resampling.Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: resample: invalid rates %d -> %d", srcRate, dstRate)
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler %d -> %d: %w", srcRate, dstRate, err)
	}
	return rs, nil
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// PCMToFloat32 converts 16-bit little-endian PCM to float32 samples normalised
// to [-1.0, 1.0].
func PCMToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(int16(pcm[i*2])|int16(pcm[i*2+1])<<8) / 32768.0
	}
	return out
}

func pcmToFloat(pcm []byte) []float64 {
	n := len(pcm) / 2
	out := make([]float64, n)
	for i := range n {
		out[i] = float64(int16(pcm[i*2])|int16(pcm[i*2+1])<<8) / 32768.0
	}
	return out
}

func floatToPCM(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		var v int16
		switch {
		case s >= 1.0:
			v = 32767
		case s <= -1.0:
			v = -32768
		default:
			v = int16(s * 32767.0)
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
