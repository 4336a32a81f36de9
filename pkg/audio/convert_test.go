package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/censorbot/pkg/audio"
)

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

// sine returns n samples of a 440 Hz tone at the given rate.
func sine(n, rate int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return out
}

func TestStereoToMono(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	got := bytesToSamples(audio.StereoToMono(stereo))
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_NoOverflow(t *testing.T) {
	got := bytesToSamples(audio.StereoToMono(samplesToBytes([]int16{32767, 32767})))
	if len(got) != 1 || got[0] != 32767 {
		t.Errorf("got %v, want [32767]", got)
	}
}

func TestPCMToFloat32(t *testing.T) {
	got := audio.PCMToFloat32(samplesToBytes([]int16{0, 16384, -32768}))
	want := []float32{0, 0.5, -1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFormatConverter_NoOp(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	frame := audio.AudioFrame{Data: samplesToBytes([]int16{1, 2, 3}), SampleRate: 16000, Channels: 1}
	out, err := conv.Convert(frame)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if &out.Data[0] != &frame.Data[0] {
		t.Error("matching format should return the frame unchanged")
	}
}

func TestFormatConverter_StereoDownmix(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	frame := audio.AudioFrame{Data: samplesToBytes([]int16{100, 300, 0, 0}), SampleRate: 16000, Channels: 2}
	out, err := conv.Convert(frame)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if out.Channels != 1 {
		t.Errorf("Channels = %d, want 1", out.Channels)
	}
	if got := bytesToSamples(out.Data); len(got) != 2 || got[0] != 200 {
		t.Errorf("samples = %v, want [200 0]", got)
	}
}

func TestFormatConverter_ResamplesStream(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	tone := sine(48000, 48000)
	var total int
	// Ten 100ms blocks through one converter.
	for i := range 10 {
		block := tone[i*4800 : (i+1)*4800]
		out, err := conv.Convert(audio.AudioFrame{Data: samplesToBytes(block), SampleRate: 48000, Channels: 1})
		if err != nil {
			t.Fatalf("Convert block %d: %v", i, err)
		}
		if out.SampleRate != 16000 {
			t.Fatalf("SampleRate = %d, want 16000", out.SampleRate)
		}
		total += len(out.Data) / 2
	}
	if total < 14000 || total > 16100 {
		t.Errorf("streamed %d samples, want about 16000", total)
	}
}

func TestFormatConverter_OddBytes(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	if _, err := conv.Convert(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1}); err == nil {
		t.Error("expected error for odd byte count")
	}
}

func TestFormat_String(t *testing.T) {
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
