// Package microphone opens capture streams on local input devices through
// PortAudio. It implements [audio.Opener].
//
// PortAudio is a process-wide resource: call [Init] once at startup and the
// returned release function on shutdown.
package microphone

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/censorbot/pkg/audio"
)

// ErrDeviceNotFound is returned when no input device matches the requested name.
var ErrDeviceNotFound = errors.New("microphone: input device not found")

// Device describes an input-capable device.
type Device struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// Init initialises PortAudio and returns a function that terminates it.
func Init() (release func(), err error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("microphone: initialise portaudio: %w", err)
	}
	return func() { _ = portaudio.Terminate() }, nil
}

// Devices lists every device with at least one input channel.
func Devices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("microphone: list devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	var out []Device
	for _, info := range infos {
		if info.MaxInputChannels < 1 {
			continue
		}
		d := Device{
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			Default:           def != nil && def.Name == info.Name,
		}
		if info.HostApi != nil {
			d.HostAPI = info.HostApi.Name
		}
		out = append(out, d)
	}
	return out, nil
}

// Opener opens PortAudio input streams. The zero value is ready to use.
type Opener struct{}

var _ audio.Opener = Opener{}

// Open starts a blocking-read input stream. An empty Device selects the system
// default input; otherwise the first input device whose name contains Device
// (case-insensitive) is used.
func (Opener) Open(cfg audio.StreamConfig) (audio.Stream, error) {
	dev, err := findInput(cfg.Device)
	if err != nil {
		return nil, err
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	if cfg.BlockSize <= 0 {
		return nil, fmt.Errorf("microphone: invalid block size %d", cfg.BlockSize)
	}

	params := portaudio.HighLatencyParameters(dev, nil)
	params.Input.Channels = channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.BlockSize

	buf := make([]int16, cfg.BlockSize*channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("microphone: open %q at %d Hz: %w", dev.Name, cfg.SampleRate, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("microphone: start %q: %w", dev.Name, err)
	}
	return &stream16{stream: stream, buf: buf}, nil
}

func findInput(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("microphone: default input: %w", err)
		}
		return dev, nil
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("microphone: list devices: %w", err)
	}
	want := strings.ToLower(name)
	for _, info := range infos {
		if info.MaxInputChannels > 0 && strings.Contains(strings.ToLower(info.Name), want) {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

// stream16 adapts a PortAudio int16 stream to [audio.Stream].
type stream16 struct {
	stream *portaudio.Stream
	buf    []int16

	closeOnce sync.Once
	closeErr  error
}

func (s *stream16) Read() ([]byte, error) {
	if err := s.stream.Read(); err != nil {
		// Input overflow means samples were lost upstream, not that the
		// device failed; the block that was read is still valid.
		if !errors.Is(err, portaudio.InputOverflowed) {
			return nil, err
		}
	}
	out := make([]byte, len(s.buf)*2)
	for i, v := range s.buf {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out, nil
}

func (s *stream16) Close() error {
	s.closeOnce.Do(func() {
		stopErr := s.stream.Stop()
		s.closeErr = errors.Join(stopErr, s.stream.Close())
	})
	return s.closeErr
}
