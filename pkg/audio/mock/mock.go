// Package mock provides in-memory implementations of [audio.Opener] and
// [audio.Stream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on call counts and arguments.
//
// Typical usage:
//
//	stream := &mock.Stream{Frames: [][]byte{pcmA, pcmB}}
//	opener := &mock.Opener{Stream: stream}
//	src := audio.NewSource(opener, audio.StreamConfig{SampleRate: 16000})
package mock

import (
	"errors"
	"sync"

	"github.com/MrWong99/censorbot/pkg/audio"
)

// ErrExhausted is returned by [Stream.Read] after all scripted frames were
// delivered when Block is false.
var ErrExhausted = errors.New("mock: stream exhausted")

// ─── Opener ──────────────────────────────────────────────────────────────────

// Opener is a mock implementation of [audio.Opener].
type Opener struct {
	mu sync.Mutex

	// Stream is returned by Open. If nil, an empty blocking Stream is created.
	Stream *Stream

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls records the config of every Open call.
	OpenCalls []audio.StreamConfig
}

// Open records the call and returns Stream or OpenErr.
func (o *Opener) Open(cfg audio.StreamConfig) (audio.Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.OpenCalls = append(o.OpenCalls, cfg)
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	if o.Stream == nil {
		o.Stream = &Stream{Block: true}
	}
	return o.Stream, nil
}

var _ audio.Opener = (*Opener)(nil)

// ─── Stream ──────────────────────────────────────────────────────────────────

// Stream is a scripted [audio.Stream]. Read returns Frames in order, then
// either ReadErr (if set), blocks until Close (if Block), or returns
// [ErrExhausted].
type Stream struct {
	mu sync.Mutex

	// Frames are delivered by successive Read calls.
	Frames [][]byte

	// ReadErr, if non-nil, is returned once Frames are exhausted.
	ReadErr error

	// Block makes Read wait for Close after Frames are exhausted.
	Block bool

	// ReadCount is the number of Read calls that returned data.
	ReadCount int

	// CloseCount is the number of Close calls.
	CloseCount int

	closed chan struct{}
	once   sync.Once
}

func (s *Stream) init() {
	s.once.Do(func() { s.closed = make(chan struct{}) })
}

// Read returns the next scripted frame.
func (s *Stream) Read() ([]byte, error) {
	s.init()
	s.mu.Lock()
	if len(s.Frames) > 0 {
		f := s.Frames[0]
		s.Frames = s.Frames[1:]
		s.ReadCount++
		s.mu.Unlock()
		return f, nil
	}
	readErr, block := s.ReadErr, s.Block
	s.mu.Unlock()

	if readErr != nil {
		return nil, readErr
	}
	if block {
		<-s.closed
		return nil, errors.New("mock: stream closed")
	}
	return nil, ErrExhausted
}

// Close records the call and unblocks pending reads.
func (s *Stream) Close() error {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CloseCount == 0 {
		close(s.closed)
	}
	s.CloseCount++
	return nil
}

// Closes returns how many times Close was called.
func (s *Stream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCount
}

var _ audio.Stream = (*Stream)(nil)
