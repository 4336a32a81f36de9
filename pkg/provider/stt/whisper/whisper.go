// Package whisper provides a whisper.cpp-backed [stt.Model].
//
// whisper.cpp is a batch transcription engine, so the recognizers built here
// simulate streaming: incoming PCM is converted to 16 kHz mono, segmented into
// utterances with an energy endpointer ([audio.Endpointer]) and each completed
// utterance is transcribed in one shot. AcceptFrame reports the utterance
// boundary and Result returns a [stt.Final] result with lowercased text.
//
// Two transcription backends are available:
//
//   - [LoadModel] runs the model in-process through the CGO bindings.
//   - [NewServer] posts utterances to a running whisper-server (POST /inference).
//
// Usage:
//
//	m, err := whisper.LoadModel("models/ggml-base.en.bin", whisper.WithLanguage("en"))
//	rec, err := m.NewRecognizer(16000)
//	if done, _ := rec.AcceptFrame(pcm); done {
//	    res, err := rec.Result()
//	}
package whisper

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/censorbot/pkg/audio"
	"github.com/MrWong99/censorbot/pkg/provider/stt"
)

const (
	// SampleRate is the rate whisper.cpp models are trained on. Recognizers
	// for other capture rates resample to it.
	SampleRate = 16000

	defaultLanguage = "en"

	minSampleRate = 8000
	maxSampleRate = 192000
)

// Transcriber turns one complete utterance of 16 kHz mono 16-bit PCM into
// text. Implementations need not be safe for concurrent use.
type Transcriber interface {
	Transcribe(pcm []byte) (string, error)
	Close() error
}

type settings struct {
	language       string
	rmsThreshold   float64
	silenceMs      int
	maxUtteranceMs int

	// server backend only
	serverModel string
	httpClient  *http.Client
}

// Option is a functional option for configuring a [Model].
type Option func(*settings)

// WithLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(s *settings) { s.language = lang }
}

// WithRMSThreshold sets the energy level below which a frame counts as
// silence. Defaults to [audio.DefaultRMSThreshold].
func WithRMSThreshold(v float64) Option {
	return func(s *settings) { s.rmsThreshold = v }
}

// WithSilenceMs sets the trailing-silence duration that ends an utterance.
// Defaults to 500 ms.
func WithSilenceMs(ms int) Option {
	return func(s *settings) { s.silenceMs = ms }
}

// WithMaxUtteranceMs caps the buffered utterance length. Defaults to 10 s.
func WithMaxUtteranceMs(ms int) Option {
	return func(s *settings) { s.maxUtteranceMs = ms }
}

// WithServerModel sets the model identifier forwarded to a whisper-server
// (e.g., "base.en"). Ignored by the in-process backend.
func WithServerModel(model string) Option {
	return func(s *settings) { s.serverModel = model }
}

// WithHTTPClient overrides the HTTP client used by the server backend.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

func newSettings(opts []Option) settings {
	s := settings{
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(&s)
	}
	return s
}

// Model implements [stt.Model] on top of a [Transcriber].
type Model struct {
	tr Transcriber
	s  settings
}

var _ stt.Model = (*Model)(nil)

// New wraps an arbitrary Transcriber. [LoadModel] and [NewServer] are the
// usual constructors.
func New(tr Transcriber, opts ...Option) *Model {
	return &Model{tr: tr, s: newSettings(opts)}
}

// NewRecognizer creates a recognizer for mono PCM at sampleRate.
func (m *Model) NewRecognizer(sampleRate int) (stt.Recognizer, error) {
	if sampleRate < minSampleRate || sampleRate > maxSampleRate {
		return nil, fmt.Errorf("whisper: unsupported sample rate %d Hz", sampleRate)
	}
	r := &recognizer{
		tr:   m.tr,
		rate: sampleRate,
		ep: audio.NewEndpointer(audio.EndpointConfig{
			SampleRate:     SampleRate,
			Channels:       1,
			RMSThreshold:   m.s.rmsThreshold,
			SilenceMs:      m.s.silenceMs,
			MaxUtteranceMs: m.s.maxUtteranceMs,
		}),
	}
	if sampleRate != SampleRate {
		r.conv = &audio.FormatConverter{Target: audio.Format{SampleRate: SampleRate, Channels: 1}}
	}
	return r, nil
}

// Close releases the transcription backend.
func (m *Model) Close() error {
	if m.tr == nil {
		return nil
	}
	return m.tr.Close()
}

var errClosed = errors.New("whisper: recognizer is closed")

// recognizer is a single-stream decoder. All state is confined to the caller's
// goroutine.
type recognizer struct {
	tr   Transcriber
	rate int
	conv *audio.FormatConverter
	ep   *audio.Endpointer

	ready  bool
	closed bool
}

var _ stt.Recognizer = (*recognizer)(nil)

func (r *recognizer) AcceptFrame(pcm []byte) (bool, error) {
	if r.closed {
		return false, errClosed
	}
	data := pcm
	if r.conv != nil {
		f, err := r.conv.Convert(audio.AudioFrame{Data: pcm, SampleRate: r.rate, Channels: 1})
		if err != nil {
			return false, fmt.Errorf("whisper: %w: %w", stt.ErrRecognition, err)
		}
		data = f.Data
	}
	if r.ep.Feed(data) {
		r.ready = true
	}
	return r.ready, nil
}

func (r *recognizer) Result() (stt.Result, error) {
	if r.closed {
		return stt.Result{}, errClosed
	}
	if !r.ready {
		return stt.Result{Kind: stt.Partial}, nil
	}
	r.ready = false

	pcm := r.ep.Take()
	if pcm == nil {
		return stt.Result{Kind: stt.Final}, nil
	}
	dur := time.Duration(audio.DurationMs(pcm, SampleRate, 1)) * time.Millisecond

	text, err := r.tr.Transcribe(pcm)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w: %w", stt.ErrRecognition, err)
	}
	return stt.Result{Kind: stt.Final, Text: normalize(text), Duration: dur}, nil
}

func (r *recognizer) Close() error {
	r.closed = true
	r.ep.Reset()
	return nil
}

// normalize lowercases text and strips whisper's non-speech annotations such
// as "[BLANK_AUDIO]" or "(laughs)".
func normalize(text string) string {
	var b strings.Builder
	depth := 0
	for _, r := range text {
		switch r {
		case '[', '(':
			depth++
			continue
		case ']', ')':
			if depth > 0 {
				depth--
				continue
			}
		}
		if depth == 0 {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
