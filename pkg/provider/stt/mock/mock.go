// Package mock provides test doubles for the stt package interfaces.
//
// Use Model to verify the sample rate a recognizer is created with. Use
// Recognizer to script utterance boundaries and results and to inspect which
// frames were delivered.
//
// Example:
//
//	rec := &mock.Recognizer{
//	    Results: []stt.Result{{Kind: stt.Final, Text: "well damn"}},
//	}
//	m := &mock.Model{Recognizer: rec}
//	r, _ := m.NewRecognizer(16000)
package mock

import (
	"sync"

	"github.com/MrWong99/censorbot/pkg/provider/stt"
)

// Model is a mock implementation of stt.Model.
type Model struct {
	mu sync.Mutex

	// Recognizer is returned by NewRecognizer. If nil, a default Recognizer
	// is created.
	Recognizer *Recognizer

	// NewRecognizerErr, if non-nil, is returned by NewRecognizer.
	NewRecognizerErr error

	// NewRecognizerCalls records the sample rate of every NewRecognizer call.
	NewRecognizerCalls []int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewRecognizer records the call and returns Recognizer, NewRecognizerErr.
func (m *Model) NewRecognizer(sampleRate int) (stt.Recognizer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NewRecognizerCalls = append(m.NewRecognizerCalls, sampleRate)
	if m.NewRecognizerErr != nil {
		return nil, m.NewRecognizerErr
	}
	if m.Recognizer == nil {
		m.Recognizer = &Recognizer{}
	}
	return m.Recognizer, nil
}

// Close records the call.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCallCount++
	return nil
}

// Ensure Model implements stt.Model at compile time.
var _ stt.Model = (*Model)(nil)

// Recognizer is a mock implementation of stt.Recognizer.
//
// By default every frame is a boundary and Result pops the next entry from
// Results, returning an empty Final once Results is exhausted.
type Recognizer struct {
	mu sync.Mutex

	// AcceptFunc, if set, decides the return value of AcceptFrame.
	AcceptFunc func(pcm []byte) (bool, error)

	// Results are returned by successive Result calls.
	Results []stt.Result

	// ResultErr, if non-nil, is returned by every Result call.
	ResultErr error

	// --- Call records ---

	// Frames holds a copy of every chunk passed to AcceptFrame, in order.
	Frames [][]byte

	// ResultCallCount is the number of times Result was called.
	ResultCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// AcceptFrame records the frame and consults AcceptFunc.
func (r *Recognizer) AcceptFrame(pcm []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	r.Frames = append(r.Frames, cp)
	if r.AcceptFunc != nil {
		return r.AcceptFunc(pcm)
	}
	return true, nil
}

// Result records the call and returns the next scripted result.
func (r *Recognizer) Result() (stt.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResultCallCount++
	if r.ResultErr != nil {
		return stt.Result{}, r.ResultErr
	}
	if len(r.Results) == 0 {
		return stt.Result{Kind: stt.Final}, nil
	}
	res := r.Results[0]
	r.Results = r.Results[1:]
	return res, nil
}

// Close records the call.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CloseCallCount++
	return nil
}

// FrameCount returns the number of AcceptFrame calls. Thread-safe.
func (r *Recognizer) FrameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Frames)
}

// Ensure Recognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*Recognizer)(nil)
