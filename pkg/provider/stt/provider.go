// Package stt defines the speech-recognition seam of the censorbot pipeline.
//
// A [Model] is a loaded recognition engine; it is created once at startup and
// shared. A [Recognizer] is a single-stream decoder created from a Model for a
// fixed capture sample rate. The recognition stage feeds it frames in arrival
// order and fetches a [Result] whenever AcceptFrame reports an utterance
// boundary.
//
// Engines without native streaming (whisper.cpp) segment the stream with an
// energy endpointer and only ever produce [Final] results.
package stt

import "errors"

// ErrRecognition marks a failure inside the recognition engine. The recognition
// stage logs it, skips the frame and keeps going.
var ErrRecognition = errors.New("stt: recognition failed")

// Model is a loaded speech-recognition engine.
type Model interface {
	// NewRecognizer creates a decoder for mono 16-bit PCM captured at
	// sampleRate. It returns an error when the engine cannot handle the rate.
	NewRecognizer(sampleRate int) (Recognizer, error)

	// Close releases the model. Recognizers created from it must be closed
	// first.
	Close() error
}

// Recognizer decodes one continuous audio stream. It is not safe for
// concurrent use.
type Recognizer interface {
	// AcceptFrame feeds one block of PCM and reports whether an utterance
	// boundary was reached.
	AcceptFrame(pcm []byte) (bool, error)

	// Result returns the result for the audio accepted so far. After a
	// boundary it returns the finalized utterance and resets the decoder.
	Result() (Result, error)

	// Close releases per-stream resources.
	Close() error
}
