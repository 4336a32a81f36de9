package stt

import "time"

// ResultKind distinguishes interim from finalized recognition output.
type ResultKind int

const (
	// Partial is an interim hypothesis that may still change.
	Partial ResultKind = iota

	// Final is a committed utterance. Only Final results are matched for
	// profanity.
	Final
)

// String returns the human-readable name of the kind.
func (k ResultKind) String() string {
	switch k {
	case Partial:
		return "partial"
	case Final:
		return "final"
	default:
		return "unknown"
	}
}

// Result is a recognition output.
type Result struct {
	Kind ResultKind

	// Text is the recognized speech, lowercased. May be empty.
	Text string

	// Duration is the length of the audio the result covers.
	Duration time.Duration
}

// IsFinal reports whether r is a Final result.
func (r Result) IsFinal() bool { return r.Kind == Final }
