package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/censorbot/pkg/provider/stt/whisper"
)

// TranscriberFallback implements [whisper.Transcriber] with failover across
// several transcription backends, typically the in-process model first and a
// whisper-server second.
type TranscriberFallback struct {
	group *FallbackGroup[whisper.Transcriber]
}

var _ whisper.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a fallback with primary as the preferred
// backend.
func NewTranscriberFallback(primaryName string, primary whisper.Transcriber, cfg CircuitBreakerConfig) *TranscriberFallback {
	return &TranscriberFallback{group: NewFallbackGroup(primaryName, primary, cfg)}
}

// AddFallback registers another backend.
func (f *TranscriberFallback) AddFallback(name string, tr whisper.Transcriber) {
	f.group.Add(name, tr)
}

// Transcribe runs the utterance through the first healthy backend.
func (f *TranscriberFallback) Transcribe(pcm []byte) (string, error) {
	return Do(context.Background(), f.group, func(_ context.Context, tr whisper.Transcriber) (string, error) {
		return tr.Transcribe(pcm)
	})
}

// Close closes every backend.
func (f *TranscriberFallback) Close() error {
	var errs []error
	for _, e := range f.group.entries {
		errs = append(errs, e.value.Close())
	}
	return errors.Join(errs...)
}
