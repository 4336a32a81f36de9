// This file contains the in-process backend built on the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.

package whisper

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/censorbot/pkg/audio"
)

// LoadModel loads a ggml whisper model from path. It fails when the path is
// empty, missing or not a valid model file. The caller must Close the model.
func LoadModel(path string, opts ...Option) (*Model, error) {
	tr, err := OpenNative(path, opts...)
	if err != nil {
		return nil, err
	}
	return New(tr, opts...), nil
}

// OpenNative loads the model at path as a bare [Transcriber], for callers that
// compose backends themselves.
func OpenNative(path string, opts ...Option) (Transcriber, error) {
	if path == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	model, err := whisperlib.New(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", path, err)
	}
	return &nativeTranscriber{model: model, language: newSettings(opts).language}, nil
}

type nativeTranscriber struct {
	model    whisperlib.Model
	language string
}

// Transcribe runs inference with a fresh context. Contexts are not
// thread-safe; the model is.
func (n *nativeTranscriber) Transcribe(pcm []byte) (string, error) {
	wctx, err := n.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create context: %w", err)
	}
	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", n.language, "err", err)
	}
	if err := wctx.Process(audio.PCMToFloat32(pcm), nil, nil, nil); err != nil {
		return "", fmt.Errorf("process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

func (n *nativeTranscriber) Close() error {
	if n.model == nil {
		return nil
	}
	return n.model.Close()
}
