package whisper_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/censorbot/pkg/provider/stt"
	"github.com/MrWong99/censorbot/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// fakeTranscriber returns scripted text and records every utterance.
type fakeTranscriber struct {
	text   string
	err    error
	calls  [][]byte
	closed int
}

func (f *fakeTranscriber) Transcribe(pcm []byte) (string, error) {
	f.calls = append(f.calls, pcm)
	return f.text, f.err
}

func (f *fakeTranscriber) Close() error {
	f.closed++
	return nil
}

// makeSpeechPCM generates a 440 Hz tone whose RMS is well above the default
// silence threshold.
func makeSpeechPCM(samples, rate int) []byte {
	const amplitude = 10_000.0
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func makeSilencePCM(samples int) []byte {
	return make([]byte, samples*2)
}

func newRecognizer(t *testing.T, tr whisper.Transcriber, rate int, opts ...whisper.Option) stt.Recognizer {
	t.Helper()
	rec, err := whisper.New(tr, opts...).NewRecognizer(rate)
	if err != nil {
		t.Fatalf("NewRecognizer: %v", err)
	}
	t.Cleanup(func() { _ = rec.Close() })
	return rec
}

// ---- tests ------------------------------------------------------------------

func TestNewRecognizer_UnsupportedRate(t *testing.T) {
	m := whisper.New(&fakeTranscriber{})
	for _, rate := range []int{0, -1, 4000, 400000} {
		if _, err := m.NewRecognizer(rate); err == nil {
			t.Errorf("NewRecognizer(%d): expected error", rate)
		}
	}
}

func TestSilenceAloneDoesNotTriggerInference(t *testing.T) {
	tr := &fakeTranscriber{text: "never"}
	rec := newRecognizer(t, tr, 16000)
	for range 10 {
		done, err := rec.AcceptFrame(makeSilencePCM(1600))
		if err != nil {
			t.Fatalf("AcceptFrame: %v", err)
		}
		if done {
			t.Fatal("silence reported an utterance boundary")
		}
	}
	res, err := rec.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res.IsFinal() || res.Text != "" {
		t.Errorf("Result = %+v, want empty partial", res)
	}
	if len(tr.calls) != 0 {
		t.Errorf("transcriber called %d times, want 0", len(tr.calls))
	}
}

func TestSpeechFollowedBySilenceYieldsFinal(t *testing.T) {
	tr := &fakeTranscriber{text: " Well, DAMN. "}
	rec := newRecognizer(t, tr, 16000, whisper.WithSilenceMs(300))

	if done, _ := rec.AcceptFrame(makeSpeechPCM(8000, 16000)); done {
		t.Fatal("boundary reported during speech")
	}
	var done bool
	for range 3 {
		var err error
		done, err = rec.AcceptFrame(makeSilencePCM(1600))
		if err != nil {
			t.Fatalf("AcceptFrame: %v", err)
		}
	}
	if !done {
		t.Fatal("no boundary after 300ms of trailing silence")
	}

	res, err := rec.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res.Kind != stt.Final {
		t.Errorf("Kind = %v, want final", res.Kind)
	}
	if res.Text != "well, damn." {
		t.Errorf("Text = %q, want %q", res.Text, "well, damn.")
	}
	if len(tr.calls) != 1 {
		t.Fatalf("transcriber called %d times, want 1", len(tr.calls))
	}
	// 0.5 s speech + 0.3 s silence at 16 kHz.
	if got, want := len(tr.calls[0]), (8000+4800)*2; got != want {
		t.Errorf("utterance = %d bytes, want %d", got, want)
	}

	// The decoder resets after a final.
	res, _ = rec.Result()
	if res.IsFinal() {
		t.Error("second Result without new audio returned a final")
	}
}

func TestMaxUtteranceForcesBoundary(t *testing.T) {
	tr := &fakeTranscriber{text: "long"}
	rec := newRecognizer(t, tr, 16000, whisper.WithMaxUtteranceMs(1000))
	var done bool
	for i := 0; i < 2 && !done; i++ {
		done, _ = rec.AcceptFrame(makeSpeechPCM(8000, 16000))
	}
	if !done {
		t.Fatal("continuous speech not cut at the utterance cap")
	}
}

func TestTranscriberErrorIsRecognitionError(t *testing.T) {
	tr := &fakeTranscriber{err: errors.New("gpu on fire")}
	rec := newRecognizer(t, tr, 16000, whisper.WithSilenceMs(100))
	rec.AcceptFrame(makeSpeechPCM(1600, 16000))
	if done, _ := rec.AcceptFrame(makeSilencePCM(1600)); !done {
		t.Fatal("expected boundary")
	}
	_, err := rec.Result()
	if !errors.Is(err, stt.ErrRecognition) {
		t.Fatalf("Result err = %v, want ErrRecognition", err)
	}
}

func TestResamplesNon16kCapture(t *testing.T) {
	tr := &fakeTranscriber{text: "hello"}
	rec := newRecognizer(t, tr, 48000, whisper.WithSilenceMs(200))
	rec.AcceptFrame(makeSpeechPCM(48000, 48000))
	var done bool
	for i := 0; i < 8 && !done; i++ {
		done, _ = rec.AcceptFrame(makeSilencePCM(4800))
	}
	if !done {
		t.Fatal("expected boundary")
	}
	if _, err := rec.Result(); err != nil {
		t.Fatalf("Result: %v", err)
	}
	// One second of speech plus trailing silence, at 16 kHz rather than 48 kHz.
	n := len(tr.calls[0]) / 2
	if n < 14000 || n > 30000 {
		t.Errorf("utterance has %d samples, want 16 kHz worth", n)
	}
}

func TestNormalizeStripsAnnotations(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"[BLANK_AUDIO]", ""},
		{"Oh (laughs) HELL no", "oh hell no"},
		{"  Hello   World ", "hello world"},
	}
	for _, tt := range tests {
		tr := &fakeTranscriber{text: tt.in}
		rec := newRecognizer(t, tr, 16000, whisper.WithSilenceMs(100))
		rec.AcceptFrame(makeSpeechPCM(1600, 16000))
		rec.AcceptFrame(makeSilencePCM(1600))
		res, err := rec.Result()
		if err != nil {
			t.Fatalf("Result: %v", err)
		}
		if res.Text != tt.want {
			t.Errorf("normalize(%q) = %q, want %q", tt.in, res.Text, tt.want)
		}
	}
}

func TestClosedRecognizerRejectsFrames(t *testing.T) {
	rec, err := whisper.New(&fakeTranscriber{}).NewRecognizer(16000)
	if err != nil {
		t.Fatalf("NewRecognizer: %v", err)
	}
	_ = rec.Close()
	if _, err := rec.AcceptFrame(makeSpeechPCM(160, 16000)); err == nil {
		t.Error("AcceptFrame after Close: expected error")
	}
}

func TestModelCloseClosesTranscriber(t *testing.T) {
	tr := &fakeTranscriber{}
	if err := whisper.New(tr).Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tr.closed != 1 {
		t.Errorf("transcriber closed %d times, want 1", tr.closed)
	}
}
