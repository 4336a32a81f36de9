package whisper_test

import (
	"os"
	"testing"

	"github.com/MrWong99/censorbot/pkg/provider/stt/whisper"
)

// testModelPath reads WHISPER_MODEL_PATH and skips the test when unset.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestLoadModel_EmptyPath(t *testing.T) {
	if _, err := whisper.LoadModel(""); err == nil {
		t.Fatal("expected error for empty model path")
	}
}

func TestLoadModel_InvalidPath(t *testing.T) {
	if _, err := whisper.LoadModel("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("expected error for invalid model path")
	}
}

func TestLoadModel_SilenceProducesNoFinal(t *testing.T) {
	m, err := whisper.LoadModel(testModelPath(t), whisper.WithLanguage("en"))
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	defer m.Close()

	rec, err := m.NewRecognizer(16000)
	if err != nil {
		t.Fatalf("NewRecognizer: %v", err)
	}
	defer rec.Close()

	for range 4 {
		if done, err := rec.AcceptFrame(makeSilencePCM(8000)); err != nil || done {
			t.Fatalf("AcceptFrame = (%v, %v), want (false, nil)", done, err)
		}
	}
}
