package speech

import (
	"context"
	"fmt"
	"strings"

	"github.com/voxlate/voxlate/internal/audio"
)

// MockProvider is a deterministic in-process backend for development and
// tests. Transcriptions are derived from the audio length, translations are
// tagged with the target language, and synthesis emits a short WAV tone.
type MockProvider struct {
	// Transcript overrides the derived transcription when non-empty.
	Transcript string
	// DetectedLanguage is returned by DetectLanguage. Defaults to "en".
	DetectedLanguage string
	// SampleRate for synthesized audio. Defaults to 16000.
	SampleRate int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (m *MockProvider) Transcribe(_ context.Context, audioData []byte, _ string) (string, error) {
	if m.Transcript != "" {
		return m.Transcript, nil
	}
	if len(audioData) == 0 {
		return "", nil
	}
	return fmt.Sprintf("mock transcription of %d bytes", len(audioData)), nil
}

func (m *MockProvider) DetectLanguage(_ context.Context, _ []byte) (string, error) {
	if m.DetectedLanguage != "" {
		return m.DetectedLanguage, nil
	}
	return "en", nil
}

func (m *MockProvider) Translate(_ context.Context, text, sourceLanguage, targetLanguage string) (string, error) {
	if sourceLanguage == targetLanguage {
		return text, nil
	}
	return fmt.Sprintf("[%s] %s", targetLanguage, text), nil
}

func (m *MockProvider) Synthesize(_ context.Context, text, _ string) ([]byte, error) {
	rate := m.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	// One frame of silence per word keeps output length proportional to the
	// text, which is enough for callers that assert on duration.
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	pcm := make([]byte, words*rate*30/1000*2)
	return audio.EncodeWAV(pcm, rate)
}

func (m *MockProvider) SynthesizeStream(ctx context.Context, text, language string) (<-chan []byte, <-chan error) {
	out := make(chan []byte, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		data, err := m.Synthesize(ctx, text, language)
		if err != nil {
			errCh <- err
			return
		}
		out <- data
	}()
	return out, errCh
}

func (m *MockProvider) ListVoices(_ context.Context) ([]Voice, error) {
	return []Voice{
		{ID: "mock-en", Name: "Mock English", Language: "en"},
		{ID: "mock-es", Name: "Mock Spanish", Language: "es"},
	}, nil
}
